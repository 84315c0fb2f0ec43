package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"arena-service/internal/app"
	"arena-service/internal/config"
	"arena-service/internal/domain"
	redisinfra "arena-service/internal/infra/redis"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewSweepCmd closes expired sessions once and exits, for cron-style use
// alongside (or instead of) the in-process sweeper.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close expired sessions and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("sweep requires a redis session store")
			}
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			store := redisinfra.NewSessionStore(client)

			// The sweep only needs the store; awards never happen on expiry.
			engine := app.NewSessionEngine(store, noopLedger{}, app.NewBroadcaster(), app.DefaultScoring, logger)
			closed, err := engine.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("sweep finished", slog.Int("closed", closed))
			return nil
		},
	}
}

type noopLedger struct{}

func (noopLedger) Award(_ context.Context, _, _ string, _ int, _, _ string) (domain.AwardOutcome, error) {
	return domain.AwardOutcome{}, nil
}

func (noopLedger) GetProfile(_ context.Context, _, _ string) (domain.Profile, error) {
	return domain.Profile{}, domain.ErrProfileNotFound
}

func (noopLedger) Leaderboard(_ context.Context, _ string, _ int) ([]domain.Profile, error) {
	return nil, nil
}

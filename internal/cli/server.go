package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena-service/internal/app"
	"arena-service/internal/config"
	memoryinfra "arena-service/internal/infra/memory"
	pginfra "arena-service/internal/infra/postgres"
	redisinfra "arena-service/internal/infra/redis"
	transport "arena-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewServeCmd builds the CLI subcommand to start the engine.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the contest engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var store app.SessionStore
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient)
	} else {
		store = memoryinfra.NewSessionStore()
	}

	thresholds := cfg.Levels
	if len(thresholds) == 0 {
		thresholds = app.DefaultLevelThresholds
	}

	var ledger app.Ledger
	var engineOpts []app.EngineOption
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		ledger = pginfra.NewLedger(pool, thresholds)

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB := bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()
		engineOpts = append(engineOpts, app.WithArchiver(pginfra.NewArchive(bunDB)))
	} else {
		ledger = memoryinfra.NewLedger(thresholds)
	}

	leaderboardTTL := config.Duration(cfg.Leaderboard.TTL, 30*time.Second)
	if redisClient != nil {
		ledger = redisinfra.NewLeaderboardCache(ledger, redisClient, leaderboardTTL)
	} else {
		ledger = memoryinfra.NewLeaderboardCache(ledger, leaderboardTTL)
	}

	engineOpts = append(engineOpts,
		app.WithDefaultDuration(config.Duration(cfg.Session.DefaultDuration, 30*time.Second)))

	events := app.NewBroadcaster()
	engine := app.NewSessionEngine(store, ledger, events, app.ScoringConfig{
		BasePoints:        cfg.Scoring.BasePoints,
		MaxPoints:         cfg.Scoring.MaxPoints,
		FirstCorrectBonus: cfg.Scoring.FirstCorrectBonus,
		ClickAward:        cfg.Scoring.ClickAward,
	}, logger, engineOpts...)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweeper(sweepCtx, engine, config.Duration(cfg.Sweep.Interval, 5*time.Second), logger)

	wsHandler := transport.NewWSHandler(engine, events, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting arena service", slog.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runSweeper periodically closes open sessions whose deadline has passed.
// The sweep and live submits race through the same guarded transition, so
// running several instances is safe.
func runSweeper(ctx context.Context, engine *app.SessionEngine, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.SweepExpired(ctx); err != nil {
				logger.Warn("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

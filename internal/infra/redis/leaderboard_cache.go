package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"arena-service/internal/app"
	"arena-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// LeaderboardCache caches leaderboard pages in Redis (one JSON blob per
// guild/limit pair) in front of the SQL ledger, so every engine instance
// shares one warm copy. Cache misses collapse through singleflight.
type LeaderboardCache struct {
	app.Ledger

	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewLeaderboardCache(ledger app.Ledger, client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		Ledger: ledger,
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) Award(ctx context.Context, guildID, userID string, amount int, reason, sourceRef string) (domain.AwardOutcome, error) {
	outcome, err := c.Ledger.Award(ctx, guildID, userID, amount, reason, sourceRef)
	if err == nil {
		c.invalidate(ctx, guildID)
	}
	return outcome, err
}

func (c *LeaderboardCache) Leaderboard(ctx context.Context, guildID string, limit int) ([]domain.Profile, error) {
	key := c.key(guildID, limit)

	if payload, err := c.client.Get(ctx, key).Result(); err == nil {
		var profiles []domain.Profile
		if err := json.Unmarshal([]byte(payload), &profiles); err == nil {
			return profiles, nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if payload, err := c.client.Get(ctx, key).Result(); err == nil {
			var profiles []domain.Profile
			if err := json.Unmarshal([]byte(payload), &profiles); err == nil {
				return profiles, nil
			}
		}

		profiles, err := c.Ledger.Leaderboard(ctx, guildID, limit)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(profiles); err == nil {
			_ = c.client.Set(ctx, key, payload, c.ttlWithJitter()).Err()
		}
		return profiles, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Profile), nil
}

func (c *LeaderboardCache) invalidate(ctx context.Context, guildID string) {
	iter := c.client.Scan(ctx, 0, "arena:leaderboard:"+guildID+":*", 64).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
}

func (c *LeaderboardCache) key(guildID string, limit int) string {
	return "arena:leaderboard:" + guildID + ":" + strconv.Itoa(limit)
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// Singleflight only serializes per key; fills for different guilds
	// run concurrently, so the generator needs its own lock.
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	jitter := c.rnd.Int63n(jitterMax + 1)
	c.rndMu.Unlock()
	return c.ttl + time.Duration(jitter)
}

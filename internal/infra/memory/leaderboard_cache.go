package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"arena-service/internal/app"
	"arena-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// LeaderboardCache wraps a Ledger and caches leaderboard reads with a TTL,
// so a busy channel spamming the standings command does not hammer the
// database. Writes pass through and drop the guild's cached pages.
type LeaderboardCache struct {
	app.Ledger

	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBoard
}

type cachedBoard struct {
	profiles  []domain.Profile
	expiresAt time.Time
}

func NewLeaderboardCache(ledger app.Ledger, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		Ledger: ledger,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBoard),
	}
}

func (c *LeaderboardCache) Award(ctx context.Context, guildID, userID string, amount int, reason, sourceRef string) (domain.AwardOutcome, error) {
	outcome, err := c.Ledger.Award(ctx, guildID, userID, amount, reason, sourceRef)
	if err == nil {
		c.invalidate(guildID)
	}
	return outcome, err
}

func (c *LeaderboardCache) Leaderboard(ctx context.Context, guildID string, limit int) ([]domain.Profile, error) {
	key := guildID + ":" + strconv.Itoa(limit)
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.profiles, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.profiles, nil
		}
		c.mu.RUnlock()

		profiles, err := c.Ledger.Leaderboard(ctx, guildID, limit)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[key] = cachedBoard{
			profiles:  profiles,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return profiles, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Profile), nil
}

func (c *LeaderboardCache) invalidate(guildID string) {
	prefix := guildID + ":"
	c.mu.Lock()
	for key := range c.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.cache, key)
		}
	}
	c.mu.Unlock()
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

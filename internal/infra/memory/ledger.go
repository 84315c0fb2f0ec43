package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"arena-service/internal/app"
	"arena-service/internal/domain"
)

const winStreakWindow = 24 * time.Hour

// Ledger is an in-memory implementation of app.Ledger, used in tests and
// when no Postgres is configured. All mutation happens under one mutex so
// increments are atomic the same way the SQL implementation's are.
type Ledger struct {
	mu         sync.RWMutex
	thresholds []int
	clock      func() time.Time
	profiles   map[string]map[string]*profileRecord
	seq        int
}

type profileRecord struct {
	profile domain.Profile
	seq     int
}

func NewLedger(thresholds []int) *Ledger {
	return &Ledger{
		thresholds: thresholds,
		clock:      time.Now,
		profiles:   make(map[string]map[string]*profileRecord),
	}
}

// NewLedgerWithClock is test-only for deterministic streak timestamps.
func NewLedgerWithClock(thresholds []int, clock func() time.Time) *Ledger {
	l := NewLedger(thresholds)
	l.clock = clock
	return l
}

func (l *Ledger) Award(_ context.Context, guildID, userID string, amount int, reason, sourceRef string) (domain.AwardOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byUser, ok := l.profiles[guildID]
	if !ok {
		byUser = make(map[string]*profileRecord)
		l.profiles[guildID] = byUser
	}
	rec, ok := byUser[userID]
	if !ok {
		l.seq++
		rec = &profileRecord{
			profile: domain.Profile{GuildID: guildID, UserID: userID},
			seq:     l.seq,
		}
		byUser[userID] = rec
	}

	now := l.clock()
	before := rec.profile.Points
	rec.profile.Points += amount
	rec.profile.History = append(rec.profile.History, domain.HistoryEntry{
		Amount:    amount,
		Reason:    reason,
		SourceRef: sourceRef,
		At:        now,
	})
	if reason == domain.ReasonClickWin || reason == domain.ReasonQuizFirst {
		// Strict: a win at exactly the window boundary resets, matching the
		// SQL ledger's last_win_at > now() - window comparison.
		if !rec.profile.LastWinAt.IsZero() && now.Sub(rec.profile.LastWinAt) < winStreakWindow {
			rec.profile.Streak++
		} else {
			rec.profile.Streak = 1
		}
		rec.profile.LastWinAt = now
	}
	rec.profile.Level = app.LevelFor(l.thresholds, rec.profile.Points)

	outcome := domain.AwardOutcome{
		Profile:   l.snapshotLocked(rec),
		LeveledUp: rec.profile.Level > app.LevelFor(l.thresholds, before),
	}
	return outcome, nil
}

func (l *Ledger) GetProfile(_ context.Context, guildID, userID string) (domain.Profile, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.profiles[guildID][userID]
	if !ok {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	profile := l.snapshotLocked(rec)
	profile.Rank = 1
	for _, other := range l.profiles[guildID] {
		if other.profile.Points > rec.profile.Points {
			profile.Rank++
		}
	}
	return profile, nil
}

func (l *Ledger) Leaderboard(_ context.Context, guildID string, limit int) ([]domain.Profile, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := make([]*profileRecord, 0, len(l.profiles[guildID]))
	for _, rec := range l.profiles[guildID] {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].profile.Points != records[j].profile.Points {
			return records[i].profile.Points > records[j].profile.Points
		}
		// Ties keep insertion order.
		return records[i].seq < records[j].seq
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	out := make([]domain.Profile, 0, len(records))
	for i, rec := range records {
		profile := l.snapshotLocked(rec)
		profile.Rank = i + 1
		out = append(out, profile)
	}
	return out, nil
}

func (l *Ledger) snapshotLocked(rec *profileRecord) domain.Profile {
	profile := rec.profile
	profile.History = append([]domain.HistoryEntry(nil), rec.profile.History...)
	return profile
}

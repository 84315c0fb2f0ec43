package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"arena-service/internal/app"
	"arena-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// SessionStore is the Redis implementation of app.SessionStore. The layout:
//
//	arena:session:{id}    - hash: "body" (immutable JSON) + one field per
//	                        mutable transition field (status, winner, ...)
//	arena:open:{gld/chn}  - the open session ID for a channel (SET NX guard)
//	arena:responses:{id}  - hash: userID -> response JSON (HSETNX guard)
//	arena:summary:{id}    - reveal summary JSON
//	arena:open_sessions   - set of open session IDs, feeds the sweep
//
// Every guarded transition runs through one Lua script so the precondition
// check and the write are a single atomic step, shared by any number of
// engine processes.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// transitionScript checks each precondition pair against the session hash
// and applies the set pairs only if all hold. When the transition takes the
// session out of "open" it also releases the channel guard and the sweep
// set. Returns -1 when the session hash is missing, 0 on a lost race.
var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local nif = tonumber(ARGV[2])
local idx = 3
for i = 1, nif do
  local cur = redis.call('HGET', KEYS[1], ARGV[idx])
  if cur == false then cur = '' end
  if cur ~= ARGV[idx+1] then return 0 end
  idx = idx + 2
end
local wasopen = redis.call('HGET', KEYS[1], 'status') == 'open'
while idx + 1 <= #ARGV do
  redis.call('HSET', KEYS[1], ARGV[idx], ARGV[idx+1])
  idx = idx + 2
end
if wasopen and redis.call('HGET', KEYS[1], 'status') ~= 'open' then
  if redis.call('GET', KEYS[2]) == ARGV[1] then
    redis.call('DEL', KEYS[2])
  end
  redis.call('SREM', KEYS[3], ARGV[1])
end
return 1
`)

const (
	sessionKeyPrefix  = "arena:session:"
	openKeyPrefix     = "arena:open:"
	responseKeyPrefix = "arena:responses:"
	summaryKeyPrefix  = "arena:summary:"
	openSetKey        = "arena:open_sessions"

	// slack past the contest deadline before a crashed process's channel
	// guard falls off on its own
	openGuardSlack = 5 * time.Minute
)

func sessionKey(sessionID string) string   { return sessionKeyPrefix + sessionID }
func openKey(guildID, chID string) string  { return openKeyPrefix + guildID + "/" + chID }
func responsesKey(sessionID string) string { return responseKeyPrefix + sessionID }
func summaryKey(sessionID string) string   { return summaryKeyPrefix + sessionID }

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	guardTTL := time.Until(session.ExpiresAt) + openGuardSlack
	if guardTTL < openGuardSlack {
		guardTTL = openGuardSlack
	}
	ok, err := s.client.SetNX(ctx, openKey(session.GuildID, session.ChannelID), session.ID, guardTTL).Result()
	if err != nil {
		return fmt.Errorf("channel guard: %w", err)
	}
	if !ok {
		return domain.ErrSessionActive
	}

	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(session.ID),
		"body", body,
		app.FieldStatus, string(domain.StatusOpen))
	pipe.SAdd(ctx, openSetKey, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sessionFromHash(fields)
}

func sessionFromHash(fields map[string]string) (domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal([]byte(fields["body"]), &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	for _, field := range []string{app.FieldStatus, app.FieldCloseReason, app.FieldWinner, app.FieldFirstCorrect, app.FieldRevealedAt} {
		if value, ok := fields[field]; ok && value != "" {
			app.SetField(&session, field, value)
		}
	}
	return session, nil
}

func (s *SessionStore) AddResponse(ctx context.Context, response domain.Response) error {
	exists, err := s.client.Exists(ctx, sessionKey(response.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	inserted, err := s.client.HSetNX(ctx, responsesKey(response.SessionID), response.UserID, payload).Result()
	if err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	if !inserted {
		return domain.ErrAlreadyAnswered
	}
	return nil
}

func (s *SessionStore) Apply(ctx context.Context, sessionID string, tr app.Transition) (bool, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}

	args := []interface{}{sessionID, len(tr.If)}
	for field, expected := range tr.If {
		args = append(args, field, expected)
	}
	for field, value := range tr.Set {
		args = append(args, field, value)
	}
	keys := []string{
		sessionKey(sessionID),
		openKey(session.GuildID, session.ChannelID),
		openSetKey,
	}
	result, err := transitionScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("transition: %w", err)
	}
	switch result {
	case -1:
		return false, domain.ErrSessionNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (s *SessionStore) Responses(ctx context.Context, sessionID string) ([]domain.Response, error) {
	raw, err := s.client.HGetAll(ctx, responsesKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	out := make([]domain.Response, 0, len(raw))
	for _, payload := range raw {
		var response domain.Response
		if err := json.Unmarshal([]byte(payload), &response); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		out = append(out, response)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *SessionStore) OpenSessions(ctx context.Context) ([]domain.Session, error) {
	ids, err := s.client.SMembers(ctx, openSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// stale sweep entry
			_ = s.client.SRem(ctx, openSetKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *SessionStore) SaveSummary(ctx context.Context, sessionID string, summary domain.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := s.client.Set(ctx, summaryKey(sessionID), payload, 0).Err(); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

func (s *SessionStore) LoadSummary(ctx context.Context, sessionID string) (domain.Summary, bool, error) {
	payload, err := s.client.Get(ctx, summaryKey(sessionID)).Result()
	if err == redis.Nil {
		return domain.Summary{}, false, nil
	}
	if err != nil {
		return domain.Summary{}, false, fmt.Errorf("load summary: %w", err)
	}
	var summary domain.Summary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return domain.Summary{}, false, fmt.Errorf("unmarshal summary: %w", err)
	}
	return summary, true, nil
}

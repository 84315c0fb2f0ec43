package memory

import (
	"context"
	"sync"

	"arena-service/internal/app"
	"arena-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. A single
// mutex stands in for the document store's conditional-update primitives,
// which keeps the guarded-transition semantics identical to the Redis store.
type SessionStore struct {
	mu            sync.RWMutex
	sessions      map[string]domain.Session
	responses     map[string]map[string]domain.Response
	responseOrder map[string][]string
	openByChannel map[string]string
	summaries     map[string]domain.Summary
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:      make(map[string]domain.Session),
		responses:     make(map[string]map[string]domain.Response),
		responseOrder: make(map[string][]string),
		openByChannel: make(map[string]string),
		summaries:     make(map[string]domain.Summary),
	}
}

func channelKey(guildID, channelID string) string {
	return guildID + "/" + channelID
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := channelKey(session.GuildID, session.ChannelID)
	if openID, ok := s.openByChannel[key]; ok {
		if existing, ok := s.sessions[openID]; ok && existing.Status == domain.StatusOpen {
			return domain.ErrSessionActive
		}
	}
	s.sessions[session.ID] = session
	s.openByChannel[key] = session.ID
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) AddResponse(_ context.Context, response domain.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[response.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	byUser, ok := s.responses[response.SessionID]
	if !ok {
		byUser = make(map[string]domain.Response)
		s.responses[response.SessionID] = byUser
	}
	if _, exists := byUser[response.UserID]; exists {
		return domain.ErrAlreadyAnswered
	}
	byUser[response.UserID] = response
	s.responseOrder[response.SessionID] = append(s.responseOrder[response.SessionID], response.UserID)
	return nil
}

func (s *SessionStore) Apply(_ context.Context, sessionID string, tr app.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	wasOpen := session.Status == domain.StatusOpen
	if !app.ApplyTransition(&session, tr) {
		return false, nil
	}
	s.sessions[sessionID] = session
	if wasOpen && session.Status != domain.StatusOpen {
		key := channelKey(session.GuildID, session.ChannelID)
		if s.openByChannel[key] == sessionID {
			delete(s.openByChannel, key)
		}
	}
	return true, nil
}

func (s *SessionStore) Responses(_ context.Context, sessionID string) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	order := s.responseOrder[sessionID]
	byUser := s.responses[sessionID]
	out := make([]domain.Response, 0, len(order))
	for _, userID := range order {
		out = append(out, byUser[userID])
	}
	return out, nil
}

func (s *SessionStore) OpenSessions(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Session
	for _, session := range s.sessions {
		if session.Status == domain.StatusOpen {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *SessionStore) SaveSummary(_ context.Context, sessionID string, summary domain.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sessionID] = summary
	return nil
}

func (s *SessionStore) LoadSummary(_ context.Context, sessionID string) (domain.Summary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[sessionID]
	return summary, ok, nil
}

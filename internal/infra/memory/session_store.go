package memory

import (
	"sync"

	"echoes-history-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.QuizSession
	active   map[string]string // user|event -> session id
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.QuizSession),
		active:   make(map[string]string),
	}
}

// AddIfAbsent registers session unless the user already holds a live
// (starting or running) attempt for the same event.
func (s *SessionStore) AddIfAbsent(session *app.QuizSession) (*app.QuizSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := activeKey(session.UserID(), session.EventID())
	if id, ok := s.active[key]; ok {
		if existing, ok := s.sessions[id]; ok && live(existing) {
			return existing, false
		}
	}
	s.sessions[session.ID()] = session
	s.active[key] = session.ID()
	return session, true
}

func (s *SessionStore) Get(sessionID string) (*app.QuizSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// FindActive returns the user's running attempt for an event, if any.
func (s *SessionStore) FindActive(userID, eventID string) (*app.QuizSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[activeKey(userID, eventID)]
	if !ok {
		return nil, false
	}
	session, ok := s.sessions[id]
	if !ok || session.State() != app.StateInProgress {
		return nil, false
	}
	return session, true
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	key := activeKey(session.UserID(), session.EventID())
	if s.active[key] == sessionID {
		delete(s.active, key)
	}
}

// Len reports how many sessions are registered.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func live(session *app.QuizSession) bool {
	state := session.State()
	return state == app.StateNotStarted || state == app.StateInProgress
}

func activeKey(userID, eventID string) string {
	return userID + "|" + eventID
}

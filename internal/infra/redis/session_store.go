package redis

import (
	"context"
	"time"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions own live timers, so they stay in a local map; Redis only carries a
// liveness marker per session (value "{userID}|{eventID}") that other
// instances and operators can inspect.
type SessionStore struct {
	*memory.SessionStore
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore marks sessions for ttl; a session outliving its marker is
// still served locally.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		SessionStore: memory.NewSessionStore(),
		client:       client,
		ttl:          ttl,
	}
}

func (s *SessionStore) AddIfAbsent(session *app.QuizSession) (*app.QuizSession, bool) {
	existing, added := s.SessionStore.AddIfAbsent(session)
	if !added {
		return existing, false
	}
	ttl := s.ttl
	if total := session.TotalDuration(); total > ttl {
		ttl = total
	}
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(session.ID()), session.UserID()+"|"+session.EventID(), ttl).Err()
	return session, true
}

func (s *SessionStore) Delete(sessionID string) {
	s.SessionStore.Delete(sessionID)
	_ = s.client.Del(context.Background(), s.key(sessionID)).Err()
}

// LiveSessions counts liveness markers across all instances sharing Redis.
func (s *SessionStore) LiveSessions(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "quiz:session:*", 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func (s *SessionStore) key(sessionID string) string {
	return "quiz:session:" + sessionID
}

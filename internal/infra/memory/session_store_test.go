package memory

import (
	"testing"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()
	questions := []domain.QuizQuestion{{ID: "q1", Options: []string{"a", "b"}}}
	session := app.NewQuizSession("s1", "u1", "e1", questions, app.SessionOptions{Clock: app.NewManualClock(fixedTime())})

	store.AddIfAbsent(session)
	if _, ok := store.Get("s1"); !ok {
		t.Fatalf("expected session present")
	}
	if _, ok := store.FindActive("u1", "e1"); ok {
		t.Fatalf("a session that has not started is not active")
	}

	_ = session.Start()
	if got, ok := store.FindActive("u1", "e1"); !ok || got != session {
		t.Fatalf("expected active session")
	}
	if _, ok := store.FindActive("u2", "e1"); ok {
		t.Fatalf("sessions are per user")
	}

	store.Delete("s1")
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("expected session removed")
	}
	if _, ok := store.FindActive("u1", "e1"); ok {
		t.Fatalf("expected active index cleared")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestSessionStoreDeleteKeepsNewerActive(t *testing.T) {
	store := NewSessionStore()
	clock := app.NewManualClock(fixedTime())
	questions := []domain.QuizQuestion{{ID: "q1", Options: []string{"a", "b"}}}
	older := app.NewQuizSession("s1", "u1", "e1", questions, app.SessionOptions{Clock: clock})
	newer := app.NewQuizSession("s2", "u1", "e1", questions, app.SessionOptions{Clock: clock})
	_ = newer.Start()

	store.AddIfAbsent(older)
	older.Close()
	if _, added := store.AddIfAbsent(newer); !added {
		t.Fatalf("a closed session must not block a new one")
	}
	store.Delete("s1")

	if got, ok := store.FindActive("u1", "e1"); !ok || got != newer {
		t.Fatalf("expected newer session to stay active")
	}
}

func TestSessionStoreAddIfAbsentKeepsLiveSession(t *testing.T) {
	store := NewSessionStore()
	clock := app.NewManualClock(fixedTime())
	questions := []domain.QuizQuestion{{ID: "q1", Options: []string{"a", "b"}}}
	first := app.NewQuizSession("s1", "u1", "e1", questions, app.SessionOptions{Clock: clock})
	second := app.NewQuizSession("s2", "u1", "e1", questions, app.SessionOptions{Clock: clock})

	if got, added := store.AddIfAbsent(first); !added || got != first {
		t.Fatalf("expected first session added")
	}
	// Registered but not yet started still counts as live.
	if got, added := store.AddIfAbsent(second); added || got != first {
		t.Fatalf("expected first session kept, added=%v", added)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one session, got %d", store.Len())
	}
	if _, added := store.AddIfAbsent(app.NewQuizSession("s3", "u1", "e2", questions, app.SessionOptions{Clock: clock})); !added {
		t.Fatalf("other events are independent")
	}
}

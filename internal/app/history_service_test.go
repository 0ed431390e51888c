package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/domain"
	"echoes-history-service/internal/infra/memory"
)

type serviceFixture struct {
	svc      *app.HistoryService
	tracker  *app.ProgressTracker
	clock    *app.ManualClock
	kv       *memory.KVStore
	sessions *memory.SessionStore
	banks    map[string][]domain.QuizQuestion
}

func newServiceFixture(t *testing.T, banks map[string][]domain.QuizQuestion) *serviceFixture {
	t.Helper()
	clock := app.NewManualClock(fixedNow())
	kv := memory.NewKVStoreWithClock(clock.Now)
	tracker := newTestTracker(kv, clock.Now)
	source := memory.NewStaticContentSource(nil, nil, banks)
	facade := app.NewHistoryFacade(source, app.FacadeOptions{Clock: clock.Now})
	sessions := memory.NewSessionStore()
	svc := app.NewHistoryService(facade, tracker, sessions, app.ServiceOptions{
		Questions: 10,
		Random:    app.SeededSource(7),
		Clock:     clock,
	})
	return &serviceFixture{svc: svc, tracker: tracker, clock: clock, kv: kv, sessions: sessions, banks: banks}
}

func answerAll(t *testing.T, f *serviceFixture, s *app.QuizSession, wrong int) {
	t.Helper()
	snap := s.Snapshot()
	for i, q := range snap.Questions {
		option := q.AnswerIndex
		if i < wrong {
			option = (q.AnswerIndex + 1) % len(q.Options)
		}
		if _, err := f.svc.Answer(s.ID(), option); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if err := f.svc.Next(s.ID()); err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
	}
}

func TestServiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 12)})

	p := f.svc.RecordReading(ctx, "u1", "ev1", 0.5)
	if p.CompletedAt != nil || p.QuizUnlocked() {
		t.Fatalf("half-read event must stay locked: %+v", p)
	}
	if _, err := f.svc.StartQuiz(ctx, "u1", "ev1"); !errors.Is(err, domain.ErrQuizLocked) {
		t.Fatalf("expected quiz locked, got %v", err)
	}

	p = f.svc.RecordReading(ctx, "u1", "ev1", 0.82)
	if p.CompletedAt == nil || !p.QuizUnlocked() {
		t.Fatalf("expected completion at 0.82: %+v", p)
	}

	s, err := f.svc.StartQuiz(ctx, "u1", "ev1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(s.Snapshot().Questions) != 10 {
		t.Fatalf("expected 10 questions, got %d", len(s.Snapshot().Questions))
	}
	if f.tracker.GetQuizState(ctx, "u1", "ev1") == nil {
		t.Fatalf("expected resumable state after start")
	}

	events, cancel := s.Subscribe()
	defer cancel()

	f.clock.Advance(30 * time.Second)
	answerAll(t, f, s, 2)

	if s.State() != app.StateCompleted {
		t.Fatalf("expected completed, got %s", s.State())
	}
	var result *app.QuizResult
	for ev := range events {
		if ev.Type == app.EventCompleted {
			result = ev.Result
			break
		}
	}
	if result == nil || result.Outcome == nil {
		t.Fatalf("expected completion outcome")
	}
	if g := result.Outcome.Grade; g.Score != 80 || g.Stars != 6 || !g.Passed {
		t.Fatalf("unexpected grade %+v", g)
	}

	p = f.svc.Progress(ctx, "u1", "ev1")
	if len(p.Attempts) != 1 || p.BestScore != 80 || p.BestStars != 6 {
		t.Fatalf("unexpected progress %+v", p)
	}
	a := p.Attempts[0]
	if a.AttemptNumber != 1 || a.Correct != 8 || a.Total != 10 || a.Forced || len(a.QuestionIDs) != 10 {
		t.Fatalf("unexpected attempt %+v", a)
	}
	if a.DurationMs != 30000 {
		t.Fatalf("expected 30s duration, got %dms", a.DurationMs)
	}
	if f.tracker.GetQuizState(ctx, "u1", "ev1") != nil {
		t.Fatalf("expected quiz state cleared after completion")
	}
	if _, err := f.svc.Session(s.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("completed session must leave the registry, got %v", err)
	}
}

func TestServiceRetryIsGradedAsRetry(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 10)})
	f.svc.RecordReading(ctx, "u1", "ev1", 1)

	first, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	answerAll(t, f, first, 0)
	second, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	if second.ID() == first.ID() {
		t.Fatalf("expected a new session for the retry")
	}
	answerAll(t, f, second, 1)

	p := f.svc.Progress(ctx, "u1", "ev1")
	if len(p.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(p.Attempts))
	}
	retry := p.Attempts[1]
	if retry.AttemptNumber != 2 || retry.Score != 90 || retry.Stars != 8 {
		t.Fatalf("unexpected retry %+v", retry)
	}
	if p.BestScore != 100 || p.BestStars != 12 {
		t.Fatalf("best must come from the first attempt, got %d/%d", p.BestScore, p.BestStars)
	}
}

func TestServiceReturnsRunningSession(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 6)})
	f.svc.RecordReading(ctx, "u1", "ev1", 0.9)

	a, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	b, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	if a != b {
		t.Fatalf("expected the running session to be reused")
	}
}

func TestServiceSuspendResumesAttempt(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 6)})
	f.svc.RecordReading(ctx, "u1", "ev1", 0.9)

	s, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	ids := s.PersistedState().QuestionIDs
	first := s.Snapshot().Questions[0]
	if _, err := f.svc.Answer(s.ID(), first.AnswerIndex); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.clock.Advance(20 * time.Second)
	f.svc.Suspend(s.ID())
	if s.State() != app.StateAbandoned {
		t.Fatalf("expected suspended session closed, got %s", s.State())
	}

	resumed, err := f.svc.StartQuiz(ctx, "u1", "ev1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	snap := resumed.Snapshot()
	if snap.Current != 1 || snap.Answers[0].SelectedIndex == nil {
		t.Fatalf("expected to resume at question 1, got %+v", snap)
	}
	got := resumed.PersistedState().QuestionIDs
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("expected same question order, got %v want %v", got, ids)
		}
	}
	if want := resumed.TotalDuration() - 20*time.Second; snap.RemainingMs != want.Milliseconds() {
		t.Fatalf("expected %dms remaining, got %d", want.Milliseconds(), snap.RemainingMs)
	}
}

func TestServiceAbandonDiscardsState(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 6)})
	f.svc.RecordReading(ctx, "u1", "ev1", 0.9)

	s, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	if err := f.svc.Abandon(ctx, s.ID()); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if f.tracker.GetQuizState(ctx, "u1", "ev1") != nil {
		t.Fatalf("expected state cleared on abandon")
	}
	if p := f.svc.Progress(ctx, "u1", "ev1"); len(p.Attempts) != 0 {
		t.Fatalf("abandon must not record an attempt")
	}
	if err := f.svc.Abandon(ctx, s.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceStaleStateStartsFresh(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 6)})
	f.svc.RecordReading(ctx, "u1", "ev1", 0.9)

	zero := 0
	_ = f.tracker.SaveQuizState(ctx, "u1", "ev1", &domain.PersistedQuizState{
		EventID:     "ev1",
		StartedAt:   f.clock.Now(),
		QuestionIDs: []string{"gone-1", "gone-2"},
		Answers:     []*int{&zero, nil},
	})

	s, err := f.svc.StartQuiz(ctx, "u1", "ev1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Questions) != 6 || snap.Current != 0 {
		t.Fatalf("expected a fresh attempt over the bank, got %+v", snap)
	}
}

func TestServiceKeepsStateWhenBankUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 6)})
	f.svc.RecordReading(ctx, "u1", "ev1", 0.9)

	s, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	ids := s.PersistedState().QuestionIDs
	if _, err := f.svc.Answer(s.ID(), s.Snapshot().Questions[0].AnswerIndex); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.svc.Suspend(s.ID())

	// A restarted service whose content backend is down.
	down := newFakeSource()
	down.setFail(true)
	restarted := app.NewHistoryService(
		app.NewHistoryFacade(down, app.FacadeOptions{Clock: f.clock.Now}),
		f.tracker, memory.NewSessionStore(),
		app.ServiceOptions{Questions: 10, Random: app.SeededSource(7), Clock: f.clock},
	)
	noBank, err := restarted.StartQuiz(ctx, "u1", "ev1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if noBank.State() != app.StateNoBank {
		t.Fatalf("expected noBank while the bank is unavailable, got %s", noBank.State())
	}
	saved := f.tracker.GetQuizState(ctx, "u1", "ev1")
	if saved == nil || len(saved.QuestionIDs) != len(ids) || saved.Answers[0] == nil {
		t.Fatalf("expected resumable state kept, got %+v", saved)
	}

	resumed, err := f.svc.StartQuiz(ctx, "u1", "ev1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if snap := resumed.Snapshot(); snap.Current != 1 || snap.Questions[0].ID != ids[0] {
		t.Fatalf("expected the saved attempt resumed, got %+v", snap)
	}
}

func TestServiceConcurrentStartsShareOneSession(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 6)})
	f.svc.RecordReading(ctx, "u1", "ev1", 0.9)

	const callers = 8
	got := make(chan *app.QuizSession, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.svc.StartQuiz(ctx, "u1", "ev1")
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			got <- s
		}()
	}
	wg.Wait()
	close(got)

	var first *app.QuizSession
	for s := range got {
		if first == nil {
			first = s
		}
		if s.ID() != first.ID() {
			t.Fatalf("expected one shared session, got %s and %s", first.ID(), s.ID())
		}
	}
	if f.sessions.Len() != 1 {
		t.Fatalf("expected one registered session, got %d", f.sessions.Len())
	}
}

func TestServiceTimeoutForcesCompletion(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, map[string][]domain.QuizQuestion{"ev1": questionBank("ev1", 5)})
	f.svc.RecordReading(ctx, "u1", "ev1", 0.9)

	s, _ := f.svc.StartQuiz(ctx, "u1", "ev1")
	f.clock.Advance(s.TotalDuration())

	p := f.svc.Progress(ctx, "u1", "ev1")
	if len(p.Attempts) != 1 || !p.Attempts[0].Forced || p.Attempts[0].Score != 0 {
		t.Fatalf("expected forced zero attempt, got %+v", p.Attempts)
	}
	if f.tracker.GetQuizState(ctx, "u1", "ev1") != nil {
		t.Fatalf("expected state cleared after timeout")
	}
}

func TestServiceEmptyBank(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.svc.RecordReading(ctx, "u1", "ev-none", 1)

	s, err := f.svc.StartQuiz(ctx, "u1", "ev-none")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != app.StateNoBank {
		t.Fatalf("expected noBank, got %s", s.State())
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("no timer may run without questions")
	}
	if _, err := f.svc.Session(s.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("noBank sessions are not registered")
	}
}

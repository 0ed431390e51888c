package app

import (
	"context"
	"time"

	"echoes-history-service/internal/domain"
	"echoes-history-service/internal/logger"
	"github.com/google/uuid"
)

// SessionRepository abstracts where active quiz sessions live (in-memory, Redis-marked, etc).
type SessionRepository interface {
	// AddIfAbsent registers session unless the user already has a live
	// attempt for the event, in which case that attempt is returned with false.
	AddIfAbsent(session *QuizSession) (*QuizSession, bool)
	Get(sessionID string) (*QuizSession, bool)
	FindActive(userID, eventID string) (*QuizSession, bool)
	Delete(sessionID string)
}

type ServiceOptions struct {
	// Questions is the desired attempt size before clamping.
	Questions    int
	Random       RandomSource
	Clock        Clock
	QuestionTime time.Duration
	AdvanceDelay time.Duration
	TickInterval time.Duration
	Log          *logger.Logger
}

// HistoryService is the history learning module: reading progress, quiz
// unlocking, timed attempts and attempt history.
type HistoryService struct {
	content  *HistoryFacade
	progress *ProgressTracker
	sessions SessionRepository
	opts     ServiceOptions
	log      *logger.Logger
}

func NewHistoryService(content *HistoryFacade, progress *ProgressTracker, sessions SessionRepository, opts ServiceOptions) *HistoryService {
	if opts.Questions <= 0 {
		opts.Questions = MaxQuizQuestions
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	return &HistoryService{
		content:  content,
		progress: progress,
		sessions: sessions,
		opts:     opts,
		log:      logger.OrNop(opts.Log).With("component", "history"),
	}
}

// Content exposes the data access facade.
func (s *HistoryService) Content() *HistoryFacade {
	return s.content
}

func (s *HistoryService) Progress(ctx context.Context, userID, eventID string) domain.HistoryProgress {
	return s.progress.GetHistoryProgress(ctx, userID, eventID)
}

// RecordReading stores how far the user has read an event.
func (s *HistoryService) RecordReading(ctx context.Context, userID, eventID string, readRatio float64) domain.HistoryProgress {
	before := s.progress.GetHistoryProgress(ctx, userID, eventID)
	after := s.progress.UpdateHistoryProgress(ctx, userID, eventID, ProgressPatch{ReadRatio: &readRatio})
	if before.CompletedAt == nil && after.CompletedAt != nil {
		s.log.Info("event completed", "user_id", userID, "event_id", eventID)
	}
	return after
}

// StartQuiz opens (or returns the already running) attempt for the event.
// A resumable state whose questions are all still in the bank is continued;
// otherwise a fresh selection is drawn. An empty or unavailable bank yields a
// session in StateNoBank rather than an error.
func (s *HistoryService) StartQuiz(ctx context.Context, userID, eventID string) (*QuizSession, error) {
	if !s.progress.GetHistoryProgress(ctx, userID, eventID).QuizUnlocked() {
		return nil, domain.ErrQuizLocked
	}
	if existing, ok := s.sessions.FindActive(userID, eventID); ok {
		return existing, nil
	}

	bank := s.content.QuizBank(ctx, eventID).Questions

	var questions []domain.QuizQuestion
	var saved *domain.PersistedQuizState
	// An unavailable bank says nothing about the saved attempt, so it is kept
	// for a later start.
	if len(bank) > 0 {
		saved = s.progress.GetQuizState(ctx, userID, eventID)
	}
	if saved != nil {
		questions = questionsByID(bank, saved.QuestionIDs)
		if questions == nil {
			s.log.Info("discarding stale quiz state", "user_id", userID, "event_id", eventID)
			s.clearState(ctx, userID, eventID)
			saved = nil
		}
	}
	if saved == nil {
		questions = PickQuestions(bank, s.opts.Questions, s.opts.Random)
	}

	id := uuid.NewString()
	session := NewQuizSession(id, userID, eventID, questions, SessionOptions{
		Clock:        s.opts.Clock,
		QuestionTime: s.opts.QuestionTime,
		AdvanceDelay: s.opts.AdvanceDelay,
		TickInterval: s.opts.TickInterval,
		OnProgress: func(state domain.PersistedQuizState) {
			if err := s.progress.SaveQuizState(context.Background(), userID, eventID, &state); err != nil {
				s.log.Error("save quiz state", "session_id", id, "error", err)
			}
		},
		OnComplete: func(result QuizResult) *AttemptOutcome {
			return s.completeAttempt(result)
		},
	})
	if session.State() == StateNoBank {
		return session, nil
	}

	if existing, added := s.sessions.AddIfAbsent(session); !added {
		return existing, nil
	}
	if err := session.StartFrom(saved); err != nil {
		s.sessions.Delete(id)
		return nil, err
	}
	s.log.Info("quiz started", "session_id", id, "user_id", userID, "event_id", eventID,
		"questions", len(questions), "resumed", saved != nil)
	return session, nil
}

func (s *HistoryService) Session(sessionID string) (*QuizSession, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *HistoryService) Answer(sessionID string, option int) (AnswerRecord, error) {
	session, err := s.Session(sessionID)
	if err != nil {
		return AnswerRecord{}, err
	}
	return session.SelectAnswer(option)
}

func (s *HistoryService) Next(sessionID string) error {
	session, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	return session.Next()
}

func (s *HistoryService) Finish(sessionID string) error {
	session, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	return session.Finish()
}

// Abandon closes the attempt and discards its resumable state; nothing is recorded.
func (s *HistoryService) Abandon(ctx context.Context, sessionID string) error {
	session, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	s.sessions.Delete(sessionID)
	if session.Close() {
		s.clearState(ctx, session.UserID(), session.EventID())
		s.log.Info("quiz abandoned", "session_id", sessionID)
	}
	return nil
}

// Suspend stops the attempt's timers (the view went away) but keeps the
// resumable state so a later StartQuiz continues it.
func (s *HistoryService) Suspend(sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	s.sessions.Delete(sessionID)
	if session.Close() {
		s.log.Debug("quiz suspended", "session_id", sessionID)
	}
}

func (s *HistoryService) completeAttempt(result QuizResult) *AttemptOutcome {
	ctx := context.Background()
	progress := s.progress.GetHistoryProgress(ctx, result.UserID, result.EventID)
	attemptNumber := progress.NextAttemptNumber()
	grade := GradeQuiz(result.Correct, result.Total, attemptNumber)

	summary := domain.QuizAttemptSummary{
		AttemptNumber: attemptNumber,
		Score:         grade.Score,
		Stars:         grade.Stars,
		Correct:       result.Correct,
		Total:         result.Total,
		AttemptedAt:   result.CompletedAt.UTC(),
		QuestionIDs:   result.QuestionIDs,
		Forced:        result.Forced,
		DurationMs:    result.Duration.Milliseconds(),
	}
	s.progress.RecordQuizAttempt(ctx, result.UserID, result.EventID, summary)
	s.clearState(ctx, result.UserID, result.EventID)
	s.sessions.Delete(result.SessionID)

	s.log.Info("quiz completed", "session_id", result.SessionID, "user_id", result.UserID,
		"event_id", result.EventID, "attempt", attemptNumber, "score", grade.Score,
		"stars", grade.Stars, "forced", result.Forced)
	return &AttemptOutcome{Grade: grade, Summary: summary}
}

func (s *HistoryService) clearState(ctx context.Context, userID, eventID string) {
	if err := s.progress.ClearQuizState(ctx, userID, eventID); err != nil {
		s.log.Error("clear quiz state", "user_id", userID, "event_id", eventID, "error", err)
	}
}

// questionsByID resolves ids against bank in order; nil when any id is gone.
func questionsByID(bank []domain.QuizQuestion, ids []string) []domain.QuizQuestion {
	if len(ids) == 0 {
		return nil
	}
	byID := make(map[string]domain.QuizQuestion, len(bank))
	for _, q := range bank {
		byID[q.ID] = q
	}
	out := make([]domain.QuizQuestion, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil
		}
		out = append(out, q)
	}
	return out
}

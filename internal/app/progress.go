package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"echoes-history-service/internal/domain"
	"echoes-history-service/internal/logger"
	"echoes-history-service/internal/storage"
)

// CompletionThreshold is the read ratio at which an event counts as read.
const CompletionThreshold = 0.8

// ProgressPatch carries the optional fields of a progress update.
type ProgressPatch struct {
	ReadRatio   *float64
	CompletedAt *time.Time
}

// ProgressTracker owns HistoryProgress and PersistedQuizState blobs.
// Callers must serialize RecordQuizAttempt per user and event.
type ProgressTracker struct {
	store *storage.Adapter
	now   func() time.Time
	log   *logger.Logger
}

func NewProgressTracker(store *storage.Adapter, log *logger.Logger) *ProgressTracker {
	return NewProgressTrackerWithClock(store, log, time.Now)
}

// NewProgressTrackerWithClock allows deterministic timestamps in tests.
func NewProgressTrackerWithClock(store *storage.Adapter, log *logger.Logger, now func() time.Time) *ProgressTracker {
	return &ProgressTracker{
		store: store,
		now:   now,
		log:   logger.OrNop(log).With("component", "progress"),
	}
}

// GetHistoryProgress returns the stored progress or a zero-valued default.
// The default is not persisted until the first mutation.
func (t *ProgressTracker) GetHistoryProgress(ctx context.Context, userID, eventID string) domain.HistoryProgress {
	var progress domain.HistoryProgress
	if !t.store.ReadJSON(ctx, storage.Key(storage.ProgressNamespace, userID, eventID), &progress) {
		return defaultProgress(eventID)
	}
	progress.EventID = eventID
	if progress.Attempts == nil {
		progress.Attempts = []domain.QuizAttemptSummary{}
	}
	progress.ReadRatio = clampRatio(progress.ReadRatio)
	return progress
}

// UpdateHistoryProgress merges patch into the stored progress. ReadRatio never
// decreases and CompletedAt is set once, the first time the ratio reaches
// CompletionThreshold.
func (t *ProgressTracker) UpdateHistoryProgress(ctx context.Context, userID, eventID string, patch ProgressPatch) domain.HistoryProgress {
	progress := t.GetHistoryProgress(ctx, userID, eventID)

	if patch.ReadRatio != nil && !math.IsNaN(*patch.ReadRatio) {
		progress.ReadRatio = math.Max(progress.ReadRatio, clampRatio(*patch.ReadRatio))
	}
	if progress.ReadRatio >= CompletionThreshold && progress.CompletedAt == nil {
		completedAt := t.now().UTC()
		if patch.CompletedAt != nil {
			completedAt = *patch.CompletedAt
		}
		progress.CompletedAt = &completedAt
	}

	t.persist(ctx, userID, progress)
	return progress
}

// RecordQuizAttempt appends summary and refreshes the best-score rollups.
// The caller assigns summary.AttemptNumber (see HistoryProgress.NextAttemptNumber).
func (t *ProgressTracker) RecordQuizAttempt(ctx context.Context, userID, eventID string, summary domain.QuizAttemptSummary) domain.HistoryProgress {
	progress := t.GetHistoryProgress(ctx, userID, eventID)

	progress.Attempts = append(progress.Attempts, summary)
	progress.BestScore, progress.BestStars = 0, 0
	for _, attempt := range progress.Attempts {
		if attempt.Score > progress.BestScore {
			progress.BestScore = attempt.Score
		}
		if attempt.Stars > progress.BestStars {
			progress.BestStars = attempt.Stars
		}
	}
	attemptedAt := summary.AttemptedAt
	progress.LastAttemptAt = &attemptedAt

	t.persist(ctx, userID, progress)
	return progress
}

// SaveQuizState stores the resumable attempt, or clears it when state is nil.
// The event comes from state.EventID or eventID; clearing without an event id
// returns ErrQuizStateEventRequired.
func (t *ProgressTracker) SaveQuizState(ctx context.Context, userID, eventID string, state *domain.PersistedQuizState) error {
	if state != nil && state.EventID != "" {
		if eventID != "" && eventID != state.EventID {
			return fmt.Errorf("%w: %q vs %q", domain.ErrQuizStateEventMismatch, state.EventID, eventID)
		}
		eventID = state.EventID
	}
	if eventID == "" {
		return domain.ErrQuizStateEventRequired
	}
	key := storage.Key(storage.QuizStateNamespace, userID, eventID)

	if state == nil {
		t.store.Write(ctx, key, nil)
		return nil
	}

	stored := *state
	stored.EventID = eventID
	var ttl time.Duration
	if stored.ExpiresAt != nil {
		ttl = stored.ExpiresAt.Sub(t.now())
		if ttl <= 0 {
			t.store.Write(ctx, key, nil)
			return nil
		}
	}
	return t.store.WriteJSON(ctx, key, stored, ttl)
}

// ClearQuizState removes the resumable attempt for the event.
func (t *ProgressTracker) ClearQuizState(ctx context.Context, userID, eventID string) error {
	return t.SaveQuizState(ctx, userID, eventID, nil)
}

// GetQuizState returns the resumable attempt, or nil when none is stored, the
// blob is unreadable, or it has expired.
func (t *ProgressTracker) GetQuizState(ctx context.Context, userID, eventID string) *domain.PersistedQuizState {
	key := storage.Key(storage.QuizStateNamespace, userID, eventID)
	var state domain.PersistedQuizState
	if !t.store.ReadJSON(ctx, key, &state) {
		return nil
	}
	if len(state.Answers) != len(state.QuestionIDs) {
		t.log.Warn("ignoring quiz state with mismatched answers", "key", key,
			"questions", len(state.QuestionIDs), "answers", len(state.Answers))
		return nil
	}
	if state.Expired(t.now()) {
		t.store.Write(ctx, key, nil)
		return nil
	}
	state.EventID = eventID
	return &state
}

func (t *ProgressTracker) persist(ctx context.Context, userID string, progress domain.HistoryProgress) {
	key := storage.Key(storage.ProgressNamespace, userID, progress.EventID)
	if err := t.store.WriteJSON(ctx, key, progress, 0); err != nil {
		t.log.Error("encode progress", "key", key, "error", err)
	}
}

func defaultProgress(eventID string) domain.HistoryProgress {
	return domain.HistoryProgress{
		EventID:  eventID,
		Attempts: []domain.QuizAttemptSummary{},
	}
}

func clampRatio(r float64) float64 {
	switch {
	case math.IsNaN(r) || r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

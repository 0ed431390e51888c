package app

import (
	"sync"
	"time"

	"echoes-history-service/internal/domain"
)

// SessionState is the lifecycle stage of a quiz attempt.
type SessionState string

const (
	StateNotStarted SessionState = "notStarted"
	StateInProgress SessionState = "inProgress"
	StateCompleted  SessionState = "completed"
	StateAbandoned  SessionState = "abandoned"
	// StateNoBank is terminal: the event has no questions, so no timer runs.
	StateNoBank SessionState = "noBank"
)

const (
	DefaultQuestionTime = 25 * time.Second
	DefaultAdvanceDelay = 900 * time.Millisecond
	DefaultTickInterval = 100 * time.Millisecond
)

// AnswerRecord captures the answer to one question of an attempt.
type AnswerRecord struct {
	QuestionID    string `json:"questionId"`
	SelectedIndex *int   `json:"selectedIndex"`
	CorrectIndex  int    `json:"correctIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	Explanation   string `json:"explanation,omitempty"`
}

// AttemptOutcome is what the completion hook recorded for the attempt.
type AttemptOutcome struct {
	Grade   Grade                     `json:"grade"`
	Summary domain.QuizAttemptSummary `json:"summary"`
}

// QuizResult is emitted once when a session completes.
type QuizResult struct {
	SessionID   string          `json:"sessionId"`
	UserID      string          `json:"userId"`
	EventID     string          `json:"eventId"`
	Correct     int             `json:"correct"`
	Total       int             `json:"total"`
	Duration    time.Duration   `json:"durationNs"`
	Forced      bool            `json:"forced"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	QuestionIDs []string        `json:"questionIds"`
	Answers     []AnswerRecord  `json:"answers"`
	Outcome     *AttemptOutcome `json:"outcome,omitempty"`
}

type SessionEventType string

const (
	EventStarted   SessionEventType = "started"
	EventAnswered  SessionEventType = "answered"
	EventRevealed  SessionEventType = "revealed"
	EventAdvanced  SessionEventType = "advanced"
	EventTick      SessionEventType = "tick"
	EventCompleted SessionEventType = "completed"
	EventAbandoned SessionEventType = "abandoned"
)

// SessionEvent is published to session subscribers.
type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	Index       int              `json:"index"`
	Answer      *AnswerRecord    `json:"answer,omitempty"`
	RemainingMs int64            `json:"remainingMs"`
	Result      *QuizResult      `json:"result,omitempty"`
}

// SessionOptions tunes timing and wires persistence hooks.
type SessionOptions struct {
	Clock        Clock
	QuestionTime time.Duration // allotment for questions without TimeLimitMs
	AdvanceDelay time.Duration // pause before moving on after a correct answer
	TickInterval time.Duration

	// OnProgress receives the resumable state after start and after every answer.
	OnProgress func(domain.PersistedQuizState)
	// OnComplete runs once when the attempt completes, outside the session lock.
	OnComplete func(QuizResult) *AttemptOutcome
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.QuestionTime <= 0 {
		o.QuestionTime = DefaultQuestionTime
	}
	if o.AdvanceDelay <= 0 {
		o.AdvanceDelay = DefaultAdvanceDelay
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	return o
}

// SessionSnapshot is a read-only view of a session.
type SessionSnapshot struct {
	ID          string                `json:"id"`
	UserID      string                `json:"userId"`
	EventID     string                `json:"eventId"`
	State       SessionState          `json:"state"`
	Current     int                   `json:"current"`
	Revealed    bool                  `json:"revealed"`
	Forced      bool                  `json:"forced"`
	Questions   []domain.QuizQuestion `json:"questions"`
	Answers     []AnswerRecord        `json:"answers"`
	RemainingMs int64                 `json:"remainingMs"`
	TotalMs     int64                 `json:"totalMs"`
	Result      *QuizResult           `json:"result,omitempty"`
}

// QuizSession runs one timed attempt:
// NotStarted -> InProgress -> Completed | Abandoned.
// The first answer to a question wins; correct answers auto-advance after
// AdvanceDelay, incorrect ones reveal the solution and wait for Next. When the
// countdown reaches zero the attempt completes with Forced set.
type QuizSession struct {
	id        string
	userID    string
	eventID   string
	questions []domain.QuizQuestion
	opts      SessionOptions
	total     time.Duration

	mu          sync.Mutex
	hookMu      sync.Mutex // orders OnProgress, OnComplete and Close
	state       SessionState
	answers     []AnswerRecord
	current     int
	revealed    bool
	forced      bool
	startedAt   time.Time
	remaining   time.Duration
	lastTick    time.Time
	tick        Timer
	advance     Timer
	result      *QuizResult
	subscribers map[chan SessionEvent]struct{}
}

func NewQuizSession(id, userID, eventID string, questions []domain.QuizQuestion, opts SessionOptions) *QuizSession {
	opts = opts.withDefaults()
	qs := make([]domain.QuizQuestion, len(questions))
	copy(qs, questions)

	answers := make([]AnswerRecord, len(qs))
	var total time.Duration
	for i, q := range qs {
		answers[i] = AnswerRecord{
			QuestionID:   q.ID,
			CorrectIndex: q.AnswerIndex,
			Explanation:  q.Explanation,
		}
		if q.TimeLimitMs > 0 {
			total += time.Duration(q.TimeLimitMs) * time.Millisecond
		} else {
			total += opts.QuestionTime
		}
	}

	state := StateNotStarted
	if len(qs) == 0 {
		state = StateNoBank
	}
	return &QuizSession{
		id:          id,
		userID:      userID,
		eventID:     eventID,
		questions:   qs,
		opts:        opts,
		total:       total,
		state:       state,
		answers:     answers,
		remaining:   total,
		subscribers: make(map[chan SessionEvent]struct{}),
	}
}

func (s *QuizSession) ID() string      { return s.id }
func (s *QuizSession) UserID() string  { return s.userID }
func (s *QuizSession) EventID() string { return s.eventID }

// TotalDuration is the sum of the per-question allotments.
func (s *QuizSession) TotalDuration() time.Duration { return s.total }

func (s *QuizSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a fresh attempt.
func (s *QuizSession) Start() error {
	return s.StartFrom(nil)
}

// StartFrom begins the attempt, restoring answers and elapsed time from saved
// when it is non-nil. saved.Answers must be in the session's question order.
func (s *QuizSession) StartFrom(saved *domain.PersistedQuizState) error {
	s.mu.Lock()
	switch s.state {
	case StateNoBank, StateInProgress:
		s.mu.Unlock()
		return nil
	case StateCompleted, StateAbandoned:
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}

	now := s.opts.Clock.Now()
	s.startedAt = now
	s.remaining = s.total
	if saved != nil {
		if !saved.StartedAt.IsZero() {
			s.startedAt = saved.StartedAt
		}
		s.restoreLocked(saved.Answers)
		if elapsed := now.Sub(s.startedAt); elapsed > 0 {
			s.remaining -= elapsed
		}
	}
	s.state = StateInProgress
	s.lastTick = now
	s.current = s.firstUnansweredLocked()
	s.broadcastLocked(SessionEvent{Type: EventStarted, Index: s.current})

	if s.remaining <= 0 || s.current == len(s.questions) {
		forced := s.remaining <= 0
		if forced {
			s.remaining = 0
		}
		result := s.completeLocked(forced)
		s.mu.Unlock()
		s.deliver(result)
		return nil
	}

	s.tick = s.opts.Clock.AfterFunc(s.opts.TickInterval, s.onTick)
	persisted := s.persistedLocked()
	s.mu.Unlock()

	s.notifyProgress(persisted)
	return nil
}

// SelectAnswer answers the current question. A question that already has an
// answer keeps it and the call returns the existing record.
func (s *QuizSession) SelectAnswer(option int) (AnswerRecord, error) {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return AnswerRecord{}, domain.ErrSessionClosed
	}
	idx := s.current
	rec := &s.answers[idx]
	if rec.SelectedIndex != nil {
		out := cloneRecord(*rec)
		s.mu.Unlock()
		return out, nil
	}
	q := s.questions[idx]
	if option < 0 || option >= len(q.Options) {
		s.mu.Unlock()
		return AnswerRecord{}, domain.ErrOptionOutOfRange
	}

	selected := option
	rec.SelectedIndex = &selected
	rec.IsCorrect = option == q.AnswerIndex
	out := cloneRecord(*rec)
	s.broadcastLocked(SessionEvent{Type: EventAnswered, Index: idx, Answer: &out})

	if rec.IsCorrect {
		s.advance = s.opts.Clock.AfterFunc(s.opts.AdvanceDelay, func() { s.autoAdvance(idx) })
	} else {
		s.revealed = true
		revealed := cloneRecord(*rec)
		s.broadcastLocked(SessionEvent{Type: EventRevealed, Index: idx, Answer: &revealed})
	}
	persisted := s.persistedLocked()
	s.mu.Unlock()

	s.notifyProgress(persisted)
	return out, nil
}

// Next moves past an answered question. It is the manual step after a reveal
// and also skips the auto-advance delay after a correct answer.
func (s *QuizSession) Next() error {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.answers[s.current].SelectedIndex == nil {
		s.mu.Unlock()
		return domain.ErrNotRevealed
	}
	s.stopAdvanceLocked()
	result, done := s.advanceLocked()
	s.mu.Unlock()
	if done {
		s.deliver(result)
	}
	return nil
}

// Finish completes the attempt now; unanswered questions count as incorrect.
func (s *QuizSession) Finish() error {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	result := s.completeLocked(false)
	s.mu.Unlock()
	s.deliver(result)
	return nil
}

// Close abandons an unfinished attempt and stops its timers. It reports
// whether the session was open.
func (s *QuizSession) Close() bool {
	// Waits out an in-flight progress save so a caller clearing state after
	// Close is not overwritten.
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted && s.state != StateInProgress {
		return false
	}
	s.stopTickLocked()
	s.stopAdvanceLocked()
	s.state = StateAbandoned
	s.broadcastLocked(SessionEvent{Type: EventAbandoned, Index: s.current})
	return true
}

// Snapshot returns a copy of the session's current view.
func (s *QuizSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	answers := make([]AnswerRecord, len(s.answers))
	for i, a := range s.answers {
		answers[i] = cloneRecord(a)
	}
	questions := make([]domain.QuizQuestion, len(s.questions))
	copy(questions, s.questions)
	var result *QuizResult
	if s.result != nil {
		r := *s.result
		result = &r
	}
	return SessionSnapshot{
		ID:          s.id,
		UserID:      s.userID,
		EventID:     s.eventID,
		State:       s.state,
		Current:     s.current,
		Revealed:    s.revealed,
		Forced:      s.forced,
		Questions:   questions,
		Answers:     answers,
		RemainingMs: s.remainingLocked().Milliseconds(),
		TotalMs:     s.total.Milliseconds(),
		Result:      result,
	}
}

// PersistedState is the resumable form of the attempt.
func (s *QuizSession) PersistedState() domain.PersistedQuizState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistedLocked()
}

// Subscribe returns a channel of session events. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *QuizSession) Subscribe() (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *QuizSession) onTick() {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return
	}
	now := s.opts.Clock.Now()
	before := ceilSeconds(s.remaining)
	s.remaining -= now.Sub(s.lastTick)
	s.lastTick = now

	if s.remaining <= 0 {
		s.remaining = 0
		result := s.completeLocked(true)
		s.mu.Unlock()
		s.deliver(result)
		return
	}
	if ceilSeconds(s.remaining) != before {
		s.broadcastLocked(SessionEvent{Type: EventTick, Index: s.current})
	}
	s.tick = s.opts.Clock.AfterFunc(s.opts.TickInterval, s.onTick)
	s.mu.Unlock()
}

func (s *QuizSession) autoAdvance(idx int) {
	s.mu.Lock()
	if s.state != StateInProgress || s.current != idx {
		s.mu.Unlock()
		return
	}
	s.advance = nil
	result, done := s.advanceLocked()
	s.mu.Unlock()
	if done {
		s.deliver(result)
	}
}

func (s *QuizSession) advanceLocked() (QuizResult, bool) {
	if s.current >= len(s.questions)-1 {
		return s.completeLocked(false), true
	}
	s.current++
	s.revealed = false
	s.broadcastLocked(SessionEvent{Type: EventAdvanced, Index: s.current})
	return QuizResult{}, false
}

func (s *QuizSession) completeLocked(forced bool) QuizResult {
	s.stopTickLocked()
	s.stopAdvanceLocked()

	correct := 0
	answers := make([]AnswerRecord, len(s.answers))
	ids := make([]string, len(s.questions))
	for i := range s.answers {
		if s.answers[i].SelectedIndex == nil {
			s.answers[i].IsCorrect = false
		}
		if s.answers[i].IsCorrect {
			correct++
		}
		answers[i] = cloneRecord(s.answers[i])
		ids[i] = s.questions[i].ID
	}

	remaining := s.remaining
	if s.state == StateInProgress && !forced {
		remaining = s.remainingLocked()
	}
	duration := s.total - remaining
	if duration < 0 {
		duration = 0
	}

	s.state = StateCompleted
	s.forced = forced
	s.revealed = false
	// The countdown is reset once the attempt is over.
	s.remaining = s.total

	result := QuizResult{
		SessionID:   s.id,
		UserID:      s.userID,
		EventID:     s.eventID,
		Correct:     correct,
		Total:       len(s.questions),
		Duration:    duration,
		Forced:      forced,
		StartedAt:   s.startedAt,
		CompletedAt: s.opts.Clock.Now(),
		QuestionIDs: ids,
		Answers:     answers,
	}
	s.result = &result
	return result
}

// deliver runs the completion hook and then announces the result.
func (s *QuizSession) deliver(result QuizResult) {
	if s.opts.OnComplete != nil {
		s.hookMu.Lock()
		result.Outcome = s.opts.OnComplete(result)
		s.hookMu.Unlock()
	}
	s.mu.Lock()
	s.result = &result
	published := result
	s.broadcastLocked(SessionEvent{Type: EventCompleted, Index: s.current, Result: &published})
	s.mu.Unlock()
}

// notifyProgress saves state only while the attempt is still running; a
// completion or close that won the race has already settled the stored state.
func (s *QuizSession) notifyProgress(state domain.PersistedQuizState) {
	if s.opts.OnProgress == nil {
		return
	}
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if s.State() != StateInProgress {
		return
	}
	s.opts.OnProgress(state)
}

func (s *QuizSession) restoreLocked(saved []*int) {
	for i, a := range saved {
		if i >= len(s.questions) || a == nil {
			continue
		}
		if *a < 0 || *a >= len(s.questions[i].Options) {
			continue
		}
		selected := *a
		s.answers[i].SelectedIndex = &selected
		s.answers[i].IsCorrect = selected == s.questions[i].AnswerIndex
	}
}

func (s *QuizSession) firstUnansweredLocked() int {
	for i, a := range s.answers {
		if a.SelectedIndex == nil {
			return i
		}
	}
	return len(s.answers)
}

func (s *QuizSession) persistedLocked() domain.PersistedQuizState {
	ids := make([]string, len(s.questions))
	answers := make([]*int, len(s.answers))
	for i := range s.questions {
		ids[i] = s.questions[i].ID
		if sel := s.answers[i].SelectedIndex; sel != nil {
			v := *sel
			answers[i] = &v
		}
	}
	state := domain.PersistedQuizState{
		EventID:     s.eventID,
		StartedAt:   s.startedAt,
		QuestionIDs: ids,
		Answers:     answers,
	}
	if !s.startedAt.IsZero() {
		expiresAt := s.startedAt.Add(s.total)
		state.ExpiresAt = &expiresAt
	}
	return state
}

// remainingLocked accounts for time elapsed since the last tick.
func (s *QuizSession) remainingLocked() time.Duration {
	if s.state != StateInProgress {
		return s.remaining
	}
	r := s.remaining - s.opts.Clock.Now().Sub(s.lastTick)
	if r < 0 {
		return 0
	}
	return r
}

func (s *QuizSession) stopTickLocked() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
}

func (s *QuizSession) stopAdvanceLocked() {
	if s.advance != nil {
		s.advance.Stop()
		s.advance = nil
	}
}

func (s *QuizSession) broadcastLocked(ev SessionEvent) {
	ev.RemainingMs = s.remainingLocked().Milliseconds()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop the oldest queued event so a slow reader never blocks the session.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func cloneRecord(r AnswerRecord) AnswerRecord {
	if r.SelectedIndex != nil {
		v := *r.SelectedIndex
		r.SelectedIndex = &v
	}
	return r
}

func ceilSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

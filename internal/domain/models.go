package domain

import (
	"fmt"
	"time"
)

// Era groups historical events (e.g. "Thời kỳ Bắc thuộc").
type Era struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	HeroImage   string `json:"heroImage,omitempty" yaml:"heroImage"`
}

// BlockKind discriminates ContentBlock variants.
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockHeading   BlockKind = "heading"
	BlockQuote     BlockKind = "quote"
	BlockImage     BlockKind = "image"
	BlockVideo     BlockKind = "video"
)

// MediaRef points at an image or video asset.
type MediaRef struct {
	URL     string `json:"url" yaml:"url"`
	Caption string `json:"caption,omitempty" yaml:"caption"`
	Credit  string `json:"credit,omitempty" yaml:"credit"`
}

// ContentBlock is one ordered piece of event content. Kind selects which of
// the remaining fields are meaningful.
type ContentBlock struct {
	Kind        BlockKind `json:"kind" yaml:"kind"`
	Text        string    `json:"text,omitempty" yaml:"text"`
	Level       int       `json:"level,omitempty" yaml:"level"`             // heading
	Attribution string    `json:"attribution,omitempty" yaml:"attribution"` // quote
	Media       *MediaRef `json:"media,omitempty" yaml:"media"`             // image, video
}

// IsMedia reports whether the block renders an asset rather than text.
func (b ContentBlock) IsMedia() bool {
	switch b.Kind {
	case BlockImage, BlockVideo:
		return true
	case BlockParagraph, BlockHeading, BlockQuote:
		return false
	default:
		return false
	}
}

// Validate checks that the fields required by the block kind are present.
func (b ContentBlock) Validate() error {
	switch b.Kind {
	case BlockParagraph, BlockQuote:
		if b.Text == "" {
			return fmt.Errorf("%s block: empty text", b.Kind)
		}
	case BlockHeading:
		if b.Text == "" {
			return fmt.Errorf("heading block: empty text")
		}
		if b.Level < 0 || b.Level > 6 {
			return fmt.Errorf("heading block: level %d out of range", b.Level)
		}
	case BlockImage, BlockVideo:
		if b.Media == nil || b.Media.URL == "" {
			return fmt.Errorf("%s block: missing media url", b.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBlockKind, b.Kind)
	}
	return nil
}

// SubEvent is a chapter inside a HistoryEvent.
type SubEvent struct {
	ID      string         `json:"id" yaml:"id"`
	Title   string         `json:"title" yaml:"title"`
	Year    int            `json:"year,omitempty" yaml:"year"`
	Content []ContentBlock `json:"content" yaml:"content"`
	Media   []MediaRef     `json:"media,omitempty" yaml:"media"`
}

// HistoryEvent is an entry on an era timeline.
type HistoryEvent struct {
	ID            string         `json:"id" yaml:"id"`
	EraID         string         `json:"eraId" yaml:"eraId"`
	Year          int            `json:"year" yaml:"year"`
	Month         int            `json:"month,omitempty" yaml:"month"` // 0 when unknown
	Title         string         `json:"title" yaml:"title"`
	Summary       string         `json:"summary" yaml:"summary"`
	Content       []ContentBlock `json:"content" yaml:"content"`
	SubEvents     []SubEvent     `json:"subEvents,omitempty" yaml:"subEvents"`
	Tags          []string       `json:"tags,omitempty" yaml:"tags"`
	FeaturedImage *MediaRef      `json:"featuredImage,omitempty" yaml:"featuredImage"`
}

// Validate checks every content block of the event and its sub-events.
func (e HistoryEvent) Validate() error {
	if e.ID == "" || e.EraID == "" {
		return fmt.Errorf("event %q: id and eraId are required", e.ID)
	}
	for i, b := range e.Content {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("event %s block %d: %w", e.ID, i, err)
		}
	}
	for _, sub := range e.SubEvents {
		for i, b := range sub.Content {
			if err := b.Validate(); err != nil {
				return fmt.Errorf("event %s sub-event %s block %d: %w", e.ID, sub.ID, i, err)
			}
		}
	}
	return nil
}

// QuizQuestion is a multiple choice question from an event's bank.
type QuizQuestion struct {
	ID          string   `json:"id" yaml:"id"`
	SubEventID  string   `json:"subEventId,omitempty" yaml:"subEventId"`
	EventID     string   `json:"eventId" yaml:"eventId"`
	EraID       string   `json:"eraId" yaml:"eraId"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
	Options     []string `json:"options" yaml:"options"`
	AnswerIndex int      `json:"answerIndex" yaml:"answerIndex"` // 0-based into Options
	Explanation string   `json:"explanation,omitempty" yaml:"explanation"`
	TimeLimitMs int      `json:"timeLimitMs,omitempty" yaml:"timeLimitMs"` // 0 uses the default allotment
}

// QuizAttemptSummary is an immutable record of one finished attempt.
type QuizAttemptSummary struct {
	AttemptNumber int       `json:"attemptNumber"`
	Score         int       `json:"score"`
	Stars         int       `json:"stars"`
	Correct       int       `json:"correct"`
	Total         int       `json:"total"`
	AttemptedAt   time.Time `json:"attemptedAt"`
	QuestionIDs   []string  `json:"questionIds"`
	Forced        bool      `json:"forced,omitempty"`
	DurationMs    int64     `json:"durationMs,omitempty"`
}

// HistoryProgress is a user's progress on one event.
type HistoryProgress struct {
	EventID       string               `json:"eventId"`
	ReadRatio     float64              `json:"readRatio"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`
	Attempts      []QuizAttemptSummary `json:"attempts"`
	BestScore     int                  `json:"bestScore"`
	BestStars     int                  `json:"bestStars"`
	LastAttemptAt *time.Time           `json:"lastAttemptAt,omitempty"`
}

// QuizUnlocked reports whether the event has been read far enough to take its quiz.
func (p HistoryProgress) QuizUnlocked() bool {
	return p.CompletedAt != nil
}

// NextAttemptNumber is the attempt number the next recorded attempt must carry.
func (p HistoryProgress) NextAttemptNumber() int {
	return len(p.Attempts) + 1
}

// PersistedQuizState is the resumable snapshot of an in-flight attempt.
// Answers is parallel to QuestionIDs; nil means unanswered.
type PersistedQuizState struct {
	EventID     string     `json:"eventId"`
	StartedAt   time.Time  `json:"startedAt"`
	QuestionIDs []string   `json:"questionIds"`
	Answers     []*int     `json:"answers"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the state is past its expiry at now.
func (s PersistedQuizState) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

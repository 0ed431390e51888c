package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"echoes-history-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// ContentFile is the YAML layout of the local content fixtures.
type ContentFile struct {
	Eras    []domain.Era          `yaml:"eras"`
	Events  []domain.HistoryEvent `yaml:"events"`
	Quizzes []domain.QuizQuestion `yaml:"quizzes"`
}

// LoadContentFile reads and validates a content fixture file.
func LoadContentFile(path string) (*ContentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return ParseContent(data)
}

// ParseContent decodes fixture YAML and validates every event and question.
func ParseContent(data []byte) (*ContentFile, error) {
	var file ContentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	for _, ev := range file.Events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
	}
	for _, q := range file.Quizzes {
		if q.ID == "" || q.EventID == "" {
			return nil, fmt.Errorf("question %q: id and eventId are required", q.ID)
		}
		if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Options) {
			return nil, fmt.Errorf("question %s: %w", q.ID, domain.ErrOptionOutOfRange)
		}
	}
	return &file, nil
}

// StaticContentSource serves content held in memory. It is the local mock
// used when no database is configured, and the fixture source for tests.
type StaticContentSource struct {
	mu     sync.RWMutex
	eras   []domain.Era
	events map[string][]domain.HistoryEvent // by era id
	banks  map[string][]domain.QuizQuestion // by event id
}

func NewStaticContentSource(eras []domain.Era, events []domain.HistoryEvent, banks map[string][]domain.QuizQuestion) *StaticContentSource {
	s := &StaticContentSource{
		eras:   eras,
		events: make(map[string][]domain.HistoryEvent),
		banks:  make(map[string][]domain.QuizQuestion),
	}
	for _, ev := range events {
		s.events[ev.EraID] = append(s.events[ev.EraID], ev)
	}
	for eventID, qs := range banks {
		s.banks[eventID] = qs
	}
	return s
}

// NewContentSourceFromFile builds a source from a parsed fixture file.
func NewContentSourceFromFile(file *ContentFile) *StaticContentSource {
	banks := make(map[string][]domain.QuizQuestion)
	for _, q := range file.Quizzes {
		banks[q.EventID] = append(banks[q.EventID], q)
	}
	return NewStaticContentSource(file.Eras, file.Events, banks)
}

func (s *StaticContentSource) FetchEras(context.Context) ([]domain.Era, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Era, len(s.eras))
	copy(out, s.eras)
	return out, nil
}

// FetchEventsByEra returns ErrEraNotFound only when eras are configured and
// eraID is not among them.
func (s *StaticContentSource) FetchEventsByEra(_ context.Context, eraID string) ([]domain.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.eras) > 0 && !s.hasEraLocked(eraID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrEraNotFound, eraID)
	}
	events := s.events[eraID]
	out := make([]domain.HistoryEvent, len(events))
	copy(out, events)
	return out, nil
}

// FetchQuizByEvent returns an empty bank for events without questions.
func (s *StaticContentSource) FetchQuizByEvent(_ context.Context, eventID string) ([]domain.QuizQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bank := s.banks[eventID]
	out := make([]domain.QuizQuestion, len(bank))
	copy(out, bank)
	return out, nil
}

// Content returns everything the source holds, for seeding other stores.
func (s *StaticContentSource) Content() ContentFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file := ContentFile{Eras: append([]domain.Era(nil), s.eras...)}
	for _, events := range s.events {
		file.Events = append(file.Events, events...)
	}
	for _, bank := range s.banks {
		file.Quizzes = append(file.Quizzes, bank...)
	}
	return file
}

func (s *StaticContentSource) hasEraLocked(eraID string) bool {
	for _, era := range s.eras {
		if era.ID == eraID {
			return true
		}
	}
	return false
}

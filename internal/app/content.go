package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"echoes-history-service/internal/domain"
	"echoes-history-service/internal/logger"
	"golang.org/x/sync/errgroup"
)

// ContentSource is the era/event/quiz table API. There is a remote
// implementation (Postgres) and a local mock (YAML fixtures); one is chosen at
// startup.
type ContentSource interface {
	FetchEras(ctx context.Context) ([]domain.Era, error)
	FetchEventsByEra(ctx context.Context, eraID string) ([]domain.HistoryEvent, error)
	FetchQuizByEvent(ctx context.Context, eventID string) ([]domain.QuizQuestion, error)
}

// EventInvalidator is implemented by sources that keep their own cache of
// era events, so a refresh reaches past it.
type EventInvalidator interface {
	InvalidateEvents(ctx context.Context, eraID string) error
}

// User-facing load errors.
const (
	msgErasUnavailable   = "Không thể tải danh sách thời kỳ. Vui lòng thử lại."
	msgEventsUnavailable = "Không thể tải các sự kiện của thời kỳ này. Vui lòng thử lại."
	msgQuizUnavailable   = "Không thể tải câu hỏi trắc nghiệm."
)

type ErasView struct {
	Eras  []domain.Era `json:"eras"`
	Error string       `json:"error,omitempty"`
}

type EraView struct {
	EraID  string                `json:"eraId"`
	Events []domain.HistoryEvent `json:"events"`
	Error  string                `json:"error,omitempty"`
}

type QuizBankView struct {
	EventID   string                `json:"eventId"`
	Questions []domain.QuizQuestion `json:"questions"`
	Error     string                `json:"error,omitempty"`
}

type FacadeOptions struct {
	// TTL bounds cache entry lifetime; zero keeps entries for the life of the facade.
	TTL                 time.Duration
	Clock               func() time.Time
	PrefetchConcurrency int
	Log                 *logger.Logger
}

// HistoryFacade serves eras, events and quiz banks through per-instance
// caches. Load failures become an error string on the returned view and any
// previously loaded content is kept.
type HistoryFacade struct {
	source        ContentSource
	eras          *ContentCache[[]domain.Era]
	events        *ContentCache[[]domain.HistoryEvent]
	banks         *ContentCache[[]domain.QuizQuestion]
	prefetchLimit int
	log           *logger.Logger

	prefetching sync.WaitGroup
}

func NewHistoryFacade(source ContentSource, opts FacadeOptions) *HistoryFacade {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = 4
	}
	return &HistoryFacade{
		source:        source,
		eras:          NewContentCacheWithClock[[]domain.Era](opts.TTL, opts.Clock),
		events:        NewContentCacheWithClock[[]domain.HistoryEvent](opts.TTL, opts.Clock),
		banks:         NewContentCacheWithClock[[]domain.QuizQuestion](opts.TTL, opts.Clock),
		prefetchLimit: opts.PrefetchConcurrency,
		log:           logger.OrNop(opts.Log).With("component", "content"),
	}
}

const erasKey = "all"

func (f *HistoryFacade) Eras(ctx context.Context) ErasView {
	eras, err := f.eras.Get(ctx, erasKey, f.source.FetchEras)
	view := ErasView{Eras: eras}
	if err != nil {
		f.log.Warn("fetch eras failed", "error", err)
		view.Error = msgErasUnavailable
	}
	if view.Eras == nil {
		view.Eras = []domain.Era{}
	}
	return view
}

// EventsByEra returns the era's events ordered by date and starts prefetching
// their quiz banks in the background.
func (f *HistoryFacade) EventsByEra(ctx context.Context, eraID string) EraView {
	events, err := f.events.Get(ctx, eraID, func(ctx context.Context) ([]domain.HistoryEvent, error) {
		fetched, err := f.source.FetchEventsByEra(ctx, eraID)
		if err != nil {
			return nil, err
		}
		return sortEvents(fetched), nil
	})
	view := EraView{EraID: eraID, Events: events}
	if err != nil {
		f.log.Warn("fetch events failed", "era_id", eraID, "error", err)
		view.Error = msgEventsUnavailable
	} else {
		f.prefetchBanks(ctx, events)
	}
	if view.Events == nil {
		view.Events = []domain.HistoryEvent{}
	}
	return view
}

// Refresh re-fetches one era's events; other eras stay cached.
func (f *HistoryFacade) Refresh(ctx context.Context, eraID string) EraView {
	if inv, ok := f.source.(EventInvalidator); ok {
		if err := inv.InvalidateEvents(ctx, eraID); err != nil {
			f.log.Warn("invalidate source events failed", "era_id", eraID, "error", err)
		}
	}
	f.events.Invalidate(eraID)
	return f.EventsByEra(ctx, eraID)
}

// Event looks an event up within its era.
func (f *HistoryFacade) Event(ctx context.Context, eraID, eventID string) (domain.HistoryEvent, bool) {
	for _, ev := range f.EventsByEra(ctx, eraID).Events {
		if ev.ID == eventID {
			return ev, true
		}
	}
	return domain.HistoryEvent{}, false
}

// QuizBank returns the event's question bank; on failure the bank is empty
// and Error is set.
func (f *HistoryFacade) QuizBank(ctx context.Context, eventID string) QuizBankView {
	questions, err := f.loadBank(ctx, eventID)
	view := QuizBankView{EventID: eventID, Questions: questions}
	if err != nil {
		f.log.Warn("fetch quiz bank failed", "event_id", eventID, "error", err)
		view.Error = msgQuizUnavailable
	}
	if view.Questions == nil {
		view.Questions = []domain.QuizQuestion{}
	}
	return view
}

// WaitForPrefetch blocks until background quiz bank loads have finished.
func (f *HistoryFacade) WaitForPrefetch() {
	f.prefetching.Wait()
}

func (f *HistoryFacade) loadBank(ctx context.Context, eventID string) ([]domain.QuizQuestion, error) {
	return f.banks.Get(ctx, eventID, func(ctx context.Context) ([]domain.QuizQuestion, error) {
		return f.source.FetchQuizByEvent(ctx, eventID)
	})
}

func (f *HistoryFacade) prefetchBanks(ctx context.Context, events []domain.HistoryEvent) {
	var pending []string
	for _, ev := range events {
		if _, ok := f.banks.Peek(ev.ID); !ok {
			pending = append(pending, ev.ID)
		}
	}
	if len(pending) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	f.prefetching.Add(1)
	go func() {
		defer f.prefetching.Done()
		var g errgroup.Group
		g.SetLimit(f.prefetchLimit)
		for _, id := range pending {
			id := id
			g.Go(func() error {
				if _, err := f.loadBank(ctx, id); err != nil {
					f.log.Debug("prefetch quiz bank failed", "event_id", id, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func sortEvents(events []domain.HistoryEvent) []domain.HistoryEvent {
	out := make([]domain.HistoryEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

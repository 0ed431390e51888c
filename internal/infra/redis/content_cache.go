package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ContentCache caches a ContentSource in Redis so instances share one copy of
// the content tables. Eras and events are JSON strings; a quiz bank is a hash
// per event:
//
//	HSET content:quiz:{eventID} {questionID} {question json}
type ContentCache struct {
	client *redis.Client
	source app.ContentSource
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewContentCache(client *redis.Client, source app.ContentSource, ttl time.Duration) *ContentCache {
	return &ContentCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ContentCache) FetchEras(ctx context.Context) ([]domain.Era, error) {
	return cachedJSON(ctx, c, erasKey, c.source.FetchEras)
}

func (c *ContentCache) FetchEventsByEra(ctx context.Context, eraID string) ([]domain.HistoryEvent, error) {
	return cachedJSON(ctx, c, eventsKey(eraID), func(ctx context.Context) ([]domain.HistoryEvent, error) {
		return c.source.FetchEventsByEra(ctx, eraID)
	})
}

func (c *ContentCache) FetchQuizByEvent(ctx context.Context, eventID string) ([]domain.QuizQuestion, error) {
	key := quizKey(eventID)
	if bank, ok := c.readBank(ctx, key); ok {
		return bank, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := c.readBank(ctx, key); ok {
			return bank, nil
		}
		bank, err := c.source.FetchQuizByEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if len(bank) == 0 {
			return bank, nil
		}

		pipe := c.client.Pipeline()
		for _, q := range bank {
			raw, err := json.Marshal(q)
			if err != nil {
				return nil, err
			}
			pipe.HSet(ctx, key, q.ID, raw)
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)
		return bank, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuizQuestion), nil
}

// InvalidateEvents drops the cached events of one era.
func (c *ContentCache) InvalidateEvents(ctx context.Context, eraID string) error {
	return c.client.Del(ctx, eventsKey(eraID)).Err()
}

// readBank returns the cached bank ordered by question id.
func (c *ContentCache) readBank(ctx context.Context, key string) ([]domain.QuizQuestion, bool) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	bank := make([]domain.QuizQuestion, 0, len(fields))
	for _, raw := range fields {
		var q domain.QuizQuestion
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, false
		}
		bank = append(bank, q)
	}
	sort.Slice(bank, func(i, j int) bool { return bank[i].ID < bank[j].ID })
	return bank, true
}

func cachedJSON[T any](ctx context.Context, c *ContentCache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := readJSON[T](ctx, c.client, key); ok {
		return v, nil
	}
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if v, ok := readJSON[T](ctx, c.client, key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(v); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

func readJSON[T any](ctx context.Context, client *redis.Client, key string) (T, bool) {
	var v T
	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil is a plain miss; other errors fall through to the source.
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

const erasKey = "content:eras"

func eventsKey(eraID string) string {
	return "content:events:" + eraID
}

func quizKey(eventID string) string {
	return "content:quiz:" + eventID
}

func (c *ContentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

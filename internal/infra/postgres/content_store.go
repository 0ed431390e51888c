package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"echoes-history-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ContentStore reads the era, event and quiz tables. Each row keeps the full
// record as JSONB; the scalar columns exist for filtering and ordering.
type ContentStore struct {
	pool *pgxpool.Pool
}

func NewContentStore(pool *pgxpool.Pool) *ContentStore {
	return &ContentStore{pool: pool}
}

func (s *ContentStore) FetchEras(ctx context.Context) ([]domain.Era, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM eras ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("load eras: %w", err)
	}
	return scanJSON[domain.Era](rows)
}

func (s *ContentStore) FetchEventsByEra(ctx context.Context, eraID string) ([]domain.HistoryEvent, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM eras WHERE id=$1)`, eraID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("load era: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrEraNotFound, eraID)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM history_events WHERE era_id=$1 ORDER BY year, month, id`, eraID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return scanJSON[domain.HistoryEvent](rows)
}

func (s *ContentStore) FetchQuizByEvent(ctx context.Context, eventID string) ([]domain.QuizQuestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM quiz_questions WHERE event_id=$1 ORDER BY position, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	return scanJSON[domain.QuizQuestion](rows)
}

func scanJSON[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshal row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

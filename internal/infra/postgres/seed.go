package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"echoes-history-service/internal/domain"
	"echoes-history-service/internal/infra/postgres/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// OpenBun opens a bun handle over the pgdriver connector.
func OpenBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Migrate applies every pending content migration.
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, err
	}
	return migrator.Migrate(ctx)
}

type eraRow struct {
	bun.BaseModel `bun:"table:eras"`

	ID       string          `bun:"id,pk"`
	Position int             `bun:"position"`
	Data     json.RawMessage `bun:"data,type:jsonb"`
}

type eventRow struct {
	bun.BaseModel `bun:"table:history_events"`

	ID    string          `bun:"id,pk"`
	EraID string          `bun:"era_id"`
	Year  int             `bun:"year"`
	Month int             `bun:"month"`
	Data  json.RawMessage `bun:"data,type:jsonb"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:quiz_questions"`

	ID       string          `bun:"id,pk"`
	EventID  string          `bun:"event_id"`
	Position int             `bun:"position"`
	Data     json.RawMessage `bun:"data,type:jsonb"`
}

// SeedResult counts the rows upserted by Seed.
type SeedResult struct {
	Eras      int
	Events    int
	Questions int
}

// Seed upserts content in one transaction. Questions keep their order within
// each event's bank.
func Seed(ctx context.Context, db *bun.DB, eras []domain.Era, events []domain.HistoryEvent, questions []domain.QuizQuestion) (SeedResult, error) {
	eraRows := make([]eraRow, 0, len(eras))
	for i, era := range eras {
		data, err := json.Marshal(era)
		if err != nil {
			return SeedResult{}, err
		}
		eraRows = append(eraRows, eraRow{ID: era.ID, Position: i, Data: data})
	}
	eventRows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return SeedResult{}, err
		}
		eventRows = append(eventRows, eventRow{ID: ev.ID, EraID: ev.EraID, Year: ev.Year, Month: ev.Month, Data: data})
	}
	positions := make(map[string]int)
	questionRows := make([]questionRow, 0, len(questions))
	for _, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			return SeedResult{}, err
		}
		questionRows = append(questionRows, questionRow{ID: q.ID, EventID: q.EventID, Position: positions[q.EventID], Data: data})
		positions[q.EventID]++
	}

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(eraRows) > 0 {
			if _, err := tx.NewInsert().Model(&eraRows).
				On("CONFLICT (id) DO UPDATE").
				Set("position = EXCLUDED.position, data = EXCLUDED.data, updated_at = now()").
				Exec(ctx); err != nil {
				return fmt.Errorf("seed eras: %w", err)
			}
		}
		if len(eventRows) > 0 {
			if _, err := tx.NewInsert().Model(&eventRows).
				On("CONFLICT (id) DO UPDATE").
				Set("era_id = EXCLUDED.era_id, year = EXCLUDED.year, month = EXCLUDED.month, data = EXCLUDED.data, updated_at = now()").
				Exec(ctx); err != nil {
				return fmt.Errorf("seed events: %w", err)
			}
		}
		if len(questionRows) > 0 {
			if _, err := tx.NewInsert().Model(&questionRows).
				On("CONFLICT (id) DO UPDATE").
				Set("event_id = EXCLUDED.event_id, position = EXCLUDED.position, data = EXCLUDED.data, updated_at = now()").
				Exec(ctx); err != nil {
				return fmt.Errorf("seed questions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return SeedResult{Eras: len(eraRows), Events: len(eventRows), Questions: len(questionRows)}, nil
}

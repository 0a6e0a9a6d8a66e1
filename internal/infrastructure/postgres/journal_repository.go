package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/journal"
)

// JournalRepository implements journal.Repository.
type JournalRepository struct {
	pool *pgxpool.Pool
}

func NewJournalRepository(pool *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{pool: pool}
}

func (r *JournalRepository) Append(ctx context.Context, e *journal.Entry) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO flow_journal
		(entry_id, flow_id, sequence, state, error_message, context, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, e.EntryID, e.FlowID, e.Sequence, string(e.State), e.ErrorMessage, e.Context, e.RecordedAt)
	return row.Scan(&e.ID)
}

func (r *JournalRepository) ListByFlow(ctx context.Context, flowID uuid.UUID) ([]*journal.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entry_id, flow_id, sequence, state, error_message, context, recorded_at
		FROM flow_journal WHERE flow_id=$1 ORDER BY sequence ASC
	`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*journal.Entry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanJournalEntry(row pgx.Row) (*journal.Entry, error) {
	var e journal.Entry
	var state string
	var errorMessage *string
	if err := row.Scan(&e.ID, &e.EntryID, &e.FlowID, &e.Sequence, &state, &errorMessage, &e.Context, &e.RecordedAt); err != nil {
		return nil, err
	}
	e.State = flow.State(state)
	e.ErrorMessage = errorMessage
	return &e, nil
}

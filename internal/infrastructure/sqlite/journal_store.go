package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/journal"
)

// Open opens a SQLite database at path using the modernc driver.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	return db, nil
}

// JournalStore is a journal.Repository backed by SQLite.
type JournalStore struct {
	db *sql.DB
}

var _ journal.Repository = (*JournalStore)(nil)

// NewJournalStore creates the schema if needed.
func NewJournalStore(ctx context.Context, db *sql.DB) (*JournalStore, error) {
	s := &JournalStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JournalStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS flow_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id TEXT NOT NULL UNIQUE,
			flow_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			state TEXT NOT NULL,
			error_message TEXT,
			context BLOB NOT NULL,
			recorded_at INTEGER NOT NULL,
			UNIQUE (flow_id, sequence)
		);
		CREATE INDEX IF NOT EXISTS idx_flow_journal_flow ON flow_journal (flow_id, sequence);`,
	)
	if err != nil {
		return fmt.Errorf("failed to init journal schema: %w", err)
	}
	return nil
}

func (s *JournalStore) Append(ctx context.Context, e *journal.Entry) error {
	var errMsg sql.NullString
	if e.ErrorMessage != nil {
		errMsg = sql.NullString{String: *e.ErrorMessage, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_journal (entry_id, flow_id, sequence, state, error_message, context, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID.String(),
		e.FlowID.String(),
		e.Sequence,
		string(e.State),
		errMsg,
		[]byte(e.Context),
		e.RecordedAt.UnixNano(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (s *JournalStore) ListByFlow(ctx context.Context, flowID uuid.UUID) ([]*journal.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, flow_id, sequence, state, error_message, context, recorded_at
		FROM flow_journal WHERE flow_id = ? ORDER BY sequence ASC`,
		flowID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*journal.Entry
	for rows.Next() {
		var (
			e        journal.Entry
			entryID  string
			fid      string
			state    string
			errMsg   sql.NullString
			ctxBytes []byte
			recorded int64
		)
		if err := rows.Scan(&e.ID, &entryID, &fid, &e.Sequence, &state, &errMsg, &ctxBytes, &recorded); err != nil {
			return nil, err
		}
		if e.EntryID, err = uuid.Parse(entryID); err != nil {
			return nil, fmt.Errorf("invalid entry id %q: %w", entryID, err)
		}
		if e.FlowID, err = uuid.Parse(fid); err != nil {
			return nil, fmt.Errorf("invalid flow id %q: %w", fid, err)
		}
		e.State = flow.State(state)
		if errMsg.Valid {
			msg := errMsg.String
			e.ErrorMessage = &msg
		}
		e.Context = ctxBytes
		e.RecordedAt = time.Unix(0, recorded).UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

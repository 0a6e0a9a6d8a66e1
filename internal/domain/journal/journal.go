package journal

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/withdrawal"
)

// Entry is one applied flow transition.
type Entry struct {
	ID           int64           `json:"id"`
	EntryID      uuid.UUID       `json:"entryId"`
	FlowID       uuid.UUID       `json:"flowId"`
	Sequence     int64           `json:"sequence"`
	State        flow.State      `json:"state"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	Context      json.RawMessage `json:"context"`
	RecordedAt   time.Time       `json:"recordedAt"`
}

// Repository persists journal entries.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByFlow(ctx context.Context, flowID uuid.UUID) ([]*Entry, error)
}

// Redacted replaces a collected challenge code.
const Redacted = "[redacted]"

type record struct {
	Flow       flow.Context        `json:"flow"`
	Withdrawal *withdrawal.Context `json:"withdrawal,omitempty"`
}

// NewEntry builds the entry for snapshot s. Challenge codes in the
// withdrawal context are redacted.
func NewEntry(flowID uuid.UUID, seq int64, s flow.Snapshot, w *withdrawal.Snapshot) (*Entry, error) {
	rec := record{Flow: s.Context}
	if w != nil {
		wc := w.Context
		if wc.TwoFactorCode != "" {
			wc.TwoFactorCode = Redacted
		}
		if wc.SMSCode != "" {
			wc.SMSCode = Redacted
		}
		rec.Withdrawal = &wc
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		EntryID:    uuid.New(),
		FlowID:     flowID,
		Sequence:   seq,
		State:      s.State,
		Context:    data,
		RecordedAt: time.Now().UTC(),
	}
	if s.Err != nil {
		msg := s.Err.Error()
		e.ErrorMessage = &msg
	}
	return e, nil
}

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[uuid.UUID][]*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[uuid.UUID][]*Entry)}
}

func (r *MemoryRepository) Append(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *entry
	cp.ID = r.nextID
	r.entries[entry.FlowID] = append(r.entries[entry.FlowID], &cp)
	return nil
}

func (r *MemoryRepository) ListByFlow(_ context.Context, flowID uuid.UUID) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries[flowID]))
	for _, e := range r.entries[flowID] {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

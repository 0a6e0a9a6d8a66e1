package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/withdrawal"
)

const (
	defaultBuffer       = 64
	defaultWriteTimeout = 5 * time.Second
)

// Source is an observable flow.
type Source interface {
	flow.Observable
	Withdrawal() (withdrawal.Snapshot, bool)
}

// Recorder appends every applied flow snapshot to a Repository. Writes run on
// a goroutine per flow so they never block a transition; entries are written
// in sequence order.
type Recorder struct {
	repo   Repository
	logger zerolog.Logger
}

func NewRecorder(repo Repository, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger.With().Str("service", "journal").Logger(),
	}
}

// Attach journals src under flowID until the returned func is called. The
// func waits for queued entries to be written.
func (r *Recorder) Attach(flowID uuid.UUID, src Source) (func(), error) {
	logger := r.logger.With().Str("flow_id", flowID.String()).Logger()
	queue := make(chan *Entry, defaultBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range queue {
			ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
			if err := r.repo.Append(ctx, e); err != nil {
				logger.Error().Err(err).Int64("sequence", e.Sequence).Msg("failed to append journal entry")
			}
			cancel()
		}
	}()

	var (
		mu     sync.Mutex
		seq    int64
		closed bool
	)
	unsub, err := src.Subscribe(func(s flow.Snapshot) {
		var w *withdrawal.Snapshot
		if ws, ok := src.Withdrawal(); ok {
			w = &ws
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		seq++
		e, err := NewEntry(flowID, seq, s, w)
		if err != nil {
			logger.Error().Err(err).Msg("failed to build journal entry")
			return
		}
		select {
		case queue <- e:
		default:
			logger.Warn().Int64("sequence", seq).Str("state", string(s.State)).Msg("journal queue full, entry dropped")
		}
	})
	if err != nil {
		close(queue)
		<-done
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			mu.Lock()
			closed = true
			close(queue)
			mu.Unlock()
			<-done
		})
	}, nil
}

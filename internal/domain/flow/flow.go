package flow

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/domain/idempotency"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
	"github.com/execution-hub/exchange-withdraw/internal/domain/withdrawal"
)

// Flow sequences exchange discovery, OAuth, wallet loading, quoting and
// withdrawal. It owns at most one nested withdrawal machine at a time and is
// the only writer to it.
type Flow struct {
	*machine.Machine[State, Context]

	maxRetries int
	newKey     idempotency.Generator
	logger     zerolog.Logger

	childMu        sync.Mutex
	child          *withdrawal.Machine
	lastWithdrawal *withdrawal.Snapshot

	releaseMu    sync.Mutex
	releaseHooks []func()
	released     bool
}

// Option configures a Flow.
type Option func(*Flow)

// WithMaxRetryAttempts sets the retry budget of each withdrawal attempt.
func WithMaxRetryAttempts(n int) Option {
	return func(f *Flow) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithWithdrawalKeyGenerator overrides the idempotency key source handed to
// nested withdrawal machines.
func WithWithdrawalKeyGenerator(gen idempotency.Generator) Option {
	return func(f *Flow) {
		f.newKey = gen
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// New creates a flow in the idle state.
func New(orgID, projectID string, opts ...Option) *Flow {
	f := &Flow{
		maxRetries: DefaultMaxRetryAttempts,
		newKey:     idempotency.NewKey,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "flow").Logger()
	f.Machine = machine.New(StateIdle, Context{
		OrgID:            orgID,
		ProjectID:        projectID,
		MaxRetryAttempts: f.maxRetries,
	}, f.transitions())
	return f
}

// Send applies action. Once the flow reaches a terminal state the release
// hooks run.
func (f *Flow) Send(action machine.Action) (bool, error) {
	applied, err := f.Machine.Send(action)
	if err != nil || !applied {
		return applied, err
	}
	snap, err := f.Machine.State()
	if err != nil {
		return true, nil
	}
	f.logger.Debug().
		Str("action", string(action.Type())).
		Str("state", string(snap.State)).
		Msg("flow transition")
	if snap.State.IsTerminal() {
		f.logger.Info().Str("state", string(snap.State)).Msg("flow ended")
		f.release()
	}
	return true, nil
}

// Snapshot returns the current snapshot.
func (f *Flow) Snapshot() (Snapshot, error) {
	return f.State()
}

// OnRelease registers fn to run once when the flow ends or is disposed.
// Hooks run in reverse registration order. If the flow has already been
// released fn runs immediately.
func (f *Flow) OnRelease(fn func()) {
	f.releaseMu.Lock()
	if f.released {
		f.releaseMu.Unlock()
		fn()
		return
	}
	f.releaseHooks = append(f.releaseHooks, fn)
	f.releaseMu.Unlock()
}

func (f *Flow) release() {
	f.releaseMu.Lock()
	if f.released {
		f.releaseMu.Unlock()
		return
	}
	f.released = true
	hooks := f.releaseHooks
	f.releaseHooks = nil
	f.releaseMu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Dispose releases the nested machine and every registered resource, then
// disposes the flow itself.
func (f *Flow) Dispose() {
	f.releaseChild()
	f.release()
	f.Machine.Dispose()
}

// Withdrawal returns the nested machine's snapshot, or the last one seen
// before the attempt was closed.
func (f *Flow) Withdrawal() (withdrawal.Snapshot, bool) {
	f.childMu.Lock()
	defer f.childMu.Unlock()
	if f.child != nil {
		if s, err := f.child.Snapshot(); err == nil {
			return s, true
		}
	}
	if f.lastWithdrawal != nil {
		return *f.lastWithdrawal, true
	}
	return withdrawal.Snapshot{}, false
}

// HasActiveWithdrawal reports whether a nested machine is currently owned.
func (f *Flow) HasActiveWithdrawal() bool {
	f.childMu.Lock()
	defer f.childMu.Unlock()
	return f.child != nil
}

func (f *Flow) startChild(quoteID, walletID string) (withdrawal.Snapshot, error) {
	child := withdrawal.New(f.maxRetries, withdrawal.WithKeyGenerator(f.newKey))
	if _, err := child.Send(withdrawal.Execute{QuoteID: quoteID, WalletID: walletID}); err != nil {
		return withdrawal.Snapshot{}, err
	}
	s, err := child.Snapshot()
	if err != nil {
		return withdrawal.Snapshot{}, err
	}

	f.childMu.Lock()
	old := f.child
	f.child = child
	f.lastWithdrawal = nil
	f.childMu.Unlock()
	if old != nil {
		old.Dispose()
	}
	return s, nil
}

// sendChild forwards action to the nested machine and reports whether it
// was applied.
func (f *Flow) sendChild(action machine.Action) (withdrawal.Snapshot, bool) {
	f.childMu.Lock()
	defer f.childMu.Unlock()
	if f.child == nil {
		return withdrawal.Snapshot{}, false
	}
	applied, err := f.child.Send(action)
	if err != nil || !applied {
		return withdrawal.Snapshot{}, false
	}
	s, err := f.child.Snapshot()
	if err != nil {
		return withdrawal.Snapshot{}, false
	}
	return s, true
}

func (f *Flow) childState() (withdrawal.State, bool) {
	f.childMu.Lock()
	defer f.childMu.Unlock()
	if f.child == nil {
		return "", false
	}
	s, err := f.child.Snapshot()
	if err != nil {
		return "", false
	}
	return s.State, true
}

// releaseChild disposes the nested machine, keeping its final snapshot.
func (f *Flow) releaseChild() {
	f.childMu.Lock()
	child := f.child
	f.child = nil
	if child != nil {
		if s, err := child.Snapshot(); err == nil {
			f.lastWithdrawal = &s
		}
	}
	f.childMu.Unlock()
	if child != nil {
		child.Dispose()
	}
}

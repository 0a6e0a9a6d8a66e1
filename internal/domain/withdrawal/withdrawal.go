package withdrawal

import (
	"errors"

	"github.com/execution-hub/exchange-withdraw/internal/domain/idempotency"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
)

// State represents withdrawal attempt state.
type State string

const (
	StateIdle          State = "idle"
	StateProcessing    State = "processing"
	StateWaitingFor2FA State = "waitingFor2FA"
	StateWaitingForSMS State = "waitingForSMS"
	StateWaitingForKYC State = "waitingForKYC"
	StateRetrying      State = "retrying"
	StateCompleted     State = "completed"
	StateBlocked       State = "blocked"
	StateFailed        State = "failed"
)

// Required actions reported when the server does not name one.
const (
	RequiredAction2FA = "2fa"
	RequiredActionSMS = "sms"
	RequiredActionKYC = "kyc"
)

// DefaultMaxRetries is used when New is given a negative retry budget.
const DefaultMaxRetries = 3

// Context is the data carried by a withdrawal attempt.
type Context struct {
	QuoteID         string   `json:"quoteId"`
	WalletID        string   `json:"walletId"`
	IdempotencyKey  string   `json:"idempotencyKey"`
	RetryCount      int      `json:"retryCount"`
	MaxRetries      int      `json:"maxRetries"`
	TwoFactorCode   string   `json:"twoFactorCode,omitempty"`
	SMSCode         string   `json:"smsCode,omitempty"`
	RequiredActions []string `json:"requiredActions,omitempty"`
	TransactionID   string   `json:"transactionId,omitempty"`
	LastError       error    `json:"-"`
}

// Clone returns a copy that shares no slices with c.
func (c Context) Clone() Context {
	if c.RequiredActions != nil {
		c.RequiredActions = append([]string(nil), c.RequiredActions...)
	}
	return c
}

// Snapshot is the observable value of a withdrawal machine.
type Snapshot = machine.Snapshot[State, Context]

// IsTerminal reports whether s closes the attempt.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateBlocked || s == StateFailed
}

// Machine owns the lifecycle of a single withdrawal.
type Machine struct {
	*machine.Machine[State, Context]
	newKey idempotency.Generator
}

// Option configures a Machine.
type Option func(*Machine)

// WithKeyGenerator overrides the idempotency key source.
func WithKeyGenerator(gen idempotency.Generator) Option {
	return func(m *Machine) {
		m.newKey = gen
	}
}

// New creates a withdrawal machine in the idle state.
func New(maxRetries int, opts ...Option) *Machine {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	m := &Machine{newKey: idempotency.NewKey}
	for _, opt := range opts {
		opt(m)
	}
	m.Machine = machine.New(StateIdle, Context{MaxRetries: maxRetries}, m.transitions())
	return m
}

// Snapshot returns the current snapshot.
func (m *Machine) Snapshot() (Snapshot, error) {
	return m.State()
}

type transition = machine.TransitionFunc[State, Context]

func (m *Machine) transitions() machine.Transitions[State, Context] {
	return machine.Transitions[State, Context]{
		StateIdle: {
			ActionExecute: m.execute,
		},
		StateProcessing: {
			ActionRequires2FA: challenge(StateWaitingFor2FA, RequiredAction2FA),
			ActionRequiresSMS: challenge(StateWaitingForSMS, RequiredActionSMS),
			ActionRequiresKYC: challenge(StateWaitingForKYC, RequiredActionKYC),
			ActionSuccess:     succeed,
			ActionFail:        fail,
			ActionBlocked:     block,
		},
		StateWaitingFor2FA: {
			ActionSubmit2FA: submit2FA,
		},
		StateWaitingForSMS: {
			ActionSubmitSMS: submitSMS,
		},
		StateRetrying: {
			ActionRetry: m.retry,
		},
		// waitingForKYC, completed, blocked and failed have no exits.
	}
}

func (m *Machine) execute(cur Snapshot, a machine.Action) (Snapshot, bool) {
	act := a.(Execute)
	cur.State = StateProcessing
	cur.Context.QuoteID = act.QuoteID
	cur.Context.WalletID = act.WalletID
	cur.Context.IdempotencyKey = m.newKey()
	cur.Context.RetryCount = 0
	cur.Context.RequiredActions = nil
	cur.Context.LastError = nil
	cur.Err = nil
	return cur, true
}

func (m *Machine) retry(cur Snapshot, _ machine.Action) (Snapshot, bool) {
	cur.State = StateProcessing
	cur.Context.IdempotencyKey = m.newKey()
	cur.Err = nil
	return cur, true
}

func challenge(to State, fallback string) transition {
	return func(cur Snapshot, a machine.Action) (Snapshot, bool) {
		cur.State = to
		cur.Context.RequiredActions = requiredActions(a, fallback)
		return cur, true
	}
}

func submit2FA(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur.State = StateProcessing
	cur.Context.TwoFactorCode = a.(Submit2FA).Code
	cur.Context.RequiredActions = nil
	return cur, true
}

func submitSMS(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur.State = StateProcessing
	cur.Context.SMSCode = a.(SubmitSMS).Code
	cur.Context.RequiredActions = nil
	return cur, true
}

func succeed(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur.State = StateCompleted
	cur.Context.TransactionID = a.(Success).TransactionID
	cur.Err = nil
	return cur, true
}

func fail(cur Snapshot, a machine.Action) (Snapshot, bool) {
	err := a.(Fail).Err
	if err == nil {
		err = errors.New("withdrawal failed")
	}
	cur.Context.LastError = err
	cur.Err = err
	if cur.Context.RetryCount < cur.Context.MaxRetries {
		cur.State = StateRetrying
		cur.Context.RetryCount++
		return cur, true
	}
	cur.State = StateFailed
	return cur, true
}

func block(cur Snapshot, a machine.Action) (Snapshot, bool) {
	reason := a.(Blocked).Reason
	if reason == "" {
		reason = "withdrawal blocked"
	}
	cur.State = StateBlocked
	cur.Err = errors.New(reason)
	cur.Context.LastError = cur.Err
	return cur, true
}

func requiredActions(a machine.Action, fallback string) []string {
	var in []string
	switch act := a.(type) {
	case Requires2FA:
		in = act.RequiredActions
	case RequiresSMS:
		in = act.RequiredActions
	case RequiresKYC:
		in = act.RequiredActions
	}
	if len(in) == 0 {
		return []string{fallback}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

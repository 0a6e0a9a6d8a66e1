package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/idempotency"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
	"github.com/execution-hub/exchange-withdraw/internal/domain/withdrawal"
)

var (
	// ErrNotAllowed is returned when the flow's current state does not accept the call.
	ErrNotAllowed = errors.New("action not allowed in current state")
	// ErrWindowClosed is the error recorded when the user dismisses the authorization window.
	ErrWindowClosed = errors.New("authorization window closed by user")
)

// Collaborators are the external services a Client drives.
type Collaborators struct {
	Exchanges   exchange.ExchangeLister
	Balances    exchange.BalanceFetcher
	Quotes      exchange.QuoteRequester
	Withdrawals exchange.WithdrawalExecutor
	Popup       exchange.PopupOpener
	Messages    exchange.MessageChannel
}

// Config identifies the tenant a Client acts for.
type Config struct {
	OrgID            string
	ProjectID        string
	MaxRetryAttempts int
	RedirectURL      string
}

// Client wires collaborator calls to flow actions. Collaborator failures are
// reflected in the flow state, never returned.
type Client struct {
	flow   *flow.Flow
	deps   Collaborators
	cfg    Config
	policy *RetryPolicy
	newKey idempotency.Generator
	now    func() time.Time
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	quoteTimer    *time.Timer
	closePopup    func()
	oauthUnsub    func()
	withdrawUnsub func()
	withdrawTopic string
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy sets the policy deciding whether an unclassified
// withdrawal failure consumes the retry budget or ends the flow.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithKeyGenerator overrides the idempotency key source for OAuth and
// withdrawal attempts.
func WithKeyGenerator(gen idempotency.Generator) Option {
	return func(c *Client) {
		c.newKey = gen
	}
}

// WithClock overrides the time source used for quote expiration.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client with a fresh flow in the idle state.
func NewClient(cfg Config, deps Collaborators, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		deps:   deps,
		cfg:    cfg,
		policy: DefaultRetryPolicy(),
		newKey: idempotency.NewKey,
		now:    time.Now,
		logger: logger.With().Str("service", "withdraw-client").Str("org_id", cfg.OrgID).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxRetryAttempts <= 0 {
		c.cfg.MaxRetryAttempts = flow.DefaultMaxRetryAttempts
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.flow = flow.New(cfg.OrgID, cfg.ProjectID,
		flow.WithMaxRetryAttempts(c.cfg.MaxRetryAttempts),
		flow.WithWithdrawalKeyGenerator(c.newKey),
		flow.WithLogger(c.logger),
	)
	c.flow.OnRelease(c.releaseResources)
	return c
}

// State returns the current flow snapshot.
func (c *Client) State() (flow.Snapshot, error) {
	return c.flow.Snapshot()
}

// Subscribe registers fn for flow snapshots. fn is called immediately with
// the current snapshot.
func (c *Client) Subscribe(fn flow.Listener) (func(), error) {
	return c.flow.Subscribe(fn)
}

// Withdrawal returns the snapshot of the current or last withdrawal attempt.
func (c *Client) Withdrawal() (withdrawal.Snapshot, bool) {
	return c.flow.Withdrawal()
}

// Cancel moves the flow to flow:cancelled and releases the popup, the
// message subscriptions and the quote timer. In-flight calls are not aborted.
func (c *Client) Cancel() error {
	return c.send(flow.CancelFlow{})
}

// Dispose cancels owned resources and disposes the flow.
func (c *Client) Dispose() {
	c.flow.Dispose()
}

// LoadExchanges fetches the list of connectable exchanges.
func (c *Client) LoadExchanges(ctx context.Context) error {
	if err := c.send(flow.LoadExchanges{}); err != nil {
		return err
	}
	list, err := c.deps.Exchanges.ListExchanges(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("list exchanges failed")
		return c.sendQuiet(flow.ExchangesFailed{Err: err})
	}
	return c.sendQuiet(flow.ExchangesLoaded{Exchanges: list})
}

// LoadWallet fetches balances of the authorized wallet.
func (c *Client) LoadWallet(ctx context.Context) error {
	if err := c.send(flow.LoadWallet{}); err != nil {
		return err
	}
	snap, err := c.flow.Snapshot()
	if err != nil {
		return err
	}
	balances, err := c.deps.Balances.FetchBalances(ctx, snap.Context.WalletID)
	if err != nil {
		c.logger.Warn().Err(err).Str("wallet_id", snap.Context.WalletID).Msg("fetch balances failed")
		return c.sendQuiet(flow.WalletFailed{Err: err})
	}
	return c.sendQuiet(flow.WalletLoaded{Balances: balances})
}

// send applies action and maps a rejected transition to ErrNotAllowed.
func (c *Client) send(action machine.Action) error {
	applied, err := c.flow.Send(action)
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotAllowed
	}
	return nil
}

// sendQuiet applies the outcome of a collaborator call. The flow may have
// moved on while the call was in flight, so a rejected transition is not an
// error.
func (c *Client) sendQuiet(action machine.Action) error {
	applied, err := c.flow.Send(action)
	if err != nil {
		return err
	}
	if !applied {
		c.logger.Debug().Str("action", string(action.Type())).Msg("stale outcome ignored")
	}
	return nil
}

func (c *Client) releaseResources() {
	c.mu.Lock()
	timer := c.quoteTimer
	c.quoteTimer = nil
	closePopup := c.closePopup
	c.closePopup = nil
	oauthUnsub := c.oauthUnsub
	c.oauthUnsub = nil
	withdrawUnsub := c.withdrawUnsub
	c.withdrawUnsub = nil
	c.withdrawTopic = ""
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if closePopup != nil {
		closePopup()
	}
	if oauthUnsub != nil {
		oauthUnsub()
	}
	if withdrawUnsub != nil {
		withdrawUnsub()
	}
	c.cancel()
	c.logger.Debug().Msg("client resources released")
}

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
)

var ErrUnknownExchange = errors.New("unknown exchange")

// Config tunes the sandbox exchange.
type Config struct {
	// TOTPSecret enables 2FA for withdrawals above TwoFactorThreshold.
	TOTPSecret         string
	TwoFactorThreshold decimal.Decimal
	MinAmount          decimal.Decimal
	MaxAmount          decimal.Decimal
	QuoteTTL           time.Duration
	// SettleDelay is the wait before withdrawal.completed is published. Zero
	// completes withdrawals synchronously.
	SettleDelay      time.Duration
	AuthorizeDelay   time.Duration
	Fees             map[string]decimal.Decimal
	Balances         []exchange.Balance
	BlockedAddresses []string
}

// DefaultConfig returns a sandbox that requires no 2FA.
func DefaultConfig() Config {
	return Config{
		TwoFactorThreshold: decimal.NewFromInt(1000),
		MinAmount:          decimal.RequireFromString("0.0001"),
		MaxAmount:          decimal.NewFromInt(100000),
		QuoteTTL:           30 * time.Second,
		SettleDelay:        2 * time.Second,
		AuthorizeDelay:     500 * time.Millisecond,
		Fees: map[string]decimal.Decimal{
			"BTC":  decimal.RequireFromString("0.0001"),
			"ETH":  decimal.RequireFromString("0.002"),
			"USDC": decimal.NewFromInt(1),
		},
		Balances: []exchange.Balance{
			{Asset: "BTC", Amount: decimal.NewFromInt(1), Networks: []string{"bitcoin"}},
			{Asset: "ETH", Amount: decimal.NewFromInt(10), Networks: []string{"ethereum", "arbitrum"}},
			{Asset: "USDC", Amount: decimal.NewFromInt(5000), Networks: []string{"ethereum", "solana", "base"}},
		},
		BlockedAddresses: []string{"0x000000000000000000000000000000000000dead"},
	}
}

var exchanges = []exchange.Exchange{
	{Slug: "coinbase", DisplayName: "Coinbase"},
	{Slug: "kraken", DisplayName: "Kraken"},
	{Slug: "binance", DisplayName: "Binance"},
}

type quoteRecord struct {
	quote    exchange.Quote
	walletID string
	address  string
}

// Exchange is an in-memory exchange implementing every collaborator the
// withdrawal client needs.
type Exchange struct {
	cfg    Config
	bus    exchange.MessageChannel
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	wallets  map[string]map[string]*exchange.Balance
	quotes   map[string]*quoteRecord
	executed map[string]*exchange.WithdrawalResult
	blocked  map[string]struct{}
	timers   map[*time.Timer]struct{}
	closed   bool
}

type Option func(*Exchange)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		e.now = now
	}
}

func New(cfg Config, bus exchange.MessageChannel, logger zerolog.Logger, opts ...Option) *Exchange {
	e := &Exchange{
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With().Str("service", "sandbox").Logger(),
		now:      time.Now,
		wallets:  make(map[string]map[string]*exchange.Balance),
		quotes:   make(map[string]*quoteRecord),
		executed: make(map[string]*exchange.WithdrawalResult),
		blocked:  make(map[string]struct{}),
		timers:   make(map[*time.Timer]struct{}),
	}
	for _, addr := range cfg.BlockedAddresses {
		e.blocked[strings.ToLower(addr)] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close stops pending settlement and authorization timers.
func (e *Exchange) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})
}

func (e *Exchange) ListExchanges(ctx context.Context) ([]exchange.Exchange, error) {
	out := make([]exchange.Exchange, len(exchanges))
	copy(out, exchanges)
	return out, nil
}

func (e *Exchange) FetchBalances(ctx context.Context, walletID string) ([]exchange.Balance, error) {
	if walletID == "" {
		return nil, &errorcode.APIError{Kind: errorcode.KindUnknown, Code: "wallet_not_found", Message: "wallet id is required", Status: http.StatusNotFound}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.walletLocked(walletID)
	out := make([]exchange.Balance, 0, len(e.cfg.Balances))
	for _, seed := range e.cfg.Balances {
		b := w[seed.Asset]
		out = append(out, exchange.Balance{
			Asset:    b.Asset,
			Amount:   b.Amount,
			Networks: append([]string(nil), b.Networks...),
		})
	}
	return out, nil
}

func (e *Exchange) RequestQuote(ctx context.Context, walletID string, req exchange.QuoteRequest) (*exchange.Quote, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		return nil, badRequest("invalid_amount", fmt.Sprintf("amount %q is not a positive number", req.Amount))
	}
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))

	e.mu.Lock()
	defer e.mu.Unlock()
	bal, ok := e.walletLocked(walletID)[asset]
	if !ok {
		return nil, badRequest("asset_not_supported", fmt.Sprintf("asset %s is not supported", req.Asset))
	}
	if amount.LessThan(e.cfg.MinAmount) {
		return nil, badRequest("withdraw_amount_too_low", fmt.Sprintf("minimum withdrawal is %s", e.cfg.MinAmount))
	}
	if e.cfg.MaxAmount.IsPositive() && amount.GreaterThan(e.cfg.MaxAmount) {
		return nil, badRequest("withdraw_amount_too_high", fmt.Sprintf("maximum withdrawal is %s", e.cfg.MaxAmount))
	}
	if !validAddress(req.DestinationAddress) {
		return nil, badRequest("invalid_address", "destination address is malformed")
	}
	if req.Network != "" && !contains(bal.Networks, req.Network) {
		return nil, badRequest("network_not_supported", fmt.Sprintf("network %s is not supported for %s", req.Network, asset))
	}

	fee := e.cfg.Fees[asset]
	net, total := amount, amount.Add(fee)
	if req.IncludeFee {
		net, total = amount.Sub(fee), amount
		if !net.IsPositive() {
			return nil, badRequest("withdraw_amount_too_low", "amount does not cover the network fee")
		}
	}

	q := exchange.Quote{
		ID:             uuid.NewString(),
		Asset:          asset,
		Amount:         net,
		EstimatedFee:   fee,
		EstimatedTotal: total,
		ExpiresAt:      e.now().Add(e.cfg.QuoteTTL).UnixMilli(),
	}
	e.quotes[q.ID] = &quoteRecord{quote: q, walletID: walletID, address: req.DestinationAddress}
	e.logger.Debug().Str("quote_id", q.ID).Str("asset", asset).Str("total", total.String()).Msg("quote issued")
	return &q, nil
}

func (e *Exchange) ExecuteWithdrawal(ctx context.Context, walletID, idempotencyKey, quoteID string, input exchange.ChallengeInput) (*exchange.WithdrawalResult, error) {
	if idempotencyKey == "" {
		return nil, badRequest("idempotency_key_required", "idempotency key is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if res, ok := e.executed[idempotencyKey]; ok {
		cp := *res
		return &cp, nil
	}

	rec, ok := e.quotes[quoteID]
	if !ok || rec.walletID != walletID {
		return nil, &errorcode.APIError{Kind: errorcode.KindUnknown, Code: "quote_not_found", Message: "quote not found", Status: http.StatusNotFound}
	}
	now := e.now()
	if !now.Before(rec.quote.ExpiresAtTime()) {
		delete(e.quotes, quoteID)
		return nil, apiError(http.StatusBadRequest, "quote_expired", fmt.Sprintf("quote %s expired", quoteID))
	}
	if _, blocked := e.blocked[strings.ToLower(rec.address)]; blocked {
		return nil, apiError(http.StatusForbidden, "withdrawal_blocked", "destination address is blocked by compliance")
	}
	if err := e.checkTwoFactor(rec.quote.EstimatedTotal, input.TwoFactorCode, now); err != nil {
		return nil, err
	}
	bal := e.walletLocked(walletID)[rec.quote.Asset]
	if bal.Amount.LessThan(rec.quote.EstimatedTotal) {
		return nil, apiError(http.StatusBadRequest, "insufficient_balance",
			fmt.Sprintf("balance %s %s is below %s", bal.Amount, bal.Asset, rec.quote.EstimatedTotal))
	}

	bal.Amount = bal.Amount.Sub(rec.quote.EstimatedTotal)
	delete(e.quotes, quoteID)

	res := &exchange.WithdrawalResult{
		ID:             uuid.NewString(),
		Status:         exchange.WithdrawalPending,
		TransactionID:  "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		IdempotencyKey: idempotencyKey,
	}
	if e.cfg.SettleDelay <= 0 {
		res.Status = exchange.WithdrawalCompleted
	} else {
		e.scheduleLocked(e.cfg.SettleDelay, idempotencyKey, exchange.MessageWithdrawalCompleted,
			exchange.MessagePayload{TransactionID: res.TransactionID})
	}
	e.executed[idempotencyKey] = res

	e.logger.Info().
		Str("withdrawal_id", res.ID).
		Str("idempotency_key", idempotencyKey).
		Str("asset", rec.quote.Asset).
		Str("total", rec.quote.EstimatedTotal.String()).
		Str("status", string(res.Status)).
		Msg("withdrawal accepted")
	cp := *res
	return &cp, nil
}

// Open authorizes immediately: oauth.completed is published on the params'
// idempotency key after AuthorizeDelay.
func (e *Exchange) Open(ctx context.Context, slug string, params exchange.OAuthParams, onClosedByUser func()) (func(), error) {
	if !knownExchange(slug) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, slug)
	}
	e.mu.Lock()
	t := e.scheduleLocked(e.cfg.AuthorizeDelay, params.IdempotencyKey, exchange.MessageOAuthCompleted, exchange.MessagePayload{})
	e.mu.Unlock()
	e.logger.Debug().Str("exchange", slug).Str("wallet_id", params.WalletID).Msg("oauth popup opened")
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if t != nil {
			t.Stop()
			delete(e.timers, t)
		}
	}, nil
}

func (e *Exchange) checkTwoFactor(total decimal.Decimal, code string, now time.Time) error {
	if e.cfg.TOTPSecret == "" || total.LessThanOrEqual(e.cfg.TwoFactorThreshold) {
		return nil
	}
	if code == "" {
		return &errorcode.APIError{
			Kind:            errorcode.KindTwoFARequired,
			Code:            "2fa_required",
			Message:         "two-factor code required",
			Status:          http.StatusForbidden,
			RequiredActions: []string{"2fa"},
		}
	}
	valid, err := totp.ValidateCustom(code, e.cfg.TOTPSecret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return apiError(http.StatusForbidden, "2fa_invalid", "two-factor code is invalid")
	}
	return nil
}

func (e *Exchange) scheduleLocked(delay time.Duration, topic string, typ exchange.MessageType, payload exchange.MessagePayload) *time.Timer {
	if e.closed || e.bus == nil {
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		e.mu.Lock()
		_, live := e.timers[t]
		delete(e.timers, t)
		e.mu.Unlock()
		if !live {
			return
		}
		msg, err := exchange.NewMessage(topic, typ, payload)
		if err != nil {
			e.logger.Error().Err(err).Msg("failed to build message")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.bus.Publish(ctx, msg); err != nil {
			e.logger.Error().Err(err).Str("topic", topic).Str("type", string(typ)).Msg("failed to publish message")
		}
	})
	e.timers[t] = struct{}{}
	return t
}

func (e *Exchange) walletLocked(walletID string) map[string]*exchange.Balance {
	w, ok := e.wallets[walletID]
	if ok {
		return w
	}
	w = make(map[string]*exchange.Balance, len(e.cfg.Balances))
	for _, seed := range e.cfg.Balances {
		w[seed.Asset] = &exchange.Balance{
			Asset:    seed.Asset,
			Amount:   seed.Amount,
			Networks: append([]string(nil), seed.Networks...),
		}
	}
	e.wallets[walletID] = w
	return w
}

// GenerateSecret creates a TOTP secret for the sandbox account.
func GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "exchange-withdraw-sandbox",
		AccountName: "sandbox@localhost",
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), nil
}

// CurrentCode returns the valid TOTP code for secret at t.
func CurrentCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCode(secret, t)
}

func apiError(status int, code, message string) *errorcode.APIError {
	err := errorcode.New(code, message)
	err.Status = status
	return err
}

func badRequest(code, message string) *errorcode.APIError {
	return apiError(http.StatusBadRequest, code, message)
}

func validAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if len(addr) < 8 || len(addr) > 128 {
		return false
	}
	return !strings.ContainsAny(addr, " \t\n")
}

func knownExchange(slug string) bool {
	for _, ex := range exchanges {
		if ex.Slug == slug {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange/mocks"
	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
	"github.com/execution-hub/exchange-withdraw/internal/domain/withdrawal"
)

type harness struct {
	ctrl        *gomock.Controller
	exchanges   *mocks.MockExchangeLister
	balances    *mocks.MockBalanceFetcher
	quotes      *mocks.MockQuoteRequester
	withdrawals *mocks.MockWithdrawalExecutor
	popup       *mocks.MockPopupOpener
	messages    *mocks.MockMessageChannel
	client      *Client

	mu           sync.Mutex
	handlers     map[string]func(exchange.Message)
	unsubscribed []string
	popupClosed  int
	onClosed     func()
}

func sequentialKeys() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("key-%d", n)
	}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		ctrl:        ctrl,
		exchanges:   mocks.NewMockExchangeLister(ctrl),
		balances:    mocks.NewMockBalanceFetcher(ctrl),
		quotes:      mocks.NewMockQuoteRequester(ctrl),
		withdrawals: mocks.NewMockWithdrawalExecutor(ctrl),
		popup:       mocks.NewMockPopupOpener(ctrl),
		messages:    mocks.NewMockMessageChannel(ctrl),
		handlers:    map[string]func(exchange.Message){},
	}
	h.messages.EXPECT().
		Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, topic string, handler func(exchange.Message)) (func(), error) {
			h.mu.Lock()
			h.handlers[topic] = handler
			h.mu.Unlock()
			return func() {
				h.mu.Lock()
				delete(h.handlers, topic)
				h.unsubscribed = append(h.unsubscribed, topic)
				h.mu.Unlock()
			}, nil
		}).
		AnyTimes()

	opts = append([]Option{WithKeyGenerator(sequentialKeys())}, opts...)
	h.client = NewClient(Config{OrgID: "org-1", ProjectID: "proj-1", MaxRetryAttempts: 2, RedirectURL: "https://app.test/cb"},
		Collaborators{
			Exchanges:   h.exchanges,
			Balances:    h.balances,
			Quotes:      h.quotes,
			Withdrawals: h.withdrawals,
			Popup:       h.popup,
			Messages:    h.messages,
		}, zerolog.Nop(), opts...)
	t.Cleanup(h.client.Dispose)
	return h
}

func (h *harness) deliver(t *testing.T, topic string, typ exchange.MessageType, payload exchange.MessagePayload) {
	t.Helper()
	h.mu.Lock()
	handler, ok := h.handlers[topic]
	h.mu.Unlock()
	require.True(t, ok, "no subscription for topic %s", topic)
	msg, err := exchange.NewMessage(topic, typ, payload)
	require.NoError(t, err)
	handler(msg)
}

func (h *harness) subscribed(topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.handlers[topic]
	return ok
}

func (h *harness) state(t *testing.T) flow.Snapshot {
	t.Helper()
	s, err := h.client.State()
	require.NoError(t, err)
	return s
}

func (h *harness) expectPopup() {
	h.popup.EXPECT().
		Open(gomock.Any(), "coinbase", exchange.OAuthParams{
			OrgID:          "org-1",
			ProjectID:      "proj-1",
			WalletID:       "w1",
			IdempotencyKey: "key-1",
			RedirectURL:    "https://app.test/cb",
		}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ exchange.OAuthParams, onClosed func()) (func(), error) {
			h.mu.Lock()
			h.onClosed = onClosed
			h.mu.Unlock()
			return func() {
				h.mu.Lock()
				h.popupClosed++
				h.mu.Unlock()
			}, nil
		})
}

func (h *harness) toWalletReady(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	h.expectPopup()
	require.NoError(t, h.client.StartOAuth(ctx, "coinbase", "w1"))
	h.deliver(t, "key-1", exchange.MessageOAuthCompleted, exchange.MessagePayload{})

	h.balances.EXPECT().FetchBalances(ctx, "w1").
		Return([]exchange.Balance{{Asset: "BTC", Amount: decimal.RequireFromString("1.0")}}, nil)
	require.NoError(t, h.client.LoadWallet(ctx))
}

func testQuote(id string, ttl time.Duration) *exchange.Quote {
	return &exchange.Quote{
		ID:             id,
		Asset:          "BTC",
		Amount:         decimal.RequireFromString("0.5"),
		EstimatedFee:   decimal.RequireFromString("0.0005"),
		EstimatedTotal: decimal.RequireFromString("0.5005"),
		ExpiresAt:      time.Now().Add(ttl).UnixMilli(),
	}
}

var quoteReq = exchange.QuoteRequest{Asset: "BTC", Amount: "0.5", DestinationAddress: "bc1qdest"}

func (h *harness) toQuoteReady(t *testing.T, ttl time.Duration) {
	t.Helper()
	h.toWalletReady(t)
	h.quotes.EXPECT().RequestQuote(gomock.Any(), "w1", quoteReq).Return(testQuote("quote-1", ttl), nil)
	require.NoError(t, h.client.RequestQuote(context.Background(), quoteReq))
}

func pending() *exchange.WithdrawalResult {
	return &exchange.WithdrawalResult{ID: "wd-1", Status: exchange.WithdrawalPending}
}

func TestClient_LoadExchanges(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		list := []exchange.Exchange{{Slug: "coinbase", DisplayName: "Coinbase"}}
		h.exchanges.EXPECT().ListExchanges(gomock.Any()).Return(list, nil)

		require.NoError(t, h.client.LoadExchanges(context.Background()))
		s := h.state(t)
		assert.Equal(t, flow.StateExchangesReady, s.State)
		assert.Equal(t, list, s.Context.Exchanges)
	})

	t.Run("failure is reflected in state", func(t *testing.T) {
		h := newHarness(t)
		h.exchanges.EXPECT().ListExchanges(gomock.Any()).Return(nil, errors.New("connection refused"))

		require.NoError(t, h.client.LoadExchanges(context.Background()))
		s := h.state(t)
		assert.Equal(t, flow.StateExchangesError, s.State)
		assert.EqualError(t, s.Err, "connection refused")
	})
}

func TestClient_OAuthThroughWallet(t *testing.T) {
	h := newHarness(t)
	h.toWalletReady(t)

	s := h.state(t)
	assert.Equal(t, flow.StateWalletReady, s.State)
	assert.Equal(t, "key-1", s.Context.TopicName)
	require.Len(t, s.Context.WalletBalances, 1)
	assert.Equal(t, "BTC", s.Context.WalletBalances[0].Asset)

	assert.Equal(t, 1, h.popupClosed)
	assert.False(t, h.subscribed("key-1"))
}

func TestClient_OAuthWindowClosedByUser(t *testing.T) {
	h := newHarness(t)
	h.expectPopup()
	require.NoError(t, h.client.StartOAuth(context.Background(), "coinbase", "w1"))
	require.Equal(t, flow.StateOAuthProcessing, h.state(t).State)

	late := h.handlers["key-1"]
	h.onClosed()

	s := h.state(t)
	assert.Equal(t, flow.StateOAuthWindowClosedByUser, s.State)
	assert.ErrorIs(t, s.Err, ErrWindowClosed)
	assert.Equal(t, flow.OAuthErrorRecoverable, s.Context.OAuthErrorType)
	assert.Equal(t, 0, h.popupClosed)
	assert.False(t, h.subscribed("key-1"))

	msg, err := exchange.NewMessage("key-1", exchange.MessageOAuthCompleted, exchange.MessagePayload{})
	require.NoError(t, err)
	late(msg)
	assert.Equal(t, flow.StateOAuthWindowClosedByUser, h.state(t).State)
}

func TestClient_OAuthFailureMessages(t *testing.T) {
	tests := []struct {
		name      string
		typ       exchange.MessageType
		state     flow.State
		errorType flow.OAuthErrorType
	}{
		{"failed", exchange.MessageOAuthFailed, flow.StateOAuthError, flow.OAuthErrorRecoverable},
		{"fatal", exchange.MessageOAuthFatal, flow.StateOAuthFatal, flow.OAuthErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.expectPopup()
			require.NoError(t, h.client.StartOAuth(context.Background(), "coinbase", "w1"))
			h.deliver(t, "key-1", tt.typ, exchange.MessagePayload{Message: "denied"})

			s := h.state(t)
			assert.Equal(t, tt.state, s.State)
			assert.Equal(t, tt.errorType, s.Context.OAuthErrorType)
			assert.EqualError(t, s.Err, "denied")
			assert.Equal(t, 1, h.popupClosed)
		})
	}
}

func TestClient_PopupOpenFailure(t *testing.T) {
	h := newHarness(t)
	h.popup.EXPECT().Open(gomock.Any(), "coinbase", gomock.Any(), gomock.Any()).Return(nil, errors.New("popup blocked"))

	require.NoError(t, h.client.StartOAuth(context.Background(), "coinbase", "w1"))
	s := h.state(t)
	assert.Equal(t, flow.StateOAuthError, s.State)
	assert.EqualError(t, s.Err, "popup blocked")
	assert.Equal(t, []string{"key-1"}, h.unsubscribed)
}

func TestClient_NotAllowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.ErrorIs(t, h.client.LoadWallet(ctx), ErrNotAllowed)
	assert.ErrorIs(t, h.client.ExecuteWithdrawal(ctx), ErrNotAllowed)
	assert.ErrorIs(t, h.client.Submit2FA(ctx, "123456"), ErrNotAllowed)
	assert.ErrorIs(t, h.client.RetryWithdrawal(ctx), ErrNotAllowed)
	assert.Equal(t, flow.StateIdle, h.state(t).State)
}

func TestClient_QuoteExpires(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, 30*time.Millisecond)
	assert.Equal(t, flow.StateQuoteReady, h.state(t).State)

	require.Eventually(t, func() bool {
		return h.state(t).State == flow.StateQuoteExpired
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, errorcode.KindQuoteExpired, h.state(t).Context.ErrorDetails.Kind)
}

func TestClient_QuoteFailure(t *testing.T) {
	h := newHarness(t)
	h.toWalletReady(t)
	h.quotes.EXPECT().RequestQuote(gomock.Any(), "w1", quoteReq).
		Return(nil, &errorcode.APIError{Kind: errorcode.KindInvalidAddress, Code: "invalid_address", Message: "bad address", Status: 400})

	require.NoError(t, h.client.RequestQuote(context.Background(), quoteReq))
	s := h.state(t)
	assert.Equal(t, flow.StateQuoteError, s.State)
	assert.Equal(t, errorcode.KindInvalidAddress, s.Context.ErrorDetails.Kind)
}

func TestClient_QuoteTimerIgnoredOnceWithdrawing(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, 40*time.Millisecond)
	h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", exchange.ChallengeInput{}).Return(pending(), nil)

	require.NoError(t, h.client.ExecuteWithdrawal(context.Background()))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, flow.StateWithdrawProcessing, h.state(t).State)
}

func TestClient_TwoFactorChallenge(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, time.Minute)
	ctx := context.Background()

	gomock.InOrder(
		h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", exchange.ChallengeInput{}).
			Return(nil, &errorcode.APIError{Kind: errorcode.KindTwoFARequired, Code: "2fa_required", Status: 403, RequiredActions: []string{"2fa"}}),
		h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", exchange.ChallengeInput{TwoFactorCode: "123456"}).
			Return(&exchange.WithdrawalResult{ID: "wd-1", Status: exchange.WithdrawalCompleted, TransactionID: "tx-1"}, nil),
	)

	require.NoError(t, h.client.ExecuteWithdrawal(ctx))
	s := h.state(t)
	assert.Equal(t, flow.StateWithdrawError2FA, s.State)
	assert.Equal(t, []string{"2fa"}, s.Context.ErrorDetails.RequiredActions)
	assert.True(t, h.subscribed("key-2"))

	require.NoError(t, h.client.Submit2FA(ctx, "123456"))
	s = h.state(t)
	assert.Equal(t, flow.StateWithdrawCompleted, s.State)
	assert.Equal(t, "tx-1", s.Context.Withdrawal.TransactionID)
	assert.False(t, h.subscribed("key-2"))

	ws, ok := h.client.Withdrawal()
	require.True(t, ok)
	assert.Equal(t, withdrawal.StateCompleted, ws.State)
	assert.Equal(t, "123456", ws.Context.TwoFactorCode)
}

func TestClient_RetryUsesNewKey(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, time.Minute)
	ctx := context.Background()

	unavailable := errorcode.FromStatus(503, "Service Unavailable")
	h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", gomock.Any()).Return(nil, unavailable)
	h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-3", "quote-1", gomock.Any()).Return(pending(), nil)

	require.NoError(t, h.client.ExecuteWithdrawal(ctx))
	s := h.state(t)
	assert.Equal(t, flow.StateWithdrawProcessing, s.State)
	assert.Equal(t, 1, s.Context.RetryAttempts)
	assert.Equal(t, withdrawal.StateRetrying, s.Context.Withdrawal.State)

	stale := h.handlers["key-2"]
	require.NoError(t, h.client.RetryWithdrawal(ctx))
	assert.Equal(t, "key-3", h.state(t).Context.Withdrawal.IdempotencyKey)
	assert.False(t, h.subscribed("key-2"))

	msg, err := exchange.NewMessage("key-2", exchange.MessageWithdrawalCompleted, exchange.MessagePayload{TransactionID: "tx-stale"})
	require.NoError(t, err)
	stale(msg)
	assert.Equal(t, flow.StateWithdrawProcessing, h.state(t).State)

	h.deliver(t, "key-3", exchange.MessageWithdrawalPending, exchange.MessagePayload{})
	h.deliver(t, "key-3", exchange.MessageWithdrawalCompleted, exchange.MessagePayload{TransactionID: "tx-3"})
	s = h.state(t)
	assert.Equal(t, flow.StateWithdrawCompleted, s.State)
	assert.Equal(t, "tx-3", s.Context.Withdrawal.TransactionID)
}

func TestClient_NamedUnknownCodeIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		state flow.State
		child withdrawal.State
	}{
		{"named code on bad gateway", &errorcode.APIError{Kind: errorcode.KindUnknown, Code: "LEDGER_DESYNC", Status: 502}, flow.StateWithdrawFatal, withdrawal.StateFailed},
		{"named code on throttling", &errorcode.APIError{Kind: errorcode.KindUnknown, Code: "slow_down", Status: 429}, flow.StateWithdrawFatal, withdrawal.StateFailed},
		{"status only bad gateway", errorcode.FromStatus(502, "Bad Gateway"), flow.StateWithdrawProcessing, withdrawal.StateRetrying},
		{"transport failure", errors.New("connection reset"), flow.StateWithdrawProcessing, withdrawal.StateRetrying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.toQuoteReady(t, time.Minute)
			h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", gomock.Any()).Return(nil, tt.err)

			require.NoError(t, h.client.ExecuteWithdrawal(context.Background()))
			s := h.state(t)
			assert.Equal(t, tt.state, s.State)
			ws, ok := h.client.Withdrawal()
			require.True(t, ok)
			assert.Equal(t, tt.child, ws.State)
		})
	}
}

func TestClient_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, time.Minute)
	ctx := context.Background()

	h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset")).Times(3)

	require.NoError(t, h.client.ExecuteWithdrawal(ctx))
	require.NoError(t, h.client.RetryWithdrawal(ctx))
	require.NoError(t, h.client.RetryWithdrawal(ctx))

	s := h.state(t)
	assert.Equal(t, flow.StateWithdrawFatal, s.State)
	assert.Equal(t, withdrawal.StateFailed, s.Context.Withdrawal.State)
	assert.ErrorIs(t, h.client.RetryWithdrawal(ctx), ErrNotAllowed)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		code  string
		state flow.State
	}{
		{"insufficient_balance", flow.StateWithdrawErrorBalance},
		{"sms_required", flow.StateWithdrawErrorSMS},
		{"KYC_REQUIRED", flow.StateWithdrawErrorKYC},
		{"quote_expired", flow.StateQuoteExpired},
		{"withdrawal_blocked", flow.StateWithdrawBlocked},
		{"invalid_address", flow.StateWithdrawFatal},
		{"something_new", flow.StateWithdrawFatal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newHarness(t)
			h.toQuoteReady(t, time.Minute)
			h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", gomock.Any()).
				Return(nil, &errorcode.APIError{Kind: errorcode.Classify(tt.code), Code: tt.code, Message: "rejected", Status: 400})

			require.NoError(t, h.client.ExecuteWithdrawal(context.Background()))
			s := h.state(t)
			assert.Equal(t, tt.state, s.State)
			if !h.client.flow.HasActiveWithdrawal() {
				assert.False(t, h.subscribed("key-2"))
			}
		})
	}
}

func TestClient_BlockedMessage(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, time.Minute)
	h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", gomock.Any()).Return(pending(), nil)
	require.NoError(t, h.client.ExecuteWithdrawal(context.Background()))

	h.deliver(t, "key-2", exchange.MessageWithdrawalBlocked, exchange.MessagePayload{Reason: "travel rule"})
	s := h.state(t)
	assert.Equal(t, flow.StateWithdrawBlocked, s.State)
	assert.EqualError(t, s.Err, "travel rule")
	assert.False(t, h.subscribed("key-2"))
}

func TestClient_FailedMessageWithUnknownCodeIsFatal(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, time.Minute)
	h.withdrawals.EXPECT().ExecuteWithdrawal(gomock.Any(), "w1", "key-2", "quote-1", gomock.Any()).Return(pending(), nil)
	require.NoError(t, h.client.ExecuteWithdrawal(context.Background()))

	h.deliver(t, "key-2", exchange.MessageWithdrawalFailed, exchange.MessagePayload{ErrorCode: "LEDGER_MISMATCH", Message: "ledger mismatch"})
	s := h.state(t)
	assert.Equal(t, flow.StateWithdrawFatal, s.State)
	assert.Equal(t, errorcode.KindUnknown, s.Context.ErrorDetails.Kind)
}

func TestClient_CancelReleasesResources(t *testing.T) {
	h := newHarness(t)
	h.expectPopup()
	require.NoError(t, h.client.StartOAuth(context.Background(), "coinbase", "w1"))

	require.NoError(t, h.client.Cancel())
	assert.Equal(t, flow.StateCancelled, h.state(t).State)
	assert.Equal(t, 1, h.popupClosed)
	assert.Equal(t, []string{"key-1"}, h.unsubscribed)

	assert.ErrorIs(t, h.client.Cancel(), ErrNotAllowed)
}

func TestClient_CancelStopsQuoteTimer(t *testing.T) {
	h := newHarness(t)
	h.toQuoteReady(t, 30*time.Millisecond)
	require.NoError(t, h.client.Cancel())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, flow.StateCancelled, h.state(t).State)
}

func TestClient_Dispose(t *testing.T) {
	h := newHarness(t)
	h.expectPopup()
	require.NoError(t, h.client.StartOAuth(context.Background(), "coinbase", "w1"))

	h.client.Dispose()
	assert.Equal(t, 1, h.popupClosed)
	_, err := h.client.State()
	assert.ErrorIs(t, err, machine.ErrDisposed)
	assert.ErrorIs(t, h.client.LoadWallet(context.Background()), machine.ErrDisposed)
}

func TestClient_SubscribeReplaysState(t *testing.T) {
	h := newHarness(t)
	var states []flow.State
	unsub, err := h.client.Subscribe(func(s flow.Snapshot) { states = append(states, s.State) })
	require.NoError(t, err)
	defer unsub()

	h.exchanges.EXPECT().ListExchanges(gomock.Any()).Return(nil, nil)
	require.NoError(t, h.client.LoadExchanges(context.Background()))
	assert.Equal(t, []flow.State{flow.StateIdle, flow.StateExchangesLoading, flow.StateExchangesReady}, states)
}

func TestClient_OAuthOutcomeBeforeOpenReturns(t *testing.T) {
	h := newHarness(t)
	h.popup.EXPECT().
		Open(gomock.Any(), "coinbase", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p exchange.OAuthParams, _ func()) (func(), error) {
			h.deliver(t, p.IdempotencyKey, exchange.MessageOAuthCompleted, exchange.MessagePayload{})
			return func() {
				h.mu.Lock()
				h.popupClosed++
				h.mu.Unlock()
			}, nil
		})

	require.NoError(t, h.client.StartOAuth(context.Background(), "coinbase", "w1"))
	assert.Equal(t, flow.StateOAuthCompleted, h.state(t).State)
	assert.Equal(t, 1, h.popupClosed)
	assert.False(t, h.subscribed("key-1"))
}

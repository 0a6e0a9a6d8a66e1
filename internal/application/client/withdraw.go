package client

import (
	"context"

	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
)

// ExecuteWithdrawal starts a withdrawal attempt against the current quote.
func (c *Client) ExecuteWithdrawal(ctx context.Context) error {
	snap, err := c.flow.Snapshot()
	if err != nil {
		return err
	}
	if snap.Context.Quote == nil {
		return ErrNotAllowed
	}
	if err := c.send(flow.StartWithdrawal{QuoteID: snap.Context.Quote.ID}); err != nil {
		return err
	}
	c.stopQuoteTimer()
	return c.attempt(ctx, exchange.ChallengeInput{})
}

// Submit2FA resubmits the current attempt with a two-factor code.
func (c *Client) Submit2FA(ctx context.Context, code string) error {
	if err := c.send(flow.WithdrawalSubmit2FA{Code: code}); err != nil {
		return err
	}
	return c.attempt(ctx, exchange.ChallengeInput{TwoFactorCode: code})
}

// SubmitSMS resubmits the current attempt with an SMS code.
func (c *Client) SubmitSMS(ctx context.Context, code string) error {
	if err := c.send(flow.WithdrawalSubmitSMS{Code: code}); err != nil {
		return err
	}
	return c.attempt(ctx, exchange.ChallengeInput{SMSCode: code})
}

// RetryWithdrawal starts the next attempt under a new idempotency key. It is
// allowed only after a retryable failure.
func (c *Client) RetryWithdrawal(ctx context.Context) error {
	if err := c.send(flow.WithdrawalRetry{}); err != nil {
		return err
	}
	return c.attempt(ctx, exchange.ChallengeInput{})
}

// attempt executes the nested machine's current attempt and translates the
// response into flow actions.
func (c *Client) attempt(ctx context.Context, input exchange.ChallengeInput) error {
	ws, ok := c.flow.Withdrawal()
	if !ok {
		return ErrNotAllowed
	}
	key := ws.Context.IdempotencyKey
	logger := c.logger.With().
		Str("idempotency_key", key).
		Str("quote_id", ws.Context.QuoteID).
		Str("wallet_id", ws.Context.WalletID).
		Logger()

	if err := c.watchAttempt(key); err != nil {
		logger.Error().Err(err).Msg("subscribe to withdrawal topic failed")
		return c.sendQuiet(flow.WithdrawalFatal{Err: err})
	}

	res, err := c.deps.Withdrawals.ExecuteWithdrawal(ctx, ws.Context.WalletID, key, ws.Context.QuoteID, input)
	if err != nil {
		logger.Warn().Err(err).Str("kind", string(errorcode.KindOf(err))).Msg("withdrawal rejected")
		return c.dispatchFailure(key, err)
	}
	if res != nil && res.Status == exchange.WithdrawalCompleted {
		logger.Info().Str("transaction_id", res.TransactionID).Msg("withdrawal completed")
		return c.sendQuiet(flow.WithdrawalCompleted{TransactionID: res.TransactionID})
	}
	logger.Info().Msg("withdrawal pending")
	return nil
}

// dispatchFailure classifies err and sends the matching flow action. Named
// codes without a dedicated state are fatal. Transport and status-only
// failures go through the retry policy; what it rejects is fatal.
func (c *Client) dispatchFailure(key string, err error) error {
	if !c.isCurrentAttempt(key) {
		return nil
	}
	var action machine.Action
	apiErr, _ := errorcode.AsAPIError(err)
	var required []string
	if apiErr != nil {
		required = apiErr.RequiredActions
	}

	switch errorcode.KindOf(err) {
	case errorcode.KindTwoFARequired:
		action = flow.WithdrawalRequires2FA{RequiredActions: required}
	case errorcode.KindSMSRequired:
		action = flow.WithdrawalRequiresSMS{RequiredActions: required}
	case errorcode.KindKYCRequired:
		action = flow.WithdrawalRequiresKYC{RequiredActions: required}
	case errorcode.KindTwoFAInvalid:
		action = flow.Withdrawal2FAInvalid{Err: err}
	case errorcode.KindInsufficientBalance:
		action = flow.WithdrawalInsufficientBalance{Err: err}
	case errorcode.KindQuoteExpired:
		action = flow.WithdrawalQuoteRejected{Err: err}
	case errorcode.KindBlocked:
		action = flow.WithdrawalBlocked{Reason: blockReason(err)}
	default:
		if apiErr != nil && !apiErr.StatusOnly {
			action = flow.WithdrawalFatal{Err: err}
		} else {
			ws, _ := c.flow.Withdrawal()
			facts := FactsOf(err, ws.Context.RetryCount, ws.Context.MaxRetries)
			if c.policy.Retryable(facts) {
				action = flow.WithdrawalFailed{Err: err}
			} else {
				action = flow.WithdrawalFatal{Err: err}
			}
		}
	}
	if err := c.sendQuiet(action); err != nil {
		return err
	}
	if !c.flow.HasActiveWithdrawal() {
		c.dropAttemptSubscription()
	}
	return nil
}

func blockReason(err error) string {
	if apiErr, ok := errorcode.AsAPIError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// watchAttempt subscribes to the attempt's topic. Challenge resubmissions
// keep the key and reuse the subscription.
func (c *Client) watchAttempt(key string) error {
	c.mu.Lock()
	if c.withdrawTopic == key && c.withdrawUnsub != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	unsub, err := c.deps.Messages.Subscribe(c.ctx, key, func(msg exchange.Message) {
		c.handleWithdrawalMessage(key, msg)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.withdrawUnsub
	c.withdrawUnsub = unsub
	c.withdrawTopic = key
	c.mu.Unlock()
	if old != nil {
		old()
	}
	c.releaseIfEnded()
	return nil
}

func (c *Client) dropAttemptSubscription() {
	c.mu.Lock()
	unsub := c.withdrawUnsub
	c.withdrawUnsub = nil
	c.withdrawTopic = ""
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Client) isCurrentAttempt(key string) bool {
	ws, ok := c.flow.Withdrawal()
	return ok && ws.Context.IdempotencyKey == key
}

func (c *Client) handleWithdrawalMessage(key string, msg exchange.Message) {
	logger := c.logger.With().Str("idempotency_key", key).Str("type", string(msg.Type)).Logger()
	payload, err := msg.Decode()
	if err != nil {
		logger.Warn().Err(err).Msg("undecodable withdrawal message")
		return
	}
	switch msg.Type {
	case exchange.MessageWithdrawalPending:
		logger.Debug().Msg("withdrawal still pending")
	case exchange.MessageWithdrawalCompleted:
		if !c.isCurrentAttempt(key) {
			return
		}
		if err := c.sendQuiet(flow.WithdrawalCompleted{TransactionID: payload.TransactionID}); err != nil {
			return
		}
		logger.Info().Str("transaction_id", payload.TransactionID).Msg("withdrawal completed")
	case exchange.MessageWithdrawalBlocked:
		if !c.isCurrentAttempt(key) {
			return
		}
		reason := payload.Reason
		if reason == "" {
			reason = payload.Message
		}
		if reason == "" {
			reason = "withdrawal blocked"
		}
		_ = c.sendQuiet(flow.WithdrawalBlocked{Reason: reason})
	case exchange.MessageWithdrawalFailed:
		var failure error
		if payload.ErrorCode != "" {
			failure = errorcode.New(payload.ErrorCode, payload.Message)
		} else {
			failure = errorcode.New("unknown", orMessage(payload.Message, "withdrawal failed"))
		}
		_ = c.dispatchFailure(key, failure)
	}
}

func orMessage(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

package client

import (
	"context"
	"errors"

	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
)

// StartOAuth opens the authorization window for exchangeSlug. The attempt's
// idempotency key is also the message topic on which the outcome arrives.
func (c *Client) StartOAuth(ctx context.Context, exchangeSlug, walletID string) error {
	key := c.newKey()
	if err := c.send(flow.StartOAuth{Exchange: exchangeSlug, WalletID: walletID, IdempotencyKey: key}); err != nil {
		return err
	}
	logger := c.logger.With().Str("exchange", exchangeSlug).Str("idempotency_key", key).Logger()

	unsub, err := c.deps.Messages.Subscribe(c.ctx, key, c.handleOAuthMessage)
	if err != nil {
		logger.Error().Err(err).Msg("subscribe to oauth topic failed")
		return c.sendQuiet(flow.OAuthFatal{Err: err})
	}
	c.swapOAuthSubscription(unsub)

	snap, err := c.flow.Snapshot()
	if err != nil {
		return err
	}
	params := exchange.OAuthParams{
		OrgID:          c.cfg.OrgID,
		ProjectID:      c.cfg.ProjectID,
		WalletID:       snap.Context.WalletID,
		IdempotencyKey: key,
		RedirectURL:    c.cfg.RedirectURL,
	}
	closeFn, err := c.deps.Popup.Open(ctx, exchangeSlug, params, c.onWindowClosed)
	if err != nil {
		logger.Warn().Err(err).Msg("open authorization window failed")
		c.dropOAuthSubscription()
		return c.sendQuiet(flow.OAuthFailed{Err: err})
	}
	c.holdPopup(closeFn)

	logger.Info().Msg("authorization window opened")
	return c.sendQuiet(flow.OAuthWindowOpened{})
}

// onWindowClosed is called by the popup opener when the user dismisses the
// window. The window is already gone, so its close func is forgotten.
func (c *Client) onWindowClosed() {
	c.mu.Lock()
	c.closePopup = nil
	c.mu.Unlock()

	applied, err := c.flow.Send(flow.OAuthWindowClosedByUser{Err: ErrWindowClosed})
	if err != nil || !applied {
		return
	}
	c.logger.Info().Msg("authorization window closed by user")
	c.dropOAuthSubscription()
}

func (c *Client) handleOAuthMessage(msg exchange.Message) {
	payload, err := msg.Decode()
	if err != nil {
		c.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("undecodable oauth message")
		return
	}
	var action machine.Action
	switch msg.Type {
	case exchange.MessageOAuthCompleted:
		action = flow.OAuthCompleted{}
	case exchange.MessageOAuthFailed:
		action = flow.OAuthFailed{Err: messageError(payload, "authorization failed")}
	case exchange.MessageOAuthFatal:
		action = flow.OAuthFatal{Err: messageError(payload, "authorization connection broken")}
	default:
		return
	}
	applied, err := c.flow.Send(action)
	if err != nil || !applied {
		return
	}
	c.logger.Info().Str("type", string(msg.Type)).Str("topic", msg.Topic).Msg("oauth outcome received")
	c.dropPopup()
	c.dropOAuthSubscription()
}

func messageError(p exchange.MessagePayload, fallback string) error {
	if p.ErrorCode != "" {
		return errorcode.New(p.ErrorCode, p.Message)
	}
	if p.Message != "" {
		return errors.New(p.Message)
	}
	return errors.New(fallback)
}

func (c *Client) swapOAuthSubscription(unsub func()) {
	c.mu.Lock()
	old := c.oauthUnsub
	c.oauthUnsub = unsub
	c.mu.Unlock()
	if old != nil {
		old()
	}
	c.releaseIfEnded()
}

func (c *Client) dropOAuthSubscription() {
	c.mu.Lock()
	unsub := c.oauthUnsub
	c.oauthUnsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Client) holdPopup(closeFn func()) {
	c.mu.Lock()
	old := c.closePopup
	c.closePopup = closeFn
	c.mu.Unlock()
	if old != nil {
		old()
	}
	c.releaseIfEnded()
	if !c.awaitingOAuth() {
		c.dropPopup()
	}
}

// awaitingOAuth reports whether the authorization outcome is still pending.
// The outcome may arrive before Open returns.
func (c *Client) awaitingOAuth() bool {
	snap, err := c.flow.Snapshot()
	if err != nil {
		return false
	}
	return snap.State == flow.StateOAuthWaiting || snap.State == flow.StateOAuthProcessing
}

func (c *Client) dropPopup() {
	c.mu.Lock()
	closeFn := c.closePopup
	c.closePopup = nil
	c.mu.Unlock()
	if closeFn != nil {
		closeFn()
	}
}

// releaseIfEnded releases resources acquired after the flow already ended,
// e.g. a popup opened while Cancel was running.
func (c *Client) releaseIfEnded() {
	snap, err := c.flow.Snapshot()
	if err != nil || snap.State.IsTerminal() {
		c.releaseResources()
	}
}

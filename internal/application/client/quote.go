package client

import (
	"context"
	"errors"
	"time"

	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
)

var errEmptyQuote = errors.New("quote response was empty")

// RequestQuote asks for a withdrawal quote. The request is stored verbatim;
// validation is left to the server. On receipt a one-shot timer is armed
// that sends QUOTE_EXPIRED at the quote's expiry.
func (c *Client) RequestQuote(ctx context.Context, req exchange.QuoteRequest) error {
	if err := c.send(flow.RequestQuote{Request: req}); err != nil {
		return err
	}
	snap, err := c.flow.Snapshot()
	if err != nil {
		return err
	}
	q, err := c.deps.Quotes.RequestQuote(ctx, snap.Context.WalletID, req)
	if err == nil && q == nil {
		err = errEmptyQuote
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("asset", req.Asset).Msg("request quote failed")
		return c.sendQuiet(flow.QuoteFailed{Err: err})
	}
	applied, err := c.flow.Send(flow.QuoteReceived{Quote: *q})
	if err != nil {
		return err
	}
	if applied {
		c.armQuoteTimer(*q)
	}
	return nil
}

func (c *Client) armQuoteTimer(q exchange.Quote) {
	ttl := q.TTL(c.now())
	c.logger.Debug().Str("quote_id", q.ID).Dur("ttl", ttl).Msg("quote received")

	timer := time.AfterFunc(ttl, func() {
		applied, err := c.flow.Send(flow.QuoteExpired{QuoteID: q.ID})
		if err == nil && applied {
			c.logger.Info().Str("quote_id", q.ID).Msg("quote expired")
		}
	})
	c.mu.Lock()
	old := c.quoteTimer
	c.quoteTimer = timer
	c.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	c.releaseIfEnded()
}

func (c *Client) stopQuoteTimer() {
	c.mu.Lock()
	timer := c.quoteTimer
	c.quoteTimer = nil
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

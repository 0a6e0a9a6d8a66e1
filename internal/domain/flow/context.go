package flow

import (
	"errors"

	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
	"github.com/execution-hub/exchange-withdraw/internal/domain/withdrawal"
)

// OAuthErrorType separates retryable authorization errors from broken connections.
type OAuthErrorType string

const (
	OAuthErrorRecoverable OAuthErrorType = "recoverable"
	OAuthErrorFatal       OAuthErrorType = "fatal"
)

// DefaultMaxRetryAttempts bounds withdrawal retries per attempt.
const DefaultMaxRetryAttempts = 3

// ErrorDetails is the classified form of the last error.
type ErrorDetails struct {
	Kind            errorcode.Kind `json:"kind"`
	Code            string         `json:"code,omitempty"`
	Message         string         `json:"message"`
	RequiredActions []string       `json:"requiredActions,omitempty"`
}

// WithdrawalInfo mirrors the nested withdrawal machine.
type WithdrawalInfo struct {
	State           withdrawal.State `json:"state"`
	QuoteID         string           `json:"quoteId"`
	IdempotencyKey  string           `json:"idempotencyKey"`
	RetryCount      int              `json:"retryCount"`
	RequiredActions []string         `json:"requiredActions,omitempty"`
	TransactionID   string           `json:"transactionId,omitempty"`
}

// Context is the data carried by a flow.
type Context struct {
	OrgID              string                 `json:"orgId"`
	ProjectID          string                 `json:"projectId"`
	Exchange           string                 `json:"exchange,omitempty"`
	WalletID           string                 `json:"walletId,omitempty"`
	IdempotencyKey     string                 `json:"idempotencyKey,omitempty"`
	TopicName          string                 `json:"topicName,omitempty"`
	Exchanges          []exchange.Exchange    `json:"exchanges,omitempty"`
	WalletBalances     []exchange.Balance     `json:"walletBalances,omitempty"`
	Quote              *exchange.Quote        `json:"quote,omitempty"`
	LastQuoteRequest   *exchange.QuoteRequest `json:"lastQuoteRequest,omitempty"`
	Withdrawal         *WithdrawalInfo        `json:"withdrawal,omitempty"`
	ErrorDetails       *ErrorDetails          `json:"errorDetails,omitempty"`
	OAuthErrorType     OAuthErrorType         `json:"oauthErrorType,omitempty"`
	Invalid2FAAttempts int                    `json:"invalid2FAAttempts"`
	RetryAttempts      int                    `json:"retryAttempts"`
	MaxRetryAttempts   int                    `json:"maxRetryAttempts"`
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	if c.Exchanges != nil {
		c.Exchanges = append([]exchange.Exchange(nil), c.Exchanges...)
	}
	if c.WalletBalances != nil {
		balances := make([]exchange.Balance, len(c.WalletBalances))
		for i, b := range c.WalletBalances {
			if b.Networks != nil {
				b.Networks = append([]string(nil), b.Networks...)
			}
			balances[i] = b
		}
		c.WalletBalances = balances
	}
	if c.Quote != nil {
		q := *c.Quote
		c.Quote = &q
	}
	if c.LastQuoteRequest != nil {
		r := *c.LastQuoteRequest
		c.LastQuoteRequest = &r
	}
	if c.Withdrawal != nil {
		w := *c.Withdrawal
		if w.RequiredActions != nil {
			w.RequiredActions = append([]string(nil), w.RequiredActions...)
		}
		c.Withdrawal = &w
	}
	if c.ErrorDetails != nil {
		d := *c.ErrorDetails
		if d.RequiredActions != nil {
			d.RequiredActions = append([]string(nil), d.RequiredActions...)
		}
		c.ErrorDetails = &d
	}
	return c
}

// Snapshot is the observable value of a flow.
type Snapshot = machine.Snapshot[State, Context]

// Listener observes flow snapshots.
type Listener = machine.Listener[State, Context]

// Observable is anything that publishes flow snapshots.
type Observable interface {
	Subscribe(fn Listener) (func(), error)
}

func detailsOf(err error) *ErrorDetails {
	if err == nil {
		return nil
	}
	if apiErr, ok := errorcode.AsAPIError(err); ok {
		return &ErrorDetails{
			Kind:            apiErr.Kind,
			Code:            apiErr.Code,
			Message:         err.Error(),
			RequiredActions: apiErr.RequiredActions,
		}
	}
	return &ErrorDetails{Kind: errorcode.KindUnknown, Message: err.Error()}
}

func orDefault(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}

func infoOf(s withdrawal.Snapshot) *WithdrawalInfo {
	info := &WithdrawalInfo{
		State:          s.State,
		QuoteID:        s.Context.QuoteID,
		IdempotencyKey: s.Context.IdempotencyKey,
		RetryCount:     s.Context.RetryCount,
		TransactionID:  s.Context.TransactionID,
	}
	if len(s.Context.RequiredActions) > 0 {
		info.RequiredActions = append([]string(nil), s.Context.RequiredActions...)
	}
	return info
}

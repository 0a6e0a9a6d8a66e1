package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is a connectable exchange account provider.
type Exchange struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	LogoURL     string `json:"logoUrl,omitempty"`
}

// Balance is a wallet balance for one asset.
type Balance struct {
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"balance"`
	Networks []string        `json:"networks,omitempty"`
}

// QuoteRequest is a user's withdrawal intent. It is stored as given and
// validated by the server.
type QuoteRequest struct {
	Asset              string `json:"asset"`
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destinationAddress"`
	Network            string `json:"network,omitempty"`
	Tag                string `json:"tag,omitempty"`
	IncludeFee         bool   `json:"includeFee,omitempty"`
}

// Quote is a time-boxed withdrawal offer. Quotes are immutable values.
type Quote struct {
	ID             string          `json:"id"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amountNoFee"`
	EstimatedFee   decimal.Decimal `json:"estimatedFee"`
	EstimatedTotal decimal.Decimal `json:"estimatedTotal"`
	ExpiresAt      int64           `json:"expiresAt"`
}

// ExpiresAtTime returns the expiry as a time.
func (q Quote) ExpiresAtTime() time.Time {
	return time.UnixMilli(q.ExpiresAt)
}

// TTL returns the remaining validity at now, never negative.
func (q Quote) TTL(now time.Time) time.Duration {
	d := q.ExpiresAtTime().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ChallengeInput carries codes collected from the user.
type ChallengeInput struct {
	TwoFactorCode string `json:"twofa,omitempty"`
	SMSCode       string `json:"smsCode,omitempty"`
}

// WithdrawalStatus is the server-side status of an executed withdrawal.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
)

// WithdrawalResult is the response to a withdrawal execution.
type WithdrawalResult struct {
	ID             string           `json:"id"`
	Status         WithdrawalStatus `json:"status"`
	TransactionID  string           `json:"transactionId,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
}

// OAuthParams are passed to the popup opener.
type OAuthParams struct {
	OrgID          string `json:"orgId"`
	ProjectID      string `json:"projectId"`
	WalletID       string `json:"walletId"`
	IdempotencyKey string `json:"idempotencyKey"`
	RedirectURL    string `json:"redirectUrl,omitempty"`
}

// MessageType identifies an asynchronous completion message.
type MessageType string

const (
	MessageOAuthCompleted      MessageType = "oauth.completed"
	MessageOAuthFailed         MessageType = "oauth.failed"
	MessageOAuthFatal          MessageType = "oauth.fatal"
	MessageWithdrawalPending   MessageType = "withdrawal.pending"
	MessageWithdrawalCompleted MessageType = "withdrawal.completed"
	MessageWithdrawalFailed    MessageType = "withdrawal.failed"
	MessageWithdrawalBlocked   MessageType = "withdrawal.blocked"
)

// Message is delivered on a topic equal to an attempt's idempotency key.
type Message struct {
	Topic   string          `json:"topic"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessagePayload is the common payload shape.
type MessagePayload struct {
	TransactionID string `json:"transactionId,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Message       string `json:"message,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// NewMessage builds a message with a JSON payload.
func NewMessage(topic string, typ MessageType, payload MessagePayload) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal message payload: %w", err)
	}
	return Message{Topic: topic, Type: typ, Payload: data}, nil
}

// Decode parses the payload. An empty payload decodes to the zero value.
func (m Message) Decode() (MessagePayload, error) {
	var p MessagePayload
	if len(m.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to parse message payload: %w", err)
	}
	return p, nil
}

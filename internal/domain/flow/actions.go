package flow

import (
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
)

const (
	ActionLoadExchanges           machine.ActionType = "LOAD_EXCHANGES"
	ActionExchangesLoaded         machine.ActionType = "EXCHANGES_LOADED"
	ActionExchangesFailed         machine.ActionType = "EXCHANGES_FAILED"
	ActionStartOAuth              machine.ActionType = "START_OAUTH"
	ActionOAuthWindowOpened       machine.ActionType = "OAUTH_WINDOW_OPENED"
	ActionOAuthCompleted          machine.ActionType = "OAUTH_COMPLETED"
	ActionOAuthFailed             machine.ActionType = "OAUTH_FAILED"
	ActionOAuthFatal              machine.ActionType = "OAUTH_FATAL"
	ActionOAuthWindowClosedByUser machine.ActionType = "OAUTH_WINDOW_CLOSED_BY_USER"
	ActionLoadWallet              machine.ActionType = "LOAD_WALLET"
	ActionWalletLoaded            machine.ActionType = "WALLET_LOADED"
	ActionWalletFailed            machine.ActionType = "WALLET_FAILED"
	ActionRequestQuote            machine.ActionType = "REQUEST_QUOTE"
	ActionQuoteReceived           machine.ActionType = "QUOTE_RECEIVED"
	ActionQuoteFailed             machine.ActionType = "QUOTE_FAILED"
	ActionQuoteExpired            machine.ActionType = "QUOTE_EXPIRED"
	ActionStartWithdrawal         machine.ActionType = "START_WITHDRAWAL"

	ActionWithdrawalRequires2FA         machine.ActionType = "WITHDRAWAL_REQUIRES_2FA"
	ActionWithdrawalRequiresSMS         machine.ActionType = "WITHDRAWAL_REQUIRES_SMS"
	ActionWithdrawalRequiresKYC         machine.ActionType = "WITHDRAWAL_REQUIRES_KYC"
	ActionWithdrawalSubmit2FA           machine.ActionType = "WITHDRAWAL_SUBMIT_2FA"
	ActionWithdrawalSubmitSMS           machine.ActionType = "WITHDRAWAL_SUBMIT_SMS"
	ActionWithdrawal2FAInvalid          machine.ActionType = "WITHDRAWAL_2FA_INVALID"
	ActionWithdrawalInsufficientBalance machine.ActionType = "WITHDRAWAL_INSUFFICIENT_BALANCE"
	ActionWithdrawalFailed              machine.ActionType = "WITHDRAWAL_FAILED"
	ActionWithdrawalRetry               machine.ActionType = "WITHDRAWAL_RETRY"
	ActionWithdrawalBlocked             machine.ActionType = "WITHDRAWAL_BLOCKED"
	ActionWithdrawalFatal               machine.ActionType = "WITHDRAWAL_FATAL"
	ActionWithdrawalQuoteRejected       machine.ActionType = "WITHDRAWAL_QUOTE_REJECTED"
	ActionWithdrawalCompleted           machine.ActionType = "WITHDRAWAL_COMPLETED"

	ActionCancelFlow machine.ActionType = "CANCEL_FLOW"
)

type LoadExchanges struct{}

type ExchangesLoaded struct {
	Exchanges []exchange.Exchange
}

type ExchangesFailed struct {
	Err error
}

// StartOAuth begins an authorization attempt. IdempotencyKey doubles as the
// message topic of the attempt.
type StartOAuth struct {
	Exchange       string
	WalletID       string
	IdempotencyKey string
}

type OAuthWindowOpened struct{}

type OAuthCompleted struct{}

// OAuthFailed is a recoverable authorization error.
type OAuthFailed struct {
	Err error
}

// OAuthFatal means the connection is broken and must be re-established from scratch.
type OAuthFatal struct {
	Err error
}

type OAuthWindowClosedByUser struct {
	Err error
}

type LoadWallet struct{}

type WalletLoaded struct {
	Balances []exchange.Balance
}

type WalletFailed struct {
	Err error
}

type RequestQuote struct {
	Request exchange.QuoteRequest
}

type QuoteReceived struct {
	Quote exchange.Quote
}

type QuoteFailed struct {
	Err error
}

// QuoteExpired is fired by the expiration timer. An empty QuoteID matches
// the current quote.
type QuoteExpired struct {
	QuoteID string
}

// StartWithdrawal executes the ready quote. An empty QuoteID means the
// current quote.
type StartWithdrawal struct {
	QuoteID string
}

type WithdrawalRequires2FA struct {
	RequiredActions []string
}

type WithdrawalRequiresSMS struct {
	RequiredActions []string
}

type WithdrawalRequiresKYC struct {
	RequiredActions []string
}

type WithdrawalSubmit2FA struct {
	Code string
}

type WithdrawalSubmitSMS struct {
	Code string
}

type Withdrawal2FAInvalid struct {
	Err error
}

type WithdrawalInsufficientBalance struct {
	Err error
}

// WithdrawalFailed is a retryable execution failure.
type WithdrawalFailed struct {
	Err error
}

type WithdrawalRetry struct{}

type WithdrawalBlocked struct {
	Reason string
}

type WithdrawalFatal struct {
	Err error
}

// WithdrawalQuoteRejected means the server refused the quote as expired.
type WithdrawalQuoteRejected struct {
	Err error
}

type WithdrawalCompleted struct {
	TransactionID string
}

type CancelFlow struct{}

func (LoadExchanges) Type() machine.ActionType           { return ActionLoadExchanges }
func (ExchangesLoaded) Type() machine.ActionType         { return ActionExchangesLoaded }
func (ExchangesFailed) Type() machine.ActionType         { return ActionExchangesFailed }
func (StartOAuth) Type() machine.ActionType              { return ActionStartOAuth }
func (OAuthWindowOpened) Type() machine.ActionType       { return ActionOAuthWindowOpened }
func (OAuthCompleted) Type() machine.ActionType          { return ActionOAuthCompleted }
func (OAuthFailed) Type() machine.ActionType             { return ActionOAuthFailed }
func (OAuthFatal) Type() machine.ActionType              { return ActionOAuthFatal }
func (OAuthWindowClosedByUser) Type() machine.ActionType { return ActionOAuthWindowClosedByUser }
func (LoadWallet) Type() machine.ActionType              { return ActionLoadWallet }
func (WalletLoaded) Type() machine.ActionType            { return ActionWalletLoaded }
func (WalletFailed) Type() machine.ActionType            { return ActionWalletFailed }
func (RequestQuote) Type() machine.ActionType            { return ActionRequestQuote }
func (QuoteReceived) Type() machine.ActionType           { return ActionQuoteReceived }
func (QuoteFailed) Type() machine.ActionType             { return ActionQuoteFailed }
func (QuoteExpired) Type() machine.ActionType            { return ActionQuoteExpired }
func (StartWithdrawal) Type() machine.ActionType         { return ActionStartWithdrawal }

func (WithdrawalRequires2FA) Type() machine.ActionType         { return ActionWithdrawalRequires2FA }
func (WithdrawalRequiresSMS) Type() machine.ActionType         { return ActionWithdrawalRequiresSMS }
func (WithdrawalRequiresKYC) Type() machine.ActionType         { return ActionWithdrawalRequiresKYC }
func (WithdrawalSubmit2FA) Type() machine.ActionType           { return ActionWithdrawalSubmit2FA }
func (WithdrawalSubmitSMS) Type() machine.ActionType           { return ActionWithdrawalSubmitSMS }
func (Withdrawal2FAInvalid) Type() machine.ActionType          { return ActionWithdrawal2FAInvalid }
func (WithdrawalInsufficientBalance) Type() machine.ActionType { return ActionWithdrawalInsufficientBalance }
func (WithdrawalFailed) Type() machine.ActionType              { return ActionWithdrawalFailed }
func (WithdrawalRetry) Type() machine.ActionType               { return ActionWithdrawalRetry }
func (WithdrawalBlocked) Type() machine.ActionType             { return ActionWithdrawalBlocked }
func (WithdrawalFatal) Type() machine.ActionType               { return ActionWithdrawalFatal }
func (WithdrawalQuoteRejected) Type() machine.ActionType       { return ActionWithdrawalQuoteRejected }
func (WithdrawalCompleted) Type() machine.ActionType           { return ActionWithdrawalCompleted }

func (CancelFlow) Type() machine.ActionType { return ActionCancelFlow }

package flow

import "strings"

// State is a flow state tag of the form "<phase>:<status>".
type State string

const (
	StateIdle State = "idle"

	StateExchangesLoading State = "exchanges:loading"
	StateExchangesReady   State = "exchanges:ready"
	StateExchangesError   State = "exchanges:error"

	StateOAuthWaiting            State = "oauth:waiting"
	StateOAuthProcessing         State = "oauth:processing"
	StateOAuthCompleted          State = "oauth:completed"
	StateOAuthError              State = "oauth:error"
	StateOAuthFatal              State = "oauth:fatal"
	StateOAuthWindowClosedByUser State = "oauth:window_closed_by_user"

	StateWalletLoading State = "wallet:loading"
	StateWalletReady   State = "wallet:ready"
	StateWalletError   State = "wallet:error"

	StateQuoteRequesting State = "quote:requesting"
	StateQuoteReady      State = "quote:ready"
	StateQuoteError      State = "quote:error"
	StateQuoteExpired    State = "quote:expired"

	StateWithdrawProcessing      State = "withdraw:processing"
	StateWithdrawError2FA        State = "withdraw:error2FA"
	StateWithdrawErrorSMS        State = "withdraw:errorSMS"
	StateWithdrawErrorKYC        State = "withdraw:errorKYC"
	StateWithdrawErrorBalance    State = "withdraw:errorBalance"
	StateWithdrawError2FAInvalid State = "withdraw:error2FAInvalid"
	StateWithdrawBlocked         State = "withdraw:blocked"
	StateWithdrawCompleted       State = "withdraw:completed"
	StateWithdrawFatal           State = "withdraw:fatal"

	StateCancelled State = "flow:cancelled"
)

// Phase returns the part of the tag before the colon.
func (s State) Phase() string {
	phase, _, _ := strings.Cut(string(s), ":")
	return phase
}

// IsWithdraw reports whether a withdrawal has been started.
func (s State) IsWithdraw() bool {
	return s.Phase() == "withdraw"
}

// IsTerminal reports whether the flow has ended. A terminal flow must be
// discarded; starting over requires a new flow.
func (s State) IsTerminal() bool {
	switch s {
	case StateCancelled, StateWithdrawCompleted, StateWithdrawBlocked, StateWithdrawFatal:
		return true
	}
	return false
}

// IsError reports whether s carries an error in the snapshot.
func (s State) IsError() bool {
	switch s {
	case StateExchangesError, StateOAuthError, StateOAuthFatal, StateOAuthWindowClosedByUser,
		StateWalletError, StateQuoteError, StateQuoteExpired,
		StateWithdrawError2FAInvalid, StateWithdrawErrorBalance, StateWithdrawBlocked, StateWithdrawFatal:
		return true
	}
	return false
}

// IsChallenge reports whether s waits for user input.
func (s State) IsChallenge() bool {
	switch s {
	case StateWithdrawError2FA, StateWithdrawErrorSMS, StateWithdrawErrorKYC, StateWithdrawError2FAInvalid:
		return true
	}
	return false
}

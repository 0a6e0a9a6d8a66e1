package withdrawal

import "github.com/execution-hub/exchange-withdraw/internal/domain/machine"

const (
	ActionExecute     machine.ActionType = "EXECUTE"
	ActionRequires2FA machine.ActionType = "REQUIRES_2FA"
	ActionRequiresSMS machine.ActionType = "REQUIRES_SMS"
	ActionRequiresKYC machine.ActionType = "REQUIRES_KYC"
	ActionSubmit2FA   machine.ActionType = "SUBMIT_2FA"
	ActionSubmitSMS   machine.ActionType = "SUBMIT_SMS"
	ActionSuccess     machine.ActionType = "SUCCESS"
	ActionFail        machine.ActionType = "FAIL"
	ActionRetry       machine.ActionType = "RETRY"
	ActionBlocked     machine.ActionType = "BLOCKED"
)

// Execute starts an attempt for a quote.
type Execute struct {
	QuoteID  string
	WalletID string
}

// Requires2FA asks the user for a two-factor code.
type Requires2FA struct {
	RequiredActions []string
}

// RequiresSMS asks the user for an SMS code.
type RequiresSMS struct {
	RequiredActions []string
}

// RequiresKYC pauses the attempt until identity verification completes elsewhere.
type RequiresKYC struct {
	RequiredActions []string
}

// Submit2FA resubmits the attempt with a two-factor code.
type Submit2FA struct {
	Code string
}

// SubmitSMS resubmits the attempt with an SMS code.
type SubmitSMS struct {
	Code string
}

// Success closes the attempt.
type Success struct {
	TransactionID string
}

// Fail records a failed attempt.
type Fail struct {
	Err error
}

// Retry starts the next attempt.
type Retry struct{}

// Blocked closes the attempt on a compliance block.
type Blocked struct {
	Reason string
}

func (Execute) Type() machine.ActionType     { return ActionExecute }
func (Requires2FA) Type() machine.ActionType { return ActionRequires2FA }
func (RequiresSMS) Type() machine.ActionType { return ActionRequiresSMS }
func (RequiresKYC) Type() machine.ActionType { return ActionRequiresKYC }
func (Submit2FA) Type() machine.ActionType   { return ActionSubmit2FA }
func (SubmitSMS) Type() machine.ActionType   { return ActionSubmitSMS }
func (Success) Type() machine.ActionType     { return ActionSuccess }
func (Fail) Type() machine.ActionType        { return ActionFail }
func (Retry) Type() machine.ActionType       { return ActionRetry }
func (Blocked) Type() machine.ActionType     { return ActionBlocked }

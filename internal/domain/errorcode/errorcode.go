package errorcode

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of server error categories the flow reacts to.
type Kind string

const (
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindAmountTooLow        Kind = "AMOUNT_TOO_LOW"
	KindAmountTooHigh       Kind = "AMOUNT_TOO_HIGH"
	KindInvalidAddress      Kind = "INVALID_ADDRESS"
	KindNetworkUnsupported  Kind = "NETWORK_UNSUPPORTED"
	KindTwoFARequired       Kind = "TWO_FA_REQUIRED"
	KindSMSRequired         Kind = "SMS_REQUIRED"
	KindKYCRequired         Kind = "KYC_REQUIRED"
	KindTwoFAInvalid        Kind = "TWO_FA_INVALID"
	KindQuoteExpired        Kind = "QUOTE_EXPIRED"
	KindBlocked             Kind = "BLOCKED"
	KindUnknown             Kind = "UNKNOWN"
)

// wireCodes maps lower-cased wire spellings to kinds. Servers send either a
// snake_case `type` or an upper-case `errorCode`; both are listed.
var wireCodes = map[string]Kind{
	"insufficient_balance":        KindInsufficientBalance,
	"insufficient_funds":          KindInsufficientBalance,
	"withdraw_amount_too_low":     KindAmountTooLow,
	"amount_too_low":              KindAmountTooLow,
	"below_minimum_amount":        KindAmountTooLow,
	"withdraw_amount_too_high":    KindAmountTooHigh,
	"amount_too_high":             KindAmountTooHigh,
	"above_maximum_amount":        KindAmountTooHigh,
	"invalid_address":             KindInvalidAddress,
	"invalid_destination_address": KindInvalidAddress,
	"network_not_supported":       KindNetworkUnsupported,
	"unsupported_network":         KindNetworkUnsupported,
	"2fa_required":                KindTwoFARequired,
	"two_factor_required":         KindTwoFARequired,
	"sms_required":                KindSMSRequired,
	"sms_code_required":           KindSMSRequired,
	"kyc_required":                KindKYCRequired,
	"verification_required":       KindKYCRequired,
	"2fa_invalid":                 KindTwoFAInvalid,
	"invalid_2fa":                 KindTwoFAInvalid,
	"invalid_two_factor_code":     KindTwoFAInvalid,
	"quote_expired":               KindQuoteExpired,
	"withdrawal_blocked":          KindBlocked,
	"blocked":                     KindBlocked,
	"compliance_blocked":          KindBlocked,
}

// Classify maps a wire error code to its kind. Unrecognized codes are KindUnknown.
func Classify(code string) Kind {
	k, ok := wireCodes[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return KindUnknown
	}
	return k
}

// IsChallenge reports whether the kind asks the user for more input.
func (k Kind) IsChallenge() bool {
	return k == KindTwoFARequired || k == KindSMSRequired || k == KindKYCRequired
}

// APIError is a typed error returned by exchange collaborators.
type APIError struct {
	Kind            Kind     `json:"kind"`
	Code            string   `json:"code"`
	Message         string   `json:"message"`
	Status          int      `json:"status,omitempty"`
	RequiredActions []string `json:"requiredActions,omitempty"`
	// StatusOnly marks an error whose server named no code; Code is then
	// derived from Status.
	StatusOnly bool `json:"statusOnly,omitempty"`
}

// New builds an APIError from a wire code.
func New(code, message string) *APIError {
	return &APIError{Kind: Classify(code), Code: code, Message: message}
}

// FromStatus builds an APIError for a response that carried no error code.
func FromStatus(status int, message string) *APIError {
	return &APIError{
		Kind:       KindUnknown,
		Code:       fmt.Sprintf("http_%d", status),
		Message:    message,
		Status:     status,
		StatusOnly: true,
	}
}

// FirstKnown builds an APIError from the first of codes that classifies to a
// known kind. When none does, the first non-empty code is kept as
// KindUnknown. It returns nil when every code is empty.
func FirstKnown(message string, codes ...string) *APIError {
	var fallback string
	for _, code := range codes {
		if strings.TrimSpace(code) == "" {
			continue
		}
		if Classify(code) != KindUnknown {
			return New(code, message)
		}
		if fallback == "" {
			fallback = code
		}
	}
	if fallback == "" {
		return nil
	}
	return New(fallback, message)
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exchange error %s", e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// KindOf returns the kind of err. Errors that are not APIErrors are KindUnknown.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// AsAPIError unwraps err into an APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

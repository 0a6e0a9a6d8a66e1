package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
)

// DefaultRetryCondition retries transport failures and status-only throttling
// or server errors. Only those reach the condition: a code the server names
// but the flow does not know always ends the flow.
const DefaultRetryCondition = "network || status == 429 || status >= 500"

// FailureFacts describe an unclassified withdrawal failure. They are exposed
// to the retry condition as kind, code, status, network, retryCount and
// maxRetries.
type FailureFacts struct {
	Kind       errorcode.Kind
	Code       string
	Status     int
	Network    bool
	RetryCount int
	MaxRetries int
}

// FactsOf derives failure facts from err.
func FactsOf(err error, retryCount, maxRetries int) FailureFacts {
	facts := FailureFacts{Kind: errorcode.KindUnknown, RetryCount: retryCount, MaxRetries: maxRetries}
	apiErr, ok := errorcode.AsAPIError(err)
	if !ok {
		facts.Network = true
		return facts
	}
	facts.Kind = apiErr.Kind
	facts.Code = apiErr.Code
	facts.Status = apiErr.Status
	return facts
}

func (f FailureFacts) params() map[string]interface{} {
	return map[string]interface{}{
		"kind":       string(f.Kind),
		"code":       f.Code,
		"status":     float64(f.Status),
		"network":    f.Network,
		"retryCount": float64(f.RetryCount),
		"maxRetries": float64(f.MaxRetries),
	}
}

// RetryPolicy decides whether a failure consumes the retry budget.
type RetryPolicy struct {
	condition string
	expr      *govaluate.EvaluableExpression
}

// NewRetryPolicy compiles condition. An empty condition selects
// DefaultRetryCondition; "true" and "false" are accepted as literals.
func NewRetryPolicy(condition string) (*RetryPolicy, error) {
	cond := strings.TrimSpace(condition)
	if cond == "" {
		cond = DefaultRetryCondition
	}
	p := &RetryPolicy{condition: cond}
	switch strings.ToLower(cond) {
	case "true", "false":
		return p, nil
	}
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return nil, fmt.Errorf("invalid retry condition %q: %w", cond, err)
	}
	p.expr = expr
	return p, nil
}

// DefaultRetryPolicy returns the policy for DefaultRetryCondition.
func DefaultRetryPolicy() *RetryPolicy {
	p, err := NewRetryPolicy(DefaultRetryCondition)
	if err != nil {
		panic(err)
	}
	return p
}

// Condition returns the compiled expression source.
func (p *RetryPolicy) Condition() string {
	return p.condition
}

// Retryable evaluates the condition. Evaluation errors count as not retryable.
func (p *RetryPolicy) Retryable(facts FailureFacts) bool {
	ok, err := p.evaluate(facts)
	return err == nil && ok
}

func (p *RetryPolicy) evaluate(facts FailureFacts) (bool, error) {
	switch strings.ToLower(p.condition) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	result, err := p.expr.Evaluate(facts.params())
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("retry condition did not evaluate to boolean")
	}
}

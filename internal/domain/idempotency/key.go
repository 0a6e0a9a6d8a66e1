package idempotency

import "github.com/google/uuid"

// Generator produces idempotency keys.
type Generator func() string

// NewKey returns a random (v4) token. Keys are never derived from
// counters, so concurrent flows cannot collide.
func NewKey() string {
	return uuid.NewString()
}

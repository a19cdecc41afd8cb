// Package idempotency replays the first response produced for a
// (principal, Idempotency-Key) pair instead of running the handler again.
package idempotency

import (
	"context"
	"time"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	// AnonymousScope is used when no principal was resolved for the request.
	AnonymousScope = "anonymous"

	DefaultTTL = 24 * time.Hour
	// DefaultLease bounds how long an in-progress placeholder blocks its key.
	// A process that dies mid-request frees the key once the lease lapses.
	DefaultLease = 5 * time.Minute
)

type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

type Record struct {
	Scope       string    `json:"scope"`
	Key         string    `json:"key"`
	State       State     `json:"state"`
	StatusCode  int       `json:"status_code,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Response is what gets stored once the wrapped handler has finished.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store holds idempotency records. Reserve is the check-then-act step and
// must be atomic per (scope, key).
type Store interface {
	// Reserve claims (scope, key) with an in-progress placeholder. It returns
	// reserved=true when the claim succeeded (no live record existed) and
	// otherwise the live record already stored under the key.
	Reserve(ctx context.Context, scope, key string, expiresAt time.Time) (rec *Record, reserved bool, err error)
	Complete(ctx context.Context, scope, key string, resp Response, expiresAt time.Time) error
	Release(ctx context.Context, scope, key string) error
}

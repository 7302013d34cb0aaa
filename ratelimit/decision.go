/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import "time"

// Reason classifies the outcome of an admission check.
type Reason string

// Admission check outcomes.
const (
	ReasonAllowed Reason = "allowed"
	ReasonBackoff Reason = "backoff"
	ReasonBurst   Reason = "burst"
	ReasonLimit   Reason = "limit"
)

// Decision is the outcome of a single admission check.
// A denial is a normal, typed outcome, not an error: callers decide whether
// to surface Message to a user, queue the request, or translate the denial
// into an error at their own boundary.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Reason tells which gating mechanism produced the decision.
	Reason Reason

	// RetryAfter is how long the caller should wait before retrying.
	// Zero when the request is allowed.
	RetryAfter time.Duration

	// ResetTime is when the triggered limit resets. For an allowed request
	// it is the end of the rolling window starting now.
	ResetTime time.Time

	// Remaining is the number of requests left in the rolling window.
	// Meaningful only for allowed decisions.
	Remaining int

	// Message is a human-readable description suitable for direct display.
	Message string
}

// RetryAfterSeconds returns RetryAfter in whole seconds, rounded up.
// A denial always reports at least one second.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter.Milliseconds() + 999) / 1000)
}

// Status is a read-only snapshot of a key's state.
// Taking a snapshot never mutates the limiter; counts are consistent with
// what an admission check at the same instant would compute.
type Status struct {
	// WindowCount is the number of requests currently inside the rolling window.
	WindowCount int
	// WindowLimit is the rolling-window cap.
	WindowLimit int
	// Window is the rolling window length.
	Window time.Duration

	// BurstCount is the number of requests currently inside the burst window.
	BurstCount int
	// BurstLimit is the burst-window cap.
	BurstLimit int
	// BurstWindow is the burst window length.
	BurstWindow time.Duration

	// BackoffUntil is when the active backoff penalty expires.
	// The zero time means no active penalty.
	BackoffUntil time.Time
}

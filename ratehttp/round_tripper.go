/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratehttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acey/go-ratekit/ratelimit"
)

// Default parameter values for RateLimitingRoundTripper.
const (
	DefaultRateLimitingIdentity    = "client"
	DefaultRateLimitingWaitTimeout = 15 * time.Second
)

// Limiter makes admission decisions for identity/endpoint pairs.
// Both *ratelimit.RateLimiter and *ratelimit.RuleSet implement it.
type Limiter interface {
	Check(identity, endpoint string) ratelimit.Decision
}

// RateLimitingRoundTripperOpts represents an options for RateLimitingRoundTripper.
type RateLimitingRoundTripperOpts struct {
	// Identity is the identity outgoing requests are checked under.
	// "client" is used when empty.
	Identity string

	// GetEndpoint extracts the endpoint from the request. URL path is used when nil.
	GetEndpoint func(r *http.Request) string

	// WaitOnDeny makes RoundTrip wait and re-check with exponentially growing
	// delays instead of failing immediately when a request is denied.
	WaitOnDeny bool

	// WaitTimeout bounds the total waiting time when WaitOnDeny is enabled.
	WaitTimeout time.Duration
}

// RateLimitingRoundTripper wraps an object implementing http.RoundTripper interface
// and checks every outgoing request against a sliding-window limiter before dispatching it.
type RateLimitingRoundTripper struct {
	Delegate http.RoundTripper
	Limiter  Limiter

	Identity    string
	GetEndpoint func(r *http.Request) string
	WaitOnDeny  bool
	WaitTimeout time.Duration
}

// NewRateLimitingRoundTripper creates a new RateLimitingRoundTripper with the specified limiter.
func NewRateLimitingRoundTripper(delegate http.RoundTripper, limiter Limiter) (*RateLimitingRoundTripper, error) {
	return NewRateLimitingRoundTripperWithOpts(delegate, limiter, RateLimitingRoundTripperOpts{})
}

// NewRateLimitingRoundTripperWithOpts creates a new RateLimitingRoundTripper with the specified limiter and options.
// For options that are not presented, the default values will be used.
func NewRateLimitingRoundTripperWithOpts(
	delegate http.RoundTripper, limiter Limiter, opts RateLimitingRoundTripperOpts,
) (*RateLimitingRoundTripper, error) {
	if delegate == nil {
		return nil, fmt.Errorf("delegate must not be nil")
	}
	if limiter == nil {
		return nil, fmt.Errorf("limiter must not be nil")
	}

	if opts.Identity == "" {
		opts.Identity = DefaultRateLimitingIdentity
	}
	if opts.GetEndpoint == nil {
		opts.GetEndpoint = func(r *http.Request) string {
			return r.URL.Path
		}
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = DefaultRateLimitingWaitTimeout
	}

	return &RateLimitingRoundTripper{
		Delegate:    delegate,
		Limiter:     limiter,
		Identity:    opts.Identity,
		GetEndpoint: opts.GetEndpoint,
		WaitOnDeny:  opts.WaitOnDeny,
		WaitTimeout: opts.WaitTimeout,
	}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *RateLimitingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	endpoint := rt.GetEndpoint(r)

	if d := rt.Limiter.Check(rt.Identity, endpoint); !d.Allowed {
		if !rt.WaitOnDeny {
			rt.closeBody(r)
			return nil, &RateLimitError{Decision: d}
		}
		if err := rt.waitAdmission(r.Context(), endpoint, d); err != nil {
			rt.closeBody(r)
			return nil, &RateLimitingWaitError{Inner: err}
		}
	}

	return rt.Delegate.RoundTrip(r)
}

// waitAdmission re-checks the limiter with exponentially growing delays,
// starting from the retry hint of the first denial, until the request is
// admitted or the wait timeout elapses.
func (rt *RateLimitingRoundTripper) waitAdmission(ctx context.Context, endpoint string, denied ratelimit.Decision) error {
	waitCtx, cancel := context.WithTimeout(ctx, rt.WaitTimeout)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	if denied.RetryAfter > 0 {
		eb.InitialInterval = denied.RetryAfter
	}
	eb.MaxElapsedTime = rt.WaitTimeout
	eb.Reset()

	op := func() error {
		if d := rt.Limiter.Check(rt.Identity, endpoint); !d.Allowed {
			return &RateLimitError{Decision: d}
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(eb, waitCtx))
}

func (rt *RateLimitingRoundTripper) closeBody(r *http.Request) {
	if r.Body != nil {
		_ = r.Body.Close() // Per RoundTripper contract.
	}
}

// RateLimitError is returned in RoundTrip method of RateLimitingRoundTripper when the request is denied.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("request denied due to client side rate limiting (%s), retry after %s",
		e.Decision.Reason, e.Decision.RetryAfter)
}

// RateLimitingWaitError is returned in RoundTrip method of RateLimitingRoundTripper
// when waiting for admission fails or times out.
type RateLimitingWaitError struct {
	Inner error
}

func (e *RateLimitingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side rate limiting: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RateLimitingWaitError) Unwrap() error {
	return e.Inner
}

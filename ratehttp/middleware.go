/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratehttp

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/acey/go-ratekit/log"
	"github.com/acey/go-ratekit/ratelimit"
)

// RateLimitErrCode is the error code that is used in a response body
// if the request is rejected by the rate limiting middleware.
const RateLimitErrCode = "tooManyRequests"

// Log fields for RateLimit middleware.
const (
	rateLimitLogFieldIdentity = "rate_limit_identity"
	rateLimitLogFieldEndpoint = "rate_limit_endpoint"
	rateLimitLogFieldReason   = "rate_limit_reason"
)

// Response HTTP headers set by the RateLimit middleware.
const (
	headerRetryAfter         = "Retry-After"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting or handling an occurred error.
type RateLimitParams struct {
	ResponseStatusCode int
	ErrDomain          string
	Identity           string
	Endpoint           string
	Decision           ratelimit.Decision
}

// RateLimitGetIdentityFunc is a function that is called for extracting the identity
// a request is checked under. Returning bypass as true skips the check entirely.
type RateLimitGetIdentityFunc func(r *http.Request) (identity string, bypass bool, err error)

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(rw http.ResponseWriter, r *http.Request,
	params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOnErrorFunc is a function that is called in case of any error that may occur during the rate limiting.
type RateLimitOnErrorFunc func(rw http.ResponseWriter, r *http.Request,
	params RateLimitParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// GetIdentity extracts the checked identity from the request.
	// The client IP address is used when nil.
	GetIdentity RateLimitGetIdentityFunc

	// GetEndpoint extracts the endpoint from the request. URL path is used when nil.
	GetEndpoint func(r *http.Request) string

	// ResponseStatusCode is the status code of rejecting responses. 429 is used when zero.
	ResponseStatusCode int

	// DryRun makes the middleware log rejections and serve the request anyway.
	DryRun bool

	// Logger is used for logging rejections and errors.
	Logger log.FieldLogger

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc
}

type rateLimitHandler struct {
	next           http.Handler
	limiter        Limiter
	getIdentity    RateLimitGetIdentityFunc
	getEndpoint    func(r *http.Request) string
	errDomain      string
	respStatusCode int
	dryRun         bool
	logger         log.FieldLogger

	onReject         RateLimitOnRejectFunc
	onRejectInDryRun RateLimitOnRejectFunc
	onError          RateLimitOnErrorFunc
}

// RateLimit is a middleware that checks every request against a sliding-window
// limiter and rejects with 429 and a Retry-After header when the limit is exceeded.
func RateLimit(limiter Limiter, errDomain string) (func(next http.Handler) http.Handler, error) {
	return RateLimitWithOpts(limiter, errDomain, RateLimitOpts{})
}

// MustRateLimit is a version of RateLimit that panics on error.
func MustRateLimit(limiter Limiter, errDomain string) func(next http.Handler) http.Handler {
	mw, err := RateLimit(limiter, errDomain)
	if err != nil {
		panic(err)
	}
	return mw
}

// RateLimitWithOpts is a configurable version of the RateLimit middleware.
func RateLimitWithOpts(limiter Limiter, errDomain string, opts RateLimitOpts) (func(next http.Handler) http.Handler, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter must not be nil")
	}

	getIdentity := opts.GetIdentity
	if getIdentity == nil {
		getIdentity = ClientIPIdentity
	}
	getEndpoint := opts.GetEndpoint
	if getEndpoint == nil {
		getEndpoint = func(r *http.Request) string {
			return r.URL.Path
		}
	}
	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusTooManyRequests
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:             next,
			limiter:          limiter,
			getIdentity:      getIdentity,
			getEndpoint:      getEndpoint,
			errDomain:        errDomain,
			respStatusCode:   respStatusCode,
			dryRun:           opts.DryRun,
			logger:           logger,
			onReject:         makeRateLimitOnRejectFunc(opts),
			onRejectInDryRun: makeRateLimitOnRejectInDryRunFunc(opts),
			onError:          makeRateLimitOnErrorFunc(opts),
		}
	}, nil
}

// MustRateLimitWithOpts is a version of RateLimitWithOpts that panics on error.
func MustRateLimitWithOpts(limiter Limiter, errDomain string, opts RateLimitOpts) func(next http.Handler) http.Handler {
	mw, err := RateLimitWithOpts(limiter, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	endpoint := h.getEndpoint(r)

	identity, bypass, err := h.getIdentity(r)
	if err != nil {
		params := RateLimitParams{
			ResponseStatusCode: h.respStatusCode, ErrDomain: h.errDomain, Endpoint: endpoint}
		h.onError(rw, r, params, err, h.next, h.logger)
		return
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}

	d := h.limiter.Check(identity, endpoint)
	params := RateLimitParams{
		ResponseStatusCode: h.respStatusCode,
		ErrDomain:          h.errDomain,
		Identity:           identity,
		Endpoint:           endpoint,
		Decision:           d,
	}
	if d.Allowed {
		rw.Header().Set(headerRateLimitRemaining, strconv.Itoa(d.Remaining))
		rw.Header().Set(headerRateLimitReset, strconv.FormatInt(d.ResetTime.Unix(), 10))
		h.next.ServeHTTP(rw, r)
		return
	}
	if h.dryRun {
		h.onRejectInDryRun(rw, r, params, h.next, h.logger)
		return
	}
	h.onReject(rw, r, params, h.next, h.logger)
}

// ClientIPIdentity extracts the client IP address from the request's remote
// address. It is the default identity source of the RateLimit middleware.
func ClientIPIdentity(r *http.Request) (identity string, bypass bool, err error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, false, nil
	}
	return host, false, nil
}

// DefaultRateLimitOnReject sends a 429 JSON error response with the
// Retry-After and X-RateLimit-Reset headers filled from the decision.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(
			log.String(rateLimitLogFieldIdentity, params.Identity),
			log.String(rateLimitLogFieldEndpoint, params.Endpoint),
			log.String(rateLimitLogFieldReason, string(params.Decision.Reason)),
		)
	}
	d := params.Decision
	rw.Header().Set(headerRetryAfter, strconv.Itoa(d.RetryAfterSeconds()))
	rw.Header().Set(headerRateLimitRemaining, "0")
	rw.Header().Set(headerRateLimitReset, strconv.FormatInt(d.ResetTime.Unix(), 10))
	apiErr := &Error{Domain: params.ErrDomain, Code: RateLimitErrCode, Message: d.Message}
	respondError(rw, params.ResponseStatusCode, apiErr, logger)
}

// DefaultRateLimitOnRejectInDryRun logs the rejection and serves the request anyway.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("rate limit exceeded, serving will be continued because of dry run mode",
			log.String(rateLimitLogFieldIdentity, params.Identity),
			log.String(rateLimitLogFieldEndpoint, params.Endpoint),
			log.String(rateLimitLogFieldReason, string(params.Decision.Reason)),
		)
	}
	next.ServeHTTP(rw, r)
}

// DefaultRateLimitOnError logs the error and sends a 500 JSON error response.
func DefaultRateLimitOnError(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error(err.Error(), log.String(rateLimitLogFieldEndpoint, params.Endpoint))
	}
	apiErr := &Error{Domain: params.ErrDomain, Code: "internalError", Message: "Internal error."}
	respondError(rw, http.StatusInternalServerError, apiErr, logger)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}

func makeRateLimitOnRejectInDryRunFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.OnRejectInDryRun != nil {
		return opts.OnRejectInDryRun
	}
	return DefaultRateLimitOnRejectInDryRun
}

func makeRateLimitOnErrorFunc(opts RateLimitOpts) RateLimitOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return DefaultRateLimitOnError
}

// Error represents error details in rejecting response bodies.
type Error struct {
	Domain  string `json:"domain"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type errorResponseData struct {
	Err *Error `json:"error"`
}

func respondError(rw http.ResponseWriter, statusCode int, apiErr *Error, logger log.FieldLogger) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	if err := json.NewEncoder(rw).Encode(errorResponseData{Err: apiErr}); err != nil && logger != nil {
		logger.Error("error while writing error response body", log.Error(err))
	}
}

/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"

	"github.com/acey/go-ratekit/kvstore"
	"github.com/acey/go-ratekit/log"
)

// DefaultMaxKeys is the default maximum number of tracked (identity, endpoint) keys.
// The least recently checked keys are evicted beyond this bound.
const DefaultMaxKeys = 10000

// persistWarnInterval throttles repeated persistence-failure warnings.
const persistWarnInterval = time.Minute

// Key builds the tracking key for an (identity, endpoint) pair.
func Key(identity, endpoint string) string {
	return identity + ":" + endpoint
}

// keyState holds all per-key admission state.
// Timestamps are milliseconds since epoch in ascending order; logs never
// keep entries older than their window past a pruning pass.
// The backoff penalty tracks its duration separately from its expiry so the
// multiplier always operates on a duration, never on an absolute timestamp.
type keyState struct {
	requests     []int64
	burst        []int64
	backoffUntil int64 // ms epoch, 0 means no active penalty
	backoffDur   int64 // ms, kept across expiry so consecutive violations keep growing
}

func (st *keyState) empty() bool {
	return len(st.requests) == 0 && len(st.burst) == 0 && st.backoffUntil == 0
}

// Opts represents options for a RateLimiter.
type Opts struct {
	// Store persists the limiter state. Required when Config.Storage is enabled.
	Store kvstore.Store

	// Logger receives persistence warnings. Defaults to a disabled logger.
	Logger log.FieldLogger

	// Metrics collects admission decisions. Defaults to a no-op collector.
	Metrics MetricsCollector

	// MaxKeys bounds the number of tracked keys. Defaults to DefaultMaxKeys.
	MaxKeys int
}

// RateLimiter decides, per (identity, endpoint) pair, whether a request may
// proceed right now. It is safe for concurrent use. All operations are
// synchronous: nothing in the admission path blocks on I/O other than the
// optional persistence write.
type RateLimiter struct {
	cfg     Config
	store   kvstore.Store
	logger  log.FieldLogger
	metrics MetricsCollector

	mu      sync.Mutex
	entries *lru.Cache[string, *keyState]

	lastPersistWarn atomic.Int64

	timeNow func() time.Time
}

// New creates a new RateLimiter with the given configuration.
func New(cfg *Config) (*RateLimiter, error) {
	return NewWithOpts(cfg, Opts{})
}

// MustNew is a version of New that panics if an error occurs.
func MustNew(cfg *Config) *RateLimiter {
	rl, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return rl
}

// NewWithOpts creates a new RateLimiter with the given configuration and options.
// If persistence is enabled, previously stored state is loaded and pruned
// before the limiter is returned; a corrupt or unavailable store degrades the
// limiter to in-memory operation instead of failing construction.
func NewWithOpts(cfg *Config, opts Opts) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.Storage && opts.Store == nil {
		return nil, fmt.Errorf("storage is enabled but no store is provided")
	}

	maxKeys := opts.MaxKeys
	if maxKeys == 0 {
		maxKeys = DefaultMaxKeys
	}
	entries, err := lru.New[string, *keyState](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new LRU for keys: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}

	rl := &RateLimiter{
		cfg:     *cfg,
		store:   opts.Store,
		logger:  logger,
		metrics: metrics,
		entries: entries,
		timeNow: time.Now,
	}

	if rl.persistent() {
		rl.mu.Lock()
		rl.loadStateLocked()
		rl.cleanupLocked(rl.nowMilli())
		rl.mu.Unlock()
	}
	return rl, nil
}

// MustNewWithOpts is a version of NewWithOpts that panics if an error occurs.
func MustNewWithOpts(cfg *Config, opts Opts) *RateLimiter {
	rl, err := NewWithOpts(cfg, opts)
	if err != nil {
		panic(err)
	}
	return rl
}

// Check performs a single admission check for the (identity, endpoint) pair.
// Gating mechanisms are evaluated in a fixed order: active backoff penalty,
// burst-window cap, rolling-window cap. An allowed request is recorded into
// both windows and the state is persisted.
func (rl *RateLimiter) Check(identity, endpoint string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := Key(identity, endpoint)
	now := rl.nowMilli()
	st, tracked := rl.entries.Get(key)

	// 1. Active backoff penalty.
	if tracked && st.backoffUntil > now {
		d := deny(ReasonBackoff, now, st.backoffUntil,
			"Too many requests. Try again in %ds.")
		rl.metrics.IncDenied(ReasonBackoff)
		return d
	}

	// 2. Burst window. A burst denial is transient and never escalates
	// into a backoff penalty.
	if tracked {
		st.burst = pruneOlder(st.burst, now-rl.cfg.BurstWindow.Milliseconds())
		if rl.cfg.BurstProtection && len(st.burst) >= rl.cfg.BurstMax {
			d := deny(ReasonBurst, now, st.burst[0]+rl.cfg.BurstWindow.Milliseconds(),
				"Slow down. Try again in %ds.")
			rl.metrics.IncDenied(ReasonBurst)
			return d
		}
	}

	// 3. Rolling window.
	if tracked {
		st.requests = pruneOlder(st.requests, now-rl.cfg.Window.Milliseconds())
		if len(st.requests) >= rl.cfg.MaxRequests {
			if rl.cfg.Backoff {
				rl.applyBackoffLocked(st, now)
				rl.saveStateLocked()
			}
			d := deny(ReasonLimit, now, st.requests[0]+rl.cfg.Window.Milliseconds(),
				"Rate limit exceeded. Try again in %ds.")
			rl.metrics.IncDenied(ReasonLimit)
			return d
		}
	}

	if !tracked {
		st = &keyState{}
		rl.entries.Add(key, st)
	}
	// The key fully recovered, the next violation starts a fresh penalty series.
	st.backoffUntil, st.backoffDur = 0, 0
	st.requests = append(st.requests, now)
	st.burst = append(st.burst, now)
	rl.saveStateLocked()
	rl.metrics.IncAllowed()

	return Decision{
		Allowed:   true,
		Reason:    ReasonAllowed,
		Remaining: rl.cfg.MaxRequests - len(st.requests),
		ResetTime: time.UnixMilli(now + rl.cfg.Window.Milliseconds()),
	}
}

// Allow is a convenience shorthand for Check(...).Allowed.
func (rl *RateLimiter) Allow(identity, endpoint string) bool {
	return rl.Check(identity, endpoint).Allowed
}

// Status returns a read-only snapshot for the (identity, endpoint) pair.
func (rl *RateLimiter) Status(identity, endpoint string) Status {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowMilli()
	status := Status{
		WindowLimit: rl.cfg.MaxRequests,
		Window:      rl.cfg.Window,
		BurstLimit:  rl.cfg.BurstMax,
		BurstWindow: rl.cfg.BurstWindow,
	}
	st, ok := rl.entries.Peek(Key(identity, endpoint))
	if !ok {
		return status
	}
	status.WindowCount = countNewer(st.requests, now-rl.cfg.Window.Milliseconds())
	status.BurstCount = countNewer(st.burst, now-rl.cfg.BurstWindow.Milliseconds())
	if st.backoffUntil > now {
		status.BackoffUntil = time.UnixMilli(st.backoffUntil)
	}
	return status
}

// Reset clears all state for the single (identity, endpoint) key.
func (rl *RateLimiter) Reset(identity, endpoint string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.entries.Remove(Key(identity, endpoint))
	rl.saveStateLocked()
}

// ResetIdentity clears all state for every endpoint of the given identity.
// Keys of other identities are left untouched.
func (rl *RateLimiter) ResetIdentity(identity string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	prefix := identity + ":"
	for _, key := range rl.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			rl.entries.Remove(key)
		}
	}
	rl.saveStateLocked()
}

// ClearAll empties the whole limiter state and deletes the persisted record
// (rather than persisting an empty one).
func (rl *RateLimiter) ClearAll() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.entries.Purge()
	if !rl.persistent() {
		return
	}
	if err := rl.store.Remove(rl.cfg.StorageKey); err != nil {
		rl.warnPersistFailure("failed to remove persisted rate limiter state", err)
	}
}

// Cleanup prunes expired entries across all keys and drops keys with no
// remaining state. It is idempotent and safe to call at any time; it runs
// once at construction after loading persisted state.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupLocked(rl.nowMilli())
	rl.saveStateLocked()
}

func (rl *RateLimiter) cleanupLocked(now int64) {
	for _, key := range rl.entries.Keys() {
		st, ok := rl.entries.Peek(key)
		if !ok {
			continue
		}
		st.requests = pruneOlder(st.requests, now-rl.cfg.Window.Milliseconds())
		st.burst = pruneOlder(st.burst, now-rl.cfg.BurstWindow.Milliseconds())
		if st.backoffUntil != 0 && st.backoffUntil <= now {
			st.backoffUntil = 0
			// backoffDur survives while the key still has recent requests,
			// so back-to-back violations keep growing the penalty.
		}
		if st.empty() {
			rl.entries.Remove(key)
		}
	}
}

// applyBackoffLocked starts or grows the backoff penalty for a key that has
// just violated the rolling window. The first penalty equals the burst window
// length; each consecutive one multiplies the previous duration, capped by
// MaxBackoff. The multiplier operates on the stored duration, never on the
// expiry timestamp.
func (rl *RateLimiter) applyBackoffLocked(st *keyState, now int64) {
	if st.backoffDur == 0 {
		st.backoffDur = rl.cfg.BurstWindow.Milliseconds()
	} else {
		next := int64(float64(st.backoffDur) * rl.cfg.BackoffMultiplier)
		if maxMs := rl.cfg.MaxBackoff.Milliseconds(); next > maxMs {
			next = maxMs
		}
		st.backoffDur = next
	}
	st.backoffUntil = now + st.backoffDur
}

func (rl *RateLimiter) persistent() bool {
	return rl.cfg.Storage && rl.store != nil
}

func (rl *RateLimiter) nowMilli() int64 {
	return rl.timeNow().UnixMilli()
}

func (rl *RateLimiter) warnPersistFailure(msg string, err error) {
	now := rl.timeNow().UnixNano()
	last := rl.lastPersistWarn.Load()
	if now-last < persistWarnInterval.Nanoseconds() {
		return
	}
	if rl.lastPersistWarn.CompareAndSwap(last, now) {
		rl.logger.Warn(msg, log.Error(err), log.String("storage_key", rl.cfg.StorageKey))
	}
}

func deny(reason Reason, now, resetMs int64, msgFormat string) Decision {
	d := Decision{
		Reason:     reason,
		RetryAfter: time.Duration(resetMs-now) * time.Millisecond,
		ResetTime:  time.UnixMilli(resetMs),
	}
	d.Message = fmt.Sprintf(msgFormat, d.RetryAfterSeconds())
	return d
}

// pruneOlder drops timestamps at or before cutoff, shifting the remainder
// left in place. Timestamps are ascending, so this is a single scan.
func pruneOlder(ts []int64, cutoff int64) []int64 {
	idx := 0
	for idx < len(ts) && ts[idx] <= cutoff {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append(ts[:0], ts[idx:]...)
}

func countNewer(ts []int64, cutoff int64) int {
	n := 0
	for i := len(ts) - 1; i >= 0 && ts[i] > cutoff; i-- {
		n++
	}
	return n
}

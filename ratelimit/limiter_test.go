/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/acey/go-ratekit/kvstore"
	"github.com/acey/go-ratekit/log/logtest"
)

// testClock is an adjustable clock plugged into limiters under test.
// It starts at the real current time so that construction-time cleanup
// (which runs before the clock is swapped in) never prunes test entries.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg *Config, opts Opts) (*RateLimiter, *testClock) {
	t.Helper()
	rl, err := NewWithOpts(cfg, opts)
	require.NoError(t, err)
	clk := newTestClock()
	rl.timeNow = clk.Now
	return rl, clk
}

type failingStore struct {
	err error
}

func (s failingStore) Load(string) ([]byte, error) { return nil, s.err }
func (s failingStore) Save(string, []byte) error   { return s.err }
func (s failingStore) Remove(string) error         { return s.err }

type RateLimiterTestSuite struct {
	suite.Suite
}

func TestRateLimiter(t *testing.T) {
	suite.Run(t, new(RateLimiterTestSuite))
}

func (ts *RateLimiterTestSuite) TestRollingWindowCap() {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 3
	cfg.Window = 10 * time.Second
	cfg.Backoff = false

	rl, clk := newTestLimiter(ts.T(), cfg, Opts{})

	for i, wantRemaining := range []int{2, 1, 0} {
		d := rl.Check("userA", "/api")
		ts.True(d.Allowed, "request #%d", i+1)
		ts.Equal(ReasonAllowed, d.Reason)
		ts.Equal(wantRemaining, d.Remaining)
		clk.Advance(time.Millisecond)
	}

	d := rl.Check("userA", "/api")
	ts.False(d.Allowed)
	ts.Equal(ReasonLimit, d.Reason)
	// The window resets when the oldest counted request leaves it.
	ts.Equal(clk.Now().Add(-3*time.Millisecond).Add(cfg.Window).UnixMilli(), d.ResetTime.UnixMilli())
	ts.Equal(10, d.RetryAfterSeconds())
	ts.NotEmpty(d.Message)

	// Another identity is unaffected.
	ts.True(rl.Check("userB", "/api").Allowed)
	// Another endpoint of the same identity is unaffected too.
	ts.True(rl.Check("userA", "/other").Allowed)
}

func (ts *RateLimiterTestSuite) TestBurstCap() {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 1000
	cfg.BurstMax = 2
	cfg.BurstWindow = time.Second
	cfg.Backoff = false

	rl, clk := newTestLimiter(ts.T(), cfg, Opts{})

	ts.True(rl.Check("u", "/api").Allowed)
	clk.Advance(500 * time.Millisecond)
	ts.True(rl.Check("u", "/api").Allowed)

	clk.Advance(100 * time.Millisecond)
	d := rl.Check("u", "/api")
	ts.False(d.Allowed)
	ts.Equal(ReasonBurst, d.Reason)
	ts.Equal(400*time.Millisecond, d.RetryAfter)
	ts.Equal(1, d.RetryAfterSeconds())

	// A burst denial never starts a backoff penalty.
	ts.True(rl.Status("u", "/api").BackoffUntil.IsZero())

	// The burst window slides: once the oldest request leaves it, requests
	// are admitted again with no residual penalty.
	clk.Advance(500 * time.Millisecond)
	ts.True(rl.Check("u", "/api").Allowed)
}

func (ts *RateLimiterTestSuite) TestWindowSlides() {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 2
	cfg.Window = time.Second
	cfg.Backoff = false
	cfg.BurstProtection = false

	rl, clk := newTestLimiter(ts.T(), cfg, Opts{})

	ts.True(rl.Check("u", "/api").Allowed)
	clk.Advance(100 * time.Millisecond)
	ts.True(rl.Check("u", "/api").Allowed)

	clk.Advance(100 * time.Millisecond)
	ts.False(rl.Check("u", "/api").Allowed)

	// At +1050ms the first request (at +0) has left the window,
	// the second (at +100) is still inside.
	clk.Advance(850 * time.Millisecond)
	d := rl.Check("u", "/api")
	ts.True(d.Allowed)
	ts.Equal(0, d.Remaining)
}

func (ts *RateLimiterTestSuite) TestBackoffGrowth() {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 1
	cfg.Window = 10 * time.Second
	cfg.BurstProtection = false
	cfg.BurstWindow = time.Second // base backoff unit
	cfg.BackoffMultiplier = 2
	cfg.MaxBackoff = 4 * time.Second

	rl, clk := newTestLimiter(ts.T(), cfg, Opts{})

	ts.True(rl.Check("u", "/api").Allowed)

	// First violation: penalty equals the burst window length.
	clk.Advance(10 * time.Millisecond)
	d := rl.Check("u", "/api")
	ts.False(d.Allowed)
	ts.Equal(ReasonLimit, d.Reason)
	firstExpiry := clk.Now().Add(time.Second)
	ts.Equal(firstExpiry.UnixMilli(), rl.Status("u", "/api").BackoffUntil.UnixMilli())

	// While the penalty is active, checks are denied with reason backoff
	// and the penalty does not grow.
	clk.Advance(500 * time.Millisecond)
	d = rl.Check("u", "/api")
	ts.False(d.Allowed)
	ts.Equal(ReasonBackoff, d.Reason)
	ts.Equal(firstExpiry.UnixMilli(), d.ResetTime.UnixMilli())
	ts.Equal(500*time.Millisecond, d.RetryAfter)
	ts.Equal(1, d.RetryAfterSeconds())

	// Second consecutive violation after the penalty expires: duration doubles.
	clk.Advance(600 * time.Millisecond)
	d = rl.Check("u", "/api")
	ts.False(d.Allowed)
	ts.Equal(ReasonLimit, d.Reason)
	ts.Equal(clk.Now().Add(2*time.Second).UnixMilli(), rl.Status("u", "/api").BackoffUntil.UnixMilli())

	// Third violation: doubles again, hitting the cap.
	clk.Advance(2100 * time.Millisecond)
	ts.False(rl.Check("u", "/api").Allowed)
	ts.Equal(clk.Now().Add(4*time.Second).UnixMilli(), rl.Status("u", "/api").BackoffUntil.UnixMilli())

	// Fourth violation: capped, never exceeds MaxBackoff.
	clk.Advance(4100 * time.Millisecond)
	ts.False(rl.Check("u", "/api").Allowed)
	ts.Equal(clk.Now().Add(4*time.Second).UnixMilli(), rl.Status("u", "/api").BackoffUntil.UnixMilli())

	// Full recovery: window empties, the request is allowed and the
	// penalty series starts over.
	clk.Advance(11 * time.Second)
	ts.True(rl.Check("u", "/api").Allowed)
	clk.Advance(10 * time.Millisecond)
	ts.False(rl.Check("u", "/api").Allowed)
	ts.Equal(clk.Now().Add(time.Second).UnixMilli(), rl.Status("u", "/api").BackoffUntil.UnixMilli())
}

func (ts *RateLimiterTestSuite) TestDenialsAreNotRecorded() {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 2
	cfg.Window = time.Second
	cfg.Backoff = false
	cfg.BurstProtection = false

	rl, clk := newTestLimiter(ts.T(), cfg, Opts{})

	ts.True(rl.Check("u", "/api").Allowed)
	ts.True(rl.Check("u", "/api").Allowed)
	for i := 0; i < 5; i++ {
		ts.False(rl.Check("u", "/api").Allowed)
		clk.Advance(10 * time.Millisecond)
	}
	ts.Equal(2, rl.Status("u", "/api").WindowCount)

	// Both recorded requests leave the window at the same time,
	// regardless of how many denials happened in between.
	clk.Advance(time.Second)
	ts.True(rl.Check("u", "/api").Allowed)
}

func (ts *RateLimiterTestSuite) TestStatusDoesNotMutate() {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 5
	rl, clk := newTestLimiter(ts.T(), cfg, Opts{})

	for i := 0; i < 3; i++ {
		ts.True(rl.Check("u", "/api").Allowed)
		clk.Advance(time.Millisecond)
	}

	st1 := rl.Status("u", "/api")
	st2 := rl.Status("u", "/api")
	ts.Equal(st1, st2)
	ts.Equal(3, st1.WindowCount)
	ts.Equal(5, st1.WindowLimit)
	ts.Equal(3, st1.BurstCount)
	ts.Equal(cfg.BurstMax, st1.BurstLimit)
	ts.True(st1.BackoffUntil.IsZero())

	// An unknown key reports zero counts with the configured limits.
	st := rl.Status("nobody", "/api")
	ts.Equal(0, st.WindowCount)
	ts.Equal(0, st.BurstCount)
	ts.Equal(cfg.Window, st.Window)
}

func (ts *RateLimiterTestSuite) TestResetScoping() {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 1
	cfg.Backoff = false
	cfg.BurstProtection = false

	rl, _ := newTestLimiter(ts.T(), cfg, Opts{})

	ts.True(rl.Check("alice", "/a").Allowed)
	ts.True(rl.Check("alice", "/b").Allowed)
	ts.True(rl.Check("bob", "/a").Allowed)

	// Single-key reset clears only that key.
	rl.Reset("alice", "/a")
	ts.True(rl.Check("alice", "/a").Allowed)
	ts.False(rl.Check("alice", "/b").Allowed)
	ts.False(rl.Check("bob", "/a").Allowed)

	// Identity reset clears every endpoint of that identity and nothing else.
	rl.ResetIdentity("alice")
	ts.True(rl.Check("alice", "/a").Allowed)
	ts.True(rl.Check("alice", "/b").Allowed)
	ts.False(rl.Check("bob", "/a").Allowed)
}

func (ts *RateLimiterTestSuite) TestCleanup() {
	cfg := NewDefaultConfig()
	cfg.Window = time.Second
	cfg.Backoff = false

	rl, clk := newTestLimiter(ts.T(), cfg, Opts{})

	ts.True(rl.Check("u", "/a").Allowed)
	ts.True(rl.Check("u", "/b").Allowed)
	ts.Equal(2, rl.entries.Len())

	clk.Advance(2 * time.Second)
	rl.Cleanup()
	ts.Equal(0, rl.entries.Len())

	// Idempotent.
	rl.Cleanup()
	ts.Equal(0, rl.entries.Len())
}

func (ts *RateLimiterTestSuite) TestPersistenceRoundTrip() {
	store := kvstore.NewMemoryStore()
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 3
	cfg.Window = time.Minute
	cfg.Backoff = false
	cfg.Storage = true

	first, clk := newTestLimiter(ts.T(), cfg, Opts{Store: store})
	for i := 0; i < 3; i++ {
		ts.True(first.Check("userA", "/api").Allowed)
		clk.Advance(time.Millisecond)
	}
	denied := first.Check("userA", "/api")
	ts.False(denied.Allowed)

	// A new instance over the same store must reproduce the same decision.
	second, err := NewWithOpts(cfg, Opts{Store: store})
	ts.Require().NoError(err)
	second.timeNow = clk.Now

	d := second.Check("userA", "/api")
	ts.False(d.Allowed)
	ts.Equal(denied.Reason, d.Reason)
	ts.Equal(denied.ResetTime.UnixMilli(), d.ResetTime.UnixMilli())
	ts.Equal(3, second.Status("userA", "/api").WindowCount)
}

func (ts *RateLimiterTestSuite) TestPersistenceRoundTripBackoff() {
	store := kvstore.NewMemoryStore()
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 1
	cfg.Window = time.Minute
	cfg.BurstProtection = false
	cfg.Storage = true
	cfg.MaxBackoff = 4 * time.Second

	first, clk := newTestLimiter(ts.T(), cfg, Opts{Store: store})
	ts.True(first.Check("u", "/api").Allowed)
	clk.Advance(10 * time.Millisecond)
	ts.False(first.Check("u", "/api").Allowed) // penalty: 1s

	second, err := NewWithOpts(cfg, Opts{Store: store})
	ts.Require().NoError(err)
	second.timeNow = clk.Now

	// The active penalty survives the reload.
	d := second.Check("u", "/api")
	ts.Equal(ReasonBackoff, d.Reason)

	// So does the penalty duration: the next violation doubles it
	// instead of restarting from the base unit.
	clk.Advance(1100 * time.Millisecond)
	ts.Equal(ReasonLimit, second.Check("u", "/api").Reason)
	ts.Equal(clk.Now().Add(2*time.Second).UnixMilli(), second.Status("u", "/api").BackoffUntil.UnixMilli())
}

func (ts *RateLimiterTestSuite) TestClearAllRemovesPersistedRecord() {
	store := kvstore.NewMemoryStore()
	cfg := NewDefaultConfig()
	cfg.Storage = true

	rl, _ := newTestLimiter(ts.T(), cfg, Opts{Store: store})
	ts.True(rl.Check("u", "/api").Allowed)

	_, err := store.Load(cfg.StorageKey)
	ts.NoError(err)

	rl.ClearAll()
	_, err = store.Load(cfg.StorageKey)
	ts.ErrorIs(err, kvstore.ErrNotFound)
	ts.Equal(0, rl.entries.Len())
}

func (ts *RateLimiterTestSuite) TestCorruptStateIsDiscarded() {
	store := kvstore.NewMemoryStore()
	cfg := NewDefaultConfig()
	cfg.Storage = true
	ts.Require().NoError(store.Save(cfg.StorageKey, []byte("{not json")))

	logRecorder := logtest.NewRecorder()
	rl, err := NewWithOpts(cfg, Opts{Store: store, Logger: logRecorder})
	ts.Require().NoError(err)

	_, found := logRecorder.FindEntry("discarding corrupt persisted rate limiter state")
	ts.True(found)

	// The limiter still works, in-memory.
	ts.True(rl.Check("u", "/api").Allowed)
}

func (ts *RateLimiterTestSuite) TestStoreFailuresNeverEscape() {
	cfg := NewDefaultConfig()
	cfg.Storage = true

	logRecorder := logtest.NewRecorder()
	rl, err := NewWithOpts(cfg, Opts{
		Store:  failingStore{err: errors.New("disk on fire")},
		Logger: logRecorder,
	})
	ts.Require().NoError(err)
	clk := newTestClock()
	rl.timeNow = clk.Now

	_, found := logRecorder.FindEntry("failed to load persisted rate limiter state")
	ts.True(found)

	ts.True(rl.Check("u", "/api").Allowed)
	entry, found := logRecorder.FindEntry("failed to persist rate limiter state")
	ts.True(found)
	errField, found := entry.FindField("error")
	ts.True(found)
	ts.NotNil(errField)

	// Repeated save failures are warned about at most once per interval.
	logRecorder.Reset()
	ts.True(rl.Check("u", "/api").Allowed)
	ts.True(rl.Check("u", "/api").Allowed)
	ts.Empty(logRecorder.Entries())

	clk.Advance(2 * persistWarnInterval)
	ts.True(rl.Check("u", "/api").Allowed)
	_, found = logRecorder.FindEntry("failed to persist rate limiter state")
	ts.True(found)

	// ClearAll degrades the same way.
	rl.ClearAll()
	ts.True(rl.Check("u", "/api").Allowed)
}

func (ts *RateLimiterTestSuite) TestMaxKeysEviction() {
	cfg := NewDefaultConfig()
	rl, _ := newTestLimiter(ts.T(), cfg, Opts{MaxKeys: 2})

	ts.True(rl.Check("a", "/x").Allowed)
	ts.True(rl.Check("b", "/x").Allowed)
	ts.True(rl.Check("c", "/x").Allowed)
	ts.Equal(2, rl.entries.Len())

	// The least recently checked key was evicted.
	_, tracked := rl.entries.Peek(Key("a", "/x"))
	ts.False(tracked)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Window = -time.Second
	_, err := New(cfg)
	require.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Storage = true
	_, err = New(cfg) // no store provided
	require.Error(t, err)

	require.NotPanics(t, func() { MustNew(NewDefaultConfig()) })
	require.Panics(t, func() { MustNew(&Config{}) })
}

func TestAllow(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 1
	cfg.Backoff = false
	cfg.BurstProtection = false

	rl, _ := newTestLimiter(t, cfg, Opts{})
	require.True(t, rl.Allow("u", "/api"))
	require.False(t, rl.Allow("u", "/api"))
}

/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics("ratekit_test")
	pm.MustRegister()
	defer pm.Unregister()

	cfg := NewDefaultConfig()
	cfg.MaxRequests = 2
	cfg.Window = 10 * time.Second

	rl, clk := newTestLimiter(t, cfg, Opts{Metrics: pm})

	require.True(t, rl.Check("u", "/api").Allowed)
	clk.Advance(time.Millisecond)
	require.True(t, rl.Check("u", "/api").Allowed)
	clk.Advance(time.Millisecond)
	require.False(t, rl.Check("u", "/api").Allowed) // limit, starts a penalty
	clk.Advance(time.Millisecond)
	require.False(t, rl.Check("u", "/api").Allowed) // backoff

	counter := func(reason Reason) float64 {
		return testutil.ToFloat64(pm.Decisions.WithLabelValues(string(reason)))
	}
	require.Equal(t, 2.0, counter(ReasonAllowed))
	require.Equal(t, 1.0, counter(ReasonLimit))
	require.Equal(t, 1.0, counter(ReasonBackoff))
	require.Equal(t, 0.0, counter(ReasonBurst))
}

func TestPrometheusMetricsCurry(t *testing.T) {
	pm := NewPrometheusMetrics("ratekit_test_curry")
	curried := pm.MustCurryWith(nil)
	require.NotNil(t, curried.Decisions)
	curried.IncAllowed()
	require.Equal(t, 1.0,
		testutil.ToFloat64(pm.Decisions.WithLabelValues(string(ReasonAllowed))))
}

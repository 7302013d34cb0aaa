/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

// Package ratelimit provides best-effort, in-process admission control for
// request-issuing code.
//
// A RateLimiter decides, per (identity, endpoint) pair, whether a request may
// proceed right now. Three gating mechanisms compose in a fixed order:
//
//  1. an active exponential-backoff penalty,
//  2. a short burst-window cap,
//  3. a rolling-window cap.
//
// State can be persisted through a kvstore.Store so decisions survive
// restarts. Persistence is best-effort: several processes sharing one store
// race benignly with last-write-wins semantics on the whole record, and the
// limiter never claims authority over whatever server it fronts.
//
// Key features:
//   - Timestamp-log sliding windows with lazy pruning
//   - Exponential backoff with separately tracked penalty duration and expiry
//   - Strict, lenient and API presets
//   - Glob-based endpoint rules routing to named profiles
//   - Pluggable persistence, logging and Prometheus metrics
package ratelimit

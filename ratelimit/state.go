/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/acey/go-ratekit/kvstore"
	"github.com/acey/go-ratekit/log"
)

// persistedState is the serialized form of the limiter state: one JSON record
// with parallel key maps. Timestamps are milliseconds since epoch and must
// round-trip without precision loss.
//
// BackoffDurations carries the penalty duration alongside the BackoffTimes
// expiry. Records written by older clients lack it; decodeState falls back to
// the base penalty unit so growth restarts from the burst window instead of
// multiplying an absolute timestamp.
type persistedState struct {
	Requests         map[string][]int64 `json:"requests"`
	BurstRequests    map[string][]int64 `json:"burstRequests"`
	BackoffTimes     map[string]int64   `json:"backoffTimes"`
	BackoffDurations map[string]int64   `json:"backoffDurations,omitempty"`
}

// encodeStateLocked serializes all tracked keys. Empty logs are never
// persisted: a key appears in a map only when it has something to store.
func (rl *RateLimiter) encodeStateLocked() ([]byte, error) {
	ps := persistedState{
		Requests:      make(map[string][]int64),
		BurstRequests: make(map[string][]int64),
		BackoffTimes:  make(map[string]int64),
	}
	for _, key := range rl.entries.Keys() {
		st, ok := rl.entries.Peek(key)
		if !ok {
			continue
		}
		if len(st.requests) > 0 {
			ps.Requests[key] = st.requests
		}
		if len(st.burst) > 0 {
			ps.BurstRequests[key] = st.burst
		}
		if st.backoffUntil != 0 {
			ps.BackoffTimes[key] = st.backoffUntil
		}
		if st.backoffDur != 0 {
			if ps.BackoffDurations == nil {
				ps.BackoffDurations = make(map[string]int64)
			}
			ps.BackoffDurations[key] = st.backoffDur
		}
	}
	return json.Marshal(ps)
}

// decodeStateLocked replaces the tracked keys with the deserialized record.
func (rl *RateLimiter) decodeStateLocked(data []byte) error {
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return fmt.Errorf("unmarshal persisted state: %w", err)
	}

	rl.entries.Purge()
	get := func(key string) *keyState {
		if st, ok := rl.entries.Peek(key); ok {
			return st
		}
		st := &keyState{}
		rl.entries.Add(key, st)
		return st
	}
	for key, ts := range ps.Requests {
		if len(ts) > 0 {
			get(key).requests = ts
		}
	}
	for key, ts := range ps.BurstRequests {
		if len(ts) > 0 {
			get(key).burst = ts
		}
	}
	for key, until := range ps.BackoffTimes {
		if until <= 0 {
			continue
		}
		st := get(key)
		st.backoffUntil = until
		if dur, ok := ps.BackoffDurations[key]; ok && dur > 0 {
			st.backoffDur = dur
		} else {
			st.backoffDur = rl.cfg.BurstWindow.Milliseconds()
		}
	}
	return nil
}

// saveStateLocked persists the current state. Failures are logged and
// swallowed: the limiter degrades to in-memory operation rather than letting
// a storage problem escape the admission path.
func (rl *RateLimiter) saveStateLocked() {
	if !rl.persistent() {
		return
	}
	data, err := rl.encodeStateLocked()
	if err != nil {
		rl.warnPersistFailure("failed to serialize rate limiter state", err)
		return
	}
	if err := rl.store.Save(rl.cfg.StorageKey, data); err != nil {
		rl.warnPersistFailure("failed to persist rate limiter state", err)
	}
}

// loadStateLocked restores previously persisted state. A missing record is
// normal; a corrupt or unreadable one is logged and ignored, the next save
// overwrites it.
func (rl *RateLimiter) loadStateLocked() {
	data, err := rl.store.Load(rl.cfg.StorageKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			rl.logger.Warn("failed to load persisted rate limiter state",
				log.Error(err), log.String("storage_key", rl.cfg.StorageKey))
		}
		return
	}
	if err := rl.decodeStateLocked(data); err != nil {
		rl.logger.Warn("discarding corrupt persisted rate limiter state",
			log.Error(err), log.String("storage_key", rl.cfg.StorageKey))
	}
}

/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import "time"

// Built-in profile names, usable in rule configurations.
const (
	ProfileStrict  = "strict"
	ProfileLenient = "lenient"
	ProfileAPI     = "api"
)

// NewStrictConfig returns the strict profile: low caps with aggressive
// backoff. Intended for sensitive endpoints like authentication or payments.
func NewStrictConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 10
	cfg.BurstMax = 3
	cfg.MaxBackoff = time.Minute
	cfg.StorageKey = DefaultStorageKey + "." + ProfileStrict
	return cfg
}

// NewLenientConfig returns the lenient profile: high caps and no backoff.
// Intended for cheap, frequently polled endpoints.
func NewLenientConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.MaxRequests = 1000
	cfg.BurstMax = 50
	cfg.Backoff = false
	cfg.StorageKey = DefaultStorageKey + "." + ProfileLenient
	return cfg
}

// NewAPIConfig returns the default API profile: moderate caps with backoff.
// It differs from NewDefaultConfig only in its storage key.
func NewAPIConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.StorageKey = DefaultStorageKey + "." + ProfileAPI
	return cfg
}

// NewStrict creates a RateLimiter with the strict profile.
func NewStrict(opts Opts) (*RateLimiter, error) {
	return NewWithOpts(NewStrictConfig(), opts)
}

// NewLenient creates a RateLimiter with the lenient profile.
func NewLenient(opts Opts) (*RateLimiter, error) {
	return NewWithOpts(NewLenientConfig(), opts)
}

// NewAPI creates a RateLimiter with the API profile.
func NewAPI(opts Opts) (*RateLimiter, error) {
	return NewWithOpts(NewAPIConfig(), opts)
}

// profileConfig resolves a profile name to a configuration.
// Custom profiles take precedence over the built-in ones.
func profileConfig(name string, custom map[string]*Config) (*Config, bool) {
	if cfg, ok := custom[name]; ok {
		return cfg, true
	}
	switch name {
	case ProfileStrict:
		return NewStrictConfig(), true
	case ProfileLenient:
		return NewLenientConfig(), true
	case ProfileAPI:
		return NewAPIConfig(), true
	}
	return nil, false
}

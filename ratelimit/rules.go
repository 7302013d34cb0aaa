/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"io"
	"os"

	"github.com/vasayxtx/go-glob"
)

const cfgRulesKeyPrefix = "rateLimiterRules"

// Rule routes endpoints matching a glob pattern to a named profile.
type Rule struct {
	// Pattern is a glob matched against the endpoint, e.g. "/api/tables/*".
	Pattern string `mapstructure:"pattern" yaml:"pattern" json:"pattern"`

	// Profile is the name of a built-in (strict, lenient, api) or custom profile.
	Profile string `mapstructure:"profile" yaml:"profile" json:"profile"`
}

// RulesConfig configures a RuleSet: an ordered rule list, optional custom
// profiles, and the profile used when no rule matches.
type RulesConfig struct {
	// DefaultProfile is used for endpoints no rule matches. Defaults to "api".
	DefaultProfile string `mapstructure:"defaultProfile" yaml:"defaultProfile" json:"defaultProfile"`

	// Profiles defines custom profiles addressable from rules by name.
	// Numeric parameters left at zero take their defaults; boolean switches
	// are off unless set. A custom profile may shadow a built-in name.
	Profiles map[string]*Config `mapstructure:"profiles" yaml:"profiles" json:"profiles"`

	// Rules are evaluated in order, first match wins.
	Rules []Rule `mapstructure:"rules" yaml:"rules" json:"rules"`
}

// Validate checks the rules configuration for consistency.
// Profile resolution is checked separately during RuleSet construction.
func (c *RulesConfig) Validate() error {
	seen := make(map[string]bool)
	for i := range c.Rules {
		rule := &c.Rules[i]
		if rule.Pattern == "" {
			return fmt.Errorf("rule #%d has an empty pattern", i)
		}
		if seen[rule.Pattern] {
			return fmt.Errorf("duplicate rule pattern %q", rule.Pattern)
		}
		seen[rule.Pattern] = true
	}
	return nil
}

// LoadRulesConfigFromReader loads and validates rules configuration from YAML
// under the "rateLimiterRules" key.
func LoadRulesConfigFromReader(r io.Reader) (*RulesConfig, error) {
	cfg := &RulesConfig{}
	if err := unmarshalViperKey(r, cfgRulesKeyPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rules config: %w", err)
	}
	return cfg, nil
}

// LoadRulesConfigFromFile is a version of LoadRulesConfigFromReader reading from a file.
func LoadRulesConfigFromFile(path string) (*RulesConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return LoadRulesConfigFromReader(f)
}

type compiledRule struct {
	pattern string
	match   func(s string) bool
	limiter *RateLimiter
}

// RuleSet routes admission checks to per-profile limiters by endpoint.
// Rules referencing the same profile share one limiter, so their endpoints
// draw from a common budget per identity the way one limiter instance would.
type RuleSet struct {
	rules    []compiledRule
	fallback *RateLimiter
}

// NewRuleSet compiles the rules configuration into a RuleSet.
// The passed options are shared by all profile limiters; profiles with
// persistence enabled get distinct storage keys derived from their names.
func NewRuleSet(cfg *RulesConfig, opts Opts) (*RuleSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rules config: %w", err)
	}

	limiters := make(map[string]*RateLimiter)
	limiterFor := func(name string) (*RateLimiter, error) {
		if lim, ok := limiters[name]; ok {
			return lim, nil
		}
		profCfg, ok := profileConfig(name, cfg.Profiles)
		if !ok {
			return nil, fmt.Errorf("unknown rate limiting profile %q", name)
		}
		limCfg := *profCfg
		limCfg.setMissingDefaults()
		if limCfg.Storage && limCfg.StorageKey == DefaultStorageKey {
			limCfg.StorageKey = DefaultStorageKey + "." + name
		}
		lim, err := NewWithOpts(&limCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("new limiter for profile %q: %w", name, err)
		}
		limiters[name] = lim
		return lim, nil
	}

	defaultProfile := cfg.DefaultProfile
	if defaultProfile == "" {
		defaultProfile = ProfileAPI
	}
	fallback, err := limiterFor(defaultProfile)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{fallback: fallback}
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		lim, err := limiterFor(rule.Profile)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, compiledRule{
			pattern: rule.Pattern,
			match:   glob.Compile(rule.Pattern),
			limiter: lim,
		})
	}
	return rs, nil
}

// Limiter returns the limiter the given endpoint is routed to.
func (rs *RuleSet) Limiter(endpoint string) *RateLimiter {
	for i := range rs.rules {
		if rs.rules[i].match(endpoint) {
			return rs.rules[i].limiter
		}
	}
	return rs.fallback
}

// Check performs an admission check against the limiter matching the endpoint.
func (rs *RuleSet) Check(identity, endpoint string) Decision {
	return rs.Limiter(endpoint).Check(identity, endpoint)
}

// Allow is a convenience shorthand for Check(...).Allowed.
func (rs *RuleSet) Allow(identity, endpoint string) bool {
	return rs.Check(identity, endpoint).Allowed
}

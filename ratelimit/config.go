/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultWindow            = time.Minute
	DefaultMaxRequests       = 100
	DefaultBurstWindow       = time.Second
	DefaultBurstMax          = 10
	DefaultBackoffMultiplier = 2.0
	DefaultMaxBackoff        = 30 * time.Second
	DefaultStorageKey        = "ratekit.state"
)

const cfgKeyPrefix = "rateLimiter"

// Config represents a set of configuration parameters for a RateLimiter.
// All parameters are fixed at construction.
// Configuration can be loaded from YAML (see LoadConfigFromReader) or built
// in code starting from NewDefaultConfig or one of the presets.
type Config struct {
	// Window is the rolling admission window length.
	Window time.Duration `mapstructure:"window" yaml:"window" json:"window"`

	// MaxRequests caps the number of requests within Window.
	MaxRequests int `mapstructure:"maxRequests" yaml:"maxRequests" json:"maxRequests"`

	// BurstProtection enables the short burst-window check.
	BurstProtection bool `mapstructure:"burstProtection" yaml:"burstProtection" json:"burstProtection"`

	// BurstWindow is the burst window length. It also serves as the base unit
	// for the first backoff penalty, so it must be positive whenever Backoff
	// is enabled, even with BurstProtection off.
	BurstWindow time.Duration `mapstructure:"burstWindow" yaml:"burstWindow" json:"burstWindow"`

	// BurstMax caps the number of requests within BurstWindow.
	BurstMax int `mapstructure:"burstMax" yaml:"burstMax" json:"burstMax"`

	// Backoff enables exponential backoff penalties on rolling-window violations.
	Backoff bool `mapstructure:"backoff" yaml:"backoff" json:"backoff"`

	// BackoffMultiplier is applied to the previous penalty duration on each
	// consecutive violation. Must be >= 1.
	BackoffMultiplier float64 `mapstructure:"backoffMultiplier" yaml:"backoffMultiplier" json:"backoffMultiplier"`

	// MaxBackoff caps the penalty duration.
	MaxBackoff time.Duration `mapstructure:"maxBackoff" yaml:"maxBackoff" json:"maxBackoff"`

	// Storage enables persisting the limiter state to a kvstore.Store
	// (passed via Opts) after every mutating operation.
	Storage bool `mapstructure:"storage" yaml:"storage" json:"storage"`

	// StorageKey is the key the serialized state is stored under.
	StorageKey string `mapstructure:"storageKey" yaml:"storageKey" json:"storageKey"`
}

// NewDefaultConfig creates a new Config with default values.
// The defaults match the moderate "API" profile: 100 requests per minute,
// bursts of 10 per second, backoff doubling up to 30 seconds.
func NewDefaultConfig() *Config {
	return &Config{
		Window:            DefaultWindow,
		MaxRequests:       DefaultMaxRequests,
		BurstProtection:   true,
		BurstWindow:       DefaultBurstWindow,
		BurstMax:          DefaultBurstMax,
		Backoff:           true,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxBackoff:        DefaultMaxBackoff,
		StorageKey:        DefaultStorageKey,
	}
}

// setMissingDefaults fills zero-valued numeric parameters with defaults.
// Boolean switches are left as is: an absent switch means off.
func (c *Config) setMissingDefaults() {
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.BurstWindow == 0 {
		c.BurstWindow = DefaultBurstWindow
	}
	if c.BurstMax == 0 {
		c.BurstMax = DefaultBurstMax
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}
}

// Validate checks the configuration for consistency.
// Construction fails fast on nonsensical values instead of silently
// producing meaningless decisions.
func (c *Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive, got %d", c.MaxRequests)
	}
	if c.BurstProtection {
		if c.BurstWindow <= 0 {
			return fmt.Errorf("burst window must be positive, got %s", c.BurstWindow)
		}
		if c.BurstMax <= 0 {
			return fmt.Errorf("burst max must be positive, got %d", c.BurstMax)
		}
	}
	if c.Backoff {
		if c.BurstWindow <= 0 {
			return fmt.Errorf("burst window is the base backoff unit and must be positive, got %s", c.BurstWindow)
		}
		if c.BackoffMultiplier < 1 {
			return fmt.Errorf("backoff multiplier must be >= 1, got %g", c.BackoffMultiplier)
		}
		if c.MaxBackoff <= 0 {
			return fmt.Errorf("max backoff must be positive, got %s", c.MaxBackoff)
		}
	}
	if c.Storage && c.StorageKey == "" {
		return fmt.Errorf("storage key must not be empty when storage is enabled")
	}
	return nil
}

// LoadConfigFromReader loads and validates limiter configuration from
// YAML under the "rateLimiter" key. Absent parameters keep their defaults.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := unmarshalViperKey(r, cfgKeyPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromFile is a version of LoadConfigFromReader reading from a file.
func LoadConfigFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return LoadConfigFromReader(f)
}

func unmarshalViperKey(r io.Reader, key string, out interface{}) error {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.UnmarshalKey(key, out, hook); err != nil {
		return fmt.Errorf("unmarshal %q config: %w", key, err)
	}
	return nil
}

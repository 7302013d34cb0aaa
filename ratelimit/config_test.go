/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, time.Minute, cfg.Window)
	require.Equal(t, 100, cfg.MaxRequests)
	require.True(t, cfg.BurstProtection)
	require.Equal(t, time.Second, cfg.BurstWindow)
	require.Equal(t, 10, cfg.BurstMax)
	require.True(t, cfg.Backoff)
	require.Equal(t, 2.0, cfg.BackoffMultiplier)
	require.Equal(t, 30*time.Second, cfg.MaxBackoff)
	require.False(t, cfg.Storage)
	require.Equal(t, "ratekit.state", cfg.StorageKey)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{"default is valid", func(cfg *Config) {}, ""},
		{"zero window", func(cfg *Config) { cfg.Window = 0 }, "window must be positive"},
		{"negative window", func(cfg *Config) { cfg.Window = -time.Second }, "window must be positive"},
		{"zero max requests", func(cfg *Config) { cfg.MaxRequests = 0 }, "max requests must be positive"},
		{"zero burst window", func(cfg *Config) { cfg.BurstWindow = 0 }, "burst window must be positive"},
		{"zero burst max", func(cfg *Config) { cfg.BurstMax = 0 }, "burst max must be positive"},
		{
			"burst window ok when burst and backoff are off",
			func(cfg *Config) { cfg.BurstProtection = false; cfg.Backoff = false; cfg.BurstWindow = 0 },
			"",
		},
		{
			"burst window required by backoff as the base unit",
			func(cfg *Config) { cfg.BurstProtection = false; cfg.BurstWindow = 0 },
			"base backoff unit",
		},
		{"multiplier below one", func(cfg *Config) { cfg.BackoffMultiplier = 0.5 }, "backoff multiplier must be >= 1"},
		{"zero max backoff", func(cfg *Config) { cfg.MaxBackoff = 0 }, "max backoff must be positive"},
		{
			"empty storage key with storage enabled",
			func(cfg *Config) { cfg.Storage = true; cfg.StorageKey = "" },
			"storage key must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigFromReader(t *testing.T) {
	data := `
rateLimiter:
  window: 30s
  maxRequests: 50
  burstWindow: 500ms
  burstMax: 5
  backoffMultiplier: 3
  maxBackoff: 1m
  storage: true
  storageKey: poker.limits
`
	cfg, err := LoadConfigFromReader(bytes.NewReader([]byte(data)))
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Window)
	require.Equal(t, 50, cfg.MaxRequests)
	require.Equal(t, 500*time.Millisecond, cfg.BurstWindow)
	require.Equal(t, 5, cfg.BurstMax)
	require.Equal(t, 3.0, cfg.BackoffMultiplier)
	require.Equal(t, time.Minute, cfg.MaxBackoff)
	require.True(t, cfg.Storage)
	require.Equal(t, "poker.limits", cfg.StorageKey)

	// Absent parameters keep their defaults.
	require.True(t, cfg.BurstProtection)
	require.True(t, cfg.Backoff)
}

func TestLoadConfigFromReaderDefaultsOnly(t *testing.T) {
	cfg, err := LoadConfigFromReader(bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	require.Equal(t, NewDefaultConfig(), cfg)
}

func TestLoadConfigFromReaderInvalid(t *testing.T) {
	_, err := LoadConfigFromReader(bytes.NewReader([]byte("rateLimiter:\n  window: -5s\n")))
	require.ErrorContains(t, err, "window must be positive")

	_, err = LoadConfigFromReader(bytes.NewReader([]byte(":::")))
	require.ErrorContains(t, err, "read config")
}

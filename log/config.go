/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package log

import (
	"fmt"
	"strings"

	"code.cloudfoundry.org/bytefmt"
)

// Level defines possible values for log levels.
type Level string

// Logging levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (l *Level) UnmarshalText(text []byte) error {
	switch v := Level(strings.ToLower(string(text))); v {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		*l = v
		return nil
	}
	return fmt.Errorf("unknown log level %q", string(text))
}

// Format defines possible values for log formats.
type Format string

// Logging formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (f *Format) UnmarshalText(text []byte) error {
	switch v := Format(strings.ToLower(string(text))); v {
	case FormatJSON, FormatText:
		*f = v
		return nil
	}
	return fmt.Errorf("unknown log format %q", string(text))
}

// Output defines possible values for log outputs.
type Output string

// Logging outputs.
const (
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
	OutputFile   Output = "file"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (o *Output) UnmarshalText(text []byte) error {
	switch v := Output(strings.ToLower(string(text))); v {
	case OutputStdout, OutputStderr, OutputFile:
		*o = v
		return nil
	}
	return fmt.Errorf("unknown log output %q", string(text))
}

// BytesCount is a number of bytes that can be unmarshaled
// from human-readable strings like "250M" or "1G".
type BytesCount uint64

// String returns a human-readable representation, e.g. "250M".
// Implements the fmt.Stringer interface.
func (b BytesCount) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (b *BytesCount) UnmarshalText(text []byte) error {
	n, err := bytefmt.ToBytes(string(text))
	if err != nil {
		return fmt.Errorf("parse bytes count: %w", err)
	}
	*b = BytesCount(n)
	return nil
}

// Default and restriction values.
const (
	DefaultFileRotationMaxSizeBytes = 1024 * 1024 * 250
	DefaultFileRotationMaxBackups   = 10
)

// FileRotationConfig is a configuration for file log rotation.
type FileRotationConfig struct {
	Compress   bool       `mapstructure:"compress" yaml:"compress" json:"compress"`
	MaxSize    BytesCount `mapstructure:"maxSize" yaml:"maxSize" json:"maxSize"`
	MaxBackups int        `mapstructure:"maxBackups" yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int        `mapstructure:"maxAgeDays" yaml:"maxAgeDays" json:"maxAgeDays"`
}

// FileOutputConfig is a configuration for file log output.
type FileOutputConfig struct {
	Path     string             `mapstructure:"path" yaml:"path" json:"path"`
	Rotation FileRotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
}

// Config represents a set of configuration parameters for logging.
// It can be unmarshaled from YAML or JSON directly or through viper.
type Config struct {
	Level   Level            `mapstructure:"level" yaml:"level" json:"level"`
	Format  Format           `mapstructure:"format" yaml:"format" json:"format"`
	Output  Output           `mapstructure:"output" yaml:"output" json:"output"`
	NoColor bool             `mapstructure:"nocolor" yaml:"nocolor" json:"nocolor"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file" json:"file"`
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: OutputStdout,
		File: FileOutputConfig{
			Rotation: FileRotationConfig{
				MaxSize:    DefaultFileRotationMaxSizeBytes,
				MaxBackups: DefaultFileRotationMaxBackups,
			},
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Output == OutputFile && c.File.Path == "" {
		return fmt.Errorf("file path should be specified for %q log output", OutputFile)
	}
	return nil
}

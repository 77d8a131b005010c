// Package config loads a rulebook.yml (global and/or project tier) via
// viper, following flags > env > file > defaults precedence, the same
// layering order the CLI front-end uses.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the tunables a project's rulebook.yml may set. Only
// the project directory's rulebook.yml is read; no global rulebook is
// loaded or merged (CUPCAKE_GLOBAL_CONFIG names a global policy
// directory, not a rulebook).
type Settings struct {
	AllowShell     bool          `mapstructure:"allow_shell"`
	SandboxUID     int           `mapstructure:"sandbox_uid"`
	TimeoutMs      int           `mapstructure:"timeout_ms"`
	PolicyDir      string        `mapstructure:"policy_dir"`
	SignalTimeout  time.Duration `mapstructure:"-"`
	ActionTimeout  time.Duration `mapstructure:"-"`
	DebugRouting   bool          `mapstructure:"-"`
	GlobalConfig   string        `mapstructure:"-"`
}

// Default timeouts. DefaultTimeoutMs applies when rulebook.yml omits
// timeout_ms; the signal and action timeouts are not read from
// rulebook.yml and always take these values.
const (
	DefaultTimeoutMs      = 5000
	DefaultSignalTimeoutMs = 3000
	DefaultActionTimeoutMs = 30000
)

// DefaultSettings returns the settings a fresh project starts with
// before any rulebook.yml is read.
func DefaultSettings() *Settings {
	return &Settings{
		AllowShell:    false,
		SandboxUID:    0,
		TimeoutMs:     DefaultTimeoutMs,
		SignalTimeout: DefaultSignalTimeoutMs * time.Millisecond,
		ActionTimeout: DefaultActionTimeoutMs * time.Millisecond,
	}
}

// Load reads rulebook.yml from dir using viper, applying
// flags > env > file > defaults precedence. dir may be empty, in
// which case only environment and defaults apply.
func Load(dir string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName("rulebook")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("CUPCAKE")
	v.AutomaticEnv()

	v.SetDefault("allow_shell", false)
	v.SetDefault("sandbox_uid", 0)
	v.SetDefault("timeout_ms", DefaultTimeoutMs)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read rulebook.yml in %s: %w", dir, err)
		}
	}

	settings := DefaultSettings()
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("config: unmarshal rulebook.yml: %w", err)
	}

	settings.SignalTimeout = time.Duration(DefaultSignalTimeoutMs) * time.Millisecond
	settings.ActionTimeout = time.Duration(DefaultActionTimeoutMs) * time.Millisecond

	settings.GlobalConfig = os.Getenv("CUPCAKE_GLOBAL_CONFIG")
	settings.DebugRouting = envTruthy("CUPCAKE_DEBUG_ROUTING")

	return settings, settings.Validate()
}

func envTruthy(name string) bool {
	v := os.Getenv(name)
	return v == "1" || v == "true" || v == "yes"
}

// Validate checks the settings are internally consistent.
func (s *Settings) Validate() error {
	if s.TimeoutMs < 1 {
		return fmt.Errorf("config: timeout_ms must be positive")
	}
	return nil
}

// StateDir returns the persisted-state directory for a project rooted
// at dir: dir/.cupcake, created at 0700 if it does not exist.
func StateDir(dir string) (string, error) {
	path := dir + "/.cupcake"
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", fmt.Errorf("config: create state dir: %w", err)
	}
	return path, nil
}

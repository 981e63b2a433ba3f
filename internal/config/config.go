// Package config wraps viper behind a nil-safe accessor and loads the
// restartcheck configuration file and RESTARTCHECK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is a nil-safe view over a viper instance. A Config built from a nil
// viper returns zero values from every getter.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v is allowed.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// Load reads the configuration for one invocation. An explicit path must
// exist; with an empty path the default locations are searched and a missing
// file is fine. Environment variables (RESTARTCHECK_CHECK_VERBOSE and
// friends) override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RESTARTCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		return New(v), nil
	}

	v.SetConfigName("restartcheck")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/restartcheck")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return New(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("check.verbose", true)
	v.SetDefault("check.ignore", []string{"screen", "systemd"})
	v.SetDefault("check.blacklist", []string{})
	v.SetDefault("proc.root", "/proc")
	v.SetDefault("state.dir", "/var/lib/restartcheck")
	v.SetDefault("history.path", "")
	v.SetDefault("metrics.textfile", "")
}

// GetString returns the string value for key.
func (c *Config) GetString(key string) string {
	if c == nil || c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// GetInt returns the int value for key.
func (c *Config) GetInt(key string) int {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

// GetBool returns the bool value for key.
func (c *Config) GetBool(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

// GetDuration returns the duration value for key.
func (c *Config) GetDuration(key string) time.Duration {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

// GetStringSlice returns the string slice value for key.
func (c *Config) GetStringSlice(key string) []string {
	if c == nil || c.v == nil {
		return nil
	}
	return c.v.GetStringSlice(key)
}

// IsSet reports whether key has a value.
func (c *Config) IsSet(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the subtree under key. A missing key yields an empty Config,
// never nil.
func (c *Config) Sub(key string) *Config {
	if c == nil || c.v == nil {
		return New(viper.New())
	}
	sub := c.v.Sub(key)
	if sub == nil {
		sub = viper.New()
	}
	return New(sub)
}

// Unmarshal decodes the configuration into target via mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	if c == nil || c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}

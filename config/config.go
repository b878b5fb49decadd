// Package config loads the module's host-supplied configuration: the
// credential-pairs directive and the idle/refresh thresholds that govern
// cache sweeping.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the module's configuration surface.
type Config struct {
	// User is the raw `user = "PAIRS"` directive, handed to
	// credentials.Store.Load unparsed.
	User string `mapstructure:"user"`

	// MaxIdleTime bounds how long a session's cache entries may sit
	// untouched before remove_obsolete_resources sweeps them.
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	// MaxRethreshTime is the interval after which a non-PREPARE command
	// packet opportunistically triggers a cache refresh.
	MaxRethreshTime time.Duration `mapstructure:"max_rethresh_time"`
	// MaxSPSize caps a session's prepared-statement history.
	MaxSPSize int `mapstructure:"max_sp_size"`
	// CacheCapacity bounds each replay-cache table's pool; zero means
	// unbounded.
	CacheCapacity int `mapstructure:"cache_capacity"`
}

// Default returns the module's built-in defaults, used when a host omits a
// setting from its configuration source.
func Default() Config {
	return Config{
		MaxIdleTime:     5 * time.Minute,
		MaxRethreshTime: 30 * time.Second,
		MaxSPSize:       256,
		CacheCapacity:   0,
	}
}

// Load reads configuration from path (any format viper supports: yaml,
// json, toml) layered over Default, and validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the byte-length constraint on the user directive and the
// configured thresholds.
func (c Config) Validate() error {
	if len(c.User) > 4095 {
		return fmt.Errorf("config: user directive is %d bytes, exceeds MAX_USER_INFO (4095)", len(c.User))
	}
	if c.MaxIdleTime <= 0 {
		return fmt.Errorf("config: max_idle_time must be positive")
	}
	if c.MaxRethreshTime <= 0 {
		return fmt.Errorf("config: max_rethresh_time must be positive")
	}
	if c.MaxSPSize <= 0 || c.MaxSPSize > 256 {
		return fmt.Errorf("config: max_sp_size must be in (0, 256]")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// Progress display modes.
const (
	ProgressAuto  = "auto"
	ProgressTTY   = "tty"
	ProgressPlain = "plain"
)

// Keys lists the settings `config set` accepts.
var Keys = []string{"timeout", "delivery.workers", "progress", "metrics"}

// Config represents the conncall CLI configuration.
// Use mapstructure tags for Viper unmarshaling.
type Config struct {
	Timeout  time.Duration  `mapstructure:"timeout"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Progress string         `mapstructure:"progress"`
	Metrics  bool           `mapstructure:"metrics"`
}

// DeliveryConfig holds notification delivery settings.
type DeliveryConfig struct {
	Workers int `mapstructure:"workers"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("delivery.workers", 1)
	v.SetDefault("progress", ProgressAuto)
	v.SetDefault("metrics", false)
}

// Load decodes and validates the effective configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the client would refuse.
func (c Config) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative: %s", c.Timeout))
	}
	if c.Delivery.Workers < 1 {
		errs = append(errs, fmt.Errorf("delivery.workers must be at least 1: %d", c.Delivery.Workers))
	}
	if !slices.Contains([]string{ProgressAuto, ProgressTTY, ProgressPlain}, c.Progress) {
		errs = append(errs, fmt.Errorf("progress must be auto, tty or plain: %q", c.Progress))
	}
	return errors.Join(errs...)
}

// Package config loads waymark settings from a config file and environment.
//
// Precedence: explicit flags (handled by the CLI) > WAYMARK_* environment
// variables > waymark.yaml > defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	// DBPath is the embedded SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// UserID identifies the local user; supplied by the auth layer in the
	// full app, a flag/env in the CLI.
	UserID string `mapstructure:"user_id"`

	// MapboxToken authorizes reverse geocoding calls.
	MapboxToken string `mapstructure:"mapbox_token"`

	// FoursquareKey authorizes nearby POI search.
	FoursquareKey string `mapstructure:"foursquare_key"`

	// SnapThresholdMeters is the snap-to-location distance cutoff.
	SnapThresholdMeters float64 `mapstructure:"snap_threshold_meters"`

	// GeocodeDelay spaces out external geocoder calls.
	GeocodeDelay time.Duration `mapstructure:"geocode_delay"`

	// PushDebounce batches mutations before a background push attempt.
	PushDebounce time.Duration `mapstructure:"push_debounce"`
}

// Load reads configuration from the optional file path, the working
// directory, and WAYMARK_* environment variables.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", ".waymark/waymark.db")
	v.SetDefault("snap_threshold_meters", 30.0)
	v.SetDefault("geocode_delay", "200ms")
	v.SetDefault("push_debounce", "250ms")

	// Keys without a meaningful default still need registering so
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("user_id", "")
	v.SetDefault("mapbox_token", "")
	v.SetDefault("foursquare_key", "")

	v.SetEnvPrefix("WAYMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("waymark")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// An absent default config file is fine; env and defaults still
		// apply. An explicitly named file must exist and parse.
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Package config implements TOML configuration loading and validation for
// drivescope. Defaults fill every field first, the config file overrides
// them, and unknown keys are fatal with "did you mean?" suggestions.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Config is the top-level structure parsed from a TOML file.
type Config struct {
	Drive    DriveConfig    `toml:"drive"`
	Token    TokenConfig    `toml:"token"`
	DB       DBConfig       `toml:"db"`
	Logging  LoggingConfig  `toml:"logging"`
	FieldMap FieldMapConfig `toml:"fieldmap"`
}

// DriveConfig controls the remote API client and enumeration behavior.
type DriveConfig struct {
	BaseURL        string `toml:"base_url"`
	TokenURL       string `toml:"token_url"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	RequestTimeout string `toml:"request_timeout"`
	Fanout         int    `toml:"fanout"`
}

// TokenConfig controls the token validity window and refresh margin.
type TokenConfig struct {
	ValidityWindow string `toml:"validity_window"`
	RefreshMargin  string `toml:"refresh_margin"`
}

// DBConfig controls the SQLite database location.
type DBConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// FieldMapConfig names the inventory columns the filter rewriter uses, so a
// schema rename is a config edit rather than a code change. Version pins the
// map shape; only version 1 exists.
type FieldMapConfig struct {
	Version         int    `toml:"version"`
	RemoteIDColumn  string `toml:"remote_id_column"`
	RootDriveColumn string `toml:"root_drive_column"`
}

// Default values, the "layer 0" every config file overrides.
const (
	defaultBaseURL         = "https://www.googleapis.com/drive/v3"
	defaultTokenURL        = "https://oauth2.googleapis.com/token"
	defaultRequestTimeout  = "4s"
	defaultFanout          = 4
	defaultValidityWindow  = "60m"
	defaultRefreshMargin   = "5m"
	defaultDBPath          = "drivescope.db"
	defaultLogLevel        = "info"
	defaultFieldMapVersion = 1
	defaultRemoteIDColumn  = "remote_id"
	defaultRootDriveColumn = "root_drive_id"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields retain defaults,
// and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Drive: DriveConfig{
			BaseURL:        defaultBaseURL,
			TokenURL:       defaultTokenURL,
			RequestTimeout: defaultRequestTimeout,
			Fanout:         defaultFanout,
		},
		Token: TokenConfig{
			ValidityWindow: defaultValidityWindow,
			RefreshMargin:  defaultRefreshMargin,
		},
		DB: DBConfig{
			Path: defaultDBPath,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		FieldMap: FieldMapConfig{
			Version:         defaultFieldMapVersion,
			RemoteIDColumn:  defaultRemoteIDColumn,
			RootDriveColumn: defaultRootDriveColumn,
		},
	}
}

// Validation range constants.
const (
	minRequestTimeout = 1 * time.Second
	maxRequestTimeout = 30 * time.Second
	minFanout         = 1
	maxFanout         = 32
	minValidityWindow = 1 * time.Minute
)

// columnPattern restricts configured column names to SQL identifiers.
var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// validLogLevels are the accepted log_level values.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks all configuration values, accumulating every error rather
// than stopping at the first, so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateToken(&cfg.Token)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateFieldMap(&cfg.FieldMap)...)

	if cfg.DB.Path == "" {
		errs = append(errs, errors.New("db.path must not be empty"))
	}

	return errors.Join(errs...)
}

func validateDrive(d *DriveConfig) []error {
	var errs []error

	if d.BaseURL == "" {
		errs = append(errs, errors.New("drive.base_url must not be empty"))
	}

	if d.TokenURL == "" {
		errs = append(errs, errors.New("drive.token_url must not be empty"))
	}

	if timeout, err := time.ParseDuration(d.RequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("drive.request_timeout %q is not a duration: %w", d.RequestTimeout, err))
	} else if timeout < minRequestTimeout || timeout > maxRequestTimeout {
		errs = append(errs, fmt.Errorf("drive.request_timeout %q must be between %s and %s",
			d.RequestTimeout, minRequestTimeout, maxRequestTimeout))
	}

	if d.Fanout < minFanout || d.Fanout > maxFanout {
		errs = append(errs, fmt.Errorf("drive.fanout %d must be between %d and %d",
			d.Fanout, minFanout, maxFanout))
	}

	return errs
}

func validateToken(t *TokenConfig) []error {
	var errs []error

	window, err := time.ParseDuration(t.ValidityWindow)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("token.validity_window %q is not a duration: %w", t.ValidityWindow, err))
	case window < minValidityWindow:
		errs = append(errs, fmt.Errorf("token.validity_window %q must be at least %s",
			t.ValidityWindow, minValidityWindow))
	}

	margin, err := time.ParseDuration(t.RefreshMargin)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("token.refresh_margin %q is not a duration: %w", t.RefreshMargin, err))
	case margin <= 0:
		errs = append(errs, fmt.Errorf("token.refresh_margin %q must be positive", t.RefreshMargin))
	case window > 0 && margin >= window:
		errs = append(errs, fmt.Errorf("token.refresh_margin %q must be smaller than validity_window %q",
			t.RefreshMargin, t.ValidityWindow))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	if !validLogLevels[l.LogLevel] {
		return []error{fmt.Errorf("logging.log_level %q must be one of debug, info, warn, error", l.LogLevel)}
	}

	return nil
}

func validateFieldMap(f *FieldMapConfig) []error {
	var errs []error

	if f.Version != defaultFieldMapVersion {
		errs = append(errs, fmt.Errorf("fieldmap.version %d is not supported (only version %d exists)",
			f.Version, defaultFieldMapVersion))
	}

	if f.RemoteIDColumn == "" || !columnPattern.MatchString(f.RemoteIDColumn) {
		errs = append(errs, fmt.Errorf("fieldmap.remote_id_column %q is not a valid column identifier",
			f.RemoteIDColumn))
	}

	// root_drive_column may be empty: that disables the direct-relation
	// filter strategy and falls back to remote-id resolution.
	if f.RootDriveColumn != "" && !columnPattern.MatchString(f.RootDriveColumn) {
		errs = append(errs, fmt.Errorf("fieldmap.root_drive_column %q is not a valid column identifier",
			f.RootDriveColumn))
	}

	return errs
}

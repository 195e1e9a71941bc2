// Package config resolves CLI settings from flags, environment and config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/picklr-io/microstrate/internal/deployapi"
	"github.com/spf13/viper"
)

const (
	KeyBaseURL      = "base_url"
	KeyAccessToken  = "access_token"
	KeyDebug        = "debug"
	KeyLogLevel     = "log_level"
	KeyPollDelay    = "poll.delay"
	KeyPollInterval = "poll.interval"
	KeyPollAttempts = "poll.attempts"

	// EnvPrefix prefixes every environment variable, e.g. MICROSTRATE_BASE_URL.
	EnvPrefix = "MICROSTRATE"
)

// Settings holds the resolved configuration.
type Settings struct {
	BaseURL     string
	AccessToken string
	Debug       bool
	LogLevel    string
	Poll        deployapi.PollPolicy
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyBaseURL, deployapi.DefaultBaseURL)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyPollDelay, deployapi.DefaultPollDelay)
	v.SetDefault(KeyPollInterval, deployapi.DefaultPollInterval)
	v.SetDefault(KeyPollAttempts, deployapi.DefaultPollAttempts)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// BASE_URL is still honored for older setups
	_ = v.BindEnv(KeyBaseURL, EnvPrefix+"_BASE_URL", "BASE_URL")

	return v
}

// ReadFile loads cfgFile, or $HOME/.microstrate/config.yaml when cfgFile is
// empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(filepath.Join(home, ".microstrate"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load resolves the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		BaseURL:     strings.TrimSpace(v.GetString(KeyBaseURL)),
		AccessToken: strings.TrimSpace(v.GetString(KeyAccessToken)),
		Debug:       v.GetBool(KeyDebug),
		LogLevel:    v.GetString(KeyLogLevel),
		Poll: deployapi.PollPolicy{
			Delay:       v.GetDuration(KeyPollDelay),
			Interval:    v.GetDuration(KeyPollInterval),
			MaxAttempts: v.GetInt(KeyPollAttempts),
		},
	}

	if s.BaseURL == "" {
		return nil, fmt.Errorf("%s must not be empty", KeyBaseURL)
	}
	if s.Poll.MaxAttempts < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", KeyPollAttempts, s.Poll.MaxAttempts)
	}
	if s.Poll.Delay < 0 || s.Poll.Interval < 0 {
		return nil, fmt.Errorf("poll durations must not be negative")
	}
	if s.Debug {
		s.LogLevel = "debug"
	}
	return s, nil
}

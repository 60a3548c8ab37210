package config

import (
	stderrors "errors"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/openagents/openagents/internal/errors"
)

// newViperInstance creates a Viper instance with standard OpenAgents
// configuration: defaults, OPENAGENTS_ env prefix, and a key replacer so
// OPENAGENTS_HEALER_ENABLED maps to healer.enabled.
func newViperInstance() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("OPENAGENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// viperDecoderOption returns the decode hooks used when unmarshaling.
// Durations in config files may be written as Go duration strings ("30m").
func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// Load reads the project configuration for the given root directory with
// layered precedence: env > project.json > user config.yaml > defaults.
//
// A missing user config is not an error; a missing project.json returns
// ErrConfigNotFound since a project root without one cannot host a session.
func Load(rootDir string) (*Project, error) {
	v := newViperInstance()

	// User config first (lower precedence)
	if userPath := UserConfigPath(); userPath != "" {
		if _, err := os.Stat(userPath); err == nil {
			v.SetConfigFile(userPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrap(err, "failed to read user config")
			}
		}
	}

	// Project config (higher precedence, merges over user config)
	projectPath := ProjectConfigPath(rootDir)
	if _, err := os.Stat(projectPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrConfigNotFound, "no %s", projectPath)
		}
		return nil, errors.Wrap(err, "failed to stat project config")
	}
	v.SetConfigFile(projectPath)
	v.SetConfigType("json")
	if err := v.MergeInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		if stderrors.As(err, &parseErr) {
			return nil, errors.Wrap(errors.ErrConfigInvalid, parseErr.Error())
		}
		return nil, errors.Wrap(err, "failed to read project config")
	}

	var cfg Project
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if cfg.RootDir == "" {
		cfg.RootDir = rootDir
	}

	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

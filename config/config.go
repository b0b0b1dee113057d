// Package config loads engine configuration from a file and the
// environment.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the session engine.
type Config struct {
	Store struct {
		// Path is the SQLite database file holding sessions and stage
		// instances.
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`
	Definitions struct {
		// Dir is the directory of YAML workflow definition files.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"definitions"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load reads configuration from flowsession.yaml in the working directory
// (or ./config), overlaid with FLOWSESSION_* environment variables. A
// missing file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("flowsession")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("FLOWSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".flowsession")
	v.SetDefault("store.path", filepath.Join(base, "flowsession.db"))
	v.SetDefault("definitions.dir", filepath.Join(base, "definitions"))
	v.SetDefault("log.level", "info")
}

package config

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SetCommonDefaults configures standard defaults on a Viper instance.
func SetCommonDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", Common.DataDir)
	v.SetDefault("observability.log_level", Common.LogLevel)
	v.SetDefault("observability.log_format", Common.LogFormat)
}

// BindCommonFlags binds the flags every command accepts.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("data-dir", "", "data directory (default ~/.tdcache)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (auto, json, pretty)")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// Load reads config from flags, env, and file.
// The envPrefix is used for environment variable lookups (e.g., "TDCACHE_STORAGE_BACKEND").
// Without an explicit configFile, <envPrefix>_CONFIG names one; otherwise
// the configPaths are searched.
func Load(v *viper.Viper, envPrefix string, configFile string, configPaths ...string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = os.Getenv(envPrefix + "_CONFIG")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("tdcache")
		v.AddConfigPath(".")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) && configFile != "" {
			return err
		}
		// Config file not found is OK if not explicitly specified
	}

	return nil
}

// LoadInto applies common defaults, loads config from flags/env/file, and
// unmarshals into cfg.
func LoadInto(v *viper.Viper, envPrefix, configFile string, cfg any, paths ...string) error {
	SetCommonDefaults(v)
	if err := Load(v, envPrefix, configFile, paths...); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

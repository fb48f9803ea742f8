package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestBindCommonFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()

	BindCommonFlags(cmd, v)

	err := cmd.Flags().Parse([]string{
		"--data-dir", "/custom/dir",
		"--log-level", "debug",
		"--log-format", "json",
	})
	if err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"data_dir", "/custom/dir"},
		{"observability.log_level", "debug"},
		{"observability.log_format", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := v.GetString(tt.key); got != tt.want {
				t.Errorf("v.GetString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestBindCommonFlags_defaults(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()

	BindCommonFlags(cmd, v)
	SetCommonDefaults(v)

	if err := cmd.Flags().Parse([]string{}); err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	if got := v.GetString("data_dir"); got != Common.DataDir {
		t.Errorf("data_dir = %q, want %q", got, Common.DataDir)
	}
	if got := v.GetString("observability.log_level"); got != Common.LogLevel {
		t.Errorf("observability.log_level = %q, want %q", got, Common.LogLevel)
	}
	if got := v.GetString("observability.log_format"); got != Common.LogFormat {
		t.Errorf("observability.log_format = %q, want %q", got, Common.LogFormat)
	}
}

func TestLoadInto(t *testing.T) {
	t.Chdir(t.TempDir())
	v := viper.New()

	type cfg struct {
		DataDir       string              `mapstructure:"data_dir"`
		Observability ObservabilityConfig `mapstructure:"observability"`
		Custom        string              `mapstructure:"custom"`
	}

	v.Set("custom", "test-value")
	v.Set("data_dir", "/srv/tdcache")

	var c cfg
	if err := LoadInto(v, "TEST_PREFIX", "", &c); err != nil {
		t.Fatalf("LoadInto() error = %v", err)
	}
	if c.DataDir != "/srv/tdcache" {
		t.Errorf("DataDir = %q, want /srv/tdcache", c.DataDir)
	}
	if c.Custom != "test-value" {
		t.Errorf("Custom = %q, want %q", c.Custom, "test-value")
	}
	if c.Observability.LogLevel != Common.LogLevel {
		t.Errorf("LogLevel = %q, want %q", c.Observability.LogLevel, Common.LogLevel)
	}
}

func TestLoadInto_envPrefix(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TEST_PREFIX_OBSERVABILITY_LOG_LEVEL", "warn")

	var c struct {
		Observability ObservabilityConfig `mapstructure:"observability"`
	}
	if err := LoadInto(viper.New(), "TEST_PREFIX", "", &c); err != nil {
		t.Fatalf("LoadInto() error = %v", err)
	}
	if c.Observability.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn from env", c.Observability.LogLevel)
	}
}

func TestLoadConfigFileFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_LOADER_CONFIG", path)

	v := viper.New()
	if err := Load(v, "TEST_LOADER", ""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := v.GetString("storage.backend"); got != "sqlite" {
		t.Errorf("storage.backend = %q, want sqlite", got)
	}

	t.Setenv("TEST_LOADER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if err := Load(viper.New(), "TEST_LOADER", ""); err == nil {
		t.Error("expected error for a missing file named by the environment")
	}
}

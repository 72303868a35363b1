package config

import (
	"fmt"
	"os"
	"time"

	"github.com/loykin/appgate/internal/logger"
	"github.com/spf13/viper"
)

// ResourceDirEnv overrides backend.resource_dir when set, which lets a
// packaged install point the launcher at its bundled backend without a
// config file edit.
const ResourceDirEnv = "APPGATE_RESOURCE_DIR"

// Config is the top-level TOML structure.
type Config struct {
	Backend  BackendConfig `toml:"backend" mapstructure:"backend"`
	Server   ServerConfig  `toml:"server" mapstructure:"server"`
	History  HistoryConfig `toml:"history" mapstructure:"history"`
	Log      logger.Config `toml:"log" mapstructure:"log"`
	Env      []string      `toml:"env" mapstructure:"env"`
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool          `toml:"use_os_env" mapstructure:"use_os_env"`
}

type BackendConfig struct {
	Entry       string `toml:"entry" mapstructure:"entry"`
	ResourceDir string `toml:"resource_dir" mapstructure:"resource_dir"`
	// LaunchScript overrides the wrapper script name looked up in the
	// backend directory.
	LaunchScript string `toml:"launch_script" mapstructure:"launch_script"`
	PIDFile      string `toml:"pidfile" mapstructure:"pidfile"`

	BaseURL    string `toml:"base_url" mapstructure:"base_url"`
	HealthPath string `toml:"health_path" mapstructure:"health_path"`
	ReadyPath  string `toml:"ready_path" mapstructure:"ready_path"`

	LivenessAttempts  int           `toml:"liveness_attempts" mapstructure:"liveness_attempts"`
	LivenessInterval  time.Duration `toml:"liveness_interval" mapstructure:"liveness_interval"`
	ReadinessAttempts int           `toml:"readiness_attempts" mapstructure:"readiness_attempts"`
	ReadinessInterval time.Duration `toml:"readiness_interval" mapstructure:"readiness_interval"`

	SettleDelay time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`
	GracePeriod time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	// ErrorGrace keeps the process alive after a failed startup so the
	// failure can still be inspected before everything is torn down.
	ErrorGrace time.Duration `toml:"error_grace" mapstructure:"error_grace"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	Metrics  bool   `toml:"metrics" mapstructure:"metrics"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			Entry:             "app.py",
			BaseURL:           "http://127.0.0.1:8000",
			HealthPath:        "/api/health",
			ReadyPath:         "/login",
			LivenessAttempts:  20,
			LivenessInterval:  2 * time.Second,
			ReadinessAttempts: 10,
			ReadinessInterval: time.Second,
			SettleDelay:       5 * time.Second,
			GracePeriod:       5 * time.Second,
			ErrorGrace:        10 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9967",
			Metrics: true,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "appgate.db",
		},
		UseOSEnv: true,
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults. The APPGATE_RESOURCE_DIR environment variable wins over the
// file's backend.resource_dir in both cases.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if dir := os.Getenv(ResourceDirEnv); dir != "" {
		cfg.Backend.ResourceDir = dir
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Backend.Entry == "" {
		return fmt.Errorf("backend.entry must not be empty")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty when the server is enabled")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path must not be empty when history is enabled")
	}
	return nil
}

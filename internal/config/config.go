// Package config loads yoroguard settings from an optional YAML file,
// YOROGUARD_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/registry"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

const (
	EnvPrefix         = "YOROGUARD"
	DefaultConfigFile = "/etc/yoroguard/config.yaml"
	DefaultStateDir   = "/var/lib/yoroguard"
)

// Service is the services.<name> block.
type Service struct {
	Enabled    bool
	Binary     string
	ConfigPath string
	LogPath    string
	Targets    []string
}

type Config struct {
	StateDir    string
	Output      string
	Debug       bool
	ExecTimeout time.Duration
	BufferSize  int
	NatsURL     string
	NatsSubject string
	ListenAddr  string
	Services    map[string]Service
}

// SetDefaults registers defaults and environment handling on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("output", "./reports")
	v.SetDefault("debug", false)
	v.SetDefault("exec.timeout", "5m")
	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "yoroguard.events")
	v.SetDefault("serve.addr", "127.0.0.1:9477")
	for _, name := range registry.BuiltinOrder {
		v.SetDefault("services."+name+".enabled", true)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ReadFile reads path into v. A missing file is only an error when the
// path was requested explicitly.
func ReadFile(v *viper.Viper, path string, explicit bool) error {
	if path == "" {
		path = DefaultConfigFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		StateDir:    v.GetString("state_dir"),
		Output:      v.GetString("output"),
		Debug:       v.GetBool("debug"),
		ExecTimeout: v.GetDuration("exec.timeout"),
		BufferSize:  v.GetInt("events.buffer_size"),
		NatsURL:     v.GetString("nats.url"),
		NatsSubject: v.GetString("nats.subject"),
		ListenAddr:  v.GetString("serve.addr"),
		Services:    map[string]Service{},
	}
	for _, name := range registry.BuiltinOrder {
		// Read key by key; UnmarshalKey would miss env overrides of nested keys.
		prefix := "services." + name + "."
		cfg.Services[name] = Service{
			Enabled:    v.GetBool(prefix + "enabled"),
			Binary:     v.GetString(prefix + "binary"),
			ConfigPath: v.GetString(prefix + "config_path"),
			LogPath:    v.GetString(prefix + "log_path"),
			Targets:    v.GetStringSlice(prefix + "targets"),
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.StateDir) == "" {
		return errors.New("state_dir cannot be empty")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.ExecTimeout < 0 {
		return fmt.Errorf("exec.timeout cannot be negative, got %s", c.ExecTimeout)
	}
	return nil
}

// ServiceSettings converts the per-service config for the registry.
func (c Config) ServiceSettings() map[string]services.Settings {
	out := make(map[string]services.Settings, len(c.Services))
	for name, s := range c.Services {
		out[name] = services.Settings{
			Enabled:    s.Enabled,
			Binary:     s.Binary,
			ConfigPath: s.ConfigPath,
			LogPath:    s.LogPath,
			Targets:    s.Targets,
			Timeout:    c.ExecTimeout,
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the YAML file at path (when
// path is non-empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.host", cfg.HTTP.Host)
	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.shutdown_timeout_seconds", cfg.HTTP.ShutdownTimeoutSeconds)
	v.SetDefault("terminal.shell", cfg.Terminal.Shell)
	v.SetDefault("terminal.args", cfg.Terminal.Args)
	v.SetDefault("terminal.env", cfg.Terminal.Env)
	v.SetDefault("terminal.dir", cfg.Terminal.Dir)
	v.SetDefault("terminal.max_sessions", cfg.Terminal.MaxSessions)
	v.SetDefault("terminal.kill_grace_ms", cfg.Terminal.KillGraceMS)
	v.SetDefault("terminal.loop_grace_ms", cfg.Terminal.LoopGraceMS)
	v.SetDefault("terminal.tail_bytes", cfg.Terminal.TailBytes)
	v.SetDefault("hub.queue_size", cfg.Hub.QueueSize)
	v.SetDefault("telemetry.interval_ms", cfg.Telemetry.IntervalMS)
	v.SetDefault("ingress.agent_ttl_seconds", cfg.Ingress.AgentTTLSeconds)
	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("recording.enabled", cfg.Recording.Enabled)
	v.SetDefault("recording.dir", cfg.Recording.Dir)

	// Unprefixed names kept for existing deployments.
	for key, legacy := range map[string]string{
		"http.port":     "PORT",
		"journal.path":  "DB_PATH",
		"recording.dir": "LOG_DIR",
	} {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Journal.Path = os.ExpandEnv(cfg.Journal.Path)
	cfg.Recording.Dir = os.ExpandEnv(cfg.Recording.Dir)
	cfg.Terminal.Dir = os.ExpandEnv(cfg.Terminal.Dir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Render returns cfg as YAML.
func Render(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// WriteDefault writes the default config to path.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
	}
	data, err := Render(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

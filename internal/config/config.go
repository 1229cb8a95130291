// Package config loads the server configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. NEURALLINK_HTTP_PORT.
const EnvPrefix = "NEURALLINK"

// Config is the top-level server configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Terminal  TerminalConfig  `mapstructure:"terminal" yaml:"terminal"`
	Hub       HubConfig       `mapstructure:"hub" yaml:"hub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Ingress   IngressConfig   `mapstructure:"ingress" yaml:"ingress"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Host                   string `mapstructure:"host" yaml:"host"`
	Port                   int    `mapstructure:"port" yaml:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// TerminalConfig controls the shells spawned for terminal connections.
type TerminalConfig struct {
	Shell       string   `mapstructure:"shell" yaml:"shell"`
	Args        []string `mapstructure:"args" yaml:"args"`
	Env         []string `mapstructure:"env" yaml:"env"`
	Dir         string   `mapstructure:"dir" yaml:"dir"`
	MaxSessions int      `mapstructure:"max_sessions" yaml:"max_sessions"`
	KillGraceMS int      `mapstructure:"kill_grace_ms" yaml:"kill_grace_ms"`
	LoopGraceMS int      `mapstructure:"loop_grace_ms" yaml:"loop_grace_ms"`
	TailBytes   int      `mapstructure:"tail_bytes" yaml:"tail_bytes"`
}

// HubConfig controls the event channel.
type HubConfig struct {
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// TelemetryConfig controls host metric sampling.
type TelemetryConfig struct {
	IntervalMS int `mapstructure:"interval_ms" yaml:"interval_ms"`
}

// IngressConfig controls the injection endpoints.
type IngressConfig struct {
	AgentTTLSeconds int `mapstructure:"agent_ttl_seconds" yaml:"agent_ttl_seconds"`
}

// JournalConfig controls the SQLite session journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// RecordingConfig controls asciinema recordings of terminal sessions.
type RecordingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return Config{
		HTTP: HTTPConfig{
			Host:                   "",
			Port:                   8080,
			ShutdownTimeoutSeconds: 10,
		},
		Terminal: TerminalConfig{
			Shell:       shell,
			Args:        []string{},
			Env:         []string{},
			Dir:         "",
			MaxSessions: 16,
			KillGraceMS: 2000,
			LoopGraceMS: 2000,
			TailBytes:   4096,
		},
		Hub: HubConfig{
			QueueSize: 256,
		},
		Telemetry: TelemetryConfig{
			IntervalMS: 1000,
		},
		Ingress: IngressConfig{
			AgentTTLSeconds: 60,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "data/sessions.db",
		},
		Recording: RecordingConfig{
			Enabled: false,
			Dir:     "data/logs",
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.HTTP.Port < 1 || c.HTTP.Port > 65535:
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	case c.HTTP.ShutdownTimeoutSeconds < 1:
		return fmt.Errorf("http.shutdown_timeout_seconds must be positive")
	case c.Terminal.Shell == "":
		return fmt.Errorf("terminal.shell is required")
	case c.Terminal.MaxSessions < 1:
		return fmt.Errorf("terminal.max_sessions must be at least 1")
	case c.Terminal.KillGraceMS < 1:
		return fmt.Errorf("terminal.kill_grace_ms must be positive")
	case c.Terminal.LoopGraceMS < 1:
		return fmt.Errorf("terminal.loop_grace_ms must be positive")
	case c.Terminal.TailBytes < 256:
		return fmt.Errorf("terminal.tail_bytes must be at least 256")
	case c.Hub.QueueSize < 1:
		return fmt.Errorf("hub.queue_size must be at least 1")
	case c.Telemetry.IntervalMS < 100:
		return fmt.Errorf("telemetry.interval_ms must be at least 100")
	case c.Ingress.AgentTTLSeconds < 1:
		return fmt.Errorf("ingress.agent_ttl_seconds must be positive")
	case c.Journal.Enabled && c.Journal.Path == "":
		return fmt.Errorf("journal.path is required when the journal is enabled")
	case c.Recording.Enabled && c.Recording.Dir == "":
		return fmt.Errorf("recording.dir is required when recording is enabled")
	}
	return nil
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// ShutdownTimeout returns the graceful shutdown bound.
func (h HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeoutSeconds) * time.Second
}

// KillGrace returns the per-signal wait before escalation.
func (t TerminalConfig) KillGrace() time.Duration {
	return time.Duration(t.KillGraceMS) * time.Millisecond
}

// LoopGrace returns the bound on waiting for relay loops.
func (t TerminalConfig) LoopGrace() time.Duration {
	return time.Duration(t.LoopGraceMS) * time.Millisecond
}

// Interval returns the sampling period.
func (t TelemetryConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMS) * time.Millisecond
}

// AgentTTL returns how long an agent counts as active after its last thought.
func (i IngressConfig) AgentTTL() time.Duration {
	return time.Duration(i.AgentTTLSeconds) * time.Second
}

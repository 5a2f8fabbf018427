// Package config handles Skald configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skaldbot/skald/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./skald.yaml, ~/.config/skald/config.yaml, /etc/skald/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"skald.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "skald", "config.yaml"))
	}

	paths = append(paths, "/etc/skald/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Skald configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Listen   ListenConfig   `yaml:"listen"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// AgentConfig defines the agent subprocess and session policy.
type AgentConfig struct {
	// Command is the agent executable spoken to over stdio.
	Command string `yaml:"command"`
	// Args are extra arguments appended after the generated capability flags.
	Args []string `yaml:"args"`
	// WorkDir is the session working directory passed in the handshake.
	// Defaults to the process working directory.
	WorkDir string `yaml:"work_dir"`
	// Model overrides the agent's default model when non-empty.
	Model string `yaml:"model"`
	// ApprovalMode controls how inbound permission requests are answered:
	// "auto" prefers allow options, "first" takes the first offered option,
	// "deny" always declines. Default "auto".
	ApprovalMode string `yaml:"approval_mode"`
	// IncludeDirs are additional directories the agent may access.
	IncludeDirs []string `yaml:"include_dirs"`
	// PromptTimeoutSec bounds a whole prompt turn (default 600).
	PromptTimeoutSec int `yaml:"prompt_timeout_sec"`
	// NoOutputTimeoutSec bounds silence between agent activity (default 120).
	NoOutputTimeoutSec int `yaml:"no_output_timeout_sec"`
	// TerminateGraceSec is how long a terminated subprocess gets to exit
	// before it is force-killed (default 5).
	TerminateGraceSec int `yaml:"terminate_grace_sec"`
	Prewarm           PrewarmConfig `yaml:"prewarm"`
}

// PrewarmConfig controls proactive session establishment.
type PrewarmConfig struct {
	// MaxRetries stops automatic retries after this many consecutive
	// failures (default 5). The next explicit trigger re-arms the budget.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelaySec is the fixed delay between retries (default 30).
	RetryDelaySec int `yaml:"retry_delay_sec"`
}

// DeliveryConfig defines outbound message chunking behavior.
type DeliveryConfig struct {
	// MaxMessageLen is the platform message size ceiling (default 4000).
	MaxMessageLen int `yaml:"max_message_len"`
	// StreamIntervalMs is the debounce quiet period for live-message
	// edits during streaming (default 1500).
	StreamIntervalMs int `yaml:"stream_interval_ms"`
}

// ListenConfig defines the ops API server settings.
type ListenConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8316
}

// MQTTConfig defines the optional MQTT status publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.expandPaths()

	if cfg.Agent.Command == "" {
		return nil, fmt.Errorf("agent.command is required")
	}

	return cfg, nil
}

// expandPaths resolves ~ notation in every path-valued field.
func (c *Config) expandPaths() {
	c.Agent.Command = paths.ExpandHome(c.Agent.Command)
	c.Agent.WorkDir = paths.ExpandHome(c.Agent.WorkDir)
	c.Agent.IncludeDirs = paths.ExpandHomeAll(c.Agent.IncludeDirs)
	c.DataDir = paths.ExpandHome(c.DataDir)
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Agent.ApprovalMode == "" {
		c.Agent.ApprovalMode = "auto"
	}
	if c.Agent.PromptTimeoutSec <= 0 {
		c.Agent.PromptTimeoutSec = 600
	}
	if c.Agent.NoOutputTimeoutSec <= 0 {
		c.Agent.NoOutputTimeoutSec = 120
	}
	if c.Agent.TerminateGraceSec <= 0 {
		c.Agent.TerminateGraceSec = 5
	}
	if c.Agent.Prewarm.MaxRetries <= 0 {
		c.Agent.Prewarm.MaxRetries = 5
	}
	if c.Agent.Prewarm.RetryDelaySec <= 0 {
		c.Agent.Prewarm.RetryDelaySec = 30
	}
	if c.Delivery.MaxMessageLen <= 0 {
		c.Delivery.MaxMessageLen = 4000
	}
	if c.Delivery.StreamIntervalMs <= 0 {
		c.Delivery.StreamIntervalMs = 1500
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8316
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "skald"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

// PromptTimeout returns the overall prompt turn deadline.
func (a AgentConfig) PromptTimeout() time.Duration {
	return time.Duration(a.PromptTimeoutSec) * time.Second
}

// NoOutputTimeout returns the agent-silence deadline.
func (a AgentConfig) NoOutputTimeout() time.Duration {
	return time.Duration(a.NoOutputTimeoutSec) * time.Second
}

// TerminateGrace returns the grace period before force-kill.
func (a AgentConfig) TerminateGrace() time.Duration {
	return time.Duration(a.TerminateGraceSec) * time.Second
}

// RetryDelay returns the delay between prewarm retries.
func (p PrewarmConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySec) * time.Second
}

// StreamInterval returns the debounce quiet period for live edits.
func (d DeliveryConfig) StreamInterval() time.Duration {
	return time.Duration(d.StreamIntervalMs) * time.Millisecond
}

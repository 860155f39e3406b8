package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address string `json:"address"`
}

// StreamConfig tunes the SSE transport
type StreamConfig struct {
	// Keep-alive comment intervals, in seconds. Shell streams ping more often
	// because terminal output is bursty and proxies cut idle connections.
	ShellKeepAliveSeconds int `json:"shell_keepalive_seconds"`
	ChatKeepAliveSeconds  int `json:"chat_keepalive_seconds"`

	// Polling fallback read interval and chunk bound, for backends whose
	// output channel cannot be iterated push-style.
	PollIntervalMillis int `json:"poll_interval_millis"`
	PollChunkBytes     int `json:"poll_chunk_bytes"`

	// TerminalEnabled gates the shell stream endpoints (false in demo mode).
	TerminalEnabled *bool `json:"terminal_enabled"`
}

// CheckpointConfig tunes chat stream recovery
type CheckpointConfig struct {
	StalenessMinutes int `json:"staleness_minutes"`
	// Retention for finalized rows before the janitor prunes them
	RetentionHours int    `json:"retention_hours"`
	JanitorCron    string `json:"janitor_cron"`
}

// SandboxConfig holds execution backend settings
type SandboxConfig struct {
	Image   string `json:"image"`
	Memory  string `json:"memory"`
	CPUs    int    `json:"cpus"`
	Workdir string `json:"workdir"`
}

// LLMConfig points at the dashboard's model gateway
type LLMConfig struct {
	GatewayURL string `json:"gateway_url"`
	AuthToken  string `json:"auth_token"`
}

// Config is the full livewire.jsonc configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Stream     StreamConfig     `json:"stream"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Sandbox    SandboxConfig    `json:"sandbox"`
	LLM        LLMConfig        `json:"llm"`
}

// Default returns the built-in configuration defaults
func Default() *Config {
	enabled := true
	return &Config{
		Server: ServerConfig{Address: ":8080"},
		Stream: StreamConfig{
			ShellKeepAliveSeconds: 10,
			ChatKeepAliveSeconds:  15,
			PollIntervalMillis:    250,
			PollChunkBytes:        16 * 1024,
			TerminalEnabled:       &enabled,
		},
		Checkpoint: CheckpointConfig{
			StalenessMinutes: 5,
			RetentionHours:   24,
			JanitorCron:      "*/10 * * * *",
		},
		Sandbox: SandboxConfig{
			Image:   "ghcr.io/hirelane/livewire-sandbox:latest",
			Memory:  "1G",
			CPUs:    1,
			Workdir: "/workspace",
		},
	}
}

// Load reads livewire.jsonc from configDir, applying defaults for missing fields
func Load(configDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(configDir, "livewire.jsonc")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(StripJSONComments(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Stream.ShellKeepAliveSeconds <= 0 || c.Stream.ChatKeepAliveSeconds <= 0 {
		return fmt.Errorf("stream keepalive intervals must be positive")
	}
	if c.Stream.PollIntervalMillis <= 0 {
		return fmt.Errorf("stream.poll_interval_millis must be positive")
	}
	if c.Stream.PollChunkBytes <= 0 {
		return fmt.Errorf("stream.poll_chunk_bytes must be positive")
	}
	if c.Checkpoint.StalenessMinutes <= 0 {
		return fmt.Errorf("checkpoint.staleness_minutes must be positive")
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image is required")
	}
	return nil
}

// ShellKeepAlive returns the shell stream keep-alive interval
func (c *Config) ShellKeepAlive() time.Duration {
	return time.Duration(c.Stream.ShellKeepAliveSeconds) * time.Second
}

// ChatKeepAlive returns the chat/evaluation stream keep-alive interval
func (c *Config) ChatKeepAlive() time.Duration {
	return time.Duration(c.Stream.ChatKeepAliveSeconds) * time.Second
}

// PollInterval returns the polling fallback read interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.PollIntervalMillis) * time.Millisecond
}

// Staleness returns the checkpoint recovery window
func (c *Config) Staleness() time.Duration {
	return time.Duration(c.Checkpoint.StalenessMinutes) * time.Minute
}

// TerminalEnabled reports whether shell streaming is enabled
func (c *Config) TerminalEnabled() bool {
	return c.Stream.TerminalEnabled == nil || *c.Stream.TerminalEnabled
}

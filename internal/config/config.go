// Package config loads taskhound configuration. Settings come from
// <workspace>/.taskhound/config.yaml with TASKHOUND_* environment
// variables layered on top; a missing file yields pure defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full taskhound configuration.
type Config struct {
	Workspace string `yaml:"workspace"`

	Queue     QueueConfig     `yaml:"queue"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Convo     ConvoConfig     `yaml:"conversation"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// QueueConfig covers the work item store.
type QueueConfig struct {
	DatabasePath string `yaml:"database_path"`
	MaxRetries   int    `yaml:"max_retries"`
}

// DiscoveryConfig covers the source adapters.
type DiscoveryConfig struct {
	LogDir            string  `yaml:"log_dir"`
	QualityReport     string  `yaml:"quality_report"`
	CoverageSummary   string  `yaml:"coverage_summary"`
	CoverageThreshold float64 `yaml:"coverage_threshold"`
}

// AgentConfig covers the execution agent subprocess.
type AgentConfig struct {
	Binary  string `yaml:"binary"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
	Workdir string `yaml:"workdir"`
}

// LLMConfig covers the summarization client.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// ConvoConfig covers the conversation context manager.
type ConvoConfig struct {
	TokenThreshold int    `yaml:"token_threshold"`
	PreserveRecent int    `yaml:"preserve_recent"`
	StatePath      string `yaml:"state_path"`
}

// SchedulerConfig covers the dispatch loop.
type SchedulerConfig struct {
	MaxConcurrent   int    `yaml:"max_concurrent"`
	CycleInterval   string `yaml:"cycle_interval"`
	DispatchRetries int    `yaml:"dispatch_retries"`
	RetryBaseDelay  string `yaml:"retry_base_delay"`
	RetryMaxDelay   string `yaml:"retry_max_delay"`
	ShutdownGrace   string `yaml:"shutdown_grace"`
}

// LoggingConfig covers the category file logger.
type LoggingConfig struct {
	Debug      bool     `yaml:"debug"`
	Level      string   `yaml:"level"`
	Categories []string `yaml:"categories"`
	JSONFormat bool     `yaml:"json_format"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		Queue: QueueConfig{
			DatabasePath: ".taskhound/queue.db",
			MaxRetries:   3,
		},
		Discovery: DiscoveryConfig{
			LogDir:            "logs",
			QualityReport:     ".taskhound/findings.jsonl",
			CoverageSummary:   ".taskhound/coverage.json",
			CoverageThreshold: 60,
		},
		Agent: AgentConfig{
			Binary:  "agent",
			Timeout: "300s",
		},
		LLM: LLMConfig{
			Timeout: "120s",
		},
		Convo: ConvoConfig{
			TokenThreshold: 8000,
			PreserveRecent: 5,
			StatePath:      ".taskhound/session.json",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:   3,
			CycleInterval:   "60s",
			DispatchRetries: 2,
			RetryBaseDelay:  "5s",
			RetryMaxDelay:   "2m",
			ShutdownGrace:   "10s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the config file location under a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".taskhound", "config.yaml")
}

// Load reads the YAML file and applies environment overrides. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers TASKHOUND_* environment variables on top of
// the file values.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("TASKHOUND_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if path := os.Getenv("TASKHOUND_DB"); path != "" {
		c.Queue.DatabasePath = path
	}
	if bin := os.Getenv("TASKHOUND_AGENT"); bin != "" {
		c.Agent.Binary = bin
	}
	if model := os.Getenv("TASKHOUND_AGENT_MODEL"); model != "" {
		c.Agent.Model = model
	}
	if key := os.Getenv("TASKHOUND_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if n := os.Getenv("TASKHOUND_MAX_CONCURRENT"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.Scheduler.MaxConcurrent = v
		}
	}
	if v := os.Getenv("TASKHOUND_DEBUG"); v == "1" || v == "true" {
		c.Logging.Debug = true
	}
}

// Validate checks ranges that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries must be at least 1, got %d", c.Queue.MaxRetries)
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Convo.TokenThreshold < 0 || c.Convo.PreserveRecent < 0 {
		return fmt.Errorf("conversation thresholds must not be negative")
	}
	for _, d := range []struct{ name, val string }{
		{"agent.timeout", c.Agent.Timeout},
		{"scheduler.cycle_interval", c.Scheduler.CycleInterval},
		{"scheduler.retry_base_delay", c.Scheduler.RetryBaseDelay},
		{"scheduler.retry_max_delay", c.Scheduler.RetryMaxDelay},
		{"scheduler.shutdown_grace", c.Scheduler.ShutdownGrace},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", d.name, d.val)
		}
	}
	return nil
}

// Duration parses a duration field with a fallback.
func Duration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// ResolvePath makes a config-relative path absolute against the
// workspace. Absolute paths pass through.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Workspace, path)
}

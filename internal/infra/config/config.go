package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration, loaded from YAML with environment
// overrides applied afterwards.
type Config struct {
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Storage      StorageConfig      `yaml:"storage"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Provider     ProviderConfig     `yaml:"provider"`
	Profiles     []ProfileConfig    `yaml:"profiles"`
	Tools        ToolsConfig        `yaml:"tools"`
}

// LoggerConfig controls log/slog output.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, discard, or a file path
}

// TracerConfig controls OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// StorageConfig locates the conversation database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RuntimeConfig sizes the bus and bridge queues. Capacities are fixed at
// construction time.
type RuntimeConfig struct {
	BusCapacity     int `yaml:"bus_capacity"`
	ActionCapacity  int `yaml:"action_capacity"`
	CommandCapacity int `yaml:"command_capacity"`
}

// OrchestratorConfig bounds the streaming loop.
type OrchestratorConfig struct {
	MaxToolRetries   int           `yaml:"max_tool_retries"`
	MaxOutputRetries int           `yaml:"max_output_retries"`
	MaxTurns         int           `yaml:"max_turns"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	DefaultProfile   string        `yaml:"default_profile"`
}

// ProviderConfig tunes the LLM HTTP client.
type ProviderConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BreakerEnabled bool          `yaml:"breaker_enabled"`
}

// ProfileConfig is one model profile. APIKey may be stored encrypted with the
// "enc:" prefix; see EncryptValue.
type ProfileConfig struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	SystemPrompt string  `yaml:"system_prompt"`
	ContextLimit int     `yaml:"context_limit"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	Disabled      []string      `yaml:"disabled"`        // tools registered but disabled at startup
	RatePerMinute int           `yaml:"rate_per_minute"` // per-tool call budget, 0 = unlimited
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MCPServers    []MCPServer   `yaml:"mcp_servers"`
}

// MCPServer describes one MCP server connection.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio, http
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
		Storage: StorageConfig{
			Path: filepath.Join(defaultDataDir(), "hearth.db"),
		},
		Runtime: RuntimeConfig{
			BusCapacity:     256,
			ActionCapacity:  256,
			CommandCapacity: 1024,
		},
		Orchestrator: OrchestratorConfig{
			MaxToolRetries:   2,
			MaxOutputRetries: 1,
			MaxTurns:         8,
			ToolTimeout:      30 * time.Second,
		},
		Provider: ProviderConfig{
			RequestTimeout: 120 * time.Second,
			BreakerEnabled: true,
		},
		Tools: ToolsConfig{
			RatePerMinute: 60,
			FetchTimeout:  15 * time.Second,
		},
	}
}

// Load reads the YAML file at path, fills defaults for unset fields, applies
// environment overrides, and validates. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	fillDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays a small set of environment overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HEARTH_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("HEARTH_LOG_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("HEARTH_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("HEARTH_API_KEY"); v != "" {
		for i := range cfg.Profiles {
			if cfg.Profiles[i].APIKey == "" {
				cfg.Profiles[i].APIKey = v
			}
		}
	}
}

// fillDefaults repairs zero values left by a sparse YAML file.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Runtime.BusCapacity <= 0 {
		cfg.Runtime.BusCapacity = def.Runtime.BusCapacity
	}
	if cfg.Runtime.ActionCapacity <= 0 {
		cfg.Runtime.ActionCapacity = def.Runtime.ActionCapacity
	}
	if cfg.Runtime.CommandCapacity <= 0 {
		cfg.Runtime.CommandCapacity = def.Runtime.CommandCapacity
	}
	if cfg.Orchestrator.MaxToolRetries < 0 {
		cfg.Orchestrator.MaxToolRetries = 0
	}
	if cfg.Orchestrator.MaxTurns <= 0 {
		cfg.Orchestrator.MaxTurns = def.Orchestrator.MaxTurns
	}
	if cfg.Orchestrator.ToolTimeout <= 0 {
		cfg.Orchestrator.ToolTimeout = def.Orchestrator.ToolTimeout
	}
	if cfg.Provider.RequestTimeout <= 0 {
		cfg.Provider.RequestTimeout = def.Provider.RequestTimeout
	}
	if cfg.Tools.FetchTimeout <= 0 {
		cfg.Tools.FetchTimeout = def.Tools.FetchTimeout
	}
	if cfg.Orchestrator.DefaultProfile == "" && len(cfg.Profiles) > 0 {
		cfg.Orchestrator.DefaultProfile = cfg.Profiles[0].ID
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if p.ID == "" {
			return fmt.Errorf("profile with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Model == "" {
			return fmt.Errorf("profile %q: model is required", p.ID)
		}
	}
	if c.Orchestrator.DefaultProfile != "" && !seen[c.Orchestrator.DefaultProfile] {
		return fmt.Errorf("default_profile %q not defined", c.Orchestrator.DefaultProfile)
	}
	for _, s := range c.Tools.MCPServers {
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("mcp server %q: command required for stdio", s.Name)
			}
		case "http":
			if s.URL == "" {
				return fmt.Errorf("mcp server %q: url required for http", s.Name)
			}
		default:
			return fmt.Errorf("mcp server %q: unsupported transport %q", s.Name, s.Transport)
		}
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hearth")
	}
	return "."
}

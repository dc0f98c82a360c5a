package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/intentcore/internal/defaults"
)

// FileName is the config file inside the data directory.
const FileName = "config.yaml"

// Config is the process configuration loaded from config.yaml
type Config struct {
	DataDir string `yaml:"data_dir"` // Platform data directory

	Log          LogConfig          `yaml:"log"`
	Events       EventsConfig       `yaml:"events"`
	Backend      BackendConfig      `yaml:"backend"`
	Intent       IntentConfig       `yaml:"intent"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Router       RouterConfig       `yaml:"router"`
	Chat         ChatConfig         `yaml:"chat"`
	Routes       []RouteConfig      `yaml:"routes"`
	Schedules    []ScheduleConfig   `yaml:"schedules"`
	Server       ServerConfig       `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "console" or "json"
}

// EventsConfig controls event delivery. With DispatchLoop set, handlers run
// on a dedicated goroutine instead of the emitting one.
type EventsConfig struct {
	DispatchLoop bool `yaml:"dispatch_loop"`
	BufferSize   int  `yaml:"buffer_size"` // Queue length for the dispatch loop
}

// BackendConfig selects and configures the model backends
type BackendConfig struct {
	Preference       string        `yaml:"preference"`        // "local" or "cloud"
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // Session reachability check
	System           string        `yaml:"system,omitempty"`  // System prompt for chat sessions
	Local            LocalConfig   `yaml:"local"`
	Cloud            CloudConfig   `yaml:"cloud"`
}

type LocalConfig struct {
	BaseURL string `yaml:"base_url"` // Ollama endpoint
	Model   string `yaml:"model"`
}

type CloudConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, gemini
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key,omitempty"` // Falls back to env, then keychain
}

type IntentConfig struct {
	Timeout    time.Duration `yaml:"timeout"`     // Deadline for parsing one intent
	DirectJSON bool          `yaml:"direct_json"` // Accept descriptor objects without a model call
}

type OrchestratorConfig struct {
	FailUnknown   bool `yaml:"fail_unknown"`    // Unknown actions fail instead of staying pending
	MaxChainDepth int  `yaml:"max_chain_depth"` // Completion chaining limit
}

type RouterConfig struct {
	MinInterval time.Duration `yaml:"min_interval"` // Per-destination data throttle
}

type ChatConfig struct {
	SessionKey string `yaml:"session_key"` // Conversation log key for chat.ask
}

// RouteConfig declares a router route. Pick, when set, projects those keys
// out of the forwarded payload.
type RouteConfig struct {
	From string   `yaml:"from"`
	To   string   `yaml:"to"`
	Pick []string `yaml:"pick,omitempty"`
}

// ScheduleConfig submits Intent on a cron Spec.
type ScheduleConfig struct {
	Name       string `yaml:"name"`
	Spec       string `yaml:"spec"`
	Intent     string `yaml:"intent"`
	Preference string `yaml:"preference,omitempty"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Events: EventsConfig{
			BufferSize: 512,
		},
		Backend: BackendConfig{
			Preference:       "local",
			HandshakeTimeout: 10 * time.Second,
			Local: LocalConfig{
				BaseURL: "http://localhost:11434",
				Model:   "qwen3:4b",
			},
			Cloud: CloudConfig{
				Provider: "anthropic",
			},
		},
		Intent: IntentConfig{
			Timeout:    60 * time.Second,
			DirectJSON: true,
		},
		Orchestrator: OrchestratorConfig{
			MaxChainDepth: 8,
		},
		Router: RouterConfig{
			MinInterval: 100 * time.Millisecond,
		},
		Chat: ChatConfig{
			SessionKey: "chat",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:27895",
		},
	}
}

// DefaultDataDir returns the platform-appropriate data directory.
func DefaultDataDir() string {
	dir, err := defaults.DataDir()
	if err != nil {
		return ".intentcore"
	}
	return dir
}

// Load loads config from the data directory's config.yaml
func Load() (*Config, error) {
	path := filepath.Join(DefaultDataDir(), FileName)
	cfg, err := LoadFrom(path)
	if errors.Is(err, os.ErrNotExist) {
		// Config doesn't exist, use defaults
		return DefaultConfig(), nil
	}
	return cfg, err
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Backend.Cloud.APIKey = os.ExpandEnv(cfg.Backend.Cloud.APIKey)
	cfg.Backend.Local.BaseURL = os.ExpandEnv(cfg.Backend.Local.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend.Preference {
	case "local", "cloud":
	default:
		return fmt.Errorf("backend.preference must be local or cloud, got %q", c.Backend.Preference)
	}
	if c.Events.BufferSize < 0 {
		return fmt.Errorf("events.buffer_size must not be negative")
	}
	if c.Intent.Timeout < 0 {
		return fmt.Errorf("intent.timeout must not be negative")
	}
	if c.Router.MinInterval < 0 {
		return fmt.Errorf("router.min_interval must not be negative")
	}
	if c.Orchestrator.MaxChainDepth < 0 {
		return fmt.Errorf("orchestrator.max_chain_depth must not be negative")
	}
	for i, r := range c.Routes {
		if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
			return fmt.Errorf("routes[%d]: from and to are required", i)
		}
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Spec) == "" || strings.TrimSpace(s.Intent) == "" {
			return fmt.Errorf("schedules[%d]: spec and intent are required", i)
		}
	}
	return nil
}

// Save saves the config to the data directory's config.yaml
func (c *Config) Save() error {
	if err := c.EnsureDataDir(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path(), data, 0600)
}

// Path returns the config file location inside DataDir.
func (c *Config) Path() string {
	return filepath.Join(c.DataDir, FileName)
}

// DBPath returns the path to the SQLite conversation log
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "data", "intentcore.db")
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

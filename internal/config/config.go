package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the assistant MCP server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	MCP      MCPConfig      `yaml:"mcp"`
	Qase     QaseConfig     `yaml:"qase"`
	Storage  StorageConfig  `yaml:"storage"`
	Slack    SlackConfig    `yaml:"slack"`
	Facts    FactsConfig    `yaml:"facts"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode.
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether a launched Chrome runs headless (default: true).
	Headless *bool `yaml:"headless"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// AppHost restricts monitoring to pages on this host (e.g., "app.qase.io").
	// Empty monitors every page.
	AppHost string `yaml:"app_host"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// QaseConfig holds API credentials for defect reporting. The token may
// also come from the QASE_API_TOKEN environment variable or the
// credential store.
type QaseConfig struct {
	APIToken    string `yaml:"api_token"`
	ProjectCode string `yaml:"project_code"`
	BaseURL     string `yaml:"base_url"`
}

// StorageConfig locates the SQLite database for persisted state.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SlackConfig enables outbound help-offer notifications when both
// fields are set.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// FactsConfig controls the embedded deductive store.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	RulesPath       string `yaml:"rules_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls session trace recording.
type RecorderConfig struct {
	Enable   bool   `yaml:"enable"`
	TraceDir string `yaml:"trace_dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "assistnerd-mcp",
			Version: "0.1.0",
			LogFile: "assistnerd-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:            false,
			DefaultAttachTimeout: "10s",
			AppHost:              "app.qase.io",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Storage: StorageConfig{
			Path: "data/assistnerd.db",
		},
		Facts: FactsConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable:   true,
			TraceDir: "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults. Environment
// variables fill in secrets left out of the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv overlays secrets from the environment. File values win.
func (c *Config) applyEnv() {
	if c.Qase.APIToken == "" {
		c.Qase.APIToken = os.Getenv("QASE_API_TOKEN")
	}
	if c.Qase.ProjectCode == "" {
		c.Qase.ProjectCode = os.Getenv("QASE_PROJECT_CODE")
	}
	if c.Slack.Token == "" {
		c.Slack.Token = os.Getenv("SLACK_BOT_TOKEN")
	}
}

// Validate ensures required fields exist so the server can start
// deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Slack.Token != "" && c.Slack.Channel == "" {
		return errors.New("slack.channel is required when slack.token is set")
	}
	return nil
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	if b.DefaultAttachTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultAttachTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// Enabled reports whether outbound notifications are configured.
func (s SlackConfig) Enabled() bool {
	return s.Token != "" && s.Channel != ""
}

// Configured reports whether the API client can be constructed.
func (q QaseConfig) Configured() bool {
	return q.APIToken != "" && q.ProjectCode != ""
}

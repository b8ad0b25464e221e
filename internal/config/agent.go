// ABOUTME: Configuration loading for workbridge-agent, the executor process
// ABOUTME: Loads TOML config with environment variable expansion

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// AgentConfig represents the complete workbridge-agent configuration
type AgentConfig struct {
	Gateway   AgentGatewayConfig `toml:"gateway"`
	Workspace WorkspaceConfig    `toml:"workspace"`
	Commands  CommandsConfig     `toml:"commands"`
	Patches   PatchesConfig      `toml:"patches"`
	Audit     AuditConfig        `toml:"audit"`
	Logging   LoggingConfig      `toml:"logging"`
}

// AgentGatewayConfig describes how to reach the gateway
type AgentGatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`

	ReconnectDelay    time.Duration `toml:"-"`
	ReconnectDelayRaw string        `toml:"reconnect_delay"`
}

// WorkspaceConfig holds the root every tool operation is confined to
type WorkspaceConfig struct {
	Root string `toml:"root"`
}

// CommandsConfig holds the run_command policy
type CommandsConfig struct {
	Timeout    time.Duration `toml:"-"`
	TimeoutRaw string        `toml:"timeout"`

	// Allow adds or overrides allowlist entries: name -> argv.
	Allow map[string][]string `toml:"allow"`
}

// PatchesConfig holds patch staging configuration
type PatchesConfig struct {
	StagingDir string `toml:"staging_dir"`

	TTL    time.Duration `toml:"-"`
	TTLRaw string        `toml:"ttl"`
}

// AuditConfig holds the audit store location
type AuditConfig struct {
	Path string `toml:"path"` // SQLite database; ":memory:" disables persistence
}

// DefaultAgent returns an AgentConfig populated with defaults.
func DefaultAgent() *AgentConfig {
	return &AgentConfig{
		Gateway: AgentGatewayConfig{
			URL:            "http://localhost:3000",
			ReconnectDelay: 3 * time.Second,
		},
		Commands: CommandsConfig{
			Timeout: 60 * time.Second,
		},
		Patches: PatchesConfig{
			StagingDir: filepath.Join(os.TempDir(), "workbridge-patches"),
			TTL:        time.Hour,
		},
		Audit: AuditConfig{
			Path: "workbridge-audit.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadAgent reads agent config from the given path, expanding environment variables.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := DefaultAgent()
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// AgentFromEnv builds an AgentConfig from defaults and environment variables only.
func AgentFromEnv() (*AgentConfig, error) {
	cfg := DefaultAgent()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *AgentConfig) applyEnvOverrides() {
	overrides := map[string]*string{
		"WORKBRIDGE_GATEWAY_URL":    &c.Gateway.URL,
		"WORKBRIDGE_SECRET":         &c.Gateway.Token,
		"WORKBRIDGE_WORKSPACE_ROOT": &c.Workspace.Root,
		"WORKBRIDGE_STAGING_DIR":    &c.Patches.StagingDir,
		"WORKBRIDGE_AUDIT_PATH":     &c.Audit.Path,
		"WORKBRIDGE_LOG_LEVEL":      &c.Logging.Level,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

func (c *AgentConfig) parseDurations() error {
	return parseDurationFields([]durationField{
		{"gateway.reconnect_delay", c.Gateway.ReconnectDelayRaw, &c.Gateway.ReconnectDelay},
		{"commands.timeout", c.Commands.TimeoutRaw, &c.Commands.Timeout},
		{"patches.ttl", c.Patches.TTLRaw, &c.Patches.TTL},
	})
}

// Validate checks that required config fields are present and valid.
func (c *AgentConfig) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("gateway.url must use http, https, ws, or wss scheme")
	}
	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway.token is required (or set WORKBRIDGE_SECRET)")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if !filepath.IsAbs(c.Workspace.Root) {
		return fmt.Errorf("workspace.root must be an absolute path, got %q", c.Workspace.Root)
	}
	for name, argv := range c.Commands.Allow {
		if len(argv) == 0 {
			return fmt.Errorf("commands.allow.%s must name an executable", name)
		}
	}
	if c.Commands.Timeout <= 0 {
		return fmt.Errorf("commands.timeout must be positive")
	}
	if c.Patches.StagingDir == "" {
		return fmt.Errorf("patches.staging_dir is required")
	}
	return nil
}

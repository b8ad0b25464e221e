// ABOUTME: Configuration loading and parsing for workbridge-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/workbridge/internal/protocol"
)

// Config represents the complete workbridge-gateway configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	RPC     RPCConfig     `yaml:"rpc"`
	Confirm ConfirmConfig `yaml:"confirm"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // optional health endpoint

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// SharedSecret guards /bridge-ws and /api/confirm.
	SharedSecret string `yaml:"shared_secret"`

	// Passcode or PasscodeHash (bcrypt) guards observer sessions.
	Passcode     string `yaml:"passcode"`
	PasscodeHash string `yaml:"passcode_hash"`

	// SessionSecret signs observer session tokens. Defaults to SharedSecret.
	SessionSecret string `yaml:"session_secret"`

	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// RPCConfig holds executor call timing
type RPCConfig struct {
	CallTimeout  time.Duration `yaml:"-"`
	HelloTimeout time.Duration `yaml:"-"`

	CallTimeoutRaw  string `yaml:"call_timeout"`
	HelloTimeoutRaw string `yaml:"hello_timeout"`
}

// ConfirmConfig holds confirmation gate configuration
type ConfirmConfig struct {
	GatedTools []string `yaml:"gated_tools"`

	InlineTimeout   time.Duration `yaml:"-"`
	ExternalTimeout time.Duration `yaml:"-"`

	InlineTimeoutRaw   string `yaml:"inline_timeout"`
	ExternalTimeoutRaw string `yaml:"external_timeout"`
}

// SessionConfig holds observer session configuration
type SessionConfig struct {
	// NotesPath is where session notes are appended as markdown on shutdown.
	NotesPath string `yaml:"notes_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        "0.0.0.0:3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		RPC: RPCConfig{
			CallTimeout:  60 * time.Second,
			HelloTimeout: 10 * time.Second,
		},
		Confirm: ConfirmConfig{
			GatedTools:      []string{"patch_apply"},
			InlineTimeout:   5 * time.Minute,
			ExternalTimeout: 120 * time.Second,
		},
		Session: SessionConfig{
			NotesPath: "session-notes.md",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// WORKBRIDGE_* environment variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a Config from defaults and WORKBRIDGE_* environment variables only.
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"WORKBRIDGE_HTTP_ADDR":     &cfg.Server.HTTPAddr,
		"WORKBRIDGE_GRPC_ADDR":     &cfg.Server.GRPCAddr,
		"WORKBRIDGE_SECRET":        &cfg.Auth.SharedSecret,
		"WORKBRIDGE_PASSCODE":      &cfg.Auth.Passcode,
		"WORKBRIDGE_PASSCODE_HASH": &cfg.Auth.PasscodeHash,
		"WORKBRIDGE_NOTES_PATH":    &cfg.Session.NotesPath,
		"WORKBRIDGE_LOG_LEVEL":     &cfg.Logging.Level,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Auth.SharedSecret == "" {
		return fmt.Errorf("auth.shared_secret is required (or set WORKBRIDGE_SECRET)")
	}
	if c.Auth.Passcode == "" && c.Auth.PasscodeHash == "" {
		return fmt.Errorf("auth.passcode or auth.passcode_hash is required")
	}
	for _, tool := range c.Confirm.GatedTools {
		if !protocol.IsTool(tool) {
			return fmt.Errorf("confirm.gated_tools: unknown tool %q", tool)
		}
	}
	if c.RPC.CallTimeout <= 0 {
		return fmt.Errorf("rpc.call_timeout must be positive")
	}
	if c.Confirm.InlineTimeout <= 0 || c.Confirm.ExternalTimeout <= 0 {
		return fmt.Errorf("confirm timeouts must be positive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// SigningSecret returns the secret used for observer session tokens.
func (c *AuthConfig) SigningSecret() []byte {
	if c.SessionSecret != "" {
		return []byte(c.SessionSecret)
	}
	return []byte(c.SharedSecret)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"rpc.call_timeout", cfg.RPC.CallTimeoutRaw, &cfg.RPC.CallTimeout},
		{"rpc.hello_timeout", cfg.RPC.HelloTimeoutRaw, &cfg.RPC.HelloTimeout},
		{"confirm.inline_timeout", cfg.Confirm.InlineTimeoutRaw, &cfg.Confirm.InlineTimeout},
		{"confirm.external_timeout", cfg.Confirm.ExternalTimeoutRaw, &cfg.Confirm.ExternalTimeout},
	}
	return parseDurationFields(fields)
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

func parseDurationFields(fields []durationField) error {
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

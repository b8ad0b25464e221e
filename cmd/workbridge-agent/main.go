// ABOUTME: Entry point for workbridge-agent, the executor that runs tools inside one workspace
// ABOUTME: Dials the gateway's bridge endpoint and serves tool requests until interrupted

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/workbridge/internal/agent"
	"github.com/2389/workbridge/internal/config"
	"github.com/2389/workbridge/internal/executor"
	"github.com/2389/workbridge/internal/logging"
	"github.com/2389/workbridge/internal/patch"
	"github.com/2389/workbridge/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the agent config file.
// Priority: WORKBRIDGE_AGENT_CONFIG env var > XDG_CONFIG_HOME/workbridge/agent.toml > ~/.config/workbridge/agent.toml
func getConfigPath() string {
	if envPath := os.Getenv("WORKBRIDGE_AGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "workbridge", "agent.toml")
}

func loadConfig() (*config.AgentConfig, string, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := config.AgentFromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("no config file at %s and environment incomplete: %w", path, err)
		}
		return cfg, "(environment)", nil
	}
	cfg, err := config.LoadAgent(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "run":
		err = run(ctx)
	case "audit":
		err = audit(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Usage: workbridge-agent [run|audit|version]")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	auditLog, err := store.NewSQLiteStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer auditLog.Close()

	stager, err := patch.New(patch.Config{
		Dir:    cfg.Patches.StagingDir,
		Root:   cfg.Workspace.Root,
		TTL:    cfg.Patches.TTL,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating patch stager: %w", err)
	}
	if err := stager.Start(); err != nil {
		return err
	}
	defer stager.Stop()

	allow := executor.DefaultAllowlist().With(cfg.Commands.Allow)
	exec, err := executor.New(executor.Config{
		Root:           cfg.Workspace.Root,
		Patches:        stager,
		Audit:          auditLog,
		Allowlist:      allow,
		CommandTimeout: cfg.Commands.Timeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}

	hostname, _ := os.Hostname()

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("workbridge-agent %s\n", version)
	green.Print("▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("▶ ")
	fmt.Printf("Workspace: %s\n", exec.Root())
	green.Print("▶ ")
	fmt.Printf("Gateway:   %s\n", cfg.Gateway.URL)
	green.Print("▶ ")
	fmt.Printf("Commands:  %v\n", allow.Names())
	fmt.Println()

	client, err := agent.New(agent.Config{
		GatewayURL:     cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		WorkspaceRoot:  exec.Root(),
		Hostname:       hostname,
		Version:        version,
		Handler:        exec,
		Logger:         logger,
		ReconnectDelay: cfg.Gateway.ReconnectDelay,
		OnStateChange: func(state string, err error) {
			switch state {
			case "connected":
				color.Green("✓ connected to gateway (%d staged patch(es) pending)", len(stager.Pending()))
			case "auth_failed":
				color.Red("✗ gateway rejected the shared secret: %v", err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	err = client.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

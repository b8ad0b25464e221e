// ABOUTME: Entry point for workbridge-gateway, the orchestrator observers and the executor connect to
// ABOUTME: Subcommands: serve, hash-passcode, health

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/workbridge/internal/auth"
	"github.com/2389/workbridge/internal/config"
	"github.com/2389/workbridge/internal/gateway"
	"github.com/2389/workbridge/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _    _          _     _
 __      _____  _ __| | _| |__  _ __(_) __| | __ _  ___
 \ \ /\ / / _ \| '__| |/ / '_ \| '__| |/ _' |/ _' |/ _ \
  \ V  V / (_) | |  |   <| |_) | |  | | (_| | (_| |  __/
   \_/\_/ \___/|_|  |_|\_\_.__/|_|  |_|\__,_|\__, |\___|
                                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: WORKBRIDGE_CONFIG env var > XDG_CONFIG_HOME/workbridge/gateway.yaml > ~/.config/workbridge/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WORKBRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "workbridge", "gateway.yaml")
}

// loadConfig reads the config file, or falls back to environment variables
// when no file exists.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("no config file at %s and environment incomplete: %w", path, err)
		}
		return cfg, "(environment)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: workbridge-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve           Start the gateway server")
		fmt.Println("  hash-passcode   Read a passcode from stdin and print its bcrypt hash")
		fmt.Println("  health          Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "hash-passcode":
		err = runHashPasscode()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Gated:     %s\n", strings.Join(cfg.Confirm.GatedTools, ", "))
	if cfg.Auth.PasscodeHash == "" {
		yellow.Println("    ! passcode stored in plain text; consider auth.passcode_hash")
	}
	fmt.Println()

	logger.Info("starting workbridge-gateway",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHashPasscode() error {
	fmt.Fprint(os.Stderr, "Passcode: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading passcode: %w", err)
	}
	hash, err := auth.HashPasscode(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")

	if cfg.Server.GRPCAddr == "" {
		return nil
	}

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to gRPC health: %w", err)
	}
	defer conn.Close()

	hr, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: gateway.ExecutorService})
	if err != nil {
		return fmt.Errorf("executor health check failed: %w", err)
	}
	fmt.Printf("executor: %s\n", strings.ToLower(hr.GetStatus().String()))
	return nil
}

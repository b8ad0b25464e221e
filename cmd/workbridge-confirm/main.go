// ABOUTME: Asks connected observers a question through the gateway and prints the chosen option
// ABOUTME: Usage: workbridge-confirm "Question?" "Option 1" "Option 2" ...; prints RESULT:<n>

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
)

// defaultRequestTimeout exceeds the gateway's default external confirmation timeout.
const defaultRequestTimeout = 130 * time.Second

type confirmRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type confirmResponse struct {
	Choice int    `json:"choice"`
	Option string `json:"option"`
	Error  string `json:"error"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, `Usage: workbridge-confirm "Question?" "Option 1" ["Option 2" ...]`)
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Environment:")
		fmt.Fprintln(os.Stderr, "  WORKBRIDGE_GATEWAY_URL   gateway base URL (default http://localhost:3000)")
		fmt.Fprintln(os.Stderr, "  WORKBRIDGE_SECRET        shared secret")
		fmt.Fprintln(os.Stderr, "  WORKBRIDGE_CONFIRM_TIMEOUT  how long to wait, e.g. 5m (default 130s)")
		os.Exit(2)
	}

	timeout, err := requestTimeout()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := ask(ctx, gatewayURL(), os.Getenv("WORKBRIDGE_SECRET"), os.Args[1], os.Args[2:], timeout)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "→ %s\n", res.Option)
	fmt.Printf("RESULT:%d\n", res.Choice)
}

func gatewayURL() string {
	if u := os.Getenv("WORKBRIDGE_GATEWAY_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:3000"
}

// requestTimeout reads WORKBRIDGE_CONFIRM_TIMEOUT; keep it above the
// gateway's confirm.external_timeout.
func requestTimeout() (time.Duration, error) {
	raw := os.Getenv("WORKBRIDGE_CONFIRM_TIMEOUT")
	if raw == "" {
		return defaultRequestTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKBRIDGE_CONFIRM_TIMEOUT %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("WORKBRIDGE_CONFIRM_TIMEOUT must be positive, got %s", d)
	}
	return d, nil
}

func ask(ctx context.Context, baseURL, secret, question string, options []string, timeout time.Duration) (*confirmResponse, error) {
	body, err := json.Marshal(confirmRequest{Question: question, Options: options})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/confirm", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting gateway: %w", err)
	}
	defer resp.Body.Close()

	var out confirmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error == "" {
			out.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, out.Error)
	}
	return &out, nil
}

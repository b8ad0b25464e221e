// ABOUTME: Gateway orchestrator that wires the executor link, RPC client, confirmation gate and sessions
// ABOUTME: Manages the HTTP and optional gRPC health servers and their shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/workbridge/internal/auth"
	"github.com/2389/workbridge/internal/channel"
	"github.com/2389/workbridge/internal/config"
	"github.com/2389/workbridge/internal/confirm"
	"github.com/2389/workbridge/internal/conversation"
	"github.com/2389/workbridge/internal/dedupe"
	"github.com/2389/workbridge/internal/protocol"
	"github.com/2389/workbridge/internal/rpc"
	"github.com/2389/workbridge/internal/session"
)

// Gateway orchestrates the workbridge-gateway server components.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	secret   *auth.SharedSecret
	tokens   *auth.JWTVerifier
	channel  *channel.Manager
	rpc      *rpc.Client
	gate     *confirm.Gate
	hub      *session.Hub
	sessions *session.Handler
	service  *conversation.Service

	// settled remembers recently settled call and confirmation ids
	settled *dedupe.Cache

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	startedAt time.Time
}

// New creates a Gateway from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	passcode, err := auth.NewPasscode(cfg.Auth.Passcode, cfg.Auth.PasscodeHash)
	if err != nil {
		return nil, fmt.Errorf("configuring passcode: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		secret:    auth.NewSharedSecret(cfg.Auth.SharedSecret),
		tokens:    auth.NewJWTVerifier(cfg.Auth.SigningSecret()),
		settled:   dedupe.New(10*time.Minute, 4096, time.Minute),
		hub:       session.NewHub(logger),
		startedAt: time.Now(),
	}

	gw.channel = channel.NewManager(channel.Config{
		Secret:       gw.secret,
		Logger:       logger,
		HelloTimeout: cfg.RPC.HelloTimeout,
	})
	gw.rpc = rpc.NewClient(rpc.Config{
		Sender:  gw.channel,
		Logger:  logger,
		Timeout: cfg.RPC.CallTimeout,
		Settled: gw.settled,
	})
	gw.channel.HandleFrames(gw.rpc.HandleFrame)
	gw.channel.OnDetach(func(cause error) {
		if n := gw.rpc.FailAll(cause); n > 0 {
			gw.logger.Warn("failed pending calls on executor disconnect", "count", n)
		}
	})

	gw.gate = confirm.NewGate(confirm.Config{
		Dispatcher:      gw.rpc,
		Broadcaster:     gw.hub,
		GatedTools:      cfg.Confirm.GatedTools,
		InlineTimeout:   cfg.Confirm.InlineTimeout,
		ExternalTimeout: cfg.Confirm.ExternalTimeout,
		Settled:         gw.settled,
		Logger:          logger,
	})

	gw.service = conversation.New(nil, nil, logger)
	gw.sessions = session.NewHandler(session.Config{
		Passcode: passcode,
		Tokens:   gw.tokens,
		TokenTTL: cfg.Auth.SessionTTL,
		Hub:      gw.hub,
		Gate:     gw.gate,
		Service:  gw.service,
		Logger:   logger,
	})

	gw.httpServer = &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer()
		gw.channel.OnStateChange(gw.reportExecutorHealth)
	}

	return gw, nil
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/bridge-ws", g.channel)
	mux.Handle("/ws", g.sessions)
	mux.HandleFunc("GET /api/health", g.handleHealth)
	mux.HandleFunc("GET /api/status", g.handleStatus)
	mux.Handle("POST /api/confirm", g.secret.Middleware(http.HandlerFunc(g.handleConfirm)))
	mux.Handle("GET /api/notes", g.requireReader(http.HandlerFunc(g.handleNotes)))
	return mux
}

// setupListeners opens the HTTP listener and, when configured, the gRPC one.
func (g *Gateway) setupListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	return httpLn, grpcLn, nil
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, grpcLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(httpLn, grpcLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh context; the caller's is already done.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers, drops the executor link, and saves session notes.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	g.channel.Close()
	g.rpc.FailAll(protocol.ErrChannelClosed)

	if path := g.config.Session.NotesPath; path != "" {
		errs = appendCloseError(errs, "session notes", g.service.Transcript().SaveNotes(path))
	}

	g.gate.Close()
	g.settled.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

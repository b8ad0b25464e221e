// Package gateway orchestrates the workbridge-gateway server components.
//
// # Overview
//
// The gateway owns the executor link, the correlated RPC client, the
// confirmation gate, and the observer sessions, and serves them over one HTTP
// server plus an optional gRPC health endpoint.
//
// # Wiring
//
//	channel.Manager ──frames──▶ rpc.Client.HandleFrame
//	channel.Manager ──detach──▶ rpc.Client.FailAll
//	confirm.Gate    ──dispatch─▶ rpc.Client
//	confirm.Gate    ──broadcast▶ session.Hub
//	session.Handler ──turns───▶ conversation.Service ──tools──▶ confirm.Gate
//
// # HTTP API
//
//   - GET /bridge-ws - Executor link (Bearer shared secret)
//   - GET /ws - Observer sessions (passcode or session token)
//   - GET /api/health - Liveness check
//   - GET /api/status - Executor link, observers, and pending work
//   - POST /api/confirm - Ask connected observers a question (Bearer shared secret)
//   - GET /api/notes - Session notes rendered as HTML (shared secret or session token)
//
// # gRPC
//
// When server.grpc_addr is set, the standard grpc.health.v1 service is
// served. The "workbridge.executor" service reports SERVING while an
// executor is attached and NOT_SERVING otherwise.
//
// # Shutdown
//
// Run blocks until its context is canceled, then stops the servers,
// fails any pending calls, and appends the session notes.
package gateway

// Package config handles configuration loading for workbridge.
//
// # Overview
//
// The gateway reads YAML (Load) and the agent reads TOML (LoadAgent). Both
// start from defaults, expand ${VAR_NAME} references from the environment,
// parse duration strings, apply WORKBRIDGE_* overrides, and validate.
//
// # Gateway File
//
//	server:
//	  http_addr: "0.0.0.0:3000"
//	  grpc_addr: "127.0.0.1:50051"   # optional health endpoint
//	auth:
//	  shared_secret: "${WORKBRIDGE_SECRET}"
//	  passcode_hash: "$2a$10$..."    # or passcode: "..."
//	rpc:
//	  call_timeout: "60s"
//	confirm:
//	  gated_tools: ["patch_apply"]
//	  inline_timeout: "5m"
//	  external_timeout: "120s"
//
// # Agent File
//
//	[gateway]
//	url = "https://gateway.example.com"
//	token = "${WORKBRIDGE_SECRET}"
//
//	[workspace]
//	root = "/home/dev/project"
//
//	[commands.allow]
//	typecheck = ["npm", "run", "typecheck"]
//
//	[patches]
//	ttl = "1h"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax ("30s", "5m", "1h").
package config

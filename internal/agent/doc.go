// Package agent is the executor's end of the bridge link.
//
// # Overview
//
// The Client dials the gateway's /bridge-ws endpoint, presenting the shared
// secret both as a Bearer header and as a token query parameter. Right after
// every successful dial it sends a hello frame carrying the workspace root, so
// the gateway always knows which tree it is operating on.
//
// # Reconnection
//
// When the link drops the client waits a fixed delay (3s by default) and dials
// again. A 401 during the handshake means the secret is wrong; Run returns
// ErrAuthRejected instead of retrying forever.
//
// # Request Handling
//
// Each inbound request is handed to the Handler in its own goroutine. Results
// are written back through a single mutex-guarded writer with a write timeout.
// Requests in flight when the link drops finish locally; their results are lost
// and the gateway has already failed the corresponding calls.
package agent

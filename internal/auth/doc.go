// Package auth provides authentication for workbridge.
//
// # Authentication Methods
//
//   - Shared secret: the executor link (/bridge-ws) and the external confirm API
//     (/api/confirm) require the configured shared secret, sent as
//     "Authorization: Bearer <secret>" or as a "token" query parameter.
//
//   - Passcode: observers authenticate their /ws session by sending the passcode
//     in their first message. The passcode may be configured in plain text or as
//     a bcrypt hash (see HashPasscode).
//
//   - Session tokens: after a successful passcode auth the gateway issues an HS256
//     JWT whose subject is the session id. Observers may present it instead of the
//     passcode when they reconnect.
package auth

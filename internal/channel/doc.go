// Package channel manages the gateway's side of the executor link.
//
// Exactly one executor is registered at a time. A connection becomes the
// registered executor when its first frame, a hello carrying the workspace
// root, arrives. A newer connection replaces an older one; before the
// replacement becomes visible every OnDetach hook runs, which is where the
// RPC client fails its outstanding calls.
package channel

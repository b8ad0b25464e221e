// Package confirm implements the human confirmation gate.
//
// A gated tool call (patch_apply by default) is never dispatched until an
// observer approves it. There are two ways a request is raised:
//
//   - inline: Invoke delivers the request to the observer session whose
//     conversation made the call, then blocks until it is answered.
//   - external: RequestExternal broadcasts to every connected observer and
//     returns the first answer. This backs POST /api/confirm.
//
// Both fail immediately when nobody can receive the request. Both settle
// through Resolve, which honours only the first answer for an id; later and
// duplicate answers return false and change nothing.
package confirm

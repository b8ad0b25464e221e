// Package conversation sits between observer sessions and the tool-calling loop.
//
// The loop itself is behind the Conversation interface: it receives one user
// message and a Tools handle, and emits turns. Commands is the built-in
// implementation, a small command grammar ("read src/a.ts", "status",
// "apply <patchId>") that exercises every tool deterministically.
//
// Service wraps a Conversation. It records the user message in the
// Transcript before processing, records assistant text as it is emitted, and
// turns CONFIRM blocks in assistant text into confirm turns.
//
// On shutdown the gateway appends Transcript.Notes to the notes file;
// RenderNotes serves it as HTML.
package conversation

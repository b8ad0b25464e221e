// Package dedupe tracks recently settled ids so that a reply arriving after its
// call or confirmation was already resolved can be told apart from a reply for
// an id that never existed. Both are dropped; only the log line differs.
package dedupe

// ABOUTME: Package documentation for the presence package
// ABOUTME: Explains ephemeral connection-to-conversation binding semantics

// Package presence tracks which live connections are bound to which
// conversation.
//
// The registry is purely in-memory and scoped to the server process.
// Bindings are created when a connection authenticates and destroyed on
// disconnect; nothing is persisted and nothing needs recovery after a
// restart. The registry is injected into the session handler and the
// broadcast router rather than living as ambient global state, so tests
// can substitute their own instance.
package presence

// ABOUTME: Package documentation for the gateway package
// ABOUTME: Top-level orchestrator assembling the server components

// Package gateway assembles the chat-gateway server: it opens the SQLite
// store, builds the presence registry and broadcast router, and serves
// the REST API and WebSocket endpoint from a single HTTP listener.
//
// Lifecycle is context-driven: Run blocks until the context is canceled
// or the server fails, then performs a bounded graceful shutdown.
package gateway

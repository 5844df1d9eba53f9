// ABOUTME: Package documentation for the broadcast package
// ABOUTME: Best-effort event fan-out to conversation participants

// Package broadcast fans conversation events out to every connection
// bound to a conversation. Delivery is best effort: a connection that
// cannot accept a frame is skipped and logged, never waited on, and
// cleanup of dead connections is left to the disconnect path.
package broadcast

// ABOUTME: Package documentation for the dedupe package
// ABOUTME: TTL cache for suppressing replayed event ids

// Package dedupe provides a thread-safe, size-bounded TTL cache used to
// drop events that arrive more than once, typically around a reconnect
// when the socket replay and the REST re-sync overlap.
package dedupe

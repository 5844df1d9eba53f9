// ABOUTME: Package documentation for the store package
// ABOUTME: Explains persistence responsibilities and invariants

// Package store provides durable persistence for conversations and
// messages backed by SQLite.
//
// The store is the single owner of persisted chat state. Conversations are
// unique per (pet, adopter, owner) triple and creation is idempotent.
// Message timestamps are assigned here and are monotonically increasing
// within a conversation, which makes chronological ordering total. Read
// receipts only ever flip false to true, and never for the sender's own
// messages.
package store

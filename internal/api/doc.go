// ABOUTME: Package documentation for the api package
// ABOUTME: REST surface for conversation and message mutations

// Package api exposes the REST endpoints for conversations, messages,
// and read receipts.
//
// Mutations follow a strict write-then-publish order: the store write
// must succeed before the corresponding new_message or message_read event
// is handed to the broadcast router. A store failure surfaces as a
// request error and publishes nothing.
package api

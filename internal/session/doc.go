// ABOUTME: Package documentation for the session package
// ABOUTME: Describes the per-connection protocol state machine

// Package session implements the server side of the conversation wire
// protocol.
//
// Every WebSocket connection runs one Session: Unauthenticated until a
// valid auth frame binds it to a (user, conversation) pair, then Active
// until the transport closes. Typing indicators are relayed through the
// broadcast router to the conversation's other connections; pings are
// answered directly. Malformed frames are logged and ignored. On close,
// presence is unbound unconditionally.
//
// Message sends and read receipts are not WebSocket frames. They arrive
// through the REST layer, which persists first and then publishes the
// corresponding event through the broadcast router.
package session

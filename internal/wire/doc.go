// ABOUTME: Package documentation for the wire package
// ABOUTME: JSON frame envelope shared by server and client

// Package wire defines the WebSocket frame protocol: a tagged JSON
// envelope with a closed set of client frames (auth, typing,
// stop_typing, ping) and server frames (connected, new_message,
// message_read, typing, stop_typing, pong).
//
// Decoding never fails hard; anything unparseable becomes an
// UnknownFrame so connections survive malformed input.
package wire

// ABOUTME: Package documentation for the chatclient package
// ABOUTME: Reconnecting client for a single conversation

// Package chatclient implements the consumer side of the conversation
// protocol: a controller that dials the gateway, authenticates, keeps the
// link alive with pings, and redials after unclean drops.
//
// Delivery is at-least-once across reconnects, so the controller keeps an
// id-keyed message log and a dedupe cache; handlers observe each message
// exactly once. Typing indicators are soft state with a staleness sweep,
// and outbound typing is debounced so a burst of keystrokes produces a
// single typing frame.
package chatclient

// ABOUTME: Package documentation for the auth package
// ABOUTME: JWT bearer authentication for the REST API

// Package auth provides JWT bearer token verification for the REST API.
//
// Tokens are HS256-signed with the "sub" claim carrying the user id. The
// middleware rejects requests without a valid token and exposes the user
// id through the request context. The WebSocket path does not use bearer
// tokens; its auth frame is validated against conversation participancy
// by the session package.
package auth

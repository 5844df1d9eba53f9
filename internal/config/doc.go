// Package config handles configuration loading for chat-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	websocket:
//	  ping_interval: "30s"
//	  read_timeout: "75s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and WebSocket endpoint
//
// Database:
//
//	database:
//	  path: "/var/lib/chat-gateway/chat.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"  # Required
//	  token_ttl: "24h"
//
// WebSocket timing and limits:
//
//	websocket:
//	  ping_interval: "30s"
//	  read_timeout: "75s"
//	  write_timeout: "10s"
//	  read_limit: 65536
//	  frame_rate: 20
//	  frame_burst: 40
//
// Client controller defaults:
//
//	client:
//	  ping_interval: "30s"
//	  reconnect_delay: "5s"
//	  typing_window: "3s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/chat-gateway/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

// Package config handles configuration loading for chatsync-gateway.
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
//	  jwt_secret: "${CHATSYNC_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	typing:
//	  expiry: "5s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and websocket endpoint
//
// Database:
//
//	database:
//	  path: "/var/lib/chatsync/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${CHATSYNC_JWT_SECRET}"  # Required
//
// Typing indicators:
//
//	typing:
//	  expiry: "5s"
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
//	cfg, err := config.Load("/etc/chatsync/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding window rate limit for inbound frames
	RateLimitMessages = 30
	RateLimitWindow   = time.Second

	// Group id used for recordings submitted without one
	DefaultGroupID = "default"
)

package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read, and per long-poll send body (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max envelopes returned by one long-poll receive.
	pollMaxBatch = 64
)

const (
	// Heartbeat defaults (overridable via GatewayConfig / env).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Consecutive failed pings before a websocket session is dropped.
	maxPingFailures = 3

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Long-poll defaults: how long a receive waits, and how long a session may go without one.
	pollWait = 25 * time.Second
	pollIdle = 60 * time.Second
)

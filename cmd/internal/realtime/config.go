package realtime

import "time"

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = 1 * time.Second
)

// DefaultAllowedOrigins is the origin allowlist used when none is configured (local development).
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// GatewayConfig tunes the realtime gateway. Zero values fall back to defaults, except the bools.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's own origin verification. Never enable in production.
	DevInsecure bool

	// OriginRequired rejects requests without an Origin header.
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	PollWait time.Duration
	PollIdle time.Duration

	// StateMaxOrders bounds the in-memory order projection per tenant.
	StateMaxOrders int

	// TrustAssertedIdentity admits connections on their asserted handshake identity when no
	// Authenticator is supplied. Development only.
	TrustAssertedIdentity bool
}

// DefaultGatewayConfig returns production defaults: origin required, localhost allowlist.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    append([]string(nil), DefaultAllowedOrigins...),
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		PollWait:          pollWait,
		PollIdle:          pollIdle,
		StateMaxOrders:    defaultStateMaxOrders,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.PollWait <= 0 {
		c.PollWait = d.PollWait
	}
	if c.PollIdle <= 0 {
		c.PollIdle = d.PollIdle
	}
	// A receive in progress must never look idle.
	if c.PollIdle <= c.PollWait {
		c.PollIdle = 2 * c.PollWait
	}
	if c.StateMaxOrders <= 0 {
		c.StateMaxOrders = d.StateMaxOrders
	}
	return c
}

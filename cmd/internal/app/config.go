package app

import (
	"time"

	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	Realtime realtime.GatewayConfig

	// AMQP ingest is disabled while AMQP.URL is empty.
	AMQP realtime.IngestConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	rt := realtime.DefaultGatewayConfig()

	cfg := Config{
		HTTPAddr:  EnvString("POS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("POS_LOG_LEVEL", "info"),
		LogFormat: EnvString("POS_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("POS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("POS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("POS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("POS_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("POS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("POS_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("POS_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("POS_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("POS_DB_SCHEMA", "public"),

		ReadinessRequireDB: EnvBool("POS_READINESS_REQUIRE_DB", false),

		Realtime: realtime.GatewayConfig{
			DevInsecure:           EnvBool("POS_RT_DEV_INSECURE", false),
			OriginRequired:        EnvBool("POS_RT_ORIGIN_REQUIRED", rt.OriginRequired),
			AllowedOrigins:        EnvCSV("POS_RT_ALLOWED_ORIGINS", rt.AllowedOrigins),
			WriteTimeout:          EnvDuration("POS_RT_WRITE_TIMEOUT", rt.WriteTimeout),
			ReadIdleTimeout:       EnvDuration("POS_RT_READ_IDLE_TIMEOUT", rt.ReadIdleTimeout),
			SendQueueSize:         EnvInt("POS_RT_SEND_QUEUE", rt.SendQueueSize),
			HeartbeatInterval:     EnvDuration("POS_RT_HEARTBEAT_INTERVAL", rt.HeartbeatInterval),
			HeartbeatTimeout:      EnvDuration("POS_RT_HEARTBEAT_TIMEOUT", rt.HeartbeatTimeout),
			RateEvents:            EnvInt("POS_RT_RATE_EVENTS", rt.RateEvents),
			RateWindow:            EnvDuration("POS_RT_RATE_WINDOW", rt.RateWindow),
			PollWait:              EnvDuration("POS_RT_POLL_WAIT", rt.PollWait),
			PollIdle:              EnvDuration("POS_RT_POLL_IDLE", rt.PollIdle),
			StateMaxOrders:        EnvInt("POS_RT_STATE_MAX_ORDERS", rt.StateMaxOrders),
			TrustAssertedIdentity: EnvBool("POS_RT_TRUST_ASSERTED_IDENTITY", false),
		},

		AMQP: realtime.IngestConfig{
			URL:       EnvString("POS_AMQP_URL", ""),
			Queue:     EnvString("POS_AMQP_QUEUE", realtime.DefaultIngestQueue),
			Prefetch:  EnvInt("POS_AMQP_PREFETCH", 32),
			RetryBase: EnvDuration("POS_AMQP_RETRY_BASE", time.Second),
			RetryMax:  EnvDuration("POS_AMQP_RETRY_MAX", 30*time.Second),
		},
	}
	return cfg
}

// Package app wires the POS realtime server runtime: config, logging, HTTP routes, the realtime
// gateway and its optional collaborators (Postgres state, AMQP ingest).
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/internal/auth/session"
	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the server runtime: it owns the HTTP server, the realtime gateway and their dependencies.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry
	gateway  *realtime.Gateway
	ingest   *realtime.AMQPIngest
}

// New constructs a fully wired App from config and logger.
//
// Token verification keys come from session.LoadConfigFromEnv. Without keys the server refuses to
// start unless POS_RT_TRUST_ASSERTED_IDENTITY is set.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	auth, err := newAuthenticator(cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []realtime.Option{realtime.WithMetrics(realtime.NewMetrics(reg))}

	a := &App{cfg: cfg, log: log, registry: reg}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		st, err := realtime.NewPostgresState(pool, cfg.DBSchema)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.dbPool, a.dbEnabled = pool, true
		opts = append(opts, realtime.WithStateStore(st))
		log.Info("db.enabled.postgres_state", "schema", cfg.DBSchema)
	} else {
		log.Info("db.disabled.memory_state", "max_orders", cfg.Realtime.StateMaxOrders)
	}

	a.gateway = realtime.NewGateway(log, cfg.Realtime, auth, opts...)

	if cfg.AMQP.URL != "" {
		a.ingest = realtime.NewAMQPIngest(log, cfg.AMQP, a.gateway.Router())
	}
	return a, nil
}

func newAuthenticator(cfg Config, log Logger) (realtime.Authenticator, error) {
	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		if cfg.Realtime.TrustAssertedIdentity {
			log.Warn("auth.tokens.disabled", "err", err)
			return nil, nil
		}
		return nil, fmt.Errorf("auth: %w", err)
	}
	tokens, err := session.NewPasetoV4PublicManager(scfg)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	log.Info("auth.tokens.enabled", "issuer", scfg.Issuer, "public_key", tokens.PublicKeyHex())
	return realtime.TokenAuthenticator{Verifier: tokens}, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.gateway)
	return WithRequestLogging(mux, a.log)
}

// Run listens on cfg.HTTPAddr and serves until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the gateway maintenance loop and, when
// configured, the AMQP ingest. The first failing component stops the others.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.closeDB()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.gateway.Run(ctx) })

	if a.ingest != nil {
		g.Go(func() error { return a.ingest.Run(ctx) })
	}

	g.Go(func() error {
		a.log.Info("server.start", "addr", ln.Addr().String(), "db_enabled", a.dbEnabled, "amqp_enabled", a.ingest != nil)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()

		select {
		case <-ctx.Done():
			a.log.Info("server.stop", "reason", "context_done")
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			a.log.Error("server.fail", "err", err)
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) closeDB() {
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

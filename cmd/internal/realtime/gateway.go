package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// Gateway is the realtime entrypoint for POS terminals.
//
// It authenticates handshakes, owns connection sessions and their rooms, and hands validated
// envelopes to the Router. Streaming (WebSocket) and long-poll transports share one admission
// and dispatch path.
type Gateway struct {
	log     *slog.Logger
	cfg     GatewayConfig
	auth    Authenticator
	origins originPolicy

	hub      *Hub
	fanout   Fanout
	presence *PresenceTracker
	router   *Router
	state    StateStore
	metrics  *Metrics

	polls *pollRegistry
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithStateStore sets the store answering sync snapshots (MemoryState by default).
func WithStateStore(s StateStore) Option { return func(g *Gateway) { g.state = s } }

// WithMetrics sets the metrics sink (nothing recorded by default).
func WithMetrics(m *Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// WithFanout replaces the in-process fanout, e.g. with a backplane shared by several servers.
func WithFanout(f Fanout) Option { return func(g *Gateway) { g.fanout = f } }

type rejectAll struct{}

func (rejectAll) Authenticate(context.Context, HandshakeParams) (Principal, error) {
	return Principal{}, unauthorized("no authenticator configured", nil)
}

// NewGateway constructs a gateway. With a nil auth, connections are admitted on asserted identity
// only when cfg.TrustAssertedIdentity is set, and rejected otherwise.
func NewGateway(log *slog.Logger, cfg GatewayConfig, auth Authenticator, opts ...Option) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cfg = cfg.withDefaults()

	if auth == nil {
		if cfg.TrustAssertedIdentity {
			log.Warn("rt.auth.asserted_identity", "msg", "handshake identity is trusted as asserted by clients")
			auth = AssertedAuthenticator{}
		} else {
			auth = rejectAll{}
		}
	}

	g := &Gateway{
		log:     log,
		cfg:     cfg,
		auth:    auth,
		origins: newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		hub:     NewHub(log),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.fanout == nil {
		g.fanout = NewLocalFanout(g.hub, g.metrics)
	}
	if g.state == nil {
		g.state = NewMemoryState(cfg.StateMaxOrders)
	}
	g.presence = NewPresenceTracker(log, g.fanout, g.metrics)
	g.router = NewRouter(log, g.fanout, g.presence, g.state)
	g.polls = newPollRegistry()
	return g
}

// Router returns the event router, for server-side publishers.
func (g *Gateway) Router() *Router { return g.router }

// Presence returns the presence tracker.
func (g *Gateway) Presence() *PresenceTracker { return g.presence }

// Run performs background maintenance (idle long-poll reaping) until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	every := g.cfg.PollIdle / 2
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			g.closeAll()
			return nil
		case now := <-t.C:
			for _, ps := range g.polls.idle(now, g.cfg.PollIdle) {
				g.log.Info("rt.poll.reap", "conn_id", ps.sess.ID(), "sid_prefix", shortSID(ps.sid))
				g.release(ctx, ps.sess)
			}
		}
	}
}

func (g *Gateway) closeAll() {
	for _, ps := range g.polls.all() {
		g.release(context.Background(), ps.sess)
	}
}

// admit authenticates the handshake and creates a session placed in its rooms.
func (g *Gateway) admit(ctx context.Context, r *http.Request, transport string) (*Session, error) {
	p, err := g.auth.Authenticate(ctx, HandshakeParamsFromRequest(r))
	if err != nil {
		g.metrics.handshakeRejected(transport)
		return nil, err
	}

	now := time.Now().UTC()
	sess := NewSession(newConnectionIdentity(p, now), transport, g.cfg.SendQueueSize, NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow))
	g.hub.Attach(sess)
	g.metrics.connOpened(transport)

	g.log.Info("rt.session.open",
		"conn_id", sess.ID(),
		"transport", transport,
		"tenant_id", p.TenantID,
		"user_id", p.UserID,
		"role", p.Role,
	)
	return sess, nil
}

// release tears a session down: rooms, presence, goroutines. Safe to call repeatedly.
func (g *Gateway) release(ctx context.Context, sess *Session) {
	sess.releaseOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)

		sess.Close()
		g.hub.Detach(sess)
		g.presence.Disconnect(ctx, sess.ID())
		if sess.Transport == TransportPoll {
			g.polls.removeSession(sess)
		}
		g.metrics.connClosed(sess.Transport)

		g.log.Info("rt.session.close", "conn_id", sess.ID(), "transport", sess.Transport, "tenant_id", sess.Identity.TenantID)
	})
}

var errRateLimited = errors.New("rate limited")

// dispatch handles one raw inbound frame. Only errRateLimited is returned; protocol faults are
// answered on the session and do not end it.
func (g *Gateway) dispatch(ctx context.Context, sess *Session, data []byte) error {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.metrics.event("invalid", resultRejected)
		g.sendError(sess, v1.CodeBadJSON, "invalid JSON", "")
		return nil
	}

	label := env.Type
	if !v1.Known(label) {
		label = "unknown"
	}

	if !sess.allow(time.Now().UTC()) {
		g.metrics.event(label, resultLimited)
		g.sendError(sess, v1.CodeRateLimited, "too many events", env.ID)
		return errRateLimited
	}

	if err := env.Validate(); err != nil {
		g.metrics.event(label, resultRejected)
		code := v1.CodeBadEnvelope
		if errors.Is(err, v1.ErrUnknownTag) {
			code = v1.CodeUnsupported
		}
		g.sendError(sess, code, err.Error(), env.ID)
		return nil
	}

	if err := g.route(ctx, sess, env); err != nil {
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			pe = protoErr(v1.CodeInternal, "internal error")
		}
		g.log.Info("rt.route.reject", "conn_id", sess.ID(), "type", env.Type, "code", pe.Code, "err", pe.Message)
		g.sendError(sess, pe.Code, pe.Message, env.ID)
		return nil
	}
	g.metrics.event(label, resultOK)
	return nil
}

// route runs the router; a panic is contained to this event.
func (g *Gateway) route(ctx context.Context, sess *Session, env v1.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.metrics.event(env.Type, resultPanic)
			g.log.Error("rt.route.panic", "conn_id", sess.ID(), "type", env.Type, "panic", rec, "stack", string(debug.Stack()))
			err = protoErr(v1.CodeInternal, "internal error")
		}
	}()
	return g.router.Route(ctx, sess, env)
}

func (g *Gateway) sendError(sess *Session, code, msg, replyTo string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	now := time.Now().UTC()
	_ = sess.Enqueue(v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeError,
		ID:      NewEnvelopeID(now),
		ReplyTo: replyTo,
		TS:      now,
		Payload: p,
	})
}

func rejectHandshake(w http.ResponseWriter, err error) {
	status, reason := handshakeStatus(err)
	http.Error(w, reason, status)
}

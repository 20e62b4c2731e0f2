// Package client is the terminal side of the POS realtime protocol.
//
// A Manager owns one connection to the realtime server, reconnects with capped exponential
// backoff, buffers emits while offline and replays them in order, measures latency and
// resynchronizes state after a reconnection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	"github.com/oklog/ulid/v2"
)

// Identity is the actor a terminal connects as.
type Identity struct {
	UserID       string
	Name         string
	Role         v1.Role
	RestaurantID string
}

// Config configures a Manager.
type Config struct {
	// URL is the server base URL, e.g. "http://pos.local:8080".
	URL string

	// Token is the staff access token. Identity fields are sent too; servers that verify
	// tokens require them to agree with the token.
	Token    string
	Identity Identity

	// Header is added to every handshake/poll request (e.g. Origin).
	Header http.Header

	// Transport is TransportAuto (default), TransportWS or TransportPoll.
	Transport  string
	HTTPClient *http.Client

	PingInterval time.Duration
	PingTimeout  time.Duration
	AckTimeout   time.Duration
	DialTimeout  time.Duration

	Backoff   Backoff
	MaxQueued int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Transport == "" {
		c.Transport = TransportAuto
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxQueued <= 0 {
		c.MaxQueued = 1000
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDialer replaces transport negotiation.
func WithDialer(d Dialer) Option { return func(m *Manager) { m.dialer = d } }

var (
	errManualReconnect = errors.New("realtime: manual reconnect")
	errHeartbeatMissed = errors.New("realtime: heartbeat missed")
)

type reply struct {
	env v1.Envelope
	err error
}

// Manager is a client session: connection lifecycle, emit/on/off, acknowledgments,
// the offline queue and the latency probe.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	dialer   Dialer
	queue    *Queue
	handlers *handlerSet
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	kick      chan struct{}

	events       chan func()
	dispatchStop chan struct{}
	dispatchDone chan struct{}

	mu            sync.Mutex
	status        Status
	statusErr     error
	tr            Transport
	everConnected bool
	pending       map[string]chan reply
	latency       time.Duration
	latencyKnown  bool
	statusFns     []func(StatusChange)
	watchers      map[chan StatusChange]struct{}
}

// New constructs a Manager. Nothing connects until Connect.
func New(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:          cfg,
		log:          cfg.logger(),
		dialer:       NegotiatingDialer{},
		queue:        NewQueue(cfg.MaxQueued),
		handlers:     newHandlerSet(),
		now:          time.Now,
		after:        time.After,
		ctx:          ctx,
		cancel:       cancel,
		kick:         make(chan struct{}, 1),
		events:       make(chan func(), 256),
		dispatchStop: make(chan struct{}),
		dispatchDone: make(chan struct{}),
		pending:      make(map[string]chan reply),
		watchers:     make(map[chan StatusChange]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts the connection loop and waits until the manager is connected.
//
// It returns ErrAuthRejected or ErrRetryBudgetExhausted (wrapped) when the loop gave up, and
// ctx.Err() when ctx ends first; in the latter case reconnection continues in the background.
// Calling Connect on a manager that gave up restarts it like Reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	if m.ctx.Err() != nil {
		return ErrClosed
	}
	w := m.watch()
	defer m.unwatch(w)

	if !m.start() {
		switch m.Status() {
		case StatusConnected:
			return nil
		case StatusDisconnected:
			m.Reconnect()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrClosed
		case sc := <-w:
			switch {
			case sc.Status == StatusConnected:
				return nil
			case sc.Status == StatusDisconnected && sc.Err != nil:
				return sc.Err
			}
		}
	}
}

func (m *Manager) start() bool {
	first := false
	m.startOnce.Do(func() {
		first = true
		m.started.Store(true)
		m.wg.Add(1)
		go m.dispatchLoop()
		go m.run()
	})
	return first
}

// Close disconnects and stops all goroutines. Queued entries are discarded.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		if m.started.Load() {
			m.setStatus(StatusDisconnected, ErrClosed)
			close(m.dispatchStop)
			<-m.dispatchDone
		}
	})
	return nil
}

// Reconnect forces an immediate connection attempt, bypassing the backoff timer.
// On a live connection it drops and re-establishes it; after the loop gave up it restarts it.
func (m *Manager) Reconnect() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatus registers a status callback. Callbacks run on the dispatch goroutine.
func (m *Manager) OnStatus(fn func(StatusChange)) {
	m.mu.Lock()
	m.statusFns = append(m.statusFns, fn)
	m.mu.Unlock()
}

// Latency returns the last measured round trip. ok is false while disconnected or after a lost probe.
func (m *Manager) Latency() (rtt time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency, m.latencyKnown
}

// Queued returns the number of entries waiting in the offline queue.
func (m *Manager) Queued() int { return m.queue.Len() }

// On registers a handler for tag. Several handlers per tag run in registration order.
func (m *Manager) On(tag string, fn Handler) HandlerID {
	return m.handlers.add(tag, fn)
}

// Off removes a handler registered for tag. It reports whether one was removed.
func (m *Manager) Off(tag string, id HandlerID) bool {
	return m.handlers.remove(tag, id)
}

// OnEvent registers a typed handler for the tag of T.
func OnEvent[T v1.Event](m *Manager, fn func(T)) HandlerID {
	var zero T
	return m.On(zero.Tag(), func(msg Message) {
		if ev, ok := msg.Event.(T); ok {
			fn(ev)
		}
	})
}

// OnSyncSnapshot registers a handler for the state snapshot received after each reconnection.
func (m *Manager) OnSyncSnapshot(fn func(v1.SyncSnapshot)) HandlerID {
	return m.On(TagSyncSnapshot, func(msg Message) {
		var snap v1.SyncSnapshot
		if err := msg.Decode(&snap); err != nil {
			m.log.Warn("rt.client.sync_decode_fail", "err", err)
			return
		}
		fn(snap)
	})
}

// Emit sends a client event, or queues it while offline. Only encoding errors and ctx
// cancellation are returned; delivery is best-effort.
func (m *Manager) Emit(ctx context.Context, ev v1.Event) error {
	if m.ctx.Err() != nil {
		return ErrClosed
	}
	tag, payload, err := encodeClientEvent(ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	tr := m.tr
	if tr == nil {
		m.queue.Enqueue(tag, payload, m.now())
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := tr.Send(ctx, m.envelope(tag, payload)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Info("rt.client.emit_queued", "type", tag, "err", err)
		m.queue.Enqueue(tag, payload, m.now())
	}
	return nil
}

// Request sends a client event and waits for its acknowledgment payload.
// It fails fast with ErrOffline when not connected and with ErrAckTimeout when no
// acknowledgment arrives within Config.AckTimeout.
func (m *Manager) Request(ctx context.Context, ev v1.Event) (json.RawMessage, error) {
	return m.request(ctx, ev, m.cfg.AckTimeout)
}

// CreateOrder emits order:create and returns the server acknowledgment.
// A rejected order is reported as *AckError.
func (m *Manager) CreateOrder(ctx context.Context, order v1.Order) (v1.OrderCreateAck, error) {
	raw, err := m.Request(ctx, v1.OrderCreate{Order: order})
	if err != nil {
		return v1.OrderCreateAck{}, err
	}
	var ack v1.OrderCreateAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return v1.OrderCreateAck{}, fmt.Errorf("realtime: decode order ack: %w", err)
	}
	if !ack.Success {
		return ack, &AckError{Tag: v1.TagOrderCreate, Message: ack.Error}
	}
	return ack, nil
}

func (m *Manager) request(ctx context.Context, ev v1.Event, timeout time.Duration) (json.RawMessage, error) {
	if m.ctx.Err() != nil {
		return nil, ErrClosed
	}
	tag, payload, err := encodeClientEvent(ev)
	if err != nil {
		return nil, err
	}

	env := m.envelope(tag, payload)
	ch := make(chan reply, 1)

	m.mu.Lock()
	tr := m.tr
	if tr == nil {
		m.mu.Unlock()
		return nil, ErrOffline
	}
	m.pending[env.ID] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, env.ID)
		m.mu.Unlock()
	}()

	if err := tr.Send(ctx, env); err != nil {
		return nil, fmt.Errorf("realtime: send %s: %w", tag, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = json.Unmarshal(r.env.Payload, &ep)
			return nil, &ServerError{Code: ep.Code, Message: ep.Message}
		}
		return r.env.Payload, nil
	case <-timer.C:
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func encodeClientEvent(ev v1.Event) (string, json.RawMessage, error) {
	if ev == nil {
		return "", nil, errors.New("realtime: nil event")
	}
	tag := ev.Tag()
	if v1.DirectionOf(tag) != v1.ClientToServer {
		return "", nil, fmt.Errorf("realtime: %s is not a client event", tag)
	}
	payload, err := v1.Encode(ev)
	if err != nil {
		return "", nil, fmt.Errorf("realtime: encode %s: %w", tag, err)
	}
	return tag, payload, nil
}

func (m *Manager) envelope(tag string, payload json.RawMessage) v1.Envelope {
	now := m.now().UTC()
	return v1.Envelope{V: v1.Version, Type: tag, ID: ulid.Make().String(), TS: now, Payload: payload}
}

// ---- connection loop ----

func (m *Manager) run() {
	defer m.wg.Done()
	ctx := m.ctx

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		reconnecting := m.everConnected
		m.mu.Unlock()
		if reconnecting {
			m.setStatus(StatusReconnecting, nil)
		} else {
			m.setStatus(StatusConnecting, nil)
		}

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		tr, err := m.dialer.Dial(dialCtx, m.cfg)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			m.log.Info("rt.client.dial_fail", "attempt", attempt, "err", err)

			var terminal error
			switch {
			case errors.Is(err, ErrAuthRejected):
				terminal = err
			case attempt >= m.cfg.Backoff.MaxAttempts:
				terminal = fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, attempt, err)
			}
			if terminal != nil {
				m.setStatus(StatusDisconnected, terminal)
				select {
				case <-ctx.Done():
					return
				case <-m.kick:
				}
				attempt = 0
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-m.kick:
			case <-m.after(m.cfg.Backoff.Delay(attempt)):
			}
			continue
		}

		// A Reconnect issued while dialing is satisfied by this connection.
		select {
		case <-m.kick:
		default:
		}

		attempt = 0
		err = m.serve(ctx, tr)
		if ctx.Err() != nil {
			return
		}
		m.log.Info("rt.client.connection_lost", "transport", tr.Name(), "err", err)
		m.setStatus(StatusReconnecting, err)
	}
}

// serve runs one established connection until it is lost.
func (m *Manager) serve(parent context.Context, tr Transport) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var lastInbound atomic.Int64
	lastInbound.Store(m.now().UnixNano())

	lost := make(chan error, 1)
	fail := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	m.mu.Lock()
	reconnect := m.everConnected
	m.mu.Unlock()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			env, err := tr.Recv(ctx)
			if err != nil {
				fail(err)
				return
			}
			lastInbound.Store(m.now().UnixNano())
			m.handleInbound(env)
		}
	}()

	if err := m.sendEvent(ctx, tr, m.presenceJoin()); err != nil {
		fail(err)
	} else if err := m.flushQueue(ctx, tr); err != nil {
		fail(err)
	} else {
		m.mu.Lock()
		m.everConnected = true
		m.mu.Unlock()

		m.setStatus(StatusConnected, nil)
		m.log.Info("rt.client.connected", "transport", tr.Name(), "reconnect", reconnect)
		if reconnect {
			go m.resync(ctx)
		}
		go m.probe(ctx)
	}

	wd := time.NewTicker(m.watchdogEvery())
	defer wd.Stop()

	var err error
loop:
	for {
		select {
		case err = <-lost:
			break loop
		case <-m.kick:
			err = errManualReconnect
			break loop
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case <-wd.C:
			silence := m.now().Sub(time.Unix(0, lastInbound.Load()))
			if silence > m.cfg.PingInterval+m.cfg.PingTimeout {
				err = errHeartbeatMissed
				break loop
			}
		}
	}

	cancel()
	m.detach()
	_ = tr.Close()
	<-readerDone
	return err
}

func (m *Manager) watchdogEvery() time.Duration {
	d := m.cfg.PingTimeout / 2
	if d <= 0 || d > m.cfg.PingInterval/2 {
		d = m.cfg.PingInterval / 2
	}
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	return d
}

// flushQueue replays the offline queue; the transport becomes available to Emit/Request only
// once the queue is empty, so replayed entries are never overtaken.
func (m *Manager) flushQueue(ctx context.Context, tr Transport) error {
	for {
		n, err := m.queue.Flush(func(e Entry) error {
			return tr.Send(ctx, m.envelope(e.Tag, e.Payload))
		})
		if n > 0 {
			m.log.Info("rt.client.queue_flushed", "sent", n)
		}
		if err != nil {
			return err
		}

		m.mu.Lock()
		if m.queue.Len() == 0 {
			m.tr = tr
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
	}
}

// detach drops the current transport and fails requests waiting on it.
func (m *Manager) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tr = nil
	m.latencyKnown = false
	for id, ch := range m.pending {
		select {
		case ch <- reply{err: ErrConnectionLost}:
		default:
		}
		delete(m.pending, id)
	}
}

func (m *Manager) presenceJoin() v1.PresenceJoin {
	return v1.PresenceJoin{ID: m.cfg.Identity.UserID, Name: m.cfg.Identity.Name, Role: m.cfg.Identity.Role}
}

func (m *Manager) sendEvent(ctx context.Context, tr Transport, ev v1.Event) error {
	tag, payload, err := encodeClientEvent(ev)
	if err != nil {
		return err
	}
	return tr.Send(ctx, m.envelope(tag, payload))
}

func (m *Manager) resync(ctx context.Context) {
	raw, err := m.request(ctx, v1.SyncRequest{}, m.cfg.AckTimeout)
	if err != nil {
		m.log.Warn("rt.client.sync_fail", "err", err)
		return
	}
	m.dispatch(Message{Tag: TagSyncSnapshot, TS: m.now().UTC(), Payload: raw})
}

// probe measures round trips while the connection lives. A probe times out after one
// interval, so no result outlives the next probe.
func (m *Manager) probe(ctx context.Context) {
	t := time.NewTicker(m.cfg.PingInterval)
	defer t.Stop()

	for {
		start := m.now()
		_, err := m.request(ctx, v1.Ping{}, m.cfg.PingInterval)
		rtt := m.now().Sub(start)

		m.mu.Lock()
		if err == nil {
			m.latency, m.latencyKnown = rtt, true
		} else {
			m.latencyKnown = false
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ---- inbound ----

func (m *Manager) handleInbound(env v1.Envelope) {
	if env.ReplyTo != "" && (env.Type == v1.TypeAck || env.Type == v1.TypeError) {
		m.mu.Lock()
		ch, ok := m.pending[env.ReplyTo]
		delete(m.pending, env.ReplyTo)
		m.mu.Unlock()
		if ok {
			ch <- reply{env: env}
		} else {
			m.log.Debug("rt.client.late_reply", "type", env.Type, "reply_to", env.ReplyTo)
		}
		return
	}

	msg := Message{Tag: env.Type, ID: env.ID, TS: env.TS, Payload: env.Payload}
	if v1.Known(env.Type) {
		ev, err := v1.Decode(env.Type, env.Payload)
		if err != nil {
			m.log.Warn("rt.client.decode_fail", "type", env.Type, "err", err)
		} else {
			msg.Event = ev
		}
	}
	m.dispatch(msg)
}

func (m *Manager) dispatch(msg Message) {
	m.enqueueCall(func() {
		for _, r := range m.handlers.forTag(msg.Tag) {
			m.safeCall(msg.Tag, func() { r.fn(msg) })
		}
	})
}

func (m *Manager) enqueueCall(fn func()) {
	select {
	case m.events <- fn:
	case <-m.dispatchStop:
	}
}

func (m *Manager) dispatchLoop() {
	defer close(m.dispatchDone)
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.dispatchStop:
			for {
				select {
				case fn := <-m.events:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) safeCall(tag string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("rt.client.handler_panic", "type", tag, "panic", rec)
		}
	}()
	fn()
}

// ---- status ----

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	if m.status == s && s != StatusDisconnected {
		m.mu.Unlock()
		return
	}
	m.status, m.statusErr = s, err
	fns := append([]func(StatusChange){}, m.statusFns...)
	watchers := make([]chan StatusChange, 0, len(m.watchers))
	for w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	sc := StatusChange{Status: s, Err: err}
	for _, w := range watchers {
		select {
		case w <- sc:
		default:
		}
	}
	if len(fns) > 0 && m.started.Load() {
		m.enqueueCall(func() {
			for _, fn := range fns {
				m.safeCall("status", func() { fn(sc) })
			}
		})
	}
}

func (m *Manager) watch() chan StatusChange {
	w := make(chan StatusChange, 16)
	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()
	return w
}

func (m *Manager) unwatch(w chan StatusChange) {
	m.mu.Lock()
	delete(m.watchers, w)
	m.mu.Unlock()
}

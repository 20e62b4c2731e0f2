package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Transport names.
const (
	TransportAuto = "auto"
	TransportWS   = "ws"
	TransportPoll = "poll"
)

// WSSubprotocol is the websocket subprotocol spoken by the server.
const WSSubprotocol = "pos.realtime.v1"

const (
	maxInboundFrame  = 4 << 20
	pollCloseTimeout = 5 * time.Second
)

// Transport is one established connection. Send may be called concurrently; Recv is called
// from a single goroutine.
type Transport interface {
	Name() string
	Send(ctx context.Context, env v1.Envelope) error
	Recv(ctx context.Context) (v1.Envelope, error)
	Close() error
}

// Dialer establishes transports. Errors wrapping ErrAuthRejected stop reconnection.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg Config) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Transport, error) { return f(ctx, cfg) }

// NegotiatingDialer prefers WebSocket and falls back to long-polling unless the server
// rejected the credentials.
type NegotiatingDialer struct{}

// Dial implements Dialer.
func (NegotiatingDialer) Dial(ctx context.Context, cfg Config) (Transport, error) {
	switch cfg.Transport {
	case TransportWS:
		return dialWS(ctx, cfg)
	case TransportPoll:
		return dialPoll(ctx, cfg)
	}

	tr, err := dialWS(ctx, cfg)
	if err == nil {
		return tr, nil
	}
	if errors.Is(err, ErrAuthRejected) || ctx.Err() != nil {
		return nil, err
	}
	cfg.logger().Info("rt.client.fallback", "transport", TransportPoll, "ws_err", err)

	tr, perr := dialPoll(ctx, cfg)
	if perr != nil {
		return nil, fmt.Errorf("websocket: %v; poll: %w", err, perr)
	}
	return tr, nil
}

func handshakeQuery(cfg Config) url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("token", cfg.Token)
	set("userId", cfg.Identity.UserID)
	set("userName", cfg.Identity.Name)
	set("userRole", string(cfg.Identity.Role))
	set("restaurantId", cfg.Identity.RestaurantID)
	return q
}

func endpoint(cfg Config, path string, q url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return "", fmt.Errorf("realtime: bad url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("realtime: unsupported url scheme %q", u.Scheme)
	}
	u.Path += path
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func requestHeader(cfg Config) http.Header {
	h := http.Header{}
	for k, vs := range cfg.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if cfg.Token != "" {
		h.Set("Authorization", "Bearer "+cfg.Token)
	}
	return h
}

// ---- websocket ----

type wsTransport struct {
	conn *websocket.Conn
}

func dialWS(ctx context.Context, cfg Config) (Transport, error) {
	q := handshakeQuery(cfg)
	q.Del("token") // sent as Authorization header
	u, err := endpoint(cfg, "/rt/ws", q)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient:   cfg.HTTPClient,
		HTTPHeader:   requestHeader(cfg),
		Subprotocols: []string{WSSubprotocol},
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HandshakeError{Transport: TransportWS, StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	if conn.Subprotocol() != WSSubprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol mismatch")
		return nil, fmt.Errorf("realtime: server selected subprotocol %q", conn.Subprotocol())
	}
	conn.SetReadLimit(maxInboundFrame)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Name() string { return TransportWS }

func (t *wsTransport) Send(ctx context.Context, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.conn.Write(ctx, websocket.MessageText, b)
}

func (t *wsTransport) Recv(ctx context.Context) (v1.Envelope, error) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return v1.Envelope{}, err
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// A garbled frame does not end the connection.
			continue
		}
		return env, nil
	}
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}

// ---- long-poll ----

type pollTransport struct {
	http *http.Client
	cfg  Config
	sid  string

	// buffered holds the rest of the last received batch. Only Recv touches it.
	buffered []v1.Envelope

	closeOnce sync.Once
}

func dialPoll(ctx context.Context, cfg Config) (Transport, error) {
	u, err := endpoint(cfg, "/rt/poll", handshakeQuery(cfg))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header = requestHeader(cfg)

	hc := cfg.httpClient()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &HandshakeError{Transport: TransportPoll, StatusCode: resp.StatusCode}
	}
	var open struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil || open.SID == "" {
		return nil, fmt.Errorf("realtime: bad poll open response: %v", err)
	}
	return &pollTransport{http: hc, cfg: cfg, sid: open.SID}, nil
}

func (t *pollTransport) Name() string { return TransportPoll }

func (t *pollTransport) url(path string) string {
	u, _ := endpoint(t.cfg, path, url.Values{"sid": []string{t.sid}})
	return u
}

func (t *pollTransport) do(req *http.Request) (*http.Response, error) {
	for k, vs := range requestHeader(t.cfg) {
		req.Header[k] = vs
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		drainClose(resp.Body)
		return nil, ErrSessionGone
	}
	return resp, nil
}

func (t *pollTransport) Send(ctx context.Context, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url("/rt/poll/send"), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.do(req)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("realtime: poll send: status %d", resp.StatusCode)
	}
	return nil
}

func (t *pollTransport) Recv(ctx context.Context) (v1.Envelope, error) {
	for len(t.buffered) == 0 {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url("/rt/poll"), nil)
		if err != nil {
			return v1.Envelope{}, err
		}
		resp, err := t.do(req)
		if err != nil {
			return v1.Envelope{}, err
		}
		if resp.StatusCode != http.StatusOK {
			drainClose(resp.Body)
			return v1.Envelope{}, fmt.Errorf("realtime: poll receive: status %d", resp.StatusCode)
		}
		var batch []v1.Envelope
		err = json.NewDecoder(resp.Body).Decode(&batch)
		drainClose(resp.Body)
		if err != nil {
			return v1.Envelope{}, fmt.Errorf("realtime: poll receive: %w", err)
		}
		t.buffered = batch
	}
	env := t.buffered[0]
	t.buffered = t.buffered[1:]
	return env, nil
}

func (t *pollTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), pollCloseTimeout)
		defer cancel()
		req, rerr := http.NewRequestWithContext(ctx, http.MethodDelete, t.url("/rt/poll"), nil)
		if rerr != nil {
			err = rerr
			return
		}
		resp, derr := t.do(req)
		if derr != nil {
			if !errors.Is(derr, ErrSessionGone) {
				err = derr
			}
			return
		}
		drainClose(resp.Body)
	})
	return err
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// WSSubprotocol is the websocket subprotocol spoken at /rt/ws.
const WSSubprotocol = "pos.realtime.v1"

// ServeHTTP serves the websocket entrypoint so the gateway can be mounted as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the handshake, upgrades to a WebSocket and runs the session loop.
// Authentication failures are answered with a plain HTTP status before any upgrade.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	sess, err := g.admit(r.Context(), r, TransportWS)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		rejectHandshake(w, err)
		return
	}

	// The server-wide write deadline must not outlive the upgrade.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{WSSubprotocol},
		OriginPatterns:     g.origins.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "conn_id", sess.ID(), "err", err)
		g.release(r.Context(), sess)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != WSSubprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", WSSubprotocol)
		g.release(r.Context(), sess)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	g.serveWS(r.Context(), conn, sess)
}

func (g *Gateway) serveWS(parent context.Context, conn *websocket.Conn, sess *Session) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	shutdown := func(code websocket.StatusCode, reason string) {
		g.release(ctx, sess)
		_ = conn.Close(code, reason)
		cancel()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case env := <-sess.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", sess.ID(), "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", sess.ID(), "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", sess.ID(), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if err := g.dispatch(ctx, sess, data); errors.Is(err, errRateLimited) {
			// Give the writer a moment to deliver the rate_limited error before closing.
			g.flushWS(conn, sess)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// flushWS writes whatever is still queued, bounded by the close grace period.
func (g *Gateway) flushWS(conn *websocket.Conn, sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	for {
		select {
		case env := <-sess.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// PollOpenResponse answers POST /rt/poll.
type PollOpenResponse struct {
	SID string `json:"sid"`
}

// pollSession is a Session carried by long-poll requests.
type pollSession struct {
	sid  string
	sess *Session

	// sendMu keeps inbound envelopes of one connection in order across concurrent POSTs.
	sendMu sync.Mutex

	lastSeen  atomic.Int64
	receiving atomic.Int32
}

func (ps *pollSession) touch(now time.Time) { ps.lastSeen.Store(now.UnixNano()) }

type pollRegistry struct {
	mu       sync.Mutex
	sessions map[string]*pollSession
}

func newPollRegistry() *pollRegistry {
	return &pollRegistry{sessions: make(map[string]*pollSession)}
}

func (r *pollRegistry) add(ps *pollSession) {
	r.mu.Lock()
	r.sessions[ps.sid] = ps
	r.mu.Unlock()
}

func (r *pollRegistry) get(sid string) (*pollSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sessions[sid]
	return ps, ok
}

func (r *pollRegistry) removeSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, ps := range r.sessions {
		if ps.sess == s {
			delete(r.sessions, sid)
			return
		}
	}
}

func (r *pollRegistry) idle(now time.Time, maxIdle time.Duration) []*pollSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pollSession
	for _, ps := range r.sessions {
		if ps.receiving.Load() > 0 {
			continue
		}
		if now.Sub(time.Unix(0, ps.lastSeen.Load())) > maxIdle {
			out = append(out, ps)
		}
	}
	return out
}

func (r *pollRegistry) all() []*pollSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pollSession, 0, len(r.sessions))
	for _, ps := range r.sessions {
		out = append(out, ps)
	}
	return out
}

func shortSID(sid string) string {
	if len(sid) > 6 {
		return sid[:6]
	}
	return sid
}

// HandlePoll serves the long-poll fallback transport:
//
//	POST   /rt/poll            open a session (handshake query as for /rt/ws) -> {"sid"}
//	GET    /rt/poll?sid=       receive queued envelopes (JSON array), waiting up to PollWait
//	DELETE /rt/poll?sid=       disconnect
//	POST   /rt/poll/send?sid=  send one envelope -> 202
func (g *Gateway) HandlePoll(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r); err != nil {
		g.log.Info("poll.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPost:
		g.pollOpen(w, r)
	case http.MethodGet:
		g.pollReceive(w, r)
	case http.MethodDelete:
		g.pollClose(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandlePollSend serves POST /rt/poll/send.
func (g *Gateway) HandlePollSend(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ps, ok := g.lookupPoll(w, r)
	if !ok {
		return
	}
	ps.touch(time.Now())

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ps.sendMu.Lock()
	err = g.dispatch(r.Context(), ps.sess, data)
	ps.sendMu.Unlock()

	if errors.Is(err, errRateLimited) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) pollOpen(w http.ResponseWriter, r *http.Request) {
	sess, err := g.admit(r.Context(), r, TransportPoll)
	if err != nil {
		g.log.Info("poll.reject.auth", "err", err, "remote", r.RemoteAddr)
		rejectHandshake(w, err)
		return
	}

	ps := &pollSession{sid: NewRandomHex(16), sess: sess}
	ps.touch(time.Now())
	g.polls.add(ps)

	writeJSON(w, http.StatusOK, PollOpenResponse{SID: ps.sid})
}

func (g *Gateway) pollReceive(w http.ResponseWriter, r *http.Request) {
	ps, ok := g.lookupPoll(w, r)
	if !ok {
		return
	}
	ps.receiving.Add(1)
	defer func() {
		ps.touch(time.Now())
		ps.receiving.Add(-1)
	}()
	ps.touch(time.Now())

	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(g.cfg.PollWait + g.cfg.WriteTimeout))

	batch := make([]v1.Envelope, 0, 8)

	t := time.NewTimer(g.cfg.PollWait)
	defer t.Stop()
	select {
	case env := <-ps.sess.Send:
		batch = append(batch, env)
	case <-ps.sess.Done():
		http.Error(w, "session closed", http.StatusGone)
		return
	case <-r.Context().Done():
		return
	case <-t.C:
	}

drain:
	for len(batch) > 0 && len(batch) < pollMaxBatch {
		select {
		case env := <-ps.sess.Send:
			batch = append(batch, env)
		default:
			break drain
		}
	}

	writeJSON(w, http.StatusOK, batch)
}

func (g *Gateway) pollClose(w http.ResponseWriter, r *http.Request) {
	ps, ok := g.lookupPoll(w, r)
	if !ok {
		return
	}
	g.release(r.Context(), ps.sess)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) lookupPoll(w http.ResponseWriter, r *http.Request) (*pollSession, bool) {
	sid := r.URL.Query().Get("sid")
	if sid == "" {
		http.Error(w, "missing sid", http.StatusBadRequest)
		return nil, false
	}
	ps, ok := g.polls.get(sid)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return nil, false
	}
	return ps, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

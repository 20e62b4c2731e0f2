package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBroker wires hub, fanout, presence and router the way the gateway does.
type testBroker struct {
	hub      *Hub
	fanout   *LocalFanout
	presence *PresenceTracker
	state    *MemoryState
	router   *Router
}

func newTestBroker() *testBroker {
	log := testLogger()
	hub := NewHub(log)
	fan := NewLocalFanout(hub, nil)
	pres := NewPresenceTracker(log, fan, nil)
	st := NewMemoryState(0)
	return &testBroker{
		hub:      hub,
		fanout:   fan,
		presence: pres,
		state:    st,
		router:   NewRouter(log, fan, pres, st),
	}
}

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func (b *testBroker) connect(t *testing.T, connID, userID, tenant string, role v1.Role) *Session {
	t.Helper()
	s := NewSession(ConnectionIdentity{
		ConnID:   connID,
		UserID:   userID,
		Name:     userID,
		Role:     role,
		TenantID: tenant,
		JoinedAt: testClock,
	}, TransportWS, 128, nil)
	b.hub.Attach(s)
	return s
}

func newEnv(t *testing.T, typ string, payload any) v1.Envelope {
	t.Helper()
	env := v1.Envelope{V: v1.Version, Type: typ, ID: NewEnvelopeID(time.Now()), TS: time.Now().UTC()}
	if payload != nil {
		env.Payload = mustJSONRaw(t, payload)
	}
	return env
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// drain returns every envelope currently queued for s.
func drain(s *Session) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-s.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []v1.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func countType(envs []v1.Envelope, typ string) int {
	n := 0
	for _, e := range envs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func findType(t *testing.T, envs []v1.Envelope, typ string) v1.Envelope {
	t.Helper()
	for _, e := range envs {
		if e.Type == typ {
			return e
		}
	}
	t.Fatalf("no %q envelope in %v", typ, types(envs))
	return v1.Envelope{}
}

package realtime

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

func TestPresence_JoinBroadcastsFullSnapshotToTenant(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	a := b.connect(t, "c1", "u1", "r1", v1.RoleWaiter)
	k := b.connect(t, "c2", "u2", "r1", v1.RoleKitchen)
	other := b.connect(t, "c3", "u3", "r2", v1.RoleWaiter)

	b.presence.Join(ctx, a.Identity)
	second := k.Identity
	second.JoinedAt = testClock.Add(time.Second)
	b.presence.Join(ctx, second)

	// The joiner itself receives the update too.
	envs := drain(a)
	if got := countType(envs, v1.TagPresenceUpdate); got != 2 {
		t.Fatalf("want 2 presence updates for c1, got %d (%v)", got, types(envs))
	}
	var users v1.PresenceUpdate
	if err := json.Unmarshal(envs[len(envs)-1].Payload, &users); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if len(users) != 2 || users[0].SocketID != "c1" || users[1].SocketID != "c2" {
		t.Fatalf("unexpected snapshot order: %+v", users)
	}
	if users[1].Role != v1.RoleKitchen || users[1].ID != "u2" {
		t.Fatalf("unexpected entry: %+v", users[1])
	}

	if got := drain(other); len(got) != 0 {
		t.Fatalf("other tenant must not receive presence, got %v", types(got))
	}
}

func TestPresence_LeaveIsIdempotent(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	a := b.connect(t, "c1", "u1", "r1", v1.RoleWaiter)
	c := b.connect(t, "c2", "u2", "r1", v1.RoleWaiter)
	b.presence.Join(ctx, a.Identity)
	b.presence.Join(ctx, c.Identity)
	drain(a)

	if !b.presence.Leave(ctx, "r1", "c2") {
		t.Fatalf("first leave should remove the entry")
	}
	if b.presence.Leave(ctx, "r1", "c2") {
		t.Fatalf("second leave must be a no-op")
	}
	if b.presence.Disconnect(ctx, "c2") {
		t.Fatalf("disconnect after leave must be a no-op")
	}

	if got := countType(drain(a), v1.TagPresenceUpdate); got != 1 {
		t.Fatalf("want exactly one re-broadcast, got %d", got)
	}
	if n := b.presence.Len("r1"); n != 1 {
		t.Fatalf("want 1 entry, got %d", n)
	}
}

func TestPresence_RejoinKeepsJoinTimeAndMovesTenant(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	id := ConnectionIdentity{ConnID: "c1", UserID: "u1", Name: "Ana", Role: v1.RoleCashier, TenantID: "r1", JoinedAt: testClock}
	b.presence.Join(ctx, id)

	renamed := id
	renamed.Name = "Ana M."
	renamed.JoinedAt = testClock.Add(time.Minute)
	b.presence.Join(ctx, renamed)

	snap := b.presence.Snapshot("r1")
	if len(snap) != 1 || snap[0].Name != "Ana M." || !snap[0].JoinedAt.Equal(testClock) {
		t.Fatalf("unexpected snapshot after rejoin: %+v", snap)
	}

	moved := id
	moved.TenantID = "r2"
	b.presence.Join(ctx, moved)
	if n := b.presence.Len("r1"); n != 0 {
		t.Fatalf("connection must leave its previous tenant, r1 has %d", n)
	}
	if n := b.presence.Len("r2"); n != 1 {
		t.Fatalf("want 1 entry in r2, got %d", n)
	}
}

// For any sequence of join/leave/disconnect, the registry holds exactly the connections
// whose latest action was a join.
func TestPresence_RandomSequencesMatchModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	conns := []string{"c1", "c2", "c3", "c4", "c5"}

	for round := 0; round < 200; round++ {
		p := NewPresenceTracker(testLogger(), nil, nil)
		ctx := context.Background()
		model := map[string]bool{}

		for step := 0; step < 30; step++ {
			c := conns[rng.Intn(len(conns))]
			switch rng.Intn(3) {
			case 0:
				p.Join(ctx, ConnectionIdentity{ConnID: c, UserID: "u-" + c, Role: v1.RoleWaiter, TenantID: "r1", JoinedAt: testClock})
				model[c] = true
			case 1:
				p.Leave(ctx, "r1", c)
				delete(model, c)
			default:
				p.Disconnect(ctx, c)
				delete(model, c)
			}
		}

		snap := p.Snapshot("r1")
		if len(snap) != len(model) {
			t.Fatalf("round %d: registry has %d entries, model %d", round, len(snap), len(model))
		}
		seen := map[string]bool{}
		for _, u := range snap {
			if !model[u.SocketID] || seen[u.SocketID] {
				t.Fatalf("round %d: unexpected or duplicate entry %q", round, u.SocketID)
			}
			seen[u.SocketID] = true
		}
	}
}

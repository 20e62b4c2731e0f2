package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// PresenceTracker owns the live presence registry of every tenant.
//
// Invariants:
//   - a connection id is registered under at most one tenant
//   - every mutation that changes a tenant's membership is followed by a full presence:update
//     to that tenant room; broadcasts are issued under the tracker lock so observers never see
//     an older snapshot after a newer one for the same tenant
type PresenceTracker struct {
	log     *slog.Logger
	fanout  Fanout
	metrics *Metrics
	now     func() time.Time

	mu      sync.Mutex
	tenants map[string]map[string]ConnectionIdentity
	owner   map[string]string
}

// NewPresenceTracker constructs an empty tracker publishing through fanout.
func NewPresenceTracker(log *slog.Logger, fanout Fanout, metrics *Metrics) *PresenceTracker {
	return &PresenceTracker{
		log:     log,
		fanout:  fanout,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		tenants: make(map[string]map[string]ConnectionIdentity),
		owner:   make(map[string]string),
	}
}

// Join registers id under its tenant and broadcasts the tenant's membership.
// A connection already present keeps its original join time; display fields are refreshed.
func (p *PresenceTracker) Join(ctx context.Context, id ConnectionIdentity) {
	p.join(ctx, id, nil)
}

// JoinSession is Join for a live session. It reports false, and registers nothing, once
// sess is closed; release closes the session before Disconnect, so a join racing a release
// either lands before the removal or is refused.
func (p *PresenceTracker) JoinSession(ctx context.Context, sess *Session, id ConnectionIdentity) bool {
	return p.join(ctx, id, sess.Done())
}

func (p *PresenceTracker) join(ctx context.Context, id ConnectionIdentity, done <-chan struct{}) bool {
	if id.ConnID == "" || id.TenantID == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if done != nil {
		select {
		case <-done:
			p.log.Debug("presence.join_closed", "tenant_id", id.TenantID, "conn_id", id.ConnID)
			return false
		default:
		}
	}

	if prev, ok := p.owner[id.ConnID]; ok && prev != id.TenantID {
		p.removeLocked(prev, id.ConnID)
		p.broadcastLocked(ctx, prev)
	}

	members := p.tenants[id.TenantID]
	if members == nil {
		members = make(map[string]ConnectionIdentity)
		p.tenants[id.TenantID] = members
	}
	if old, ok := members[id.ConnID]; ok {
		id.JoinedAt = old.JoinedAt
	} else {
		if id.JoinedAt.IsZero() {
			id.JoinedAt = p.now()
		}
		p.metrics.presenceDelta(1)
	}
	members[id.ConnID] = id
	p.owner[id.ConnID] = id.TenantID

	p.log.Debug("presence.join", "tenant_id", id.TenantID, "conn_id", id.ConnID, "user_id", id.UserID)
	p.broadcastLocked(ctx, id.TenantID)
	return true
}

// Leave removes connID from tenant. Unknown ids are ignored, so repeated leaves are harmless.
// It reports whether an entry was removed.
func (p *PresenceTracker) Leave(ctx context.Context, tenant, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.removeLocked(tenant, connID) {
		return false
	}
	p.log.Debug("presence.leave", "tenant_id", tenant, "conn_id", connID)
	p.broadcastLocked(ctx, tenant)
	return true
}

// Disconnect removes connID from whichever tenant holds it.
func (p *PresenceTracker) Disconnect(ctx context.Context, connID string) bool {
	p.mu.Lock()
	tenant, ok := p.owner[connID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return p.Leave(ctx, tenant, connID)
}

// Snapshot returns the tenant's membership ordered by join time, then connection id.
func (p *PresenceTracker) Snapshot(tenant string) []v1.PresenceUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(tenant)
}

// Len returns the number of entries registered under tenant.
func (p *PresenceTracker) Len(tenant string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tenants[tenant])
}

func (p *PresenceTracker) removeLocked(tenant, connID string) bool {
	members := p.tenants[tenant]
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(p.tenants, tenant)
	}
	if p.owner[connID] == tenant {
		delete(p.owner, connID)
	}
	p.metrics.presenceDelta(-1)
	return true
}

func (p *PresenceTracker) snapshotLocked(tenant string) []v1.PresenceUser {
	members := p.tenants[tenant]
	out := make([]v1.PresenceUser, 0, len(members))
	for _, m := range members {
		out = append(out, m.PresenceUser())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].SocketID < out[j].SocketID
	})
	return out
}

func (p *PresenceTracker) broadcastLocked(ctx context.Context, tenant string) {
	if p.fanout == nil {
		return
	}
	payload, err := json.Marshal(v1.PresenceUpdate(p.snapshotLocked(tenant)))
	if err != nil {
		p.log.Error("presence.encode_failed", "tenant_id", tenant, "err", err)
		return
	}
	now := p.now()
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TagPresenceUpdate,
		ID:      NewEnvelopeID(now),
		TS:      now,
		Payload: payload,
	}
	if err := p.fanout.Publish(ctx, TenantRoom(tenant), env, ""); err != nil {
		p.log.Warn("presence.publish_failed", "tenant_id", tenant, "err", err)
	}
}

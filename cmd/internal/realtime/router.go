package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// ProtocolError is sent back to the originating connection as an error envelope.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string { return e.Code + ": " + e.Message }

func protoErr(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Router applies the routing policy of inbound events and publishes the resulting
// server events. It never touches room membership; delivery goes through Fanout.
type Router struct {
	log      *slog.Logger
	fanout   Fanout
	presence *PresenceTracker
	state    StateStore
	now      func() time.Time
}

// NewRouter constructs a Router. state may be nil, in which case sync snapshots carry presence only.
func NewRouter(log *slog.Logger, fanout Fanout, presence *PresenceTracker, state StateStore) *Router {
	return &Router{
		log:      log,
		fanout:   fanout,
		presence: presence,
		state:    state,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// target selects the room a derived event goes to.
type target uint8

const (
	toTenant target = iota
	toKitchen
)

type delivery struct {
	to target
	ev v1.Event
}

// Route handles one structurally valid envelope received from sess.
// A returned *ProtocolError is meant for the sender; nothing was broadcast in that case.
func (r *Router) Route(ctx context.Context, sess *Session, env v1.Envelope) error {
	if env.Type == v1.TypeAck || env.Type == v1.TypeError {
		return protoErr(v1.CodeUnsupported, "%s is server-to-client only", env.Type)
	}
	if v1.DirectionOf(env.Type) != v1.ClientToServer {
		return protoErr(v1.CodeUnsupported, "%s is server-to-client only", env.Type)
	}

	ev, err := v1.Decode(env.Type, env.Payload)
	if err != nil {
		return protoErr(v1.CodeBadPayload, "%v", err)
	}

	id := sess.Identity
	switch e := ev.(type) {
	case v1.PresenceJoin:
		if e.ID != "" && e.ID != id.UserID {
			return protoErr(v1.CodeInvalidInput, "presence id %q does not match the connection identity", e.ID)
		}
		if e.Name != "" {
			id.Name = e.Name
		}
		r.presence.JoinSession(ctx, sess, id)
		return nil

	case v1.PresenceLeave:
		r.presence.Leave(ctx, id.TenantID, id.ConnID)
		return nil

	case v1.OrderCreate:
		if e.OrderNumber <= 0 && e.ID == "" {
			return r.ack(sess, env.ID, v1.OrderCreateAck{Success: false, Error: "order requires an id or a positive orderNumber"})
		}
		r.deliver(ctx, id.TenantID, r.derive(v1.OrderCreated{Order: e.Order}), id.ConnID)
		order := e.Order
		return r.ack(sess, env.ID, v1.OrderCreateAck{Success: true, Order: &order})

	case v1.SyncRequest:
		snap, err := r.Snapshot(ctx, id.TenantID)
		if err != nil {
			r.log.Error("rt.sync.fail", "tenant_id", id.TenantID, "conn_id", id.ConnID, "err", err)
			return protoErr(v1.CodeInternal, "snapshot unavailable")
		}
		return r.ack(sess, env.ID, snap)

	case v1.Ping:
		return r.ack(sess, env.ID, struct{}{})
	}

	primary, ok := translate(ev)
	if !ok {
		return protoErr(v1.CodeUnsupported, "no route for %s", env.Type)
	}
	r.deliver(ctx, id.TenantID, r.derive(primary), id.ConnID)
	return nil
}

// Publish broadcasts a server event on behalf of a server-side collaborator (no sender to exclude).
// Derived events follow the same rules as for client-originated actions.
func (r *Router) Publish(ctx context.Context, tenant string, ev v1.Event) error {
	if ev == nil {
		return errors.New("publish: nil event")
	}
	if tenant == "" {
		return errors.New("publish: missing tenant")
	}
	if v1.DirectionOf(ev.Tag()) != v1.ServerToClient {
		return fmt.Errorf("publish: %s is not a server event", ev.Tag())
	}
	return r.deliver(ctx, tenant, r.derive(ev), "")
}

// Snapshot assembles the sync:request answer for tenant.
func (r *Router) Snapshot(ctx context.Context, tenant string) (v1.SyncSnapshot, error) {
	out := v1.SyncSnapshot{
		Timestamp:   r.now(),
		Orders:      []v1.Order{},
		Tables:      []v1.Table{},
		ActiveUsers: r.presence.Snapshot(tenant),
	}
	if r.state == nil {
		return out, nil
	}
	st, err := r.state.Snapshot(ctx, tenant)
	if err != nil {
		return v1.SyncSnapshot{}, err
	}
	if st.Orders != nil {
		out.Orders = st.Orders
	}
	if st.Tables != nil {
		out.Tables = st.Tables
	}
	return out, nil
}

// translate maps a client action to the server event announcing it.
func translate(ev v1.Event) (v1.Event, bool) {
	switch e := ev.(type) {
	case v1.OrderUpdateStatus:
		return v1.OrderStatusChanged{OrderID: e.OrderID, Status: e.Status}, true
	case v1.OrderCancel:
		return v1.OrderCancelled(e), true
	case v1.TableOccupy:
		return v1.TableOccupied{TableID: e.TableID, GuestCount: e.GuestCount}, true
	case v1.TableClear:
		return v1.TableCleared(e), true
	case v1.TableReserve:
		return v1.TableReserved{TableID: e.TableID, Reservation: e.Reservation}, true
	case v1.TableUpdatePosition:
		return v1.TableUpdated{TableID: e.TableID, Position: e.Position}, true
	case v1.KitchenStartPreparing:
		return v1.OrderStatusChanged{OrderID: string(e), Status: v1.StatusPreparing}, true
	case v1.KitchenMarkReady:
		return v1.KitchenOrderReady(e), true
	case v1.KitchenBumpOrder:
		return v1.OrderStatusChanged{OrderID: string(e), Status: v1.StatusCompleted}, true
	}
	return nil, false
}

// derive expands a server event into everything that must be published with it.
func (r *Router) derive(primary v1.Event) []delivery {
	out := []delivery{{toTenant, primary}}

	switch e := primary.(type) {
	case v1.OrderCreated:
		out = append(out,
			delivery{toKitchen, v1.KitchenNewOrder{Order: e.Order}},
			delivery{toTenant, notify(v1.NotifyInfo, fmt.Sprintf("New order #%d", e.OrderNumber), map[string]any{"orderId": e.ID, "orderNumber": e.OrderNumber})},
		)
	case v1.OrderStatusChanged:
		if e.Status == v1.StatusReady {
			out = append(out,
				delivery{toTenant, v1.KitchenOrderReady(e.OrderID)},
				orderReadyNotice(e.OrderID),
			)
		}
	case v1.KitchenOrderReady:
		out = append(out, orderReadyNotice(string(e)))
	case v1.TableOccupied:
		out = append(out, delivery{toTenant, notify(v1.NotifyInfo,
			fmt.Sprintf("Table %s occupied (%d guests)", e.TableID, e.GuestCount),
			map[string]any{"tableId": e.TableID, "guestCount": e.GuestCount})})
	}
	return out
}

func orderReadyNotice(orderID string) delivery {
	return delivery{toTenant, notify(v1.NotifySuccess, fmt.Sprintf("Order %s is ready", orderID), map[string]any{"orderId": orderID})}
}

func notify(typ v1.NotificationType, msg string, data map[string]any) v1.Notification {
	n := v1.Notification{Type: typ, Message: msg}
	if data != nil {
		n.Data, _ = json.Marshal(data)
	}
	return n
}

// deliver publishes ds in order, excluding the connection except from every room.
func (r *Router) deliver(ctx context.Context, tenant string, ds []delivery, except string) error {
	var firstErr error
	for _, d := range ds {
		room := TenantRoom(tenant)
		if d.to == toKitchen {
			room = RoleRoom(tenant, v1.RoleKitchen)
		}

		payload, err := v1.Encode(d.ev)
		if err != nil {
			r.log.Error("rt.route.encode_fail", "type", d.ev.Tag(), "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		now := r.now()
		env := v1.Envelope{V: v1.Version, Type: d.ev.Tag(), ID: NewEnvelopeID(now), TS: now, Payload: payload}
		if err := r.fanout.Publish(ctx, room, env, except); err != nil {
			r.log.Warn("rt.route.publish_fail", "room", room, "type", env.Type, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}

		if r.state != nil {
			if err := r.state.Apply(ctx, tenant, d.ev); err != nil {
				r.log.Warn("rt.state.apply_fail", "tenant_id", tenant, "type", env.Type, "err", err)
			}
		}
	}
	return firstErr
}

// ack answers request reqID on sess only.
func (r *Router) ack(sess *Session, reqID string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return protoErr(v1.CodeInternal, "encode ack: %v", err)
	}
	now := r.now()
	env := v1.Envelope{V: v1.Version, Type: v1.TypeAck, ID: NewEnvelopeID(now), ReplyTo: reqID, TS: now, Payload: b}
	if !sess.Enqueue(env) {
		r.log.Warn("rt.ack.dropped", "conn_id", sess.ID(), "reply_to", reqID)
	}
	return nil
}

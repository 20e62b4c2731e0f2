package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

func sortedTypes(envs []v1.Envelope) []string {
	out := types(envs)
	sort.Strings(out)
	return out
}

func TestRouter_RoutingTableExcludesSender(t *testing.T) {
	tests := []struct {
		tag         string
		payload     any
		wantPeer    []string
		wantKitchen []string
	}{
		{
			tag:         v1.TagOrderCreate,
			payload:     map[string]any{"id": "o1", "orderNumber": 42, "items": []any{}},
			wantPeer:    []string{v1.TagNotification, v1.TagOrderCreated},
			wantKitchen: []string{v1.TagKitchenNewOrder, v1.TagNotification, v1.TagOrderCreated},
		},
		{
			tag:      v1.TagOrderUpdateStatus,
			payload:  map[string]any{"orderId": "o1", "status": "PREPARING"},
			wantPeer: []string{v1.TagOrderStatusChanged},
		},
		{
			tag:      v1.TagOrderUpdateStatus,
			payload:  map[string]any{"orderId": "o1", "status": "READY"},
			wantPeer: []string{v1.TagKitchenOrderReady, v1.TagNotification, v1.TagOrderStatusChanged},
		},
		{
			tag:      v1.TagOrderUpdateStatus,
			payload:  map[string]any{"orderId": "o1", "status": "ready"},
			wantPeer: []string{v1.TagKitchenOrderReady, v1.TagNotification, v1.TagOrderStatusChanged},
		},
		{tag: v1.TagOrderCancel, payload: "o1", wantPeer: []string{v1.TagOrderCancelled}},
		{
			tag:      v1.TagTableOccupy,
			payload:  map[string]any{"tableId": "t1", "guestCount": 4},
			wantPeer: []string{v1.TagNotification, v1.TagTableOccupied},
		},
		{tag: v1.TagTableClear, payload: "t1", wantPeer: []string{v1.TagTableCleared}},
		{
			tag:      v1.TagTableReserve,
			payload:  map[string]any{"tableId": "t1", "reservation": map[string]any{"customerName": "Lee", "partySize": 2}},
			wantPeer: []string{v1.TagTableReserved},
		},
		{
			tag:      v1.TagTableUpdatePosition,
			payload:  map[string]any{"tableId": "t1", "position": map[string]any{"x": 10, "y": 20}},
			wantPeer: []string{v1.TagTableUpdated},
		},
		{tag: v1.TagKitchenStartPreparing, payload: "o1", wantPeer: []string{v1.TagOrderStatusChanged}},
		{tag: v1.TagKitchenMarkReady, payload: "o1", wantPeer: []string{v1.TagKitchenOrderReady, v1.TagNotification}},
		{tag: v1.TagKitchenBumpOrder, payload: "o1", wantPeer: []string{v1.TagOrderStatusChanged}},
	}

	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			b := newTestBroker()
			sender := b.connect(t, "c1", "u1", "r1", v1.RoleWaiter)
			peer := b.connect(t, "c2", "u2", "r1", v1.RoleCashier)
			kitchen := b.connect(t, "c3", "u3", "r1", v1.RoleKitchen)
			foreign := b.connect(t, "c4", "u4", "r2", v1.RoleKitchen)

			if err := b.router.Route(context.Background(), sender, newEnv(t, tc.tag, tc.payload)); err != nil {
				t.Fatalf("Route: %v", err)
			}

			for _, e := range drain(sender) {
				if e.Type != v1.TypeAck {
					t.Fatalf("sender must not receive its own broadcast, got %s", e.Type)
				}
			}
			if got := sortedTypes(drain(peer)); !reflect.DeepEqual(got, tc.wantPeer) {
				t.Fatalf("peer got %v, want %v", got, tc.wantPeer)
			}
			wantKitchen := tc.wantKitchen
			if wantKitchen == nil {
				wantKitchen = tc.wantPeer
			}
			if got := sortedTypes(drain(kitchen)); !reflect.DeepEqual(got, wantKitchen) {
				t.Fatalf("kitchen got %v, want %v", got, wantKitchen)
			}
			if got := drain(foreign); len(got) != 0 {
				t.Fatalf("other tenant received %v", types(got))
			}
		})
	}
}

func TestRouter_OrderCreateAckAndIdenticalPayload(t *testing.T) {
	b := newTestBroker()
	sender := b.connect(t, "c1", "u1", "r1", v1.RoleCashier)
	kitchen := b.connect(t, "c2", "u2", "r1", v1.RoleKitchen)

	order := json.RawMessage(`{"id":"o42","orderNumber":42,"items":[{"name":"Pho","quantity":1,"price":9.5}],"loyaltyCard":"X-1"}`)
	req := v1.Envelope{V: v1.Version, Type: v1.TagOrderCreate, ID: "req-1", Payload: order}

	if err := b.router.Route(context.Background(), sender, req); err != nil {
		t.Fatalf("Route: %v", err)
	}

	ack := findType(t, drain(sender), v1.TypeAck)
	if ack.ReplyTo != "req-1" {
		t.Fatalf("ack reply_to=%q", ack.ReplyTo)
	}
	var ap struct {
		Success bool            `json:"success"`
		Order   json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(ack.Payload, &ap); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ap.Success || string(ap.Order) != string(order) {
		t.Fatalf("unexpected ack: %s", ack.Payload)
	}

	envs := drain(kitchen)
	for _, typ := range []string{v1.TagOrderCreated, v1.TagKitchenNewOrder} {
		if got := findType(t, envs, typ).Payload; string(got) != string(order) {
			t.Fatalf("%s payload differs:\n got %s\nwant %s", typ, got, order)
		}
	}
}

func TestRouter_OrderCreateSemanticFailureIsAckedNotBroadcast(t *testing.T) {
	b := newTestBroker()
	sender := b.connect(t, "c1", "u1", "r1", v1.RoleCashier)
	peer := b.connect(t, "c2", "u2", "r1", v1.RoleWaiter)

	if err := b.router.Route(context.Background(), sender, newEnv(t, v1.TagOrderCreate, map[string]any{"items": []any{}})); err != nil {
		t.Fatalf("Route: %v", err)
	}

	ack := findType(t, drain(sender), v1.TypeAck)
	var ap v1.OrderCreateAck
	if err := json.Unmarshal(ack.Payload, &ap); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ap.Success || ap.Error == "" || ap.Order != nil {
		t.Fatalf("expected failed ack, got %+v", ap)
	}
	if got := drain(peer); len(got) != 0 {
		t.Fatalf("failed create must not broadcast, got %v", types(got))
	}
}

func TestRouter_ReadySideEffects(t *testing.T) {
	b := newTestBroker()
	sender := b.connect(t, "c1", "u1", "r1", v1.RoleKitchen)
	peer := b.connect(t, "c2", "u2", "r1", v1.RoleWaiter)

	env := newEnv(t, v1.TagOrderUpdateStatus, map[string]any{"orderId": "o1", "status": "READY"})
	if err := b.router.Route(context.Background(), sender, env); err != nil {
		t.Fatalf("Route: %v", err)
	}

	envs := drain(peer)
	var sc v1.OrderStatusChanged
	if err := json.Unmarshal(findType(t, envs, v1.TagOrderStatusChanged).Payload, &sc); err != nil {
		t.Fatalf("decode statusChanged: %v", err)
	}
	if sc.OrderID != "o1" || sc.Status != v1.StatusReady {
		t.Fatalf("unexpected statusChanged: %+v", sc)
	}
	if got := string(findType(t, envs, v1.TagKitchenOrderReady).Payload); got != `"o1"` {
		t.Fatalf("kitchen:orderReady payload=%s", got)
	}
	if n := countType(envs, v1.TagNotification); n != 1 {
		t.Fatalf("want 1 notification, got %d", n)
	}
}

func TestRouter_SyncAndPingAreUnicastAcks(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()
	sender := b.connect(t, "c1", "u1", "r1", v1.RoleManager)
	peer := b.connect(t, "c2", "u2", "r1", v1.RoleWaiter)

	b.presence.Join(ctx, sender.Identity)
	if err := b.router.Route(ctx, peer, newEnv(t, v1.TagOrderCreate, map[string]any{"id": "o1", "orderNumber": 1})); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := b.router.Route(ctx, peer, newEnv(t, v1.TagTableOccupy, map[string]any{"tableId": "t9", "guestCount": 3})); err != nil {
		t.Fatalf("seed table: %v", err)
	}
	drain(sender)
	drain(peer)

	sync := newEnv(t, v1.TagSyncRequest, nil)
	if err := b.router.Route(ctx, sender, sync); err != nil {
		t.Fatalf("sync: %v", err)
	}
	ack := findType(t, drain(sender), v1.TypeAck)
	if ack.ReplyTo != sync.ID {
		t.Fatalf("ack reply_to=%q want %q", ack.ReplyTo, sync.ID)
	}
	var snap v1.SyncSnapshot
	if err := json.Unmarshal(ack.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].ID != "o1" {
		t.Fatalf("unexpected orders: %+v", snap.Orders)
	}
	if len(snap.Tables) != 1 || snap.Tables[0].Status != v1.TableStatusOccupied || snap.Tables[0].GuestCount != 3 {
		t.Fatalf("unexpected tables: %+v", snap.Tables)
	}
	if len(snap.ActiveUsers) != 1 || snap.ActiveUsers[0].SocketID != "c1" {
		t.Fatalf("unexpected active users: %+v", snap.ActiveUsers)
	}

	ping := newEnv(t, v1.TagPing, nil)
	if err := b.router.Route(ctx, sender, ping); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong := findType(t, drain(sender), v1.TypeAck); pong.ReplyTo != ping.ID || string(pong.Payload) != "{}" {
		t.Fatalf("unexpected ping ack: %+v", pong)
	}
	if got := drain(peer); len(got) != 0 {
		t.Fatalf("sync/ping must not broadcast, got %v", types(got))
	}
}

func TestRouter_RejectsServerTagsAndBadPayloads(t *testing.T) {
	b := newTestBroker()
	sender := b.connect(t, "c1", "u1", "r1", v1.RoleWaiter)

	cases := []v1.Envelope{
		newEnv(t, v1.TagOrderCreated, map[string]any{"id": "o1", "orderNumber": 1}),
		newEnv(t, v1.TagOrderUpdateStatus, map[string]any{"orderId": "o1", "status": "EATEN"}),
		newEnv(t, v1.TagPresenceJoin, map[string]any{"id": "someone-else", "name": "x", "role": "ADMIN"}),
	}
	wantCodes := []string{v1.CodeUnsupported, v1.CodeBadPayload, v1.CodeInvalidInput}

	for i, env := range cases {
		err := b.router.Route(context.Background(), sender, env)
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("case %d (%s): expected ProtocolError, got %v", i, env.Type, err)
		}
		if pe.Code != wantCodes[i] {
			t.Fatalf("case %d (%s): code=%s want %s", i, env.Type, pe.Code, wantCodes[i])
		}
	}
}

func TestRouter_PublishHasNoSenderAndDerives(t *testing.T) {
	b := newTestBroker()
	waiter := b.connect(t, "c1", "u1", "r1", v1.RoleWaiter)
	kitchen := b.connect(t, "c2", "u2", "r1", v1.RoleKitchen)

	var created v1.OrderCreated
	if err := json.Unmarshal([]byte(`{"id":"o7","orderNumber":7}`), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := b.router.Publish(context.Background(), "r1", created); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := sortedTypes(drain(waiter)); !reflect.DeepEqual(got, []string{v1.TagNotification, v1.TagOrderCreated}) {
		t.Fatalf("waiter got %v", got)
	}
	if got := sortedTypes(drain(kitchen)); !reflect.DeepEqual(got, []string{v1.TagKitchenNewOrder, v1.TagNotification, v1.TagOrderCreated}) {
		t.Fatalf("kitchen got %v", got)
	}

	if err := b.router.Publish(context.Background(), "r1", v1.Ping{}); err == nil {
		t.Fatalf("publishing a client event must fail")
	}
}

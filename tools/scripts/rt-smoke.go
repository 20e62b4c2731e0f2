// Package main provides a CI-friendly smoke test for the POS realtime server.
//
// It drives two terminals (a waiter and a kitchen display) through the client library and validates:
//   - token handshake and transport negotiation
//   - order:create ack and kitchen:newOrder fanout to the kitchen role
//   - kitchen:markReady -> kitchen:orderReady + notification to the floor
//   - latency probe
//   - reconnect -> exactly one sync snapshot containing the order
//
// Tokens are minted beforehand, e.g.
//
//	posrt token mint --user smoke-w1 --role WAITER --restaurant smoke-r1
//	posrt token mint --user smoke-k1 --role KITCHEN --restaurant smoke-r1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
	"github.com/FrederickSamanga/sirkupPOS-sub001/shared/realtime/client"
)

type terminal struct {
	name string
	m    *client.Manager

	newOrders chan v1.KitchenNewOrder
	ready     chan v1.KitchenOrderReady
	notes     chan v1.Notification
	snaps     chan v1.SyncSnapshot
}

func main() {
	var (
		baseURL    = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin     = flag.String("origin", "http://localhost", "Origin header to send")
		restaurant = flag.String("restaurant", "smoke-r1", "Restaurant id (tenant)")
		transport  = flag.String("transport", client.TransportAuto, "Transport: auto, ws or poll")
		waiterTok  = flag.String("waiter-token", os.Getenv("POS_SMOKE_WAITER_TOKEN"), "Access token of the waiter terminal")
		waiterID   = flag.String("waiter-user", "smoke-w1", "User id inside -waiter-token")
		kitchenTok = flag.String("kitchen-token", os.Getenv("POS_SMOKE_KITCHEN_TOKEN"), "Access token of the kitchen terminal")
		kitchenID  = flag.String("kitchen-user", "smoke-k1", "User id inside -kitchen-token")
		checkState = flag.Bool("check-state", true, "Require the resync snapshot to contain the order (in-memory state)")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	if *waiterTok == "" || *kitchenTok == "" {
		fatalf("-waiter-token and -kitchen-token are required")
	}

	root := context.Background()
	mk := func(name, userID, tok string, role v1.Role) *terminal {
		h := http.Header{}
		if strings.TrimSpace(*origin) != "" {
			h.Set("Origin", *origin)
		}
		return newTerminal(name, client.Config{
			URL:          *baseURL,
			Token:        tok,
			Identity:     client.Identity{UserID: userID, Name: name, Role: role, RestaurantID: *restaurant},
			Header:       h,
			Transport:    *transport,
			PingInterval: time.Second,
			AckTimeout:   *timeout,
		})
	}

	waiter := mk("waiter", *waiterID, *waiterTok, v1.RoleWaiter)
	defer waiter.m.Close()
	kitchen := mk("kitchen", *kitchenID, *kitchenTok, v1.RoleKitchen)
	defer kitchen.m.Close()

	mustConnect(root, waiter, *timeout)
	mustConnect(root, kitchen, *timeout)
	if *verbose {
		fmt.Printf("connected: waiter and kitchen restaurant=%s transport=%s\n", *restaurant, *transport)
	}

	orderID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	ctx, cancel := context.WithTimeout(root, *timeout)
	ack, err := waiter.m.CreateOrder(ctx, v1.Order{ID: orderID, OrderNumber: 1, Status: v1.StatusPending, TableID: "T1"})
	cancel()
	if err != nil {
		fatalf("order:create: %v", err)
	}
	if !ack.Success || ack.Order == nil || ack.Order.ID != orderID {
		fatalf("order:create ack mismatch: %+v", ack)
	}

	no := mustRecv(kitchen.newOrders, *timeout, "kitchen:newOrder")
	if no.ID != orderID {
		fatalf("kitchen:newOrder id=%q want %q", no.ID, orderID)
	}

	ctx, cancel = context.WithTimeout(root, *timeout)
	err = kitchen.m.Emit(ctx, v1.KitchenMarkReady(orderID))
	cancel()
	if err != nil {
		fatalf("kitchen:markReady: %v", err)
	}
	if got := mustRecv(waiter.ready, *timeout, "kitchen:orderReady"); string(got) != orderID {
		fatalf("kitchen:orderReady id=%q want %q", got, orderID)
	}
	note := mustRecv(waiter.notes, *timeout, "notification")
	if *verbose {
		fmt.Printf("notification: %s %q\n", note.Type, note.Message)
	}

	rtt := mustLatency(waiter.m, *timeout)

	waiter.m.Reconnect()
	snap := mustRecv(waiter.snaps, *timeout, "sync snapshot")
	found := false
	for _, o := range snap.Orders {
		if o.ID == orderID {
			found = true
			if o.Status != v1.StatusReady {
				fatalf("snapshot order status=%s want READY", o.Status)
			}
		}
	}
	if *checkState && !found {
		fatalf("snapshot missing order %s (%d orders)", orderID, len(snap.Orders))
	}
	select {
	case <-waiter.snaps:
		fatalf("more than one sync snapshot after reconnect")
	case <-time.After(750 * time.Millisecond):
	}

	fmt.Printf("OK: restaurant=%s order_id=%s rtt=%s active_users=%d\n", *restaurant, orderID, rtt, len(snap.ActiveUsers))
}

func newTerminal(name string, cfg client.Config) *terminal {
	t := &terminal{
		name:      name,
		m:         client.New(cfg),
		newOrders: make(chan v1.KitchenNewOrder, 8),
		ready:     make(chan v1.KitchenOrderReady, 8),
		notes:     make(chan v1.Notification, 8),
		snaps:     make(chan v1.SyncSnapshot, 4),
	}
	client.OnEvent(t.m, func(ev v1.KitchenNewOrder) { t.newOrders <- ev })
	client.OnEvent(t.m, func(ev v1.KitchenOrderReady) { t.ready <- ev })
	client.OnEvent(t.m, func(ev v1.Notification) {
		if ev.Type == v1.NotifySuccess {
			t.notes <- ev
		}
	})
	t.m.OnSyncSnapshot(func(s v1.SyncSnapshot) { t.snaps <- s })
	return t
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, t *terminal, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := t.m.Connect(ctx); err != nil {
		fatalf("connect %s: %v", t.name, err)
	}
}

func mustRecv[T any](ch <-chan T, timeout time.Duration, what string) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		fatalf("timeout waiting for %s", what)
		panic("unreachable")
	}
}

func mustLatency(m *client.Manager, timeout time.Duration) time.Duration {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if rtt, ok := m.Latency(); ok {
			return rtt
		}
		time.Sleep(50 * time.Millisecond)
	}
	fatalf("no latency sample within %s", timeout)
	return 0
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

const defaultStateMaxOrders = 500

// MemoryState is an in-process last-write-wins projection of orders and tables per tenant.
// Each tenant keeps at most maxOrders orders; completed and cancelled orders are evicted first.
type MemoryState struct {
	maxOrders int
	now       func() time.Time

	mu      sync.Mutex
	tenants map[string]*tenantState
}

type tenantState struct {
	seq    uint64
	orders map[string]*orderEntry
	tables map[string]v1.Table
}

type orderEntry struct {
	order v1.Order
	seq   uint64
}

// NewMemoryState constructs an empty projection (maxOrders <= 0 uses the default bound).
func NewMemoryState(maxOrders int) *MemoryState {
	if maxOrders <= 0 {
		maxOrders = defaultStateMaxOrders
	}
	return &MemoryState{
		maxOrders: maxOrders,
		now:       func() time.Time { return time.Now().UTC() },
		tenants:   make(map[string]*tenantState),
	}
}

// Snapshot implements StateStore. Orders come in first-seen order, tables sorted by id.
func (m *MemoryState) Snapshot(_ context.Context, tenant string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{Orders: []v1.Order{}, Tables: []v1.Table{}}
	ts := m.tenants[tenant]
	if ts == nil {
		return st, nil
	}

	entries := make([]*orderEntry, 0, len(ts.orders))
	for _, e := range ts.orders {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for _, e := range entries {
		st.Orders = append(st.Orders, e.order)
	}

	for _, t := range ts.tables {
		st.Tables = append(st.Tables, t)
	}
	sort.Slice(st.Tables, func(i, j int) bool { return st.Tables[i].ID < st.Tables[j].ID })
	return st, nil
}

// Apply implements StateStore. Events that do not touch orders or tables are ignored.
func (m *MemoryState) Apply(_ context.Context, tenant string, ev v1.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenants[tenant]
	if ts == nil {
		ts = &tenantState{orders: make(map[string]*orderEntry), tables: make(map[string]v1.Table)}
		m.tenants[tenant] = ts
	}

	switch e := ev.(type) {
	case v1.OrderCreated:
		m.putOrder(ts, e.Order)
	case v1.KitchenNewOrder:
		m.putOrder(ts, e.Order)
	case v1.OrderStatusChanged:
		ts.setStatus(e.OrderID, e.Status)
	case v1.OrderCancelled:
		ts.setStatus(string(e), v1.StatusCancelled)
	case v1.KitchenOrderReady:
		ts.setStatus(string(e), v1.StatusReady)

	case v1.TableOccupied:
		t := ts.table(e.TableID)
		t.Status = v1.TableStatusOccupied
		t.GuestCount = e.GuestCount
		m.putTable(ts, t)
	case v1.TableCleared:
		t := ts.table(string(e))
		t.Status = v1.TableStatusAvailable
		t.GuestCount = 0
		t.Reservation = nil
		m.putTable(ts, t)
	case v1.TableReserved:
		t := ts.table(e.TableID)
		t.Status = v1.TableStatusReserved
		res := e.Reservation
		t.Reservation = &res
		m.putTable(ts, t)
	case v1.TableUpdated:
		t := ts.table(e.TableID)
		pos := e.Position
		t.Position = &pos
		m.putTable(ts, t)
	}
	return nil
}

func (m *MemoryState) putOrder(ts *tenantState, o v1.Order) {
	key := o.Key()
	if e, ok := ts.orders[key]; ok {
		e.order = o
		return
	}
	ts.seq++
	ts.orders[key] = &orderEntry{order: o, seq: ts.seq}
	for len(ts.orders) > m.maxOrders {
		ts.evictOne()
	}
}

func (m *MemoryState) putTable(ts *tenantState, t v1.Table) {
	t.UpdatedAt = m.now()
	if t.Status == "" {
		t.Status = v1.TableStatusAvailable
	}
	ts.tables[t.ID] = t
}

func (ts *tenantState) setStatus(orderID string, status v1.OrderStatus) {
	if e, ok := ts.orders[orderID]; ok {
		e.order = e.order.WithStatus(status)
	}
}

func (ts *tenantState) table(id string) v1.Table {
	if t, ok := ts.tables[id]; ok {
		return t
	}
	return v1.Table{ID: id, Status: v1.TableStatusAvailable}
}

// evictOne drops the oldest terminal order, or the oldest order when none is terminal.
func (ts *tenantState) evictOne() {
	var victim string
	var victimSeq uint64
	var terminal bool
	for k, e := range ts.orders {
		t := e.order.Status.Terminal()
		switch {
		case victim == "":
		case t && !terminal:
		case t == terminal && e.seq < victimSeq:
		default:
			continue
		}
		victim, victimSeq, terminal = k, e.seq, t
	}
	delete(ts.orders, victim)
}

package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event tags (wire-stable).
const (
	TagPresenceJoin   = "presence:join"
	TagPresenceLeave  = "presence:leave"
	TagPresenceUpdate = "presence:update"

	TagOrderCreate        = "order:create"
	TagOrderCreated       = "order:created"
	TagOrderUpdateStatus  = "order:updateStatus"
	TagOrderStatusChanged = "order:statusChanged"
	TagOrderCancel        = "order:cancel"
	TagOrderCancelled     = "order:cancelled"

	TagTableOccupy         = "table:occupy"
	TagTableOccupied       = "table:occupied"
	TagTableClear          = "table:clear"
	TagTableCleared        = "table:cleared"
	TagTableReserve        = "table:reserve"
	TagTableReserved       = "table:reserved"
	TagTableUpdatePosition = "table:updatePosition"
	TagTableUpdated        = "table:updated"

	TagKitchenStartPreparing = "kitchen:startPreparing"
	TagKitchenMarkReady      = "kitchen:markReady"
	TagKitchenBumpOrder      = "kitchen:bumpOrder"
	TagKitchenNewOrder       = "kitchen:newOrder"
	TagKitchenOrderReady     = "kitchen:orderReady"
	TagKitchenItemPreparing  = "kitchen:itemPreparing"

	TagNotification = "notification"
	TagSyncRequest  = "sync:request"
	TagPing         = "ping"
)

var (
	// ErrUnknownTag is returned for tags outside the event vocabulary.
	ErrUnknownTag = errors.New("unknown event tag")
	// ErrBadPayload is returned when a payload does not match its tag's shape.
	ErrBadPayload = errors.New("bad event payload")
)

// Direction tells which side emits an event.
type Direction uint8

const (
	ClientToServer Direction = iota + 1
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "c2s"
	case ServerToClient:
		return "s2c"
	default:
		return "unknown"
	}
}

// Event is the closed set of realtime events. Only types in this package implement it.
type Event interface {
	Tag() string
	isEvent()
}

type catalogueEntry struct {
	dir    Direction
	decode func(json.RawMessage) (Event, error)
}

var catalogue = map[string]catalogueEntry{
	TagPresenceJoin:   {ClientToServer, decodeAs[PresenceJoin]},
	TagPresenceLeave:  {ClientToServer, decodeAs[PresenceLeave]},
	TagPresenceUpdate: {ServerToClient, decodeAs[PresenceUpdate]},

	TagOrderCreate:        {ClientToServer, decodeAs[OrderCreate]},
	TagOrderCreated:       {ServerToClient, decodeAs[OrderCreated]},
	TagOrderUpdateStatus:  {ClientToServer, decodeAs[OrderUpdateStatus]},
	TagOrderStatusChanged: {ServerToClient, decodeAs[OrderStatusChanged]},
	TagOrderCancel:        {ClientToServer, decodeAs[OrderCancel]},
	TagOrderCancelled:     {ServerToClient, decodeAs[OrderCancelled]},

	TagTableOccupy:         {ClientToServer, decodeAs[TableOccupy]},
	TagTableOccupied:       {ServerToClient, decodeAs[TableOccupied]},
	TagTableClear:          {ClientToServer, decodeAs[TableClear]},
	TagTableCleared:        {ServerToClient, decodeAs[TableCleared]},
	TagTableReserve:        {ClientToServer, decodeAs[TableReserve]},
	TagTableReserved:       {ServerToClient, decodeAs[TableReserved]},
	TagTableUpdatePosition: {ClientToServer, decodeAs[TableUpdatePosition]},
	TagTableUpdated:        {ServerToClient, decodeAs[TableUpdated]},

	TagKitchenStartPreparing: {ClientToServer, decodeAs[KitchenStartPreparing]},
	TagKitchenMarkReady:      {ClientToServer, decodeAs[KitchenMarkReady]},
	TagKitchenBumpOrder:      {ClientToServer, decodeAs[KitchenBumpOrder]},
	TagKitchenNewOrder:       {ServerToClient, decodeAs[KitchenNewOrder]},
	TagKitchenOrderReady:     {ServerToClient, decodeAs[KitchenOrderReady]},
	TagKitchenItemPreparing:  {ServerToClient, decodeAs[KitchenItemPreparing]},

	TagNotification: {ServerToClient, decodeAs[Notification]},
	TagSyncRequest:  {ClientToServer, decodeAs[SyncRequest]},
	TagPing:         {ClientToServer, decodeAs[Ping]},
}

// Known reports whether tag belongs to the event vocabulary.
func Known(tag string) bool {
	_, ok := catalogue[tag]
	return ok
}

// DirectionOf returns the emitting side of tag, or 0 for unknown tags.
func DirectionOf(tag string) Direction {
	return catalogue[tag].dir
}

// Decode parses raw as the payload shape fixed for tag.
func Decode(tag string, raw json.RawMessage) (Event, error) {
	e, ok := catalogue[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return e.decode(raw)
}

// Encode marshals the payload of ev.
func Encode(ev Event) (json.RawMessage, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	return json.Marshal(ev)
}

type validator interface{ validate() error }

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, v.Tag(), err)
		}
	}
	if vv, ok := any(v).(validator); ok {
		if err := vv.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, v.Tag(), err)
		}
	}
	return v, nil
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("missing %s", field)
	}
	return nil
}

// ---- domain objects ----

// OrderItem is one line of an order.
type OrderItem struct {
	ID         string  `json:"id,omitempty"`
	MenuItemID string  `json:"menuItemId,omitempty"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	Notes      string  `json:"notes,omitempty"`
}

// Order is the order object exchanged by order and kitchen events.
//
// A decoded Order keeps its original JSON and re-encodes to it unchanged,
// so fields unknown to this package survive a server round trip.
type Order struct {
	ID          string      `json:"id,omitempty"`
	OrderNumber int         `json:"orderNumber"`
	Status      OrderStatus `json:"status,omitempty"`
	Type        string      `json:"type,omitempty"`
	TableID     string      `json:"tableId,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
	Total       float64     `json:"total,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   *time.Time  `json:"createdAt,omitempty"`

	raw json.RawMessage
}

type orderFields Order

// UnmarshalJSON decodes the known fields and remembers the original document.
func (o *Order) UnmarshalJSON(b []byte) error {
	var f orderFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*o = Order(f)
	o.raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON re-emits the original document when the order was decoded from JSON.
func (o Order) MarshalJSON() ([]byte, error) {
	if len(o.raw) > 0 {
		return o.raw, nil
	}
	return json.Marshal(orderFields(o))
}

// Key is the projection key of the order: its id, or its order number when no id was assigned yet.
func (o Order) Key() string {
	if id := strings.TrimSpace(o.ID); id != "" {
		return id
	}
	return fmt.Sprintf("#%d", o.OrderNumber)
}

// WithStatus returns a copy of o carrying status. The copy no longer re-emits the original document.
func (o Order) WithStatus(status OrderStatus) Order {
	cp := o
	cp.Status = status
	cp.raw = nil
	return cp
}

// TableStatus is the occupancy state of a table.
type TableStatus string

const (
	TableStatusAvailable TableStatus = "AVAILABLE"
	TableStatusOccupied  TableStatus = "OCCUPIED"
	TableStatusReserved  TableStatus = "RESERVED"
)

// Position is a table's location on the floor plan.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Reservation describes a pending table reservation.
type Reservation struct {
	CustomerName string     `json:"customerName,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	PartySize    int        `json:"partySize,omitempty"`
	Time         *time.Time `json:"time,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Table is the projected state of one table.
type Table struct {
	ID          string       `json:"id"`
	Status      TableStatus  `json:"status"`
	GuestCount  int          `json:"guestCount,omitempty"`
	Position    *Position    `json:"position,omitempty"`
	Reservation *Reservation `json:"reservation,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// PresenceUser is one entry of a presence snapshot.
type PresenceUser struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	SocketID string    `json:"socketId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ---- presence ----

// PresenceJoin announces the connection's identity (client -> server).
type PresenceJoin struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// PresenceLeave removes the connection from presence without disconnecting (client -> server).
type PresenceLeave struct{}

// PresenceUpdate is the full, ordered membership of a tenant room (server -> client).
type PresenceUpdate []PresenceUser

// ---- orders ----

// OrderCreate announces a created order and expects an OrderCreateAck (client -> server).
type OrderCreate struct{ Order }

// OrderCreated is broadcast for a created order (server -> client).
type OrderCreated struct{ Order }

// OrderCreateAck answers OrderCreate. Error is set when Success is false.
type OrderCreateAck struct {
	Success bool   `json:"success"`
	Order   *Order `json:"order,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OrderUpdateStatus requests a status transition (client -> server).
type OrderUpdateStatus struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
}

func (p OrderUpdateStatus) validate() error {
	if err := requireID("orderId", p.OrderID); err != nil {
		return err
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", p.Status)
	}
	return nil
}

// OrderStatusChanged is broadcast after a status transition (server -> client).
type OrderStatusChanged struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
}

// OrderCancel carries the id of the order to cancel (client -> server).
type OrderCancel string

func (p OrderCancel) validate() error { return requireID("orderId", string(p)) }

// OrderCancelled carries the id of a cancelled order (server -> client).
type OrderCancelled string

// ---- tables ----

// TableOccupy seats guests at a table (client -> server).
type TableOccupy struct {
	TableID    string `json:"tableId"`
	GuestCount int    `json:"guestCount"`
}

func (p TableOccupy) validate() error {
	if err := requireID("tableId", p.TableID); err != nil {
		return err
	}
	if p.GuestCount < 0 {
		return errors.New("negative guestCount")
	}
	return nil
}

// TableOccupied is broadcast when a table is seated (server -> client).
type TableOccupied struct {
	TableID    string `json:"tableId"`
	GuestCount int    `json:"guestCount"`
}

// TableClear carries the id of the table to clear (client -> server).
type TableClear string

func (p TableClear) validate() error { return requireID("tableId", string(p)) }

// TableCleared carries the id of a cleared table (server -> client).
type TableCleared string

// TableReserve reserves a table (client -> server).
type TableReserve struct {
	TableID     string      `json:"tableId"`
	Reservation Reservation `json:"reservation"`
}

func (p TableReserve) validate() error { return requireID("tableId", p.TableID) }

// TableReserved is broadcast when a table is reserved (server -> client).
type TableReserved struct {
	TableID     string      `json:"tableId"`
	Reservation Reservation `json:"reservation"`
}

// TableUpdatePosition moves a table on the floor plan (client -> server).
type TableUpdatePosition struct {
	TableID  string   `json:"tableId"`
	Position Position `json:"position"`
}

func (p TableUpdatePosition) validate() error { return requireID("tableId", p.TableID) }

// TableUpdated is broadcast when a table moved (server -> client).
type TableUpdated struct {
	TableID  string   `json:"tableId"`
	Position Position `json:"position"`
}

// ---- kitchen ----

// KitchenStartPreparing carries the id of the order the kitchen started (client -> server).
type KitchenStartPreparing string

func (p KitchenStartPreparing) validate() error { return requireID("orderId", string(p)) }

// KitchenMarkReady carries the id of the order the kitchen finished (client -> server).
type KitchenMarkReady string

func (p KitchenMarkReady) validate() error { return requireID("orderId", string(p)) }

// KitchenBumpOrder carries the id of the order removed from the kitchen display (client -> server).
type KitchenBumpOrder string

func (p KitchenBumpOrder) validate() error { return requireID("orderId", string(p)) }

// KitchenNewOrder notifies kitchen displays of a new order (server -> client).
type KitchenNewOrder struct{ Order }

// KitchenOrderReady carries the id of an order ready for pickup (server -> client).
type KitchenOrderReady string

// KitchenItemPreparing reports an item being prepared (server -> client).
type KitchenItemPreparing struct {
	OrderID string `json:"orderId"`
	ItemID  string `json:"itemId"`
}

// ---- system ----

// Notification is a user-facing message (server -> client).
type Notification struct {
	Type    NotificationType `json:"type"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data,omitempty"`
}

// SyncRequest asks for a full state snapshot, answered by a SyncSnapshot ack (client -> server).
type SyncRequest struct{}

// SyncSnapshot answers SyncRequest.
type SyncSnapshot struct {
	Timestamp   time.Time      `json:"timestamp"`
	Orders      []Order        `json:"orders"`
	Tables      []Table        `json:"tables"`
	ActiveUsers []PresenceUser `json:"activeUsers"`
}

// Ping is a latency probe answered by an empty ack (client -> server).
type Ping struct{}

// ---- Event implementations ----

func (PresenceJoin) Tag() string   { return TagPresenceJoin }
func (PresenceLeave) Tag() string  { return TagPresenceLeave }
func (PresenceUpdate) Tag() string { return TagPresenceUpdate }

func (OrderCreate) Tag() string        { return TagOrderCreate }
func (OrderCreated) Tag() string       { return TagOrderCreated }
func (OrderUpdateStatus) Tag() string  { return TagOrderUpdateStatus }
func (OrderStatusChanged) Tag() string { return TagOrderStatusChanged }
func (OrderCancel) Tag() string        { return TagOrderCancel }
func (OrderCancelled) Tag() string     { return TagOrderCancelled }

func (TableOccupy) Tag() string         { return TagTableOccupy }
func (TableOccupied) Tag() string       { return TagTableOccupied }
func (TableClear) Tag() string          { return TagTableClear }
func (TableCleared) Tag() string        { return TagTableCleared }
func (TableReserve) Tag() string        { return TagTableReserve }
func (TableReserved) Tag() string       { return TagTableReserved }
func (TableUpdatePosition) Tag() string { return TagTableUpdatePosition }
func (TableUpdated) Tag() string        { return TagTableUpdated }

func (KitchenStartPreparing) Tag() string { return TagKitchenStartPreparing }
func (KitchenMarkReady) Tag() string      { return TagKitchenMarkReady }
func (KitchenBumpOrder) Tag() string      { return TagKitchenBumpOrder }
func (KitchenNewOrder) Tag() string       { return TagKitchenNewOrder }
func (KitchenOrderReady) Tag() string     { return TagKitchenOrderReady }
func (KitchenItemPreparing) Tag() string  { return TagKitchenItemPreparing }

func (Notification) Tag() string { return TagNotification }
func (SyncRequest) Tag() string  { return TagSyncRequest }
func (Ping) Tag() string         { return TagPing }

func (PresenceJoin) isEvent()          {}
func (PresenceLeave) isEvent()         {}
func (PresenceUpdate) isEvent()        {}
func (OrderCreate) isEvent()           {}
func (OrderCreated) isEvent()          {}
func (OrderUpdateStatus) isEvent()     {}
func (OrderStatusChanged) isEvent()    {}
func (OrderCancel) isEvent()           {}
func (OrderCancelled) isEvent()        {}
func (TableOccupy) isEvent()           {}
func (TableOccupied) isEvent()         {}
func (TableClear) isEvent()            {}
func (TableCleared) isEvent()          {}
func (TableReserve) isEvent()          {}
func (TableReserved) isEvent()         {}
func (TableUpdatePosition) isEvent()   {}
func (TableUpdated) isEvent()          {}
func (KitchenStartPreparing) isEvent() {}
func (KitchenMarkReady) isEvent()      {}
func (KitchenBumpOrder) isEvent()      {}
func (KitchenNewOrder) isEvent()       {}
func (KitchenOrderReady) isEvent()     {}
func (KitchenItemPreparing) isEvent()  {}
func (Notification) isEvent()          {}
func (SyncRequest) isEvent()           {}
func (Ping) isEvent()                  {}

package v1

import (
	"encoding/json"
	"strings"
)

// Role is the staff role carried by a connection identity.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleCashier Role = "CASHIER"
	RoleWaiter  Role = "WAITER"
	RoleKitchen Role = "KITCHEN"
)

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCashier, RoleWaiter, RoleKitchen:
		return true
	}
	return false
}

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPreparing OrderStatus = "PREPARING"
	StatusReady     OrderStatus = "READY"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// ParseOrderStatus normalizes s and reports whether it names a known status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// UnmarshalJSON accepts statuses in any case ("ready" decodes as READY).
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s, _ = ParseOrderStatus(raw)
	return nil
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// NotificationType classifies a notification for UI styling.
type NotificationType string

const (
	NotifySuccess NotificationType = "success"
	NotifyInfo    NotificationType = "info"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

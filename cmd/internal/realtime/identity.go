package realtime

import (
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// Principal is the authenticated actor behind a connection, as supplied by the identity collaborator.
type Principal struct {
	UserID   string
	Name     string
	Role     v1.Role
	TenantID string
}

// ConnectionIdentity binds a Principal to one live connection.
// It is owned by the Session; other components copy it by value.
type ConnectionIdentity struct {
	ConnID   string
	UserID   string
	Name     string
	Role     v1.Role
	TenantID string
	JoinedAt time.Time
}

func newConnectionIdentity(p Principal, now time.Time) ConnectionIdentity {
	return ConnectionIdentity{
		ConnID:   NewConnID(now),
		UserID:   p.UserID,
		Name:     p.Name,
		Role:     p.Role,
		TenantID: p.TenantID,
		JoinedAt: now,
	}
}

// PresenceUser renders the identity as a presence snapshot entry.
func (c ConnectionIdentity) PresenceUser() v1.PresenceUser {
	return v1.PresenceUser{
		ID:       c.UserID,
		Name:     c.Name,
		Role:     c.Role,
		SocketID: c.ConnID,
		JoinedAt: c.JoinedAt,
	}
}

// TenantRoom names the broadcast group of all connections of one restaurant.
func TenantRoom(tenantID string) string {
	return "tenant:" + tenantID
}

// RoleRoom names the broadcast group of one role within a restaurant.
func RoleRoom(tenantID string, role v1.Role) string {
	return "tenant:" + tenantID + ":role:" + string(role)
}

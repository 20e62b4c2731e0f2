package realtime

import (
	"context"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// State is the order and table view served to terminals that ask for a sync snapshot.
type State struct {
	Orders []v1.Order
	Tables []v1.Table
}

// StateStore supplies the order/table part of sync:request answers.
//
// Apply receives every server-to-client event the router publishes, so a projecting store can
// follow the tenant's state. Stores backed by the system of record may ignore it.
type StateStore interface {
	Snapshot(ctx context.Context, tenant string) (State, error)
	Apply(ctx context.Context, tenant string, ev v1.Event) error
}

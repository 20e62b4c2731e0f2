package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of *pgxpool.Pool used by PostgresState.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

var schemaIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresState reads sync snapshots from the POS database.
//
// Expected tables (owned by the order/table mutation API, not by this package):
//
//	orders(id, restaurant_id, order_number, status, type, table_id, total, notes, items jsonb, created_at)
//	tables(id, restaurant_id, status, guest_count, pos_x, pos_y, updated_at)
//
// Apply is a no-op: the database is the system of record.
type PostgresState struct {
	db          Querier
	ordersTable string
	tablesTable string
}

// NewPostgresState constructs a PostgresState for schema ("public" when empty).
func NewPostgresState(db Querier, schema string) (*PostgresState, error) {
	if db == nil {
		return nil, errors.New("postgres state: nil querier")
	}
	if schema == "" {
		schema = "public"
	}
	if !schemaIdent.MatchString(schema) {
		return nil, fmt.Errorf("postgres state: invalid schema name %q", schema)
	}
	return &PostgresState{
		db:          db,
		ordersTable: pgx.Identifier{schema, "orders"}.Sanitize(),
		tablesTable: pgx.Identifier{schema, "tables"}.Sanitize(),
	}, nil
}

// Snapshot implements StateStore. Only orders that are not completed or cancelled are returned.
func (s *PostgresState) Snapshot(ctx context.Context, tenant string) (State, error) {
	orders, err := s.orders(ctx, tenant)
	if err != nil {
		return State{}, err
	}
	tables, err := s.tables(ctx, tenant)
	if err != nil {
		return State{}, err
	}
	return State{Orders: orders, Tables: tables}, nil
}

// Apply implements StateStore.
func (s *PostgresState) Apply(context.Context, string, v1.Event) error { return nil }

func (s *PostgresState) orders(ctx context.Context, tenant string) ([]v1.Order, error) {
	q := `SELECT id, order_number, status, COALESCE(type, ''), COALESCE(table_id, ''),
	             COALESCE(total, 0), COALESCE(notes, ''), COALESCE(items, '[]'::jsonb), created_at
	      FROM ` + s.ordersTable + `
	      WHERE restaurant_id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
	      ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, q, tenant)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	out := []v1.Order{}
	for rows.Next() {
		var (
			o         v1.Order
			status    string
			items     []byte
			createdAt time.Time
		)
		if err := rows.Scan(&o.ID, &o.OrderNumber, &status, &o.Type, &o.TableID, &o.Total, &o.Notes, &items, &createdAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status, _ = v1.ParseOrderStatus(status)
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("order %s items: %w", o.ID, err)
		}
		ts := createdAt.UTC()
		o.CreatedAt = &ts
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

func (s *PostgresState) tables(ctx context.Context, tenant string) ([]v1.Table, error) {
	q := `SELECT id, status, COALESCE(guest_count, 0), pos_x, pos_y, updated_at
	      FROM ` + s.tablesTable + `
	      WHERE restaurant_id = $1
	      ORDER BY id`

	rows, err := s.db.Query(ctx, q, tenant)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	out := []v1.Table{}
	for rows.Next() {
		var (
			t      v1.Table
			status string
			x, y   *float64
		)
		if err := rows.Scan(&t.ID, &status, &t.GuestCount, &x, &y, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.Status = v1.TableStatus(status)
		if x != nil && y != nil {
			t.Position = &v1.Position{X: *x, Y: *y}
		}
		t.UpdatedAt = t.UpdatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return out, nil
}

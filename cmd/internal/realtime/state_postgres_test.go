package realtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeQuerier answers queries from canned rows, keyed by a substring of the SQL.
type fakeQuerier struct {
	results map[string][][]any
	fail    error
	queries []string
	args    [][]any
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	if f.fail != nil {
		return nil, f.fail
	}
	for key, rows := range f.results {
		if strings.Contains(sql, key) {
			return &fakeRows{rows: rows, pos: -1}, nil
		}
	}
	return &fakeRows{pos: -1}, nil
}

type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.pos], nil }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if row[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		sv := reflect.ValueOf(row[i])
		if !sv.Type().AssignableTo(dv.Type()) {
			return fmt.Errorf("scan column %d: %s into %s", i, sv.Type(), dv.Type())
		}
		dv.Set(sv)
	}
	return nil
}

func ptrFloat(v float64) *float64 { return &v }

func TestPostgresState_SnapshotDecodesRows(t *testing.T) {
	created := time.Date(2026, 3, 1, 11, 0, 0, 0, time.FixedZone("x", 3600))
	updated := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)

	q := &fakeQuerier{results: map[string][][]any{
		`"pos"."orders"`: {
			{"o1", 42, "preparing", "DINE_IN", "t1", 18.5, "no onions", []byte(`[{"name":"Soup","quantity":2,"price":4.5}]`), created},
		},
		`"pos"."tables"`: {
			{"t1", "OCCUPIED", 3, ptrFloat(10), ptrFloat(20), updated},
			{"t2", "AVAILABLE", 0, nil, nil, updated},
		},
	}}

	st, err := NewPostgresState(q, "pos")
	if err != nil {
		t.Fatalf("NewPostgresState: %v", err)
	}
	snap, err := st.Snapshot(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	for i, args := range q.args {
		if len(args) != 1 || args[0] != "r1" {
			t.Fatalf("query %d args=%v, want tenant r1", i, args)
		}
	}
	if !strings.Contains(q.queries[0], "NOT IN ('COMPLETED', 'CANCELLED')") {
		t.Fatalf("orders query must skip terminal orders: %s", q.queries[0])
	}

	if len(snap.Orders) != 1 {
		t.Fatalf("want 1 order, got %d", len(snap.Orders))
	}
	o := snap.Orders[0]
	if o.ID != "o1" || o.OrderNumber != 42 || o.Status != v1.StatusPreparing || o.TableID != "t1" || o.Total != 18.5 {
		t.Fatalf("unexpected order: %+v", o)
	}
	if len(o.Items) != 1 || o.Items[0].Name != "Soup" || o.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", o.Items)
	}
	if o.CreatedAt == nil || !o.CreatedAt.Equal(created) || o.CreatedAt.Location() != time.UTC {
		t.Fatalf("createdAt=%v, want %v in UTC", o.CreatedAt, created)
	}

	if len(snap.Tables) != 2 {
		t.Fatalf("want 2 tables, got %d", len(snap.Tables))
	}
	if tb := snap.Tables[0]; tb.Position == nil || tb.Position.X != 10 || tb.Position.Y != 20 || tb.GuestCount != 3 {
		t.Fatalf("unexpected table: %+v", tb)
	}
	if tb := snap.Tables[1]; tb.Position != nil || tb.Status != v1.TableStatus("AVAILABLE") {
		t.Fatalf("table without coordinates: %+v", tb)
	}
}

func TestPostgresState_Errors(t *testing.T) {
	if _, err := NewPostgresState(nil, ""); err == nil {
		t.Fatalf("nil querier must be rejected")
	}
	if _, err := NewPostgresState(&fakeQuerier{}, `pos"; DROP TABLE orders; --`); err == nil {
		t.Fatalf("invalid schema must be rejected")
	}

	boom := errors.New("connection refused")
	st, err := NewPostgresState(&fakeQuerier{fail: boom}, "")
	if err != nil {
		t.Fatalf("NewPostgresState: %v", err)
	}
	if _, err := st.Snapshot(context.Background(), "r1"); !errors.Is(err, boom) {
		t.Fatalf("Snapshot err=%v, want wrapped %v", err, boom)
	}

	bad := &fakeQuerier{results: map[string][][]any{
		`"public"."orders"`: {{"o1", 1, "PENDING", "", "", 0.0, "", []byte(`{not json`), time.Now()}},
	}}
	st, _ = NewPostgresState(bad, "")
	if _, err := st.Snapshot(context.Background(), "r1"); err == nil || !strings.Contains(err.Error(), "o1") {
		t.Fatalf("bad items must fail with the order id, got %v", err)
	}
}

func TestPostgresState_ApplyIsNoop(t *testing.T) {
	q := &fakeQuerier{}
	st, _ := NewPostgresState(q, "")
	if err := st.Apply(context.Background(), "r1", v1.OrderCancel("o1")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(q.queries) != 0 {
		t.Fatalf("Apply must not touch the database, ran %v", q.queries)
	}
}

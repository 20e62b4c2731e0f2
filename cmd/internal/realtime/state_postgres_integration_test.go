package realtime

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when POS_DATABASE_URL is set.

func TestPostgresState_Integration_Snapshot(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := "pos_it_" + strings.ToLower(NewRandomHex(8))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	orders := pgx.Identifier{schema, "orders"}.Sanitize()
	tables := pgx.Identifier{schema, "tables"}.Sanitize()
	ddl := fmt.Sprintf(`
CREATE TABLE %s (
  id            TEXT PRIMARY KEY,
  restaurant_id TEXT NOT NULL,
  order_number  INTEGER NOT NULL,
  status        TEXT NOT NULL,
  type          TEXT,
  table_id      TEXT,
  total         DOUBLE PRECISION,
  notes         TEXT,
  items         JSONB,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE %s (
  id            TEXT PRIMARY KEY,
  restaurant_id TEXT NOT NULL,
  status        TEXT NOT NULL,
  guest_count   INTEGER,
  pos_x         DOUBLE PRECISION,
  pos_y         DOUBLE PRECISION,
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`, orders, tables)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	seed := []string{
		`INSERT INTO ` + orders + ` (id, restaurant_id, order_number, status, items) VALUES ('o1', 'r1', 1, 'PENDING', '[{"name":"Tea","quantity":1,"price":2}]')`,
		`INSERT INTO ` + orders + ` (id, restaurant_id, order_number, status) VALUES ('o2', 'r1', 2, 'COMPLETED')`,
		`INSERT INTO ` + orders + ` (id, restaurant_id, order_number, status) VALUES ('o3', 'r2', 3, 'PENDING')`,
		`INSERT INTO ` + tables + ` (id, restaurant_id, status, guest_count, pos_x, pos_y) VALUES ('t1', 'r1', 'OCCUPIED', 4, 1, 2)`,
	}
	for _, q := range seed {
		if _, err := pool.Exec(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	st, err := NewPostgresState(pool, schema)
	if err != nil {
		t.Fatalf("NewPostgresState: %v", err)
	}
	snap, err := st.Snapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].ID != "o1" || snap.Orders[0].Status != v1.StatusPending {
		t.Fatalf("unexpected orders: %+v", snap.Orders)
	}
	if len(snap.Orders[0].Items) != 1 || snap.Orders[0].Items[0].Name != "Tea" {
		t.Fatalf("unexpected items: %+v", snap.Orders[0].Items)
	}
	if len(snap.Tables) != 1 || snap.Tables[0].GuestCount != 4 || snap.Tables[0].Position == nil {
		t.Fatalf("unexpected tables: %+v", snap.Tables)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("POS_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: POS_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	return pool
}

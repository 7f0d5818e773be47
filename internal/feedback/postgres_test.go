package feedback

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// mockDB records Exec calls.
type mockDB struct {
	execs   []string
	args    [][]any
	execErr error
	pingErr error
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, sql)
	m.args = append(m.args, args)
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockDB) Ping(context.Context) error { return m.pingErr }

func TestPostgresStore_Migrate(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS feedback_logs") {
		t.Errorf("execs = %v", db.execs)
	}

	db.execErr = errors.New("permission denied")
	if err := s.Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "migrate") {
		t.Errorf("err = %v, want wrapped migrate error", err)
	}
}

func TestPostgresStore_Append(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	rec := sampleRecord("Johan")
	rec.Deviations = nil

	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(db.args) != 1 || len(db.args[0]) != 15 {
		t.Fatalf("args = %v, want one insert with 15 params", db.args)
	}
	args := db.args[0]
	if args[0] != rec.ID || args[1] != "Johan" {
		t.Errorf("id/profile = %v/%v", args[0], args[1])
	}
	if dev, ok := args[9].([]byte); !ok || string(dev) != "[]" {
		t.Errorf("deviations arg = %v, want []", args[9])
	}
	if args[10] != "almost" {
		t.Errorf("status arg = %v, want almost", args[10])
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	db := &mockDB{pingErr: errors.New("dial tcp: refused")}
	if err := NewPostgresStore(db).Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("DIZAI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DIZAI_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	rec := sampleRecord("integration")
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM feedback_logs WHERE id = $1`, rec.ID).Scan(&status); err != nil {
		t.Fatalf("select: %v", err)
	}
	if status != string(StatusAlmost) {
		t.Errorf("status = %q, want almost", status)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM feedback_logs WHERE id = $1`, rec.ID); err != nil {
		t.Logf("cleanup: %v", err)
	}
}

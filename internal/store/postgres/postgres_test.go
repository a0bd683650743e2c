package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/startraders/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: " postgres://x@db/app ", Host: "ignored"},
			want: "postgres://x@db/app",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "localhost", Database: "startraders", User: "postgres", Password: "pw"},
			want: "postgres://postgres:pw@localhost:5432/startraders?sslmode=disable",
		},
		{
			name: "escapes credentials",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "st", User: "app", Password: "p@ss/word", SSLMode: "require"},
			want: "postgres://app:p%40ss%2Fword@db:6543/st?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Fatalf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithListOpts(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := withListOpts("SELECT * FROM trades WHERE user_id = $1", []any{"u1"}, "created_at",
		domain.ListOpts{Since: &since, Limit: 20, Offset: 40})

	want := "SELECT * FROM trades WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
	if q != want {
		t.Fatalf("query = %q", q)
	}
	if len(args) != 4 || args[2] != 20 || args[3] != 40 {
		t.Fatalf("args = %v", args)
	}

	q, args = withListOpts("SELECT 1 WHERE TRUE", nil, "created_at", domain.ListOpts{})
	if strings.Contains(q, "LIMIT") || len(args) != 0 {
		t.Fatalf("empty opts produced %q %v", q, args)
	}
}

func TestExpiredPendingQuery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := expiredPendingQuery(now, 200, nil)
	if strings.Contains(q, "ANY") || len(args) != 2 {
		t.Fatalf("no exclusions produced %q %v", q, args)
	}

	q, args = expiredPendingQuery(now, 200, []string{"t1", "t2"})
	if !strings.Contains(q, "NOT (id = ANY($3))") || !strings.HasSuffix(strings.TrimSpace(q), "LIMIT $2") {
		t.Fatalf("query = %q", q)
	}
	if len(args) != 3 {
		t.Fatalf("args = %v", args)
	}
	if ids, ok := args[2].([]string); !ok || len(ids) != 2 {
		t.Fatalf("excluded ids = %v", args[2])
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("migrations = %v", names)
	}
}

package subscription

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/moorings/berthhook/internal/db"
	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/tenant"
	"github.com/moorings/berthhook/internal/tenantdb"
)

// Database-backed tests. They need a disposable postgres reachable via
// TEST_DATABASE_DSN and are skipped otherwise.
func testDB(t *testing.T) *tenantdb.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set; skipping database-backed test")
	}
	if err := db.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := db.Connect(t.Context(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(t.Context(), `TRUNCATE berthhook.deliveries, berthhook.events, berthhook.subscriptions CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return tenantdb.New(pool, false, logging.NewWithWriter("test", io.Discard))
}

func tenantCtx(t *testing.T, tenantID string) context.Context {
	t.Helper()
	ctx, err := tenant.NewContext(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("NewContext(%q) error = %v", tenantID, err)
	}
	return ctx
}

// Entities created under one tenant's scope must return zero rows or
// affect zero rows for every operation executed under another's, for
// every verb.
func TestCrossTenantOperationsAffectNothing(t *testing.T) {
	s := NewStore(testDB(t))
	ctxA := tenantCtx(t, "biz_a")
	ctxB := tenantCtx(t, "biz_b")

	created, err := s.Create(ctxA, "", "https://a.example.com/hook", []string{"order.created"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("get yields not found", func(t *testing.T) {
		if _, err := s.Get(ctxB, created.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() under foreign tenant error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list yields nothing", func(t *testing.T) {
		subs, err := s.List(ctxB)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(subs) != 0 {
			t.Errorf("List() under foreign tenant = %d rows, want 0", len(subs))
		}
	})

	t.Run("update affects zero rows", func(t *testing.T) {
		hijacked := "https://b.example.com/hook"
		n, err := s.Update(ctxB, created.ID, UpdateParams{URL: &hijacked})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if n != 0 {
			t.Errorf("Update() under foreign tenant affected %d rows, want 0", n)
		}
	})

	t.Run("deactivate affects zero rows", func(t *testing.T) {
		n, err := s.Deactivate(ctxB, created.ID)
		if err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}
		if n != 0 {
			t.Errorf("Deactivate() under foreign tenant affected %d rows, want 0", n)
		}
	})

	t.Run("rotate secret yields not found", func(t *testing.T) {
		if _, err := s.RotateSecret(ctxB, created.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("RotateSecret() under foreign tenant error = %v, want ErrNotFound", err)
		}
	})

	t.Run("owner still sees the original row", func(t *testing.T) {
		sub, err := s.Get(ctxA, created.ID)
		if err != nil {
			t.Fatalf("Get() under owner error = %v", err)
		}
		if sub.URL != "https://a.example.com/hook" {
			t.Errorf("URL = %q, foreign update leaked through", sub.URL)
		}
		if !sub.Active {
			t.Error("Active = false, foreign deactivate leaked through")
		}
	})
}

func TestCreateAndRoundTrip(t *testing.T) {
	s := NewStore(testDB(t))
	ctx := tenantCtx(t, "biz_a")

	created, err := s.Create(ctx, "", "https://a.example.com/hook", []string{"order.created", "order.paid"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Secret == "" {
		t.Fatal("Create() returned no secret")
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SecretMasked == created.Secret {
		t.Error("Get() returned the full secret, want masked")
	}
	if len(got.EventTypes) != 2 {
		t.Errorf("EventTypes = %v, want 2 entries", got.EventTypes)
	}
	if got.TenantID != "biz_a" {
		t.Errorf("TenantID = %q, want biz_a", got.TenantID)
	}
}

package recorder

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/moorings/berthhook/internal/db"
	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/subscription"
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

func createSubscription(t *testing.T, tdb *tenantdb.DB, tenantID string, eventTypes ...string) subscription.Created {
	t.Helper()
	ctx, err := tenant.NewContext(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	created, err := subscription.NewStore(tdb).Create(ctx, "", "https://example.com/hook", eventTypes)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return created
}

func countDeliveries(t *testing.T, tdb *tenantdb.DB, eventID string) int {
	t.Helper()
	ctx := tenant.WithSystem(context.Background())
	sys, err := tdb.System(ctx)
	if err != nil {
		t.Fatalf("System() error = %v", err)
	}
	var n int
	if err := sys.QueryRow(ctx, `SELECT count(*) FROM berthhook.deliveries WHERE event_id = $1`, eventID).Scan(&n); err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	return n
}

func TestRecordIdempotentFanout(t *testing.T) {
	tdb := testDB(t)
	createSubscription(t, tdb, "biz_1", "payment.succeeded")
	rec := New(tdb, logging.NewWithWriter("test", io.Discard))
	payload := map[string]any{"amount": float64(4999)}

	first, err := rec.Record(context.Background(), "biz_1", "payment.succeeded", payload, "evt_1", time.Time{})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Matched != 1 || first.Created != 1 {
		t.Errorf("first Record() = %+v, want matched=1 created=1", first)
	}

	second, err := rec.Record(context.Background(), "biz_1", "payment.succeeded", payload, "evt_1", time.Time{})
	if err != nil {
		t.Fatalf("Record() resubmission error = %v", err)
	}
	if second.Created != 0 {
		t.Errorf("resubmitted Record() created = %d, want 0", second.Created)
	}
	if n := countDeliveries(t, tdb, "evt_1"); n != 1 {
		t.Errorf("deliveries for evt_1 = %d, want exactly 1", n)
	}
}

func TestRecordConcurrentSameEventID(t *testing.T) {
	tdb := testDB(t)
	createSubscription(t, tdb, "biz_1", "payment.succeeded")
	rec := New(tdb, logging.NewWithWriter("test", io.Discard))
	payload := map[string]any{"amount": float64(4999)}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rec.Record(context.Background(), "biz_1", "payment.succeeded", payload, "evt_1", time.Time{})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent Record() #%d error = %v", i, err)
		}
	}
	if n := countDeliveries(t, tdb, "evt_1"); n != 1 {
		t.Errorf("deliveries for evt_1 after concurrent records = %d, want exactly 1", n)
	}

	// A distinct event id is an independent delivery.
	if _, err := rec.Record(context.Background(), "biz_1", "payment.succeeded", payload, "evt_2", time.Time{}); err != nil {
		t.Fatalf("Record() evt_2 error = %v", err)
	}
	if n := countDeliveries(t, tdb, "evt_2"); n != 1 {
		t.Errorf("deliveries for evt_2 = %d, want 1", n)
	}
}

func TestRecordNoMatchingSubscriptions(t *testing.T) {
	tdb := testDB(t)
	createSubscription(t, tdb, "biz_1", "order.created")
	rec := New(tdb, logging.NewWithWriter("test", io.Discard))

	res, err := rec.Record(context.Background(), "biz_1", "payment.succeeded", nil, "", time.Time{})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if res.Matched != 0 || res.Created != 0 {
		t.Errorf("Record() = %+v, want matched=0 created=0", res)
	}
}

func TestRecordStoresOccurredAt(t *testing.T) {
	tdb := testDB(t)
	rec := New(tdb, logging.NewWithWriter("test", io.Discard))
	occurred := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	res, err := rec.Record(context.Background(), "biz_1", "payment.succeeded", nil, "", occurred)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	ctx := tenant.WithSystem(context.Background())
	sys, err := tdb.System(ctx)
	if err != nil {
		t.Fatalf("System() error = %v", err)
	}
	var stored time.Time
	if err := sys.QueryRow(ctx, `SELECT occurred_at FROM berthhook.events WHERE id = $1`, res.EventID).Scan(&stored); err != nil {
		t.Fatalf("select occurred_at: %v", err)
	}
	if !stored.Equal(occurred) {
		t.Errorf("stored occurred_at = %v, want %v", stored, occurred)
	}
}

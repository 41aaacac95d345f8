package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/moorings/berthhook/internal/tenant"
	"github.com/moorings/berthhook/internal/tenantdb"
)

func TestNewEventID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewEventID()
		if !strings.HasPrefix(id, "evt_") {
			t.Fatalf("NewEventID() = %q, want evt_ prefix", id)
		}
		if seen[id] {
			t.Fatalf("NewEventID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestNewEventIDIsTimeOrdered(t *testing.T) {
	a := NewEventID()
	time.Sleep(2 * time.Millisecond)
	b := NewEventID()
	// UUIDv7 embeds a millisecond timestamp in the leading bits, so ids
	// generated later sort later.
	if !(a < b) {
		t.Errorf("NewEventID() not time-ordered: %q !< %q", a, b)
	}
}

func TestRecordValidation(t *testing.T) {
	r := New(tenantdb.New(nil, false, nil), nil)

	if _, err := r.Record(context.Background(), "biz_1", "", nil, "", time.Time{}); !errors.Is(err, ErrEmptyEventType) {
		t.Errorf("Record() empty event type error = %v, want ErrEmptyEventType", err)
	}
	if _, err := r.Record(context.Background(), "", "payment.succeeded", nil, "", time.Time{}); !errors.Is(err, tenant.ErrEmptyTenantID) {
		t.Errorf("Record() empty tenant error = %v, want ErrEmptyTenantID", err)
	}

	// A caller already scoped to another tenant cannot record on behalf
	// of a different one.
	ctx, err := tenant.NewContext(context.Background(), "biz_2")
	if err != nil {
		t.Fatalf("tenant.NewContext() error = %v", err)
	}
	if _, err := r.Record(ctx, "biz_1", "payment.succeeded", nil, "", time.Time{}); !errors.Is(err, tenant.ErrNestedTenant) {
		t.Errorf("Record() under foreign scope error = %v, want ErrNestedTenant", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope("payment.succeeded", "token-abc", map[string]any{"amount": float64(4999)}, "evt_1")
	if env.OccurredAt == "" {
		t.Fatal("NewEnvelope() left OccurredAt empty")
	}
	if _, err := time.Parse(time.RFC3339, env.OccurredAt); err != nil {
		t.Fatalf("NewEnvelope() OccurredAt = %q, not RFC3339: %v", env.OccurredAt, err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.EventID != "evt_1" || got.EventType != "payment.succeeded" || got.TenantToken != "token-abc" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Payload["amount"] != float64(4999) {
		t.Errorf("Payload amount = %v, want 4999", got.Payload["amount"])
	}
}

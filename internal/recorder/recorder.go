// Package recorder turns business events into pending delivery rows, one
// per matching subscription. Recording is fire-and-forget for the caller:
// it never blocks on, or learns about, actual delivery.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/metrics"
	"github.com/moorings/berthhook/internal/tenant"
	"github.com/moorings/berthhook/internal/tenantdb"
	"github.com/moorings/berthhook/internal/tracing"
)

var ErrEmptyEventType = errors.New("recorder: empty event type")

// Result summarizes one Record call.
type Result struct {
	EventID string
	Matched int // active subscriptions interested in the event type
	Created int // delivery rows actually inserted (0 on duplicate event id)
}

type Recorder struct {
	db  *tenantdb.DB
	log *logging.Logger
}

func New(db *tenantdb.DB, log *logging.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// NewEventID generates an idempotency key that survives process restarts:
// a time-ordered UUID, so concurrent generators cannot collide and ids
// sort roughly by occurrence.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "evt_" + id.String()
}

// Record persists the event and fans it out to every active subscription
// of tenantID whose event-type set contains eventType. The eventID is the
// idempotency key for the whole fan-out; re-submission inserts nothing
// new. Zero matching subscriptions is a normal no-op. occurredAt is when
// the business action happened; pass the zero value when recording time
// is close enough.
func (r *Recorder) Record(ctx context.Context, tenantID, eventType string, payload map[string]any, eventID string, occurredAt time.Time) (Result, error) {
	if eventType == "" {
		return Result{}, ErrEmptyEventType
	}
	if eventID == "" {
		eventID = NewEventID()
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	ctx, err := tenant.NewContext(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	conn, err := r.db.Scoped(ctx)
	if err != nil {
		return Result{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "recorder.record",
		attribute.String("tenant_id", tenantID),
		attribute.String("event_id", eventID),
		attribute.String("event_type", eventType),
	)
	defer span.End()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, fmt.Errorf("recorder: invalid payload: %w", err)
	}

	// Insert-or-ignore the event itself; a duplicate id is not an error.
	tracing.AddSpanEvent(ctx, "db.insert_event")
	if _, err := conn.Exec(ctx, `
		INSERT INTO berthhook.events (tenant_id, id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (tenant_id, id) DO NOTHING`,
		eventID, eventType, string(payloadJSON), occurredAt,
	); err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, fmt.Errorf("recorder: insert event: %w", err)
	}

	tracing.AddSpanEvent(ctx, "db.select_subscriptions")
	rows, err := conn.Query(ctx, `
		SELECT id FROM berthhook.subscriptions
		WHERE tenant_id = $1 AND active AND $2 = ANY(event_types)`,
		eventType,
	)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, fmt.Errorf("recorder: select subscriptions: %w", err)
	}
	var subIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Result{}, err
		}
		subIDs = append(subIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	res := Result{EventID: eventID, Matched: len(subIDs)}
	if len(subIDs) == 0 {
		metrics.RecordEvent(tenantID, eventType)
		return res, nil
	}

	// One pending delivery per subscription, keyed by (subscription_id,
	// event_id). A conflicting insert means this fan-out already
	// happened; treating it as success-no-op is what makes concurrent
	// re-submission of the same event id safe.
	tracing.AddSpanEvent(ctx, "db.insert_deliveries", attribute.Int("subscriptions", len(subIDs)))
	batch := &pgx.Batch{}
	for _, subID := range subIDs {
		conn.BatchQueue(batch, `
			INSERT INTO berthhook.deliveries (tenant_id, id, subscription_id, event_id, event_type, payload)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)
			ON CONFLICT (subscription_id, event_id) DO NOTHING`,
			"dlv_"+uuid.NewString(), subID, eventID, eventType, string(payloadJSON))
	}
	br := conn.SendBatch(ctx, batch)
	for range subIDs {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			tracing.SetSpanError(ctx, err)
			return Result{}, fmt.Errorf("recorder: insert delivery: %w", err)
		}
		res.Created += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return Result{}, err
	}

	metrics.RecordEvent(tenantID, eventType)
	metrics.RecordFanout(res.Created)
	if res.Created == 0 {
		metrics.RecordDuplicateEvent()
		tracing.AddSpanEvent(ctx, "duplicate_event_ignored")
	}
	span.SetAttributes(attribute.Int("fanout_created", res.Created))

	r.log.WithContext(ctx).WithTenant(tenantID).WithEvent(eventID).WithFields(map[string]any{
		"event_type": eventType,
		"matched":    res.Matched,
		"created":    res.Created,
	}).Info("event recorded")

	return res, nil
}

// ListDeliveries returns the delivery history for an event of the tenant
// in scope, newest first.
func (r *Recorder) ListDeliveries(ctx context.Context, eventID string, limit int) ([]DeliveryStatus, error) {
	conn, err := r.db.Scoped(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := conn.Query(ctx, `
		SELECT id, subscription_id, event_id, event_type, status, attempt,
		       COALESCE(last_status, 0), COALESCE(last_error, ''), next_attempt_at, created_at, delivered_at, failed_at
		FROM berthhook.deliveries
		WHERE tenant_id = $1 AND event_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		eventID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryStatus
	for rows.Next() {
		var d DeliveryStatus
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &d.EventType, &d.Status, &d.Attempt,
			&d.LastStatus, &d.LastError, &d.NextAttemptAt, &d.CreatedAt, &d.DeliveredAt, &d.FailedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeliveryStatus is the tenant-facing view of one delivery row.
type DeliveryStatus struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	Status         string     `json:"status"`
	Attempt        int        `json:"attempt"`
	LastStatus     int        `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
}

package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/moorings/berthhook/internal/config"
	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/metrics"
	"github.com/moorings/berthhook/internal/tenant"
	"github.com/moorings/berthhook/internal/tenantdb"
	"github.com/moorings/berthhook/internal/tracing"
)

// maxBodyBytes bounds the stored response body.
const maxBodyBytes = 5 * 1024

// Worker drains pending deliveries. It is cross-tenant infrastructure by
// design and runs under the explicit system bypass; the rows it claims
// are already tenant-attributed by the recorder.
type Worker struct {
	db      *tenantdb.DB
	log     *logging.Logger
	client  *http.Client
	policy  RetryPolicy
	headers config.Webhook

	pollInterval time.Duration
	leaseTimeout time.Duration
	claimBatch   int
	concurrency  int
}

func NewWorker(db *tenantdb.DB, log *logging.Logger, wcfg config.Worker, wh config.Webhook) *Worker {
	return &Worker{
		db:      db,
		log:     log,
		client:  &http.Client{Timeout: wcfg.RequestTimeout},
		policy:  RetryPolicy{MaxAttempts: wcfg.MaxAttempts, Schedule: wcfg.BackoffSchedule, Jitter: wcfg.JitterPercent},
		headers: wh,

		pollInterval: wcfg.PollInterval,
		leaseTimeout: wcfg.LeaseTimeout,
		claimBatch:   wcfg.ClaimBatch,
		concurrency:  wcfg.Concurrency,
	}
}

// Run polls for due deliveries until ctx is cancelled. Rounds that drain
// a full batch loop immediately; empty rounds sleep for the poll
// interval.
func (w *Worker) Run(ctx context.Context) error {
	ctx = tenant.WithSystem(ctx)
	sys, err := w.db.System(ctx)
	if err != nil {
		return err
	}

	reapTick := time.NewTicker(w.leaseTimeout / 2)
	defer reapTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reapTick.C:
			w.reapStale(ctx, sys)
			w.updateBacklog(ctx, sys)
		default:
		}

		n, err := w.runOnce(ctx, sys)
		if err != nil {
			w.log.WithContext(ctx).WithError(err).Error("claim round failed")
		}
		if n < w.claimBatch {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// runOnce claims one batch and delivers its tasks in parallel. Each row
// is claimed exclusively (pending -> inflight under SKIP LOCKED), so a
// second worker instance can never pick up the same delivery. Rows whose
// subscription went inactive are not claimable and are therefore never
// attempted.
func (w *Worker) runOnce(ctx context.Context, sys *tenantdb.SystemConn) (int, error) {
	tasks, err := w.claim(ctx, sys)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	p := pool.New().WithMaxGoroutines(w.concurrency)
	for _, t := range tasks {
		p.Go(func() {
			w.process(ctx, sys, t)
		})
	}
	p.Wait()
	return len(tasks), nil
}

func (w *Worker) claim(ctx context.Context, sys *tenantdb.SystemConn) ([]Task, error) {
	rows, err := sys.Query(ctx, `
		UPDATE berthhook.deliveries d
		SET status = 'inflight', updated_at = now()
		FROM (
			SELECT d2.id, s.url, s.secret
			FROM berthhook.deliveries d2
			JOIN berthhook.subscriptions s ON s.id = d2.subscription_id
			WHERE d2.status = 'pending'
			  AND (d2.next_attempt_at IS NULL OR d2.next_attempt_at <= now())
			  AND s.active
			ORDER BY d2.next_attempt_at NULLS FIRST
			LIMIT $1
			FOR UPDATE OF d2 SKIP LOCKED
		) c
		WHERE d.id = c.id
		RETURNING d.id, d.tenant_id, d.subscription_id, d.event_id, d.event_type, d.payload, d.attempt, c.url, c.secret`,
		w.claimBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("claim deliveries: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.DeliveryID, &t.TenantID, &t.SubscriptionID, &t.EventID, &t.EventType,
			&t.Payload, &t.Attempt, &t.URL, &t.Secret); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (w *Worker) process(ctx context.Context, sys *tenantdb.SystemConn, t Task) {
	ctx, span := tracing.StartSpan(ctx, "worker.delivery",
		attribute.String("delivery_id", t.DeliveryID),
		attribute.String("tenant_id", t.TenantID),
		attribute.String("subscription_id", t.SubscriptionID),
		attribute.String("event_id", t.EventID),
		attribute.String("event_type", t.EventType),
		attribute.Int("attempt", t.Attempt+1),
	)
	defer span.End()

	res := w.attempt(ctx, t)

	span.SetAttributes(
		attribute.Int("http.status_code", res.Status),
		attribute.Int64("http.latency_ms", res.Duration.Milliseconds()),
	)
	if res.Err != nil {
		span.SetAttributes(attribute.String("http.error", res.Err.Error()))
	}

	attempt := t.Attempt + 1
	outcome, delay, reason := w.policy.Decide(res.Status, res.Err, attempt)

	entry := w.log.WithContext(ctx).WithTenant(t.TenantID).WithDelivery(t.DeliveryID).
		WithSubscription(t.SubscriptionID).WithEvent(t.EventID).
		WithField("attempt", attempt).WithField("status", res.Status)

	switch outcome {
	case OutcomeDelivered:
		tracing.AddSpanEvent(ctx, "delivery.success")
		_, err := sys.Exec(ctx, `
			UPDATE berthhook.deliveries
			SET status = 'delivered', attempt = $2, last_status = $3, last_body = $4,
			    last_error = NULL, next_attempt_at = NULL, delivered_at = now(), updated_at = now()
			WHERE id = $1`,
			t.DeliveryID, attempt, res.Status, res.Body)
		if err != nil {
			w.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("persist delivered failed")
			tracing.SetSpanError(ctx, err)
		}
		metrics.RecordDelivery("delivered", res.Duration)
		entry.Info("delivered")

	case OutcomeRetry:
		tracing.AddSpanEvent(ctx, "delivery.retry", attribute.String("delay", delay.String()))
		_, err := sys.Exec(ctx, `
			UPDATE berthhook.deliveries
			SET status = 'pending', attempt = $2, last_status = $3, last_body = $4,
			    last_error = $5, next_attempt_at = now() + $6, updated_at = now()
			WHERE id = $1`,
			t.DeliveryID, attempt, nullableStatus(res.Status), res.Body, errString(res.Err), delay)
		if err != nil {
			w.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("persist retry failed")
			tracing.SetSpanError(ctx, err)
		}
		metrics.RecordDelivery("retried", res.Duration)
		metrics.RecordRetry(reason)
		entry.WithField("reason", reason).WithField("delay", delay.String()).Warn("delivery retry scheduled")

	case OutcomeFailed:
		tracing.AddSpanEvent(ctx, "delivery.failed", attribute.String("reason", reason))
		_, err := sys.Exec(ctx, `
			UPDATE berthhook.deliveries
			SET status = 'failed', attempt = $2, last_status = $3, last_body = $4,
			    last_error = $5, next_attempt_at = NULL, failed_at = now(), updated_at = now()
			WHERE id = $1`,
			t.DeliveryID, attempt, nullableStatus(res.Status), res.Body, errString(res.Err))
		if err != nil {
			w.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("persist failed failed")
			tracing.SetSpanError(ctx, err)
		}
		metrics.RecordDelivery("failed", res.Duration)
		entry.WithField("reason", reason).Error("delivery failed permanently")
	}
}

type attemptResult struct {
	Status   int
	Body     string
	Err      error
	Duration time.Duration
}

// attempt performs one outbound POST: deterministic body, HMAC signature
// over the exact bytes sent, bounded timeout, response body truncated for
// storage.
func (w *Worker) attempt(ctx context.Context, t Task) attemptResult {
	body, err := EncodeWireBody(t, time.Now())
	if err != nil {
		return attemptResult{Err: fmt.Errorf("encode body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.headers.UserAgent)
	req.Header.Set(w.headers.SignatureHeader, Sign(t.Secret, body))
	req.Header.Set(w.headers.EventHeader, t.EventType)
	req.Header.Set(w.headers.EventIDHeader, t.EventID)
	req.Header.Set(w.headers.TimestampHeader, strconv.FormatInt(time.Now().Unix(), 10))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return attemptResult{Err: err, Duration: elapsed}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return attemptResult{Status: resp.StatusCode, Body: string(respBody), Duration: elapsed}
}

// reapStale returns inflight rows to pending when their worker died
// mid-flight. The lease timeout is comfortably above the request timeout,
// so a live worker can never lose a row it is still processing.
func (w *Worker) reapStale(ctx context.Context, sys *tenantdb.SystemConn) {
	tag, err := sys.Exec(ctx, `
		UPDATE berthhook.deliveries
		SET status = 'pending', updated_at = now()
		WHERE status = 'inflight' AND updated_at < now() - $1`,
		w.leaseTimeout)
	if err != nil {
		w.log.WithContext(ctx).WithError(err).Error("reap stale inflight failed")
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		w.log.WithContext(ctx).WithField("count", n).Warn("reclaimed stale inflight deliveries")
	}
}

func (w *Worker) updateBacklog(ctx context.Context, sys *tenantdb.SystemConn) {
	var n int64
	err := sys.QueryRow(ctx, `
		SELECT count(*)
		FROM berthhook.deliveries d
		JOIN berthhook.subscriptions s ON s.id = d.subscription_id
		WHERE d.status = 'pending'
		  AND (d.next_attempt_at IS NULL OR d.next_attempt_at <= now())
		  AND s.active`,
	).Scan(&n)
	if err != nil {
		return
	}
	metrics.SetPendingBacklog(float64(n))
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func nullableStatus(status int) *int {
	if status == 0 {
		return nil
	}
	return &status
}

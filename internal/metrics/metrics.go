package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthhook_events_recorded_total",
			Help: "Total number of events recorded.",
		},
		[]string{"tenant_id", "event_type"},
	)

	FanoutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "berthhook_fanout_deliveries_total",
			Help: "Total number of delivery rows created by fan-out.",
		},
	)

	DuplicateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "berthhook_duplicate_events_total",
			Help: "Total number of event submissions collapsed by idempotency.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthhook_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // delivered, retried, failed
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "berthhook_delivery_duration_seconds",
			Help:    "Outbound webhook request duration.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthhook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // http_5xx, http_429, timeout, network, ...
	)

	ViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthhook_tenant_violations_total",
			Help: "Total number of detected cross-tenant access attempts.",
		},
		[]string{"op"},
	)

	PendingBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "berthhook_pending_deliveries",
			Help: "Pending deliveries eligible for claiming.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsRecordedTotal,
		FanoutTotal,
		DuplicateEventsTotal,
		DeliveriesTotal,
		DeliveryDuration,
		RetriesTotal,
		ViolationsTotal,
		PendingBacklog,
	)
}

// RecordEvent counts a recorded event for a tenant.
func RecordEvent(tenantID, eventType string) {
	EventsRecordedTotal.WithLabelValues(tenantID, eventType).Inc()
}

// RecordFanout counts delivery rows created by one fan-out.
func RecordFanout(n int) {
	FanoutTotal.Add(float64(n))
}

// RecordDuplicateEvent counts an idempotent no-op resubmission.
func RecordDuplicateEvent() {
	DuplicateEventsTotal.Inc()
}

// RecordDelivery counts a delivery attempt outcome and its duration.
func RecordDelivery(outcome string, d time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		DeliveryDuration.Observe(d.Seconds())
	}
}

// RecordRetry counts a scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordViolation counts a cross-tenant access attempt by operation.
func RecordViolation(op string) {
	ViolationsTotal.WithLabelValues(op).Inc()
}

// SetPendingBacklog updates the claimable backlog gauge.
func SetPendingBacklog(n float64) {
	PendingBacklog.Set(n)
}

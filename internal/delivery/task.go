package delivery

// Delivery states. pending -> delivered is terminal success, pending ->
// failed is terminal failure; inflight marks a row claimed by a worker.
const (
	StatusPending   = "pending"
	StatusInflight  = "inflight"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Task is one claimed delivery row joined with its subscription's
// destination and secret.
type Task struct {
	DeliveryID     string `json:"delivery_id"`
	TenantID       string `json:"tenant_id"`
	SubscriptionID string `json:"subscription_id"`
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	Payload        []byte `json:"payload"` // raw event payload JSON
	Attempt        int    `json:"attempt"` // attempts completed so far
	URL            string `json:"url"`
	Secret         string `json:"-"` // never serialized
}

package recorder

import "time"

// Envelope is the wire format for business events on the NSQ bus. The
// TenantToken is a signed assertion of the producing service; the
// recorder verifies it before trusting TenantID attribution.
type Envelope struct {
	EventID      string            `json:"event_id,omitempty"` // idempotency key, generated when empty
	EventType    string            `json:"event_type"`
	TenantToken  string            `json:"tenant_token"`
	Payload      map[string]any    `json:"payload"`
	OccurredAt   string            `json:"occurred_at,omitempty"` // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// NewEnvelope builds an envelope stamped with the current time.
func NewEnvelope(eventType, tenantToken string, payload map[string]any, eventID string) Envelope {
	return Envelope{
		EventID:     eventID,
		EventType:   eventType,
		TenantToken: tenantToken,
		Payload:     payload,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

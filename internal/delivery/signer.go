package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// WireBody is the JSON object POSTed to subscription endpoints. Field
// order is fixed by the struct and map keys are sorted by the encoder, so
// the same event always serializes to the same bytes.
type WireBody struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"` // RFC3339
}

// EncodeWireBody builds the outbound body for a task. The payload column
// holds the event's raw JSON; it is decoded so the receiver gets a nested
// object rather than an escaped string.
func EncodeWireBody(t Task, now time.Time) ([]byte, error) {
	var data map[string]any
	if len(t.Payload) > 0 {
		if err := json.Unmarshal(t.Payload, &data); err != nil {
			return nil, err
		}
	}
	return json.Marshal(WireBody{
		EventID:   t.EventID,
		EventType: t.EventType,
		Data:      data,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// Sign computes the signature header value over the exact body bytes:
// an HMAC-SHA256 digest, hex-encoded and prefixed with the hash name.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the HMAC over body and compares it with the
// header value in constant time. Receivers use the same check.
func VerifySignature(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(got), []byte(want))
}

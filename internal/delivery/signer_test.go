package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestSignMatchesManualHMAC(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"event_id":"evt_1","event_type":"payment.succeeded"}`)

	got := Sign(secret, body)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"a":1}`)
	sig := Sign(secret, body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		header string
		want   bool
	}{
		{name: "valid", secret: secret, body: body, header: sig, want: true},
		{name: "wrong secret", secret: "other", body: body, header: sig, want: false},
		{name: "tampered body", secret: secret, body: []byte(`{"a":2}`), header: sig, want: false},
		{name: "missing prefix", secret: secret, body: body, header: strings.TrimPrefix(sig, "sha256="), want: false},
		{name: "empty header", secret: secret, body: body, header: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.header); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeWireBody(t *testing.T) {
	task := Task{
		EventID:   "evt_1",
		EventType: "payment.succeeded",
		Payload:   []byte(`{"amount":4999,"currency":"usd"}`),
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	body, err := EncodeWireBody(task, now)
	if err != nil {
		t.Fatalf("EncodeWireBody() error = %v", err)
	}

	var decoded WireBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.EventID != "evt_1" {
		t.Errorf("EventID = %q, want %q", decoded.EventID, "evt_1")
	}
	if decoded.EventType != "payment.succeeded" {
		t.Errorf("EventType = %q, want %q", decoded.EventType, "payment.succeeded")
	}
	if decoded.Timestamp != "2024-06-01T12:00:00Z" {
		t.Errorf("Timestamp = %q, want %q", decoded.Timestamp, "2024-06-01T12:00:00Z")
	}
	if decoded.Data["amount"] != float64(4999) {
		t.Errorf("Data.amount = %v, want 4999", decoded.Data["amount"])
	}
}

// The same task must serialize to the same bytes every time, because the
// signature is computed over the exact bytes sent.
func TestEncodeWireBodyIsDeterministic(t *testing.T) {
	task := Task{
		EventID:   "evt_1",
		EventType: "product.updated",
		Payload:   []byte(`{"z":1,"a":{"c":2,"b":3},"m":[1,2,3]}`),
	}
	now := time.Now()

	first, err := EncodeWireBody(task, now)
	if err != nil {
		t.Fatalf("EncodeWireBody() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := EncodeWireBody(task, now)
		if err != nil {
			t.Fatalf("EncodeWireBody() error = %v", err)
		}
		if string(first) != string(again) {
			t.Fatalf("EncodeWireBody() not deterministic:\n%s\n%s", first, again)
		}
	}
}

func TestEncodeWireBodyRejectsBadPayload(t *testing.T) {
	task := Task{EventID: "evt_1", EventType: "x", Payload: []byte(`{not json`)}
	if _, err := EncodeWireBody(task, time.Now()); err == nil {
		t.Error("EncodeWireBody() with invalid payload: expected error")
	}
}

package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/moorings/berthhook/internal/config"
	"github.com/moorings/berthhook/internal/delivery"
)

type receiver struct {
	secret     string
	sigHeader  string
	tsHeader   string
	failFirstN int64
	maxSkew    time.Duration
	delay      time.Duration

	reqCount atomic.Int64
}

func main() {
	cfg := config.FromEnv()
	rcv := &receiver{
		secret:     cfg.FakeReceiver.SubscriptionSecret,
		sigHeader:  cfg.Webhook.SignatureHeader,
		tsHeader:   cfg.Webhook.TimestampHeader,
		failFirstN: int64(cfg.FakeReceiver.FailFirstN),
		maxSkew:    time.Duration(cfg.FakeReceiver.SigningLeewaySeconds) * time.Second,
		delay:      time.Duration(cfg.FakeReceiver.ResponseDelayMS) * time.Millisecond,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rcv.handleHook)

	log.Printf("fake-receiver listening on %s", cfg.FakeReceiver.Port)
	log.Fatal(http.ListenAndServe(cfg.FakeReceiver.Port, mux))
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rc.delay > 0 {
		time.Sleep(rc.delay)
	}

	if rc.secret != "" {
		if ok, msg := rc.verify(b, r.Header.Get(rc.tsHeader), r.Header.Get(rc.sigHeader)); !ok {
			log.Printf("fake-receiver failed to verify signature: %s", msg)
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= rc.failFirstN {
		log.Printf("FAILING (%d/%d) %s body=%s", n, rc.failFirstN, r.URL.Path, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s event=%q body=%q", r.URL.Path, r.Header.Get("X-BerthHook-Event"), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// verify checks the HMAC over the body bytes and that the timestamp
// header is within the allowed skew.
func (rc *receiver) verify(body []byte, ts, sig string) (bool, string) {
	if ts == "" || sig == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	if abs64(time.Now().Unix()-unix) > int64(rc.maxSkew.Seconds()) {
		return false, "timestamp too far from now (outside leeway)"
	}
	if !delivery.VerifySignature(rc.secret, body, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

// abs64 returns the absolute value of an int64
func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

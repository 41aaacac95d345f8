package delivery

import (
	"math/rand"
	"strings"
	"time"
)

// Outcome of one delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeRetry
	OutcomeFailed
)

// RetryPolicy governs how failed attempts are rescheduled.
type RetryPolicy struct {
	MaxAttempts int             // total attempts, first one included
	Schedule    []time.Duration // delay after attempt 1, 2, ...
	Jitter      float64         // +/- fraction applied to the delay
}

// DefaultPolicy retries twice after the first failure, at roughly +5s and
// +25s (a third failure at +125s would apply with a larger budget).
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Schedule:    []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second},
		Jitter:      0.25,
	}
}

// Decide maps an attempt result to the delivery's next state. attempt is
// the 1-based number of the attempt that just completed.
//
// 2xx is delivered. Transport errors, 5xx and 429 are transient and
// retried until the budget runs out. Any other 4xx means the receiver
// rejected the payload; retrying cannot help, so it fails immediately.
func (p RetryPolicy) Decide(status int, doErr error, attempt int) (Outcome, time.Duration, string) {
	if doErr == nil && status >= 200 && status < 300 {
		return OutcomeDelivered, 0, ""
	}
	reason := classifyReason(doErr, status)
	transient := doErr != nil || status >= 500 || status == 429
	if !transient {
		return OutcomeFailed, 0, reason
	}
	if attempt >= p.MaxAttempts {
		return OutcomeFailed, 0, reason
	}
	return OutcomeRetry, p.delay(attempt), reason
}

// delay returns the jittered backoff for the attempt that just failed.
func (p RetryPolicy) delay(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	base := p.Schedule[idx]
	j := 1 + (rand.Float64()*2-1)*p.Jitter
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		switch {
		case strings.Contains(errLower, "timeout"), strings.Contains(errLower, "deadline exceeded"):
			return "timeout"
		case strings.Contains(errLower, "connection refused"):
			return "connection_refused"
		case strings.Contains(errLower, "no such host"):
			return "dns_error"
		}
		return "network"
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == 429:
		return "http_429"
	case status >= 400:
		return "http_4xx"
	}
	return "other"
}

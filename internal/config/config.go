package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	EventsTopic     string // bus topic business services publish to
	RecorderChannel string // channel the recorder consumes on
}

type Webhook struct {
	SignatureHeader string
	EventHeader     string
	EventIDHeader   string
	TimestampHeader string
	UserAgent       string
}

type Worker struct {
	MaxAttempts     int             // total attempts per delivery
	BackoffSchedule []time.Duration // delay after attempt 1, 2, ...
	JitterPercent   float64         // backoff jitter (0.0-1.0)
	PollInterval    time.Duration   // idle sleep between claim rounds
	ClaimBatch      int             // deliveries claimed per round
	Concurrency     int             // parallel in-flight deliveries
	RequestTimeout  time.Duration   // outbound HTTP timeout
	LeaseTimeout    time.Duration   // inflight rows older than this are reclaimed
	HTTPAddr        string          // health/metrics listen address
}

type Recorder struct {
	HTTPAddr   string // health/metrics listen address
	SigningKey string // HS256 key for bus tenant assertions
	Strict     bool   // reject conflicting tenant fields instead of overwriting
}

type FakeReceiver struct {
	FailFirstN           int
	SubscriptionSecret   string
	SigningLeewaySeconds int
	ResponseDelayMS      int
	Port                 string
}

type Config struct {
	AppName      string
	DB           DB
	NSQ          NSQ
	Webhook      Webhook
	Worker       Worker
	Recorder     Recorder
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second}
}

// ParseBackoffSchedule parses a comma-separated duration list, e.g.
// "5s,25s,125s". Invalid entries are dropped; an empty result falls back
// to the default schedule.
func ParseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoffSchedule()
	}
	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		if d, err := time.ParseDuration(strings.TrimSpace(part)); err == nil {
			durations = append(durations, d)
		}
	}
	if len(durations) == 0 {
		return defaultBackoffSchedule()
	}
	return durations
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "berthhook"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "berthhook"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			EventsTopic:     getenv("NSQ_EVENTS_TOPIC", "events"),
			RecorderChannel: getenv("NSQ_RECORDER_CHANNEL", "recorder"),
		},
		Webhook: Webhook{
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "X-BerthHook-Signature"),
			EventHeader:     getenv("WEBHOOK_EVENT_HEADER", "X-BerthHook-Event"),
			EventIDHeader:   getenv("WEBHOOK_EVENT_ID_HEADER", "X-BerthHook-Event-Id"),
			TimestampHeader: getenv("WEBHOOK_TIMESTAMP_HEADER", "X-BerthHook-Timestamp"),
			UserAgent:       getenv("WEBHOOK_USER_AGENT", "berthhook/1.0"),
		},
		Worker: Worker{
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 3),
			BackoffSchedule: ParseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			PollInterval:    getenvDuration("WORKER_POLL_INTERVAL", 1*time.Second),
			ClaimBatch:      getenvInt("WORKER_CLAIM_BATCH", 50),
			Concurrency:     getenvInt("WORKER_CONCURRENCY", 16),
			RequestTimeout:  getenvDuration("WORKER_REQUEST_TIMEOUT", 30*time.Second),
			LeaseTimeout:    getenvDuration("WORKER_LEASE_TIMEOUT", 5*time.Minute),
			HTTPAddr:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		Recorder: Recorder{
			HTTPAddr:   ":" + getenv("RECORDER_HTTP_PORT", "8082"),
			SigningKey: getenv("BUS_SIGNING_KEY", ""),
			Strict:     getenvBool("TENANT_STRICT", false),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			SubscriptionSecret:   getenv("SUBSCRIPTION_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 ":" + getenv("FAKE_RECEIVER_PORT", "8081"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

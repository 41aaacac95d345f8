package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.AppName != "berthhook" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "berthhook")
	}
	if cfg.Worker.MaxAttempts != 3 {
		t.Errorf("Worker.MaxAttempts = %d, want 3", cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.RequestTimeout != 30*time.Second {
		t.Errorf("Worker.RequestTimeout = %v, want 30s", cfg.Worker.RequestTimeout)
	}
	want := []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second}
	if len(cfg.Worker.BackoffSchedule) != len(want) {
		t.Fatalf("BackoffSchedule len = %d, want %d", len(cfg.Worker.BackoffSchedule), len(want))
	}
	for i, d := range want {
		if cfg.Worker.BackoffSchedule[i] != d {
			t.Errorf("BackoffSchedule[%d] = %v, want %v", i, cfg.Worker.BackoffSchedule[i], d)
		}
	}
	if cfg.Webhook.SignatureHeader != "X-BerthHook-Signature" {
		t.Errorf("SignatureHeader = %q, want %q", cfg.Webhook.SignatureHeader, "X-BerthHook-Signature")
	}
	if cfg.NSQ.EventsTopic != "events" {
		t.Errorf("EventsTopic = %q, want %q", cfg.NSQ.EventsTopic, "events")
	}
}

func TestListenAddrsArePrefixed(t *testing.T) {
	t.Setenv("WORKER_HTTP_PORT", "9001")
	t.Setenv("RECORDER_HTTP_PORT", "9002")
	t.Setenv("FAKE_RECEIVER_PORT", "9003")

	cfg := FromEnv()
	if cfg.Worker.HTTPAddr != ":9001" {
		t.Errorf("Worker.HTTPAddr = %q, want %q", cfg.Worker.HTTPAddr, ":9001")
	}
	if cfg.Recorder.HTTPAddr != ":9002" {
		t.Errorf("Recorder.HTTPAddr = %q, want %q", cfg.Recorder.HTTPAddr, ":9002")
	}
	if cfg.FakeReceiver.Port != ":9003" {
		t.Errorf("FakeReceiver.Port = %q, want %q", cfg.FakeReceiver.Port, ":9003")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("TENANT_STRICT", "true")
	t.Setenv("WORKER_POLL_INTERVAL", "250ms")

	cfg := FromEnv()
	if cfg.DB.Host != "db.internal" {
		t.Errorf("DB.Host = %q, want %q", cfg.DB.Host, "db.internal")
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Errorf("Worker.MaxAttempts = %d, want 5", cfg.Worker.MaxAttempts)
	}
	if !cfg.Recorder.Strict {
		t.Error("Recorder.Strict = false, want true")
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v, want 250ms", cfg.Worker.PollInterval)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "not-a-number")
	t.Setenv("BACKOFF_JITTER_PCT", "soon")

	cfg := FromEnv()
	if cfg.Worker.MaxAttempts != 3 {
		t.Errorf("Worker.MaxAttempts = %d, want default 3", cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.JitterPercent != 0.25 {
		t.Errorf("Worker.JitterPercent = %v, want default 0.25", cfg.Worker.JitterPercent)
	}
}

func TestParseBackoffSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		want     []time.Duration
	}{
		{name: "custom schedule", schedule: "1s, 2s,4s", want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{name: "empty falls back to default", schedule: "", want: defaultBackoffSchedule()},
		{name: "all garbage falls back to default", schedule: "abc,def", want: defaultBackoffSchedule()},
		{name: "partial garbage keeps valid entries", schedule: "3s,nope", want: []time.Duration{3 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseBackoffSchedule(tt.schedule)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseBackoffSchedule() len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ParseBackoffSchedule()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5432", Name: "d"}}
	want := "postgres://u:p@h:5432/d?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

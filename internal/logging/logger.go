package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/moorings/berthhook/internal/tracing"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Entry is a structured log entry, emitted as one JSON line.
type Entry struct {
	Time           time.Time      `json:"time"`
	Level          Level          `json:"level"`
	Message        string         `json:"msg"`
	Service        string         `json:"service,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	EventID        string         `json:"event_id,omitempty"`
	DeliveryID     string         `json:"delivery_id,omitempty"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`

	logger *Logger
}

// Logger emits trace-correlated JSON log lines for one service.
type Logger struct {
	service string

	mu  sync.Mutex
	out io.Writer
}

// New creates a logger writing to stdout.
func New(service string) *Logger {
	return &Logger{service: service, out: os.Stdout}
}

// NewWithWriter creates a logger writing to w. Used by tests.
func NewWithWriter(service string, w io.Writer) *Logger {
	return &Logger{service: service, out: w}
}

func (l *Logger) entry() *Entry {
	return &Entry{
		Time:    time.Now().UTC(),
		Service: l.service,
		logger:  l,
	}
}

// Plain creates an entry without context correlation.
func (l *Logger) Plain() *Entry {
	return l.entry()
}

// WithContext creates an entry carrying the trace id from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Entry {
	e := l.entry()
	e.TraceID = tracing.GetTraceID(ctx)
	return e
}

// WithTenant sets the tenant id.
func (e *Entry) WithTenant(tenantID string) *Entry {
	e.TenantID = tenantID
	return e
}

// WithEvent sets the event id.
func (e *Entry) WithEvent(eventID string) *Entry {
	e.EventID = eventID
	return e
}

// WithDelivery sets the delivery id.
func (e *Entry) WithDelivery(deliveryID string) *Entry {
	e.DeliveryID = deliveryID
	return e
}

// WithSubscription sets the subscription id.
func (e *Entry) WithSubscription(subscriptionID string) *Entry {
	e.SubscriptionID = subscriptionID
	return e
}

// WithField adds a single key-value pair.
func (e *Entry) WithField(key string, value any) *Entry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple key-value pairs.
func (e *Entry) WithFields(fields map[string]any) *Entry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError adds err under the "error" field. Nil is ignored.
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

// Debug logs at debug level.
func (e *Entry) Debug(msg string) { e.log(LevelDebug, msg) }

// Info logs at info level.
func (e *Entry) Info(msg string) { e.log(LevelInfo, msg) }

// Infof logs at info level with formatting.
func (e *Entry) Infof(format string, args ...any) { e.log(LevelInfo, fmt.Sprintf(format, args...)) }

// Warn logs at warn level.
func (e *Entry) Warn(msg string) { e.log(LevelWarn, msg) }

// Error logs at error level.
func (e *Entry) Error(msg string) { e.log(LevelError, msg) }

// Errorf logs at error level with formatting.
func (e *Entry) Errorf(format string, args ...any) { e.log(LevelError, fmt.Sprintf(format, args...)) }

// Fatal logs at fatal level and exits.
func (e *Entry) Fatal(msg string) {
	e.log(LevelFatal, msg)
	os.Exit(1)
}

func (e *Entry) log(level Level, msg string) {
	e.Level = level
	e.Message = msg

	l := e.logger
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: marshal failed: %v\n", err)
		data = []byte(fmt.Sprintf("%s [%s] %s", e.Time.Format(time.RFC3339), e.Level, e.Message))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

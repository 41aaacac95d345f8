package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/moorings/berthhook/internal/auth"
	"github.com/moorings/berthhook/internal/config"
	"github.com/moorings/berthhook/internal/db"
	"github.com/moorings/berthhook/internal/health"
	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/metrics"
	"github.com/moorings/berthhook/internal/recorder"
	"github.com/moorings/berthhook/internal/tenant"
	"github.com/moorings/berthhook/internal/tenantdb"
	"github.com/moorings/berthhook/internal/tracing"
)

const requeueDelay = 5 * time.Second

// terminal reports whether a record error can never succeed on retry.
// Requeueing those would just spin the message forever.
func terminal(err error) bool {
	return errors.Is(err, recorder.ErrEmptyEventType) ||
		errors.Is(err, tenant.ErrEmptyTenantID) ||
		errors.Is(err, tenant.ErrNestedTenant) ||
		errors.Is(err, tenantdb.ErrCrossTenant)
}

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("berthhook-recorder")

	if cfg.Recorder.SigningKey == "" {
		logger.Plain().Fatal("BUS_SIGNING_KEY is required")
	}

	shutdown, err := tracing.Init(ctx, "berthhook-recorder")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdown()

	if err := db.Migrate(cfg.DSN()); err != nil {
		logger.Plain().WithError(err).Fatal("migrate failed")
	}
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Recorder.HTTPAddr, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("recorder HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("recorder HTTP server failed")
		}
	}()

	tdb := tenantdb.New(pool, cfg.Recorder.Strict, logger)
	rec := recorder.New(tdb, logger)
	verifier := auth.NewVerifier(cfg.Recorder.SigningKey)

	conf := nsq.NewConfig()
	conf.MaxInFlight = 256
	consumer, err := nsq.NewConsumer(cfg.NSQ.EventsTopic, cfg.NSQ.RecorderChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse()

		var env recorder.Envelope
		if err := json.Unmarshal(m.Body, &env); err != nil {
			logger.Plain().WithError(err).Error("bad envelope payload")
			m.Finish()
			return nil
		}

		tenantID, err := verifier.Verify(env.TenantToken)
		if err != nil {
			logger.Plain().WithError(err).WithField("event_type", env.EventType).Error("tenant assertion rejected")
			m.Finish()
			return nil
		}

		ctx := tracing.ExtractBusHeaders(ctx, env.TraceHeaders)
		ctx, span := tracing.StartSpan(ctx, "recorder.consume",
			attribute.String("tenant_id", tenantID),
			attribute.String("event_type", env.EventType),
		)
		defer span.End()

		var occurredAt time.Time
		if env.OccurredAt != "" {
			if ts, perr := time.Parse(time.RFC3339, env.OccurredAt); perr == nil {
				occurredAt = ts
			}
		}

		res, err := rec.Record(ctx, tenantID, env.EventType, env.Payload, env.EventID, occurredAt)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			entry := logger.WithContext(ctx).WithTenant(tenantID).WithError(err).
				WithField("event_type", env.EventType)
			if terminal(err) {
				entry.Error("unrecordable event dropped")
				m.Finish()
				return nil
			}
			entry.Warn("record failed, requeueing")
			m.Requeue(requeueDelay)
			return nil
		}

		span.SetAttributes(
			attribute.String("event_id", res.EventID),
			attribute.Int("fanout_created", res.Created),
		)
		m.Finish()
		return nil
	}))

	// nsqd may come up after us; retry the initial connect with backoff
	// instead of crash-looping.
	backoffCfg := backoff.NewExponentialBackOff()
	deadline := time.Now().Add(2 * time.Minute)
	for {
		err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			logger.Plain().WithError(err).Fatal("connect to nsqd failed")
		}
		sleep := backoffCfg.NextBackOff()
		logger.Plain().WithError(err).WithField("retry_in", sleep.String()).Warn("nsqd connect failed, retrying")
		time.Sleep(sleep)
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().WithFields(map[string]any{
		"topic":   cfg.NSQ.EventsTopic,
		"channel": cfg.NSQ.RecorderChannel,
	}).Info("recorder service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down recorder service")
	consumer.Stop()
	<-consumer.StopChan
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = httpSrv.Shutdown(shutCtx)
	logger.Plain().Info("recorder service stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moorings/berthhook/internal/config"
	"github.com/moorings/berthhook/internal/db"
	"github.com/moorings/berthhook/internal/delivery"
	"github.com/moorings/berthhook/internal/health"
	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/metrics"
	"github.com/moorings/berthhook/internal/tenantdb"
	"github.com/moorings/berthhook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("berthhook-worker")

	shutdown, err := tracing.Init(ctx, "berthhook-worker")
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
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPAddr, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	tdb := tenantdb.New(pool, cfg.Recorder.Strict, logger)
	worker := delivery.NewWorker(tdb, logger, cfg.Worker, cfg.Webhook)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			logger.Plain().WithError(err).Error("worker stopped with error")
		}
	}()

	logger.Plain().WithFields(map[string]any{
		"claim_batch": cfg.Worker.ClaimBatch,
		"concurrency": cfg.Worker.Concurrency,
	}).Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Plain().Warn("worker did not drain in time")
	}
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = httpSrv.Shutdown(shutCtx)
	logger.Plain().Info("worker service stopped")
}

// Command worker runs the pipeline-dispatch side of Clarinet (C1-C4): it
// binds its queues per the process's capability flags, runs every
// registered task through the post-execute middleware chain, and serves an
// operator diagnostics surface until told to shut down.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/radionest/clarinet/broker"
	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/config"
	"github.com/radionest/clarinet/middleware"
	"github.com/radionest/clarinet/pipeline"
	"github.com/radionest/clarinet/statemanager"
	"github.com/radionest/clarinet/storage"
	"github.com/radionest/clarinet/version"
	"github.com/radionest/clarinet/worker"
)

// registerPipelines is where a real deployment imports every package that
// builds a pipeline.Pipeline / registers a task via init()-time side
// effects, so the task registry is populated before Start is called.
func registerPipelines() {}

func main() {
	loggerConfig := common.DefaultLoggerConfig()
	loggerConfig.Format = common.GetEnv("CLARINET_LOG_FORMAT", loggerConfig.Format)
	log := logrus.NewEntry(common.NewLogger(loggerConfig))
	amqpDep := version.GetDependency("github.com/streadway/amqp")
	log.WithField("module_version", version.GetModuleVersion()).WithField("amqp_driver", amqpDep).
		Info("clarinet: worker starting")
	cfg := config.Load("CLARINET")

	log.WithField("broker_url", common.MaskSecret(cfg.Broker.URL)).Info("clarinet: connecting to broker")
	adapter := broker.NewAdapter(broker.Config{
		URL:          cfg.Broker.URL,
		Exchange:     cfg.Broker.Exchange,
		ReconnectMin: cfg.Broker.ReconnectMin,
		ReconnectMax: cfg.Broker.ReconnectMax,
	}, broker.RealDialer{}, log)
	defer adapter.Close()

	if err := adapter.Declare(broker.DLQQueue); err != nil {
		log.WithError(err).Fatal("clarinet: declare dead-letter queue")
	}

	definitionStore, err := storage.OpenBoltStorage(common.GetEnv("CLARINET_PIPELINE_DB", "clarinet-pipelines.db"))
	if err != nil {
		log.WithError(err).Fatal("clarinet: open pipeline storage")
	}
	defer definitionStore.Close()

	registerPipelines()
	if err := pipeline.Sync(definitionStore); err != nil {
		log.WithError(err).Fatal("clarinet: sync pipeline definitions")
	}

	chain := middleware.NewChain(
		middleware.NewRetryMiddleware(middleware.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      cfg.Retry.Jitter,
			Exponent:    2,
		}, adapter, log),
		middleware.NewLoggingMiddleware(log),
		middleware.NewDLQMiddleware(adapter, log),
		middleware.NewChainMiddleware(adapter, log),
	)

	metrics := worker.NewMetrics("")
	recorder := statemanager.New(statemanager.Config{WorkerName: common.GetEnv("CLARINET_WORKER_NAME", "worker")})

	pool := worker.NewPool(adapter, chain, worker.Config{
		HaveGPU:            cfg.Worker.HaveGPU,
		HaveDICOM:          cfg.Worker.HaveDICOM,
		DefaultConcurrency: cfg.Worker.DefaultConcurrency,
		GPUConcurrency:     cfg.Worker.GPUConcurrency,
		DICOMConcurrency:   cfg.Worker.DICOMConcurrency,
		AckPolicy:          cfg.Worker.AckPolicy,
	}, log, metrics).WithRecorder(recorder)

	idemURL := common.GetEnv("CLARINET_IDEMPOTENCE_REDIS_URL", "")
	if idemURL != "" {
		idemTTL := common.GetEnvDuration("CLARINET_IDEMPOTENCE_TTL", 24*time.Hour)
		idem, err := storage.NewIdempotenceCache(idemURL, idemTTL)
		if err != nil {
			log.WithError(err).Fatal("clarinet: connect idempotence cache")
		}
		defer idem.Close()
		pool = pool.WithIdempotence(idem)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		log.WithError(err).Fatal("clarinet: start worker pool")
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/version", func(c echo.Context) error { return c.JSON(http.StatusOK, version.GetBuildInfo()) })
	recorder.RegisterRoutes(e.Group("/admin"))
	go func() {
		if err := e.Start(common.GetEnv("CLARINET_ADMIN_ADDR", ":8090")); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("clarinet: admin server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("clarinet: shutdown signal received, draining")
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := e.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("clarinet: admin server shutdown")
	}
}


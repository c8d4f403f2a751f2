package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"translation-service/pkg/cancelbus"
	"translation-service/pkg/config"
	"translation-service/pkg/engine"
	"translation-service/pkg/executor"
	"translation-service/pkg/job"
	"translation-service/pkg/mq"
	"translation-service/pkg/observability"
	"translation-service/pkg/statusstore"
	"translation-service/pkg/storage"
	"translation-service/pkg/validate"
)

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return
	}

	store := statusstore.New(cfg.StoreURL, cfg.StoreKey, logger)

	s3, err := storage.NewS3Client(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageUseSSL)
	if err != nil {
		slog.Error("failed to create storage client", "error", err)
		return
	}
	guard := storage.NewGuard(cfg.AllowedFetchHosts, logger)
	fetcher := storage.NewFetcher(guard, s3, cfg.StorageBucket, cfg.StoragePublicURL, logger)
	uploader := storage.NewUploader(s3, cfg.StorageBucket, cfg.StoragePublicURL, logger)

	eng := engine.NewCommandEngine(cfg.EngineBin, logger)
	adapter := engine.NewAdapter(eng, store, logger)

	exec := executor.New(store, fetcher,
		validate.PDFValidator{Limits: validate.Limits{MaxFileSize: cfg.MaxFileSize, MaxPages: cfg.MaxPages}},
		adapter, uploader,
		executor.Options{
			MaxRetries:  cfg.MaxRetries,
			SoftTimeout: cfg.SoftTimeout,
			WorkDir:     cfg.WorkDir,
			LangIn:      cfg.LangIn,
			LangOut:     cfg.LangOut,
		}, logger)

	mqClient, err := mq.New(cfg.AMQPURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		return
	}
	defer mqClient.Close()

	tiers := make([]job.Tier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, job.Tier(t.Name))
	}
	if err := mqClient.SetupTopology(tiers); err != nil {
		slog.Error("failed to setup rabbitmq topology", "error", err)
		return
	}

	rdb, err := cancelbus.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		return
	}
	defer rdb.Close()

	registry := cancelbus.NewRegistry()
	bus := cancelbus.New(rdb, logger)

	observability.StartMetricsServer(cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx, registry)

	w := &worker{
		exec:        exec,
		mq:          mqClient,
		registry:    registry,
		hardTimeout: cfg.HardTimeout,
		logger:      logger,
	}

	var wg sync.WaitGroup
	for _, tier := range cfg.Tiers {
		wg.Add(1)
		go w.runTier(ctx, &wg, job.Tier(tier.Name), tier.Workers)
	}

	slog.Info("all tier pools started. waiting for jobs...")

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutdown signal received, stopping workers...")
	cancel()
	wg.Wait()
	slog.Info("all workers stopped gracefully")
}

type worker struct {
	exec        *executor.Executor
	mq          *mq.Client
	registry    *cancelbus.Registry
	hardTimeout time.Duration
	logger      *slog.Logger
}

// runTier drains one tier's queue with a fixed-size pool. Each goroutine
// fully owns one job for the job's entire duration; there is no intra-job
// parallelism across pipeline stages.
func (w *worker) runTier(ctx context.Context, wg *sync.WaitGroup, tier job.Tier, concurrency int) {
	defer wg.Done()

	deliveries, err := w.mq.Consume(tier)
	if err != nil {
		w.logger.Error("failed to start consuming", "tier", tier, "error", err)
		return
	}
	w.logger.Info("tier pool started", "tier", tier, "concurrency", concurrency)

	innerWg := sync.WaitGroup{}
	innerWg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer innerWg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						return
					}
					w.handleDelivery(ctx, tier, msg)
				}
			}
		}()
	}

	<-ctx.Done()
	innerWg.Wait()
	w.logger.Info("tier pool shutting down", "tier", tier)
}

func (w *worker) handleDelivery(ctx context.Context, tier job.Tier, delivery amqp.Delivery) {
	m, err := job.DecodeMessage(delivery.Body)
	if err != nil {
		// Poison message; acking routes it out of the queue for good.
		w.logger.Error("dropping malformed delivery", "error", err)
		_ = delivery.Ack(false)
		return
	}
	l := w.logger.With("job_id", m.JobID, "tier", tier)

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()
	w.registry.Register(m.JobID, cancelAttempt)
	defer w.registry.Unregister(m.JobID)

	// Hard deadline: forcibly end the worker process without acking; the
	// broker's redelivery handles recovery, outside the pipeline's own retry
	// counter.
	watchdog := time.AfterFunc(w.hardTimeout, func() {
		l.Error("hard deadline exceeded, terminating worker", "timeout", w.hardTimeout)
		os.Exit(1)
	})
	defer watchdog.Stop()

	start := time.Now()
	res := w.exec.Execute(attemptCtx, m)
	observability.JobDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
	observability.JobsProcessed.WithLabelValues(string(tier), res.Outcome.String()).Inc()

	switch res.Outcome {
	case executor.OutcomeRetry:
		// Publish with a detached context so a cancelled attempt context
		// cannot lose the re-enqueue.
		delay := mq.RetryDelay(res.RetryCount)
		if err := w.mq.PublishToRetry(context.WithoutCancel(ctx), m, delay); err != nil {
			l.Error("failed to re-enqueue, returning delivery to broker", "error", err)
			_ = delivery.Nack(false, true)
			return
		}
		l.Info("re-enqueued for retry", "attempt", res.RetryCount, "delay", delay)
		_ = delivery.Ack(false)

	case executor.OutcomeRequeue:
		_ = delivery.Nack(false, true)

	case executor.OutcomeCancelled:
		if ctx.Err() != nil {
			// Shutdown, not a job cancel: give the delivery back.
			_ = delivery.Nack(false, true)
			return
		}
		_ = delivery.Ack(false)

	default: // completed, failed, skipped — handled terminally
		_ = delivery.Ack(false)
	}
}

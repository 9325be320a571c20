package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	deadletterservice "centsible/contexts/deletion-consensus/dead-letter-service"
	dlqmemory "centsible/contexts/deletion-consensus/dead-letter-service/adapters/memory"
	dlqpostgres "centsible/contexts/deletion-consensus/dead-letter-service/adapters/postgres"
	deletionexecutor "centsible/contexts/deletion-consensus/deletion-executor"
	execpostgres "centsible/contexts/deletion-consensus/deletion-executor/adapters/postgres"
	executorentities "centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
	executorerrors "centsible/contexts/deletion-consensus/deletion-executor/domain/errors"
	executorports "centsible/contexts/deletion-consensus/deletion-executor/ports"
	voteaggregator "centsible/contexts/deletion-consensus/vote-aggregator"
	aggpostgres "centsible/contexts/deletion-consensus/vote-aggregator/adapters/postgres"
	aggregatorerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	workflowtracker "centsible/contexts/deletion-consensus/workflow-tracker"
	trackerpostgres "centsible/contexts/deletion-consensus/workflow-tracker/adapters/postgres"
	trackererrors "centsible/contexts/deletion-consensus/workflow-tracker/domain/errors"
	"centsible/internal/platform/config"
	"centsible/internal/platform/db"
	"centsible/internal/platform/httpserver"
	"centsible/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	cfg          config.Config
	bus          *messaging.Bus
	aggregator   voteaggregator.Module
	executor     deletionexecutor.Module
	tracker      workflowtracker.Module
	deadLetters  deadletterservice.Module
	pollInterval time.Duration
	logger       *slog.Logger
}

// Runtime hosts every deletion-consensus module on one in-process bus. Used
// by local development and end-to-end tests; the API/worker split below is
// the production shape.
type Runtime struct {
	Bus         *messaging.Bus
	Aggregator  voteaggregator.Module
	Executor    deletionexecutor.Module
	Tracker     workflowtracker.Module
	DeadLetters deadletterservice.Module
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	trackerRepo := trackerpostgres.NewRepository(pg.DB, logger)
	tracker := workflowtracker.NewModule(workflowtracker.Dependencies{
		Progress: trackerRepo,
		Clock:    trackerpostgres.SystemClock{},
		Logger:   logger,
	})

	dlqRepo := dlqpostgres.NewRepository(pg.DB, logger)
	deadLetters := deadletterservice.NewModule(deadletterservice.Dependencies{
		Entries:   dlqRepo,
		Fallback:  dlqmemory.NewFallbackSink(logger),
		Clock:     dlqpostgres.SystemClock{},
		IDGen:     dlqpostgres.UUIDGenerator{},
		Retention: cfg.DeadLetterRetention,
		BatchSize: cfg.OutboxBatchSize,
		Logger:    logger,
	})

	// Reprocessed events re-enter the workflow through the shared bus.
	bus := messaging.NewBus(logger, retryPolicy(cfg), deadLetters.Recorder, permanentDeliveryError)
	deadLetters.Reprocess.Publisher = bus
	deadLetters.Handler.Reprocess.Publisher = bus

	server := httpserver.New(tracker, deadLetters, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	dlqRepo := dlqpostgres.NewRepository(pg.DB, logger)
	deadLetters := deadletterservice.NewModule(deadletterservice.Dependencies{
		Entries:   dlqRepo,
		Fallback:  dlqmemory.NewFallbackSink(logger),
		Clock:     dlqpostgres.SystemClock{},
		IDGen:     dlqpostgres.UUIDGenerator{},
		Retention: cfg.DeadLetterRetention,
		BatchSize: cfg.OutboxBatchSize,
		Logger:    logger,
	})

	bus := messaging.NewBus(logger, retryPolicy(cfg), deadLetters.Recorder, permanentDeliveryError)
	deadLetters.Reprocess.Publisher = bus
	deadLetters.Handler.Reprocess.Publisher = bus

	aggRepo := aggpostgres.NewRepository(pg.DB, logger)
	aggregator := voteaggregator.NewModule(voteaggregator.Dependencies{
		Ballots:         aggRepo,
		Outbox:          aggRepo,
		OutboxRelay:     aggRepo,
		Dedup:           aggRepo,
		Subscriber:      bus,
		Publisher:       bus,
		Clock:           aggpostgres.SystemClock{},
		IDGen:           aggpostgres.UUIDGenerator{},
		DefaultDeadline: cfg.VoteDeadline,
		DedupTTL:        7 * 24 * time.Hour,
		BatchSize:       cfg.OutboxBatchSize,
		Logger:          logger,
	})

	execRepo := execpostgres.NewRepository(pg.DB, logger)
	executor := deletionexecutor.NewModule(deletionexecutor.Dependencies{
		Executions: execRepo,
		Stores: map[executorentities.Step]executorports.TargetStore{
			executorentities.StepCategoryAssignments: execpostgres.NewTableTargetStore(pg.DB, "category_assignments", "file_id", logger),
			executorentities.StepTransactions:        execpostgres.NewTableTargetStore(pg.DB, "transactions", "file_id", logger),
			executorentities.StepFileMetadata:        execpostgres.NewTableTargetStore(pg.DB, "file_metadata", "file_id", logger),
			executorentities.StepBlobStorage:         execpostgres.NewTableTargetStore(pg.DB, "blob_objects", "file_id", logger),
		},
		Outbox:      execRepo,
		OutboxRelay: execRepo,
		Dedup:       execRepo,
		Subscriber:  bus,
		Publisher:   bus,
		Clock:       execpostgres.SystemClock{},
		IDGen:       execpostgres.UUIDGenerator{},
		DedupTTL:    7 * 24 * time.Hour,
		BatchSize:   cfg.OutboxBatchSize,
		Logger:      logger,
	})

	trackerRepo := trackerpostgres.NewRepository(pg.DB, logger)
	tracker := workflowtracker.NewModule(workflowtracker.Dependencies{
		Progress:   trackerRepo,
		Subscriber: bus,
		Clock:      trackerpostgres.SystemClock{},
		Logger:     logger,
	})

	return &WorkerApp{
		postgres:     pg,
		cfg:          cfg,
		bus:          bus,
		aggregator:   aggregator,
		executor:     executor,
		tracker:      tracker,
		deadLetters:  deadLetters,
		pollInterval: cfg.WorkerPollInterval,
		logger:       logger,
	}, nil
}

// NewMemoryRuntime wires every module against in-memory stores and starts
// the consumers. targetIDs pre-seed each executor target store.
func NewMemoryRuntime(ctx context.Context, targetIDs []string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	deadLetters := deadletterservice.NewInMemoryModule(nil, logger)
	bus := messaging.NewBus(logger, messaging.RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	}, deadLetters.Recorder, permanentDeliveryError)
	deadLetters.Reprocess.Publisher = bus
	deadLetters.Handler.Reprocess.Publisher = bus

	aggregator := voteaggregator.NewInMemoryModule(bus, bus, logger)
	executor := deletionexecutor.NewInMemoryModule(bus, bus, targetIDs, logger)
	tracker := workflowtracker.NewInMemoryModule(bus, logger)

	runtime := &Runtime{
		Bus:         bus,
		Aggregator:  aggregator,
		Executor:    executor,
		Tracker:     tracker,
		DeadLetters: deadLetters,
	}
	if err := runtime.startConsumers(ctx); err != nil {
		return nil, err
	}
	return runtime, nil
}

func (r *Runtime) startConsumers(ctx context.Context) error {
	if err := r.Aggregator.RequestWorker.Start(ctx); err != nil {
		return err
	}
	if err := r.Aggregator.VoteWorker.Start(ctx); err != nil {
		return err
	}
	if err := r.Aggregator.CancelWorker.Start(ctx); err != nil {
		return err
	}
	if err := r.Executor.DecisionWorker.Start(ctx); err != nil {
		return err
	}
	return r.Tracker.LifecycleWorker.Start(ctx)
}

// Sweep runs one round of every periodic job: ballot timeouts, both outbox
// relays and dead-letter retention.
func (r *Runtime) Sweep(ctx context.Context) error {
	if err := r.Aggregator.TimeoutSweeper.RunOnce(ctx); err != nil {
		return err
	}
	if err := r.Aggregator.OutboxRelay.RunOnce(ctx); err != nil {
		return err
	}
	if err := r.Executor.OutboxRelay.RunOnce(ctx); err != nil {
		return err
	}
	return r.DeadLetters.RetentionSweeper.RunOnce(ctx)
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.startConsumers(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if err := w.runJobs(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) startConsumers(ctx context.Context) error {
	if w.cfg.EnableVoteAggregator {
		if err := w.aggregator.RequestWorker.Start(ctx); err != nil {
			return err
		}
		if err := w.aggregator.VoteWorker.Start(ctx); err != nil {
			return err
		}
		if w.cfg.EnableCancellationEvent {
			if err := w.aggregator.CancelWorker.Start(ctx); err != nil {
				return err
			}
		}
	}
	if w.cfg.EnableDeletionExecutor {
		if err := w.executor.DecisionWorker.Start(ctx); err != nil {
			return err
		}
	}
	if w.cfg.EnableWorkflowTracker {
		if err := w.tracker.LifecycleWorker.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *WorkerApp) runJobs(ctx context.Context) error {
	if w.cfg.EnableVoteAggregator {
		if w.cfg.EnableTimeoutSweep {
			if err := w.aggregator.TimeoutSweeper.RunOnce(ctx); err != nil {
				return err
			}
		}
		if err := w.aggregator.OutboxRelay.RunOnce(ctx); err != nil {
			return err
		}
	}
	if w.cfg.EnableDeletionExecutor {
		if err := w.executor.OutboxRelay.RunOnce(ctx); err != nil {
			return err
		}
	}
	if w.cfg.EnableDeadLetterExpiry {
		if err := w.deadLetters.RetentionSweeper.RunOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

// permanentDeliveryError classifies handler errors the bus must not retry.
// Validation failures never heal on redelivery; everything else is assumed
// transient.
func permanentDeliveryError(err error) bool {
	return errors.Is(err, aggregatorerrors.ErrInvalidEventPayload) ||
		errors.Is(err, aggregatorerrors.ErrInvalidRequestInput) ||
		errors.Is(err, aggregatorerrors.ErrInvalidVoteInput) ||
		errors.Is(err, aggregatorerrors.ErrInvalidCancelInput) ||
		errors.Is(err, executorerrors.ErrInvalidEventPayload) ||
		errors.Is(err, executorerrors.ErrInvalidExecutionInput) ||
		errors.Is(err, trackererrors.ErrInvalidEventPayload)
}

func retryPolicy(cfg config.Config) messaging.RetryPolicy {
	return messaging.RetryPolicy{
		MaxAttempts:     cfg.DeliveryMaxAttempts,
		InitialInterval: cfg.DeliveryBackoffBase,
		MaxInterval:     cfg.DeliveryBackoffMax,
		MaxEventAge:     cfg.DeliveryMaxEventAge,
	}
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}

package deletionexecutor

import (
	"log/slog"
	"time"

	"centsible/contexts/deletion-consensus/deletion-executor/adapters/memory"
	"centsible/contexts/deletion-consensus/deletion-executor/application/commands"
	"centsible/contexts/deletion-consensus/deletion-executor/application/workers"
	"centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
	"centsible/contexts/deletion-consensus/deletion-executor/ports"
)

type Module struct {
	Executions     commands.ExecutionUseCase
	DecisionWorker workers.DecisionConsumer
	OutboxRelay    workers.OutboxRelay
	Store          *memory.Store
	TargetStores   map[entities.Step]*memory.TargetStore
}

type Dependencies struct {
	Executions  ports.ExecutionRepository
	Stores      map[entities.Step]ports.TargetStore
	Outbox      ports.OutboxWriter
	OutboxRelay ports.OutboxRepository
	Dedup       ports.EventDedupStore
	Subscriber  ports.EventSubscriber
	Publisher   ports.EventPublisher
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	DedupTTL    time.Duration
	BatchSize   int
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	executionUseCase := commands.ExecutionUseCase{
		Executions: deps.Executions,
		Stores:     deps.Stores,
		Outbox:     deps.Outbox,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Logger:     deps.Logger,
	}
	return Module{
		Executions: executionUseCase,
		DecisionWorker: workers.DecisionConsumer{
			Subscriber: deps.Subscriber,
			Dedup:      deps.Dedup,
			Executions: executionUseCase,
			Clock:      deps.Clock,
			DedupTTL:   deps.DedupTTL,
			Logger:     deps.Logger,
		},
		OutboxRelay: workers.OutboxRelay{
			Outbox:    deps.OutboxRelay,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
		},
	}
}

// NewInMemoryModule wires the executor against in-memory stores with every
// dependent store pre-seeded for the given targets.
func NewInMemoryModule(
	subscriber ports.EventSubscriber,
	publisher ports.EventPublisher,
	targetIDs []string,
	logger *slog.Logger,
) Module {
	store := memory.NewStore()
	targetStores := make(map[entities.Step]*memory.TargetStore, len(entities.OrderedSteps()))
	stores := make(map[entities.Step]ports.TargetStore, len(entities.OrderedSteps()))
	for _, step := range entities.OrderedSteps() {
		targetStore := memory.NewTargetStore(targetIDs...)
		targetStores[step] = targetStore
		stores[step] = targetStore
	}
	module := NewModule(Dependencies{
		Executions:  store,
		Stores:      stores,
		Outbox:      store,
		OutboxRelay: store,
		Dedup:       store,
		Subscriber:  subscriber,
		Publisher:   publisher,
		Clock:       store,
		IDGen:       store,
		DedupTTL:    24 * time.Hour,
		Logger:      logger,
	})
	module.Store = store
	module.TargetStores = targetStores
	return module
}

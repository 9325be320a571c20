package voteaggregator

import (
	"log/slog"
	"time"

	"centsible/contexts/deletion-consensus/vote-aggregator/adapters/memory"
	"centsible/contexts/deletion-consensus/vote-aggregator/application/commands"
	"centsible/contexts/deletion-consensus/vote-aggregator/application/workers"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"
)

type Module struct {
	Ballots        commands.BallotUseCase
	RequestWorker  workers.RequestConsumer
	VoteWorker     workers.VoteConsumer
	CancelWorker   workers.CancelConsumer
	TimeoutSweeper workers.TimeoutSweeper
	OutboxRelay    workers.OutboxRelay
	Store          *memory.Store
}

type Dependencies struct {
	Ballots         ports.BallotRepository
	Outbox          ports.OutboxWriter
	OutboxRelay     ports.OutboxRepository
	Dedup           ports.EventDedupStore
	Subscriber      ports.EventSubscriber
	Publisher       ports.EventPublisher
	Clock           ports.Clock
	IDGen           ports.IDGenerator
	DefaultDeadline time.Duration
	DedupTTL        time.Duration
	BatchSize       int
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	ballotUseCase := commands.BallotUseCase{
		Ballots:         deps.Ballots,
		Outbox:          deps.Outbox,
		Clock:           deps.Clock,
		IDGen:           deps.IDGen,
		DefaultDeadline: deps.DefaultDeadline,
		Logger:          deps.Logger,
	}
	return Module{
		Ballots: ballotUseCase,
		RequestWorker: workers.RequestConsumer{
			Subscriber: deps.Subscriber,
			Dedup:      deps.Dedup,
			Ballots:    ballotUseCase,
			Clock:      deps.Clock,
			DedupTTL:   deps.DedupTTL,
			Logger:     deps.Logger,
		},
		VoteWorker: workers.VoteConsumer{
			Subscriber: deps.Subscriber,
			Dedup:      deps.Dedup,
			Ballots:    ballotUseCase,
			Clock:      deps.Clock,
			DedupTTL:   deps.DedupTTL,
			Logger:     deps.Logger,
		},
		CancelWorker: workers.CancelConsumer{
			Subscriber: deps.Subscriber,
			Dedup:      deps.Dedup,
			Ballots:    ballotUseCase,
			Clock:      deps.Clock,
			DedupTTL:   deps.DedupTTL,
			Logger:     deps.Logger,
		},
		TimeoutSweeper: workers.TimeoutSweeper{
			Ballots:   ballotUseCase,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
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

func NewInMemoryModule(
	subscriber ports.EventSubscriber,
	publisher ports.EventPublisher,
	logger *slog.Logger,
) Module {
	store := memory.NewStore(nil)
	module := NewModule(Dependencies{
		Ballots:         store,
		Outbox:          store,
		OutboxRelay:     store,
		Dedup:           store,
		Subscriber:      subscriber,
		Publisher:       publisher,
		Clock:           store,
		IDGen:           store,
		DefaultDeadline: 72 * time.Hour,
		DedupTTL:        24 * time.Hour,
		Logger:          logger,
	})
	module.Store = store
	return module
}

package deadletterservice

import (
	"log/slog"
	"time"

	httpadapter "centsible/contexts/deletion-consensus/dead-letter-service/adapters/http"
	"centsible/contexts/deletion-consensus/dead-letter-service/adapters/memory"
	"centsible/contexts/deletion-consensus/dead-letter-service/application/commands"
	"centsible/contexts/deletion-consensus/dead-letter-service/application/queries"
	"centsible/contexts/deletion-consensus/dead-letter-service/application/workers"
	"centsible/contexts/deletion-consensus/dead-letter-service/ports"
)

type Module struct {
	Recorder         commands.Recorder
	Reprocess        commands.ReprocessUseCase
	Triage           queries.TriageUseCase
	Handler          httpadapter.Handler
	RetentionSweeper workers.RetentionSweeper
	Store            *memory.Store
	Fallback         *memory.FallbackSink
}

type Dependencies struct {
	Entries   ports.DeadLetterRepository
	Fallback  ports.FallbackSink
	Publisher ports.EventPublisher
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Retention time.Duration
	BatchSize int
	Logger    *slog.Logger
}

func NewModule(deps Dependencies) Module {
	reprocess := commands.ReprocessUseCase{
		Entries:   deps.Entries,
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
	}
	triage := queries.TriageUseCase{
		Entries: deps.Entries,
	}
	return Module{
		Recorder: commands.Recorder{
			Entries:   deps.Entries,
			Fallback:  deps.Fallback,
			Clock:     deps.Clock,
			IDGen:     deps.IDGen,
			Retention: deps.Retention,
			Logger:    deps.Logger,
		},
		Reprocess: reprocess,
		Triage:    triage,
		Handler: httpadapter.Handler{
			Triage:    triage,
			Reprocess: reprocess,
			Logger:    deps.Logger,
		},
		RetentionSweeper: workers.RetentionSweeper{
			Entries:   deps.Entries,
			Clock:     deps.Clock,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
		},
	}
}

func NewInMemoryModule(publisher ports.EventPublisher, logger *slog.Logger) Module {
	store := memory.NewStore()
	fallback := memory.NewFallbackSink(logger)
	module := NewModule(Dependencies{
		Entries:   store,
		Fallback:  fallback,
		Publisher: publisher,
		Clock:     store,
		IDGen:     store,
		Retention: 14 * 24 * time.Hour,
		Logger:    logger,
	})
	module.Store = store
	module.Fallback = fallback
	return module
}

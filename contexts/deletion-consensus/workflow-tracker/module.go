package workflowtracker

import (
	"log/slog"

	httpadapter "centsible/contexts/deletion-consensus/workflow-tracker/adapters/http"
	"centsible/contexts/deletion-consensus/workflow-tracker/adapters/memory"
	"centsible/contexts/deletion-consensus/workflow-tracker/application/queries"
	"centsible/contexts/deletion-consensus/workflow-tracker/application/workers"
	"centsible/contexts/deletion-consensus/workflow-tracker/ports"
)

type Module struct {
	Handler         httpadapter.Handler
	LifecycleWorker workers.LifecycleConsumer
	Store           *memory.Store
}

type Dependencies struct {
	Progress   ports.ProgressRepository
	Subscriber ports.EventSubscriber
	Clock      ports.Clock
	Logger     *slog.Logger
}

func NewModule(deps Dependencies) Module {
	progressUseCase := queries.ProgressUseCase{
		Progress: deps.Progress,
	}
	return Module{
		Handler: httpadapter.Handler{
			Progress: progressUseCase,
			Logger:   deps.Logger,
		},
		LifecycleWorker: workers.LifecycleConsumer{
			Subscriber: deps.Subscriber,
			Progress:   deps.Progress,
			Clock:      deps.Clock,
			Logger:     deps.Logger,
		},
	}
}

func NewInMemoryModule(subscriber ports.EventSubscriber, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Progress:   store,
		Subscriber: subscriber,
		Clock:      store,
		Logger:     logger,
	})
	module.Store = store
	return module
}

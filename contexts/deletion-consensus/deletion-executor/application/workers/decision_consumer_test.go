package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	"centsible/contexts/deletion-consensus/deletion-executor/adapters/memory"
	"centsible/contexts/deletion-consensus/deletion-executor/application/commands"
	"centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
	"centsible/contexts/deletion-consensus/deletion-executor/ports"
)

// stubSubscriber captures handlers so tests can deliver events synchronously.
type stubSubscriber struct {
	handlers map[string]func(context.Context, ports.EventEnvelope) error
}

func newStubSubscriber() *stubSubscriber {
	return &stubSubscriber{handlers: make(map[string]func(context.Context, ports.EventEnvelope) error)}
}

func (s *stubSubscriber) Subscribe(
	_ context.Context,
	eventType string,
	_ string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	s.handlers[eventType] = handler
	return nil
}

func (s *stubSubscriber) deliver(t *testing.T, event ports.EventEnvelope) error {
	t.Helper()
	handler, ok := s.handlers[event.Type]
	if !ok {
		t.Fatalf("no handler registered for %s", event.Type)
	}
	return handler(context.Background(), event)
}

// flakyExecutionStore fails a configured number of saves before delegating.
type flakyExecutionStore struct {
	*memory.Store
	saveFailures int
}

func (s *flakyExecutionStore) SaveExecution(ctx context.Context, execution entities.Execution) error {
	if s.saveFailures > 0 {
		s.saveFailures--
		return errors.New("store unavailable")
	}
	return s.Store.SaveExecution(ctx, execution)
}

func TestDecisionConsumerRedeliveryAfterTransientStoreFailure(t *testing.T) {
	store := memory.NewStore()
	flaky := &flakyExecutionStore{Store: store, saveFailures: 1}
	targetStores := make(map[entities.Step]ports.TargetStore)
	for _, step := range entities.OrderedSteps() {
		targetStores[step] = memory.NewTargetStore("target-1")
	}
	subscriber := newStubSubscriber()
	consumer := DecisionConsumer{
		Subscriber: subscriber,
		Dedup:      store,
		Executions: commands.ExecutionUseCase{
			Executions: flaky,
			Stores:     targetStores,
			Outbox:     store,
			Clock:      store,
			IDGen:      store,
		},
		Clock: store,
	}
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	event, err := contractsv1.New(
		"evt-approved-1",
		"workflow-1",
		"vote-aggregator",
		contractsv1.TypeDeletionApproved,
		time.Now().UTC(),
		contractsv1.DecisionPayload{TargetID: "target-1", Outcome: contractsv1.OutcomeApproved},
	)
	if err != nil {
		t.Fatalf("build envelope failed: %v", err)
	}

	if err := subscriber.deliver(t, event); err == nil {
		t.Fatalf("expected the transient store failure to surface")
	}

	// The failed attempt must not leave a reservation that would ack the
	// redelivery as a replay; the deletion still has to run.
	if err := subscriber.deliver(t, event); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	execution, err := store.GetExecution(context.Background(), "workflow-1")
	if err != nil {
		t.Fatalf("get execution failed: %v", err)
	}
	if execution.Status != entities.StatusCompleted {
		t.Fatalf("expected completed execution after redelivery, got %s", execution.Status)
	}
}

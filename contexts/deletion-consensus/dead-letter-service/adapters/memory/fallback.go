package memory

import (
	"context"
	"log/slog"
	"sync"

	contractsv1 "centsible/contracts/gen/events/v1"
)

// AbsorbedEvent is one event the primary dead-letter path could not store.
type AbsorbedEvent struct {
	Consumer      string
	Event         contractsv1.Envelope
	FailureReason string
	SinkError     string
}

// FallbackSink is the DLQ-of-DLQ. It keeps absorbed events in memory and
// logs them so a primary-store outage never silently drops an event.
type FallbackSink struct {
	mu       sync.Mutex
	absorbed []AbsorbedEvent
	logger   *slog.Logger
}

func NewFallbackSink(logger *slog.Logger) *FallbackSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSink{logger: logger}
}

func (s *FallbackSink) Absorb(
	_ context.Context,
	consumer string,
	event contractsv1.Envelope,
	failureReason string,
	sinkError error,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sinkErrorText := ""
	if sinkError != nil {
		sinkErrorText = sinkError.Error()
	}
	s.absorbed = append(s.absorbed, AbsorbedEvent{
		Consumer:      consumer,
		Event:         event,
		FailureReason: failureReason,
		SinkError:     sinkErrorText,
	})
	s.logger.Error("dead letter path failed, event absorbed by fallback",
		"event", "dlq_fallback_absorbed",
		"module", "deletion-consensus/dead-letter-service",
		"layer", "adapter",
		"consumer", consumer,
		"event_id", event.EventID,
		"event_type", event.Type,
		"failure_reason", failureReason,
		"sink_error", sinkErrorText,
	)
}

// Absorbed returns a snapshot of everything the fallback captured.
func (s *FallbackSink) Absorbed() []AbsorbedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AbsorbedEvent(nil), s.absorbed...)
}

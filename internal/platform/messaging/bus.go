package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
)

// Matcher ops supported by subscription rules.
const (
	MatchEquals    = "eq"
	MatchNotEquals = "neq"
)

// FieldMatcher constrains a subscription to payloads whose field at Path
// (gjson syntax) compares to Value. A missing field never satisfies eq and
// always satisfies neq.
type FieldMatcher struct {
	Path  string
	Op    string
	Value string
}

// Rule is a consumer subscription predicate: source + type + payload field
// matchers. Empty Sources/Types match any value.
type Rule struct {
	Consumer string
	Sources  []string
	Types    []string
	Where    []FieldMatcher
}

// Handler consumes one delivered event. Returning an error triggers the
// bounded retry policy; errors the classifier marks permanent dead-letter
// immediately.
type Handler func(context.Context, contractsv1.Envelope) error

// DeadLetterSink captures events that exhausted delivery retries.
type DeadLetterSink interface {
	Record(
		ctx context.Context,
		consumer string,
		event contractsv1.Envelope,
		failureReason string,
		attemptCount int,
		firstFailedAt time.Time,
	) error
}

// RetryPolicy bounds per-consumer delivery retries: fixed attempt count plus
// a maximum event age past which delivery is abandoned to the dead-letter
// store.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxEventAge     time.Duration
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 5
	}
	return p.MaxAttempts
}

func (p RetryPolicy) initialInterval() time.Duration {
	if p.InitialInterval <= 0 {
		return 100 * time.Millisecond
	}
	return p.InitialInterval
}

func (p RetryPolicy) maxInterval() time.Duration {
	if p.MaxInterval <= 0 {
		return 5 * time.Second
	}
	return p.MaxInterval
}

type subscriber struct {
	rule    Rule
	handler Handler
	ch      chan contractsv1.Envelope
}

// Bus is the event bus adapter: publish/subscribe with predicate routing.
// Current implementation is in-process while runtime wiring is finalized for
// external brokers; the Publish/Subscribe/Route contract is what production
// transports must satisfy.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	logger      *slog.Logger
	retry       RetryPolicy
	deadLetters DeadLetterSink
	permanent   func(error) bool
}

// NewBus builds a bus. deadLetters may be nil (exhausted events are then only
// logged, intended for tests). permanent classifies handler errors that must
// not be retried (validation failures); nil means every error is retryable.
func NewBus(
	logger *slog.Logger,
	retry RetryPolicy,
	deadLetters DeadLetterSink,
	permanent func(error) bool,
) *Bus {
	return &Bus{
		logger:      logger,
		retry:       retry,
		deadLetters: deadLetters,
		permanent:   permanent,
	}
}

// Subscribe registers a consumer for a single event type. Kept signature-
// compatible with the per-service EventSubscriber ports.
func (b *Bus) Subscribe(
	ctx context.Context,
	eventType string,
	consumerGroup string,
	handler func(context.Context, contractsv1.Envelope) error,
) error {
	return b.SubscribeRule(ctx, Rule{Consumer: consumerGroup, Types: []string{eventType}}, handler)
}

// SubscribeRule registers a consumer with a full routing predicate.
func (b *Bus) SubscribeRule(ctx context.Context, rule Rule, handler Handler) error {
	if rule.Consumer == "" {
		return fmt.Errorf("subscription rule requires a consumer id")
	}
	sub := &subscriber{
		rule:    rule,
		handler: handler,
		ch:      make(chan contractsv1.Envelope, 128),
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(sub)
				return
			case event := <-sub.ch:
				b.deliver(ctx, sub, event)
			}
		}
	}()
	return nil
}

// Route evaluates every subscription predicate against the event and returns
// the distinct consumer ids that would receive it. Zero, one, or many
// consumers may match.
func (b *Bus) Route(event contractsv1.Envelope) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	var matched []string
	for _, sub := range b.subscribers {
		if !ruleMatches(sub.rule, event) {
			continue
		}
		if _, ok := seen[sub.rule.Consumer]; ok {
			continue
		}
		seen[sub.rule.Consumer] = struct{}{}
		matched = append(matched, sub.rule.Consumer)
	}
	sort.Strings(matched)
	return matched
}

// Publish is fire-and-forget, at-least-once. Delivery to each matched
// consumer is independent: one consumer's failure or backlog never blocks the
// others. An event that finds a subscriber's buffer full goes straight to the
// dead-letter store so backlog never silently loses it.
func (b *Bus) Publish(ctx context.Context, event contractsv1.Envelope) error {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !ruleMatches(sub.rule, event) {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub.ch <- event:
		default:
			b.divertOverflow(ctx, sub, event)
		}
	}

	if b.logger != nil {
		b.logger.Info("event published",
			"event", "bus_publish",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"event_id", event.EventID,
			"event_type", event.Type,
			"correlation_id", event.CorrelationID,
			"source", event.Source,
		)
	}
	return nil
}

// divertOverflow records an event a backlogged subscriber could not buffer.
// Attempt count zero marks that the handler never saw the event; the operator
// reprocess path replays it once the consumer catches up.
func (b *Bus) divertOverflow(ctx context.Context, sub *subscriber, event contractsv1.Envelope) {
	if b.logger != nil {
		b.logger.Warn("subscriber buffer full, diverting event to dead letters",
			"event", "bus_publish_overflow",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"consumer", sub.rule.Consumer,
			"event_id", event.EventID,
			"event_type", event.Type,
		)
	}
	if b.deadLetters == nil {
		return
	}
	if err := b.deadLetters.Record(ctx, sub.rule.Consumer, event, "subscriber buffer overflow", 0, time.Now().UTC()); err != nil && b.logger != nil {
		b.logger.Error("dead-letter record failed",
			"event", "bus_dead_letter_record_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"consumer", sub.rule.Consumer,
			"event_id", event.EventID,
			"error", err.Error(),
		)
	}
}

func (b *Bus) deliver(ctx context.Context, sub *subscriber, event contractsv1.Envelope) {
	var (
		attempts      int
		firstFailedAt time.Time
	)

	operation := func() error {
		attempts++
		if b.retry.MaxEventAge > 0 && time.Since(event.OccurredAt()) > b.retry.MaxEventAge {
			return backoff.Permanent(fmt.Errorf("event older than max age %s", b.retry.MaxEventAge))
		}
		err := sub.handler(ctx, event)
		if err == nil {
			return nil
		}
		if firstFailedAt.IsZero() {
			firstFailedAt = time.Now().UTC()
		}
		if b.permanent != nil && b.permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.retry.initialInterval()
	policy.MaxInterval = b.retry.maxInterval()
	policy.MaxElapsedTime = 0

	err := backoff.Retry(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.retry.maxAttempts()-1)), ctx),
	)
	if err == nil {
		return
	}

	if b.logger != nil {
		b.logger.Error("delivery exhausted retries",
			"event", "bus_delivery_exhausted",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"consumer", sub.rule.Consumer,
			"event_id", event.EventID,
			"event_type", event.Type,
			"attempts", attempts,
			"error", err.Error(),
		)
	}
	if b.deadLetters == nil {
		return
	}
	if firstFailedAt.IsZero() {
		firstFailedAt = time.Now().UTC()
	}
	if dlqErr := b.deadLetters.Record(ctx, sub.rule.Consumer, event, err.Error(), attempts, firstFailedAt); dlqErr != nil && b.logger != nil {
		b.logger.Error("dead-letter record failed",
			"event", "bus_dead_letter_record_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"consumer", sub.rule.Consumer,
			"event_id", event.EventID,
			"error", dlqErr.Error(),
		)
	}
}

func (b *Bus) removeSubscriber(target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) == 0 {
		return
	}
	filtered := make([]*subscriber, 0, len(b.subscribers))
	for _, item := range b.subscribers {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers = filtered
}

func ruleMatches(rule Rule, event contractsv1.Envelope) bool {
	if len(rule.Sources) > 0 && !containsString(rule.Sources, event.Source) {
		return false
	}
	if len(rule.Types) > 0 && !containsString(rule.Types, event.Type) {
		return false
	}
	for _, matcher := range rule.Where {
		if !matcherSatisfied(matcher, event) {
			return false
		}
	}
	return true
}

func matcherSatisfied(matcher FieldMatcher, event contractsv1.Envelope) bool {
	field := gjson.GetBytes(event.Payload, matcher.Path)
	switch matcher.Op {
	case MatchEquals:
		return field.Exists() && field.String() == matcher.Value
	case MatchNotEquals:
		return !field.Exists() || field.String() != matcher.Value
	default:
		return false
	}
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}

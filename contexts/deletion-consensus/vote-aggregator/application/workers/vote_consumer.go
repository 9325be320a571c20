package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/vote-aggregator/application"
	"centsible/contexts/deletion-consensus/vote-aggregator/application/commands"
	"centsible/contexts/deletion-consensus/vote-aggregator/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"
)

const defaultVoteCG = "vote-aggregator-vote-cg"

// VoteConsumer records participant votes against the ballot.
type VoteConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Ballots       commands.BallotUseCase
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Logger        *slog.Logger
}

// Start subscribes the aggregator to deletion.vote with dedupe semantics.
func (c VoteConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultVoteCG
	}
	if err := c.Subscriber.Subscribe(ctx, contractsv1.TypeDeletionVote, group, c.handleVote); err != nil {
		logger.Error("vote consumer subscribe failed",
			"event", "aggregator_vote_consumer_subscribe_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("vote consumer subscription active",
		"event", "aggregator_vote_consumer_started",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c VoteConsumer) handleVote(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Payload), c.now().Add(c.dedupTTL()))
	if err != nil {
		return err
	}
	if alreadyProcessed {
		logger.Debug("deletion.vote replay skipped",
			"event", "aggregator_vote_replayed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	var payload contractsv1.VotePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		logger.Error("deletion.vote payload decode failed",
			"event", "aggregator_vote_decode_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		return domainerrors.ErrInvalidEventPayload
	}

	var votedAt time.Time
	if payload.VotedAt > 0 {
		votedAt = time.UnixMilli(payload.VotedAt).UTC()
	}
	result, err := c.Ballots.RecordVote(ctx, commands.RecordVoteCommand{
		CorrelationID: event.CorrelationID,
		ParticipantID: payload.ParticipantID,
		Decision:      entities.VoteDecision(payload.Decision),
		Reason:        payload.Reason,
		VotedAt:       votedAt,
	})
	if err != nil {
		// The reservation must not outlive the failed attempt: the command is
		// idempotent, and the bus retry has to reach it.
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		return err
	}

	logger.Info("deletion.vote consumed",
		"event", "aggregator_vote_consumed",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "worker",
		"event_id", event.EventID,
		"correlation_id", event.CorrelationID,
		"participant_id", strings.TrimSpace(payload.ParticipantID),
		"ignored", result.Ignored,
		"finalized", result.Finalized,
	)
	return nil
}

func (c VoteConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c VoteConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/vote-aggregator/application"
	"centsible/contexts/deletion-consensus/vote-aggregator/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"
)

const sourceService = "vote-aggregator"

// OpenBallotCommand opens a ballot for one deletion workflow.
type OpenBallotCommand struct {
	CorrelationID  string
	TargetID       string
	RequestedBy    string
	RequiredVoters []string
	Deadline       time.Time
}

// RecordVoteCommand applies one participant vote to a ballot.
type RecordVoteCommand struct {
	CorrelationID string
	ParticipantID string
	Decision      entities.VoteDecision
	Reason        string
	VotedAt       time.Time
}

// CancelCommand supersedes a still-pending workflow.
type CancelCommand struct {
	CorrelationID string
	RequestedBy   string
	Reason        string
}

// RecordVoteResult reports how a vote landed: ignored (terminal ballot
// acknowledgement) or finalized (this writer won the deciding transition).
type RecordVoteResult struct {
	Ballot    entities.Ballot
	Ignored   bool
	Finalized bool
}

// BallotUseCase orchestrates ballot state transitions while enforcing the
// aggregator invariants: one terminal transition per ballot, veto-first
// decision policy, idempotent replay handling, and exactly one decision
// event per finalization via the conditional write.
type BallotUseCase struct {
	Ballots         ports.BallotRepository
	Outbox          ports.OutboxWriter
	Clock           ports.Clock
	IDGen           ports.IDGenerator
	DefaultDeadline time.Duration
	SaveAttempts    int
	Logger          *slog.Logger
}

// OpenBallot creates the pending ballot for a deletion request. Re-delivery
// of the same request is an acknowledged no-op.
func (uc BallotUseCase) OpenBallot(ctx context.Context, cmd OpenBallotCommand) error {
	logger := application.ResolveLogger(uc.Logger)
	correlationID := strings.TrimSpace(cmd.CorrelationID)
	if correlationID == "" || strings.TrimSpace(cmd.TargetID) == "" || len(cmd.RequiredVoters) == 0 {
		logger.Warn("ballot open validation failed",
			"event", "aggregator_ballot_open_validation_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "application",
			"correlation_id", correlationID,
		)
		return domainerrors.ErrInvalidRequestInput
	}

	if _, err := uc.Ballots.GetBallot(ctx, correlationID); err == nil {
		logger.Info("ballot open replayed",
			"event", "aggregator_ballot_open_replayed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "application",
			"correlation_id", correlationID,
		)
		return nil
	} else if !errors.Is(err, domainerrors.ErrBallotNotFound) {
		return err
	}

	now := uc.now()
	deadline := cmd.Deadline.UTC()
	if cmd.Deadline.IsZero() {
		deadline = now.Add(uc.resolveDefaultDeadline())
	}

	voters := make([]string, 0, len(cmd.RequiredVoters))
	for _, voter := range cmd.RequiredVoters {
		if trimmed := strings.TrimSpace(voter); trimmed != "" {
			voters = append(voters, trimmed)
		}
	}
	if len(voters) == 0 {
		return domainerrors.ErrInvalidRequestInput
	}

	ballot := entities.Ballot{
		CorrelationID:  correlationID,
		TargetID:       strings.TrimSpace(cmd.TargetID),
		RequestedBy:    strings.TrimSpace(cmd.RequestedBy),
		RequiredVoters: voters,
		ReceivedVotes:  make(map[string]entities.Vote),
		Deadline:       deadline,
		Outcome:        entities.OutcomePending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.Ballots.SaveBallot(ctx, ballot); err != nil {
		if errors.Is(err, domainerrors.ErrVersionConflict) {
			// Concurrent open of the same workflow; first writer wins.
			return nil
		}
		return err
	}

	logger.Info("ballot opened",
		"event", "aggregator_ballot_opened",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "application",
		"correlation_id", correlationID,
		"target_id", ballot.TargetID,
		"required_voters", len(voters),
		"deadline", deadline.Format(time.RFC3339),
	)
	return nil
}

// RecordVote upserts the participant vote and finalizes the ballot when the
// decision policy is satisfied. Terminal ballots acknowledge the vote as a
// no-op so at-least-once delivery stays idempotent. Concurrent writers race
// on the ballot version; the loser retries with freshly read state, and only
// the writer that lands the terminal transition appends the decision event.
func (uc BallotUseCase) RecordVote(ctx context.Context, cmd RecordVoteCommand) (RecordVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	correlationID := strings.TrimSpace(cmd.CorrelationID)
	participantID := strings.TrimSpace(cmd.ParticipantID)
	if correlationID == "" || participantID == "" || !cmd.Decision.Valid() {
		logger.Warn("vote record validation failed",
			"event", "aggregator_vote_validation_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "application",
			"correlation_id", correlationID,
			"participant_id", participantID,
		)
		return RecordVoteResult{}, domainerrors.ErrInvalidVoteInput
	}

	now := uc.now()
	votedAt := cmd.VotedAt.UTC()
	if cmd.VotedAt.IsZero() {
		votedAt = now
	}

	for attempt := 0; attempt < uc.resolveSaveAttempts(); attempt++ {
		ballot, err := uc.Ballots.GetBallot(ctx, correlationID)
		if err != nil {
			return RecordVoteResult{}, err
		}
		if ballot.IsTerminal() {
			// Re-append heals a finalization whose terminal write landed but
			// whose decision event append did not; the stored event id makes
			// this a no-op when the event is already there.
			if err := uc.appendDecisionEvent(ctx, ballot); err != nil {
				return RecordVoteResult{}, err
			}
			logger.Info("vote after finalization acknowledged",
				"event", "aggregator_vote_after_finalization",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "application",
				"correlation_id", correlationID,
				"participant_id", participantID,
				"outcome", string(ballot.Outcome),
			)
			return RecordVoteResult{Ballot: ballot, Ignored: true}, nil
		}

		ballot.RecordVote(entities.Vote{
			CorrelationID: correlationID,
			ParticipantID: participantID,
			Decision:      cmd.Decision,
			Reason:        strings.TrimSpace(cmd.Reason),
			VotedAt:       votedAt,
		})

		outcome, finalized := ballot.Evaluate(now)
		if finalized {
			eventID, err := uc.IDGen.NewID(ctx)
			if err != nil {
				return RecordVoteResult{}, err
			}
			ballot.Outcome = outcome
			ballot.OutcomeReason = decisionReason(outcome, ballot)
			ballot.DecisionEventID = eventID
			finalizedAt := now
			ballot.FinalizedAt = &finalizedAt
		}
		ballot.Version++
		ballot.UpdatedAt = now

		if err := uc.Ballots.SaveBallot(ctx, ballot); err != nil {
			if errors.Is(err, domainerrors.ErrVersionConflict) {
				continue
			}
			return RecordVoteResult{}, err
		}

		if finalized {
			if err := uc.appendDecisionEvent(ctx, ballot); err != nil {
				return RecordVoteResult{}, err
			}
			logger.Info("ballot finalized",
				"event", "aggregator_ballot_finalized",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "application",
				"correlation_id", correlationID,
				"outcome", string(ballot.Outcome),
				"reason", ballot.OutcomeReason,
			)
		} else {
			logger.Info("vote recorded",
				"event", "aggregator_vote_recorded",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "application",
				"correlation_id", correlationID,
				"participant_id", participantID,
				"decision", string(cmd.Decision),
			)
		}
		return RecordVoteResult{Ballot: ballot, Finalized: finalized}, nil
	}
	return RecordVoteResult{}, domainerrors.ErrVersionConflict
}

// Cancel finalizes a still-pending ballot as denied. Once a decision exists
// the cancellation is an acknowledged no-op: the system favors forward
// progress over abandoning a partially executed destructive operation.
func (uc BallotUseCase) Cancel(ctx context.Context, cmd CancelCommand) error {
	logger := application.ResolveLogger(uc.Logger)
	correlationID := strings.TrimSpace(cmd.CorrelationID)
	if correlationID == "" {
		return domainerrors.ErrInvalidCancelInput
	}

	now := uc.now()
	for attempt := 0; attempt < uc.resolveSaveAttempts(); attempt++ {
		ballot, err := uc.Ballots.GetBallot(ctx, correlationID)
		if err != nil {
			return err
		}
		if ballot.IsTerminal() {
			if err := uc.appendDecisionEvent(ctx, ballot); err != nil {
				return err
			}
			logger.Info("cancellation after finalization acknowledged",
				"event", "aggregator_cancel_after_finalization",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "application",
				"correlation_id", correlationID,
				"outcome", string(ballot.Outcome),
			)
			return nil
		}

		eventID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		ballot.Outcome = entities.OutcomeDenied
		ballot.OutcomeReason = "cancelled"
		ballot.DecisionEventID = eventID
		finalizedAt := now
		ballot.FinalizedAt = &finalizedAt
		ballot.Version++
		ballot.UpdatedAt = now

		if err := uc.Ballots.SaveBallot(ctx, ballot); err != nil {
			if errors.Is(err, domainerrors.ErrVersionConflict) {
				continue
			}
			return err
		}
		if err := uc.appendDecisionEvent(ctx, ballot); err != nil {
			return err
		}
		logger.Info("ballot cancelled",
			"event", "aggregator_ballot_cancelled",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "application",
			"correlation_id", correlationID,
			"requested_by", strings.TrimSpace(cmd.RequestedBy),
		)
		return nil
	}
	return domainerrors.ErrVersionConflict
}

// FinalizeExpired sweeps pending ballots past their deadline into timed_out.
// Returns the number of ballots finalized by this invocation.
func (uc BallotUseCase) FinalizeExpired(ctx context.Context, limit int) (int, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()
	expired, err := uc.Ballots.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, stale := range expired {
		// Re-read inside the CAS loop: a vote may have finalized the ballot
		// between the sweep listing and this write.
		for attempt := 0; attempt < uc.resolveSaveAttempts(); attempt++ {
			ballot, err := uc.Ballots.GetBallot(ctx, stale.CorrelationID)
			if err != nil {
				if errors.Is(err, domainerrors.ErrBallotNotFound) {
					break
				}
				return finalized, err
			}
			if ballot.IsTerminal() {
				// A racing writer finalized between the listing and this read;
				// re-append so its decision event survives a lost outbox write.
				if err := uc.appendDecisionEvent(ctx, ballot); err != nil {
					return finalized, err
				}
				break
			}
			if !now.After(ballot.Deadline) {
				break
			}

			eventID, err := uc.IDGen.NewID(ctx)
			if err != nil {
				return finalized, err
			}
			ballot.Outcome = entities.OutcomeTimedOut
			ballot.OutcomeReason = decisionReason(entities.OutcomeTimedOut, ballot)
			ballot.DecisionEventID = eventID
			finalizedAt := now
			ballot.FinalizedAt = &finalizedAt
			ballot.Version++
			ballot.UpdatedAt = now

			if err := uc.Ballots.SaveBallot(ctx, ballot); err != nil {
				if errors.Is(err, domainerrors.ErrVersionConflict) {
					continue
				}
				return finalized, err
			}
			if err := uc.appendDecisionEvent(ctx, ballot); err != nil {
				return finalized, err
			}
			finalized++
			logger.Info("ballot timed out",
				"event", "aggregator_ballot_timed_out",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "application",
				"correlation_id", ballot.CorrelationID,
				"missing_voters", ballot.MissingVoters(),
			)
			break
		}
	}
	return finalized, nil
}

// appendDecisionEvent writes the decision event for a finalized ballot. The
// payload is rebuilt from stored ballot state with sorted voter lists and the
// stored event id, so every retry appends a byte-identical envelope and the
// outbox dedups it by id.
func (uc BallotUseCase) appendDecisionEvent(ctx context.Context, ballot entities.Ballot) error {
	// Outbox is optional for pure read/test wiring, so nil is treated as no-op.
	if uc.Outbox == nil || ballot.DecisionEventID == "" {
		return nil
	}

	eventType := contractsv1.TypeDeletionDenied
	outcome := contractsv1.OutcomeDenied
	switch ballot.Outcome {
	case entities.OutcomeApproved:
		eventType = contractsv1.TypeDeletionApproved
		outcome = contractsv1.OutcomeApproved
	case entities.OutcomeTimedOut:
		// Timed-out blocks execution like a deny; the payload outcome stays
		// distinguishable for observability.
		outcome = contractsv1.OutcomeTimedOut
	}

	occurredAt := uc.now()
	if ballot.FinalizedAt != nil {
		occurredAt = ballot.FinalizedAt.UTC()
	}
	envelope, err := contractsv1.New(ballot.DecisionEventID, ballot.CorrelationID, sourceService, eventType, occurredAt, contractsv1.DecisionPayload{
		TargetID:       ballot.TargetID,
		Outcome:        outcome,
		Reason:         ballot.OutcomeReason,
		RequiredVoters: ballot.RequiredVoters,
		ApprovedBy:     ballot.ApprovedBy(),
		DeniedBy:       ballot.DeniedBy(),
		MissingVoters:  ballot.MissingVoters(),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func decisionReason(outcome entities.BallotOutcome, ballot entities.Ballot) string {
	switch outcome {
	case entities.OutcomeDenied:
		if denied := ballot.DeniedBy(); len(denied) > 0 {
			return "vetoed by " + strings.Join(denied, ",")
		}
		return "denied"
	case entities.OutcomeTimedOut:
		return "deadline elapsed before quorum"
	case entities.OutcomeApproved:
		return "approve quorum reached"
	default:
		return ""
	}
}

func (uc BallotUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc BallotUseCase) resolveDefaultDeadline() time.Duration {
	if uc.DefaultDeadline <= 0 {
		return 15 * time.Minute
	}
	return uc.DefaultDeadline
}

func (uc BallotUseCase) resolveSaveAttempts() int {
	if uc.SaveAttempts <= 0 {
		return 3
	}
	return uc.SaveAttempts
}

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	"centsible/contexts/deletion-consensus/vote-aggregator/adapters/memory"
	"centsible/contexts/deletion-consensus/vote-aggregator/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

type seqIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDGen) NewID(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("event-%d", g.next), nil
}

func newTestUseCase(store *memory.Store, clock *fixedClock) BallotUseCase {
	return BallotUseCase{
		Ballots:         store,
		Outbox:          store,
		Clock:           clock,
		IDGen:           &seqIDGen{},
		DefaultDeadline: time.Hour,
	}
}

func openTestBallot(t *testing.T, uc BallotUseCase, voters []string) {
	t.Helper()
	err := uc.OpenBallot(context.Background(), OpenBallotCommand{
		CorrelationID:  "workflow-1",
		TargetID:       "target-1",
		RequestedBy:    "admin-1",
		RequiredVoters: voters,
	})
	if err != nil {
		t.Fatalf("open ballot failed: %v", err)
	}
}

func pendingDecisionEvents(t *testing.T, store *memory.Store) []ports.EventEnvelope {
	t.Helper()
	rows, err := store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	events := make([]ports.EventEnvelope, 0, len(rows))
	for _, row := range rows {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			t.Fatalf("decode outbox payload failed: %v", err)
		}
		events = append(events, event)
	}
	return events
}

// flakyOutbox fails a configured number of appends before delegating.
type flakyOutbox struct {
	inner        ports.OutboxWriter
	failuresLeft int
}

func (f *flakyOutbox) AppendOutbox(ctx context.Context, event ports.EventEnvelope) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("outbox unavailable")
	}
	return f.inner.AppendOutbox(ctx, event)
}

func TestOpenBallotReplayIsNoOp(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)

	openTestBallot(t, uc, []string{"alice", "bob"})
	if err := uc.OpenBallot(context.Background(), OpenBallotCommand{
		CorrelationID:  "workflow-1",
		TargetID:       "target-1",
		RequestedBy:    "admin-1",
		RequiredVoters: []string{"alice", "bob"},
	}); err != nil {
		t.Fatalf("replayed open failed: %v", err)
	}

	ballot, err := store.GetBallot(context.Background(), "workflow-1")
	if err != nil {
		t.Fatalf("get ballot failed: %v", err)
	}
	if ballot.Version != 1 {
		t.Fatalf("expected version 1 after replay, got %d", ballot.Version)
	}
	if ballot.Deadline != clock.now.Add(time.Hour) {
		t.Fatalf("expected default deadline, got %s", ballot.Deadline)
	}
}

func TestSingleDenyFinalizesBeforeQuorum(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice", "bob", "carol"})

	result, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "bob",
		Decision:      entities.VoteDeny,
		Reason:        "retention hold",
	})
	if err != nil {
		t.Fatalf("record deny failed: %v", err)
	}
	if !result.Finalized {
		t.Fatalf("expected deny to finalize the ballot")
	}
	if result.Ballot.Outcome != entities.OutcomeDenied {
		t.Fatalf("expected denied outcome, got %s", result.Ballot.Outcome)
	}

	events := pendingDecisionEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one decision event, got %d", len(events))
	}
	if events[0].Type != contractsv1.TypeDeletionDenied {
		t.Fatalf("expected deletion.denied, got %s", events[0].Type)
	}
	var payload contractsv1.DecisionPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode decision payload failed: %v", err)
	}
	if payload.Outcome != contractsv1.OutcomeDenied {
		t.Fatalf("expected denied payload outcome, got %s", payload.Outcome)
	}
	if len(payload.DeniedBy) != 1 || payload.DeniedBy[0] != "bob" {
		t.Fatalf("expected bob in denied_by, got %v", payload.DeniedBy)
	}
}

func TestVetoWinsOverApproveQuorum(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice", "bob"})

	if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteApprove,
	}); err != nil {
		t.Fatalf("record approve failed: %v", err)
	}
	result, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "bob",
		Decision:      entities.VoteDeny,
	})
	if err != nil {
		t.Fatalf("record deny failed: %v", err)
	}
	if result.Ballot.Outcome != entities.OutcomeDenied {
		t.Fatalf("expected denied outcome, got %s", result.Ballot.Outcome)
	}
}

func TestFullApproveQuorumApproves(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice", "bob"})

	first, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteApprove,
	})
	if err != nil {
		t.Fatalf("first approve failed: %v", err)
	}
	if first.Finalized {
		t.Fatalf("partial quorum must not finalize")
	}
	second, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "bob",
		Decision:      entities.VoteApprove,
	})
	if err != nil {
		t.Fatalf("second approve failed: %v", err)
	}
	if !second.Finalized || second.Ballot.Outcome != entities.OutcomeApproved {
		t.Fatalf("expected approved finalization, got finalized=%v outcome=%s", second.Finalized, second.Ballot.Outcome)
	}

	events := pendingDecisionEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected exactly one decision event, got %d", len(events))
	}
	if events[0].Type != contractsv1.TypeDeletionApproved {
		t.Fatalf("expected deletion.approved, got %s", events[0].Type)
	}
}

func TestVoteCorrectionReplacesEarlierVote(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice", "bob"})

	if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteAbstain,
	}); err != nil {
		t.Fatalf("abstain failed: %v", err)
	}
	if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteApprove,
	}); err != nil {
		t.Fatalf("correction failed: %v", err)
	}

	ballot, err := store.GetBallot(context.Background(), "workflow-1")
	if err != nil {
		t.Fatalf("get ballot failed: %v", err)
	}
	if len(ballot.ReceivedVotes) != 1 {
		t.Fatalf("expected one stored vote for alice, got %d", len(ballot.ReceivedVotes))
	}
	if ballot.ReceivedVotes["alice"].Decision != entities.VoteApprove {
		t.Fatalf("expected corrected approve, got %s", ballot.ReceivedVotes["alice"].Decision)
	}
}

func TestOutOfQuorumVoteStoredButNotCounted(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice"})

	result, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "mallory",
		Decision:      entities.VoteDeny,
	})
	if err != nil {
		t.Fatalf("out-of-quorum vote failed: %v", err)
	}
	if result.Finalized {
		t.Fatalf("out-of-quorum deny must not finalize the ballot")
	}

	final, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteApprove,
	})
	if err != nil {
		t.Fatalf("quorum approve failed: %v", err)
	}
	if final.Ballot.Outcome != entities.OutcomeApproved {
		t.Fatalf("expected approval despite out-of-quorum deny, got %s", final.Ballot.Outcome)
	}
}

func TestVoteAfterFinalizationIsAcknowledgedNoOp(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice"})

	if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteApprove,
	}); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	late, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteDeny,
	})
	if err != nil {
		t.Fatalf("late vote failed: %v", err)
	}
	if !late.Ignored {
		t.Fatalf("expected post-finalization vote to be ignored")
	}
	if late.Ballot.Outcome != entities.OutcomeApproved {
		t.Fatalf("late vote must not change the outcome, got %s", late.Ballot.Outcome)
	}
	if events := pendingDecisionEvents(t, store); len(events) != 1 {
		t.Fatalf("expected one decision event after late vote, got %d", len(events))
	}
}

func TestCancelPendingBallotDenies(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice", "bob"})

	if err := uc.Cancel(context.Background(), CancelCommand{
		CorrelationID: "workflow-1",
		RequestedBy:   "admin-1",
		Reason:        "requested in error",
	}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	ballot, err := store.GetBallot(context.Background(), "workflow-1")
	if err != nil {
		t.Fatalf("get ballot failed: %v", err)
	}
	if ballot.Outcome != entities.OutcomeDenied {
		t.Fatalf("expected denied after cancel, got %s", ballot.Outcome)
	}
	if ballot.OutcomeReason != "cancelled" {
		t.Fatalf("expected cancelled reason, got %q", ballot.OutcomeReason)
	}

	// Cancelling an already-decided workflow is acknowledged without effect.
	if err := uc.Cancel(context.Background(), CancelCommand{CorrelationID: "workflow-1"}); err != nil {
		t.Fatalf("cancel after finalization failed: %v", err)
	}
	if events := pendingDecisionEvents(t, store); len(events) != 1 {
		t.Fatalf("expected one decision event, got %d", len(events))
	}
}

func TestCancelUnknownWorkflowReturnsNotFound(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)

	err := uc.Cancel(context.Background(), CancelCommand{CorrelationID: "workflow-missing"})
	if !errors.Is(err, domainerrors.ErrBallotNotFound) {
		t.Fatalf("expected ErrBallotNotFound, got %v", err)
	}
}

func TestFinalizeExpiredTimesOutPendingBallots(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice", "bob"})

	if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteApprove,
	}); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	clock.now = clock.now.Add(2 * time.Hour)
	finalized, err := uc.FinalizeExpired(context.Background(), 10)
	if err != nil {
		t.Fatalf("finalize expired failed: %v", err)
	}
	if finalized != 1 {
		t.Fatalf("expected one timed out ballot, got %d", finalized)
	}

	ballot, err := store.GetBallot(context.Background(), "workflow-1")
	if err != nil {
		t.Fatalf("get ballot failed: %v", err)
	}
	if ballot.Outcome != entities.OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", ballot.Outcome)
	}

	events := pendingDecisionEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one decision event, got %d", len(events))
	}
	if events[0].Type != contractsv1.TypeDeletionDenied {
		t.Fatalf("timeout rides on deletion.denied, got %s", events[0].Type)
	}
	var payload contractsv1.DecisionPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode decision payload failed: %v", err)
	}
	if payload.Outcome != contractsv1.OutcomeTimedOut {
		t.Fatalf("expected timed_out payload outcome, got %s", payload.Outcome)
	}
	if len(payload.MissingVoters) != 1 || payload.MissingVoters[0] != "bob" {
		t.Fatalf("expected bob missing, got %v", payload.MissingVoters)
	}

	// A second sweep finds nothing to do.
	again, err := uc.FinalizeExpired(context.Background(), 10)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no further finalizations, got %d", again)
	}
}

func TestConcurrentVotesProduceOneDecisionEvent(t *testing.T) {
	for round := 0; round < 25; round++ {
		store := memory.NewStore(nil)
		clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
		uc := newTestUseCase(store, clock)
		openTestBallot(t, uc, []string{"alice", "bob"})

		// Bob approved earlier, so alice's approve completes the quorum while
		// bob's correction to deny races it for the terminal write. The loser
		// retries on the version conflict and must land on the winner's state.
		if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
			CorrelationID: "workflow-1",
			ParticipantID: "bob",
			Decision:      entities.VoteApprove,
		}); err != nil {
			t.Fatalf("round %d: seed approve failed: %v", round, err)
		}

		start := make(chan struct{})
		errs := make(chan error, 2)
		var wg sync.WaitGroup
		cast := func(participant string, decision entities.VoteDecision) {
			defer wg.Done()
			<-start
			_, err := uc.RecordVote(context.Background(), RecordVoteCommand{
				CorrelationID: "workflow-1",
				ParticipantID: participant,
				Decision:      decision,
			})
			errs <- err
		}
		wg.Add(2)
		go cast("alice", entities.VoteApprove)
		go cast("bob", entities.VoteDeny)
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: concurrent vote failed: %v", round, err)
			}
		}

		ballot, err := store.GetBallot(context.Background(), "workflow-1")
		if err != nil {
			t.Fatalf("round %d: get ballot failed: %v", round, err)
		}
		if !ballot.IsTerminal() {
			t.Fatalf("round %d: racing votes left the ballot pending", round)
		}
		events := pendingDecisionEvents(t, store)
		if len(events) != 1 {
			t.Fatalf("round %d: expected exactly one decision event, got %d", round, len(events))
		}
		wantType := contractsv1.TypeDeletionDenied
		if ballot.Outcome == entities.OutcomeApproved {
			wantType = contractsv1.TypeDeletionApproved
		}
		if events[0].Type != wantType {
			t.Fatalf("round %d: decision event %s does not match outcome %s", round, events[0].Type, ballot.Outcome)
		}
	}
}

func TestDecisionEventRecoveredAfterOutboxFailure(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	uc.Outbox = &flakyOutbox{inner: store, failuresLeft: 1}
	openTestBallot(t, uc, []string{"alice"})

	// The terminal write lands, then the outbox append fails.
	if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteDeny,
	}); err == nil {
		t.Fatalf("expected the outbox failure to surface")
	}

	ballot, err := store.GetBallot(context.Background(), "workflow-1")
	if err != nil {
		t.Fatalf("get ballot failed: %v", err)
	}
	if ballot.Outcome != entities.OutcomeDenied {
		t.Fatalf("terminal write must land before the append, got %s", ballot.Outcome)
	}
	if events := pendingDecisionEvents(t, store); len(events) != 0 {
		t.Fatalf("expected the decision event to be missing, got %d", len(events))
	}

	// Redelivery hits the terminal ballot and restores the decision event.
	result, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteDeny,
	})
	if err != nil {
		t.Fatalf("redelivered vote failed: %v", err)
	}
	if !result.Ignored {
		t.Fatalf("expected terminal acknowledgement on redelivery")
	}
	events := pendingDecisionEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected the decision event restored, got %d", len(events))
	}
	if events[0].Type != contractsv1.TypeDeletionDenied {
		t.Fatalf("expected deletion.denied, got %s", events[0].Type)
	}
	if events[0].EventID != ballot.DecisionEventID {
		t.Fatalf("expected stored decision event id %q, got %q", ballot.DecisionEventID, events[0].EventID)
	}

	// Further replays re-append the identical envelope as a no-op.
	if _, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteDeny,
	}); err != nil {
		t.Fatalf("second replay failed: %v", err)
	}
	if events := pendingDecisionEvents(t, store); len(events) != 1 {
		t.Fatalf("expected one decision event after replay, got %d", len(events))
	}
}

func TestLateVoteLosesToDeadline(t *testing.T) {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	uc := newTestUseCase(store, clock)
	openTestBallot(t, uc, []string{"alice"})

	// The deadline elapses before the only required vote arrives.
	clock.now = clock.now.Add(2 * time.Hour)
	result, err := uc.RecordVote(context.Background(), RecordVoteCommand{
		CorrelationID: "workflow-1",
		ParticipantID: "alice",
		Decision:      entities.VoteApprove,
	})
	if err != nil {
		t.Fatalf("late vote failed: %v", err)
	}
	if result.Ballot.Outcome != entities.OutcomeTimedOut {
		t.Fatalf("deadline must win over a late quorum, got %s", result.Ballot.Outcome)
	}
}

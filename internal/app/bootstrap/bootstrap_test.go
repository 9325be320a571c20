package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	executorentities "centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
	trackerhttp "centsible/contexts/deletion-consensus/workflow-tracker/transport/http"
)

func newRuntime(t *testing.T, targetIDs ...string) (*Runtime, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runtime, err := NewMemoryRuntime(ctx, targetIDs, slog.Default())
	if err != nil {
		t.Fatalf("build memory runtime failed: %v", err)
	}
	return runtime, ctx
}

func publish(t *testing.T, ctx context.Context, runtime *Runtime, eventID string, correlationID string, eventType string, payload any) {
	t.Helper()
	event, err := contractsv1.New(eventID, correlationID, "bootstrap-test", eventType, time.Now().UTC(), payload)
	if err != nil {
		t.Fatalf("build %s envelope failed: %v", eventType, err)
	}
	if err := runtime.Bus.Publish(ctx, event); err != nil {
		t.Fatalf("publish %s failed: %v", eventType, err)
	}
}

func waitForBallot(t *testing.T, ctx context.Context, runtime *Runtime, correlationID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := runtime.Aggregator.Store.GetBallot(ctx, correlationID); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ballot %s never opened", correlationID)
}

// waitForStatus pumps the periodic jobs until the tracker projection reports
// the wanted status. Events cross the bus asynchronously, so the projection
// is polled the same way a client would poll the progress endpoint.
func waitForStatus(t *testing.T, ctx context.Context, runtime *Runtime, correlationID string, want string) trackerhttp.WorkflowProgressResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last trackerhttp.WorkflowProgressResponse
	for time.Now().Before(deadline) {
		if err := runtime.Sweep(ctx); err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		resp, err := runtime.Tracker.Handler.GetProgressHandler(ctx, correlationID)
		if err == nil {
			last = resp
			if resp.Status == want {
				return resp
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workflow %s never reached status %q, last seen %+v", correlationID, want, last)
	return trackerhttp.WorkflowProgressResponse{}
}

func TestWorkflowFullApprovalDeletesEveryTarget(t *testing.T) {
	runtime, ctx := newRuntime(t, "file-1")

	publish(t, ctx, runtime, "evt-req-1", "wf-approve", contractsv1.TypeDeletionRequested, contractsv1.RequestedPayload{
		TargetID:       "file-1",
		RequestedBy:    "requester-1",
		RequiredVoters: []string{"alice", "bob"},
	})
	waitForBallot(t, ctx, runtime, "wf-approve")

	for i, voter := range []string{"alice", "bob"} {
		publish(t, ctx, runtime, fmt.Sprintf("evt-vote-%d", i+1), "wf-approve", contractsv1.TypeDeletionVote, contractsv1.VotePayload{
			ParticipantID: voter,
			Decision:      contractsv1.DecisionApprove,
			VotedAt:       time.Now().UTC().UnixMilli(),
		})
	}

	resp := waitForStatus(t, ctx, runtime, "wf-approve", "completed")
	if resp.ProgressPercent != 100 {
		t.Fatalf("expected 100 percent, got %d", resp.ProgressPercent)
	}
	if resp.CurrentPhase != "completed" {
		t.Fatalf("expected completed phase, got %s", resp.CurrentPhase)
	}
	if resp.Cancellable {
		t.Fatalf("completed workflow must not be cancellable")
	}

	for _, step := range executorentities.OrderedSteps() {
		if got := runtime.Executor.TargetStores[step].DeleteCount("file-1"); got != 1 {
			t.Fatalf("expected exactly one delete for step %s, got %d", step, got)
		}
	}
}

func TestWorkflowSingleDenyBlocksExecution(t *testing.T) {
	runtime, ctx := newRuntime(t, "file-2")

	publish(t, ctx, runtime, "evt-req-2", "wf-deny", contractsv1.TypeDeletionRequested, contractsv1.RequestedPayload{
		TargetID:       "file-2",
		RequestedBy:    "requester-1",
		RequiredVoters: []string{"alice", "bob", "carol"},
	})
	waitForBallot(t, ctx, runtime, "wf-deny")

	publish(t, ctx, runtime, "evt-vote-a", "wf-deny", contractsv1.TypeDeletionVote, contractsv1.VotePayload{
		ParticipantID: "alice",
		Decision:      contractsv1.DecisionApprove,
		VotedAt:       time.Now().UTC().UnixMilli(),
	})
	publish(t, ctx, runtime, "evt-vote-b", "wf-deny", contractsv1.TypeDeletionVote, contractsv1.VotePayload{
		ParticipantID: "bob",
		Decision:      contractsv1.DecisionDeny,
		Reason:        "still referenced by an open audit",
		VotedAt:       time.Now().UTC().UnixMilli(),
	})

	resp := waitForStatus(t, ctx, runtime, "wf-deny", "denied")
	if resp.CurrentPhase != "failed" {
		t.Fatalf("expected failed phase, got %s", resp.CurrentPhase)
	}

	for _, step := range executorentities.OrderedSteps() {
		store := runtime.Executor.TargetStores[step]
		if got := store.DeleteCount("file-2"); got != 0 {
			t.Fatalf("denied workflow must not delete, step %s deleted %d times", step, got)
		}
		exists, err := store.Exists(ctx, "file-2")
		if err != nil || !exists {
			t.Fatalf("expected target intact for step %s, exists=%v err=%v", step, exists, err)
		}
	}
}

func TestWorkflowDeadlineTimesOutSilentVoters(t *testing.T) {
	runtime, ctx := newRuntime(t, "file-3")

	publish(t, ctx, runtime, "evt-req-3", "wf-timeout", contractsv1.TypeDeletionRequested, contractsv1.RequestedPayload{
		TargetID:       "file-3",
		RequestedBy:    "requester-1",
		RequiredVoters: []string{"alice", "bob"},
		Deadline:       time.Now().UTC().Add(-time.Minute).UnixMilli(),
	})
	waitForBallot(t, ctx, runtime, "wf-timeout")

	publish(t, ctx, runtime, "evt-vote-late", "wf-timeout", contractsv1.TypeDeletionVote, contractsv1.VotePayload{
		ParticipantID: "alice",
		Decision:      contractsv1.DecisionApprove,
		VotedAt:       time.Now().UTC().UnixMilli(),
	})

	resp := waitForStatus(t, ctx, runtime, "wf-timeout", "timed_out")
	if resp.CurrentPhase != "failed" {
		t.Fatalf("expected failed phase, got %s", resp.CurrentPhase)
	}
	if resp.Cancellable {
		t.Fatalf("timed out workflow must not be cancellable")
	}

	for _, step := range executorentities.OrderedSteps() {
		if got := runtime.Executor.TargetStores[step].DeleteCount("file-3"); got != 0 {
			t.Fatalf("timed out workflow must not delete, step %s deleted %d times", step, got)
		}
	}
}

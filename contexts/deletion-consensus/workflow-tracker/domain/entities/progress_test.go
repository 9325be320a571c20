package entities

import (
	"testing"
	"time"
)

func TestPhaseNeverMovesBackward(t *testing.T) {
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	progress := NewWorkflowProgress("workflow-1")

	progress.ApplyCompleted(now)
	if progress.Phase != PhaseCompleted {
		t.Fatalf("expected completed, got %s", progress.Phase)
	}

	// Reordered earlier-lifecycle events must not regress the phase.
	progress.ApplyRequested("target-1", 3, now.Add(time.Second))
	progress.ApplyVote("alice", now.Add(2*time.Second))
	progress.ApplyDecision("approved", now.Add(3*time.Second))
	progress.ApplyExecuting(now.Add(4*time.Second))

	if progress.Phase != PhaseCompleted {
		t.Fatalf("phase regressed to %s", progress.Phase)
	}
	if progress.ProgressPercent != 100 {
		t.Fatalf("expected 100%%, got %d", progress.ProgressPercent)
	}
}

func TestPermutationsYieldSameFinalPhase(t *testing.T) {
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	type apply func(p *WorkflowProgress)
	events := []apply{
		func(p *WorkflowProgress) { p.ApplyRequested("target-1", 2, now) },
		func(p *WorkflowProgress) { p.ApplyVote("alice", now) },
		func(p *WorkflowProgress) { p.ApplyVote("bob", now) },
		func(p *WorkflowProgress) { p.ApplyDecision("approved", now) },
		func(p *WorkflowProgress) { p.ApplyExecuting(now) },
		func(p *WorkflowProgress) { p.ApplyCompleted(now) },
	}
	orders := [][]int{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{2, 5, 0, 3, 1, 4},
		{3, 0, 5, 1, 4, 2},
	}
	for _, order := range orders {
		progress := NewWorkflowProgress("workflow-1")
		for _, i := range order {
			events[i](&progress)
		}
		if progress.Phase != PhaseCompleted {
			t.Fatalf("order %v ended at %s, want completed", order, progress.Phase)
		}
		if progress.ProgressPercent != 100 {
			t.Fatalf("order %v ended at %d%%, want 100", order, progress.ProgressPercent)
		}
	}
}

func TestDuplicateVoteDoesNotDoubleCount(t *testing.T) {
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	progress := NewWorkflowProgress("workflow-1")
	progress.ApplyRequested("target-1", 2, now)

	progress.ApplyVote("alice", now)
	first := progress.ProgressPercent
	progress.ApplyVote("alice", now)
	if progress.ProgressPercent != first {
		t.Fatalf("duplicate vote changed percent: %d -> %d", first, progress.ProgressPercent)
	}
	if first != 45 {
		t.Fatalf("expected 45%% after one of two votes, got %d", first)
	}
	progress.ApplyVote("bob", now)
	if progress.ProgressPercent != 60 {
		t.Fatalf("expected 60%% after full voting, got %d", progress.ProgressPercent)
	}
}

func TestCancellableOnlyBeforeDecision(t *testing.T) {
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	progress := NewWorkflowProgress("workflow-1")

	progress.ApplyRequested("target-1", 2, now)
	if !progress.Cancellable {
		t.Fatalf("requested workflow must be cancellable")
	}
	progress.ApplyVote("alice", now)
	if !progress.Cancellable {
		t.Fatalf("voting workflow must be cancellable")
	}
	progress.ApplyDecision("approved", now)
	if progress.Cancellable {
		t.Fatalf("decided workflow must not be cancellable")
	}
	progress.ApplyExecuting(now)
	if progress.Cancellable {
		t.Fatalf("executing workflow must not be cancellable")
	}
}

func TestDeniedDecisionIsTerminalFailure(t *testing.T) {
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	progress := NewWorkflowProgress("workflow-1")
	progress.ApplyRequested("target-1", 2, now)
	progress.ApplyDecision("timed_out", now)

	if progress.Phase != PhaseFailed {
		t.Fatalf("expected failed phase, got %s", progress.Phase)
	}
	if progress.Outcome != "timed_out" {
		t.Fatalf("expected timed_out outcome, got %q", progress.Outcome)
	}
	if progress.ProgressPercent != 100 {
		t.Fatalf("terminal phase should report 100%%, got %d", progress.ProgressPercent)
	}
}

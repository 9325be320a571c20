package entities

import (
	"strings"
	"time"
)

type Phase string

const (
	PhaseRequested Phase = "requested"
	PhaseVoting    Phase = "voting"
	PhaseDecided   Phase = "decided"
	PhaseExecuting Phase = "executing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// phaseRank fixes the forward-only ordering of phases. Events may arrive in
// any order; a fold only ever moves the phase to a higher rank.
func phaseRank(phase Phase) int {
	switch phase {
	case PhaseRequested:
		return 1
	case PhaseVoting:
		return 2
	case PhaseDecided:
		return 3
	case PhaseExecuting:
		return 4
	case PhaseCompleted, PhaseFailed:
		return 5
	default:
		return 0
	}
}

// WorkflowProgress is the tracker's per-workflow projection. Every Apply
// method is idempotent and order-tolerant: replays and reordering cannot move
// the phase backward or double-count a participant's vote.
type WorkflowProgress struct {
	CorrelationID     string
	TargetID          string
	Phase             Phase
	Outcome           string
	FailedStep        string
	RequiredVoters    int
	VotedParticipants map[string]bool
	Cancellable       bool
	ProgressPercent   int
	LastEventAt       time.Time
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewWorkflowProgress(correlationID string) WorkflowProgress {
	return WorkflowProgress{
		CorrelationID:     strings.TrimSpace(correlationID),
		VotedParticipants: make(map[string]bool),
	}
}

func (p WorkflowProgress) IsTerminal() bool {
	return p.Phase == PhaseCompleted || p.Phase == PhaseFailed
}

// advanceTo moves the phase forward if the candidate outranks the current
// phase. Returns whether the phase changed.
func (p *WorkflowProgress) advanceTo(phase Phase) bool {
	if phaseRank(phase) <= phaseRank(p.Phase) {
		return false
	}
	p.Phase = phase
	return true
}

func (p *WorkflowProgress) ApplyRequested(targetID string, requiredVoters int, at time.Time) {
	// RequiredVoters fills in even when a reordered vote already advanced the
	// phase past requested.
	if p.RequiredVoters == 0 {
		p.RequiredVoters = requiredVoters
	}
	if strings.TrimSpace(targetID) != "" && p.TargetID == "" {
		p.TargetID = strings.TrimSpace(targetID)
	}
	p.advanceTo(PhaseRequested)
	p.touch(at)
}

func (p *WorkflowProgress) ApplyVote(participantID string, at time.Time) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return
	}
	if p.VotedParticipants == nil {
		p.VotedParticipants = make(map[string]bool)
	}
	p.VotedParticipants[participantID] = true
	p.advanceTo(PhaseVoting)
	p.touch(at)
}

// ApplyDecision folds a decision event. Approval advances to decided;
// denial and timeout are terminal failures for the workflow's purposes.
func (p *WorkflowProgress) ApplyDecision(outcome string, at time.Time) {
	outcome = strings.TrimSpace(outcome)
	if p.Outcome == "" {
		p.Outcome = outcome
	}
	if outcome == "approved" {
		p.advanceTo(PhaseDecided)
	} else {
		p.advanceTo(PhaseFailed)
	}
	p.touch(at)
}

// ApplyCancelled only refreshes the event clock. The authoritative phase
// change for a cancelled workflow arrives on the aggregator's denial event.
func (p *WorkflowProgress) ApplyCancelled(at time.Time) {
	p.touch(at)
}

func (p *WorkflowProgress) ApplyExecuting(at time.Time) {
	p.advanceTo(PhaseExecuting)
	p.touch(at)
}

func (p *WorkflowProgress) ApplyCompleted(at time.Time) {
	p.advanceTo(PhaseCompleted)
	p.touch(at)
}

func (p *WorkflowProgress) ApplyFailed(failedStep string, at time.Time) {
	if p.FailedStep == "" {
		p.FailedStep = strings.TrimSpace(failedStep)
	}
	p.advanceTo(PhaseFailed)
	p.touch(at)
}

// touch recomputes the derived fields after a fold step.
func (p *WorkflowProgress) touch(at time.Time) {
	if at.After(p.LastEventAt) {
		p.LastEventAt = at.UTC()
	}
	p.Cancellable = p.Phase == PhaseRequested || p.Phase == PhaseVoting
	p.ProgressPercent = p.computePercent()
}

func (p WorkflowProgress) computePercent() int {
	switch p.Phase {
	case PhaseRequested:
		return 10
	case PhaseVoting:
		if p.RequiredVoters <= 0 {
			return 30
		}
		voted := 0
		for range p.VotedParticipants {
			voted++
		}
		if voted > p.RequiredVoters {
			voted = p.RequiredVoters
		}
		return 30 + (30*voted)/p.RequiredVoters
	case PhaseDecided:
		return 60
	case PhaseExecuting:
		return 80
	case PhaseCompleted, PhaseFailed:
		return 100
	default:
		return 0
	}
}

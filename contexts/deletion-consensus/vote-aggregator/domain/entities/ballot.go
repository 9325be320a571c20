package entities

import (
	"sort"
	"strings"
	"time"
)

type VoteDecision string

const (
	VoteApprove VoteDecision = "approve"
	VoteDeny    VoteDecision = "deny"
	VoteAbstain VoteDecision = "abstain"
)

func (d VoteDecision) Valid() bool {
	switch d {
	case VoteApprove, VoteDeny, VoteAbstain:
		return true
	default:
		return false
	}
}

// Vote is one participant's opinion on one workflow. Deduplicated by
// (correlation_id, participant_id); a later vote from the same participant
// before finalization replaces the earlier one as a correction.
type Vote struct {
	CorrelationID string
	ParticipantID string
	Decision      VoteDecision
	Reason        string
	VotedAt       time.Time
}

type BallotOutcome string

const (
	OutcomePending  BallotOutcome = "pending"
	OutcomeApproved BallotOutcome = "approved"
	OutcomeDenied   BallotOutcome = "denied"
	OutcomeTimedOut BallotOutcome = "timed_out"
)

// Ballot is the aggregator's durable per-workflow record. The outcome
// transitions exactly once from pending to a terminal state; the Version
// field drives optimistic concurrency control in the stores, so two racing
// writers can never both finalize.
type Ballot struct {
	CorrelationID  string
	TargetID       string
	RequestedBy    string
	RequiredVoters []string
	ReceivedVotes  map[string]Vote
	Deadline       time.Time
	Outcome        BallotOutcome
	OutcomeReason  string
	FinalizedAt    *time.Time
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// DecisionEventID is minted together with the terminal write. Re-appending
	// the decision event on a replay reuses it, so the outbox sees the same
	// envelope no matter how often the finalization is retried.
	DecisionEventID string
}

func (b Ballot) IsTerminal() bool {
	return b.Outcome != "" && b.Outcome != OutcomePending
}

func (b Ballot) IsRequiredVoter(participantID string) bool {
	participantID = strings.TrimSpace(participantID)
	for _, voter := range b.RequiredVoters {
		if voter == participantID {
			return true
		}
	}
	return false
}

func (b Ballot) HasVoted(participantID string) bool {
	_, ok := b.ReceivedVotes[strings.TrimSpace(participantID)]
	return ok
}

// RecordVote upserts the participant's vote. Votes from participants outside
// the required set are stored for observability but never counted by
// Evaluate.
func (b *Ballot) RecordVote(vote Vote) {
	if b.ReceivedVotes == nil {
		b.ReceivedVotes = make(map[string]Vote)
	}
	b.ReceivedVotes[strings.TrimSpace(vote.ParticipantID)] = vote
}

// Evaluate applies the decision policy and reports whether the ballot can be
// finalized now. Order matters: a veto wins over everything, a passed
// deadline wins over a late quorum (never execute on missing information),
// and only a full approve quorum yields approval.
func (b Ballot) Evaluate(now time.Time) (BallotOutcome, bool) {
	if b.IsTerminal() {
		return b.Outcome, false
	}
	for _, voter := range b.RequiredVoters {
		if vote, ok := b.ReceivedVotes[voter]; ok && vote.Decision == VoteDeny {
			return OutcomeDenied, true
		}
	}
	if !b.Deadline.IsZero() && now.After(b.Deadline) {
		return OutcomeTimedOut, true
	}
	for _, voter := range b.RequiredVoters {
		vote, ok := b.ReceivedVotes[voter]
		if !ok || vote.Decision != VoteApprove {
			return OutcomePending, false
		}
	}
	return OutcomeApproved, true
}

// ApprovedBy lists required voters that approved, sorted for stable payloads.
func (b Ballot) ApprovedBy() []string {
	return b.requiredVotersByDecision(VoteApprove)
}

// DeniedBy lists required voters that denied, sorted for stable payloads.
func (b Ballot) DeniedBy() []string {
	return b.requiredVotersByDecision(VoteDeny)
}

// MissingVoters lists required voters with no vote on record.
func (b Ballot) MissingVoters() []string {
	var missing []string
	for _, voter := range b.RequiredVoters {
		if _, ok := b.ReceivedVotes[voter]; !ok {
			missing = append(missing, voter)
		}
	}
	sort.Strings(missing)
	return missing
}

func (b Ballot) requiredVotersByDecision(decision VoteDecision) []string {
	var matched []string
	for _, voter := range b.RequiredVoters {
		if vote, ok := b.ReceivedVotes[voter]; ok && vote.Decision == decision {
			matched = append(matched, voter)
		}
	}
	sort.Strings(matched)
	return matched
}

package v1

// Event types of the deletion consensus workflow. A timed-out ballot is
// published on TypeDeletionDenied with OutcomeTimedOut in the payload: both
// block execution, the payload outcome keeps them distinguishable.
const (
	TypeDeletionRequested = "deletion.requested"
	TypeDeletionVote      = "deletion.vote"
	TypeDeletionCancelled = "deletion.cancelled"
	TypeDeletionApproved  = "deletion.approved"
	TypeDeletionDenied    = "deletion.denied"
	TypeDeletionExecuting = "deletion.executing"
	TypeDeletionCompleted = "deletion.completed"
	TypeDeletionFailed    = "deletion.failed"
)

// Decision outcomes carried in decision payloads.
const (
	OutcomeApproved = "approved"
	OutcomeDenied   = "denied"
	OutcomeTimedOut = "timed_out"
)

// Participant vote decisions.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
	DecisionAbstain = "abstain"
)

// RequestedPayload is the payload of deletion.requested.
type RequestedPayload struct {
	TargetID       string   `json:"targetId"`
	RequestedBy    string   `json:"requestedBy"`
	RequiredVoters []string `json:"requiredVoters"`
	Deadline       int64    `json:"deadline,omitempty"` // epoch milliseconds
}

// VotePayload is the payload of deletion.vote.
type VotePayload struct {
	ParticipantID string `json:"participantId"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	VotedAt       int64  `json:"votedAt"` // epoch milliseconds
}

// CancelPayload is the payload of deletion.cancelled.
type CancelPayload struct {
	RequestedBy string `json:"requestedBy"`
	Reason      string `json:"reason,omitempty"`
}

// DecisionPayload is the payload of deletion.approved and deletion.denied.
type DecisionPayload struct {
	TargetID       string   `json:"targetId"`
	Outcome        string   `json:"outcome"`
	Reason         string   `json:"reason,omitempty"`
	RequiredVoters []string `json:"requiredVoters"`
	ApprovedBy     []string `json:"approvedBy,omitempty"`
	DeniedBy       []string `json:"deniedBy,omitempty"`
	MissingVoters  []string `json:"missingVoters,omitempty"`
}

// ExecutionPayload is the payload of deletion.executing, deletion.completed
// and deletion.failed.
type ExecutionPayload struct {
	TargetID        string   `json:"targetId"`
	CompletedSteps  []string `json:"completedSteps,omitempty"`
	IncompleteSteps []string `json:"incompleteSteps,omitempty"`
	FailedStep      string   `json:"failedStep,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

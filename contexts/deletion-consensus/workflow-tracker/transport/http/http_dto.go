package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WorkflowProgressResponse mirrors the stable polling contract. Field names
// match the wire-level event schema convention (camelCase).
type WorkflowProgressResponse struct {
	CorrelationID   string `json:"correlationId"`
	Status          string `json:"status"`
	ProgressPercent int    `json:"progressPercent"`
	CurrentPhase    string `json:"currentPhase"`
	Cancellable     bool   `json:"cancellable"`
	FailedStep      string `json:"failedStep,omitempty"`
}

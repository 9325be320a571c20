package errors

import "errors"

var (
	ErrInvalidEventPayload = errors.New("invalid event payload")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrVersionConflict     = errors.New("progress version conflict")
)

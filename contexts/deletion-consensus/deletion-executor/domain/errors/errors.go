package errors

import "errors"

var (
	ErrInvalidExecutionInput = errors.New("invalid execution input")
	ErrInvalidEventPayload   = errors.New("invalid event payload")
	ErrExecutionNotFound     = errors.New("execution not found")
	ErrVersionConflict       = errors.New("execution version conflict")
	ErrConflict              = errors.New("conflicting write")
)

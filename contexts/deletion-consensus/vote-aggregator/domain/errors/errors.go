package errors

import "errors"

var (
	ErrInvalidRequestInput = errors.New("invalid deletion request input")
	ErrInvalidVoteInput    = errors.New("invalid vote input")
	ErrInvalidCancelInput  = errors.New("invalid cancellation input")
	ErrInvalidEventPayload = errors.New("invalid event payload")
	ErrBallotNotFound      = errors.New("ballot not found")
	ErrVersionConflict     = errors.New("ballot version conflict")
	ErrConflict            = errors.New("ballot store conflict")
)

package errors

import "errors"

var (
	ErrInvalidEntryInput  = errors.New("invalid dead letter input")
	ErrEntryNotFound      = errors.New("dead letter entry not found")
	ErrAlreadyReprocessed = errors.New("dead letter entry already reprocessed")
	ErrConflict           = errors.New("conflicting write")
)

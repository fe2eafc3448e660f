package models

import "errors"

// Common validation errors for models.
var (
	// ErrSessionIDRequired indicates a required session ID field is empty.
	ErrSessionIDRequired = errors.New("session_id is required")

	// ErrStreamKeyRequired indicates a required stream key field is empty.
	ErrStreamKeyRequired = errors.New("stream_key is required")
)

package models

import (
	"gorm.io/gorm"
)

// EndReason explains why a relay session stopped accepting segments.
type EndReason string

const (
	// EndReasonFinalized indicates the encoder sent a finalization segment.
	EndReasonFinalized EndReason = "finalized"
	// EndReasonStalled indicates the stall watcher timed the session out.
	EndReasonStalled EndReason = "stalled"
	// EndReasonRotated indicates a sequence reset retired the session in
	// favour of a fresh one for the same stream key.
	EndReasonRotated EndReason = "rotated"
	// EndReasonShutdown indicates the server stopped while the session was live.
	EndReasonShutdown EndReason = "shutdown"
	// EndReasonInterrupted marks rows left open by a previous run that did
	// not shut down cleanly. Set during startup recovery.
	EndReasonInterrupted EndReason = "interrupted"
)

// SessionRecord is the journal row for one relay session. The live state
// machine owns a session's truth while it runs; the record is a durable
// history entry for operators, updated at lifecycle edges.
type SessionRecord struct {
	BaseModel

	// SessionID is the directory name, e.g. "stream1_20260825_143000".
	SessionID string `gorm:"not null;uniqueIndex;size:255" json:"session_id"`

	// StreamKey identifies the pushing encoder.
	StreamKey string `gorm:"not null;size:128;index" json:"stream_key"`

	// Target is the upload destination ("youtube", "twitch").
	Target string `gorm:"size:32" json:"target"`

	// StartedAt is when the initialization segment arrived.
	StartedAt Time `gorm:"not null;index" json:"started_at"`

	// EndedAt is when the session stopped being live. Nil while live.
	EndedAt *Time `gorm:"index" json:"ended_at,omitempty"`

	// EndReason is empty while live.
	EndReason EndReason `gorm:"size:20" json:"end_reason,omitempty"`

	// SegmentsWritten counts media segments appended to the playlist.
	SegmentsWritten int64 `json:"segments_written"`

	// SegmentsSkipped counts buffered segments abandoned by gap skips.
	SegmentsSkipped int64 `json:"segments_skipped"`

	// Periods counts initialization segments accepted (period switches plus
	// the first init).
	Periods int `json:"periods"`

	// Discontinuities counts discontinuity tags written to the playlist.
	Discontinuities int64 `json:"discontinuities"`

	// LastSequence is the highest media sequence written to the playlist,
	// or -1 when no media segment was ever written.
	LastSequence int64 `gorm:"default:-1" json:"last_sequence"`

	// UploaderStarts counts child process launches (initial plus restarts).
	UploaderStarts int `json:"uploader_starts"`

	// UploaderExitCode holds the child's last exit code. Nil if it never ran
	// or is still running.
	UploaderExitCode *int `json:"uploader_exit_code,omitempty"`
}

// TableName returns the table name for SessionRecord.
func (SessionRecord) TableName() string {
	return "sessions"
}

// IsLive reports whether the session has not yet ended.
func (s *SessionRecord) IsLive() bool {
	return s.EndedAt == nil
}

// MarkEnded stamps the end time and reason. Idempotent: the first call wins.
func (s *SessionRecord) MarkEnded(reason EndReason) {
	if s.EndedAt != nil {
		return
	}
	now := Now()
	s.EndedAt = &now
	s.EndReason = reason
}

// Validate performs basic validation on the session record.
func (s *SessionRecord) Validate() error {
	if s.SessionID == "" {
		return ErrSessionIDRequired
	}
	if s.StreamKey == "" {
		return ErrStreamKeyRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the record and generates a ULID.
// Updates go through column maps from the journal and skip validation.
func (s *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

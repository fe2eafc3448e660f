// Package relay implements the live session state machine. Segments pushed
// by encoders are persisted, ordered by sequence number, and appended to a
// per-session HLS event playlist, while a supervised ffmpeg child re-uploads
// the growing playlist to the configured target.
package relay

import (
	"errors"
	"io"
	"time"
)

// ErrSessionFinalized is returned by Admit once a session has ended. Callers
// should resolve the stream key again; the registry hands out a fresh session.
var ErrSessionFinalized = errors.New("session finalized")

// SegmentType is the Segment-Type request header value.
type SegmentType string

const (
	// SegmentTypeInit carries the fMP4 initialization data for a period.
	SegmentTypeInit SegmentType = "Initialization"
	// SegmentTypeMedia carries one playable fMP4 fragment.
	SegmentTypeMedia SegmentType = "Media"
	// SegmentTypeFinalization marks the end of the stream. It may carry a
	// final media fragment when its duration is non-zero.
	SegmentTypeFinalization SegmentType = "Finalization"
)

// ParseSegmentType maps a Segment-Type header value to its type. The match
// is exact: encoders send the canonical spellings.
func ParseSegmentType(s string) (SegmentType, bool) {
	switch SegmentType(s) {
	case SegmentTypeInit, SegmentTypeMedia, SegmentTypeFinalization:
		return SegmentType(s), true
	}
	return "", false
}

// Segment is one admitted upload. Body is streamed to disk before any
// session state changes.
type Segment struct {
	Type          SegmentType
	Target        string
	Discontinuity bool
	Duration      float64
	Sequence      int64
	Body          io.Reader
}

// Event is one entry in a session's bounded history, surfaced by the
// status API.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// TargetChangePolicy selects the reaction when an admit names a different
// upload target than the one the session started with.
type TargetChangePolicy string

const (
	// TargetChangeIgnore keeps uploading to the original target.
	TargetChangeIgnore TargetChangePolicy = "ignore"
	// TargetChangeRestart terminates the child and relaunches it against
	// the new target at the live edge.
	TargetChangeRestart TargetChangePolicy = "restart"
)

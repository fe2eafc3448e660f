package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/relayarr/internal/journal"
	"github.com/jmylchreest/relayarr/internal/models"
	"github.com/jmylchreest/relayarr/internal/relay"
)

// StatusHandler exposes live session snapshots and journal history.
type StatusHandler struct {
	registry *relay.Registry
	journal  *journal.Recorder
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(registry *relay.Registry, journal *journal.Recorder) *StatusHandler {
	return &StatusHandler{
		registry: registry,
		journal:  journal,
	}
}

// Register registers the status routes with the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List active sessions",
		Description: "Returns a snapshot of every live relay session",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSessionHistory",
		Method:      "GET",
		Path:        "/api/v1/sessions/history",
		Summary:     "Get session history",
		Description: "Returns recent session records from the journal, most recent first",
		Tags:        []string{"Sessions"},
	}, h.GetHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getSessionEvents",
		Method:      "GET",
		Path:        "/api/v1/sessions/{stream_key}/events",
		Summary:     "Get session events",
		Description: "Returns the bounded event history of the active session for a stream key",
		Tags:        []string{"Sessions"},
	}, h.GetEvents)
}

// ListSessionsInput is the input for listing active sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing active sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []relay.Snapshot `json:"sessions"`
		Count    int              `json:"count"`
	}
}

// List returns a snapshot of all active sessions.
func (h *StatusHandler) List(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	snapshots := h.registry.Snapshots()

	resp := &ListSessionsOutput{}
	resp.Body.Sessions = snapshots
	resp.Body.Count = len(snapshots)
	return resp, nil
}

// GetSessionEventsInput is the input for getting session events.
type GetSessionEventsInput struct {
	StreamKey string `path:"stream_key" doc:"Stream key of the active session"`
}

// GetSessionEventsOutput is the output for getting session events.
type GetSessionEventsOutput struct {
	Body struct {
		StreamKey string        `json:"stream_key"`
		Events    []relay.Event `json:"events"`
	}
}

// GetEvents returns the event history of the active session for a stream key.
func (h *StatusHandler) GetEvents(ctx context.Context, input *GetSessionEventsInput) (*GetSessionEventsOutput, error) {
	events, ok := h.registry.Events(input.StreamKey)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("no active session for stream key %s", input.StreamKey))
	}

	resp := &GetSessionEventsOutput{}
	resp.Body.StreamKey = input.StreamKey
	resp.Body.Events = events
	return resp, nil
}

// GetSessionHistoryInput is the input for getting session history.
type GetSessionHistoryInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of records to return"`
}

// GetSessionHistoryOutput is the output for getting session history.
type GetSessionHistoryOutput struct {
	Body struct {
		Sessions []SessionHistoryEntry `json:"sessions"`
		Count    int                   `json:"count"`
	}
}

// GetHistory returns recent session records from the journal.
func (h *StatusHandler) GetHistory(ctx context.Context, input *GetSessionHistoryInput) (*GetSessionHistoryOutput, error) {
	records, err := h.journal.ListRecent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get session history", err)
	}

	resp := &GetSessionHistoryOutput{}
	resp.Body.Sessions = make([]SessionHistoryEntry, 0, len(records))
	for _, rec := range records {
		resp.Body.Sessions = append(resp.Body.Sessions, SessionHistoryFromRecord(rec))
	}
	resp.Body.Count = len(resp.Body.Sessions)
	return resp, nil
}

// SessionHistoryEntry is the API shape of one journal row.
type SessionHistoryEntry struct {
	ID               string           `json:"id" doc:"Journal row ULID"`
	SessionID        string           `json:"session_id"`
	StreamKey        string           `json:"stream_key"`
	Target           string           `json:"target"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
	EndReason        models.EndReason `json:"end_reason,omitempty"`
	Live             bool             `json:"live"`
	SegmentsWritten  int64            `json:"segments_written"`
	SegmentsSkipped  int64            `json:"segments_skipped"`
	Periods          int              `json:"periods"`
	Discontinuities  int64            `json:"discontinuities"`
	LastSequence     int64            `json:"last_sequence"`
	UploaderStarts   int              `json:"uploader_starts"`
	UploaderExitCode *int             `json:"uploader_exit_code,omitempty"`
}

// SessionHistoryFromRecord converts a journal row to its API shape.
func SessionHistoryFromRecord(rec *models.SessionRecord) SessionHistoryEntry {
	return SessionHistoryEntry{
		ID:               rec.ID.String(),
		SessionID:        rec.SessionID,
		StreamKey:        rec.StreamKey,
		Target:           rec.Target,
		StartedAt:        rec.StartedAt,
		EndedAt:          rec.EndedAt,
		EndReason:        rec.EndReason,
		Live:             rec.IsLive(),
		SegmentsWritten:  rec.SegmentsWritten,
		SegmentsSkipped:  rec.SegmentsSkipped,
		Periods:          rec.Periods,
		Discontinuities:  rec.Discontinuities,
		LastSequence:     rec.LastSequence,
		UploaderStarts:   rec.UploaderStarts,
		UploaderExitCode: rec.UploaderExitCode,
	}
}

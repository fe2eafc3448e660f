// Package journal persists session lifecycle history. Writes are queued to a
// single worker goroutine so the ingest path never blocks on the database;
// a failed journal write is logged and dropped, never surfaced to encoders.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/relayarr/internal/models"
	"github.com/jmylchreest/relayarr/internal/observability"
	"gorm.io/gorm"
)

const (
	// opQueueSize bounds queued writes. Lifecycle edges are rare, so a full
	// queue means the database is badly stuck; further writes are dropped.
	opQueueSize = 256

	// writeTimeout bounds each journal write.
	writeTimeout = 5 * time.Second
)

// op is one queued database write.
type op struct {
	name string
	fn   func(tx *gorm.DB) error
}

// SessionStats carries the final counters recorded when a session ends.
type SessionStats struct {
	SegmentsWritten int64
	SegmentsSkipped int64
	Periods         int
	Discontinuities int64
	LastSequence    int64
}

// Recorder writes session history rows and answers history queries.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	started bool
	ops     chan op
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder on top of an open database connection.
func NewRecorder(db *gorm.DB, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		db:     db,
		logger: observability.WithComponent(log, "journal"),
		ops:    make(chan op, opQueueSize),
	}
}

// Start launches the write worker. Safe to call once.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	r.wg.Add(1)
	go r.run()
}

// Stop drains queued writes and stops the worker. Enqueues after Stop are
// dropped with a warning.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ops)
	started := r.started
	r.mu.Unlock()

	if started {
		r.wg.Wait()
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for o := range r.ops {
		r.apply(o)
	}
}

func (r *Recorder) apply(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := o.fn(r.db.WithContext(ctx)); err != nil {
		observability.WithError(r.logger, err).Error("journal write failed",
			slog.String("op", o.name))
	}
}

func (r *Recorder) enqueue(name string, fn func(tx *gorm.DB) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("journal write dropped, recorder stopped", slog.String("op", name))
		return
	}
	select {
	case r.ops <- op{name: name, fn: fn}:
	default:
		r.logger.Warn("journal write dropped, queue full", slog.String("op", name))
	}
}

// SessionStarted records a new live session row.
func (r *Recorder) SessionStarted(sessionID, streamKey, target string, startedAt time.Time) {
	rec := &models.SessionRecord{
		SessionID:    sessionID,
		StreamKey:    streamKey,
		Target:       target,
		StartedAt:    startedAt,
		LastSequence: -1,
	}
	r.enqueue("session_started", func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
}

// SessionEnded stamps the end of a session with its final counters. The
// ended_at IS NULL guard keeps the first recorded end authoritative.
func (r *Recorder) SessionEnded(sessionID string, reason models.EndReason, stats SessionStats) {
	endedAt := time.Now()
	r.enqueue("session_ended", func(tx *gorm.DB) error {
		return tx.Model(&models.SessionRecord{}).
			Where("session_id = ? AND ended_at IS NULL", sessionID).
			Updates(map[string]any{
				"ended_at":         endedAt,
				"end_reason":       reason,
				"segments_written": stats.SegmentsWritten,
				"segments_skipped": stats.SegmentsSkipped,
				"periods":          stats.Periods,
				"discontinuities":  stats.Discontinuities,
				"last_sequence":    stats.LastSequence,
			}).Error
	})
}

// UploaderStarted bumps the launch counter for a session's child process.
func (r *Recorder) UploaderStarted(sessionID string) {
	r.enqueue("uploader_started", func(tx *gorm.DB) error {
		return tx.Model(&models.SessionRecord{}).
			Where("session_id = ?", sessionID).
			Update("uploader_starts", gorm.Expr("uploader_starts + ?", 1)).Error
	})
}

// UploaderExited records the child's exit code.
func (r *Recorder) UploaderExited(sessionID string, exitCode int) {
	r.enqueue("uploader_exited", func(tx *gorm.DB) error {
		return tx.Model(&models.SessionRecord{}).
			Where("session_id = ?", sessionID).
			Update("uploader_exit_code", exitCode).Error
	})
}

// CloseInterrupted marks rows left open by a previous run as interrupted.
// Called once at startup, before the recorder starts accepting writes.
func (r *Recorder) CloseInterrupted(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("ended_at IS NULL").
		Updates(map[string]any{
			"ended_at":   time.Now(),
			"end_reason": models.EndReasonInterrupted,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("closing interrupted sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetBySessionID retrieves one session row, or nil if absent.
func (r *Recorder) GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session by ID: %w", err)
	}
	return &rec, nil
}

// ListRecent retrieves the most recently started sessions, newest first.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	var recs []*models.SessionRecord
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recent sessions: %w", err)
	}
	return recs, nil
}

// ListByStreamKey retrieves a stream's sessions, newest first.
func (r *Recorder) ListByStreamKey(ctx context.Context, streamKey string, limit int) ([]*models.SessionRecord, error) {
	var recs []*models.SessionRecord
	q := r.db.WithContext(ctx).Where("stream_key = ?", streamKey).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing sessions by stream key: %w", err)
	}
	return recs, nil
}

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/relayarr/internal/config"
	"github.com/jmylchreest/relayarr/internal/database"
	"github.com/jmylchreest/relayarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRecorder creates a Recorder over an in-memory SQLite journal.
func setupRecorder(t *testing.T) *Recorder {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background()))

	return NewRecorder(db.DB, nil)
}

func TestRecorder_SessionStarted(t *testing.T) {
	r := setupRecorder(t)
	r.Start()

	started := time.Now().Truncate(time.Second)
	r.SessionStarted("stream1_20260825_143000", "stream1", "youtube", started)
	r.Stop()

	rec, err := r.GetBySessionID(context.Background(), "stream1_20260825_143000")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "stream1", rec.StreamKey)
	assert.Equal(t, "youtube", rec.Target)
	assert.Equal(t, int64(-1), rec.LastSequence)
	assert.True(t, rec.IsLive())
}

func TestRecorder_SessionEnded(t *testing.T) {
	r := setupRecorder(t)
	r.Start()

	r.SessionStarted("stream1_20260825_143000", "stream1", "youtube", time.Now())
	r.SessionEnded("stream1_20260825_143000", models.EndReasonFinalized, SessionStats{
		SegmentsWritten: 42,
		SegmentsSkipped: 1,
		Periods:         2,
		Discontinuities: 3,
		LastSequence:    41,
	})
	r.Stop()

	rec, err := r.GetBySessionID(context.Background(), "stream1_20260825_143000")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsLive())
	assert.Equal(t, models.EndReasonFinalized, rec.EndReason)
	assert.Equal(t, int64(42), rec.SegmentsWritten)
	assert.Equal(t, int64(1), rec.SegmentsSkipped)
	assert.Equal(t, 2, rec.Periods)
	assert.Equal(t, int64(3), rec.Discontinuities)
	assert.Equal(t, int64(41), rec.LastSequence)
}

func TestRecorder_SessionEnded_FirstWins(t *testing.T) {
	r := setupRecorder(t)
	r.Start()

	r.SessionStarted("s_20260825_143000", "s", "twitch", time.Now())
	r.SessionEnded("s_20260825_143000", models.EndReasonFinalized, SessionStats{SegmentsWritten: 10})
	r.SessionEnded("s_20260825_143000", models.EndReasonStalled, SessionStats{SegmentsWritten: 99})
	r.Stop()

	rec, err := r.GetBySessionID(context.Background(), "s_20260825_143000")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.EndReasonFinalized, rec.EndReason)
	assert.Equal(t, int64(10), rec.SegmentsWritten)
}

func TestRecorder_UploaderCounters(t *testing.T) {
	r := setupRecorder(t)
	r.Start()

	r.SessionStarted("s_20260825_143000", "s", "youtube", time.Now())
	r.UploaderStarted("s_20260825_143000")
	r.UploaderStarted("s_20260825_143000")
	r.UploaderExited("s_20260825_143000", 1)
	r.Stop()

	rec, err := r.GetBySessionID(context.Background(), "s_20260825_143000")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.UploaderStarts)
	require.NotNil(t, rec.UploaderExitCode)
	assert.Equal(t, 1, *rec.UploaderExitCode)
}

func TestRecorder_CloseInterrupted(t *testing.T) {
	r := setupRecorder(t)
	r.Start()

	r.SessionStarted("a_20260825_140000", "a", "youtube", time.Now())
	r.SessionStarted("b_20260825_140001", "b", "youtube", time.Now())
	r.SessionEnded("b_20260825_140001", models.EndReasonFinalized, SessionStats{})
	r.Stop()

	n, err := r.CloseInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := r.GetBySessionID(context.Background(), "a_20260825_140000")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.EndReasonInterrupted, rec.EndReason)

	// Already-ended rows keep their reason.
	rec, err = r.GetBySessionID(context.Background(), "b_20260825_140001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.EndReasonFinalized, rec.EndReason)
}

func TestRecorder_GetBySessionID_Absent(t *testing.T) {
	r := setupRecorder(t)

	rec, err := r.GetBySessionID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecorder_ListRecent(t *testing.T) {
	r := setupRecorder(t)
	r.Start()

	base := time.Now().Add(-time.Hour)
	r.SessionStarted("old_20260825_130000", "old", "youtube", base)
	r.SessionStarted("new_20260825_140000", "new", "youtube", base.Add(30*time.Minute))
	r.Stop()

	recs, err := r.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new_20260825_140000", recs[0].SessionID)
	assert.Equal(t, "old_20260825_130000", recs[1].SessionID)

	recs, err = r.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new_20260825_140000", recs[0].SessionID)
}

func TestRecorder_ListByStreamKey(t *testing.T) {
	r := setupRecorder(t)
	r.Start()

	r.SessionStarted("a_20260825_130000", "a", "youtube", time.Now().Add(-time.Minute))
	r.SessionStarted("a_20260825_140000", "a", "youtube", time.Now())
	r.SessionStarted("b_20260825_140000", "b", "twitch", time.Now())
	r.Stop()

	recs, err := r.ListByStreamKey(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a_20260825_140000", recs[0].SessionID)
}

func TestRecorder_EnqueueAfterStop(t *testing.T) {
	r := setupRecorder(t)
	r.Start()
	r.Stop()

	// Must not panic or block.
	r.SessionStarted("late_20260825_150000", "late", "youtube", time.Now())

	rec, err := r.GetBySessionID(context.Background(), "late_20260825_150000")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	r := setupRecorder(t)
	// Stop before Start must not hang.
	r.Stop()
}

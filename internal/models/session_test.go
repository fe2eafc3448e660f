package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSessionRecord() *SessionRecord {
	return &SessionRecord{
		SessionID:    "stream1_20260825_143000",
		StreamKey:    "stream1",
		Target:       "youtube",
		StartedAt:    Now(),
		LastSequence: -1,
	}
}

func TestSessionRecord_Validate(t *testing.T) {
	t.Run("valid record", func(t *testing.T) {
		rec := validSessionRecord()
		assert.NoError(t, rec.Validate())
	})

	t.Run("missing session id", func(t *testing.T) {
		rec := validSessionRecord()
		rec.SessionID = ""
		assert.ErrorIs(t, rec.Validate(), ErrSessionIDRequired)
	})

	t.Run("missing stream key", func(t *testing.T) {
		rec := validSessionRecord()
		rec.StreamKey = ""
		assert.ErrorIs(t, rec.Validate(), ErrStreamKeyRequired)
	})
}

func TestSessionRecord_IsLive(t *testing.T) {
	rec := validSessionRecord()
	assert.True(t, rec.IsLive())

	rec.MarkEnded(EndReasonFinalized)
	assert.False(t, rec.IsLive())
}

func TestSessionRecord_MarkEnded(t *testing.T) {
	rec := validSessionRecord()
	rec.MarkEnded(EndReasonStalled)

	require.NotNil(t, rec.EndedAt)
	assert.Equal(t, EndReasonStalled, rec.EndReason)
	assert.WithinDuration(t, time.Now(), *rec.EndedAt, time.Second)
}

func TestSessionRecord_MarkEnded_FirstCallWins(t *testing.T) {
	rec := validSessionRecord()
	rec.MarkEnded(EndReasonFinalized)
	first := *rec.EndedAt

	rec.MarkEnded(EndReasonStalled)
	assert.Equal(t, EndReasonFinalized, rec.EndReason)
	assert.Equal(t, first, *rec.EndedAt)
}

func TestSessionRecord_BeforeCreate(t *testing.T) {
	t.Run("valid record gets an ID", func(t *testing.T) {
		rec := validSessionRecord()
		err := rec.BeforeCreate(nil)
		require.NoError(t, err)
		assert.False(t, rec.ID.IsZero())
	})

	t.Run("invalid record is rejected", func(t *testing.T) {
		rec := validSessionRecord()
		rec.StreamKey = ""
		err := rec.BeforeCreate(nil)
		assert.ErrorIs(t, err, ErrStreamKeyRequired)
	})
}

func TestSessionRecord_TableName(t *testing.T) {
	assert.Equal(t, "sessions", SessionRecord{}.TableName())
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	first := NewULID()
	second := NewULID()

	assert.False(t, first.IsZero())
	assert.NotEqual(t, first, second)

	// Creation order must match string order; history queries rely on it.
	assert.Less(t, first.String(), second.String())
}

func TestParseULID(t *testing.T) {
	original := NewULID()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"round trip", original.String(), false},
		{"garbage", "not-a-valid-ulid", true},
		{"empty", "", true},
		{"truncated", original.String()[:20], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseULID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, original, parsed)
			assert.Len(t, parsed.String(), 26)
		})
	}
}

func TestULID_Value(t *testing.T) {
	var zero ULID
	val, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, val, "zero ID must store as NULL")

	id := NewULID()
	val, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), val)
}

func TestULID_Scan(t *testing.T) {
	id := NewULID()

	tests := []struct {
		name      string
		input     any
		expected  ULID
		expectErr bool
	}{
		{"nil column", nil, ULID{}, false},
		{"string column", id.String(), id, false},
		{"empty string column", "", ULID{}, false},
		{"bytes column", []byte(id.String()), id, false},
		{"empty bytes column", []byte{}, ULID{}, false},
		{"malformed value", "bad-ulid", ULID{}, true},
		{"integer column", 12345, ULID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
		})
	}
}

func TestULID_JSON(t *testing.T) {
	type wrapper struct {
		ID ULID `json:"id"`
	}

	t.Run("round trip", func(t *testing.T) {
		original := wrapper{ID: NewULID()}
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded wrapper
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original.ID, decoded.ID)
	})

	t.Run("zero is null", func(t *testing.T) {
		data, err := json.Marshal(wrapper{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":null}`, string(data))

		var decoded wrapper
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.True(t, decoded.ID.IsZero())
	})

	t.Run("malformed JSON", func(t *testing.T) {
		var u ULID
		assert.Error(t, u.UnmarshalJSON([]byte(`42`)))
		assert.Error(t, u.UnmarshalJSON([]byte(`"too-short"`)))
	})
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	m := &BaseModel{}
	require.NoError(t, m.BeforeCreate(nil))
	assert.False(t, m.ID.IsZero(), "BeforeCreate should assign an ID")

	existing := m.ID
	require.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, existing, m.ID, "an assigned ID must survive")
}

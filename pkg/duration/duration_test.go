package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"10m", 10 * time.Minute},
		{"168h", 168 * time.Hour},
		{"1d", Day},
		{"7d", 7 * Day},
		{"7 days", 7 * Day},
		{"2w", 2 * Week},
		{"1 week", Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"500ms", 500 * time.Millisecond},
		{"-1d", -Day},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "abc", "1 fortnight"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Minute, "1h30m"},
		{Day, "1d"},
		{7 * Day, "1w"},
		{Week + 2*Day + 12*time.Hour, "1w2d12h"},
		{500 * time.Millisecond, "500ms"},
		{-Day, "-1d"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.d))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Second, 90 * time.Minute, Day, 3*Day + time.Hour, 2 * Week} {
		parsed, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}

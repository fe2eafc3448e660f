package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestCleanupOrphanedSegments(t *testing.T) {
	t.Run("removes temp files and keeps completed segments", func(t *testing.T) {
		baseDir := t.TempDir()

		sessionDir := filepath.Join(baseDir, "living-room_20260102_150405")
		require.NoError(t, os.Mkdir(sessionDir, 0750))

		orphan := filepath.Join(sessionDir, ".p0_segment_000007.m4s.a1b2c3d4.tmp")
		segment := filepath.Join(sessionDir, "p0_segment_000006.m4s")
		playlist := filepath.Join(sessionDir, "playlist.m3u8")
		writeFile(t, orphan, []byte("partial"))
		writeFile(t, segment, []byte("complete"))
		writeFile(t, playlist, []byte("#EXTM3U\n"))

		count, err := CleanupOrphanedSegments(newTestLogger(), baseDir)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		_, err = os.Stat(orphan)
		assert.True(t, os.IsNotExist(err), "temp file should be removed")
		assert.FileExists(t, segment)
		assert.FileExists(t, playlist)
	})

	t.Run("sweeps every session directory", func(t *testing.T) {
		baseDir := t.TempDir()

		for _, session := range []string{"kitchen_20260102_150405", "garage_20260103_090000"} {
			dir := filepath.Join(baseDir, session)
			require.NoError(t, os.Mkdir(dir, 0750))
			writeFile(t, filepath.Join(dir, ".p0_segment_000001.m4s.deadbeef.tmp"), []byte("x"))
		}

		count, err := CleanupOrphanedSegments(newTestLogger(), baseDir)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("ignores files directly under the base directory", func(t *testing.T) {
		baseDir := t.TempDir()

		// A stray file at the top level is not a segment write; leave it.
		stray := filepath.Join(baseDir, "notes.tmp")
		writeFile(t, stray, []byte("keep me"))

		count, err := CleanupOrphanedSegments(newTestLogger(), baseDir)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		assert.FileExists(t, stray)
	})

	t.Run("handles non-existent base directory", func(t *testing.T) {
		count, err := CleanupOrphanedSegments(newTestLogger(), "/nonexistent/path/12345")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("handles empty session directories", func(t *testing.T) {
		baseDir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(baseDir, "idle_20260101_000000"), 0750))

		count, err := CleanupOrphanedSegments(newTestLogger(), baseDir)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

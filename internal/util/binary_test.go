package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBinary(t *testing.T) {
	t.Run("accepts explicit executable path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ffmpeg")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

		resolved, err := ResolveBinary(path)
		require.NoError(t, err)
		assert.Equal(t, path, resolved)
	})

	t.Run("rejects explicit path that is not executable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ffmpeg")
		require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

		resolved, err := ResolveBinary(path)
		assert.Error(t, err)
		assert.Empty(t, resolved)
	})

	t.Run("rejects explicit path that does not exist", func(t *testing.T) {
		_, err := ResolveBinary("/nonexistent/path/to/ffmpeg")
		assert.Error(t, err)
	})

	t.Run("rejects directory as explicit path", func(t *testing.T) {
		_, err := ResolveBinary(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("finds bare name on PATH", func(t *testing.T) {
		// "ls" should exist on any Unix system.
		resolved, err := ResolveBinary("ls")
		require.NoError(t, err)
		assert.NotEmpty(t, resolved)
		assert.Contains(t, resolved, "ls")
	})

	t.Run("returns error when bare name is not found", func(t *testing.T) {
		resolved, err := ResolveBinary("definitely-nonexistent-binary-12345")
		assert.Error(t, err)
		assert.Empty(t, resolved)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := ResolveBinary("")
		assert.Error(t, err)
	})
}

package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/relayarr/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSegmentsFixture(t *testing.T) (*chi.Mux, string) {
	t.Helper()

	baseDir := t.TempDir()
	store, err := storage.NewStore(baseDir)
	require.NoError(t, err)

	sessionDir := filepath.Join(baseDir, "stream1_20260825_120000")
	require.NoError(t, os.MkdirAll(sessionDir, 0750))
	require.NoError(t, os.WriteFile(
		filepath.Join(sessionDir, storage.PlaylistFileName),
		[]byte("#EXTM3U\n#EXT-X-VERSION:7\n"), 0640))
	require.NoError(t, os.WriteFile(
		filepath.Join(sessionDir, "p0_segment_000000.m4s"),
		[]byte("0123456789abcdef"), 0640))

	handler := NewSegmentsHandler(store, discardLogger())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router, baseDir
}

// loopbackGet issues a GET that appears to come from 127.0.0.1.
func loopbackGet(router *chi.Mux, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSegmentsRejectsNonLoopbackPeer(t *testing.T) {
	router, _ := newSegmentsFixture(t)

	// httptest defaults RemoteAddr to 192.0.2.1, a non-loopback address.
	req := httptest.NewRequest(http.MethodGet, "/segments/stream1_20260825_120000/playlist.m3u8", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSegmentsAllowsIPv6Loopback(t *testing.T) {
	router, _ := newSegmentsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/segments/stream1_20260825_120000/playlist.m3u8", nil)
	req.RemoteAddr = "[::1]:54321"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSegmentsServesPlaylist(t *testing.T) {
	router, _ := newSegmentsFixture(t)

	rec := loopbackGet(router, "/segments/stream1_20260825_120000/playlist.m3u8")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "#EXTM3U")
}

func TestSegmentsServesMediaWithRanges(t *testing.T) {
	router, _ := newSegmentsFixture(t)

	rec := loopbackGet(router, "/segments/stream1_20260825_120000/p0_segment_000000.m4s")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0123456789abcdef", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/segments/stream1_20260825_120000/p0_segment_000000.m4s", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("Range", "bytes=0-3")
	recRange := httptest.NewRecorder()
	router.ServeHTTP(recRange, req)

	require.Equal(t, http.StatusPartialContent, recRange.Code)
	assert.Equal(t, "0123", recRange.Body.String())
}

func TestSegmentsUnknownSessionIs404(t *testing.T) {
	router, _ := newSegmentsFixture(t)

	rec := loopbackGet(router, "/segments/nope_20260101_000000/playlist.m3u8")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = loopbackGet(router, "/segments/stream1_20260825_120000/p9_segment_000042.m4s")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSegmentsRejectsUnsafeNames(t *testing.T) {
	router, baseDir := newSegmentsFixture(t)

	// Plant a file outside the session tree that traversal would reach.
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "secret.txt"), []byte("x"), 0640))

	rec := loopbackGet(router, "/segments/stream1_20260825_120000/..")
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = loopbackGet(router, "/segments/../secret.txt")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/relayarr/internal/http/middleware"
	"github.com/jmylchreest/relayarr/internal/observability"
	"github.com/jmylchreest/relayarr/internal/storage"
)

// playlistContentType is the registered type for HLS playlists.
const playlistContentType = "application/vnd.apple.mpegurl"

// SegmentsHandler serves playlists and segment files back to the uploader
// child over loopback.
type SegmentsHandler struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewSegmentsHandler creates a new segments handler.
func NewSegmentsHandler(store *storage.Store, logger *slog.Logger) *SegmentsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentsHandler{
		store:  store,
		logger: observability.WithComponent(logger, "segments"),
	}
}

// RegisterRoutes registers the read-back routes on the router. The whole
// subtree is loopback-only: the uploader child is the only intended client.
func (h *SegmentsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/segments/{sessionID}", func(r chi.Router) {
		r.Use(middleware.LoopbackOnly(h.logger))
		r.Get("/"+storage.PlaylistFileName, h.servePlaylist)
		r.Get("/{filename}", h.serveSegment)
	})
}

func (h *SegmentsHandler) servePlaylist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	path, err := h.store.ResolvePath(sessionID, storage.PlaylistFileName)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}

	// The playlist grows while the session is live; the child must re-fetch
	// it every target duration without any intermediary caching a stale copy.
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}

func (h *SegmentsHandler) serveSegment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	filename := chi.URLParam(r, "filename")
	path, err := h.store.ResolvePath(sessionID, filename)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if strings.HasSuffix(filename, ".mp4") || strings.HasSuffix(filename, ".m4s") {
		w.Header().Set("Content-Type", "video/mp4")
	}
	// ServeFile handles Range requests; ffmpeg probes with them.
	http.ServeFile(w, r, path)
}

// Package handlers provides HTTP API handlers for relayarr.
package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/relayarr/internal/config"
	"github.com/jmylchreest/relayarr/internal/observability"
	"github.com/jmylchreest/relayarr/internal/relay"
	"github.com/jmylchreest/relayarr/internal/storage"
)

// Ingest request headers. The encoder sends all six on every upload.
const (
	HeaderTarget        = "Target"
	HeaderStreamKey     = "Stream-Key"
	HeaderSegmentType   = "Segment-Type"
	HeaderDiscontinuity = "Discontinuity"
	HeaderDuration      = "Duration"
	HeaderSequence      = "Sequence"
)

// basicAuthRealm is sent with 401 responses on the ingest endpoint.
const basicAuthRealm = `Basic realm="Login Required"`

// admitRetries bounds re-resolution when an admit races a finalization: the
// registry hands out a fresh session on the next Resolve.
const admitRetries = 2

// IngestHandler accepts segment uploads from encoders and feeds them to the
// relay registry.
type IngestHandler struct {
	registry *relay.Registry
	username string
	password string
	maxBody  int64
	logger   *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(registry *relay.Registry, auth config.AuthConfig, maxBody int64, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		registry: registry,
		username: auth.Username,
		password: auth.Password,
		maxBody:  maxBody,
		logger:   observability.WithComponent(logger, "ingest"),
	}
}

// RegisterRoutes registers the ingest route on the router. The endpoint is
// registered directly on chi rather than through the OpenAPI layer: the
// request is a raw streaming body with a header-carried envelope, which the
// documented JSON API machinery would buffer.
func (h *IngestHandler) RegisterRoutes(r chi.Router) {
	r.Post("/upload_segment", h.handleUpload)
}

func (h *IngestHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(r) {
		w.Header().Set("WWW-Authenticate", basicAuthRealm)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	seg, errMsg := parseSegmentHeaders(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	// Zero-duration media carries nothing playable. Finalization markers are
	// exempt: duration zero there just means "no trailing fragment".
	if seg.Type == relay.SegmentTypeMedia && seg.Duration == 0 {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"reason": "zero-duration media segment",
		})
		return
	}

	// Reject declared oversize bodies before reading anything; chunked
	// uploads without a length are caught by the reader cap below.
	if r.ContentLength > h.maxBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "segment exceeds maximum size"})
		return
	}
	seg.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	streamKey := r.Header.Get(HeaderStreamKey)
	if err := h.admit(streamKey, seg); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "segment exceeds maximum size"})
			return
		}
		h.logger.ErrorContext(r.Context(), "segment admit failed",
			slog.String("stream_key", streamKey),
			slog.Int64("sequence", seg.Sequence),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store segment"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// admit resolves the session for the key and hands it the segment. A session
// can finalize between Resolve and Admit (stall watcher, concurrent
// finalization marker); re-resolving gets a fresh session for the key.
func (h *IngestHandler) admit(streamKey string, seg relay.Segment) error {
	var err error
	for attempt := 0; attempt <= admitRetries; attempt++ {
		var session *relay.Session
		session, err = h.registry.Resolve(streamKey, seg.Target, seg.Type, seg.Sequence)
		if err != nil {
			return err
		}
		err = session.Admit(seg)
		if !errors.Is(err, relay.ErrSessionFinalized) {
			return err
		}
	}
	return err
}

// authenticate checks HTTP Basic credentials in constant time.
func (h *IngestHandler) authenticate(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(h.username))
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(h.password))
	return userMatch == 1 && passMatch == 1
}

// parseSegmentHeaders validates the upload envelope. Missing headers are all
// reported at once; parse errors are reported one at a time so the encoder
// sees the first offender.
func parseSegmentHeaders(r *http.Request) (relay.Segment, string) {
	var missing []string
	for _, name := range []string{
		HeaderTarget, HeaderStreamKey, HeaderSegmentType,
		HeaderDiscontinuity, HeaderDuration, HeaderSequence,
	} {
		if r.Header.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return relay.Segment{}, fmt.Sprintf("missing required headers: %s", strings.Join(missing, ", "))
	}

	if err := storage.ValidateName(r.Header.Get(HeaderStreamKey)); err != nil {
		return relay.Segment{}, fmt.Sprintf("invalid %s header: %v", HeaderStreamKey, err)
	}

	segType, ok := relay.ParseSegmentType(r.Header.Get(HeaderSegmentType))
	if !ok {
		return relay.Segment{}, fmt.Sprintf("invalid %s header: %q", HeaderSegmentType, r.Header.Get(HeaderSegmentType))
	}

	discontinuity, err := strconv.ParseBool(r.Header.Get(HeaderDiscontinuity))
	if err != nil {
		return relay.Segment{}, fmt.Sprintf("invalid %s header: %q", HeaderDiscontinuity, r.Header.Get(HeaderDiscontinuity))
	}

	duration, err := strconv.ParseFloat(r.Header.Get(HeaderDuration), 64)
	if err != nil || duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return relay.Segment{}, fmt.Sprintf("invalid %s header: %q", HeaderDuration, r.Header.Get(HeaderDuration))
	}

	sequence, err := strconv.ParseInt(r.Header.Get(HeaderSequence), 10, 64)
	if err != nil || sequence < 0 {
		return relay.Segment{}, fmt.Sprintf("invalid %s header: %q", HeaderSequence, r.Header.Get(HeaderSequence))
	}

	return relay.Segment{
		Type:          segType,
		Target:        r.Header.Get(HeaderTarget),
		Discontinuity: discontinuity,
		Duration:      duration,
		Sequence:      sequence,
	}, ""
}

// writeJSON writes a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

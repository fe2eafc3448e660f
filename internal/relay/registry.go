package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/relayarr/internal/journal"
	"github.com/jmylchreest/relayarr/internal/models"
	"github.com/jmylchreest/relayarr/internal/observability"
	"github.com/jmylchreest/relayarr/internal/playlist"
	"github.com/jmylchreest/relayarr/internal/storage"
)

// Registry owns the stream-key to session mapping and the rotation rule.
// Its lock covers only the lookup and swap; session work happens under each
// session's own lock, and retired sessions are wound down after release.
type Registry struct {
	cfg          Config
	store        *storage.Store
	journal      *journal.Recorder
	newUploader  UploaderFactory
	loopbackBase string
	logger       *slog.Logger
	nowFn        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryOptions wires the registry's collaborators.
type RegistryOptions struct {
	Config Config
	// Store persists segment bodies and playlists. Required.
	Store *storage.Store
	// Journal records session history. Optional.
	Journal *journal.Recorder
	// NewUploader launches the child process for a session. Required;
	// NewFFmpegFactory is the production choice.
	NewUploader UploaderFactory
	// LoopbackBaseURL is the scheme://host:port the child fetches playlists
	// from, e.g. http://127.0.0.1:8080.
	LoopbackBaseURL string
	Logger          *slog.Logger
	// Now substitutes the clock in tests.
	Now func() time.Time
}

// NewRegistry validates the options and returns an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Store == nil {
		return nil, errors.New("registry requires a segment store")
	}
	if opts.NewUploader == nil {
		return nil, errors.New("registry requires an uploader factory")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		cfg:          opts.Config.withDefaults(),
		store:        opts.Store,
		journal:      opts.Journal,
		newUploader:  opts.NewUploader,
		loopbackBase: strings.TrimRight(opts.LoopbackBaseURL, "/"),
		logger:       observability.WithComponent(opts.Logger, "relay"),
		nowFn:        opts.Now,
		sessions:     make(map[string]*Session),
	}, nil
}

// Resolve returns the session that must receive a segment, rotating to a
// fresh one when the current session has ended or the encoder reset its
// sequence space.
func (r *Registry) Resolve(streamKey, target string, segType SegmentType, sequence int64) (*Session, error) {
	r.mu.Lock()
	current := r.sessions[streamKey]
	if current != nil && !current.needsRotation(segType, sequence) {
		r.mu.Unlock()
		return current, nil
	}
	fresh, err := r.newSessionLocked(streamKey)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("creating session for stream %q: %w", streamKey, err)
	}
	r.sessions[streamKey] = fresh
	r.mu.Unlock()

	if current != nil {
		r.logger.Info("rotating session",
			slog.String("stream_key", streamKey),
			slog.String("old_session_id", current.ID()),
			slog.String("new_session_id", fresh.ID()))
		r.retire(current, models.EndReasonRotated, "encoder reset its sequence space")
	}
	if r.journal != nil {
		r.journal.SessionStarted(fresh.ID(), streamKey, target, fresh.createdAt)
	}
	r.logger.Info("session created",
		slog.String("stream_key", streamKey),
		slog.String("session_id", fresh.ID()),
		slog.String("target", target))
	return fresh, nil
}

// newSessionLocked builds the session directory, playlist writer, and state
// machine. The caller holds the registry lock.
func (r *Registry) newSessionLocked(streamKey string) (*Session, error) {
	id := fmt.Sprintf("%s_%s", streamKey, r.nowFn().Format("20060102_150405"))
	dir, err := r.store.CreateSessionDir(id)
	if err != nil {
		return nil, err
	}
	writer, err := playlist.NewWriter(filepath.Join(dir, storage.PlaylistFileName))
	if err != nil {
		return nil, err
	}
	logPath := ""
	if r.cfg.UploaderLogFile {
		logPath = filepath.Join(dir, storage.UploaderLogFileName)
	}
	logger := observability.WithSessionID(observability.WithStreamKey(r.logger, streamKey), id)
	return newSession(sessionParams{
		streamKey:   streamKey,
		id:          id,
		dir:         dir,
		playlistURL: fmt.Sprintf("%s/segments/%s/%s", r.loopbackBase, id, storage.PlaylistFileName),
		logPath:     logPath,
		cfg:         r.cfg,
		store:       r.store,
		writer:      writer,
		journal:     r.journal,
		registry:    r,
		newUploader: r.newUploader,
		logger:      logger,
		now:         r.nowFn,
	}), nil
}

// retire finalizes an evicted session and joins its watcher.
func (r *Registry) retire(s *Session, reason models.EndReason, detail string) {
	s.Finalize(reason, detail)
	s.joinWatcher(time.Second)
}

// evictIfCurrent drops the key mapping if it still points at s. Called from
// a session's own finalize after its lock is released, so a session that was
// already replaced by rotation never evicts its successor.
func (r *Registry) evictIfCurrent(streamKey string, s *Session) {
	r.mu.Lock()
	if r.sessions[streamKey] == s {
		delete(r.sessions, streamKey)
	}
	r.mu.Unlock()
}

// Snapshots lists every live session's state, ordered by stream key.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StreamKey < out[j].StreamKey
	})
	return out
}

// Events returns the active session's event history for a stream key.
func (r *Registry) Events(streamKey string) ([]Event, bool) {
	r.mu.RLock()
	s := r.sessions[streamKey]
	r.mu.RUnlock()
	if s == nil {
		return nil, false
	}
	return s.Events(), true
}

// ActiveSessionIDs reports the directory names of live sessions so cleanup
// jobs leave them alone.
func (r *Registry) ActiveSessionIDs() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[string]struct{}, len(r.sessions))
	for _, s := range r.sessions {
		ids[s.ID()] = struct{}{}
	}
	return ids
}

// Shutdown retires every live session. Used at server teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.retire(s, models.EndReasonShutdown, "server shutting down")
	}
}

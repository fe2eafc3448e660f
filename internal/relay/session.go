package relay

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/relayarr/internal/journal"
	"github.com/jmylchreest/relayarr/internal/models"
	"github.com/jmylchreest/relayarr/internal/observability"
	"github.com/jmylchreest/relayarr/internal/playlist"
	"github.com/jmylchreest/relayarr/internal/storage"
	"github.com/jmylchreest/relayarr/internal/uploader"
)

// Config holds the relay tuning knobs shared by every session.
type Config struct {
	// SegmentsBeforeRelay is how many media segments must reach the playlist
	// before the uploader child is started.
	SegmentsBeforeRelay int
	// GapSkipTimeout is how long the drain waits on a missing sequence
	// before skipping ahead with a forced discontinuity.
	GapSkipTimeout time.Duration
	// StallTimeout finalizes a session when neither uploads nor playlist
	// progress happen within it.
	StallTimeout time.Duration
	// WatcherInterval is the stall watcher tick.
	WatcherInterval time.Duration
	// UploadWindow is the sliding window for the utilization figure in the
	// status API.
	UploadWindow time.Duration
	// MaxEvents bounds the per-session event history.
	MaxEvents int
	// UploaderLogFile mirrors uploader output to uploader.log in the
	// session directory.
	UploaderLogFile bool
	// OnTargetChange selects the reaction when an admit names a different
	// target than the session is uploading to.
	OnTargetChange TargetChangePolicy
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SegmentsBeforeRelay: 3,
		GapSkipTimeout:      10 * time.Second,
		StallTimeout:        60 * time.Second,
		WatcherInterval:     time.Second,
		UploadWindow:        60 * time.Second,
		MaxEvents:           20,
		OnTargetChange:      TargetChangeIgnore,
	}
}

// withDefaults fills zero values with the documented defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SegmentsBeforeRelay <= 0 {
		c.SegmentsBeforeRelay = d.SegmentsBeforeRelay
	}
	if c.GapSkipTimeout <= 0 {
		c.GapSkipTimeout = d.GapSkipTimeout
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.WatcherInterval <= 0 {
		c.WatcherInterval = d.WatcherInterval
	}
	if c.UploadWindow <= 0 {
		c.UploadWindow = d.UploadWindow
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.OnTargetChange == "" {
		c.OnTargetChange = d.OnTargetChange
	}
	return c
}

// pendingEntry is one buffered media segment awaiting its turn in the
// playlist. Captured whole at admit time so a re-upload of the same sequence
// replaces duration and discontinuity together.
type pendingEntry struct {
	filename      string
	duration      float64
	discontinuity bool
}

// uploadSample records how long one admit took, for utilization reporting.
type uploadSample struct {
	at time.Time
	d  time.Duration
}

// Session is one live relay session: a directory of segments, an append-only
// event playlist, and the uploader child feeding from it. All mutable state
// is guarded by mu; the watcher's stop signal is its own channel.
type Session struct {
	streamKey   string
	id          string
	dir         string
	playlistURL string
	logPath     string

	cfg         Config
	store       *storage.Store
	writer      *playlist.Writer
	journal     *journal.Recorder
	registry    *Registry
	newUploader UploaderFactory
	logger      *slog.Logger
	nowFn       func() time.Time

	mu              sync.Mutex
	createdAt       time.Time
	target          string
	lastSeenTarget  string
	mapWritten      bool
	finalized       bool
	finalRequested  bool
	periodIndex     int
	lastWritten     int64
	writtenMedia    int64
	pending         map[int64]pendingEntry
	gapArmed        bool
	gapSequence     int64
	gapStartedAt    time.Time
	lastUploadAt    time.Time
	lastAdvanceAt   time.Time
	segmentsSkipped int64
	discontinuities int64

	uploader         UploaderHandle
	uploaderStarted  bool
	uploaderSwapping bool
	uploaderRestarts int
	lastUploaderExit *uploader.ExitStatus

	events  []Event
	samples []uploadSample

	watcherStarted  bool
	watcherStop     chan struct{}
	watcherStopOnce sync.Once
	watcherDone     chan struct{}
}

// sessionParams wires one session's collaborators. registry and journal may
// be nil; tests construct sessions directly.
type sessionParams struct {
	streamKey   string
	id          string
	dir         string
	playlistURL string
	logPath     string
	cfg         Config
	store       *storage.Store
	writer      *playlist.Writer
	journal     *journal.Recorder
	registry    *Registry
	newUploader UploaderFactory
	logger      *slog.Logger
	now         func() time.Time
}

func newSession(p sessionParams) *Session {
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	createdAt := p.now()
	return &Session{
		streamKey:     p.streamKey,
		id:            p.id,
		dir:           p.dir,
		playlistURL:   p.playlistURL,
		logPath:       p.logPath,
		cfg:           p.cfg.withDefaults(),
		store:         p.store,
		writer:        p.writer,
		journal:       p.journal,
		registry:      p.registry,
		newUploader:   p.newUploader,
		logger:        p.logger,
		nowFn:         p.now,
		createdAt:     createdAt,
		lastWritten:   -1,
		lastUploadAt:  createdAt,
		lastAdvanceAt: createdAt,
		pending:       make(map[int64]pendingEntry),
		watcherStop:   make(chan struct{}),
	}
}

// ID returns the session identifier, which is also its directory name.
func (s *Session) ID() string {
	return s.id
}

// StreamKey returns the encoder's stream key.
func (s *Session) StreamKey() string {
	return s.streamKey
}

// needsRotation reports whether an arriving segment must open a fresh
// session: the current one has ended, or an init re-entered already-written
// sequence space because the encoder restarted and reset its counter.
func (s *Session) needsRotation(segType SegmentType, sequence int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return true
	}
	return segType == SegmentTypeInit && s.mapWritten && sequence <= s.lastWritten
}

// Admit ingests one segment: the body goes to disk first, then the playlist
// drain, uploader policy, and finalization run under the session lock.
// Returns ErrSessionFinalized when the session ended before the segment
// could be applied.
func (s *Session) Admit(seg Segment) error {
	start := s.nowFn()

	filename, err := s.fileNameFor(seg.Type, seg.Sequence)
	if err != nil {
		return err
	}
	body := seg.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}
	if _, err := s.store.WriteSegment(s.id, filename, body); err != nil {
		return fmt.Errorf("storing segment %d: %w", seg.Sequence, err)
	}

	// Work that can block, such as terminating a child, runs after the
	// lock is released.
	var after []func()

	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return ErrSessionFinalized
	}
	now := s.nowFn()
	s.lastUploadAt = now
	s.ensureWatcherLocked()
	s.observeTargetLocked(seg.Target, &after)

	switch seg.Type {
	case SegmentTypeInit:
		if err := s.admitInitLocked(seg, filename, now); err != nil {
			s.mu.Unlock()
			return err
		}
	case SegmentTypeMedia:
		s.admitMediaLocked(seg, filename)
	case SegmentTypeFinalization:
		s.finalRequested = true
		if seg.Duration > 0 && (!s.mapWritten || seg.Sequence > s.lastWritten) {
			s.pending[seg.Sequence] = pendingEntry{
				filename:      filename,
				duration:      seg.Duration,
				discontinuity: seg.Discontinuity,
			}
		}
	default:
		s.mu.Unlock()
		return fmt.Errorf("segment type %q not admissible", seg.Type)
	}

	if fin := s.drainLocked(now); fin != nil {
		after = append(after, fin)
	}
	s.evaluateUploaderLocked()
	s.recordUploadSampleLocked(start)
	s.mu.Unlock()

	for _, fn := range after {
		fn()
	}
	return nil
}

// fileNameFor predicts the on-disk name before the body is stored. A
// subsequent init belongs to the period it is about to open.
func (s *Session) fileNameFor(segType SegmentType, sequence int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return "", ErrSessionFinalized
	}
	period := s.periodIndex
	init := segType == SegmentTypeInit
	if init && s.mapWritten {
		period++
	}
	return storage.SegmentFileName(period, sequence, init), nil
}

func (s *Session) admitInitLocked(seg Segment, filename string, now time.Time) error {
	if !s.mapWritten {
		if err := s.writer.WriteHeader(seg.Sequence, filename); err != nil {
			return fmt.Errorf("writing playlist header: %w", err)
		}
		s.mapWritten = true
		// The init occupies its own sequence slot; the first drainable
		// media segment is the one after it.
		s.lastWritten = seg.Sequence
		s.lastAdvanceAt = now
		for seq := range s.pending {
			if seq <= s.lastWritten {
				delete(s.pending, seq)
			}
		}
		s.recordEventLocked("playlist initialized at sequence %d", seg.Sequence)
		return nil
	}
	if err := s.writer.AppendNewPeriod(filename); err != nil {
		return fmt.Errorf("appending period map: %w", err)
	}
	s.periodIndex++
	s.discontinuities++
	s.lastAdvanceAt = now
	s.recordEventLocked("period %d opened at sequence %d", s.periodIndex, seg.Sequence)
	return nil
}

func (s *Session) admitMediaLocked(seg Segment, filename string) {
	if s.mapWritten && seg.Sequence <= s.lastWritten {
		delete(s.pending, seg.Sequence)
		s.recordEventLocked("dropped stale media segment %d (last written %d)", seg.Sequence, s.lastWritten)
		return
	}
	s.pending[seg.Sequence] = pendingEntry{
		filename:      filename,
		duration:      seg.Duration,
		discontinuity: seg.Discontinuity,
	}
}

// observeTargetLocked tracks the target named by each admit. The first admit
// binds the session target; later changes follow the configured policy.
func (s *Session) observeTargetLocked(target string, after *[]func()) {
	if target == "" || target == s.lastSeenTarget {
		return
	}
	if s.lastSeenTarget == "" {
		s.target = target
		s.lastSeenTarget = target
		return
	}
	prev := s.lastSeenTarget
	s.lastSeenTarget = target
	switch s.cfg.OnTargetChange {
	case TargetChangeRestart:
		s.recordEventLocked("target changed from %q to %q; restarting uploader", prev, target)
		s.target = target
		if s.uploader != nil {
			old := s.uploader
			s.uploader = nil
			s.uploaderRestarts++
			// Hold off new launches until the old child is down; a session
			// never runs two uploaders at once.
			s.uploaderSwapping = true
			*after = append(*after, func() {
				old.Terminate()
				s.mu.Lock()
				s.uploaderSwapping = false
				if !s.finalized && s.uploader == nil && s.writtenMedia >= int64(s.cfg.SegmentsBeforeRelay) {
					s.startUploaderLocked(nil)
				}
				s.mu.Unlock()
			})
		}
	default:
		s.recordEventLocked("target changed from %q to %q; keeping %q", prev, target, s.target)
	}
}

// drainLocked appends every consecutively numbered pending segment, skipping
// past a missing sequence once it has blocked the playlist for longer than
// the gap timeout. Returns the deferred teardown when a finalization marker
// has been fully processed.
func (s *Session) drainLocked(now time.Time) func() {
	if s.mapWritten && !s.finalized {
		s.drainPendingLocked(now)
	}
	if s.finalRequested && !s.finalized {
		s.finalRequested = false
		return s.finalizeLocked(models.EndReasonFinalized, "finalization segment received")
	}
	return nil
}

func (s *Session) drainPendingLocked(now time.Time) {
	for {
		next := s.lastWritten + 1
		if entry, ok := s.pending[next]; ok {
			if err := s.appendEntryLocked(next, entry, entry.discontinuity, now); err != nil {
				return
			}
			continue
		}
		if len(s.pending) == 0 {
			s.gapArmed = false
			return
		}
		if !s.gapArmed || s.gapSequence != next {
			s.gapArmed = true
			s.gapSequence = next
			s.gapStartedAt = now
			return
		}
		if now.Sub(s.gapStartedAt) < s.cfg.GapSkipTimeout {
			return
		}
		resume := int64(-1)
		for seq := range s.pending {
			if seq > s.lastWritten && (resume == -1 || seq < resume) {
				resume = seq
			}
		}
		if resume == -1 {
			s.gapArmed = false
			return
		}
		entry := s.pending[resume]
		skipped := resume - next
		// A skip is always a discontinuity, whatever the survivor's own
		// flag said.
		if err := s.appendEntryLocked(resume, entry, true, now); err != nil {
			return
		}
		s.segmentsSkipped += skipped
		s.recordEventLocked("skipped %d; resumed at %d", next, resume)
	}
}

// appendEntryLocked writes one media entry and advances the cursor. On a
// write failure the entry stays queued for the next drain attempt.
func (s *Session) appendEntryLocked(sequence int64, entry pendingEntry, withDiscontinuity bool, now time.Time) error {
	if err := s.writer.AppendMedia(entry.filename, entry.duration, withDiscontinuity); err != nil {
		observability.WithError(s.logger, err).Error("playlist append failed",
			slog.Int64("sequence", sequence))
		s.recordEventLocked("playlist append failed at %d: %v", sequence, err)
		return err
	}
	delete(s.pending, sequence)
	s.lastWritten = sequence
	s.writtenMedia++
	if withDiscontinuity {
		s.discontinuities++
	}
	s.gapArmed = false
	s.lastAdvanceAt = now
	return nil
}

// evaluateUploaderLocked applies the start/restart policy after a drain. The
// first start waits for enough written media and reads the playlist from the
// beginning; every later start joins at the live edge.
func (s *Session) evaluateUploaderLocked() {
	if s.finalized || s.uploaderSwapping {
		return
	}
	threshold := int64(s.cfg.SegmentsBeforeRelay)
	if s.writtenMedia < threshold {
		return
	}
	if s.writtenMedia == threshold {
		if s.uploaderStarted {
			return
		}
		idx := 0
		s.startUploaderLocked(&idx)
		return
	}
	if s.uploader != nil && s.uploader.Running() {
		return
	}
	if s.uploader != nil {
		exit := s.uploader.ExitStatus()
		s.lastUploaderExit = exit
		s.uploader = nil
		s.uploaderRestarts++
		s.recordEventLocked("uploader exited: %s", formatExit(exit))
		if s.journal != nil && exit != nil {
			s.journal.UploaderExited(s.id, exit.Code)
		}
	}
	s.startUploaderLocked(nil)
}

// startUploaderLocked launches the child against the session target. Start
// failures are recorded and retried by a later admit.
func (s *Session) startUploaderLocked(liveStartIndex *int) {
	spec := uploader.LaunchSpec{
		SessionID:      s.id,
		Target:         s.target,
		StreamKey:      s.streamKey,
		PlaylistURL:    s.playlistURL,
		LiveStartIndex: liveStartIndex,
	}
	handle, err := s.newUploader(spec, s.logPath)
	if err != nil {
		observability.WithError(s.logger, err).Error("uploader start failed",
			slog.String("target", s.target))
		s.recordEventLocked("uploader start failed: %v", err)
		return
	}
	s.uploader = handle
	s.uploaderStarted = true
	if s.journal != nil {
		s.journal.UploaderStarted(s.id)
	}
	if liveStartIndex != nil {
		s.recordEventLocked("uploader started from playlist index %d (pid %d)", *liveStartIndex, handle.PID())
	} else {
		s.recordEventLocked("uploader started at live edge (pid %d)", handle.PID())
	}
}

func formatExit(exit *uploader.ExitStatus) string {
	if exit == nil {
		return "unknown"
	}
	if exit.Signal != "" {
		return "signal " + exit.Signal
	}
	return fmt.Sprintf("code %d", exit.Code)
}

// Finalize ends the session: the playlist is terminated, the watcher told to
// stop, the uploader child torn down, and the journal row closed. Safe to
// call from any goroutine; repeated calls are no-ops.
func (s *Session) Finalize(reason models.EndReason, detail string) {
	s.mu.Lock()
	after := s.finalizeLocked(reason, detail)
	s.mu.Unlock()
	if after != nil {
		after()
	}
}

// finalizeLocked flips the one-way flag and writes the end marker. It
// returns the out-of-lock teardown: terminating the child can block for the
// whole grace period and must not stall other lock holders.
func (s *Session) finalizeLocked(reason models.EndReason, detail string) func() {
	if s.finalized {
		return nil
	}
	s.finalized = true
	s.recordEventLocked("session finalized (%s): %s", reason, detail)

	if s.mapWritten {
		if err := s.writer.AppendEndlist(); err != nil && !errors.Is(err, playlist.ErrEndlistWritten) {
			observability.WithError(s.logger, err).Error("endlist append failed")
		}
	}
	if err := s.writer.Close(); err != nil {
		observability.WithError(s.logger, err).Error("playlist close failed")
	}

	handle := s.uploader
	lastSequence := int64(-1)
	if s.writtenMedia > 0 {
		lastSequence = s.lastWritten
	}
	periods := 0
	if s.mapWritten {
		periods = s.periodIndex + 1
	}
	stats := journal.SessionStats{
		SegmentsWritten: s.writtenMedia,
		SegmentsSkipped: s.segmentsSkipped,
		Periods:         periods,
		Discontinuities: s.discontinuities,
		LastSequence:    lastSequence,
	}

	return func() {
		s.stopWatcher()
		if handle != nil {
			if forced := handle.Terminate(); forced {
				s.recordEvent("uploader did not stop in time; killed")
			}
		}
		if s.journal != nil {
			s.journal.SessionEnded(s.id, reason, stats)
		}
		if s.registry != nil {
			s.registry.evictIfCurrent(s.streamKey, s)
		}
	}
}

// Tick advances time-based behaviour: gap skips that expired with no new
// arrivals, then the stall checks. Returns true once the session is
// finalized so the caller can stop ticking.
func (s *Session) Tick() bool {
	var after []func()

	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return true
	}
	now := s.nowFn()
	if fin := s.drainLocked(now); fin != nil {
		after = append(after, fin)
	}
	if !s.finalized {
		if d := now.Sub(s.lastUploadAt); d > s.cfg.StallTimeout {
			detail := fmt.Sprintf("no segment uploaded for %s", d.Round(time.Second))
			if fin := s.finalizeLocked(models.EndReasonStalled, detail); fin != nil {
				after = append(after, fin)
			}
		} else if d := now.Sub(s.lastAdvanceAt); d > s.cfg.StallTimeout {
			detail := fmt.Sprintf("playlist stalled for %s", d.Round(time.Second))
			if fin := s.finalizeLocked(models.EndReasonStalled, detail); fin != nil {
				after = append(after, fin)
			}
		}
	}
	done := s.finalized
	s.mu.Unlock()

	for _, fn := range after {
		fn()
	}
	return done
}

// recordEventLocked appends to the bounded history and mirrors the message
// to the session log.
func (s *Session) recordEventLocked(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.events = append(s.events, Event{Timestamp: s.nowFn(), Message: msg})
	if max := s.cfg.MaxEvents; max > 0 && len(s.events) > max {
		copy(s.events, s.events[len(s.events)-max:])
		s.events = s.events[:max]
	}
	s.logger.Info(msg)
}

func (s *Session) recordEvent(format string, args ...any) {
	s.mu.Lock()
	s.recordEventLocked(format, args...)
	s.mu.Unlock()
}

// recordUploadSampleLocked tracks how long each admit took.
func (s *Session) recordUploadSampleLocked(start time.Time) {
	now := s.nowFn()
	s.samples = append(s.samples, uploadSample{at: now, d: now.Sub(start)})
	cutoff := now.Add(-s.cfg.UploadWindow)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(s.samples, s.samples[i:])
		s.samples = s.samples[:len(s.samples)-i]
	}
}

// utilizationLocked reports the fraction of the window spent handling
// uploads.
func (s *Session) utilizationLocked(now time.Time) float64 {
	if s.cfg.UploadWindow <= 0 {
		return 0
	}
	cutoff := now.Add(-s.cfg.UploadWindow)
	var busy time.Duration
	for _, sample := range s.samples {
		if !sample.at.Before(cutoff) {
			busy += sample.d
		}
	}
	return busy.Seconds() / s.cfg.UploadWindow.Seconds()
}

// Events returns a copy of the bounded event history, oldest first.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// GapStatus describes the sequence the drain is currently blocked on.
type GapStatus struct {
	Sequence   int64   `json:"sequence"`
	AgeSeconds float64 `json:"age_seconds"`
}

// UploaderStatus is the child-process view inside a session snapshot.
type UploaderStatus struct {
	Running        bool    `json:"running"`
	PID            int     `json:"pid,omitempty"`
	Restarts       int     `json:"restarts"`
	LastExit       string  `json:"last_exit,omitempty"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
}

// Snapshot is a point-in-time copy of session state for the status API.
type Snapshot struct {
	StreamKey           string         `json:"stream_key"`
	SessionID           string         `json:"session_id"`
	Target              string         `json:"target"`
	CreatedAt           time.Time      `json:"created_at"`
	Finalized           bool           `json:"finalized"`
	PeriodIndex         int            `json:"period_index"`
	LastWrittenSequence int64          `json:"last_written_sequence"`
	WrittenMediaCount   int64          `json:"written_media_count"`
	PendingCount        int            `json:"pending_count"`
	GapWait             *GapStatus     `json:"gap_wait,omitempty"`
	UploadUtilization   float64        `json:"upload_utilization"`
	LastUploadAt        time.Time      `json:"last_upload_at"`
	LastAdvanceAt       time.Time      `json:"last_advance_at"`
	Uploader            UploaderStatus `json:"uploader"`
}

// Snapshot copies the session state for the status API.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	snap := Snapshot{
		StreamKey:           s.streamKey,
		SessionID:           s.id,
		Target:              s.target,
		CreatedAt:           s.createdAt,
		Finalized:           s.finalized,
		PeriodIndex:         s.periodIndex,
		LastWrittenSequence: s.lastWritten,
		WrittenMediaCount:   s.writtenMedia,
		PendingCount:        len(s.pending),
		UploadUtilization:   s.utilizationLocked(now),
		LastUploadAt:        s.lastUploadAt,
		LastAdvanceAt:       s.lastAdvanceAt,
		Uploader: UploaderStatus{
			Restarts: s.uploaderRestarts,
		},
	}
	if s.gapArmed {
		snap.GapWait = &GapStatus{
			Sequence:   s.gapSequence,
			AgeSeconds: now.Sub(s.gapStartedAt).Seconds(),
		}
	}
	if s.lastUploaderExit != nil {
		snap.Uploader.LastExit = formatExit(s.lastUploaderExit)
	}
	if s.uploader != nil {
		snap.Uploader.Running = s.uploader.Running()
		snap.Uploader.PID = s.uploader.PID()
		stats := s.uploader.Stats()
		snap.Uploader.CPUPercent = stats.CPUPercent
		snap.Uploader.MemoryRSSBytes = stats.MemoryRSSBytes
	}
	return snap
}

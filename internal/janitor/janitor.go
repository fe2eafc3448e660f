// Package janitor removes ended session directories once they outlive the
// configured retention age. Live sessions are never touched.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/relayarr/internal/config"
	"github.com/jmylchreest/relayarr/internal/observability"
	"github.com/jmylchreest/relayarr/internal/storage"
	"github.com/jmylchreest/relayarr/pkg/format"
)

// ActiveSessions reports which session directories belong to live sessions.
// The relay registry satisfies this.
type ActiveSessions interface {
	ActiveSessionIDs() map[string]struct{}
}

// Janitor sweeps the segment store on a cron schedule.
type Janitor struct {
	store    *storage.Store
	active   ActiveSessions
	maxAge   time.Duration
	schedule cron.Schedule
	logger   *slog.Logger
	nowFn    func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a janitor from the retention configuration. The schedule is a
// standard 5-field cron expression.
func New(store *storage.Store, active ActiveSessions, cfg config.RetentionConfig, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing retention schedule: %w", err)
	}
	return &Janitor{
		store:    store,
		active:   active,
		maxAge:   cfg.MaxAge.Duration(),
		schedule: schedule,
		logger:   observability.WithComponent(logger, "janitor"),
		nowFn:    time.Now,
	}, nil
}

// Start begins the background sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ctx != nil {
		return fmt.Errorf("janitor already started")
	}

	j.ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.run()

	j.logger.Info("janitor started",
		slog.Duration("max_age", j.maxAge),
	)
	return nil
}

// Stop cancels the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	j.mu.Unlock()

	j.wg.Wait()

	j.mu.Lock()
	j.ctx = nil
	j.cancel = nil
	j.mu.Unlock()

	j.logger.Info("janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	for {
		now := j.nowFn()
		timer := time.NewTimer(j.schedule.Next(now).Sub(now))

		select {
		case <-j.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			removed, freed, err := j.Sweep()
			if err != nil {
				observability.WithError(j.logger, err).Warn("retention sweep incomplete")
			}
			if removed > 0 {
				j.logger.Info("retention sweep removed session directories",
					slog.Int("removed", removed),
					slog.String("freed", format.Bytes(freed)),
				)
			}
		}
	}
}

// Sweep removes ended session directories whose last modification is older
// than the retention age. It returns how many were removed and the bytes
// freed; the first removal error is reported after the rest of the sweep
// completes.
func (j *Janitor) Sweep() (int, int64, error) {
	dirs, err := j.store.ListSessionDirs()
	if err != nil {
		return 0, 0, fmt.Errorf("listing session directories: %w", err)
	}

	live := j.active.ActiveSessionIDs()
	cutoff := j.nowFn().Add(-j.maxAge)

	removed := 0
	var freed int64
	var firstErr error
	for _, sessionID := range dirs {
		if _, ok := live[sessionID]; ok {
			continue
		}
		info, err := j.store.Stat(sessionID)
		if err != nil {
			continue
		}
		// Directory mtime tracks the last file create or rename inside it,
		// which for an ended session is its final playlist write.
		if info.ModTime().After(cutoff) {
			continue
		}
		size, err := j.store.DirSize(sessionID)
		if err != nil {
			size = 0
		}
		if err := j.store.RemoveSessionDir(sessionID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
		freed += size
		j.logger.Debug("removed expired session directory",
			slog.String("session_id", sessionID),
			slog.String("age", format.RelativeTimeShort(info.ModTime())),
		)
	}

	return removed, freed, firstErr
}

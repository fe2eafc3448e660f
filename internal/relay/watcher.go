package relay

import "time"

// ensureWatcherLocked starts the per-session stall watcher on the first
// admit. Idempotent.
func (s *Session) ensureWatcherLocked() {
	if s.watcherStarted {
		return
	}
	s.watcherStarted = true
	s.watcherDone = make(chan struct{})
	go s.watch(s.watcherDone)
}

// watch ticks until the session finalizes or rotation signals a stop.
func (s *Session) watch(done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.WatcherInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.watcherStop:
			return
		case <-ticker.C:
			if s.Tick() {
				return
			}
		}
	}
}

// stopWatcher signals the watcher. Safe to call repeatedly and before the
// watcher ever started.
func (s *Session) stopWatcher() {
	s.watcherStopOnce.Do(func() {
		close(s.watcherStop)
	})
}

// joinWatcher waits for the watcher goroutine to wind down, bounded so
// rotation never hangs on it.
func (s *Session) joinWatcher(timeout time.Duration) {
	s.mu.Lock()
	done := s.watcherDone
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Package startup provides tasks that run once before the daemon begins
// serving, recovering on-disk state left behind by an unclean shutdown.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/relayarr/pkg/format"
)

// TempSuffix marks in-flight segment writes. Segment bodies are streamed to
// ".<name>.<rand>.tmp" and renamed into place once complete, so a temp file
// that survives a restart is a dead write from an interrupted upload.
const TempSuffix = ".tmp"

// CleanupOrphanedSegments removes leftover segment temp files from every
// session directory under baseDir. The daemon owns the base directory
// exclusively, so any temp file present before serving starts is an orphan.
//
// Returns the number of files removed. Removal failures are logged and
// skipped; only a failure to read the base directory itself is returned.
func CleanupOrphanedSegments(logger *slog.Logger, baseDir string) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping cleanup",
			slog.String("path", baseDir),
		)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, err
	}

	var removed int
	var freed int64

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sessionDir := filepath.Join(baseDir, entry.Name())
		files, err := os.ReadDir(sessionDir)
		if err != nil {
			logger.Warn("failed to read session directory",
				slog.String("path", sessionDir),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), TempSuffix) {
				continue
			}

			path := filepath.Join(sessionDir, file.Name())
			if info, err := file.Info(); err == nil {
				freed += info.Size()
			}

			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove orphaned temp file",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}

			logger.Debug("removed orphaned temp file", slog.String("path", path))
			removed++
		}
	}

	if removed > 0 {
		logger.Info("removed orphaned segment temp files",
			slog.Int("removed_count", removed),
			slog.String("freed", format.Bytes(freed)),
		)
	}

	return removed, nil
}

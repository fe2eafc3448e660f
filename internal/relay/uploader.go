package relay

import (
	"log/slog"
	"time"

	"github.com/jmylchreest/relayarr/internal/uploader"
)

// UploaderHandle is the supervised child process as the session sees it.
// *uploader.Process is the production implementation; tests substitute a
// fake so the policy can be driven without spawning anything.
type UploaderHandle interface {
	PID() int
	Running() bool
	Done() <-chan struct{}
	ExitStatus() *uploader.ExitStatus
	Stats() uploader.Stats
	RecentLines() []string
	// Terminate asks the child to stop and waits out the grace period.
	// Reports whether a forced kill was needed.
	Terminate() bool
}

// UploaderFactory launches the uploader child for a session. logPath names
// the per-session uploader log file; empty disables it.
type UploaderFactory func(spec uploader.LaunchSpec, logPath string) (UploaderHandle, error)

// NewFFmpegFactory returns the production factory: the launch spec is turned
// into an ffmpeg argument list and started under supervision.
func NewFFmpegFactory(binary string, terminateTimeout time.Duration, logger *slog.Logger) UploaderFactory {
	return func(spec uploader.LaunchSpec, logPath string) (UploaderHandle, error) {
		args, err := uploader.BuildArgs(spec)
		if err != nil {
			return nil, err
		}
		proc, err := uploader.Start(uploader.Options{
			Binary:           binary,
			SessionID:        spec.SessionID,
			Args:             args,
			LogPath:          logPath,
			TerminateTimeout: terminateTimeout,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		return proc, nil
	}
}

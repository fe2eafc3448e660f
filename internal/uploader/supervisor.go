package uploader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jmylchreest/relayarr/internal/observability"
)

const (
	// recentLineCap bounds the in-memory tail of child output kept for the
	// status API.
	recentLineCap = 50

	// maxLineSize caps a single scanned output line. ffmpeg progress lines
	// stay far below this; anything larger is truncated by the scanner.
	maxLineSize = 256 * 1024

	defaultTerminateTimeout = 5 * time.Second
)

// Options configures a supervised uploader process.
type Options struct {
	// Binary is the ffmpeg executable. Empty means "ffmpeg" resolved from
	// PATH.
	Binary    string
	SessionID string
	Args      []string
	// LogPath, when non-empty, receives a copy of the merged child output
	// with start/end banners.
	LogPath          string
	TerminateTimeout time.Duration
	Logger           *slog.Logger
}

// ExitStatus records how the child ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed by a signal.
	Code int `json:"code"`
	// Signal names the terminating signal, empty on a normal exit.
	Signal  string    `json:"signal,omitempty"`
	EndedAt time.Time `json:"ended_at"`
}

// Process is one running (or exited) uploader child. All methods are safe
// for concurrent use.
type Process struct {
	sessionID string
	binary    string
	args      []string
	logPath   string
	logger    *slog.Logger

	cmd       *exec.Cmd
	monitor   *monitor
	startedAt time.Time

	terminateTimeout time.Duration

	lineMu sync.Mutex
	lines  []string

	done     chan struct{}
	pumpDone chan struct{}

	mu   sync.RWMutex
	exit *ExitStatus
}

// Start launches the child with merged stdout/stderr. Each output line is
// written to the host log prefixed "[uploader <session_id>]" and retained in
// a bounded tail.
func Start(opts Options) (*Process, error) {
	binary := opts.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := opts.TerminateTimeout
	if timeout <= 0 {
		timeout = defaultTerminateTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithSessionID(observability.WithComponent(logger, "uploader"), opts.SessionID)

	p := &Process{
		sessionID:        opts.SessionID,
		binary:           binary,
		args:             opts.Args,
		logPath:          opts.LogPath,
		logger:           logger,
		terminateTimeout: timeout,
		lines:            make([]string, 0, recentLineCap),
		done:             make(chan struct{}),
		pumpDone:         make(chan struct{}),
	}

	// One pipe carries both streams so ffmpeg's interleaved progress and
	// error output stays in order.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}

	cmd := exec.Command(binary, opts.Args...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting uploader: %w", err)
	}
	// The child holds its own copy of the write end; closing ours makes the
	// read end reach EOF when the child exits.
	pw.Close()

	p.cmd = cmd
	p.startedAt = time.Now()
	p.monitor = newMonitor(cmd.Process.Pid)
	p.monitor.Start()

	logger.Info("uploader started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("command", p.CommandLine()))

	go p.pump(pr)
	go p.wait()

	return p, nil
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// StartedAt returns when the child was launched.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// CommandLine returns the full child command line for logging.
func (p *Process) CommandLine() string {
	return p.binary + " " + strings.Join(p.args, " ")
}

// Running reports whether the child has not yet been reaped.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the child has exited and its status is recorded.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitStatus returns the recorded exit, or nil while the child runs.
func (p *Process) ExitStatus() *ExitStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.exit == nil {
		return nil
	}
	exit := *p.exit
	return &exit
}

// Stats returns the latest resource sample for the child.
func (p *Process) Stats() Stats {
	return p.monitor.Stats()
}

// RecentLines returns a copy of the retained output tail, oldest first.
func (p *Process) RecentLines() []string {
	p.lineMu.Lock()
	defer p.lineMu.Unlock()

	lines := make([]string, len(p.lines))
	copy(lines, p.lines)
	return lines
}

// Terminate asks the child to exit with SIGTERM and escalates to SIGKILL
// when it has not exited within the terminate timeout. It blocks until the
// exit is recorded and reports whether the kill was forced. Safe to call on
// an already-exited process.
func (p *Process) Terminate() bool {
	select {
	case <-p.done:
		return false
	default:
	}

	// Signal errors are ignored: the child may win the race and exit first.
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return false
	case <-time.After(p.terminateTimeout):
	}

	_ = p.cmd.Process.Kill()
	<-p.done
	return true
}

// wait reaps the child and records its exit. The output pump keeps draining
// independently; data already in the pipe stays readable after the reap.
func (p *Process) wait() {
	err := p.cmd.Wait()
	p.monitor.Stop()

	status := ExitStatus{EndedAt: time.Now()}
	if err != nil {
		status.Code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				status.Signal = ws.Signal().String()
			}
		}
	}

	p.mu.Lock()
	p.exit = &status
	p.mu.Unlock()
	close(p.done)

	if status.Signal != "" {
		p.logger.Info("uploader exited", slog.String("signal", status.Signal))
	} else {
		p.logger.Info("uploader exited", slog.Int("exit_code", status.Code))
	}
}

// pump reads the merged output until EOF, fanning each line out to the host
// log, the retained tail, and the optional session log file.
func (p *Process) pump(r io.ReadCloser) {
	defer close(p.pumpDone)
	defer r.Close()

	var logFile *os.File
	if p.logPath != "" {
		f, err := os.OpenFile(p.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			observability.WithError(p.logger, err).Warn("opening uploader log file",
				slog.String("path", p.logPath))
		} else {
			logFile = f
			defer logFile.Close()
			fmt.Fprintf(logFile, "=== uploader started at %s ===\n", time.Now().Format(time.RFC3339))
			fmt.Fprintf(logFile, "command: %s\n", p.CommandLine())
		}
	}

	prefix := fmt.Sprintf("[uploader %s] ", p.sessionID)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		p.retainLine(line)
		p.logger.Info(prefix + line)
		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
	}

	if logFile != nil {
		fmt.Fprintf(logFile, "=== uploader exited at %s ===\n", time.Now().Format(time.RFC3339))
	}
}

func (p *Process) retainLine(line string) {
	p.lineMu.Lock()
	defer p.lineMu.Unlock()

	if len(p.lines) >= recentLineCap {
		p.lines = p.lines[1:]
	}
	p.lines = append(p.lines, line)
}

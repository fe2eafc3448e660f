package uploader

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoShell skips the test when no POSIX shell is available to stand in
// for the uploader binary.
func skipIfNoShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}
	return path
}

func waitForExit(t *testing.T, p *Process) *ExitStatus {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("uploader did not exit in time")
	}
	status := p.ExitStatus()
	require.NotNil(t, status)
	return status
}

func TestStart_PumpsMergedOutput(t *testing.T) {
	sh := skipIfNoShell(t)

	p, err := Start(Options{
		Binary:    sh,
		SessionID: "sess-1",
		Args:      []string{"-c", "echo out-line; echo err-line 1>&2"},
	})
	require.NoError(t, err)

	status := waitForExit(t, p)
	assert.Equal(t, 0, status.Code)
	assert.Empty(t, status.Signal)
	assert.False(t, p.Running())

	// The pump drains the pipe independently of the reap.
	assert.Eventually(t, func() bool {
		lines := p.RecentLines()
		return len(lines) == 2
	}, 5*time.Second, 10*time.Millisecond)

	lines := p.RecentLines()
	assert.Contains(t, lines, "out-line")
	assert.Contains(t, lines, "err-line")
}

func TestStart_RecordsExitCode(t *testing.T) {
	sh := skipIfNoShell(t)

	p, err := Start(Options{
		Binary:    sh,
		SessionID: "sess-2",
		Args:      []string{"-c", "exit 3"},
	})
	require.NoError(t, err)

	status := waitForExit(t, p)
	assert.Equal(t, 3, status.Code)
	assert.Empty(t, status.Signal)
	assert.False(t, status.EndedAt.IsZero())
}

func TestStart_BinaryNotFound(t *testing.T) {
	_, err := Start(Options{
		Binary:    "/nonexistent/relayarr-test-binary",
		SessionID: "sess-3",
	})
	assert.Error(t, err)
}

func TestProcess_TerminateGraceful(t *testing.T) {
	sh := skipIfNoShell(t)

	p, err := Start(Options{
		Binary:    sh,
		SessionID: "sess-4",
		Args:      []string{"-c", "sleep 30"},
	})
	require.NoError(t, err)
	require.True(t, p.Running())

	forced := p.Terminate()
	assert.False(t, forced)

	status := p.ExitStatus()
	require.NotNil(t, status)
	assert.Equal(t, "terminated", status.Signal)
}

func TestProcess_TerminateForced(t *testing.T) {
	sh := skipIfNoShell(t)

	// The child ignores SIGTERM, forcing escalation to SIGKILL.
	p, err := Start(Options{
		Binary:           sh,
		SessionID:        "sess-5",
		Args:             []string{"-c", `trap "" TERM; sleep 30`},
		TerminateTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	forced := p.Terminate()
	assert.True(t, forced)

	status := p.ExitStatus()
	require.NotNil(t, status)
	assert.Equal(t, "killed", status.Signal)
	assert.Equal(t, -1, status.Code)
}

func TestProcess_TerminateAfterExit(t *testing.T) {
	sh := skipIfNoShell(t)

	p, err := Start(Options{
		Binary:    sh,
		SessionID: "sess-6",
		Args:      []string{"-c", "true"},
	})
	require.NoError(t, err)

	waitForExit(t, p)
	assert.False(t, p.Terminate())
}

func TestProcess_LogFile(t *testing.T) {
	sh := skipIfNoShell(t)

	logPath := filepath.Join(t.TempDir(), "uploader.log")
	p, err := Start(Options{
		Binary:    sh,
		SessionID: "sess-7",
		Args:      []string{"-c", "echo hello-from-child"},
		LogPath:   logPath,
	})
	require.NoError(t, err)

	waitForExit(t, p)

	// The end banner is written once the pump reaches EOF.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), "=== uploader exited at")
	}, 5*time.Second, 10*time.Millisecond)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== uploader started at")
	assert.Contains(t, string(content), "command: "+p.CommandLine())
	assert.Contains(t, string(content), "hello-from-child")
}

func TestProcess_RecentLinesBounded(t *testing.T) {
	sh := skipIfNoShell(t)

	p, err := Start(Options{
		Binary:    sh,
		SessionID: "sess-8",
		Args:      []string{"-c", "i=0; while [ $i -lt 60 ]; do echo line-$i; i=$((i+1)); done"},
	})
	require.NoError(t, err)

	waitForExit(t, p)

	assert.Eventually(t, func() bool {
		return len(p.RecentLines()) == recentLineCap
	}, 5*time.Second, 10*time.Millisecond)

	lines := p.RecentLines()
	assert.Equal(t, "line-10", lines[0])
	assert.Equal(t, "line-59", lines[len(lines)-1])
}

func TestProcess_Stats(t *testing.T) {
	sh := skipIfNoShell(t)

	p, err := Start(Options{
		Binary:    sh,
		SessionID: "sess-9",
		Args:      []string{"-c", "sleep 2"},
	})
	require.NoError(t, err)
	defer p.Terminate()

	stats := p.Stats()
	assert.Equal(t, int32(p.PID()), stats.PID)
	assert.False(t, stats.StartedAt.IsZero())
}

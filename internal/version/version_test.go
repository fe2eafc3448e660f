package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	if info.Version == "" {
		t.Error("expected non-empty version")
	}
	if info.GoVersion == "" {
		t.Error("expected non-empty go version")
	}
	if info.Platform == "" {
		t.Error("expected non-empty platform")
	}
	if !strings.Contains(info.Platform, runtime.GOOS) {
		t.Errorf("expected platform to contain %s, got %s", runtime.GOOS, info.Platform)
	}
	if !strings.Contains(info.Platform, runtime.GOARCH) {
		t.Errorf("expected platform to contain %s, got %s", runtime.GOARCH, info.Platform)
	}
}

func TestString(t *testing.T) {
	s := String()

	if !strings.Contains(s, ApplicationName) {
		t.Errorf("expected string to contain %s, got %s", ApplicationName, s)
	}
	if !strings.Contains(s, "version") {
		t.Errorf("expected string to contain 'version', got %s", s)
	}
}

func TestStringWithCommit(t *testing.T) {
	originalCommit := Commit
	originalDate := Date
	defer func() {
		Commit = originalCommit
		Date = originalDate
	}()

	Commit = "0123456789abcdef"
	Date = "2026-08-25T00:00:00Z"
	s := String()

	if !strings.Contains(s, "01234567") {
		t.Errorf("expected string to contain the short commit, got %s", s)
	}
	if strings.Contains(s, "0123456789abcdef") {
		t.Errorf("expected the commit to be truncated, got %s", s)
	}
	if !strings.Contains(s, Date) {
		t.Errorf("expected string to contain build date, got %s", s)
	}
}

func TestShort(t *testing.T) {
	originalVersion := Version
	originalCommit := Commit
	defer func() {
		Version = originalVersion
		Commit = originalCommit
	}()

	Version = "1.0.0"
	Commit = "unknown"
	s := Short()

	if !strings.Contains(s, ApplicationName) {
		t.Errorf("expected short string to contain %s, got %s", ApplicationName, s)
	}
	if !strings.Contains(s, "1.0.0") {
		t.Errorf("expected short string to contain version, got %s", s)
	}
	if strings.Contains(s, "(") {
		t.Errorf("expected no commit parenthetical without a commit, got %s", s)
	}

	Commit = "0123456789abcdef"
	s = Short()
	if !strings.Contains(s, "(01234567)") {
		t.Errorf("expected short string to contain the short commit, got %s", s)
	}
}

// Package storage persists relay session files under a sandboxed base
// directory. All paths are validated against a safe alphabet and verified to
// resolve inside the base directory, so header-supplied names can never
// traverse outside it.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Well-known file names inside a session directory.
const (
	PlaylistFileName    = "playlist.m3u8"
	UploaderLogFileName = "uploader.log"
)

// safeNamePattern is the allowed alphabet for externally supplied path
// components: stream keys, session IDs, and requested file names.
var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateName rejects path components that could address anything outside
// their own directory entry.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is reserved", name)
	}
	if !safeNamePattern.MatchString(name) {
		return fmt.Errorf("name %q contains characters outside [A-Za-z0-9._-]", name)
	}
	return nil
}

// SegmentFileName returns the on-disk name for a segment: initialization
// segments are .mp4, media segments .m4s, both keyed by period and sequence.
func SegmentFileName(period int, sequence int64, init bool) string {
	ext := "m4s"
	if init {
		ext = "mp4"
	}
	return fmt.Sprintf("p%d_segment_%06d.%s", period, sequence, ext)
}

// Store provides sandboxed file operations for session directories.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at the given base directory, creating it
// if needed.
func NewStore(baseDir string) (*Store, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Store{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the store's base directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// ResolvePath validates each component and resolves them under the base
// directory. Returns an error if the result would escape the sandbox.
func (s *Store) ResolvePath(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("no path components")
	}
	for _, p := range parts {
		if err := ValidateName(p); err != nil {
			return "", err
		}
	}

	fullPath := filepath.Join(append([]string{s.baseDir}, parts...)...)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", filepath.Join(parts...))
	}

	return absPath, nil
}

// CreateSessionDir creates a session directory and returns its absolute path.
func (s *Store) CreateSessionDir(sessionID string) (string, error) {
	path, err := s.ResolvePath(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return "", fmt.Errorf("creating session directory: %w", err)
	}
	return path, nil
}

// SessionDir resolves a session directory path without creating it.
func (s *Store) SessionDir(sessionID string) (string, error) {
	return s.ResolvePath(sessionID)
}

// WriteSegment streams a segment body to its stable path. The write goes to
// a temporary file first and is renamed into place, so readers on the
// loopback endpoints never observe a partial segment. Returns bytes written.
func (s *Store) WriteSegment(sessionID, filename string, r io.Reader) (int64, error) {
	targetPath, err := s.ResolvePath(sessionID, filename)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}

	tempName := fmt.Sprintf(".%s.%s.tmp", filepath.Base(targetPath), randomHex(8))
	tempPath := filepath.Join(dir, tempName)

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}

	n, err := io.Copy(tempFile, r)
	closeErr := tempFile.Close()

	if err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("writing segment body: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("closing temporary file: %w", closeErr)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("renaming to target: %w", err)
	}

	return n, nil
}

// ReadFile reads a file from within a session directory.
func (s *Store) ReadFile(sessionID, filename string) ([]byte, error) {
	path, err := s.ResolvePath(sessionID, filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Stat returns file info for a path within the store.
func (s *Store) Stat(parts ...string) (os.FileInfo, error) {
	path, err := s.ResolvePath(parts...)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// DirSize returns the total size in bytes of the files under a session
// directory.
func (s *Store) DirSize(sessionID string) (int64, error) {
	path, err := s.ResolvePath(sessionID)
	if err != nil {
		return 0, err
	}

	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing session directory: %w", err)
	}
	return total, nil
}

// ListSessionDirs returns the names of all session directories in the store.
func (s *Store) ListSessionDirs() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading base directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// RemoveSessionDir removes a session directory and all its contents.
func (s *Store) RemoveSessionDir(sessionID string) error {
	path, err := s.ResolvePath(sessionID)
	if err != nil {
		return err
	}

	// Never remove the base directory itself.
	if path == s.baseDir {
		return fmt.Errorf("cannot remove base directory")
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing session directory: %w", err)
	}
	return nil
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}

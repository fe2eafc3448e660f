// Package playlist emits append-only HLS event playlists for live relay
// sessions. A session's playlist is written once, forward-only: header,
// media entries, period switches, and finally the end marker. Uploader
// children poll the file over loopback HTTP while it grows, so every append
// is a single write of complete lines.
package playlist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Fixed header tags. Version 7 covers fMP4 map segments; the target duration
// matches the two-second segments relayarr's encoders push.
const (
	tagHeader         = "#EXTM3U"
	tagVersion        = "#EXT-X-VERSION:7"
	tagTargetDuration = "#EXT-X-TARGETDURATION:2"
	tagPlaylistType   = "#EXT-X-PLAYLIST-TYPE:EVENT"
	tagDiscontinuity  = "#EXT-X-DISCONTINUITY"
	tagEndlist        = "#EXT-X-ENDLIST"
)

var (
	// ErrHeaderWritten is returned by WriteHeader after the header exists.
	ErrHeaderWritten = errors.New("playlist header already written")
	// ErrHeaderNotWritten is returned by appends before WriteHeader.
	ErrHeaderNotWritten = errors.New("playlist header not written")
	// ErrEndlistWritten is returned by any append after AppendEndlist.
	ErrEndlistWritten = errors.New("playlist endlist already written")
)

// Writer appends to one session's playlist file.
type Writer struct {
	mu             sync.Mutex
	f              *os.File
	path           string
	headerWritten  bool
	endlistWritten bool
}

// NewWriter creates (or truncates) the playlist file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("creating playlist: %w", err)
	}
	return &Writer{f: f, path: path}, nil
}

// Path returns the playlist file path.
func (w *Writer) Path() string {
	return w.path
}

// HeaderWritten reports whether WriteHeader has run.
func (w *Writer) HeaderWritten() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.headerWritten
}

// EndlistWritten reports whether AppendEndlist has run.
func (w *Writer) EndlistWritten() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.endlistWritten
}

// WriteHeader writes the playlist preamble for the session's first period.
// firstSequence becomes the EXT-X-MEDIA-SEQUENCE origin; initFilename is the
// period's map URI. At most once per session.
func (w *Writer) WriteHeader(firstSequence int64, initFilename string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.headerWritten {
		return ErrHeaderWritten
	}
	if w.endlistWritten {
		return ErrEndlistWritten
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", tagHeader)
	fmt.Fprintf(&buf, "%s\n", tagVersion)
	fmt.Fprintf(&buf, "%s\n", tagTargetDuration)
	fmt.Fprintf(&buf, "#EXT-X-MEDIA-SEQUENCE:%d\n", firstSequence)
	fmt.Fprintf(&buf, "%s\n", tagPlaylistType)
	fmt.Fprintf(&buf, "#EXT-X-MAP:URI=%q\n", initFilename)

	if err := w.write(buf.Bytes()); err != nil {
		return err
	}
	w.headerWritten = true
	return nil
}

// AppendNewPeriod writes a discontinuity followed by the new period's map
// URI. Called for every accepted init after the first.
func (w *Writer) AppendNewPeriod(initFilename string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendable(); err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", tagDiscontinuity)
	fmt.Fprintf(&buf, "#EXT-X-MAP:URI=%q\n", initFilename)

	return w.write(buf.Bytes())
}

// AppendMedia writes one media entry, optionally preceded by a discontinuity
// (used when a gap skip abandons sequences).
func (w *Writer) AppendMedia(filename string, duration float64, withDiscontinuity bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendable(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if withDiscontinuity {
		fmt.Fprintf(&buf, "%s\n", tagDiscontinuity)
	}
	fmt.Fprintf(&buf, "#EXTINF:%.6f,\n", duration)
	fmt.Fprintf(&buf, "%s\n", filename)

	return w.write(buf.Bytes())
}

// AppendEndlist terminates the playlist. At most once per session.
func (w *Writer) AppendEndlist() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendable(); err != nil {
		return err
	}

	if err := w.write([]byte(tagEndlist + "\n")); err != nil {
		return err
	}
	w.endlistWritten = true
	return nil
}

// Close closes the underlying file. Appends after Close fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func (w *Writer) appendable() error {
	if !w.headerWritten {
		return ErrHeaderNotWritten
	}
	if w.endlistWritten {
		return ErrEndlistWritten
	}
	return nil
}

// write pushes one complete append to the file in a single call. os.File
// writes are unbuffered, so readers see whole lines as soon as this returns.
func (w *Writer) write(b []byte) error {
	if _, err := w.f.Write(b); err != nil {
		return fmt.Errorf("appending to playlist: %w", err)
	}
	return nil
}

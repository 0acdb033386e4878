package logsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Destination identifies where a Sink persists events. An empty Directory
// means the console.
type Destination struct {
	Directory      string
	FilenameFormat string
}

// IsConsole reports whether d is the console destination.
func (d Destination) IsConsole() bool {
	return d.Directory == ""
}

// Key returns the identity used to enable and disable d: "" for the
// console, the cleaned directory path otherwise.
func (d Destination) Key() string {
	if d.IsConsole() {
		return ""
	}
	return filepath.Clean(d.Directory)
}

func (d Destination) String() string {
	if d.IsConsole() {
		return "console"
	}
	return d.Directory
}

// Path returns the file a flush at t appends to. It is empty for the
// console.
func (d Destination) Path(t time.Time) string {
	if d.IsConsole() {
		return ""
	}
	format := d.FilenameFormat
	if format == "" {
		format = DefaultFilenameFormat
	}
	return filepath.Join(d.Directory, FormatFilename(format, t))
}

// Sink holds the serialized events waiting to be written to one
// Destination.
type Sink struct {
	dest    Destination
	console io.Writer

	// flushMu serializes flushes so a failed write can be put back in front
	// of the buffer without reordering.
	flushMu sync.Mutex

	mu        sync.Mutex
	buf       []byte
	lastFlush time.Time
}

func newSink(dest Destination, console io.Writer) *Sink {
	return &Sink{dest: dest, console: console}
}

func (s *Sink) Destination() Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dest
}

func (s *Sink) setDestination(dest Destination) {
	s.mu.Lock()
	s.dest = dest
	s.mu.Unlock()
}

// Append queues one serialized line. It performs no I/O.
func (s *Sink) Append(line []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, line...)
	s.mu.Unlock()
}

// drain removes and returns everything buffered.
func (s *Sink) drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buf
	s.buf = nil
	return b
}

// prepend puts p in front of the buffer.
func (s *Sink) prepend(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	s.buf = append(p[:len(p):len(p)], s.buf...)
	s.mu.Unlock()
}

// Pending returns the number of buffered bytes.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// LastFlush returns when the buffer was last written successfully.
func (s *Sink) LastFlush() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlush
}

// Flush writes everything buffered so far in a single write. Directory
// destinations are opened in append mode, written and closed again. Bytes
// that could not be written stay buffered for the next flush.
func (s *Sink) Flush(now time.Time) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.buf
	dest := s.dest
	s.buf = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	n, err := s.write(dest, pending, now)
	if err != nil {
		s.mu.Lock()
		s.buf = append(pending[n:len(pending):len(pending)], s.buf...)
		s.mu.Unlock()
		return fmt.Errorf("flush %s: %w", dest, err)
	}

	s.mu.Lock()
	s.lastFlush = now
	s.mu.Unlock()
	return nil
}

func (s *Sink) write(dest Destination, p []byte, now time.Time) (int, error) {
	if dest.IsConsole() {
		return s.console.Write(p)
	}

	path := dest.Path(now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // Path is operator supplied.
	if err != nil {
		return 0, err
	}

	n, err := f.Write(p)
	if cerr := f.Close(); err == nil && cerr != nil {
		// Written bytes are not requeued on a close error.
		return n, cerr
	}
	return n, err
}

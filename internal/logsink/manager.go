package logsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/rawprox/internal/event"
)

// DefaultFlushInterval is how often buffered events are persisted.
const DefaultFlushInterval = 2 * time.Second

// ErrNotLogging is returned when stopping a destination that is not enabled.
var ErrNotLogging = errors.New("destination is not logging")

// Manager owns the set of enabled sinks. Every emitted event is serialized
// once and appended to each enabled sink under a single lock, so all sinks
// see the same event order.
type Manager struct {
	log     *zap.Logger
	console *lockedWriter

	mu    sync.Mutex
	sinks map[string]*Sink

	// retiring holds stopped sinks whose final flush failed. FlushAll keeps
	// retrying them until their buffers drain.
	retiring map[string]*Sink
}

// NewManager returns a Manager writing console output to console (os.Stdout
// if nil).
func NewManager(console io.Writer, log *zap.Logger) *Manager {
	if console == nil {
		console = os.Stdout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:     log,
		console: &lockedWriter{w: console},
		sinks:    make(map[string]*Sink),
		retiring: make(map[string]*Sink),
	}
}

// Start enables dest and emits a start-logging event to every enabled sink,
// the new one included. Directories are created if missing. Starting an
// enabled destination again replaces its filename format and keeps its
// buffer, as does restarting one whose final flush is still pending.
func (m *Manager) Start(dest Destination) error {
	if !dest.IsConsole() {
		if dest.FilenameFormat == "" {
			dest.FilenameFormat = DefaultFilenameFormat
		}
		if err := os.MkdirAll(dest.Directory, 0o755); err != nil {
			return fmt.Errorf("start logging to %s: %w", dest.Directory, err)
		}
	} else {
		dest.FilenameFormat = ""
	}

	line, err := event.StartLogging(dest.Directory, dest.FilenameFormat).MarshalLine()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sinks[dest.Key()]; ok {
		s.setDestination(dest)
	} else if s, ok := m.retiring[dest.Key()]; ok {
		delete(m.retiring, dest.Key())
		s.setDestination(dest)
		m.sinks[dest.Key()] = s
	} else {
		m.sinks[dest.Key()] = newSink(dest, m.console)
	}
	m.appendLocked(line)

	m.log.Info("logging started", zap.Stringer("destination", dest), zap.String("filename_format", dest.FilenameFormat))
	return nil
}

// Stop disables the destination identified by directory, or every
// destination when directory is nil. An empty directory names the console.
//
// One stop-logging event per stopped destination is emitted to every enabled
// sink, then each stopped sink is flushed a final time and removed. A stopped
// sink whose final flush fails keeps its events and is retried by FlushAll.
func (m *Manager) Stop(directory *string) ([]Destination, error) {
	m.mu.Lock()

	var stopped []*Sink
	if directory == nil {
		for _, key := range m.keysLocked() {
			stopped = append(stopped, m.sinks[key])
		}
	} else {
		key := Destination{Directory: *directory}.Key()
		s, ok := m.sinks[key]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotLogging, Destination{Directory: *directory})
		}
		stopped = append(stopped, s)
	}

	for _, s := range stopped {
		line, err := event.StopLogging(s.Destination().Directory).MarshalLine()
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.appendLocked(line)
	}
	for _, s := range stopped {
		delete(m.sinks, s.Destination().Key())
	}
	m.mu.Unlock()

	now := time.Now()
	dests := make([]Destination, 0, len(stopped))
	var errs []error
	for _, s := range stopped {
		dest := s.Destination()
		dests = append(dests, dest)
		if err := s.Flush(now); err != nil {
			m.log.Warn("final flush failed; will retry", zap.Stringer("destination", dest), zap.Int("pending_bytes", s.Pending()), zap.Error(err))
			m.retire(s)
			errs = append(errs, err)
		}
		m.log.Info("logging stopped", zap.Stringer("destination", dest))
	}
	return dests, errors.Join(errs...)
}

// Emit appends ev to every enabled sink. It never blocks on I/O.
func (m *Manager) Emit(ev event.Event) {
	line, err := ev.MarshalLine()
	if err != nil {
		m.log.Error("marshal event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.appendLocked(line)
	m.mu.Unlock()
}

// WriteConsole writes ev straight to the console, bypassing every buffer.
func (m *Manager) WriteConsole(ev event.Event) error {
	line, err := ev.MarshalLine()
	if err != nil {
		return err
	}
	_, err = m.console.Write(line)
	return err
}

// Destinations returns the enabled destinations, console first, then
// directories in lexical order.
func (m *Manager) Destinations() []Destination {
	m.mu.Lock()
	defer m.mu.Unlock()

	dests := make([]Destination, 0, len(m.sinks))
	for _, key := range m.keysLocked() {
		dests = append(dests, m.sinks[key].Destination())
	}
	return dests
}

// retire parks a stopped sink with unwritten events. If its destination was
// enabled again in the meantime, the events move in front of the new sink's
// buffer instead.
func (m *Manager) retire(s *Sink) {
	key := s.Destination().Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sinks[key]; ok {
		cur.prepend(s.drain())
		return
	}
	if prev, ok := m.retiring[key]; ok && prev != s {
		s.prepend(prev.drain())
	}
	m.retiring[key] = s
}

// Retiring returns the stopped destinations that still hold unwritten events.
func (m *Manager) Retiring() []Destination {
	m.mu.Lock()
	defer m.mu.Unlock()

	dests := make([]Destination, 0, len(m.retiring))
	for _, s := range m.retiring {
		dests = append(dests, s.Destination())
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i].Key() < dests[j].Key() })
	return dests
}

// FlushAll flushes every enabled sink and every retiring one. Failures are
// logged and the affected events stay buffered for the next call.
func (m *Manager) FlushAll(now time.Time) error {
	m.mu.Lock()
	sinks := make([]*Sink, 0, len(m.sinks)+len(m.retiring))
	for _, key := range m.keysLocked() {
		sinks = append(sinks, m.sinks[key])
	}
	retiring := make([]*Sink, 0, len(m.retiring))
	for _, s := range m.retiring {
		retiring = append(retiring, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Flush(now); err != nil {
			m.log.Warn("flush failed; will retry", zap.Stringer("destination", s.Destination()), zap.Int("pending_bytes", s.Pending()), zap.Time("last_flush", s.LastFlush()), zap.Error(err))
			errs = append(errs, err)
		}
	}

	for _, s := range retiring {
		if err := s.Flush(now); err != nil {
			m.log.Warn("final flush failed; will retry", zap.Stringer("destination", s.Destination()), zap.Int("pending_bytes", s.Pending()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.mu.Lock()
		key := s.Destination().Key()
		if m.retiring[key] == s && s.Pending() == 0 {
			delete(m.retiring, key)
			m.log.Info("final flush completed", zap.Stringer("destination", s.Destination()))
		}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Run flushes every interval until ctx is done, then flushes once more.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = m.FlushAll(time.Now())
			return nil
		case now := <-ticker.C:
			_ = m.FlushAll(now)
		}
	}
}

func (m *Manager) appendLocked(line []byte) {
	for _, s := range m.sinks {
		s.Append(line)
	}
}

func (m *Manager) keysLocked() []string {
	keys := make([]string, 0, len(m.sinks))
	for k := range m.sinks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

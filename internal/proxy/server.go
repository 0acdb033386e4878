package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/die-net/rawprox/internal/connid"
	"github.com/die-net/rawprox/internal/dialer"
)

// ErrClosed is returned by AddRule after Close.
var ErrClosed = errors.New("proxy server closed")

// Server owns the port rule table, one listener per rule, and every live
// relayed connection.
type Server struct {
	cfg Config

	// ctx bounds relays; it outlives any single control request.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	listeners map[uint16]*listener
	conns     map[net.Conn]struct{}

	relays sync.WaitGroup
}

// NewServer returns a Server with an empty rule table.
func NewServer(cfg Config) *Server {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = dialer.NewDirectDialer(dialer.Config{KeepAlive: cfg.KeepAlive})
	}
	if cfg.IDs == nil {
		cfg.IDs = connid.New()
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = discard{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[uint16]*listener),
		conns:     make(map[net.Conn]struct{}),
	}
}

// AddRule binds rule.LocalPort and starts accepting connections for it.
func (s *Server) AddRule(ctx context.Context, rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.listeners[rule.LocalPort]; ok {
		return fmt.Errorf("%w: port %d is already forwarded", ErrPortInUse, rule.LocalPort)
	}

	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(int(rule.LocalPort)))
	ln, err := ListenTCP(ctx, "tcp", addr, s.cfg.KeepAlive, s.cfg.SocketBuffer)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: port %d: %w", ErrPortInUse, rule.LocalPort, err)
		}
		return fmt.Errorf("port %d: %w", rule.LocalPort, err)
	}

	l := &listener{srv: s, rule: rule, ln: ln, done: make(chan struct{})}
	s.listeners[rule.LocalPort] = l
	go l.serve()

	s.cfg.Log.Info("port rule added", zap.Stringer("rule", rule), zap.Stringer("addr", ln.Addr()))
	return nil
}

// RemoveRule stops accepting on port. Connections already accepted for the
// rule continue until they end on their own.
func (s *Server) RemoveRule(port uint16) (Rule, error) {
	s.mu.Lock()
	l, ok := s.listeners[port]
	if ok {
		delete(s.listeners, port)
	}
	s.mu.Unlock()

	if !ok {
		return Rule{}, fmt.Errorf("%w %d", ErrNoSuchRule, port)
	}

	l.close()
	s.cfg.Log.Info("port rule removed", zap.Stringer("rule", l.rule))
	return l.rule, nil
}

// Rules returns the active rules ordered by local port.
func (s *Server) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := make([]Rule, 0, len(s.listeners))
	for _, l := range s.listeners {
		rules = append(rules, l.rule)
	}
	slices.SortFunc(rules, func(a, b Rule) int { return int(a.LocalPort) - int(b.LocalPort) })
	return rules
}

// Addr returns the bound address for port, if it has a rule.
func (s *Server) Addr(port uint16) (net.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[port]
	if !ok {
		return nil, false
	}
	return l.ln.Addr(), true
}

// Close stops every listener, force-closes every live connection and waits
// for their relays to emit their close events.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = make(map[uint16]*listener)
	s.mu.Unlock()

	for _, l := range listeners {
		l.close()
	}

	s.cancel()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.relays.Wait()
	return nil
}

// track registers c for forced close. It reports false, closing c, once the
// server is shutting down.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = c.Close()
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// startRelay reserves a slot in the relay group unless shutdown began.
func (s *Server) startRelay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.relays.Add(1)
	return true
}

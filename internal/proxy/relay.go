package proxy

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/rawprox/internal/event"
)

// endpoint is one side of a relayed connection as it appears in events.
type endpoint struct {
	conn net.Conn
	name string
}

// relay forwards one accepted client connection to rule's target. If the
// target cannot be reached the client is closed and nothing is emitted.
func (s *Server) relay(client net.Conn, rule Rule) {
	defer client.Close()
	if !s.track(client) {
		return
	}
	defer s.untrack(client)

	id := s.cfg.IDs.Next()
	src := endpoint{conn: client, name: client.RemoteAddr().String()}
	log := s.cfg.Log.With(zap.String("conn_id", id), zap.String("from", src.name), zap.String("to", rule.Target()))

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	target, err := s.cfg.Dialer.DialContext(ctx, "tcp", rule.Target())
	cancel()
	if err != nil {
		log.Debug("dial target failed", zap.Error(err))
		return
	}
	defer target.Close()
	if !s.track(target) {
		return
	}
	defer s.untrack(target)

	dst := endpoint{conn: target, name: rule.Target()}

	s.cfg.Emitter.Emit(event.Open(id, src.name, dst.name))
	log.Debug("connection opened")

	// The first direction to finish decides how the close event is oriented.
	var (
		endOnce sync.Once
		endFrom string
		endTo   string
	)
	ended := func(from, to endpoint) {
		endOnce.Do(func() {
			endFrom, endTo = from.name, to.name
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		s.pump(id, src, dst, ended)
		return nil
	})
	g.Go(func() error {
		s.pump(id, dst, src, ended)
		return nil
	})
	_ = g.Wait()

	s.cfg.Emitter.Emit(event.Close(id, endFrom, endTo))
	log.Debug("connection closed", zap.String("ended_by", endFrom))
}

// pump copies from -> to, emitting a data event for each chunk before it is
// written. On a read EOF or error it half-closes to so the peer sees the end
// of stream while the other direction keeps flowing.
func (s *Server) pump(id string, from, to endpoint, ended func(from, to endpoint)) {
	bp := getRelayBuffer()
	defer putRelayBuffer(bp)
	buf := *bp

	for {
		n, rerr := from.conn.Read(buf)
		if n > 0 {
			s.cfg.Emitter.Emit(event.Data(id, from.name, to.name, buf[:n]))
			if _, werr := to.conn.Write(buf[:n]); werr != nil {
				// The peer is gone; unblock the other direction's read.
				ended(to, from)
				_ = to.conn.Close()
				return
			}
		}
		if rerr != nil {
			ended(from, to)
			closeWrite(to.conn)
			return
		}
	}
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}

type discard struct{}

func (discard) Emit(event.Event) {}

package proxy

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

type listener struct {
	srv  *Server
	rule Rule
	ln   net.Listener

	closeOnce sync.Once
	done      chan struct{}
}

// serve accepts until the listener is closed, handing every connection to
// its own relay goroutine.
func (l *listener) serve() {
	defer close(l.done)

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() || isTemporary(err) {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				l.srv.cfg.Log.Warn("accept failed; retrying", zap.Stringer("rule", l.rule), zap.Duration("backoff", backoff), zap.Error(err))
				time.Sleep(backoff)
				continue
			}
			l.srv.cfg.Log.Error("accept failed; listener stopped", zap.Stringer("rule", l.rule), zap.Error(err))
			return
		}
		backoff = 0

		if !l.srv.startRelay() {
			_ = conn.Close()
			continue
		}
		go func() {
			defer l.srv.relays.Done()
			l.srv.relay(conn, l.rule)
		}()
	}
}

func (l *listener) close() {
	l.closeOnce.Do(func() {
		_ = l.ln.Close()
	})
	<-l.done
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

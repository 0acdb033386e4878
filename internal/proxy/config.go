package proxy

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/rawprox/internal/connid"
	"github.com/die-net/rawprox/internal/dialer"
	"github.com/die-net/rawprox/internal/event"
)

// DefaultDialTimeout bounds how long a relay waits for its target.
const DefaultDialTimeout = 10 * time.Second

// Emitter receives relay events. *logsink.Manager implements it.
type Emitter interface {
	Emit(ev event.Event)
}

type Config struct {
	// Bind is the host listeners bind to. Empty means all interfaces.
	Bind string

	KeepAlive net.KeepAliveConfig

	// SocketBuffer sets SO_RCVBUF and SO_SNDBUF on listening sockets where
	// supported. Zero leaves the system default.
	SocketBuffer int

	DialTimeout time.Duration

	Dialer  dialer.Dialer
	Emitter Emitter
	IDs     *connid.Generator
	Log     *zap.Logger
}

package proxy

import (
	"net"
	"time"

	"github.com/die-net/textproxy/internal/dialer"
)

type Config struct {
	// ListenHost is the interface to bind; empty means all interfaces.
	ListenHost string
	// MaxSessions bounds concurrently served connections. Zero is unbounded.
	MaxSessions int
	ReusePort   bool
	// ProxyProtocol takes client addresses from PROXY protocol headers
	// when a connection starts with one.
	ProxyProtocol bool

	KeepAlive net.KeepAliveConfig

	// Dialer opens upstream connections. Nil dials targets directly.
	Dialer dialer.Dialer

	Framing         Framing
	MaxMessageBytes int64

	DialTimeout time.Duration
	// IOTimeout is applied as a deadline to each read and write phase of a
	// session. Zero disables it.
	IOTimeout time.Duration

	// SilentErrors closes failed sessions without an error response.
	SilentErrors bool
}

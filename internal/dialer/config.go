package dialer

import (
	"net"
	"time"
)

type Config struct {
	DialTimeout time.Duration

	// NegotiationTimeout bounds SOCKS5 negotiation. Zero falls back to
	// DialTimeout.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}

func (c Config) negotiationTimeout() time.Duration {
	if c.NegotiationTimeout > 0 {
		return c.NegotiationTimeout
	}
	return c.DialTimeout
}

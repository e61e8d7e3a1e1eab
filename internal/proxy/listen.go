package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/pires/go-proxyproto"
)

// ListenConfig holds the socket options applied by ListenTCP.
type ListenConfig struct {
	KeepAlive net.KeepAliveConfig
	ReusePort bool
	// ProxyProtocol wraps the listener to read PROXY protocol headers.
	ProxyProtocol bool
}

// ListenTCP listens on the given network/address and returns a net.Listener
// that applies cfg.KeepAlive to accepted TCP connections and, if enabled,
// reports the client address carried in a PROXY protocol header.
func ListenTCP(ctx context.Context, network, addr string, cfg ListenConfig) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: -1}
	if cfg.ReusePort {
		lc.Control = reusePortControl
	}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	ln = &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}
	if cfg.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	return ln, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}

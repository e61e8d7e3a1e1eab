package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/die-net/textproxy/internal/socks5"
)

// SOCKS5Dialer reaches targets through a SOCKS5 server using CONNECT.
type SOCKS5Dialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

// NewSOCKS5Dialer returns a Dialer using the SOCKS5 server at proxyAddr. A
// non-empty username enables username/password authentication.
func NewSOCKS5Dialer(cfg Config, proxyAddr, username, password string) *SOCKS5Dialer {
	return &SOCKS5Dialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    NewDirectDialer(cfg),
	}
}

// DialContext connects to the SOCKS5 server and asks it to CONNECT to
// address. The negotiation deadline is cleared before returning.
func (d *SOCKS5Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 dial %s %s: unsupported network", network, address)
	}

	conn, err := d.direct.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if t := d.cfg.negotiationTimeout(); t > 0 {
		_ = conn.SetDeadline(time.Now().Add(t))
	}

	// Unblock the handshake if ctx ends first.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	err = socks5.ClientDial(conn, d.auth, address)
	if !stop() {
		_ = conn.Close()
		return nil, fmt.Errorf("socks5 dial %s: %w", address, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socks5 dial %s: %w", address, err)
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

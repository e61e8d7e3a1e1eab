package dialer

import (
	"context"
	"fmt"
	"net"
)

// ParentDialer chains to a parent HTTP forward proxy. Every session connects
// to the parent regardless of its target; the request the client sent already
// carries the absolute target URL, so the parent can route it as is.
type ParentDialer struct {
	addr   string
	direct Dialer
}

// NewParentDialer returns a Dialer that always connects to the parent proxy at
// addr (host:port).
func NewParentDialer(cfg Config, addr string) *ParentDialer {
	return &ParentDialer{addr: addr, direct: NewDirectDialer(cfg)}
}

// Addr returns the parent proxy address.
func (d *ParentDialer) Addr() string {
	return d.addr
}

// DialContext connects to the parent proxy. address is only used for error
// context.
func (d *ParentDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.direct.DialContext(ctx, network, d.addr)
	if err != nil {
		return nil, fmt.Errorf("parent proxy for %s: %w", address, err)
	}
	return conn, nil
}

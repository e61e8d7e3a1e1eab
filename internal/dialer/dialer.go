package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const socks5DefaultPort = "1080"

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses upstream and constructs the matching Dialer.
//
// Supported schemes:
//   - direct://
//   - http://host[:port] (parent forward proxy)
//   - socks5://[user:pass@]host[:port]
//
// A missing port is filled in from DefaultPort, or 1080 for socks5.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid upstream url: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid upstream url: missing scheme")
	case "direct":
		return NewDirectDialer(cfg), nil
	case "http", "socks5":
		host := u.Hostname()
		if host == "" {
			return nil, fmt.Errorf("invalid upstream url: missing host in %q", upstream)
		}
		addr := u.Host
		if u.Port() == "" {
			port := socks5DefaultPort
			if u.Scheme == "http" {
				port, _ = DefaultPort(u.Scheme)
			}
			addr = net.JoinHostPort(host, port)
		}

		if u.Scheme == "http" {
			if u.User != nil {
				return nil, errors.New("invalid upstream url: parent proxy credentials are not supported")
			}
			return NewParentDialer(cfg, addr), nil
		}

		var user, pass string
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}
		return NewSOCKS5Dialer(cfg, addr, user, pass), nil
	default:
		return nil, fmt.Errorf("invalid upstream url scheme: %q", u.Scheme)
	}
}

// DefaultPort returns the well-known port for scheme, and false when the
// scheme has none that this package knows.
func DefaultPort(scheme string) (string, bool) {
	switch strings.ToLower(scheme) {
	case "http", "ws":
		return "80", true
	case "https", "wss":
		return "443", true
	case "ftp":
		return "21", true
	default:
		return "", false
	}
}

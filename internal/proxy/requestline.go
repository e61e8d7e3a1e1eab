package proxy

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/die-net/textproxy/internal/dialer"
)

// RequestLine is the first line of an HTTP request.
type RequestLine struct {
	Method  string
	Target  string
	Version string // empty when the client omitted it
}

func (rl RequestLine) String() string {
	if rl.Version == "" {
		return rl.Method + " " + rl.Target
	}
	return rl.Method + " " + rl.Target + " " + rl.Version
}

// ParseRequestLine extracts the request line from the start of raw. Tokens
// are separated by single spaces, so doubled spaces produce empty tokens.
func ParseRequestLine(raw []byte) (RequestLine, error) {
	if len(raw) == 0 {
		return RequestLine{}, ErrEmptyRequest
	}

	line := raw
	if i := bytes.Index(raw, []byte("\r\n")); i >= 0 {
		line = raw[:i]
	}

	parts := strings.Split(string(line), " ")
	if len(parts) < 2 {
		return RequestLine{}, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
	}

	rl := RequestLine{Method: parts[0], Target: parts[1]}
	if len(parts) > 2 {
		rl.Version = parts[2]
	}
	return rl, nil
}

// TargetAddr resolves the target URI to a host:port suitable for dialing.
// A missing port is filled in from the scheme and internationalized host
// names are converted to their ASCII form.
func (rl RequestLine) TargetAddr() (string, error) {
	u, err := url.Parse(rl.Target)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrNotAbsoluteURI, rl.Target)
	}

	port := u.Port()
	if port == "" {
		var ok bool
		if port, ok = dialer.DefaultPort(u.Scheme); !ok {
			return "", fmt.Errorf("no default port for scheme %q", u.Scheme)
		}
	} else if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}

	host := u.Hostname()
	if !isASCII(host) {
		if host, err = idna.Lookup.ToASCII(host); err != nil {
			return "", fmt.Errorf("invalid host %q: %w", u.Hostname(), err)
		}
	}

	return net.JoinHostPort(host, port), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
)

// StartEchoTCPServer accepts a single connection and echoes back the first
// read.
func StartEchoTCPServer(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		buf := make([]byte, 1024)
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		_, _ = c.Write(buf[:n])
	}()

	return ln
}

// AssertEcho writes msg to w and expects to read it back from r.
func AssertEcho(t *testing.T, w io.Writer, r io.Reader, msg []byte) {
	t.Helper()

	if _, err := w.Write(msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("expected %q got %q", string(msg), string(buf))
	}
}

// EchoResponse wraps raw as the body of a 200 response.
func EchoResponse(raw []byte) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", len(raw), raw)
}

// StartHTTPEchoUpstream starts a stub whose response body is the exact
// request it received.
func StartHTTPEchoUpstream(t *testing.T) *Upstream {
	t.Helper()
	return StartUpstreamFunc(t, func(c net.Conn, raw []byte) {
		_, _ = io.WriteString(c, EchoResponse(raw))
	})
}

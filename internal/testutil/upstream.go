package testutil

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
)

// Upstream is a stub origin server. For every connection it reads one HTTP
// request, records the exact bytes it received, and hands the connection to
// its responder. The connection is closed when the responder returns.
type Upstream struct {
	ln       net.Listener
	respond  func(c net.Conn, raw []byte)
	accepted atomic.Int32

	mu       sync.Mutex
	requests [][]byte

	wg sync.WaitGroup
}

// StartUpstream starts a stub that answers every request with response.
func StartUpstream(t *testing.T, response string) *Upstream {
	t.Helper()
	return StartUpstreamFunc(t, func(c net.Conn, _ []byte) {
		_, _ = io.WriteString(c, response)
	})
}

// StartUpstreamFunc starts a stub that calls respond after reading each
// request. The stub is closed when the test ends.
func StartUpstreamFunc(t *testing.T, respond func(c net.Conn, raw []byte)) *Upstream {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	u := &Upstream{ln: ln, respond: respond}
	u.wg.Add(1)
	go u.serve()
	t.Cleanup(u.Close)
	return u
}

func (u *Upstream) serve() {
	defer u.wg.Done()
	for {
		c, err := u.ln.Accept()
		if err != nil {
			return
		}
		u.accepted.Add(1)
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			defer c.Close()
			raw := readRequest(c)
			u.mu.Lock()
			u.requests = append(u.requests, raw)
			u.mu.Unlock()
			u.respond(c, raw)
		}()
	}
}

// readRequest reads one request including any Content-Length body and
// returns the bytes consumed from c. Requests that net/http cannot parse
// are returned as far as they were read.
func readRequest(c net.Conn) []byte {
	var raw bytes.Buffer
	br := bufio.NewReader(io.TeeReader(c, &raw))
	req, err := http.ReadRequest(br)
	if err != nil {
		return raw.Bytes()
	}
	_, _ = io.Copy(io.Discard, req.Body)
	_ = req.Body.Close()
	return raw.Bytes()
}

// Addr returns the listener address (host:port).
func (u *Upstream) Addr() string {
	return u.ln.Addr().String()
}

// Accepted reports how many connections the stub has accepted.
func (u *Upstream) Accepted() int {
	return int(u.accepted.Load())
}

// Requests returns the raw requests received so far.
func (u *Upstream) Requests() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([][]byte, len(u.requests))
	copy(out, u.requests)
	return out
}

// Close stops accepting and waits for in-flight responders.
func (u *Upstream) Close() {
	_ = u.ln.Close()
	u.wg.Wait()
}

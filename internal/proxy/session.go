package proxy

import (
	"net"
	"time"

	"go.uber.org/multierr"
)

// session is the state of one accepted client connection. It is owned by
// the goroutine serving it.
type session struct {
	id       uint64
	client   net.Conn
	upstream net.Conn
	line     RequestLine
	start    time.Time

	requestBytes  int
	responseBytes int
	// responded is set once response bytes may have reached the client.
	responded bool
}

// close closes the upstream connection, then the client connection.
func (s *session) close() error {
	var err error
	if s.upstream != nil {
		err = multierr.Append(err, s.upstream.Close())
	}
	return multierr.Append(err, s.client.Close())
}

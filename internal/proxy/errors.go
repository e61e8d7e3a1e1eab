package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

var (
	// ErrMalformedRequest is returned when the request line has fewer than
	// two space separated tokens.
	ErrMalformedRequest = errors.New("malformed request line")
	// ErrEmptyRequest is returned when the client sent no bytes at all.
	ErrEmptyRequest = errors.New("empty request")
	// ErrNotAbsoluteURI is returned for targets without a scheme or host.
	ErrNotAbsoluteURI = errors.New("target is not an absolute URI")
	// ErrBadFraming is returned when the headers that delimit a message
	// cannot be interpreted.
	ErrBadFraming = errors.New("invalid message framing")
	// ErrMessageTooLarge is returned when a message exceeds MaxMessageBytes.
	ErrMessageTooLarge = errors.New("message too large")
)

// Kind classifies why a session failed.
type Kind int

const (
	KindMalformedRequest Kind = iota + 1
	KindURIParse
	KindMessageTooLarge
	KindClientTimeout
	KindClientIO
	KindUpstreamConnect
	KindUpstreamIO
	KindUpstreamTimeout
)

var kindNames = map[Kind]string{
	KindMalformedRequest: "malformed-request",
	KindURIParse:         "uri-parse",
	KindMessageTooLarge:  "message-too-large",
	KindClientTimeout:    "client-timeout",
	KindClientIO:         "client-io",
	KindUpstreamConnect:  "upstream-connect",
	KindUpstreamIO:       "upstream-io",
	KindUpstreamTimeout:  "upstream-timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// StatusCode is the HTTP status sent to the client for k.
func (k Kind) StatusCode() int {
	switch k {
	case KindMalformedRequest, KindURIParse, KindClientIO:
		return http.StatusBadRequest
	case KindMessageTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindClientTimeout:
		return http.StatusRequestTimeout
	case KindUpstreamConnect, KindUpstreamIO:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Upstream reports whether the failure happened on the upstream side of the
// session.
func (k Kind) Upstream() bool {
	return k == KindUpstreamConnect || k == KindUpstreamIO || k == KindUpstreamTimeout
}

// Error is a failed proxy session.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func clientError(op string, err error) *Error {
	switch {
	case errors.Is(err, ErrMessageTooLarge):
		return &Error{Kind: KindMessageTooLarge, Op: op, Err: err}
	case errors.Is(err, ErrBadFraming):
		return &Error{Kind: KindMalformedRequest, Op: op, Err: err}
	case isTimeout(err):
		return &Error{Kind: KindClientTimeout, Op: op, Err: err}
	default:
		return &Error{Kind: KindClientIO, Op: op, Err: err}
	}
}

// upstreamError classifies a failure after the upstream connection was
// established. An oversized response is the upstream's fault.
func upstreamError(op string, err error) *Error {
	if isTimeout(err) {
		return &Error{Kind: KindUpstreamTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindUpstreamIO, Op: op, Err: err}
}

// writeError writes a minimal HTTP/1.1 error response for e to w.
func writeError(w io.Writer, e *Error) error {
	code := e.Kind.StatusCode()
	body := StatusMessage(code) + "\r\n" + e.Error() + "\r\n"

	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"X-Proxy-Error: %s\r\n"+
		"\r\n%s",
		code, http.StatusText(code), len(body), e.Kind, body)
	return err
}

var statusMessages = map[int]string{
	http.StatusBadRequest:            "The proxy could not understand the request.",
	http.StatusRequestTimeout:        "The client did not finish sending the request in time.",
	http.StatusRequestEntityTooLarge: "The request is larger than the proxy accepts.",
	http.StatusBadGateway:            "The proxy could not exchange data with the upstream server.",
	http.StatusGatewayTimeout:        "The upstream server did not respond in time.",
}

// StatusMessage returns a human readable explanation for an error status.
func StatusMessage(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}

package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Framing selects how the end of a request or response is detected.
type Framing int

const (
	// FramingContentLength reads headers up to the blank line and then the
	// body the headers announce.
	FramingContentLength Framing = iota
	// FramingBlankLine stops reading at the first chunk that contains the
	// blank line. Any body bytes that arrive later are dropped.
	FramingBlankLine
)

func (f Framing) String() string {
	switch f {
	case FramingContentLength:
		return "content-length"
	case FramingBlankLine:
		return "blank-line"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

// ParseFraming parses the configuration name of a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "content-length":
		return FramingContentLength, nil
	case "blank-line":
		return FramingBlankLine, nil
	default:
		return 0, fmt.Errorf("unknown framing %q", s)
	}
}

const chunkSize = 1024

var (
	crlf      = []byte("\r\n")
	headerEnd = []byte("\r\n\r\n")
)

// maxChunkSize bounds a single chunk when no message limit is configured.
const maxChunkSize = 1 << 40

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyLength
	bodyUntilClose
	// bodyChunked ends after the last chunk and trailers.
	bodyChunked
	// bodyAsRead keeps whatever arrived alongside the headers.
	bodyAsRead
)

// messageReader accumulates one HTTP message from a stream.
type messageReader struct {
	framing Framing
	limit   int64 // zero means unlimited
	chunks  *chunkPool
}

func newMessageReader(framing Framing, limit int64) *messageReader {
	return &messageReader{framing: framing, limit: limit, chunks: newChunkPool(chunkSize)}
}

func (m *messageReader) readRequest(r io.Reader) ([]byte, error) {
	return m.read(r, requestBody)
}

// readResponse reads the response to a request made with method.
func (m *messageReader) readResponse(r io.Reader, method string) ([]byte, error) {
	return m.read(r, func(head []byte) (bodyKind, int64, error) {
		return responseBody(head, method)
	})
}

func (m *messageReader) read(r io.Reader, body func(head []byte) (bodyKind, int64, error)) ([]byte, error) {
	buf, end, err := m.readHead(r)
	if err != nil {
		return buf, err
	}
	if m.framing == FramingBlankLine || end < 0 {
		return m.checked(buf)
	}

	kind, n, err := body(buf[:end])
	if err != nil {
		return buf, err
	}

	switch kind {
	case bodyNone:
		return buf[:end], nil
	case bodyAsRead:
		return m.checked(buf)
	case bodyUntilClose:
		return m.readUntilClose(r, buf)
	case bodyChunked:
		return m.readChunked(r, buf, end)
	}

	if n > math.MaxInt64-int64(end) {
		return buf[:end], fmt.Errorf("%w: Content-Length %d overflows", ErrBadFraming, n)
	}
	want := int64(end) + n
	if m.limit > 0 && want > m.limit {
		return buf[:end], ErrMessageTooLarge
	}
	if int64(len(buf)) >= want {
		return buf[:want], nil
	}

	// The buffer grows with the bytes that actually arrive, never with the
	// announced length.
	b := bytes.NewBuffer(buf)
	if _, err := io.CopyN(b, r, want-int64(len(buf))); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return b.Bytes(), fmt.Errorf("body: %w", err)
	}
	return b.Bytes(), nil
}

// readHead reads fixed-size chunks until the buffer holds the blank line
// that ends the headers. end is the offset just past the blank line, or -1
// if the stream ended first.
func (m *messageReader) readHead(r io.Reader) (buf []byte, end int, err error) {
	chunk := m.chunks.Get()
	defer m.chunks.Put(chunk)

	for {
		n, rerr := r.Read(*chunk)
		if n > 0 {
			from := max(0, len(buf)-len(headerEnd)+1)
			buf = append(buf, (*chunk)[:n]...)
			if i := bytes.Index(buf[from:], headerEnd); i >= 0 {
				end = from + i + len(headerEnd)
				if m.exceeds(end) {
					return buf, end, ErrMessageTooLarge
				}
				return buf, end, nil
			}
			if m.exceeds(len(buf)) {
				return buf, -1, ErrMessageTooLarge
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return buf, -1, nil
			}
			return buf, -1, rerr
		}
		if n == 0 {
			return buf, -1, nil
		}
	}
}

func (m *messageReader) exceeds(n int) bool {
	return m.limit > 0 && int64(n) > m.limit
}

func (m *messageReader) checked(buf []byte) ([]byte, error) {
	if m.exceeds(len(buf)) {
		return buf, ErrMessageTooLarge
	}
	return buf, nil
}

func (m *messageReader) readUntilClose(r io.Reader, buf []byte) ([]byte, error) {
	b := bytes.NewBuffer(buf)
	src := r
	if m.limit > 0 {
		src = io.LimitReader(r, m.limit-int64(len(buf))+1)
	}
	if _, err := b.ReadFrom(src); err != nil {
		return b.Bytes(), err
	}
	return m.checked(b.Bytes())
}

// readChunked follows the chunk framing of a body starting at off, so the
// message ends where the sender ended it. Bytes are kept as received.
func (m *messageReader) readChunked(r io.Reader, buf []byte, off int) ([]byte, error) {
	chunk := m.chunks.Get()
	defer m.chunks.Put(chunk)

	more := func() error {
		n, err := r.Read(*chunk)
		buf = append(buf, (*chunk)[:n]...)
		switch {
		case m.exceeds(len(buf)):
			return ErrMessageTooLarge
		case n > 0:
			return nil
		case err == nil || errors.Is(err, io.EOF):
			return fmt.Errorf("chunked body: %w", io.ErrUnexpectedEOF)
		default:
			return err
		}
	}

	for {
		i := bytes.Index(buf[off:], crlf)
		if i < 0 {
			if err := more(); err != nil {
				return buf, err
			}
			continue
		}

		size, err := m.parseChunkSize(buf[off : off+i])
		if err != nil {
			return buf, err
		}

		if size == 0 {
			// The size line's CRLF starts the search, so an empty trailer
			// section matches immediately.
			t := off + i
			for {
				if j := bytes.Index(buf[t:], headerEnd); j >= 0 {
					return m.checked(buf[:t+j+len(headerEnd)])
				}
				if err := more(); err != nil {
					return buf, err
				}
			}
		}

		next := off + i + len(crlf) + int(size) + len(crlf)
		for len(buf) < next {
			if err := more(); err != nil {
				return buf, err
			}
		}
		if !bytes.Equal(buf[next-len(crlf):next], crlf) {
			return buf, fmt.Errorf("%w: chunk not terminated by CRLF", ErrBadFraming)
		}
		off = next
	}
}

func (m *messageReader) parseChunkSize(line []byte) (int64, error) {
	s, _, _ := strings.Cut(string(line), ";")
	s = strings.TrimSpace(s)
	size, err := strconv.ParseInt(s, 16, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: invalid chunk size %q", ErrBadFraming, line)
	}
	if m.limit > 0 && size > m.limit {
		return 0, ErrMessageTooLarge
	}
	if size > maxChunkSize {
		return 0, fmt.Errorf("%w: chunk size %d too large", ErrBadFraming, size)
	}
	return size, nil
}

func requestBody(head []byte) (bodyKind, int64, error) {
	fields, err := scanHeaders(head)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case fields.chunked:
		return bodyChunked, 0, nil
	case fields.encoded:
		return bodyAsRead, 0, nil
	case fields.hasLength:
		return bodyLength, fields.length, nil
	default:
		return bodyNone, 0, nil
	}
}

func responseBody(head []byte, method string) (bodyKind, int64, error) {
	status, err := statusCode(head)
	if err != nil {
		return 0, 0, err
	}
	if strings.EqualFold(method, "HEAD") || status/100 == 1 || status == 204 || status == 304 {
		return bodyNone, 0, nil
	}

	fields, err := scanHeaders(head)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case fields.chunked:
		return bodyChunked, 0, nil
	case fields.encoded || !fields.hasLength:
		return bodyUntilClose, 0, nil
	default:
		return bodyLength, fields.length, nil
	}
}

type headerFields struct {
	hasLength bool
	length    int64
	// encoded is set for any Transfer-Encoding other than identity;
	// chunked when chunked is the final coding.
	encoded bool
	chunked bool
}

// scanHeaders picks the framing headers out of a message head. Lines that
// do not look like headers are skipped.
func scanHeaders(head []byte) (headerFields, error) {
	var f headerFields

	lines := strings.Split(string(head), "\r\n")
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch {
		case strings.EqualFold(strings.TrimSpace(name), "Content-Length"):
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return f, fmt.Errorf("%w: invalid Content-Length %q", ErrBadFraming, value)
			}
			if f.hasLength && f.length != n {
				return f, fmt.Errorf("%w: conflicting Content-Length %d and %d", ErrBadFraming, f.length, n)
			}
			f.hasLength, f.length = true, n
		case strings.EqualFold(strings.TrimSpace(name), "Transfer-Encoding"):
			if value == "" || strings.EqualFold(value, "identity") {
				continue
			}
			f.encoded = true
			codings := strings.Split(value, ",")
			f.chunked = strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
		}
	}
	return f, nil
}

// statusCode parses the status code from an HTTP/1.x status line.
func statusCode(head []byte) (int, error) {
	line, _, _ := bytes.Cut(head, []byte("\r\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, fmt.Errorf("%w: invalid status line %q", ErrBadFraming, line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || len(fields[1]) != 3 {
		return 0, fmt.Errorf("%w: invalid status code %q", ErrBadFraming, fields[1])
	}
	return code, nil
}

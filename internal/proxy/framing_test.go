package proxy

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFraming(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "content-length", " Content-Length "} {
		f, err := ParseFraming(in)
		require.NoError(t, err, in)
		assert.Equal(t, FramingContentLength, f)
	}

	f, err := ParseFraming("blank-line")
	require.NoError(t, err)
	assert.Equal(t, FramingBlankLine, f)
	assert.Equal(t, "blank-line", f.String())

	_, err = ParseFraming("chunked")
	require.Error(t, err)
}

func responseWithBody(n int) string {
	return "HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(n) + "\r\n\r\n" + strings.Repeat("x", n)
}

func TestBlankLineFramingTruncatesBody(t *testing.T) {
	t.Parallel()

	msg := responseWithBody(3000)
	m := newMessageReader(FramingBlankLine, 0)

	got, err := m.readResponse(strings.NewReader(msg), "GET")
	require.NoError(t, err)
	assert.Equal(t, msg[:chunkSize], string(got))

	head := msg[:strings.Index(msg, "\r\n\r\n")+4]
	got, err = m.readResponse(iotest.OneByteReader(strings.NewReader(msg)), "GET")
	require.NoError(t, err)
	assert.Equal(t, head, string(got))
}

func TestContentLengthFramingReadsWholeBody(t *testing.T) {
	t.Parallel()

	msg := responseWithBody(3000)
	m := newMessageReader(FramingContentLength, 0)

	for name, r := range map[string]io.Reader{
		"chunks":   strings.NewReader(msg),
		"one byte": iotest.OneByteReader(strings.NewReader(msg)),
		"half":     iotest.HalfReader(strings.NewReader(msg)),
	} {
		got, err := m.readResponse(r, "GET")
		require.NoError(t, err, name)
		assert.Equal(t, msg, string(got), name)
	}
}

func TestFramingTerminatorAcrossChunks(t *testing.T) {
	t.Parallel()

	prefix := "GET http://example.test/ HTTP/1.1\r\nX-Pad: "
	pad := strings.Repeat("p", chunkSize-2-len(prefix))
	msg := prefix + pad + "\r\n\r\n"
	require.Equal(t, chunkSize+2, len(msg))

	for _, framing := range []Framing{FramingBlankLine, FramingContentLength} {
		got, err := newMessageReader(framing, 0).readRequest(strings.NewReader(msg))
		require.NoError(t, err, framing)
		assert.Equal(t, msg, string(got), framing)
	}
}

func TestReadRequestBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no body",
			in:   "GET http://a/ HTTP/1.1\r\nHost: a\r\n\r\n",
			want: "GET http://a/ HTTP/1.1\r\nHost: a\r\n\r\n",
		},
		{
			name: "bytes past headers without length are dropped",
			in:   "GET http://a/ HTTP/1.1\r\n\r\nextra",
			want: "GET http://a/ HTTP/1.1\r\n\r\n",
		},
		{
			name: "content length",
			in:   "POST http://a/ HTTP/1.1\r\ncontent-length: 5\r\n\r\nhello",
			want: "POST http://a/ HTTP/1.1\r\ncontent-length: 5\r\n\r\nhello",
		},
		{
			name: "content length excludes trailing bytes",
			in:   "POST http://a/ HTTP/1.1\r\nContent-Length: 2\r\n\r\nhello",
			want: "POST http://a/ HTTP/1.1\r\nContent-Length: 2\r\n\r\nhe",
		},
		{
			name: "chunked ends at last chunk",
			in:   "POST http://a/ HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\nnext",
			want: "POST http://a/ HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
		},
		{
			name: "unknown coding keeps what arrived with the headers",
			in:   "POST http://a/ HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n\x1f\x8b",
			want: "POST http://a/ HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n\x1f\x8b",
		},
		{
			name: "stream ends before blank line",
			in:   "GET http://a/ HTTP/1.0\r\n",
			want: "GET http://a/ HTTP/1.0\r\n",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	m := newMessageReader(FramingContentLength, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.readRequest(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestReadResponseBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		in     string
		want   string
	}{
		{
			name:   "head has no body",
			method: "HEAD",
			in:     "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n",
			want:   "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n",
		},
		{
			name:   "no content",
			method: "DELETE",
			in:     "HTTP/1.1 204 No Content\r\n\r\nignored",
			want:   "HTTP/1.1 204 No Content\r\n\r\n",
		},
		{
			name:   "not modified",
			method: "GET",
			in:     "HTTP/1.1 304 Not Modified\r\nContent-Length: 10\r\n\r\n",
			want:   "HTTP/1.1 304 Not Modified\r\nContent-Length: 10\r\n\r\n",
		},
		{
			name:   "informational",
			method: "GET",
			in:     "HTTP/1.1 100 Continue\r\n\r\n",
			want:   "HTTP/1.1 100 Continue\r\n\r\n",
		},
		{
			name:   "no length reads until close",
			method: "GET",
			in:     "HTTP/1.0 200 OK\r\n\r\n" + strings.Repeat("y", 5000),
			want:   "HTTP/1.0 200 OK\r\n\r\n" + strings.Repeat("y", 5000),
		},
		{
			name:   "chunked wins over length",
			method: "GET",
			in:     "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Length: 1\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
			want:   "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Length: 1\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
		},
		{
			name:   "chunked with extensions and trailers",
			method: "GET",
			in:     "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\n\r\n2;ext=1\r\n\x1f\x8b\r\n0\r\nX-Checksum: abc\r\n\r\nHTTP/1.1 200 OK",
			want:   "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\n\r\n2;ext=1\r\n\x1f\x8b\r\n0\r\nX-Checksum: abc\r\n\r\n",
		},
		{
			name:   "non-chunked coding reads until close",
			method: "GET",
			in:     "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\nContent-Length: 1\r\n\r\nabc",
			want:   "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\nContent-Length: 1\r\n\r\nabc",
		},
		{
			name:   "identity encoding uses length",
			method: "GET",
			in:     "HTTP/1.1 200 OK\r\nTransfer-Encoding: identity\r\nContent-Length: 2\r\n\r\nokjunk",
			want:   "HTTP/1.1 200 OK\r\nTransfer-Encoding: identity\r\nContent-Length: 2\r\n\r\nok",
		},
		{
			name:   "repeated equal lengths",
			method: "GET",
			in:     "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nContent-Length: 2\r\n\r\nok",
			want:   "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nContent-Length: 2\r\n\r\nok",
		},
	}

	m := newMessageReader(FramingContentLength, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.readResponse(strings.NewReader(tt.in), tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestChunkedFramingAcrossReads(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("c", 3000)
	msg := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		strconv.FormatInt(int64(len(body)), 16) + "\r\n" + body + "\r\n" +
		"a\r\n0123456789\r\n" +
		"0\r\n\r\n"

	for name, r := range map[string]io.Reader{
		"chunks":   strings.NewReader(msg + "junk"),
		"one byte": iotest.OneByteReader(strings.NewReader(msg + "junk")),
	} {
		got, err := newMessageReader(FramingContentLength, 0).readResponse(r, "GET")
		require.NoError(t, err, name)
		assert.Equal(t, msg, string(got), name)
	}
}

func TestFramingPreservesNonASCII(t *testing.T) {
	t.Parallel()

	body := []byte{0x00, 0x7f, 0x80, 0xc3, 0xa9, 0xff, 0xfe}
	msg := append([]byte("HTTP/1.1 200 OK\r\nContent-Length: 7\r\n\r\n"), body...)

	for _, framing := range []Framing{FramingBlankLine, FramingContentLength} {
		got, err := newMessageReader(framing, 0).readResponse(bytes.NewReader(msg), "GET")
		require.NoError(t, err)
		assert.Equal(t, msg, got, framing)
	}
}

func TestFramingErrors(t *testing.T) {
	t.Parallel()

	errRead := errors.New("boom")

	tests := []struct {
		name     string
		framing  Framing
		limit    int64
		response bool
		r        io.Reader
		wantErr  error
	}{
		{
			name:    "headers over limit",
			limit:   100,
			r:       strings.NewReader("GET http://a/ HTTP/1.1\r\nX: " + strings.Repeat("a", 200) + "\r\n\r\n"),
			wantErr: ErrMessageTooLarge,
		},
		{
			name:    "unterminated headers over limit",
			limit:   100,
			r:       strings.NewReader(strings.Repeat("a", 2000)),
			wantErr: ErrMessageTooLarge,
		},
		{
			name:    "announced body over limit",
			limit:   100,
			r:       strings.NewReader("POST http://a/ HTTP/1.1\r\nContent-Length: 500\r\n\r\n"),
			wantErr: ErrMessageTooLarge,
		},
		{
			name:     "response until close over limit",
			limit:    100,
			response: true,
			r:        strings.NewReader("HTTP/1.0 200 OK\r\n\r\n" + strings.Repeat("z", 500)),
			wantErr:  ErrMessageTooLarge,
		},
		{
			name:    "blank line chunk over limit",
			framing: FramingBlankLine,
			limit:   100,
			r:       strings.NewReader("GET http://a/ HTTP/1.1\r\n\r\n" + strings.Repeat("b", 500)),
			wantErr: ErrMessageTooLarge,
		},
		{
			name:    "truncated body",
			r:       strings.NewReader("POST http://a/ HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"),
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "huge length without limit",
			r:       strings.NewReader("POST http://a/ HTTP/1.1\r\nContent-Length: 9000000000000000000\r\n\r\nab"),
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:     "huge response length without limit",
			response: true,
			r:        strings.NewReader("HTTP/1.1 200 OK\r\nContent-Length: 9000000000000000000\r\n\r\nab"),
			wantErr:  io.ErrUnexpectedEOF,
		},
		{
			name:    "length overflows",
			r:       strings.NewReader("POST http://a/ HTTP/1.1\r\nContent-Length: 9223372036854775807\r\n\r\nab"),
			wantErr: ErrBadFraming,
		},
		{
			name:    "invalid length",
			r:       strings.NewReader("POST http://a/ HTTP/1.1\r\nContent-Length: ten\r\n\r\n"),
			wantErr: ErrBadFraming,
		},
		{
			name:    "negative length",
			r:       strings.NewReader("POST http://a/ HTTP/1.1\r\nContent-Length: -1\r\n\r\n"),
			wantErr: ErrBadFraming,
		},
		{
			name:    "conflicting lengths",
			r:       strings.NewReader("POST http://a/ HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\nab"),
			wantErr: ErrBadFraming,
		},
		{
			name:     "invalid chunk size",
			response: true,
			r:        strings.NewReader("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n"),
			wantErr:  ErrBadFraming,
		},
		{
			name:     "chunk without CRLF",
			response: true,
			r:        strings.NewReader("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nabcd\r\n0\r\n\r\n"),
			wantErr:  ErrBadFraming,
		},
		{
			name:     "truncated chunked body",
			response: true,
			r:        strings.NewReader("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n10\r\nabc"),
			wantErr:  io.ErrUnexpectedEOF,
		},
		{
			name:     "chunk over limit",
			limit:    100,
			response: true,
			r:        strings.NewReader("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nfff\r\n"),
			wantErr:  ErrMessageTooLarge,
		},
		{
			name:     "invalid status line",
			response: true,
			r:        strings.NewReader("garbage\r\n\r\n"),
			wantErr:  ErrBadFraming,
		},
		{
			name:     "invalid status code",
			response: true,
			r:        strings.NewReader("HTTP/1.1 2000 OK\r\n\r\n"),
			wantErr:  ErrBadFraming,
		},
		{
			name:    "read error",
			r:       iotest.ErrReader(errRead),
			wantErr: errRead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMessageReader(tt.framing, tt.limit)
			var err error
			if tt.response {
				_, err = m.readResponse(tt.r, "GET")
			} else {
				_, err = m.readRequest(tt.r)
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTruncatedBodyReturnsPartialMessage(t *testing.T) {
	t.Parallel()

	in := "POST http://a/ HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"
	got, err := newMessageReader(FramingContentLength, 0).readRequest(strings.NewReader(in))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, in, string(got))
}

// An announced length within the limit must not be allocated before the
// body arrives.
func TestAnnouncedLengthAllocatesAsRead(t *testing.T) {
	m := newMessageReader(FramingContentLength, 64<<20)
	in := "POST http://a/ HTTP/1.1\r\nContent-Length: 60000000\r\n\r\nab"

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	got, err := m.readRequest(strings.NewReader(in))
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, in, string(got))
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20))
}

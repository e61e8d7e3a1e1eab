package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/die-net/textproxy/internal/dialer"
)

// Handler performs one request/response exchange per client connection.
type Handler struct {
	cfg    Config
	log    *zap.Logger
	reader *messageReader
	nextID atomic.Uint64
}

// NewHandler returns a Handler that dials through cfg.Dialer, or directly
// when it is nil.
func NewHandler(cfg Config, log *zap.Logger) *Handler {
	if cfg.Dialer == nil {
		cfg.Dialer = dialer.NewDirectDialer(dialer.Config{DialTimeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		cfg:    cfg,
		log:    log,
		reader: newMessageReader(cfg.Framing, cfg.MaxMessageBytes),
	}
}

// ServeConn serves conn and closes it. It returns the session's failure,
// if any, after the client has been told about it.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) error {
	s := &session{
		id:     h.nextID.Add(1),
		client: conn,
		start:  time.Now(),
	}
	log := h.log.With(zap.Uint64("session", s.id), zap.Stringer("client", conn.RemoteAddr()))

	var err *Error
	if err = h.exchange(ctx, s, log); err != nil {
		h.fail(s, log, err)
	}

	if cerr := s.close(); cerr != nil {
		log.Debug("close", zap.Error(cerr))
	}

	if err != nil {
		return err
	}
	return nil
}

func (h *Handler) exchange(ctx context.Context, s *session, log *zap.Logger) *Error {
	h.arm(s.client)
	raw, err := h.reader.readRequest(s.client)
	s.requestBytes = len(raw)
	if err != nil {
		return clientError("read request", err)
	}
	log.Debug("request", zap.ByteString("raw", raw))

	line, err := ParseRequestLine(raw)
	if err != nil {
		return &Error{Kind: KindMalformedRequest, Op: "parse request line", Err: err}
	}
	s.line = line

	addr, err := line.TargetAddr()
	if err != nil {
		return &Error{Kind: KindURIParse, Op: "parse target", Err: err}
	}

	dctx := ctx
	if h.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, h.cfg.DialTimeout)
		defer cancel()
	}
	up, err := h.cfg.Dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return &Error{Kind: KindUpstreamConnect, Op: "connect " + addr, Err: err}
	}
	s.upstream = up

	log.Debug("forwarding request", zap.String("upstream", addr), zap.ByteString("raw", raw))
	h.arm(up)
	if _, err := up.Write(raw); err != nil {
		return upstreamError("write request", err)
	}

	h.arm(up)
	resp, err := h.reader.readResponse(up, line.Method)
	if err != nil {
		return upstreamError("read response", err)
	}
	if len(resp) == 0 {
		return upstreamError("read response", io.ErrUnexpectedEOF)
	}
	log.Debug("response", zap.ByteString("raw", resp))

	h.arm(s.client)
	s.responded = true
	n, err := s.client.Write(resp)
	s.responseBytes = n
	if err != nil {
		return clientError("write response", err)
	}

	log.Info("relayed",
		zap.String("request", line.String()),
		zap.ByteString("status", statusLine(resp)),
		zap.String("sent", humanize.Bytes(uint64(s.requestBytes))),
		zap.String("received", humanize.Bytes(uint64(s.responseBytes))),
		zap.Duration("elapsed", time.Since(s.start)),
	)
	return nil
}

// fail logs err and, unless silenced or too late, tells the client.
func (h *Handler) fail(s *session, log *zap.Logger, err *Error) {
	fields := []zap.Field{
		zap.Stringer("kind", err.Kind),
		zap.Error(err),
		zap.Duration("elapsed", time.Since(s.start)),
	}
	if s.line.Target != "" {
		fields = append(fields, zap.String("request", s.line.String()))
	}
	if err.Kind.Upstream() {
		log.Warn("session failed", fields...)
	} else {
		log.Info("session failed", fields...)
	}

	if h.cfg.SilentErrors || s.responded {
		return
	}
	h.arm(s.client)
	if werr := writeError(s.client, err); werr != nil {
		log.Debug("write error response", zap.Error(werr))
	}
}

// arm sets a fresh I/O deadline on c.
func (h *Handler) arm(c net.Conn) {
	if h.cfg.IOTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(h.cfg.IOTimeout))
	}
}

func statusLine(resp []byte) []byte {
	line, _, _ := bytes.Cut(resp, []byte("\r\n"))
	return line
}

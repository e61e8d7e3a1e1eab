package proxy

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Controller owns the proxy's listening socket and accept loop.
type Controller struct {
	cfg     Config
	log     *zap.Logger
	handler *Handler

	mu    sync.Mutex
	state *listenerState
}

// listenerState exists while the accept loop is running.
type listenerState struct {
	port   int
	ln     net.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController returns a stopped Controller serving sessions with cfg.
func NewController(cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		log:     log,
		handler: NewHandler(cfg, log),
	}
}

// Start binds port (0 picks an ephemeral one) and serves it on a new
// goroutine. It does nothing if the controller is already running.
func (c *Controller) Start(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runningLocked() {
		return nil
	}

	addr := net.JoinHostPort(c.cfg.ListenHost, strconv.Itoa(port))
	ln, err := ListenTCP(context.Background(), "tcp", addr, ListenConfig{
		KeepAlive:     c.cfg.KeepAlive,
		ReusePort:     c.cfg.ReusePort,
		ProxyProtocol: c.cfg.ProxyProtocol,
	})
	if err != nil {
		return err
	}

	c.serveLocked(ln)
	return nil
}

// runningLocked reports whether the accept loop is serving, releasing the
// state of a loop that died on an accept error. c.mu must be held.
func (c *Controller) runningLocked() bool {
	if c.state == nil {
		return false
	}
	if !c.state.stopped() {
		return true
	}
	c.state.cancel()
	c.state = nil
	return false
}

// serveLocked runs the accept loop on ln. c.mu must be held.
func (c *Controller) serveLocked(ln net.Listener) {
	if c.cfg.MaxSessions > 0 {
		ln = netutil.LimitListener(ln, c.cfg.MaxSessions)
	}

	var port int
	if ta, ok := ln.Addr().(*net.TCPAddr); ok {
		port = ta.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &listenerState{port: port, ln: ln, cancel: cancel, done: make(chan struct{})}
	c.state = st

	go c.serve(ctx, st)

	c.log.Info("proxy listening", zap.Int("port", port), zap.Stringer("addr", ln.Addr()))
}

// Stop ends the accept loop and closes the listening socket. Sessions
// already in progress run to completion. It does nothing if the controller
// is not running.
func (c *Controller) Stop() {
	c.mu.Lock()
	st := c.state
	c.state = nil
	if st != nil {
		st.cancel()
		_ = st.ln.Close()
	}
	c.mu.Unlock()

	if st != nil {
		<-st.done
	}
}

// Running reports whether the accept loop is serving.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil && !c.state.stopped()
}

// Addr returns the bound address, or nil when not running.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	return c.state.ln.Addr()
}

// Done returns a channel closed when the current accept loop exits, or nil
// when not running.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	return c.state.done
}

func (c *Controller) serve(ctx context.Context, st *listenerState) {
	defer close(st.done)

	log := c.log.With(zap.Int("port", st.port))
	sessionCtx := context.WithoutCancel(ctx)

	var delay time.Duration
	for {
		if ctx.Err() != nil {
			log.Info("proxy stopped")
			return
		}

		conn, err := st.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if isTemporaryAcceptError(err) {
				delay = nextBackoff(delay)
				log.Warn("accept failed; retrying", zap.Error(err), zap.Duration("delay", delay))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}
				continue
			}
			log.Error("accept failed; proxy stopped", zap.Error(err))
			_ = st.ln.Close()
			return
		}
		delay = 0

		go func() {
			_ = c.handler.ServeConn(sessionCtx, conn)
		}()
	}
}

func (st *listenerState) stopped() bool {
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	return min(2*d, maxAcceptBackoff)
}

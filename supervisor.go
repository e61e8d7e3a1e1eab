package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/die-net/textproxy/internal/config"
	"github.com/die-net/textproxy/internal/dialer"
	"github.com/die-net/textproxy/internal/proxy"
)

var errAcceptLoopExited = errors.New("proxy accept loop exited")

// controller is the part of *proxy.Controller the supervisor drives.
type controller interface {
	Start(port int) error
	Stop()
	Running() bool
	Done() <-chan struct{}
}

// supervisor owns the running controller and replaces it when a reload
// changes the configuration.
type supervisor struct {
	load func() (config.Config, error)
	log  *zap.Logger

	cfg  config.Config
	ctrl controller
}

func newSupervisor(cfg config.Config, load func() (config.Config, error), log *zap.Logger) (*supervisor, error) {
	ctrl, err := newController(cfg, log)
	if err != nil {
		return nil, err
	}
	return &supervisor{load: load, log: log, cfg: cfg, ctrl: ctrl}, nil
}

func (s *supervisor) start() error {
	if err := s.ctrl.Start(s.cfg.Port); err != nil {
		return fmt.Errorf("proxy listen: %w", err)
	}
	return nil
}

// run reloads on every value received from hup until ctx is done, then
// stops the controller.
func (s *supervisor) run(ctx context.Context, hup <-chan os.Signal) error {
	defer func() { s.ctrl.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ctrl.Done():
			return errAcceptLoopExited
		case <-hup:
			if err := s.reload(); err != nil {
				return err
			}
		}
	}
}

// reload applies a freshly loaded configuration. On failure the current
// configuration keeps serving; an error is returned only when neither
// listener could be started.
func (s *supervisor) reload() error {
	next, err := s.load()
	if err != nil {
		s.log.Error("reload failed; keeping current config", zap.Error(err))
		return nil
	}
	if next == s.cfg {
		s.log.Info("reload: config unchanged")
		return nil
	}
	if next.LogLevel != s.cfg.LogLevel || next.LogFormat != s.cfg.LogFormat || next.DebugListen != s.cfg.DebugListen {
		s.log.Warn("reload: log and debug settings take effect on restart")
	}

	ctrl, err := newController(next, s.log)
	if err != nil {
		s.log.Error("reload failed; keeping current config", zap.Error(err))
		return nil
	}

	s.ctrl.Stop()
	if err := ctrl.Start(next.Port); err != nil {
		s.log.Error("reload failed; restoring previous listener", zap.Error(err))
		if rerr := s.ctrl.Start(s.cfg.Port); rerr != nil {
			return fmt.Errorf("restore listener after failed reload: %w", rerr)
		}
		return nil
	}

	s.cfg, s.ctrl = next, ctrl
	s.log.Info("reloaded config", zap.Int("port", next.Port))
	return nil
}

// newController builds a proxy controller from a validated config.
func newController(cfg config.Config, log *zap.Logger) (*proxy.Controller, error) {
	ka, err := cfg.KeepAlive()
	if err != nil {
		return nil, fmt.Errorf("invalid tcp_keepalive: %w", err)
	}
	framing, err := proxy.ParseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}

	d, err := dialer.New(dialer.Config{DialTimeout: cfg.DialTimeout, KeepAlive: ka}, cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}

	return proxy.NewController(proxy.Config{
		ListenHost:      cfg.ListenHost,
		MaxSessions:     cfg.MaxSessions,
		ReusePort:       cfg.ReusePort,
		ProxyProtocol:   cfg.ProxyProtocol,
		KeepAlive:       ka,
		Dialer:          d,
		Framing:         framing,
		MaxMessageBytes: cfg.MaxMessageBytes,
		DialTimeout:     cfg.DialTimeout,
		IOTimeout:       cfg.IOTimeout,
		SilentErrors:    cfg.SilentErrors,
	}, log), nil
}

// Package config loads textproxy settings from defaults, an optional HCL or
// JSON file, and TEXTPROXY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Framing names accepted by the framing setting.
const (
	FramingBlankLine     = "blank-line"
	FramingContentLength = "content-length"
)

// Config is the effective proxy configuration. It is comparable, so a reload
// can detect a changed configuration with ==.
type Config struct {
	Port       int
	ListenHost string
	Upstream   string

	Framing         string
	MaxSessions     int
	MaxMessageBytes int64

	DialTimeout  time.Duration
	IOTimeout    time.Duration
	SilentErrors bool
	ReusePort    bool
	// ProxyProtocol accepts an optional PROXY protocol header on each
	// client connection.
	ProxyProtocol bool
	TCPKeepAlive  string

	LogLevel    string
	LogFormat   string
	DebugListen string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:            8080,
		Upstream:        "direct://",
		Framing:         FramingContentLength,
		MaxMessageBytes: 64 << 20,
		DialTimeout:     10 * time.Second,
		IOTimeout:       60 * time.Second,
		TCPKeepAlive:    "45:45:3",
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load returns the defaults overlaid with the file at path (skipped when path
// is empty) and then with the environment. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Framing {
	case FramingBlankLine, FramingContentLength:
	default:
		return fmt.Errorf("invalid framing %q (want %s or %s)", c.Framing, FramingBlankLine, FramingContentLength)
	}
	if c.MaxSessions < 0 {
		return errors.New("max_sessions must be >= 0")
	}
	if c.MaxMessageBytes < 0 {
		return errors.New("max_message_bytes must be >= 0")
	}
	if c.DialTimeout < 0 || c.IOTimeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	if c.Upstream == "" {
		return errors.New("upstream must not be empty")
	}
	if _, err := c.KeepAlive(); err != nil {
		return fmt.Errorf("invalid tcp_keepalive: %w", err)
	}
	return nil
}

// KeepAlive parses TCPKeepAlive.
func (c Config) KeepAlive() (net.KeepAliveConfig, error) {
	return ParseTCPKeepAlive(c.TCPKeepAlive)
}

// ParseTCPKeepAlive parses on|off|keepidle:keepintvl:keepcnt, where idle and
// interval are in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	idle, err := parsePositive(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	intvl, err := parsePositive(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	cnt, err := parsePositive(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(idle) * time.Second,
		Interval: time.Duration(intvl) * time.Second,
		Count:    cnt,
	}, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. TEXTPROXY_PORT.
const EnvPrefix = "TEXTPROXY_"

func applyEnv(cfg *Config) error {
	if err := envInt("PORT", &cfg.Port); err != nil {
		return err
	}
	envString("LISTEN_HOST", &cfg.ListenHost)
	envString("UPSTREAM", &cfg.Upstream)
	envString("FRAMING", &cfg.Framing)
	if err := envInt("MAX_SESSIONS", &cfg.MaxSessions); err != nil {
		return err
	}
	if v, ok := lookup("MAX_MESSAGE_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_MESSAGE_BYTES: %w", EnvPrefix, err)
		}
		cfg.MaxMessageBytes = n
	}
	if err := envDuration("DIAL_TIMEOUT", &cfg.DialTimeout); err != nil {
		return err
	}
	if err := envDuration("IO_TIMEOUT", &cfg.IOTimeout); err != nil {
		return err
	}
	envBool("SILENT_ERRORS", &cfg.SilentErrors)
	envBool("REUSE_PORT", &cfg.ReusePort)
	envBool("PROXY_PROTOCOL", &cfg.ProxyProtocol)
	envString("TCP_KEEPALIVE", &cfg.TCPKeepAlive)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_FORMAT", &cfg.LogFormat)
	envString("DEBUG_LISTEN", &cfg.DebugListen)
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok && v != "" {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookup(name); ok && v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envInt(name string, dst *int) error {
	v, ok := lookup(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v, ok := lookup(name)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

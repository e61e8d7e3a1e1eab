package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// fileConfig mirrors Config for decoding. Pointers distinguish an absent
// attribute from a zero value; durations are strings such as "30s".
type fileConfig struct {
	Port       *int    `hcl:"port,optional"`
	ListenHost *string `hcl:"listen_host,optional"`
	Upstream   *string `hcl:"upstream,optional"`

	Framing         *string `hcl:"framing,optional"`
	MaxSessions     *int    `hcl:"max_sessions,optional"`
	MaxMessageBytes *int64  `hcl:"max_message_bytes,optional"`

	DialTimeout   *string `hcl:"dial_timeout,optional"`
	IOTimeout     *string `hcl:"io_timeout,optional"`
	SilentErrors  *bool   `hcl:"silent_errors,optional"`
	ReusePort     *bool   `hcl:"reuse_port,optional"`
	ProxyProtocol *bool   `hcl:"proxy_protocol,optional"`
	TCPKeepAlive  *string `hcl:"tcp_keepalive,optional"`

	LogLevel    *string `hcl:"log_level,optional"`
	LogFormat   *string `hcl:"log_format,optional"`
	DebugListen *string `hcl:"debug_listen,optional"`
}

// applyFile decodes path (.hcl or .json) onto cfg.
func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	setInt(&cfg.Port, fc.Port)
	setString(&cfg.ListenHost, fc.ListenHost)
	setString(&cfg.Upstream, fc.Upstream)
	setString(&cfg.Framing, fc.Framing)
	setInt(&cfg.MaxSessions, fc.MaxSessions)
	if fc.MaxMessageBytes != nil {
		cfg.MaxMessageBytes = *fc.MaxMessageBytes
	}
	if err := setDuration(&cfg.DialTimeout, fc.DialTimeout); err != nil {
		return fmt.Errorf("load config %s: dial_timeout: %w", path, err)
	}
	if err := setDuration(&cfg.IOTimeout, fc.IOTimeout); err != nil {
		return fmt.Errorf("load config %s: io_timeout: %w", path, err)
	}
	setBool(&cfg.SilentErrors, fc.SilentErrors)
	setBool(&cfg.ReusePort, fc.ReusePort)
	setBool(&cfg.ProxyProtocol, fc.ProxyProtocol)
	setString(&cfg.TCPKeepAlive, fc.TCPKeepAlive)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.DebugListen, fc.DebugListen)
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

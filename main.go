package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/textproxy/internal/config"
	"github.com/die-net/textproxy/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flags holds command line overrides. A flag only replaces the loaded
// setting when it was given explicitly.
type flags struct {
	set *pflag.FlagSet

	configPath      string
	port            int
	listenHost      string
	upstream        string
	framing         string
	maxSessions     int
	maxMessageBytes string
	silentErrors    bool
	reusePort       bool
	proxyProtocol   bool
	tcpKeepAlive    string
	logLevel        string
	logFormat       string
	debugListen     string
}

func newFlags(args []string) (*flags, error) {
	def := config.Default()
	f := &flags{set: pflag.NewFlagSet("textproxy", pflag.ContinueOnError)}
	fs := f.set

	fs.StringVar(&f.configPath, "config", "", "Path to an HCL or JSON config file. Empty uses defaults and "+config.EnvPrefix+"* variables only.")
	fs.IntVar(&f.port, "port", def.Port, "Listen port (0 picks an ephemeral port)")
	fs.StringVar(&f.listenHost, "listen-host", def.ListenHost, "Listen host. Empty listens on all interfaces.")
	fs.StringVar(&f.upstream, "upstream", def.Upstream, "How upstream connections are made: direct:// | http://host:port | socks5://[user:pass@]host:port")
	fs.StringVar(&f.framing, "framing", def.Framing, "Message framing: content-length | blank-line")
	fs.IntVar(&f.maxSessions, "max-sessions", def.MaxSessions, "Maximum concurrent sessions (0 is unbounded)")
	fs.StringVar(&f.maxMessageBytes, "max-message-bytes", humanize.IBytes(uint64(def.MaxMessageBytes)), "Maximum request or response size, e.g. 64MiB (0 is unbounded)")
	fs.Duration("dial-timeout", def.DialTimeout, "Timeout for outbound DNS lookup and TCP connect")
	fs.Duration("io-timeout", def.IOTimeout, "Deadline for each read or write on either connection")
	fs.BoolVar(&f.silentErrors, "silent-errors", def.SilentErrors, "Close failed sessions without sending an error response")
	fs.BoolVar(&f.reusePort, "reuse-port", def.ReusePort, "Set SO_REUSEPORT on the listening socket")
	fs.BoolVar(&f.proxyProtocol, "proxy-protocol", def.ProxyProtocol, "Accept PROXY protocol headers from a fronting load balancer")
	fs.StringVar(&f.tcpKeepAlive, "tcp-keepalive", def.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.StringVar(&f.logLevel, "log-level", def.LogLevel, "Log level: debug | info | warn | error")
	fs.StringVar(&f.logFormat, "log-format", def.LogFormat, "Log format: console | json")
	fs.StringVar(&f.debugListen, "debug-listen", def.DebugListen, "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")

	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply overlays explicitly set flags onto cfg.
func (f *flags) apply(cfg *config.Config) error {
	fs := f.set
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("listen-host") {
		cfg.ListenHost = f.listenHost
	}
	if fs.Changed("upstream") {
		cfg.Upstream = f.upstream
	}
	if fs.Changed("framing") {
		cfg.Framing = f.framing
	}
	if fs.Changed("max-sessions") {
		cfg.MaxSessions = f.maxSessions
	}
	if fs.Changed("max-message-bytes") {
		n, err := humanize.ParseBytes(f.maxMessageBytes)
		if err != nil {
			return fmt.Errorf("invalid --max-message-bytes: %w", err)
		}
		cfg.MaxMessageBytes = int64(n)
	}
	if fs.Changed("dial-timeout") {
		cfg.DialTimeout, _ = fs.GetDuration("dial-timeout")
	}
	if fs.Changed("io-timeout") {
		cfg.IOTimeout, _ = fs.GetDuration("io-timeout")
	}
	if fs.Changed("silent-errors") {
		cfg.SilentErrors = f.silentErrors
	}
	if fs.Changed("reuse-port") {
		cfg.ReusePort = f.reusePort
	}
	if fs.Changed("proxy-protocol") {
		cfg.ProxyProtocol = f.proxyProtocol
	}
	if fs.Changed("tcp-keepalive") {
		cfg.TCPKeepAlive = f.tcpKeepAlive
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fs.Changed("debug-listen") {
		cfg.DebugListen = f.debugListen
	}
	return nil
}

// load reads the config file and environment, then applies the flags.
func (f *flags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := f.apply(&cfg); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run() error {
	f, err := newFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := f.load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sup, err := newSupervisor(cfg, f.load, log)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DebugListen != "" {
		ka, _ := cfg.KeepAlive()
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", cfg.DebugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", zap.String("addr", cfg.DebugListen))
	}

	if err := sup.start(); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g.Go(func() error {
		return sup.run(ctx, hup)
	})

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down")
	return err
}

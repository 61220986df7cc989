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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/proxytunnel/internal/config"
	"github.com/die-net/proxytunnel/internal/dialer"
	"github.com/die-net/proxytunnel/internal/logging"
	"github.com/die-net/proxytunnel/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	def := config.DefaultConfig()

	var (
		configPath = pflag.String("config", "", "Configuration file (.yaml, .yml or .json). Flags override it.")

		proxyURL   = pflag.String("proxy", def.Proxy, "Upstream proxy: http://host:port | direct://. Defaults to HTTP_PROXY or ALL_PROXY when set.")
		listen     = pflag.String("listen", "", "Local port forward listen address (e.g. 127.0.0.1:1143). Requires --target.")
		target     = pflag.String("target", "", "Port forward target host:port, reached through the proxy (e.g. imap.example.com:143)")
		httpListen = pflag.String("http-listen", "", "CONNECT-only HTTP proxy listen address (e.g. 127.0.0.1:8080). Empty disables.")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", def.DialTimeout, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", def.NegotiationTimeout, "Timeout for the proxy CONNECT handshake")
		replyLimit         = pflag.Int("reply-limit", def.ReplyLimit, "Maximum size in bytes of the proxy's CONNECT reply headers")
		queueCapacity      = pflag.Int("queue-capacity", def.QueueCapacity, "Per-direction relay queue capacity in bytes")
		tcpKeepAlive       = pflag.String("tcp-keepalive", def.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		logLevel           = pflag.String("log-level", def.Logging.Level, "Log level: debug|info|warn|error")
		logFile            = pflag.String("log-file", "", "Also write logs to this rotating file")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	cfg := config.DefaultConfig()
	if err := config.LoadFromEnv(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath, cfg); err != nil {
			return err
		}
	}

	flags := pflag.CommandLine
	setString := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	setString("proxy", &cfg.Proxy, *proxyURL)
	setString("listen", &cfg.Listen, *listen)
	setString("target", &cfg.Target, *target)
	setString("http-listen", &cfg.HTTPListen, *httpListen)
	setString("debug-listen", &cfg.DebugListen, *debugListen)
	setString("tcp-keepalive", &cfg.TCPKeepAlive, *tcpKeepAlive)
	setString("log-level", &cfg.Logging.Level, *logLevel)
	setString("log-file", &cfg.Logging.File, *logFile)
	if flags.Changed("dial-timeout") {
		cfg.DialTimeout = *dialTimeout
	}
	if flags.Changed("negotiation-timeout") {
		cfg.NegotiationTimeout = *negotiationTimeout
	}
	if flags.Changed("reply-limit") {
		cfg.ReplyLimit = *replyLimit
	}
	if flags.Changed("queue-capacity") {
		cfg.QueueCapacity = *queueCapacity
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Logging.File != "" {
		err := logging.EnableFileLogging(logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
		})
		if err != nil {
			return err
		}
	}

	ka, err := parseTCPKeepAlive(cfg.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	pcfg := proxy.Config{
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          ka,
		QueueCapacity:      cfg.QueueCapacity,
	}

	dialCfg := dialer.Config{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          ka,
		MaxReplySize:       cfg.ReplyLimit,
	}

	pcfg.Dialer, err = dialer.New(dialCfg, cfg.Proxy)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}
	if hp, ok := pcfg.Dialer.(*dialer.HTTPProxyDialer); ok {
		logging.Infof("tunneling through http proxy %s", hp.ProxyAddr())
	} else {
		logging.Infof("no proxy configured, connecting directly")
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DebugListen != "" {
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
		logging.Infof("debug listening on %s", cfg.DebugListen)
	}

	if cfg.Listen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", cfg.Listen, ka)
		if err != nil {
			return fmt.Errorf("forward listen: %w", err)
		}
		fwd := proxy.NewForwardServer(ctx, pcfg, cfg.Target)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := fwd.Serve(ln); err != nil {
				return fmt.Errorf("forward serve: %w", err)
			}
			return nil
		})
		logging.Infof("forwarding %s to %s", cfg.Listen, cfg.Target)
	}

	if cfg.HTTPListen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", cfg.HTTPListen, ka)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		srv := proxy.NewHTTPProxyServer(ctx, pcfg)
		context.AfterFunc(ctx, func() {
			_ = srv.Close()
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil {
				return fmt.Errorf("http proxy serve: %w", err)
			}
			return nil
		})
		logging.Infof("http proxy listening on %s", cfg.HTTPListen)
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logging.Infof("shutting down")
	return err
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

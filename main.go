package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/autoproxy/internal/config"
	"github.com/die-net/autoproxy/internal/dialer"
	"github.com/die-net/autoproxy/internal/metrics"
	"github.com/die-net/autoproxy/internal/proxy"
	"github.com/die-net/autoproxy/internal/route"
	"github.com/die-net/autoproxy/internal/router"
	"github.com/die-net/autoproxy/internal/tproxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = pflag.StringP("config", "c", "config.json", "Configuration file (JSON, or YAML if it ends in .yaml/.yml)")
		cacheSize    = pflag.Int("cache-size", route.DefaultCacheSize, "Maximum number of destinations remembered as needing the proxy")
		dialTimeout  = pflag.Duration("dial-timeout", 0, "OS-level bound on connecting to the upstream proxy. Zero leaves it to the kernel")
		tcpKeepAlive = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		transparent  = pflag.Bool("transparent", false, "Listen with IP_TRANSPARENT (TPROXY) and take the destination from the local address")
		debugListen  = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		verbose      = pflag.Bool("verbose", false, "Enable per-stage debug logging")
	)

	if !tproxy.IsSupported {
		_ = pflag.CommandLine.MarkHidden("transparent")
	}

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	cache, err := route.NewCache(*cacheSize)
	if err != nil {
		return fmt.Errorf("invalid --cache-size: %w", err)
	}
	routes := route.NewContext(cfg, cache)

	handshaker, err := dialer.NewHandshaker(cfg.ProxyType)
	if err != nil {
		return err
	}

	listen := proxy.ListenTCP
	resolve := router.Resolver(tproxy.OriginalDst)
	if *transparent {
		listen = tproxy.ListenTransparentTCP
		resolve = tproxy.LocalDst
	}

	r := router.New(router.Config{
		Context:    routes,
		Resolve:    resolve,
		Direct:     dialer.NewDirectDialer(dialer.Config{KeepAlive: ka}),
		Proxy:      dialer.NewDirectDialer(dialer.Config{DialTimeout: *dialTimeout, KeepAlive: ka}),
		Handshaker: handshaker,
		Logger:     logger,
	})

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		if err := metrics.RegisterCacheSize(prometheus.DefaultRegisterer, routes.CacheLen); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		http.Handle("/metrics", promhttp.Handler())

		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
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
		logger.Info("debug listening", "addr", *debugListen)
	}

	ln, err := listen(ctx, cfg.Local, ka)
	if err != nil {
		return err
	}
	srv := router.NewServer(ctx, r, logger)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	logger.Info("listening",
		"addr", ln.Addr(),
		"proxy", cfg.Proxy,
		"proxytype", cfg.ProxyType,
		"autoproxy", cfg.AutoProxy,
		"timeout", cfg.Timeout,
		"transparent", *transparent,
	)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info("shutting down")
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
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
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

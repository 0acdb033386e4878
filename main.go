package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/rawprox/internal/config"
	"github.com/die-net/rawprox/internal/connid"
	"github.com/die-net/rawprox/internal/control"
	"github.com/die-net/rawprox/internal/dialer"
	"github.com/die-net/rawprox/internal/logsink"
	"github.com/die-net/rawprox/internal/proxy"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		if !errors.Is(err, config.ErrUsage) {
			fmt.Fprintln(os.Stderr, "rawprox:", err)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	d, err := dialer.New(dialer.Config{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive(),
		SSHKeyPath:         cfg.SSHKey,
		SSHKnownHostsPath:  cfg.SSHKnownHosts,
		Log:                log.Named("dialer"),
	}, cfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	logs := logsink.NewManager(os.Stdout, log.Named("logsink"))

	srv := proxy.NewServer(proxy.Config{
		Bind:         cfg.Bind,
		KeepAlive:    cfg.KeepAlive(),
		SocketBuffer: cfg.SocketBuffer,
		DialTimeout:  cfg.DialTimeout,
		Dialer:       d,
		Emitter:      logs,
		IDs:          connid.New(),
		Log:          log.Named("proxy"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(cfg.Rules) > 0 {
		if dest, ok := cfg.LogDestination(); ok {
			if err := logs.Start(dest); err != nil {
				return err
			}
		}
		if err := logs.Start(logsink.Destination{}); err != nil {
			return err
		}
	}

	for _, rule := range cfg.Rules {
		if err := srv.AddRule(ctx, rule); err != nil {
			_ = srv.Close()
			return err
		}
	}

	// The flush loop runs on its own context so it keeps persisting events
	// while connections are being torn down; shutdown flushes once more.
	flushCtx, stopFlush := context.WithCancel(context.Background())
	defer stopFlush()
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		_ = logs.Run(flushCtx, cfg.FlushInterval())
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MCP {
		ctl := control.NewServer(control.Config{
			Logs:     logs,
			Rules:    srv,
			Shutdown: cancel,
			Version:  version,
			Log:      log.Named("control"),
		})
		ln, err := ctl.Listen(ctx, cfg.MCPPort)
		if err != nil {
			_ = srv.Close()
			return err
		}
		g.Go(func() error {
			return ctl.Serve(gctx, ln)
		})
	}

	log.Info("rawprox started", zap.Int("rules", len(cfg.Rules)), zap.Bool("mcp", cfg.MCP), zap.Duration("flush_interval", cfg.FlushInterval()))

	<-gctx.Done()
	log.Info("shutting down")

	// Stop accepting and force-close live connections first so their close
	// events land in the buffers, then record stop-logging everywhere and
	// flush one last time.
	_ = srv.Close()
	if _, err := logs.Stop(nil); err != nil && !errors.Is(err, logsink.ErrNotLogging) {
		log.Warn("final flush failed", zap.Error(err))
	}
	stopFlush()
	<-flushDone
	for _, dest := range logs.Retiring() {
		log.Error("events could not be persisted", zap.Stringer("destination", dest))
	}

	return g.Wait()
}

// newLogger returns a JSON logger on stderr, leaving stdout to the event
// stream.
func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

// Command hftpipe runs the market data -> strategy -> risk -> order pipeline for a
// fixed duration, or until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0x5487/hft"
	"github.com/0x5487/hft/depth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	modeSimple = "simple"
	modeOMS    = "oms"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults are used when empty)")
	source := flag.String("source", "", "market data source: synthetic | binance (overrides the config)")
	mode := flag.String("mode", modeSimple, "terminal stage: simple (log orders) | oms (send orders to the exchange)")
	duration := flag.Duration("duration", 10*time.Second, "how long to run, 0 to run until interrupted")
	flag.Parse()

	if err := run(*configPath, *source, *mode, *duration); err != nil {
		hft.Logger().Error("hftpipe failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, source, mode string, duration time.Duration) error {
	cfg, err := loadConfig(configPath, source)
	if err != nil {
		return err
	}

	level, _ := cfg.LogLevel()
	hft.SetLogLevel(level)
	depth.SetLogger(hft.Logger().With(slog.String("component", "depth")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	var opts []hft.Option

	switch mode {
	case modeSimple:
	case modeOMS:
		opt, err := omsOption()
		if err != nil {
			return err
		}
		opts = append(opts, opt)
	default:
		return fmt.Errorf("unknown mode %q: %w", mode, hft.ErrInvalidParam)
	}

	if cfg.Feed.Source == hft.SourceBinance {
		stream, err := newBinanceStream(cfg)
		if err != nil {
			return err
		}
		go func() {
			_ = stream.Run(ctx)
		}()
		opts = append(opts, hft.WithSource(stream))
	}

	pipeline, err := hft.NewPipeline(cfg, opts...)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	hft.Logger().Info("hftpipe running",
		slog.String("mode", mode),
		slog.String("source", cfg.Feed.Source),
		slog.String("symbols", strings.Join(cfg.Symbols, ",")),
		slog.Duration("duration", duration),
	)

	err = pipeline.Run(ctx)

	stats := pipeline.Stats()
	var decisions uint64
	for _, s := range stats.Shards {
		decisions += s.Decisions
	}
	hft.Logger().Info("hftpipe finished",
		slog.Uint64("deltas", stats.Feed.Deltas),
		slog.Uint64("market_events", stats.Feed.Events),
		slog.Uint64("decisions", decisions),
		slog.Uint64("orders_forwarded", stats.Risk.Forwarded),
		slog.Uint64("risk_rejects", stats.Risk.Rejected),
	)
	return err
}

func loadConfig(path, source string) (*hft.Config, error) {
	var cfg *hft.Config
	if path != "" {
		loaded, err := hft.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = hft.DefaultConfig()
		cfg.OverrideWithEnv()
	}

	if source != "" {
		cfg.Feed.Source = source
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newBinanceStream(cfg *hft.Config) (*depth.Stream, error) {
	b := cfg.Feed.Binance
	return depth.NewStream(depth.StreamConfig{
		WSURL:   b.WSURL,
		Symbols: cfg.Symbols,
		Buffer:  b.Buffer,
		Fetcher: depth.NewRESTFetcher(b.RestURL, b.DepthLimit, b.Timeout),
	})
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		hft.Logger().Info("metrics server started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hft.Logger().Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}

// Command ingestd runs the trade-ingestion pipeline: it subscribes to
// Binance's combined trade stream for a configured set of symbols,
// decodes trade events, and persists them to Postgres in batches.
//
// Process wiring follows internal/quotes/main.go's signal-context and
// ordered-shutdown shape and cmd/funds-service/main.go's flag/env/pprof
// conventions, trimmed to this service's actual dependency surface: no
// gRPC, no etcd registration, no Sentinel governance.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradeingest/internal/config"
	"tradeingest/internal/supervisor"
	"tradeingest/pkg/logger"
)

func main() {
	configPath := flag.String("config", "./config/ingestd.json", "path to the JSON configuration file")
	streamBaseURL := flag.String("stream-url", "wss://stream.binance.com:9443", "Binance combined-stream base URL")
	httpAddr := flag.String("http-addr", "127.0.0.1:9090", "address for /metrics and /debug/pprof")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger.Init("ingestd", *logLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *streamBaseURL, *httpAddr); err != nil {
		logger.Fatal(ctx, "ingestd: fatal startup error", zap.Error(err))
	}
}

func run(ctx context.Context, configPath, streamBaseURL, httpAddr string) error {
	cfgWatcher, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	connString, err := resolveConnString(cfgWatcher.Current())
	if err != nil {
		return err
	}

	sup, err := supervisor.New(ctx, cfgWatcher, connString, supervisor.Options{
		StreamBaseURL: streamBaseURL,
	})
	if err != nil {
		return fmt.Errorf("wire supervisor: %w", err)
	}

	httpSrv := newDebugServer(httpAddr)
	go func() {
		logger.Info(ctx, "ingestd: debug/metrics server listening", zap.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(ctx, "ingestd: debug server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "ingestd: starting")
	return sup.Run(ctx)
}

// resolveConnString prefers the INGESTD_POSTGRES_DSN environment variable
// over the config file's Postgres field, per the spec's requirement that
// the store connection string come from the environment; a blank value
// in both places is a fatal startup error.
func resolveConnString(cfg config.Config) (string, error) {
	if env := os.Getenv("INGESTD_POSTGRES_DSN"); env != "" {
		return env, nil
	}
	return cfg.RequireConnString()
}

func newDebugServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
}

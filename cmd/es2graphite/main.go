// Command es2graphite polls Elasticsearch node statistics and relays every numeric metric
// to Graphite.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	relay "github.com/itzg/es-graphite-relay"
	"github.com/itzg/es-graphite-relay/internal/config"
	"github.com/itzg/es-graphite-relay/internal/source"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.LookupEnv)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		// errors.Wrap values would otherwise print their full stack under %+v
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if err, ok := a.Value.Any().(error); ok {
				return slog.String(a.Key, err.Error())
			}
			return a
		},
	}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := relay.NewMetrics(registry)
	if err != nil {
		return errors.Wrap(err, "registering metrics")
	}

	src, err := source.New(cfg.Source())
	if err != nil {
		return err
	}
	transport, err := relay.NewTransport(relay.TransportConfig{
		Endpoint:     cfg.GraphiteEndpoint(),
		MaxRetries:   cfg.MaxRetryBulk,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := relay.New(cfg.Relay(), src, transport, logger, metrics)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.Run(ctx)
	})
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("relaying",
		"elasticsearch", cfg.Elasticsearch.Addr,
		"graphite", cfg.GraphiteEndpoint(),
	)
	err = group.Wait()
	logger.Info("shutting down")
	return err
}

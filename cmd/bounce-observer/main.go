package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iadev09/bouncer/internal/config"
	"github.com/iadev09/bouncer/internal/logging"
	"github.com/iadev09/bouncer/internal/metrics"
	"github.com/iadev09/bouncer/internal/observer"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [config-path]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	configPath := config.ResolvePath(flag.Arg(0), config.ObserverConfigEnv, "observer.yaml")
	cfg, err := config.LoadObserver(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	o, err := observer.New(cfg, logger, collector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting observer: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if err := o.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "observer error: %v\n", err)
		os.Exit(1)
	}
}

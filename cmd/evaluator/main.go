// Command evaluator runs the always-on pipeline process: market scoring,
// wallet discovery, ingestion, feature computation, persona classification,
// wallet scoring, and wallet-rules evaluation. The wallet engine's
// per-wallet mirroring loop lives in cmd/trader instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/polysignal/copytrader/internal/app"
	"github.com/polysignal/copytrader/internal/config"
	"github.com/polysignal/copytrader/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	metricsAddr := flag.String("metrics-addr", "", "override observability.metrics_addr (e.g. :9090)")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			exitf("load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		exitf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		exitf("init: %v", err)
	}
	defer a.Close()

	if cfg.Observability.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Observability.MetricsAddr); err != nil {
				exitf("metrics server: %v", err)
			}
		}()
	}

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		exitf("run: %v", err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "evaluator: "+format+"\n", args...)
	os.Exit(1)
}

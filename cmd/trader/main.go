// Command trader runs the always-on wallet engine process: it
// follows every wallet approved by the evaluator's wallet-rules job,
// mirrors their trades into paper_trades under the shared risk manager, and
// records post-trade fillability snapshots. cmd/evaluator owns scoring,
// discovery, ingestion, and classification instead of this one.
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
	metricsAddr := flag.String("metrics-addr", "", "override observability.metrics_addr (e.g. :9091)")
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

	t, err := app.NewTraderApp(ctx, cfg)
	if err != nil {
		exitf("init: %v", err)
	}
	defer t.Close()

	if cfg.Observability.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Observability.MetricsAddr); err != nil {
				exitf("metrics server: %v", err)
			}
		}()
	}

	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		exitf("run: %v", err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "trader: "+format+"\n", args...)
	os.Exit(1)
}

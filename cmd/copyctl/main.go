// Command copyctl is the human-operator CLI surface: read-only
// views over the shared store (markets, wallets, wallet detail, rankings,
// stats, dead-letter events) plus the follow/unfollow/halt control
// commands. It opens the same store file the evaluator and trader
// processes use and either queries it directly or writes the column the
// running process reconciles against next tick; it does not reach into a
// live process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/polysignal/copytrader/internal/app"
	"github.com/polysignal/copytrader/internal/config"
	"github.com/polysignal/copytrader/internal/control"
	"github.com/polysignal/copytrader/internal/logging"
	"github.com/polysignal/copytrader/internal/metrics"
	"github.com/polysignal/copytrader/internal/store"
)

func main() {
	cliApp := &cli.App{
		Name:  "copyctl",
		Usage: "operate the copy-trading pipeline: inspect markets/wallets, gate which wallets mirror, control risk",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.toml", Usage: "path to the TOML configuration file"},
		},
		Commands: []*cli.Command{
			runCommand(),
			marketsCommand(),
			walletsCommand(),
			walletCommand(),
			rankingsCommand(),
			classifyCommand(),
			pickForPaperCommand(),
			followCommand(),
			unfollowCommand(),
			pauseCommand(),
			resumeCommand(),
			haltCommand(),
			resumeAllCommand(),
			riskCommand(),
			eventsCommand(),
			statsCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "copyctl: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openController opens the store read/write surface copyctl's inspection
// and control commands use. Callers must Close() the returned gateway.
func openController(ctx context.Context, c *cli.Context) (*store.Gateway, *control.Controller, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogPretty)
	gw, err := store.Open(ctx, cfg.StorePath, logging.Component(log, "copyctl"))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return gw, control.New(gw), nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the evaluation pipeline in the foreground (equivalent to cmd/evaluator)",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer a.Close()

			if cfg.Observability.MetricsAddr != "" {
				go func() {
					_ = metrics.Serve(ctx, cfg.Observability.MetricsAddr)
				}()
			}

			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("run: %w", err)
			}
			return nil
		},
	}
}

func marketsCommand() *cli.Command {
	return &cli.Command{
		Name:  "markets",
		Usage: "list today's top-scored markets",
		Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 25}},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()

			rows, err := ctrl.Markets(ctx, c.Int("limit"))
			if err != nil {
				return err
			}
			fmt.Printf("%-40s %8s %6s %-12s %s\n", "condition_id", "mscore", "rank", "score_date", "title")
			for _, r := range rows {
				fmt.Printf("%-40s %8.3f %6d %-12s %s\n", r.ConditionID, r.MScore, r.EventRank, r.ScoreDate, r.Title)
			}
			return nil
		},
	}
}

func walletsCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallets",
		Usage: "list tracked wallets with their rule state, persona, and engine status",
		Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()

			rows, err := ctrl.Wallets(ctx, c.Int("limit"))
			if err != nil {
				return err
			}
			fmt.Printf("%-44s %-14s %-14s %-22s %s\n", "wallet", "discovered", "rule_state", "persona", "engine_status")
			for _, r := range rows {
				fmt.Printf("%-44s %-14s %-14s %-22s %s\n", r.ProxyWallet, r.DiscoveredFrom, r.RuleState, r.Persona, r.EngineStatus)
			}
			return nil
		},
	}
}

func walletCommand() *cli.Command {
	return &cli.Command{
		Name:      "wallet",
		Usage:     "show full detail for one wallet",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			addr := c.Args().First()
			if addr == "" {
				return cli.Exit("wallet: missing <address>", 2)
			}
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()

			d, err := ctrl.WalletDetail(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Printf("wallet:          %s\n", d.Wallet.ProxyWallet)
			fmt.Printf("discovered_from: %s (market %s)\n", d.Wallet.DiscoveredFrom, d.Wallet.DiscoveryMarket)
			fmt.Printf("active:          %v\n", d.Wallet.Active)
			fmt.Printf("rule_state:      %s\n", d.RuleState)
			fmt.Printf("persona:         %s (classified_at %s)\n", d.Persona, d.ClassifiedAt)
			fmt.Printf("latest_wscore:   %.4f\n", d.LatestScore)
			fmt.Printf("paper_trades:    %d open, %d closed\n", d.OpenPaper, d.ClosedPaper)
			if len(d.Exclusions) > 0 {
				fmt.Println("exclusions:")
				for _, e := range d.Exclusions {
					fmt.Printf("  %-22s metric=%.4f threshold=%.4f at=%s\n", e.Reason, e.MetricValue, e.Threshold, e.ExcludedAt)
				}
			}
			return nil
		},
	}
}

func rankingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "rankings",
		Usage: "list wallets ranked by WScore for a window",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "window", Value: 30, Usage: "observation window in days"},
			&cli.IntFlag{Name: "limit", Value: 25},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()

			rows, err := ctrl.Rankings(ctx, c.Int("window"), c.Int("limit"))
			if err != nil {
				return err
			}
			fmt.Printf("%-44s %8s %-20s %s\n", "wallet", "wscore", "follow_mode", "persona")
			for _, r := range rows {
				fmt.Printf("%-44s %8.4f %-20s %s\n", r.ProxyWallet, r.WScore, r.FollowMode, r.Persona)
			}
			return nil
		},
	}
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "run one out-of-band pass of market scoring, persona classification, and wallet scoring",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			ctx := c.Context
			a, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer a.Close()

			if err := a.RunMarketScoringOnce(ctx); err != nil {
				return fmt.Errorf("market scoring: %w", err)
			}
			if err := a.RunPersonaClassificationOnce(ctx); err != nil {
				return fmt.Errorf("persona classification: %w", err)
			}
			if err := a.RunWalletScoringOnce(ctx); err != nil {
				return fmt.Errorf("wallet scoring: %w", err)
			}
			if err := a.RunWalletRulesOnce(ctx); err != nil {
				return fmt.Errorf("wallet rules: %w", err)
			}
			fmt.Println("classify: done")
			return nil
		},
	}
}

func pickForPaperCommand() *cli.Command {
	return &cli.Command{
		Name:      "pick-for-paper",
		Usage:     "force a candidate wallet directly into paper trading, bypassing the discovery gate",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			return walletMutation(c, func(ctx context.Context, ctrl *control.Controller, addr string) error {
				return ctrl.PickForPaper(ctx, addr)
			})
		},
	}
}

func followCommand() *cli.Command {
	return &cli.Command{
		Name:      "follow",
		Usage:     "force-approve a wallet so cmd/trader starts mirroring it",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			return walletMutation(c, func(ctx context.Context, ctrl *control.Controller, addr string) error {
				return ctrl.Follow(ctx, addr)
			})
		},
	}
}

func unfollowCommand() *cli.Command {
	return &cli.Command{
		Name:      "unfollow",
		Usage:     "stop mirroring a wallet and mark it removed",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			return walletMutation(c, func(ctx context.Context, ctrl *control.Controller, addr string) error {
				return ctrl.Unfollow(ctx, addr)
			})
		},
	}
}

func pauseCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause",
		Usage:     "pause mirroring for a wallet without dropping its watcher",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			return walletMutation(c, func(ctx context.Context, ctrl *control.Controller, addr string) error {
				return ctrl.Pause(ctx, addr)
			})
		},
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "resume mirroring for a paused wallet",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			return walletMutation(c, func(ctx context.Context, ctrl *control.Controller, addr string) error {
				return ctrl.Resume(ctx, addr)
			})
		},
	}
}

// walletMutation is the shared plumbing every per-wallet control command
// uses: parse the address argument, open the store, run the mutation.
func walletMutation(c *cli.Context, fn func(context.Context, *control.Controller, string) error) error {
	addr := c.Args().First()
	if addr == "" {
		return cli.Exit(fmt.Sprintf("%s: missing <address>", c.Command.Name), 2)
	}
	ctx := c.Context
	gw, ctrl, err := openController(ctx, c)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := fn(ctx, ctrl, addr); err != nil {
		return err
	}
	fmt.Printf("%s: %s ok\n", c.Command.Name, addr)
	return nil
}

func haltCommand() *cli.Command {
	return &cli.Command{
		Name:  "halt",
		Usage: "set the global halt flag; the trader process applies it on its next reconcile",
		Action: func(c *cli.Context) error {
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()
			if err := ctrl.Halt(ctx); err != nil {
				return err
			}
			fmt.Println("halt: ok")
			return nil
		},
	}
}

func resumeAllCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-all",
		Usage: "clear the global halt flag",
		Action: func(c *cli.Context) error {
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()
			if err := ctrl.ResumeAll(ctx); err != nil {
				return err
			}
			fmt.Println("resume-all: ok")
			return nil
		},
	}
}

func riskCommand() *cli.Command {
	return &cli.Command{
		Name:  "risk",
		Usage: "show the last-persisted portfolio risk snapshot",
		Action: func(c *cli.Context) error {
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()

			s, err := ctrl.Risk(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("halted:            %v\n", s.Halted)
			fmt.Printf("total_exposure_usd: %.2f\n", s.TotalExposureUSD)
			fmt.Printf("daily_pnl:         %.2f\n", s.DailyPnL)
			fmt.Printf("weekly_pnl:        %.2f\n", s.WeeklyPnL)
			fmt.Printf("open_positions:    %d\n", s.OpenPositions)
			fmt.Printf("updated_at:        %s\n", s.UpdatedAt)
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "inspect the dead-letter event queue",
		Subcommands: []*cli.Command{
			{
				Name:  "replay",
				Usage: "list non-exhausted dead-lettered events for operator review",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
				Action: func(c *cli.Context) error {
					ctx := c.Context
					gw, ctrl, err := openController(ctx, c)
					if err != nil {
						return err
					}
					defer gw.Close()

					rows, err := ctrl.ReplayEvents(ctx, c.Int("limit"))
					if err != nil {
						return err
					}
					if len(rows) == 0 {
						fmt.Println("events replay: no pending dead-lettered events")
						return nil
					}
					fmt.Printf("%-24s %6s %-10s %s\n", "event_type", "retry", "status", "last_error")
					for _, r := range rows {
						fmt.Printf("%-24s %6d %-10s %s\n", r.EventType, r.RetryCount, r.Status, r.LastError)
					}
					return nil
				},
			},
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show the funnel view: the most recent job runs across all jobs, newest first",
		Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20}},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			gw, ctrl, err := openController(ctx, c)
			if err != nil {
				return err
			}
			defer gw.Close()

			rows, err := ctrl.Stats(ctx, c.Int("limit"))
			if err != nil {
				return err
			}
			fmt.Printf("%-24s %-22s %10s %10s %s\n", "job", "ran_at", "processed", "inserted", "ok")
			for _, r := range rows {
				fmt.Printf("%-24s %-22s %10d %10d %v\n", r.JobName, r.RanAt, r.ItemsProcessed, r.RowsInserted, r.Succeeded)
			}
			return nil
		},
	}
}

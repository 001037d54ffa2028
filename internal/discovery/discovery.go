// Package discovery implements wallet discovery: for each of today's top
// markets, union holders and recent traders, filter by a global
// paired-trade minimum, and insert-ignore the survivors into the wallet
// store; a second producer walks the public leaderboard.
package discovery

import (
	"context"
	"database/sql"
	"time"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/metrics"
	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/store"
	"github.com/rs/zerolog"
)

// Config tunes the discovery job.
type Config struct {
	MaxWalletsPerMarket   int
	MinGlobalPairedTrades int
	HoldersFetchLimit     int
	TopMarketsPerRun      int

	LeaderboardCategory   string
	LeaderboardTimePeriod string
	LeaderboardLimit      int
}

// Job runs the per-market and leaderboard wallet discovery producers.
type Job struct {
	gw     *store.Gateway
	client *exchange.Client
	bus    *eventbus.Bus
	log    zerolog.Logger
	cfg    Config
}

// New constructs a discovery Job.
func New(gw *store.Gateway, client *exchange.Client, bus *eventbus.Bus, log zerolog.Logger, cfg Config) *Job {
	if cfg.MaxWalletsPerMarket <= 0 {
		cfg.MaxWalletsPerMarket = 25
	}
	if cfg.HoldersFetchLimit <= 0 {
		cfg.HoldersFetchLimit = 100
	}
	if cfg.TopMarketsPerRun <= 0 {
		cfg.TopMarketsPerRun = 25
	}
	if cfg.LeaderboardLimit <= 0 {
		cfg.LeaderboardLimit = 500
	}
	return &Job{gw: gw, client: client, bus: bus, log: log, cfg: cfg}
}

// todaysTopMarkets returns today's ranked condition ids, best rank first.
func (j *Job) todaysTopMarkets(ctx context.Context) ([]string, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var conditions []string
	err := j.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT condition_id FROM market_scores_daily
			WHERE score_date = ?
			ORDER BY (event_rank = 0), event_rank ASC, mscore DESC
			LIMIT ?
		`, today, j.cfg.TopMarketsPerRun)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				return err
			}
			conditions = append(conditions, cid)
		}
		return rows.Err()
	})
	return conditions, err
}

// globalPairedTradeCount counts the wallet's paired BUY/SELL trades across
// every market it has traded, the cheapest proxy available locally for "has
// this wallet actually closed positions before."
func (j *Job) globalPairedTradeCount(ctx context.Context, wallet string) (int, error) {
	var buys, sells int
	err := j.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_trades WHERE proxy_wallet = ? AND side = ?`, wallet, string(model.SideBuy))
		if err := row.Scan(&buys); err != nil {
			return err
		}
		row = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_trades WHERE proxy_wallet = ? AND side = ?`, wallet, string(model.SideSell))
		return row.Scan(&sells)
	})
	if err != nil {
		return 0, err
	}
	if buys < sells {
		return buys, nil
	}
	return sells, nil
}

// RunMarketDiscovery is the per-market HOLDER/TRADER_RECENT producer.
func (j *Job) RunMarketDiscovery(ctx context.Context) error {
	markets, err := j.todaysTopMarkets(ctx)
	if err != nil {
		return err
	}

	for _, conditionID := range markets {
		added, err := j.discoverForMarket(ctx, conditionID)
		if err != nil {
			j.log.Warn().Str("condition_id", conditionID).Err(err).Msg("wallet discovery for market failed, continuing batch")
			continue
		}
		if added > 0 && j.bus != nil {
			j.bus.PublishPipeline(eventbus.WalletsDiscovered{
				MarketID:     conditionID,
				WalletsAdded: added,
				DiscoveredAt: time.Now().UTC(),
			})
		}
	}
	return nil
}

// candidate is one unioned HOLDER/TRADER_RECENT discovery candidate.
type candidate struct {
	wallet string
	source model.DiscoverySource
}

// unionCandidates merges a market's holders and recent traders into a
// single de-duped set, holders taking priority when a wallet appears in
// both.
func unionCandidates(holders []exchange.RawHolder, trades []exchange.RawTrade) map[string]candidate {
	seen := make(map[string]candidate)
	for _, h := range holders {
		if h.ProxyWallet == "" {
			continue
		}
		if _, ok := seen[h.ProxyWallet]; !ok {
			seen[h.ProxyWallet] = candidate{wallet: h.ProxyWallet, source: model.DiscoveryHolder}
		}
	}
	for _, t := range trades {
		if t.ProxyWallet == "" {
			continue
		}
		if _, ok := seen[t.ProxyWallet]; !ok {
			seen[t.ProxyWallet] = candidate{wallet: t.ProxyWallet, source: model.DiscoveryTraderRecent}
		}
	}
	return seen
}

func (j *Job) discoverForMarket(ctx context.Context, conditionID string) (int, error) {
	holders, err := j.client.FetchHolders(ctx, conditionID, j.cfg.HoldersFetchLimit)
	if err != nil {
		return 0, err
	}
	trades, err := j.client.FetchTradesAny(ctx, "", conditionID, 500, 0)
	if err != nil {
		return 0, err
	}

	seen := unionCandidates(holders, trades)

	added := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for _, c := range seen {
		if added >= j.cfg.MaxWalletsPerMarket {
			break
		}
		pairedCount, err := j.globalPairedTradeCount(ctx, c.wallet)
		if err != nil {
			return added, err
		}
		if pairedCount < j.cfg.MinGlobalPairedTrades {
			continue
		}
		inserted, err := j.insertIgnore(ctx, c.wallet, c.source, conditionID, now)
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}
	return added, nil
}

func (j *Job) insertIgnore(ctx context.Context, wallet string, source model.DiscoverySource, market, now string) (bool, error) {
	inserted := false
	err := j.gw.Call(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO wallets (proxy_wallet, discovered_from, discovered_at, discovery_market, active, engine_status, last_updated)
			VALUES (?, ?, ?, ?, 1, 'active', ?)
		`, wallet, string(source), now, market, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	if inserted {
		metrics.WalletsDiscovered.Inc()
	}
	return inserted, err
}

// RunLeaderboardDiscovery is the second producer: it walks the public
// leaderboard and inserts wallets with discovered_from = LEADERBOARD.
func (j *Job) RunLeaderboardDiscovery(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	added := 0
	offset := 0
	limit := 100
	for offset < j.cfg.LeaderboardLimit {
		entries, err := j.client.FetchLeaderboard(ctx, j.cfg.LeaderboardCategory, j.cfg.LeaderboardTimePeriod, limit, offset)
		if err != nil {
			if e, ok := err.(*exchange.Error); ok && e.Kind == exchange.KindPaginationOffsetCap {
				break
			}
			return added, err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if e.ProxyWallet == "" {
				continue
			}
			inserted, err := j.insertIgnore(ctx, e.ProxyWallet, model.DiscoveryLeaderboard, "", now)
			if err != nil {
				return added, err
			}
			if inserted {
				added++
			}
		}
		if len(entries) < limit {
			break
		}
		offset += limit
	}
	return added, nil
}

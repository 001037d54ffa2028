package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/scoring"
)

// runMarketScoring is the market-scoring job runner: page every open market from the
// gamma API, enrich each with locally-derived activity fields, score and
// rank, then persist market_scores_daily and publish MarketsScored.
func (a *App) runMarketScoring(ctx context.Context) error {
	markets, err := a.fetchAllMarkets(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	candidates := make([]scoring.Candidate, 0, len(markets))
	for _, m := range markets {
		if err := a.upsertMarket(ctx, m); err != nil {
			a.log.Warn().Str("condition_id", m.ConditionID).Err(err).Msg("market upsert failed, continuing batch")
			continue
		}
		c, err := a.candidateFromMarket(ctx, m, now)
		if err != nil {
			a.log.Warn().Str("condition_id", m.ConditionID).Err(err).Msg("candidate enrichment failed, continuing batch")
			continue
		}
		candidates = append(candidates, c)
	}

	scored := scoring.RankMarkets(candidates, a.cfg.MarketScoreThresholds(), a.cfg.MarketScoreWeights())
	_, ranked := scoring.RankEvents(scored, a.cfg.MarketScore.TopEventsPerDay)

	eventRank := make(map[string]int)
	for _, ev := range ranked {
		for _, m := range ev.Markets {
			eventRank[m.ConditionID] = ev.Rank
		}
	}

	scoreDate := now.Format("2006-01-02")
	inserted := 0
	for _, s := range scored {
		if err := a.persistMarketScore(ctx, s, scoreDate, eventRank[s.ConditionID]); err != nil {
			a.log.Warn().Str("condition_id", s.ConditionID).Err(err).Msg("market score persist failed, continuing batch")
			continue
		}
		inserted++
	}

	if err := recordRunStats(ctx, a.gw, "market_scoring", len(markets), inserted, true); err != nil {
		a.log.Warn().Err(err).Msg("record run stats failed")
	}
	a.bus.PublishPipeline(eventbus.MarketsScored{MarketsScored: inserted, EventsRanked: len(ranked), CompletedAt: now})
	return nil
}

// fetchAllMarkets pages the gamma markets endpoint for open markets until a
// short page or the pagination-offset cap ends the loop.
func (a *App) fetchAllMarkets(ctx context.Context) ([]exchange.RawMarket, error) {
	closed := false
	filter := exchange.MarketsFilter{Closed: &closed}
	limit := a.cfg.MarketScore.FetchLimit
	if limit <= 0 {
		limit = 500
	}

	var all []exchange.RawMarket
	offset := 0
	for {
		page, err := a.client.FetchMarkets(ctx, limit, offset, filter)
		if err != nil {
			if e, ok := err.(*exchange.Error); ok && e.Kind == exchange.KindPaginationOffsetCap {
				break
			}
			return all, err
		}
		all = append(all, page...)
		if len(page) < limit {
			break
		}
		offset += limit
	}
	return all, nil
}

func (a *App) upsertMarket(ctx context.Context, m exchange.RawMarket) error {
	prices := make([]float64, 0, len(m.OutcomePrices))
	for _, p := range m.OutcomePrices {
		f, _ := strconv.ParseFloat(string(p), 64)
		prices = append(prices, f)
	}
	pricesJSON, err := json.Marshal(prices)
	if err != nil {
		return err
	}
	liquidity, _ := strconv.ParseFloat(string(m.Liquidity), 64)
	volume, _ := strconv.ParseFloat(string(m.Volume24h), 64)

	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO markets (condition_id, event_slug, title, category, liquidity, volume_24h, end_date, closed, outcome_prices_json, is_crypto_15m)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(condition_id) DO UPDATE SET
				event_slug = excluded.event_slug,
				title = excluded.title,
				category = excluded.category,
				liquidity = excluded.liquidity,
				volume_24h = excluded.volume_24h,
				end_date = excluded.end_date,
				closed = excluded.closed,
				outcome_prices_json = excluded.outcome_prices_json
		`, m.ConditionID, m.EventSlug, m.Title, m.Category, liquidity, volume, m.EndDate, boolToInt(m.Closed), string(pricesJSON))
		return err
	})
}

// candidateFromMarket builds a scoring.Candidate from the market's stored
// fields plus locally-derived 24h trade activity and holder concentration.
func (a *App) candidateFromMarket(ctx context.Context, m exchange.RawMarket, now time.Time) (scoring.Candidate, error) {
	liquidity, _ := strconv.ParseFloat(string(m.Liquidity), 64)
	volume, _ := strconv.ParseFloat(string(m.Volume24h), 64)

	trades24h, uniqueTraders24h, err := a.trade24hStats(ctx, m.ConditionID, now)
	if err != nil {
		return scoring.Candidate{}, err
	}
	concentration, err := a.topHolderConcentration(ctx, m.ConditionID)
	if err != nil {
		return scoring.Candidate{}, err
	}

	endDate, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		endDate, err = time.Parse("2006-01-02T15:04:05Z", m.EndDate)
		if err != nil {
			endDate = now
		}
	}

	return scoring.Candidate{
		ConditionID:            m.ConditionID,
		EventSlug:              m.EventSlug,
		Liquidity:              liquidity,
		Volume24h:              volume,
		Trades24h:              trades24h,
		UniqueTraders24h:       uniqueTraders24h,
		TopHolderConcentration: concentration,
		DaysToExpiry:           scoring.DaysToExpiry(endDate, now),
	}, nil
}

func (a *App) trade24hStats(ctx context.Context, conditionID string, now time.Time) (trades int, uniqueTraders int, err error) {
	cutoff := now.Add(-24 * time.Hour).Unix()
	err = a.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT proxy_wallet) FROM raw_trades WHERE condition_id = ? AND ts >= ?`, conditionID, cutoff)
		return row.Scan(&trades, &uniqueTraders)
	})
	return trades, uniqueTraders, err
}

// topHolderConcentration returns the largest single holder's share of the
// market's latest snapshot, defaulting to 0.5 (neutral) when there is no
// holder data yet, per scoring.Candidate's documented default.
func (a *App) topHolderConcentration(ctx context.Context, conditionID string) (float64, error) {
	var amounts []float64
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT amount FROM holder_snapshots
			WHERE condition_id = ? AND taken_at = (SELECT MAX(taken_at) FROM holder_snapshots WHERE condition_id = ?)
		`, conditionID, conditionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var amt float64
			if err := rows.Scan(&amt); err != nil {
				return err
			}
			amounts = append(amounts, amt)
		}
		return rows.Err()
	})
	if err != nil {
		return 0.5, err
	}
	if len(amounts) == 0 {
		return 0.5, nil
	}
	total, top := 0.0, 0.0
	for _, amt := range amounts {
		total += amt
		if amt > top {
			top = amt
		}
	}
	if total <= 0 {
		return 0.5, nil
	}
	return top / total, nil
}

func (a *App) persistMarketScore(ctx context.Context, s scoring.Scored, scoreDate string, eventRank int) error {
	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO market_scores_daily (condition_id, score_date, mscore, liquidity_score, volume_score, density_score, whale_score, time_score, activity_gate, event_rank)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(condition_id, score_date) DO UPDATE SET
				mscore = excluded.mscore,
				liquidity_score = excluded.liquidity_score,
				volume_score = excluded.volume_score,
				density_score = excluded.density_score,
				whale_score = excluded.whale_score,
				time_score = excluded.time_score,
				activity_gate = excluded.activity_gate,
				event_rank = excluded.event_rank
		`, s.ConditionID, scoreDate, s.MScore, s.LiquidityScore, s.VolumeScore, s.DensityScore, s.WhaleScore, s.TimeScore, s.ActivityGate, eventRank)
		return err
	})
}

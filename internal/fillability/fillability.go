// Package fillability is the post-trade order-book sampler: on a copied
// trade it subscribes to the CLOB book over a direct WebSocket dial,
// samples snapshots for a bounded window, and aggregates a fill-probability
// and VWAP-slippage estimate.
package fillability

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/store"
)

// Config tunes the recorder.
type Config struct {
	Enabled                 bool
	WSURL                   string
	WindowSecs              int
	MaxConcurrentRecordings int
}

// Level is one order-book price level.
type Level struct {
	Price float64
	Size  float64
}

// FillCheck is the result of evaluating one book snapshot against a target
// trade.
type FillCheck struct {
	AvailableDepthUSD float64
	VWAP              float64
	SlippageCents     float64
	Fillable          bool
}

// checkFillable restricts the book to the side and price the trade would
// walk, accumulating notional until size_usd is met.
func checkFillable(bids, asks []Level, side model.Side, sizeUSD, targetPrice float64) FillCheck {
	var levels []Level
	if side == model.SideBuy {
		for _, a := range asks {
			if a.Price <= targetPrice {
				levels = append(levels, a)
			}
		}
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		for _, b := range bids {
			if b.Price >= targetPrice {
				levels = append(levels, b)
			}
		}
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}

	var totalDepth, consumedNotional, consumedSize float64
	for _, lvl := range levels {
		notional := lvl.Price * lvl.Size
		totalDepth += notional
		if consumedNotional < sizeUSD {
			take := notional
			if consumedNotional+take > sizeUSD {
				take = sizeUSD - consumedNotional
			}
			takeSize := take / lvl.Price
			consumedNotional += take
			consumedSize += takeSize
		}
	}

	vwap := 0.0
	if consumedSize > 0 {
		vwap = consumedNotional / consumedSize
	}
	return FillCheck{
		AvailableDepthUSD: totalDepth,
		VWAP:              vwap,
		SlippageCents:     abs(vwap-targetPrice) * 100,
		Fillable:          totalDepth >= sizeUSD,
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Aggregate is the per-window result persisted to fillability_results.
type Aggregate struct {
	SnapshotCount          int
	FillableCount          int
	FillProbability        float64
	OpportunityWindowSecs  float64
	AvgDepthUSD            float64
	AvgVWAP                float64
	AvgSlippageCents       float64
}

// aggregateSnapshots implements the window-close aggregation: fill
// probability over all snapshots, the opportunity window estimated from the
// leading contiguous fillable run, and VWAP/slippage averaged only over
// fillable snapshots.
func aggregateSnapshots(snaps []FillCheck, intervalSecs float64) Aggregate {
	if len(snaps) == 0 {
		return Aggregate{}
	}
	var fillableCount int
	var depthSum, vwapSum, slipSum float64
	leadingRun := 0
	inLeadingRun := true
	for i, s := range snaps {
		depthSum += s.AvailableDepthUSD
		if s.Fillable {
			fillableCount++
			vwapSum += s.VWAP
			slipSum += s.SlippageCents
			if inLeadingRun {
				leadingRun = i + 1
			}
		} else {
			inLeadingRun = false
		}
	}
	agg := Aggregate{
		SnapshotCount:         len(snaps),
		FillableCount:         fillableCount,
		FillProbability:       float64(fillableCount) / float64(len(snaps)),
		OpportunityWindowSecs: float64(leadingRun) * intervalSecs,
		AvgDepthUSD:           depthSum / float64(len(snaps)),
	}
	if fillableCount > 0 {
		agg.AvgVWAP = vwapSum / float64(fillableCount)
		agg.AvgSlippageCents = slipSum / float64(fillableCount)
	}
	return agg
}

type bookMessage struct {
	AssetID      string          `json:"asset_id"`
	EventType    string          `json:"event_type"`
	Bids         []wireLevel     `json:"bids"`
	Asks         []wireLevel     `json:"asks"`
	PriceChanges json.RawMessage `json:"price_changes"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func toLevels(wl []wireLevel) []Level {
	out := make([]Level, 0, len(wl))
	for _, l := range wl {
		p, _ := strconv.ParseFloat(l.Price, 64)
		s, _ := strconv.ParseFloat(l.Size, 64)
		out = append(out, Level{Price: p, Size: s})
	}
	return out
}

type recording struct {
	id          string
	tokenID     string
	conditionID string
	side        model.Side
	sizeUSD     float64
	targetPrice float64
	windowStart time.Time

	mu       sync.Mutex
	triggers []string
	timer    *time.Timer
	cancel   context.CancelFunc
	once     sync.Once
	checks   []FillCheck
}

// Recorder manages active per-token recording windows.
type Recorder struct {
	cfg Config
	gw  *store.Gateway
	log zerolog.Logger

	mu     sync.Mutex
	active map[string]*recording
}

// New constructs a Recorder.
func New(cfg Config, gw *store.Gateway, log zerolog.Logger) *Recorder {
	if cfg.WindowSecs <= 0 {
		cfg.WindowSecs = 30
	}
	if cfg.MaxConcurrentRecordings <= 0 {
		cfg.MaxConcurrentRecordings = 20
	}
	return &Recorder{cfg: cfg, gw: gw, log: log, active: make(map[string]*recording)}
}

// OnCopiedTrade is invoked when a paper trade is executed. It opens (or
// extends) a recording window for the trade's token.
func (r *Recorder) OnCopiedTrade(tokenID, conditionID, triggerHash string, side model.Side, sizeUSD, targetPrice float64) {
	if !r.cfg.Enabled {
		return
	}

	r.mu.Lock()
	if rec, ok := r.active[tokenID]; ok {
		rec.mu.Lock()
		rec.triggers = append(rec.triggers, triggerHash)
		rec.timer.Reset(time.Duration(r.cfg.WindowSecs) * time.Second)
		rec.mu.Unlock()
		r.mu.Unlock()
		return
	}
	if len(r.active) >= r.cfg.MaxConcurrentRecordings {
		r.mu.Unlock()
		r.log.Warn().Str("token_id", tokenID).Msg("fillability recording dropped: max_concurrent_recordings saturated")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recording{
		id:          uuid.NewString(),
		tokenID:     tokenID,
		conditionID: conditionID,
		side:        side,
		sizeUSD:     sizeUSD,
		targetPrice: targetPrice,
		windowStart: time.Now().UTC(),
		triggers:    []string{triggerHash},
		cancel:      cancel,
	}
	rec.timer = time.AfterFunc(time.Duration(r.cfg.WindowSecs)*time.Second, func() {
		r.finish(rec, "timeout")
	})
	r.active[tokenID] = rec
	r.mu.Unlock()

	go r.run(ctx, rec)
}

func (r *Recorder) run(ctx context.Context, rec *recording) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.WSURL, nil)
	if err != nil {
		r.log.Warn().Err(err).Str("token_id", rec.tokenID).Msg("fillability websocket dial failed")
		r.finish(rec, "dial_error")
		return
	}
	defer conn.Close()

	sub := map[string]any{"type": "MARKET", "assets_ids": []string{rec.tokenID}, "custom_feature_enabled": true}
	if err := conn.WriteJSON(sub); err != nil {
		r.log.Warn().Err(err).Str("token_id", rec.tokenID).Msg("fillability subscribe failed")
		r.finish(rec, "subscribe_error")
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			r.finish(rec, "socket_closed")
			return
		}
		r.handleMessage(ctx, rec, msg)
	}
}

func (r *Recorder) handleMessage(ctx context.Context, rec *recording, msg []byte) {
	var batch []bookMessage
	if err := json.Unmarshal(msg, &batch); err != nil {
		var single bookMessage
		if err := json.Unmarshal(msg, &single); err != nil {
			return
		}
		batch = []bookMessage{single}
	}

	for _, bm := range batch {
		if bm.AssetID != rec.tokenID || len(bm.PriceChanges) > 0 {
			continue
		}
		if len(bm.Bids) == 0 && len(bm.Asks) == 0 {
			continue
		}
		bids, asks := toLevels(bm.Bids), toLevels(bm.Asks)
		check := checkFillable(bids, asks, rec.side, rec.sizeUSD, rec.targetPrice)

		rec.mu.Lock()
		rec.checks = append(rec.checks, check)
		rec.mu.Unlock()

		r.persistSnapshot(ctx, rec, bids, asks, check)
	}
}

func (r *Recorder) persistSnapshot(ctx context.Context, rec *recording, bids, asks []Level, check FillCheck) {
	var bestBid, bestAsk float64
	if len(bids) > 0 {
		bestBid = bids[0].Price
	}
	if len(asks) > 0 {
		bestAsk = asks[0].Price
	}
	mid := (bestBid + bestAsk) / 2
	spread := bestAsk - bestBid
	raw, _ := json.Marshal(struct {
		Bids []Level `json:"bids"`
		Asks []Level `json:"asks"`
	}{bids, asks})

	_ = r.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO orderbook_snapshots
				(token_id, recording_id, fillable, available_depth_usd, vwap, slippage_cents, best_bid, best_ask, spread, mid, levels_json, taken_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.tokenID, rec.id, check.Fillable, check.AvailableDepthUSD, check.VWAP, check.SlippageCents,
			bestBid, bestAsk, spread, mid, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// finish runs the window-close aggregation exactly once per recording,
// whichever path — the deadline timer or the socket closing — gets there
// first.
func (r *Recorder) finish(rec *recording, reason string) {
	rec.once.Do(func() {
		r.mu.Lock()
		delete(r.active, rec.tokenID)
		r.mu.Unlock()

		rec.timer.Stop()
		rec.cancel()

		rec.mu.Lock()
		checks := rec.checks
		triggers := rec.triggers
		rec.mu.Unlock()

		intervalSecs := float64(r.cfg.WindowSecs) / float64(max(len(checks), 1))
		agg := aggregateSnapshots(checks, intervalSecs)
		triggersJSON, _ := json.Marshal(triggers)

		ctx := context.Background()
		_ = r.gw.Call(ctx, func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO fillability_results
					(recording_id, token_id, condition_id, trigger_hashes, snapshot_count, fillable_count, fill_probability, opportunity_window_secs, avg_available_depth_usd, avg_vwap, avg_slippage_cents, close_reason, window_start, settled_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, rec.id, rec.tokenID, rec.conditionID, string(triggersJSON), agg.SnapshotCount, agg.FillableCount, agg.FillProbability,
				agg.OpportunityWindowSecs, agg.AvgDepthUSD, agg.AvgVWAP, agg.AvgSlippageCents, reason, rec.windowStart.Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
			return err
		})
	})
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

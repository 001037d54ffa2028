// Package features computes per-wallet, per-window deterministic features
// from local data only: FIFO round-trip pairing, drawdown, Sharpe,
// concentration, and burstiness.
package features

import (
	"math"
	"sort"

	"github.com/polysignal/copytrader/internal/model"
)

// Input is everything ComputeWalletFeatures needs for one wallet/window.
type Input struct {
	ProxyWallet        string
	WindowDays         int
	Trades             []model.Trade          // already filtered to the window, any order
	LatestPositions    []model.PositionSnapshot // the latest snapshot only
	CategoryByCondition map[string]string
	WalletAgeDays      float64
	DaysSinceLastTrade float64
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// pairedStats is the FIFO round-trip result for one condition.
type pairedStats struct {
	wins, losses int
	pnl          float64
	holdSeconds  []float64
	dailyPnl     map[int64]float64 // UTC day (unix/86400) -> summed paired pnl
}

// pairedTradeStats walks trades per condition_id in timestamp order,
// pairing the i-th BUY with the i-th SELL.
func pairedTradeStats(trades []model.Trade) pairedStats {
	byCondition := make(map[string][]model.Trade)
	for _, t := range trades {
		byCondition[t.ConditionID] = append(byCondition[t.ConditionID], t)
	}

	var out pairedStats
	out.dailyPnl = make(map[int64]float64)

	for _, ts := range byCondition {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Timestamp.Before(ts[j].Timestamp) })

		var buys, sells []model.Trade
		for _, t := range ts {
			switch t.Side {
			case model.SideBuy:
				buys = append(buys, t)
			case model.SideSell:
				sells = append(sells, t)
			}
		}

		n := len(buys)
		if len(sells) < n {
			n = len(sells)
		}
		for i := 0; i < n; i++ {
			buy, sell := buys[i], sells[i]
			size := math.Min(buy.Size, sell.Size)
			pnl := (sell.Price - buy.Price) * size
			hold := sell.Timestamp.Sub(buy.Timestamp).Seconds()

			if pnl > 0 {
				out.wins++
			} else {
				out.losses++
			}
			out.pnl += pnl
			out.holdSeconds = append(out.holdSeconds, hold)

			day := sell.Timestamp.Unix() / 86400
			out.dailyPnl[day] += pnl
		}
	}
	return out
}

// profitableMarketCount counts conditions whose summed paired PnL is positive.
func profitableMarketCount(trades []model.Trade) int {
	byCondition := make(map[string][]model.Trade)
	for _, t := range trades {
		byCondition[t.ConditionID] = append(byCondition[t.ConditionID], t)
	}
	count := 0
	for _, ts := range byCondition {
		st := pairedTradeStats(ts)
		if st.pnl > 0 {
			count++
		}
	}
	return count
}

// drawdownAndSharpe builds a daily equity curve from the paired-PnL series
// and derives max drawdown % and an annualized Sharpe ratio.
func drawdownAndSharpe(dailyPnl map[int64]float64) (maxDrawdownPct, sharpe float64) {
	if len(dailyPnl) == 0 {
		return 0, 0
	}
	days := make([]int64, 0, len(dailyPnl))
	for d := range dailyPnl {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	equity := make([]float64, len(days))
	running := 0.0
	for i, d := range days {
		running += dailyPnl[d]
		equity[i] = running
	}

	peak := equity[0]
	maxDD := 0.0
	for i := range equity {
		if equity[i] > peak {
			peak = equity[i]
		}
		if peak > 0 {
			dd := (peak - equity[i]) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	returns := make([]float64, len(days))
	prevEquity := 0.0
	for i, d := range days {
		if math.Abs(prevEquity) > 1e-9 {
			returns[i] = dailyPnl[d] / prevEquity
		} else {
			returns[i] = 0
		}
		prevEquity = equity[i]
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)

	if stddev < 1e-9 {
		return maxDD, 0
	}
	return maxDD, (mean / stddev) * math.Sqrt(252)
}

// burstinessTop1hRatio finds the largest count of trades falling within any
// contiguous 1-hour window, as a fraction of the total trade count, via a
// sliding two-pointer scan over sorted timestamps.
func burstinessTop1hRatio(tsSeconds []int64) float64 {
	n := len(tsSeconds)
	if n == 0 {
		return 0
	}
	sorted := append([]int64(nil), tsSeconds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	best := 1
	left := 0
	for right := 0; right < n; right++ {
		for sorted[right]-sorted[left] > 3600 {
			left++
		}
		if right-left+1 > best {
			best = right - left + 1
		}
	}
	return float64(best) / float64(n)
}

// Compute derives the full feature row for one wallet/window.
func Compute(in Input) model.WalletFeatures {
	f := model.WalletFeatures{
		ProxyWallet:        in.ProxyWallet,
		WindowDays:         in.WindowDays,
		WalletAgeDays:      in.WalletAgeDays,
		DaysSinceLastTrade: in.DaysSinceLastTrade,
	}

	f.TradeCount = len(in.Trades)
	if f.TradeCount == 0 {
		return f
	}

	uniqueMarkets := make(map[string]struct{})
	var buyNotional, sellNotional float64
	var notionals []float64
	midFill, extreme := 0, 0
	notionalByCategory := make(map[string]float64)
	var totalNotional float64
	tsSeconds := make([]int64, 0, f.TradeCount)

	for _, t := range in.Trades {
		uniqueMarkets[t.ConditionID] = struct{}{}
		notional := t.Size * t.Price
		notionals = append(notionals, notional)
		totalNotional += notional

		switch t.Side {
		case model.SideBuy:
			buyNotional += notional
		case model.SideSell:
			sellNotional += notional
		}

		if math.Abs(t.Price-0.5) <= 0.05 {
			midFill++
		}
		if t.Price >= 0.9 || t.Price <= 0.1 {
			extreme++
		}

		if cat, ok := in.CategoryByCondition[t.ConditionID]; ok && cat != "" {
			notionalByCategory[cat] += notional
		}
		tsSeconds = append(tsSeconds, t.Timestamp.Unix())
	}

	f.UniqueMarkets = len(uniqueMarkets)
	if in.WindowDays > 0 {
		f.TradesPerDay = float64(f.TradeCount) / float64(in.WindowDays)
		f.TradesPerWeek = f.TradesPerDay * 7
	}

	stats := pairedTradeStats(in.Trades)
	f.WinCount = stats.wins
	f.LossCount = stats.losses
	f.TotalPnl = stats.pnl
	f.ProfitableMarkets = profitableMarketCount(in.Trades)

	if len(stats.holdSeconds) > 0 {
		sum := 0.0
		for _, h := range stats.holdSeconds {
			sum += h
		}
		f.AvgHoldTimeHours = (sum / float64(len(stats.holdSeconds))) / 3600
	}

	f.MaxDrawdownPct, f.SharpeRatio = drawdownAndSharpe(stats.dailyPnl)

	activePositions := 0
	for _, p := range in.LatestPositions {
		if p.Size > 0 {
			activePositions++
		}
	}
	f.ActivePositions = activePositions

	// concentration_ratio: top-3 market notional / total notional.
	byMarket := make(map[string]float64)
	for _, t := range in.Trades {
		byMarket[t.ConditionID] += t.Size * t.Price
	}
	vols := make([]float64, 0, len(byMarket))
	for _, v := range byMarket {
		vols = append(vols, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vols)))
	top3 := 0.0
	for i := 0; i < len(vols) && i < 3; i++ {
		top3 += vols[i]
	}
	if totalNotional > 0 {
		f.ConcentrationRatio = top3 / totalNotional
	}

	mean := totalNotional / float64(len(notionals))
	f.AvgTradeSizeUSDC = mean
	if mean > 0 {
		variance := 0.0
		for _, v := range notionals {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(notionals))
		f.SizeCV = math.Sqrt(variance) / mean
	}

	if buyNotional+sellNotional > 0 {
		f.BuySellBalance = 1 - math.Abs(buyNotional-sellNotional)/(buyNotional+sellNotional)
	}
	f.MidFillRatio = float64(midFill) / float64(f.TradeCount)
	f.ExtremePriceRatio = float64(extreme) / float64(f.TradeCount)
	f.BurstinessTop1hRatio = burstinessTop1hRatio(tsSeconds)

	var topCat string
	var topVol float64
	for cat, vol := range notionalByCategory {
		if vol > topVol {
			topVol = vol
			topCat = cat
		}
	}
	f.TopDomain = topCat
	if totalNotional > 0 {
		f.TopDomainRatio = clamp01(topVol / totalNotional)
	}

	return f
}

package config

import (
	"strings"

	"github.com/polysignal/copytrader/internal/discovery"
	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/fillability"
	"github.com/polysignal/copytrader/internal/ingestion"
	"github.com/polysignal/copytrader/internal/liverouter"
	"github.com/polysignal/copytrader/internal/papermirror"
	"github.com/polysignal/copytrader/internal/persona"
	"github.com/polysignal/copytrader/internal/risk"
	"github.com/polysignal/copytrader/internal/rules"
	"github.com/polysignal/copytrader/internal/scoring"
	"github.com/polysignal/copytrader/internal/walletengine"
	"github.com/polysignal/copytrader/internal/walletscore"
)

// EventBusOptions projects EventBusConfig onto eventbus.Options.
func (c Config) EventBusOptions() eventbus.Options {
	policy := eventbus.DropOldest
	if strings.EqualFold(strings.TrimSpace(c.EventBus.DropPolicy), "drop_newest") {
		policy = eventbus.DropNewest
	}
	return eventbus.Options{
		Capacity:         c.EventBus.Capacity,
		PipelinePolicy:   policy,
		WarnThresholdPct: c.EventBus.WarnThresholdPct,
	}
}

// ExchangeClientConfig projects ExchangeConfig onto exchange.Config.
func (c Config) ExchangeClientConfig() exchange.Config {
	return exchange.Config{
		DataAPIBase:    c.Exchange.DataAPIBase,
		GammaAPIBase:   c.Exchange.GammaAPIBase,
		RequestTimeout: c.Exchange.RequestTimeout,
		MaxRetries:     c.Exchange.MaxRetries,
		BackoffBase:    c.Exchange.BackoffBase,
		RateLimitDelay: c.Exchange.RateLimitDelay,
	}
}

// MarketScoreWeights projects MarketScoreConfig onto scoring.Weights.
func (c Config) MarketScoreWeights() scoring.Weights {
	return scoring.Weights{
		Liquidity: c.MarketScore.WeightLiquidity,
		Volume:    c.MarketScore.WeightVolume,
		Density:   c.MarketScore.WeightDensity,
		Whale:     c.MarketScore.WeightWhale,
		Time:      c.MarketScore.WeightTime,
	}
}

// MarketScoreThresholds projects MarketScoreConfig onto scoring.Thresholds.
func (c Config) MarketScoreThresholds() scoring.Thresholds {
	return scoring.Thresholds{
		MinLiquidity:        c.MarketScore.MinLiquidity,
		MinVolume24h:        c.MarketScore.MinVolume24h,
		MinTimeToExpiryDays: c.MarketScore.MinTimeToExpiryDays,
	}
}

// PersonaClassifyConfig projects PersonaConfig onto persona.Config.
func (c Config) PersonaClassifyConfig() persona.Config {
	p := c.Persona
	return persona.Config{
		MinWalletAgeDays: p.MinWalletAgeDays,
		MinTotalTrades:   p.MinTotalTrades,
		MaxInactiveDays:  p.MaxInactiveDays,

		SniperMaxAgeDays: p.SniperMaxAgeDays,
		SniperMinWinRate: p.SniperMinWinRate,
		SniperMaxTrades:  p.SniperMaxTrades,

		NoiseMinTradesPerWeek: p.NoiseMinTradesPerWeek,
		NoiseMaxAbsROI:        p.NoiseMaxAbsROI,

		TailRiskMinWinRate:  p.TailRiskMinWinRate,
		TailRiskMaxLossMult: p.TailRiskMaxLossMult,

		SpecialistMaxActivePositions: p.SpecialistMaxActivePositions,
		SpecialistMinConcentration:   p.SpecialistMinConcentration,
		SpecialistMinWinRate:         p.SpecialistMinWinRate,

		GeneralistMinUniqueMarkets: p.GeneralistMinUniqueMarkets,
		GeneralistMinWinRate:       p.GeneralistMinWinRate,
		GeneralistMaxWinRate:       p.GeneralistMaxWinRate,
		GeneralistMaxDrawdownPct:   p.GeneralistMaxDrawdownPct,
		GeneralistMinSharpe:        p.GeneralistMinSharpe,

		AccumulatorMinHoldHours:     p.AccumulatorMinHoldHours,
		AccumulatorMaxTradesPerWeek: p.AccumulatorMaxTradesPerWeek,
	}
}

// WalletScoreWeights projects WalletScoreConfig onto walletscore.Weights.
func (c Config) WalletScoreWeights() walletscore.Weights {
	return walletscore.Weights{
		Edge:            c.WalletScore.WeightEdge,
		Consistency:     c.WalletScore.WeightConsistency,
		MarketSkill:     c.WalletScore.WeightMarketSkill,
		Timing:          c.WalletScore.WeightTiming,
		BehaviorQuality: c.WalletScore.WeightBehaviorQuality,
	}
}

// WalletScoreMultipliers projects WalletScoreConfig onto walletscore.Multipliers.
func (c Config) WalletScoreMultipliers() walletscore.Multipliers {
	return walletscore.Multipliers{
		Trust30to90:    c.WalletScore.Trust30To90Multiplier,
		ObscurityBonus: c.WalletScore.ObscurityBonusMultiplier,
	}
}

// WalletRulesDiscoveryConfig projects WalletRulesConfig onto rules.DiscoveryConfig.
func (c Config) WalletRulesDiscoveryConfig() rules.DiscoveryConfig {
	wr := c.WalletRules
	return rules.DiscoveryConfig{
		MinTradeCount:    wr.MinTradeCount,
		MaxTradesPerDay:  wr.MaxTradesPerDay,
		MaxUniqueMarkets: wr.MaxUniqueMarkets,
		MinHoldMinutes:   wr.MinHoldMinutes,
		MaxSizeCV:        wr.MaxSizeCV,
		MaxBurstiness:    wr.MaxBurstiness,
	}
}

// WalletRulesPaperConfig projects WalletRulesConfig onto rules.PaperConfig.
func (c Config) WalletRulesPaperConfig() rules.PaperConfig {
	wr := c.WalletRules
	return rules.PaperConfig{
		PaperWindowDays:     wr.PaperWindowDays,
		RequiredPaperTrades: wr.RequiredPaperTrades,
		MinAvgPairedPnl:     wr.MinAvgPairedPnl,
		MaxDrawdown:         wr.MaxPaperDrawdown,
	}
}

// WalletRulesLiveConfig projects WalletRulesConfig onto rules.LiveConfig.
func (c Config) WalletRulesLiveConfig() rules.LiveConfig {
	wr := c.WalletRules
	return rules.LiveConfig{
		BreakersEnabled:       wr.LiveBreakersEnabled,
		MaxInactivityDays:     wr.LiveInactivityDays,
		MaxDrawdown90d:        wr.LiveMaxDrawdown90d,
		MaxDriftScore:         wr.LiveMaxDriftScore,
		MaxThemeConcentration: wr.LiveMaxThemeConcentration,
	}
}

// RiskManagerConfig projects RiskConfig onto risk.Config.
func (c Config) RiskManagerConfig() risk.Config {
	r := c.Risk
	return risk.Config{
		Portfolio: risk.PortfolioConfig{
			ExposureCapUSDC:        r.PortfolioExposureCapUSDC,
			DailyLossCapUSDC:       r.PortfolioDailyLossCapUSDC,
			WeeklyLossCapUSDC:      r.PortfolioWeeklyLossCapUSDC,
			MaxConcurrentPositions: r.PortfolioMaxConcurrentPositions,
		},
		Wallet: risk.WalletConfig{
			ExposureCapUSDC:      r.WalletExposureCapUSDC,
			DailyLossCapUSDC:     r.WalletDailyLossCapUSDC,
			WeeklyLossCapUSDC:    r.WalletWeeklyLossCapUSDC,
			MaxDrawdownPct:       r.WalletMaxDrawdownPct,
			MaxConsecutiveLosses: r.MaxConsecutiveLosses,
			CooldownDuration:     r.ConsecutiveLossCooldown,
		},
	}
}

// PaperMirrorConfig projects PaperConfig onto papermirror.Config.
func (c Config) PaperMirrorConfig() papermirror.Config {
	p := c.Paper
	return papermirror.Config{
		Strategy:                 p.Strategy,
		BankrollUSDC:             p.BankrollUSDC,
		SlippagePct:              p.SlippagePct,
		MaxExposurePerMarketPct:  p.MaxExposurePerMarketPct,
		MaxExposurePerWalletPct:  p.MaxExposurePerWalletPct,
		MaxDailyTrades:           p.MaxDailyTrades,
		PortfolioStopDrawdownPct: p.PortfolioStopDrawdownPct,
	}
}

// FillabilityConfigFor projects FillabilityConfig onto fillability.Config.
func (c Config) FillabilityConfigFor() fillability.Config {
	f := c.Fillability
	return fillability.Config{
		Enabled:                 f.Enabled,
		WSURL:                   f.WSURL,
		WindowSecs:              f.WindowSecs,
		MaxConcurrentRecordings: f.MaxConcurrentRecordings,
	}
}

// DiscoveryJobConfig projects DiscoveryConfig onto discovery.Config.
func (c Config) DiscoveryJobConfig() discovery.Config {
	d := c.Discovery
	return discovery.Config{
		MaxWalletsPerMarket:   d.MaxWalletsPerMarket,
		MinGlobalPairedTrades: d.MinGlobalPairedTrades,
		HoldersFetchLimit:     d.HoldersFetchLimit,
		TopMarketsPerRun:      c.MarketScore.TopEventsPerDay,
		LeaderboardCategory:   d.LeaderboardCategory,
		LeaderboardTimePeriod: d.LeaderboardTimePeriod,
		LeaderboardLimit:      d.LeaderboardLimit,
	}
}

// TradeIngestionConfig projects IngestionConfig onto ingestion.TradeConfig.
func (c Config) TradeIngestionConfig() ingestion.TradeConfig {
	return ingestion.TradeConfig{
		BatchSize: c.Ingestion.TradeBatchSize,
		PageLimit: c.Ingestion.TradePageLimit,
	}
}

// ActivityIngestionConfig projects IngestionConfig onto ingestion.ActivityConfig.
func (c Config) ActivityIngestionConfig() ingestion.ActivityConfig {
	return ingestion.ActivityConfig{
		BatchSize: c.Ingestion.ActivityBatchSize,
		PageLimit: c.Ingestion.ActivityPageLimit,
	}
}

// PositionIngestionConfig projects IngestionConfig onto ingestion.PositionConfig.
func (c Config) PositionIngestionConfig() ingestion.PositionConfig {
	return ingestion.PositionConfig{
		BatchSize: c.Ingestion.PositionBatchSize,
		PageLimit: c.Ingestion.PositionPageLimit,
	}
}

// HolderIngestionConfig projects IngestionConfig onto ingestion.HolderConfig.
func (c Config) HolderIngestionConfig() ingestion.HolderConfig {
	return ingestion.HolderConfig{
		BatchSize:  c.Ingestion.HolderBatchSize,
		FetchLimit: c.Discovery.HoldersFetchLimit,
	}
}

// WalletEngineConfig projects TraderConfig onto walletengine.Config.
func (c Config) WalletEngineConfig() walletengine.Config {
	t := c.Trader
	return walletengine.Config{
		PollInterval:       t.PollInterval,
		PollLimit:          t.PollLimit,
		ProportionalSizing: t.ProportionalSizing,
		OurBankrollUSDC:    t.OurBankrollUSDC,
		PerTradeSizeUSDC:   t.PerTradeSizeUSDC,
		PruneThreshold:     t.PruneThreshold,
		StatsLogInterval:   t.StatsLogInterval,
		LiveTradingEnabled: t.LiveTrading.Enabled,
	}
}

// LiveRouterCredentials projects the live-trading env-sourced secrets onto
// liverouter.Credentials. Only meaningful when Trader.LiveTrading.Enabled.
func (c Config) LiveRouterCredentials() liverouter.Credentials {
	lt := c.Trader.LiveTrading
	return liverouter.Credentials{
		PrivateKey:        lt.PrivateKey,
		APIKey:            lt.APIKey,
		APISecret:         lt.APISecret,
		APIPassphrase:     lt.APIPassphrase,
		BuilderKey:        lt.BuilderKey,
		BuilderSecret:     lt.BuilderSecret,
		BuilderPassphrase: lt.BuilderPassphrase,
	}
}

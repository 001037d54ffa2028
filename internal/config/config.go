// Package config loads the single TOML configuration file that tunes every
// component: exchange URLs and retry policy, per-job polling intervals,
// market/wallet scoring weights, persona thresholds, risk gates,
// paper-trading economics, and observability ports.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full process configuration. Both cmd/evaluator and
// cmd/trader load the same file and use the sections relevant to them.
type Config struct {
	StorePath          string `toml:"store_path"`
	LogLevel           string `toml:"log_level"`
	LogPretty          bool   `toml:"log_pretty"`
	WalletDiscoveryMode string `toml:"wallet_discovery_mode"` // "scheduled" | "continuous"

	Exchange     ExchangeConfig     `toml:"exchange"`
	Jobs         JobsConfig         `toml:"jobs"`
	EventBus     EventBusConfig     `toml:"event_bus"`
	MarketScore  MarketScoreConfig  `toml:"market_scoring"`
	Discovery    DiscoveryConfig    `toml:"wallet_discovery"`
	Ingestion    IngestionConfig    `toml:"ingestion"`
	Features     FeaturesConfig     `toml:"wallet_features"`
	Persona      PersonaConfig      `toml:"persona"`
	WalletScore  WalletScoreConfig  `toml:"wallet_scoring"`
	WalletRules  WalletRulesConfig  `toml:"wallet_rules"`
	Risk         RiskConfig         `toml:"risk"`
	Paper        PaperConfig        `toml:"paper"`
	Fillability  FillabilityConfig  `toml:"fillability"`
	Trader       TraderConfig       `toml:"trader"`
	Observability ObservabilityConfig `toml:"observability"`
}

// ExchangeConfig configures the exchange HTTP client.
type ExchangeConfig struct {
	DataAPIBase    string        `toml:"data_api_base"`
	GammaAPIBase   string        `toml:"gamma_api_base"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxRetries     int           `toml:"max_retries"`
	BackoffBase    time.Duration `toml:"backoff_base"`
	RateLimitDelay time.Duration `toml:"rate_limit_delay"`
}

// JobsConfig holds one fixed polling interval per scheduled job.
type JobsConfig struct {
	MarketScoring       time.Duration `toml:"market_scoring"`
	WalletDiscovery     time.Duration `toml:"wallet_discovery"`
	LeaderboardDiscovery time.Duration `toml:"leaderboard_discovery"`
	TradeIngestion      time.Duration `toml:"trade_ingestion"`
	ActivityIngestion   time.Duration `toml:"activity_ingestion"`
	PositionIngestion   time.Duration `toml:"position_ingestion"`
	HolderIngestion     time.Duration `toml:"holder_ingestion"`
	FeatureComputation  time.Duration `toml:"feature_computation"`
	PersonaClassification time.Duration `toml:"persona_classification"`
	WalletScoring       time.Duration `toml:"wallet_scoring"`
	WalletRules         time.Duration `toml:"wallet_rules"`
	PaperMirrorSweep    time.Duration `toml:"paper_mirror_sweep"`
	RunImmediately      bool          `toml:"run_immediately"`
}

// EventBusConfig configures the pipeline/operational broadcast channels
// and the backpressure policy.
type EventBusConfig struct {
	Capacity         int     `toml:"capacity"`
	WarnThresholdPct int     `toml:"warn_threshold_pct"`
	DropPolicy       string  `toml:"drop_policy"` // "drop_oldest" | "drop_newest"
}

// MarketScoreConfig is the market-scoring threshold/weight set.
type MarketScoreConfig struct {
	MinLiquidity        float64 `toml:"min_liquidity"`
	MinVolume24h        float64 `toml:"min_volume_24h"`
	MinTimeToExpiryDays float64 `toml:"min_time_to_expiry_days"`
	WeightLiquidity     float64 `toml:"weight_liquidity"`
	WeightVolume        float64 `toml:"weight_volume"`
	WeightDensity       float64 `toml:"weight_density"`
	WeightWhale         float64 `toml:"weight_whale"`
	WeightTime          float64 `toml:"weight_time"`
	TopEventsPerDay     int     `toml:"top_events_per_day"`
	FetchLimit          int     `toml:"fetch_limit"`
}

// DiscoveryConfig tunes wallet discovery.
type DiscoveryConfig struct {
	MaxWalletsPerMarket int    `toml:"max_wallets_per_market"`
	MinGlobalPairedTrades int  `toml:"min_global_paired_trades"`
	HoldersFetchLimit   int    `toml:"holders_fetch_limit"`
	LeaderboardCategory string `toml:"leaderboard_category"`
	LeaderboardTimePeriod string `toml:"leaderboard_time_period"`
	LeaderboardLimit    int    `toml:"leaderboard_limit"`
}

// IngestionConfig tunes the per-wallet/per-market paging jobs.
type IngestionConfig struct {
	TradeBatchSize int `toml:"trade_batch_size"`
	TradePageLimit int `toml:"trade_page_limit"`

	ActivityBatchSize int `toml:"activity_batch_size"`
	ActivityPageLimit int `toml:"activity_page_limit"`

	PositionBatchSize int `toml:"position_batch_size"`
	PositionPageLimit int `toml:"position_page_limit"`

	HolderBatchSize int `toml:"holder_batch_size"`
}

// FeaturesConfig lists the observation windows computed per wallet.
type FeaturesConfig struct {
	WindowsDays []int `toml:"windows_days"`
}

// PersonaConfig mirrors internal/persona.Config field-for-field with TOML
// tags; Config.PersonaClassifyConfig converts it.
type PersonaConfig struct {
	MinWalletAgeDays float64 `toml:"min_wallet_age_days"`
	MinTotalTrades   int     `toml:"min_total_trades"`
	MaxInactiveDays  float64 `toml:"max_inactive_days"`

	SniperMaxAgeDays float64 `toml:"sniper_max_age_days"`
	SniperMinWinRate float64 `toml:"sniper_min_win_rate"`
	SniperMaxTrades  int     `toml:"sniper_max_trades"`

	NoiseMinTradesPerWeek float64 `toml:"noise_min_trades_per_week"`
	NoiseMaxAbsROI        float64 `toml:"noise_max_abs_roi"`

	TailRiskMinWinRate  float64 `toml:"tail_risk_min_win_rate"`
	TailRiskMaxLossMult float64 `toml:"tail_risk_max_loss_mult"`

	SpecialistMaxActivePositions int     `toml:"specialist_max_active_positions"`
	SpecialistMinConcentration   float64 `toml:"specialist_min_concentration"`
	SpecialistMinWinRate         float64 `toml:"specialist_min_win_rate"`

	GeneralistMinUniqueMarkets int     `toml:"generalist_min_unique_markets"`
	GeneralistMinWinRate       float64 `toml:"generalist_min_win_rate"`
	GeneralistMaxWinRate       float64 `toml:"generalist_max_win_rate"`
	GeneralistMaxDrawdownPct   float64 `toml:"generalist_max_drawdown_pct"`
	GeneralistMinSharpe        float64 `toml:"generalist_min_sharpe"`

	AccumulatorMinHoldHours     float64 `toml:"accumulator_min_hold_hours"`
	AccumulatorMaxTradesPerWeek float64 `toml:"accumulator_max_trades_per_week"`
}

// WalletScoreConfig mirrors internal/walletscore.Weights/Multipliers.
type WalletScoreConfig struct {
	WeightEdge            float64 `toml:"weight_edge"`
	WeightConsistency     float64 `toml:"weight_consistency"`
	WeightMarketSkill     float64 `toml:"weight_market_skill"`
	WeightTiming          float64 `toml:"weight_timing"`
	WeightBehaviorQuality float64 `toml:"weight_behavior_quality"`
	Trust30To90Multiplier float64 `toml:"trust_30_90_multiplier"`
	ObscurityBonusMultiplier float64 `toml:"obscurity_bonus_multiplier"`
	LeaderboardTop500Size int     `toml:"leaderboard_top_500_size"`
}

// WalletRulesConfig mirrors internal/rules' three gate configs.
type WalletRulesConfig struct {
	MinTradeCount    int     `toml:"min_trade_count"`
	MaxTradesPerDay  float64 `toml:"max_trades_per_day"`
	MaxUniqueMarkets int     `toml:"max_unique_markets"`
	MinHoldMinutes   float64 `toml:"min_hold_minutes"`
	MaxSizeCV        float64 `toml:"max_size_cv"`
	MaxBurstiness    float64 `toml:"max_burstiness"`

	PaperWindowDays     int     `toml:"paper_window_days"`
	RequiredPaperTrades int     `toml:"required_paper_trades"`
	MinAvgPairedPnl     float64 `toml:"min_avg_paired_pnl"`
	MaxPaperDrawdown    float64 `toml:"max_paper_drawdown"` // fraction, 0.25 == 25%

	LiveBreakersEnabled bool    `toml:"live_breakers_enabled"`
	LiveInactivityDays  float64 `toml:"live_inactivity_days"`
	LiveMaxDrawdown90d  float64 `toml:"live_max_drawdown_90d"` // fraction
	LiveMaxDriftScore   float64 `toml:"live_max_drift_score"`
	LiveMaxThemeConcentration float64 `toml:"live_max_theme_concentration"`
}

// RiskConfig mirrors internal/risk.Config, including the consecutive-loss
// cooldown gate.
type RiskConfig struct {
	PortfolioExposureCapUSDC   float64 `toml:"portfolio_exposure_cap_usdc"`
	PortfolioDailyLossCapUSDC  float64 `toml:"portfolio_daily_loss_cap_usdc"`
	PortfolioWeeklyLossCapUSDC float64 `toml:"portfolio_weekly_loss_cap_usdc"`
	PortfolioMaxConcurrentPositions int `toml:"portfolio_max_concurrent_positions"`

	WalletExposureCapUSDC   float64 `toml:"wallet_exposure_cap_usdc"`
	WalletDailyLossCapUSDC  float64 `toml:"wallet_daily_loss_cap_usdc"`
	WalletWeeklyLossCapUSDC float64 `toml:"wallet_weekly_loss_cap_usdc"`
	WalletMaxDrawdownPct    float64 `toml:"wallet_max_drawdown_pct"`

	MaxConsecutiveLosses    int           `toml:"max_consecutive_losses"`
	ConsecutiveLossCooldown time.Duration `toml:"consecutive_loss_cooldown"`
}

// PaperConfig mirrors internal/papermirror.Config.
type PaperConfig struct {
	Strategy                 string  `toml:"strategy"`
	BankrollUSDC             float64 `toml:"bankroll_usdc"`
	PositionSizeUSDC         float64 `toml:"position_size_usdc"`
	SlippagePct              float64 `toml:"slippage_pct"`
	MaxExposurePerMarketPct  float64 `toml:"max_exposure_per_market_pct"`
	MaxExposurePerWalletPct  float64 `toml:"max_exposure_per_wallet_pct"`
	MaxDailyTrades           int     `toml:"max_daily_trades"`
	PortfolioStopDrawdownPct float64 `toml:"portfolio_stop_drawdown_pct"`
}

// FillabilityConfig mirrors internal/fillability.Config.
type FillabilityConfig struct {
	Enabled                 bool   `toml:"enabled"`
	WSURL                   string `toml:"ws_url"`
	WindowSecs              int    `toml:"window_secs"`
	MaxConcurrentRecordings int    `toml:"max_concurrent_recordings"`
}

// TraderConfig mirrors internal/walletengine.Config.
type TraderConfig struct {
	PollInterval       time.Duration `toml:"poll_interval"`
	PollLimit          int           `toml:"poll_limit"`
	ProportionalSizing bool          `toml:"proportional_sizing"`
	OurBankrollUSDC    float64       `toml:"our_bankroll_usdc"`
	PerTradeSizeUSDC   float64       `toml:"per_trade_size_usdc"`
	PruneThreshold     int           `toml:"prune_threshold"`
	StatsLogInterval   time.Duration `toml:"stats_log_interval"`

	LiveTrading LiveTradingConfig `toml:"live_trading"`
}

// LiveTradingConfig gates the optional live order-routing hand-off. When
// Enabled is false, the wallet engine never constructs a
// liverouter.SDKRouter and every mirrored trade stays paper-only.
// Credentials are read from the environment, never the TOML file.
type LiveTradingConfig struct {
	Enabled bool `toml:"enabled"`

	PrivateKey        string `toml:"-"`
	APIKey            string `toml:"-"`
	APISecret         string `toml:"-"`
	APIPassphrase     string `toml:"-"`
	BuilderKey        string `toml:"-"`
	BuilderSecret     string `toml:"-"`
	BuilderPassphrase string `toml:"-"`
}

// ObservabilityConfig configures the metrics/tracing exposition ports.
type ObservabilityConfig struct {
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the standard production configuration.
func Default() Config {
	return Config{
		StorePath:          "copytrader.db",
		LogLevel:           "info",
		WalletDiscoveryMode: "scheduled",
		Exchange: ExchangeConfig{
			DataAPIBase:    "https://data-api.polymarket.com",
			GammaAPIBase:   "https://gamma-api.polymarket.com",
			RequestTimeout: 15 * time.Second,
			MaxRetries:     3,
			BackoffBase:    500 * time.Millisecond,
			RateLimitDelay: 100 * time.Millisecond,
		},
		Jobs: JobsConfig{
			MarketScoring:        15 * time.Minute,
			WalletDiscovery:      15 * time.Minute,
			LeaderboardDiscovery: 1 * time.Hour,
			TradeIngestion:       2 * time.Minute,
			ActivityIngestion:    5 * time.Minute,
			PositionIngestion:    5 * time.Minute,
			HolderIngestion:      30 * time.Minute,
			FeatureComputation:   30 * time.Minute,
			PersonaClassification: 30 * time.Minute,
			WalletScoring:        30 * time.Minute,
			WalletRules:          10 * time.Minute,
			PaperMirrorSweep:     1 * time.Minute,
			RunImmediately:       true,
		},
		EventBus: EventBusConfig{
			Capacity:         256,
			WarnThresholdPct: 90,
			DropPolicy:       "drop_oldest",
		},
		MarketScore: MarketScoreConfig{
			MinLiquidity:        1000,
			MinVolume24h:        500,
			MinTimeToExpiryDays: 0,
			WeightLiquidity:     0.25,
			WeightVolume:        0.25,
			WeightDensity:       0.20,
			WeightWhale:         0.15,
			WeightTime:          0.15,
			TopEventsPerDay:     50,
			FetchLimit:          500,
		},
		Discovery: DiscoveryConfig{
			MaxWalletsPerMarket:   25,
			MinGlobalPairedTrades: 5,
			HoldersFetchLimit:     100,
			LeaderboardCategory:   "overall",
			LeaderboardTimePeriod: "month",
			LeaderboardLimit:      500,
		},
		Ingestion: IngestionConfig{
			TradeBatchSize:    50,
			TradePageLimit:    500,
			ActivityBatchSize: 50,
			ActivityPageLimit: 500,
			PositionBatchSize: 50,
			PositionPageLimit: 500,
			HolderBatchSize:   25,
		},
		Features: FeaturesConfig{WindowsDays: []int{7, 30, 180}},
		Persona: PersonaConfig{
			MinWalletAgeDays: 3,
			MinTotalTrades:   10,
			MaxInactiveDays:  30,

			SniperMaxAgeDays: 7,
			SniperMinWinRate: 0.8,
			SniperMaxTrades:  15,

			NoiseMinTradesPerWeek: 80,
			NoiseMaxAbsROI:        0.02,

			TailRiskMinWinRate:  0.85,
			TailRiskMaxLossMult: 5,

			SpecialistMaxActivePositions: 3,
			SpecialistMinConcentration:   0.7,
			SpecialistMinWinRate:         0.55,

			GeneralistMinUniqueMarkets: 10,
			GeneralistMinWinRate:       0.45,
			GeneralistMaxWinRate:       0.65,
			GeneralistMaxDrawdownPct:   25,
			GeneralistMinSharpe:        0.5,

			AccumulatorMinHoldHours:     48,
			AccumulatorMaxTradesPerWeek: 10,
		},
		WalletScore: WalletScoreConfig{
			WeightEdge:               0.30,
			WeightConsistency:        0.25,
			WeightMarketSkill:        0.20,
			WeightTiming:             0.15,
			WeightBehaviorQuality:    0.10,
			Trust30To90Multiplier:    0.7,
			ObscurityBonusMultiplier: 1.2,
			LeaderboardTop500Size:    500,
		},
		WalletRules: WalletRulesConfig{
			MinTradeCount:    10,
			MaxTradesPerDay:  50,
			MaxUniqueMarkets: 40,
			MinHoldMinutes:   1,
			MaxSizeCV:        3,
			MaxBurstiness:    0.6,

			PaperWindowDays:     14,
			RequiredPaperTrades: 10,
			MinAvgPairedPnl:     0,
			MaxPaperDrawdown:    0.25,

			LiveBreakersEnabled:       true,
			LiveInactivityDays:        3,
			LiveMaxDrawdown90d:        0.25,
			LiveMaxDriftScore:         0.5,
			LiveMaxThemeConcentration: 0.8,
		},
		Risk: RiskConfig{
			PortfolioExposureCapUSDC:        5000,
			PortfolioDailyLossCapUSDC:       500,
			PortfolioWeeklyLossCapUSDC:      1500,
			PortfolioMaxConcurrentPositions: 50,

			WalletExposureCapUSDC:   500,
			WalletDailyLossCapUSDC:  100,
			WalletWeeklyLossCapUSDC: 300,
			WalletMaxDrawdownPct:    40,

			MaxConsecutiveLosses:    5,
			ConsecutiveLossCooldown: 30 * time.Minute,
		},
		Paper: PaperConfig{
			Strategy:                 "mirror",
			BankrollUSDC:             1000,
			PositionSizeUSDC:         25,
			SlippagePct:              1.0,
			MaxExposurePerMarketPct:  10,
			MaxExposurePerWalletPct:  20,
			MaxDailyTrades:           50,
			PortfolioStopDrawdownPct: 25,
		},
		Fillability: FillabilityConfig{
			Enabled:                 true,
			WSURL:                   "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			WindowSecs:              20,
			MaxConcurrentRecordings: 10,
		},
		Trader: TraderConfig{
			PollInterval:       10 * time.Second,
			PollLimit:          100,
			ProportionalSizing: true,
			OurBankrollUSDC:    1000,
			PerTradeSizeUSDC:   50,
			PruneThreshold:     500,
			StatsLogInterval:   60 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
		},
	}
}

// LoadFile decodes a TOML file on top of Default(), so a partial file only
// overrides the fields it sets.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides a small set of secrets and operational flags from the
// environment. Signing credentials only ever enter through here.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("COPYTRADER_STORE_PATH")); v != "" {
		c.StorePath = v
	}
	if v := strings.TrimSpace(os.Getenv("COPYTRADER_WALLET_DISCOVERY_MODE")); v != "" {
		c.WalletDiscoveryMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("COPYTRADER_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_PK")); v != "" {
		c.Trader.LiveTrading.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_API_KEY")); v != "" {
		c.Trader.LiveTrading.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_API_SECRET")); v != "" {
		c.Trader.LiveTrading.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_API_PASSPHRASE")); v != "" {
		c.Trader.LiveTrading.APIPassphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_BUILDER_KEY")); v != "" {
		c.Trader.LiveTrading.BuilderKey = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_BUILDER_SECRET")); v != "" {
		c.Trader.LiveTrading.BuilderSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_BUILDER_PASSPHRASE")); v != "" {
		c.Trader.LiveTrading.BuilderPassphrase = v
	}
}

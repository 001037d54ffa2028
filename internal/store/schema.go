package store

import "database/sql"

// statements is run in order on every open; each is idempotent so running
// migrations twice leaves the table inventory unchanged.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS markets (
		condition_id TEXT PRIMARY KEY,
		event_slug TEXT,
		title TEXT,
		category TEXT,
		liquidity REAL,
		volume_24h REAL,
		end_date TEXT,
		closed INTEGER DEFAULT 0,
		outcome_prices_json TEXT,
		is_crypto_15m INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		proxy_wallet TEXT PRIMARY KEY,
		discovered_from TEXT,
		discovered_at TEXT,
		discovery_market TEXT,
		active INTEGER DEFAULT 1,
		engine_status TEXT NOT NULL DEFAULT 'active',
		last_updated TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS raw_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_hash TEXT,
		proxy_wallet TEXT NOT NULL,
		condition_id TEXT NOT NULL,
		outcome TEXT,
		outcome_index INTEGER,
		side TEXT NOT NULL,
		size REAL NOT NULL,
		price REAL NOT NULL,
		ts INTEGER NOT NULL,
		UNIQUE(tx_hash, proxy_wallet, condition_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_trades_wallet_ts ON raw_trades(proxy_wallet, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_trades_condition_ts ON raw_trades(condition_id, ts)`,
	`CREATE TABLE IF NOT EXISTS raw_api_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint TEXT,
		params TEXT,
		body TEXT,
		fetched_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_wallet TEXT NOT NULL,
		activity_type TEXT,
		condition_id TEXT,
		ts INTEGER,
		raw_id TEXT,
		UNIQUE(proxy_wallet, raw_id)
	)`,
	`CREATE TABLE IF NOT EXISTS position_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_wallet TEXT NOT NULL,
		condition_id TEXT NOT NULL,
		size REAL,
		taken_at TEXT,
		UNIQUE(proxy_wallet, condition_id, taken_at)
	)`,
	`CREATE TABLE IF NOT EXISTS holder_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		condition_id TEXT NOT NULL,
		proxy_wallet TEXT NOT NULL,
		amount REAL,
		taken_at TEXT,
		UNIQUE(condition_id, proxy_wallet, taken_at)
	)`,
	`CREATE TABLE IF NOT EXISTS market_scores_daily (
		condition_id TEXT NOT NULL,
		score_date TEXT NOT NULL,
		mscore REAL,
		liquidity_score REAL,
		volume_score REAL,
		density_score REAL,
		whale_score REAL,
		time_score REAL,
		activity_gate REAL,
		event_rank INTEGER,
		PRIMARY KEY (condition_id, score_date)
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_features_daily (
		proxy_wallet TEXT NOT NULL,
		feature_date TEXT NOT NULL,
		window_days INTEGER NOT NULL,
		trade_count INTEGER,
		unique_markets INTEGER,
		trades_per_day REAL,
		trades_per_week REAL,
		win_count INTEGER,
		loss_count INTEGER,
		total_pnl REAL,
		avg_hold_time_hours REAL,
		max_drawdown_pct REAL,
		sharpe_ratio REAL,
		active_positions INTEGER,
		concentration_ratio REAL,
		avg_trade_size_usdc REAL,
		size_cv REAL,
		buy_sell_balance REAL,
		mid_fill_ratio REAL,
		extreme_price_ratio REAL,
		burstiness_top_1h_ratio REAL,
		top_domain TEXT,
		top_domain_ratio REAL,
		profitable_markets INTEGER,
		wallet_age_days REAL,
		days_since_last_trade REAL,
		PRIMARY KEY (proxy_wallet, feature_date, window_days)
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_personas (
		proxy_wallet TEXT PRIMARY KEY,
		persona TEXT NOT NULL,
		confidence REAL,
		classified_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_exclusions (
		proxy_wallet TEXT NOT NULL,
		reason TEXT NOT NULL,
		metric_value REAL,
		threshold REAL,
		excluded_at TEXT NOT NULL,
		PRIMARY KEY (proxy_wallet, reason)
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_rules_state (
		proxy_wallet TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		baseline_style_json TEXT,
		last_seen_at TEXT,
		updated_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_rules_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_wallet TEXT NOT NULL,
		stage TEXT NOT NULL,
		allow INTEGER NOT NULL,
		reason TEXT,
		evaluated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS paper_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_wallet TEXT NOT NULL,
		strategy TEXT NOT NULL,
		condition_id TEXT NOT NULL,
		side TEXT NOT NULL,
		outcome TEXT,
		outcome_index INTEGER,
		size_usdc REAL NOT NULL,
		entry_price REAL NOT NULL,
		slippage_applied REAL,
		fee_applied REAL,
		triggered_by_trade_id INTEGER UNIQUE,
		status TEXT NOT NULL DEFAULT 'open',
		pnl REAL,
		created_at TEXT NOT NULL,
		settled_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS paper_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_wallet TEXT NOT NULL,
		strategy TEXT NOT NULL,
		condition_id TEXT NOT NULL,
		side TEXT NOT NULL,
		total_size_usdc REAL NOT NULL,
		avg_entry_price REAL NOT NULL,
		last_updated_at TEXT,
		UNIQUE(proxy_wallet, strategy, condition_id, side)
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_scores_daily (
		proxy_wallet TEXT NOT NULL,
		score_date TEXT NOT NULL,
		window_days INTEGER NOT NULL,
		wscore REAL,
		edge_score REAL,
		consistency_score REAL,
		market_skill_score REAL,
		timing_skill_score REAL,
		behavior_quality_score REAL,
		follow_mode TEXT,
		PRIMARY KEY (proxy_wallet, score_date, window_days)
	)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		event_data TEXT,
		published_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS failed_events (
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		updated_at TEXT,
		PRIMARY KEY (event_type, event_data)
	)`,
	`CREATE TABLE IF NOT EXISTS orderbook_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token_id TEXT NOT NULL,
		recording_id TEXT NOT NULL,
		fillable INTEGER,
		available_depth_usd REAL,
		vwap REAL,
		slippage_cents REAL,
		best_bid REAL,
		best_ask REAL,
		spread REAL,
		mid REAL,
		levels_json TEXT,
		taken_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS fillability_results (
		recording_id TEXT PRIMARY KEY,
		token_id TEXT NOT NULL,
		condition_id TEXT,
		trigger_hashes TEXT,
		snapshot_count INTEGER,
		fillable_count INTEGER,
		fill_probability REAL,
		opportunity_window_secs REAL,
		avg_available_depth_usd REAL,
		avg_vwap REAL,
		avg_slippage_cents REAL,
		close_reason TEXT,
		window_start TEXT,
		settled_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS risk_state (
		key TEXT PRIMARY KEY,
		halted INTEGER DEFAULT 0,
		total_exposure_usd REAL DEFAULT 0,
		daily_pnl REAL DEFAULT 0,
		weekly_pnl REAL DEFAULT 0,
		peak_pnl REAL DEFAULT 0,
		current_pnl REAL DEFAULT 0,
		open_positions INTEGER DEFAULT 0,
		consecutive_losses INTEGER DEFAULT 0,
		cooldown_until TEXT,
		updated_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_run_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_name TEXT NOT NULL,
		ran_at TEXT NOT NULL,
		items_processed INTEGER,
		rows_inserted INTEGER,
		succeeded INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS copy_fidelity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_wallet TEXT NOT NULL,
		condition_id TEXT,
		outcome TEXT NOT NULL,
		reason TEXT,
		logged_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_watermarks (
		proxy_wallet TEXT PRIMARY KEY,
		last_ts INTEGER,
		last_identity TEXT,
		updated_at TEXT
	)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

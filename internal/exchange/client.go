// Package exchange is the HTTP client for the data and gamma-markets APIs:
// paginated fetches with retry, rate limiting, and a small fixed error
// classification used to keep telemetry cardinality low.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrKind is the fixed classification set used to decide retry behavior.
type ErrKind int

const (
	KindOther ErrKind = iota
	KindRateLimited
	KindTimeout
	KindUpstream5xx
	KindBadRequest
	KindPaginationOffsetCap
	KindDecode
	KindConnect
)

// Error wraps a classified exchange failure.
type Error struct {
	Kind   ErrKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange: %v (status=%d)", e.Err, e.Status)
	}
	return fmt.Sprintf("exchange: status=%d", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures a Client.
type Config struct {
	DataAPIBase      string
	GammaAPIBase     string
	RequestTimeout   time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	RateLimitDelay   time.Duration
}

// Client fetches trades/activity/positions/holders/leaderboard/markets.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New constructs a Client, defaulting unset durations.
func New(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// FlexString accepts a JSON string or number and normalizes to a string;
// the only permissible dynamic typing, since exchange
// payloads mix strings and numbers for the same logical field.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(b))
	return nil
}

// RawTrade is the wire shape of a single trade row.
type RawTrade struct {
	ID           FlexString `json:"id"`
	TransactionHash string  `json:"transactionHash"`
	ProxyWallet  string     `json:"proxyWallet"`
	ConditionID  string     `json:"conditionId"`
	Outcome      string     `json:"outcome"`
	OutcomeIndex int        `json:"outcomeIndex"`
	Side         string     `json:"side"`
	Size         FlexString `json:"size"`
	Price        FlexString `json:"price"`
	Timestamp    FlexString `json:"timestamp"`
}

// RawHolder is the wire shape of a holder row.
type RawHolder struct {
	ProxyWallet string     `json:"proxyWallet"`
	Amount      FlexString `json:"amount"`
}

// RawActivity is the wire shape of an activity row.
type RawActivity struct {
	ID           FlexString `json:"id"`
	ProxyWallet  string     `json:"proxyWallet"`
	Type         string     `json:"type"`
	ConditionID  string     `json:"conditionId"`
	Timestamp    FlexString `json:"timestamp"`
}

// RawPosition is the wire shape of a position row.
type RawPosition struct {
	ProxyWallet string     `json:"proxyWallet"`
	ConditionID string     `json:"conditionId"`
	Size        FlexString `json:"size"`
}

// RawLeaderboardEntry is one leaderboard row.
type RawLeaderboardEntry struct {
	ProxyWallet string     `json:"proxyWallet"`
	Rank        int        `json:"rank"`
	Volume      FlexString `json:"volume"`
}

// RawMarket is the wire shape of a gamma-API market.
type RawMarket struct {
	ConditionID   string     `json:"conditionId"`
	EventSlug     string     `json:"eventSlug"`
	Title         string     `json:"question"`
	Category      string     `json:"category"`
	Liquidity     FlexString `json:"liquidityNum"`
	Volume24h     FlexString `json:"volume24hr"`
	EndDate       string     `json:"endDate"`
	Closed        bool       `json:"closed"`
	OutcomePrices []FlexString `json:"outcomePrices"`
}

// MarketsFilter is the optional filter set on FetchMarkets.
type MarketsFilter struct {
	LiquidityNumMin *float64
	VolumeNumMin    *float64
	EndDateMin      *time.Time
	EndDateMax      *time.Time
	Closed          *bool
}

func classify(statusCode int, err error) *Error {
	switch {
	case err != nil && strings.Contains(err.Error(), "context deadline exceeded"):
		return &Error{Kind: KindTimeout, Status: statusCode, Err: err}
	case err != nil:
		return &Error{Kind: KindConnect, Status: statusCode, Err: err}
	case statusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: statusCode}
	case statusCode >= 500:
		return &Error{Kind: KindUpstream5xx, Status: statusCode}
	case statusCode == http.StatusBadRequest:
		return &Error{Kind: KindBadRequest, Status: statusCode}
	case statusCode == http.StatusRequestTimeout:
		return &Error{Kind: KindTimeout, Status: statusCode}
	default:
		return &Error{Kind: KindOther, Status: statusCode}
	}
}

func retryable(k ErrKind) bool {
	switch k {
	case KindRateLimited, KindUpstream5xx, KindTimeout:
		return true
	default:
		return false
	}
}

// do executes one GET request with retry/backoff. The URL
// is inspected for the special pagination-offset-cap condition: a 400 on a
// /trades path with offset >= 3000 is end-of-data, not an error.
func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	u, parseErr := url.Parse(rawURL)
	var offset int
	if parseErr == nil {
		if s := u.Query().Get("offset"); s != "" {
			offset, _ = strconv.Atoi(s)
		}
	}
	isTradesPath := parseErr == nil && strings.HasSuffix(u.Path, "/trades")

	var lastErr *Error
	maxAttempts := 1 + c.cfg.MaxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.cfg.RateLimitDelay > 0 {
			time.Sleep(c.cfg.RateLimitDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, &Error{Kind: KindOther, Err: err}
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = classify(0, err)
			if !retryable(lastErr.Kind) {
				return nil, lastErr
			}
			c.backoff(attempt)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusBadRequest && isTradesPath && offset >= 3000 {
			return nil, &Error{Kind: KindPaginationOffsetCap, Status: resp.StatusCode}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				return nil, &Error{Kind: KindDecode, Err: readErr}
			}
			return body, nil
		}

		lastErr = classify(resp.StatusCode, nil)
		if !retryable(lastErr.Kind) {
			return nil, lastErr
		}
		c.backoff(attempt)
	}
	return nil, lastErr
}

func (c *Client) backoff(attempt int) {
	d := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	time.Sleep(d)
}

func buildURL(base, path string, params url.Values) string {
	u := strings.TrimRight(base, "/") + path
	if q := params.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

// FetchTrades fetches a page of trades for user, paginated by limit/offset.
func (c *Client) FetchTrades(ctx context.Context, user string, limit, offset int) ([]RawTrade, error) {
	return c.FetchTradesAny(ctx, user, "", limit, offset)
}

// FetchTradesAny is the polymorphic variant: either user or market (or
// both) may be set.
func (c *Client) FetchTradesAny(ctx context.Context, user, market string, limit, offset int) ([]RawTrade, error) {
	params := url.Values{}
	if user != "" {
		params.Set("user", user)
	}
	if market != "" {
		params.Set("market", market)
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.do(ctx, buildURL(c.cfg.DataAPIBase, "/trades", params))
	if err != nil {
		return nil, err
	}
	var out []RawTrade
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return out, nil
}

// FetchHolders fetches the holders snapshot for a condition.
func (c *Client) FetchHolders(ctx context.Context, conditionID string, limit int) ([]RawHolder, error) {
	params := url.Values{"market": {conditionID}, "limit": {strconv.Itoa(limit)}}
	body, err := c.do(ctx, buildURL(c.cfg.DataAPIBase, "/holders", params))
	if err != nil {
		return nil, err
	}
	var out []RawHolder
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return out, nil
}

// FetchActivity fetches a page of a wallet's activity.
func (c *Client) FetchActivity(ctx context.Context, user string, limit, offset int) ([]RawActivity, error) {
	params := url.Values{"user": {user}, "limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	body, err := c.do(ctx, buildURL(c.cfg.DataAPIBase, "/activity", params))
	if err != nil {
		return nil, err
	}
	var out []RawActivity
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return out, nil
}

// FetchPositions fetches a page of a wallet's open positions.
func (c *Client) FetchPositions(ctx context.Context, user string, limit, offset int) ([]RawPosition, error) {
	params := url.Values{"user": {user}, "limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	body, err := c.do(ctx, buildURL(c.cfg.DataAPIBase, "/positions", params))
	if err != nil {
		return nil, err
	}
	var out []RawPosition
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return out, nil
}

// FetchLeaderboard fetches a page of the public leaderboard.
func (c *Client) FetchLeaderboard(ctx context.Context, category, timePeriod string, limit, offset int) ([]RawLeaderboardEntry, error) {
	params := url.Values{
		"category":   {category},
		"timePeriod": {timePeriod},
		"limit":      {strconv.Itoa(limit)},
		"offset":     {strconv.Itoa(offset)},
	}
	body, err := c.do(ctx, buildURL(c.cfg.DataAPIBase, "/v1/leaderboard", params))
	if err != nil {
		return nil, err
	}
	var out []RawLeaderboardEntry
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return out, nil
}

// FetchMarkets fetches a page of markets from the gamma API.
func (c *Client) FetchMarkets(ctx context.Context, limit, offset int, filter MarketsFilter) ([]RawMarket, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	if filter.LiquidityNumMin != nil {
		params.Set("liquidity_num_min", strconv.FormatFloat(*filter.LiquidityNumMin, 'f', -1, 64))
	}
	if filter.VolumeNumMin != nil {
		params.Set("volume_num_min", strconv.FormatFloat(*filter.VolumeNumMin, 'f', -1, 64))
	}
	if filter.EndDateMin != nil {
		params.Set("end_date_min", filter.EndDateMin.Format(time.RFC3339))
	}
	if filter.EndDateMax != nil {
		params.Set("end_date_max", filter.EndDateMax.Format(time.RFC3339))
	}
	if filter.Closed != nil {
		params.Set("closed", strconv.FormatBool(*filter.Closed))
	}
	body, err := c.do(ctx, buildURL(c.cfg.GammaAPIBase, "/markets", params))
	if err != nil {
		return nil, err
	}
	var out []RawMarket
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return out, nil
}

// FetchMarketByCondition resolves a single market for settlement checks.
func (c *Client) FetchMarketByCondition(ctx context.Context, conditionID string) (*RawMarket, error) {
	params := url.Values{"condition_id": {conditionID}}
	body, err := c.do(ctx, buildURL(c.cfg.GammaAPIBase, "/markets", params))
	if err != nil {
		return nil, err
	}
	var out []RawMarket
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

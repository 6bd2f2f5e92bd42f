// Package httpclient is the exchange HTTP client of spec §6: one POST
// endpoint taking a discriminated {type, req} body, JSON responses. Every
// call is retried and timeout-bounded; the client applies no rate limit
// itself (callers report outcomes to a ratelimit.Manager). Grounded on the
// teacher's resty usage pattern via 0xtitan6-polymarket-mm's
// internal/exchange/client.go (resty.New with SetRetryCount/
// AddRetryCondition), generalized from Polymarket's CLOB REST surface to
// Hyperliquid's single info-endpoint contract.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nofendian17/hl-whale-signal/internal/apperr"
)

// Client is the exchange's single JSON-RPC-over-HTTP endpoint.
type Client struct {
	http *resty.Client
}

// New builds a Client bound to baseURL with a 30s default timeout and
// 3-retry 5xx backoff (spec §5 suspension-point/retry defaults).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: rc}
}

// request is the {type, req} envelope every call of spec §6 sends.
type request struct {
	Type string      `json:"type"`
	Req  interface{} `json:"req,omitempty"`
}

// Post sends {type, req} to the info endpoint and decodes the JSON
// response into result.
func (c *Client) Post(ctx context.Context, typ string, req interface{}, result interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{Type: typ, Req: req}).
		SetResult(result).
		Post("/info")
	if err != nil {
		return apperr.Wrap(apperr.TransientNetwork, "httpclient.Post:"+typ, err)
	}
	if resp.StatusCode() >= 500 {
		return apperr.Wrap(apperr.TransientNetwork, "httpclient.Post:"+typ, fmt.Errorf("status %d", resp.StatusCode()))
	}
	if resp.StatusCode() >= 400 {
		return apperr.Wrap(apperr.ProtocolInvalid, "httpclient.Post:"+typ, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}
	if resp.StatusCode() != http.StatusOK {
		return apperr.Wrap(apperr.ProtocolInvalid, "httpclient.Post:"+typ, fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}
	return nil
}

// CandleSnapshotReq is the req payload for type="candleSnapshot".
type CandleSnapshotReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime,omitempty"`
}

// RawCandle is one element of a candleSnapshot response.
type RawCandle struct {
	T int64  `json:"t"`
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	V string `json:"v"`
	N int    `json:"n"`
}

// CandleSnapshot fetches historical candles for the backfill job.
func (c *Client) CandleSnapshot(ctx context.Context, coin, interval string, start, end int64) ([]RawCandle, error) {
	var out []RawCandle
	req := CandleSnapshotReq{Coin: coin, Interval: interval, StartTime: start, EndTime: end}
	if err := c.Post(ctx, "candleSnapshot", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MetaAndAssetCtxs fetches the universe + funding/open-interest context
// used by the funding and daily-stats jobs.
func (c *Client) MetaAndAssetCtxs(ctx context.Context) (rawJSON, error) {
	var out rawJSON
	if err := c.Post(ctx, "metaAndAssetCtxs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// rawJSON is a loosely-typed response blob for endpoints whose shape
// varies by asset (funding/open-interest arrays keyed by coin index).
type rawJSON = map[string]interface{}

// Leaderboard fetches the raw leaderboard rows (spec §4.6 step 1).
func (c *Client) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	var out []LeaderboardRow
	if err := c.Post(ctx, "leaderboard", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LeaderboardRow is one raw leaderboard entry as the exchange returns it.
// WindowPerformances is keyed by window name ("day", "week", "month",
// "allTime") with a [pnl, roi, volume] triple per spec §4.4's scoring
// formula, which weighs monthly volume tiers alongside ROI.
type LeaderboardRow struct {
	EthAddress         string                 `json:"ethAddress"`
	AccountValue       string                 `json:"accountValue"`
	WindowPerformances map[string][3]string `json:"windowPerformances"`
}

// ClearinghouseStateReq is the req payload for a trader's current positions.
type ClearinghouseStateReq struct {
	User string `json:"user"`
}

// ClearinghouseState fetches one trader's current account/position state.
// Nothing in this module calls it; the trader-positions collector gets
// its snapshots from the WebSocket user channel.
func (c *Client) ClearinghouseState(ctx context.Context, user string) (rawJSON, error) {
	var out rawJSON
	if err := c.Post(ctx, "clearinghouseState", ClearinghouseStateReq{User: user}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Package feedvendor is the single opaque adapter to the upstream market
// data vendor (named "ironbeam" in the data-source state machine). It is the
// only package that knows the vendor's concrete wire format; everything else
// in the core depends on the two interfaces defined here
// (SPEC_FULL.md §4.V, §6).
package feedvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"futurescore/internal/core"
)

// Config carries the vendor endpoint and credential.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the HTTP implementation of hydrator.Fetcher against the vendor's
// historical data API (SPEC_FULL.md §6 "Historical data API (outbound)").
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a vendor HTTP client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type historicalResponse struct {
	Bars []struct {
		TsEvent int64   `json:"tsEvent"`
		Open    float64 `json:"o"`
		High    float64 `json:"h"`
		Low     float64 `json:"l"`
		Close   float64 `json:"c"`
		Volume  int64   `json:"v"`
	} `json:"bars"`
	LatencyMs int64 `json:"latencyMs"`
}

// Fetch implements hydrator.Fetcher against the vendor's REST endpoint.
func (c *Client) Fetch(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]core.Bar, error) {
	url := fmt.Sprintf("%s/v1/historical?symbol=%s&start=%d&end=%d&timeframe=%s",
		c.cfg.BaseURL, symbol, start.UnixMilli(), end.UnixMilli(), timeframe)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feedvendor: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feedvendor: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("feedvendor: vendor returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed historicalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("feedvendor: decode response: %w", err)
	}

	bars := make([]core.Bar, len(parsed.Bars))
	for i, b := range parsed.Bars {
		bars[i] = core.Bar{
			Symbol: symbol, Timeframe: timeframe, TsEvent: b.TsEvent,
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		}
	}
	return bars, nil
}

// SubscriptionKind distinguishes bar from quote subscriptions (§4.G).
type SubscriptionKind string

const (
	SubscribeBars   SubscriptionKind = "bars"
	SubscribeQuotes SubscriptionKind = "quotes"
)

// StreamEventType enumerates the inbound events the streaming feed emits (§6).
type StreamEventType string

const (
	EventBarTick           StreamEventType = "bar"
	EventQuoteTick         StreamEventType = "quote"
	EventDisconnected      StreamEventType = "disconnected"
	EventConnected         StreamEventType = "connected"
	EventSubscriptionFail  StreamEventType = "subscription_failed"
	EventStaleData         StreamEventType = "stale_data"
	EventReconnectFailed   StreamEventType = "reconnect_failed"
)

// Quote is a top-of-book snapshot.
type Quote struct {
	Symbol  string
	TsNs    int64
	Bid     float64
	BidSize int64
	Ask     float64
	AskSize int64
}

// StreamEvent is one message from the streaming feed.
type StreamEvent struct {
	Type   StreamEventType
	Symbol string
	Bar    *core.Bar
	Quote  *Quote
}

// Stream is the streaming-feed subscription contract the Live Data Router
// depends on (SPEC_FULL.md §4.G, §6).
type Stream interface {
	// Subscribe starts a subscription for (symbol, kind) and returns a
	// channel of events scoped to it. Timeframe is only meaningful for bars.
	Subscribe(ctx context.Context, symbol, timeframe string, kind SubscriptionKind) (<-chan StreamEvent, error)
	Unsubscribe(symbol string, kind SubscriptionKind)
	Close() error
}

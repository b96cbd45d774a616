package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const positionsPageSize = 100

// DataClient wraps the Polymarket Data API (positions, trade activity).
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a Data API client.
func NewDataClient(baseURL string) *DataClient {
	if baseURL == "" {
		baseURL = "https://data-api.polymarket.com"
	}
	return &DataClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Position is a single open position for a wallet.
type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	ConditionID  string  `json:"conditionId"`
	TokenID      string  `json:"asset"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentPrice float64 `json:"curPrice"`
	Redeemable   bool    `json:"redeemable"`
	Title        string  `json:"title"`
}

// GetPositions fetches all open positions for a wallet, paging until the
// API returns a short page.
func (c *DataClient) GetPositions(ctx context.Context, wallet string) ([]Position, error) {
	var all []Position

	for offset := 0; ; offset += positionsPageSize {
		page, err := c.getPositionsPage(ctx, wallet, positionsPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < positionsPageSize {
			return all, nil
		}
	}
}

func (c *DataClient) getPositionsPage(ctx context.Context, wallet string, limit, offset int) ([]Position, error) {
	values := url.Values{}
	values.Set("user", wallet)
	values.Set("limit", strconv.Itoa(limit))
	values.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/positions?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("positions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("positions API returned %d: %s", resp.StatusCode, string(body))
	}

	var positions []Position
	if err := json.NewDecoder(resp.Body).Decode(&positions); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}

	return positions, nil
}

// PositionSize returns a wallet's current size for a market/outcome.
// Matches on condition id or token id, then on outcome label. The size is
// clamped to >= 0 and non-finite values are treated as 0. The second
// return reports whether a matching position row existed at all.
func (c *DataClient) PositionSize(ctx context.Context, wallet, conditionID, outcome string) (float64, bool, error) {
	positions, err := c.GetPositions(ctx, wallet)
	if err != nil {
		return 0, false, err
	}

	for _, p := range positions {
		if p.ConditionID != conditionID && p.TokenID != conditionID {
			continue
		}
		if !strings.EqualFold(p.Outcome, outcome) {
			continue
		}
		size := p.Size
		if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
			size = 0
		}
		return size, true, nil
	}

	return 0, false, nil
}

// WalletTrade is a single entry in a wallet's trade activity feed.
type WalletTrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	ConditionID     string  `json:"conditionId"`
	TokenID         string  `json:"asset"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	UsdcSize        float64 `json:"usdcSize"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	TransactionHash string  `json:"transactionHash"`
	Timestamp       int64   `json:"timestamp"`
}

// GetTrades fetches recent trade activity for a wallet.
func (c *DataClient) GetTrades(ctx context.Context, wallet string, limit int) ([]WalletTrade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	values := url.Values{}
	values.Set("user", wallet)
	values.Set("limit", strconv.Itoa(limit))
	values.Set("takerOnly", "false")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/trades?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trades request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("trades API returned %d: %s", resp.StatusCode, string(body))
	}

	var trades []WalletTrade
	if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}

	return trades, nil
}

// Package watcher implements the market watcher.
// It observes the simulation via the API, triages each commodity's backlog,
// and pauses or resumes the simulation via the admin speed endpoint.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot holds all data collected during an observation cycle.
type Snapshot struct {
	Status  Status       `json:"status"`
	Markets []MarketInfo `json:"markets"`
}

// Status mirrors GET /api/v1/status.
type Status struct {
	SimID      string          `json:"sim_id"`
	Step       int             `json:"step"`
	SimTime    string          `json:"sim_time"`
	Speed      float64         `json:"speed"`
	Running    bool            `json:"running"`
	Agents     int             `json:"agents"`
	Matches    uint64          `json:"matches"`
	Matched    decimal.Decimal `json:"matched"`
	Rejections uint64          `json:"rejections"`
	Failures   uint64          `json:"resolve_failures"`
}

// MarketInfo mirrors items from GET /api/v1/markets.
type MarketInfo struct {
	Commodity    string          `json:"commodity"`
	Offers       int             `json:"offers"`
	Requests     int             `json:"requests"`
	OfferTotal   decimal.Decimal `json:"offer_total"`
	RequestTotal decimal.Decimal `json:"request_total"`
	Matches      uint64          `json:"matches"`
	Matched      decimal.Decimal `json:"matched"`
}

// Backlog is the number of intents waiting in the market.
func (m MarketInfo) Backlog() int { return m.Offers + m.Requests }

// Observer fetches simulation state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the status and market endpoints.
func (o *Observer) Observe(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	if err := o.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/markets", &snap.Markets); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	return snap, nil
}

// Ready reports whether the status endpoint answers 200.
func (o *Observer) Ready(ctx context.Context) bool {
	var st Status
	return o.fetchJSON(ctx, "/api/v1/status", &st) == nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Paths on the API host.
const (
	HealthPath            = "/health"
	PredictionMarketsPath = "/api/prediction-markets"
)

// DefaultMarketLimit is the page size requested by the poller.
const DefaultMarketLimit = 20

// Health performs a single GET /health. Any network error or non-2xx status
// is returned as an error. No retries: callers bound it with ctx.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.send(ctx, http.MethodGet, HealthPath, nil); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// GetPredictionMarkets fetches the latest market snapshot.
func (c *Client) GetPredictionMarkets(ctx context.Context, limit int) (*MarketsResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp MarketsResponse
	if err := c.getJSON(ctx, PredictionMarketsPath, query, &resp); err != nil {
		return nil, fmt.Errorf("get prediction markets: %w", err)
	}

	return &resp, nil
}

package api

import "github.com/shopspring/decimal"

// MarketsResponse from GET /api/prediction-markets
type MarketsResponse struct {
	Markets []APIMarket `json:"markets"`
}

// APIMarket is a market as serialized by the backend, both over REST and
// inside WebSocket envelopes.
type APIMarket struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Title    string `json:"title"`
	Question string `json:"question,omitempty"` // some platforms send question instead of title
	Category string `json:"category"`
	Status   string `json:"status"`

	// Prices accept JSON numbers or strings
	YesPrice decimal.Decimal `json:"yesPrice"`
	NoPrice  decimal.Decimal `json:"noPrice"`

	Volume    decimal.Decimal `json:"volume"`
	Volume24h decimal.Decimal `json:"volume24h"`
	Liquidity decimal.Decimal `json:"liquidity"`

	// Timestamps (ISO 8601)
	EndDate     string `json:"endDate"`
	LastUpdated string `json:"lastUpdated"`

	URL string `json:"url"`
}

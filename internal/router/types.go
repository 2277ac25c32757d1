package router

import (
	"encoding/json"
	"errors"

	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/model"
)

// PredictionMarketType is the envelope type acted on by default.
const PredictionMarketType = "prediction-market"

// Errors returned by Route. None of them affect the session.
var (
	ErrMalformed    = errors.New("malformed message")
	ErrIgnoredType  = errors.New("ignored message type")
	ErrEmptyPayload = errors.New("payload has neither markets nor market")
)

// Publisher receives decoded updates. *market.Store satisfies it.
type Publisher interface {
	SetMarkets(markets []model.Market)
	Upsert(m model.Market) bool
}

// Config holds router configuration.
type Config struct {
	Type string // Envelope type to act on (default: "prediction-market")
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Type: PredictionMarketType,
	}
}

// Envelope is the server message wrapper.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Payload is the data section of a prediction-market envelope.
// A nil Markets means the field was absent; an empty slice is a valid
// (empty) full list.
type Payload struct {
	Markets *[]api.APIMarket `json:"markets,omitempty"`
	Market  *api.APIMarket   `json:"market,omitempty"`
}

// Stats contains routing counters.
type Stats struct {
	Received  int64
	Replaced  int64
	Upserted  int64
	Ignored   int64
	Malformed int64
}

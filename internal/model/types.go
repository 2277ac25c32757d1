package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Platform names a prediction-market venue.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
	PlatformManifold   Platform = "manifold"
)

// Key is the identity of a market record.
type Key struct {
	Platform Platform
	ID       string
}

// String returns "platform:id".
func (k Key) String() string {
	return string(k.Platform) + ":" + k.ID
}

// Market is a single prediction market as held in the shared store.
type Market struct {
	Platform Platform
	ID       string
	Title    string
	Category string
	Status   string // "open", "closed", "resolved"

	// Outcome prices (0-1)
	YesPrice decimal.Decimal
	NoPrice  decimal.Decimal

	Volume    decimal.Decimal
	Volume24h decimal.Decimal
	Liquidity decimal.Decimal

	EndDate   time.Time
	URL       string
	UpdatedAt time.Time
}

// Key returns the market identity.
func (m Market) Key() Key {
	return Key{Platform: m.Platform, ID: m.ID}
}

// Equal reports whether two records carry the same values.
func (m Market) Equal(o Market) bool {
	return m.Platform == o.Platform &&
		m.ID == o.ID &&
		m.Title == o.Title &&
		m.Category == o.Category &&
		m.Status == o.Status &&
		m.YesPrice.Equal(o.YesPrice) &&
		m.NoPrice.Equal(o.NoPrice) &&
		m.Volume.Equal(o.Volume) &&
		m.Volume24h.Equal(o.Volume24h) &&
		m.Liquidity.Equal(o.Liquidity) &&
		m.EndDate.Equal(o.EndDate) &&
		m.URL == o.URL &&
		m.UpdatedAt.Equal(o.UpdatedAt)
}

package api

import (
	"time"

	"github.com/rickgao/marketfeed/internal/model"
)

// ToModel converts an APIMarket to the store representation.
func (am APIMarket) ToModel() model.Market {
	title := am.Title
	if title == "" {
		title = am.Question
	}

	return model.Market{
		Platform:  model.Platform(am.Platform),
		ID:        am.ID,
		Title:     title,
		Category:  am.Category,
		Status:    am.Status,
		YesPrice:  am.YesPrice,
		NoPrice:   am.NoPrice,
		Volume:    am.Volume,
		Volume24h: am.Volume24h,
		Liquidity: am.Liquidity,
		EndDate:   ParseTimestamp(am.EndDate),
		URL:       am.URL,
		UpdatedAt: ParseTimestamp(am.LastUpdated),
	}
}

// ToModels converts a slice of APIMarket.
func ToModels(in []APIMarket) []model.Market {
	out := make([]model.Market, len(in))
	for i, am := range in {
		out[i] = am.ToModel()
	}
	return out
}

// ParseTimestamp parses an ISO 8601 timestamp to UTC.
// Returns the zero time for empty or invalid input.
func ParseTimestamp(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			t, err = time.Parse("2006-01-02", iso)
			if err != nil {
				return time.Time{}
			}
		}
	}

	return t.UTC()
}

package api

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketfeed/internal/model"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"empty", "", time.Time{}},
		{"rfc3339", "2024-01-15T10:00:00Z", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"with offset", "2024-01-15T12:00:00+02:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"fractional", "2024-01-15T10:00:00.5Z", time.Date(2024, 1, 15, 10, 0, 0, 500000000, time.UTC)},
		{"no timezone", "2024-01-15T10:00:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"date only", "2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"garbage", "not-a-date", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAPIMarketToModel(t *testing.T) {
	am := APIMarket{
		ID:          "m1",
		Platform:    "polymarket",
		Title:       "Will it rain?",
		Category:    "weather",
		Status:      "open",
		YesPrice:    decimal.RequireFromString("0.62"),
		NoPrice:     decimal.RequireFromString("0.38"),
		Volume:      decimal.NewFromInt(1000),
		EndDate:     "2024-12-31T00:00:00Z",
		LastUpdated: "2024-01-15T10:00:00Z",
		URL:         "https://example.com/m1",
	}

	m := am.ToModel()

	if m.Key() != (model.Key{Platform: model.PlatformPolymarket, ID: "m1"}) {
		t.Errorf("Key() = %v", m.Key())
	}
	if m.Title != "Will it rain?" {
		t.Errorf("Title = %q", m.Title)
	}
	if !m.YesPrice.Equal(decimal.RequireFromString("0.62")) {
		t.Errorf("YesPrice = %s, want 0.62", m.YesPrice)
	}
	if !m.EndDate.Equal(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EndDate = %v", m.EndDate)
	}
	if !m.UpdatedAt.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", m.UpdatedAt)
	}
}

func TestAPIMarketToModelQuestionFallback(t *testing.T) {
	m := APIMarket{ID: "q", Platform: "manifold", Question: "Q?"}.ToModel()
	if m.Title != "Q?" {
		t.Errorf("Title = %q, want %q", m.Title, "Q?")
	}

	m = APIMarket{ID: "q", Platform: "manifold", Title: "T", Question: "Q?"}.ToModel()
	if m.Title != "T" {
		t.Errorf("Title = %q, want %q", m.Title, "T")
	}
}

func TestToModels(t *testing.T) {
	got := ToModels([]APIMarket{{ID: "a", Platform: "kalshi"}, {ID: "b", Platform: "kalshi"}})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("ToModels = %+v", got)
	}
	if got := ToModels(nil); len(got) != 0 {
		t.Errorf("ToModels(nil) len = %d, want 0", len(got))
	}
}

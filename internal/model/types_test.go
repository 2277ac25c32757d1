package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMarketKey(t *testing.T) {
	m := Market{Platform: PlatformPolymarket, ID: "0xabc"}

	k := m.Key()
	if k.Platform != PlatformPolymarket {
		t.Errorf("Platform = %q, want %q", k.Platform, PlatformPolymarket)
	}
	if k.String() != "polymarket:0xabc" {
		t.Errorf("String() = %q, want %q", k.String(), "polymarket:0xabc")
	}

	// Same ID on another platform is a different market.
	other := Market{Platform: PlatformKalshi, ID: "0xabc"}
	if m.Key() == other.Key() {
		t.Error("keys on different platforms should differ")
	}
}

func TestMarketEqual(t *testing.T) {
	end := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	base := Market{
		Platform: PlatformKalshi,
		ID:       "PRES-2028",
		Title:    "Presidential election",
		YesPrice: decimal.RequireFromString("0.52"),
		NoPrice:  decimal.RequireFromString("0.48"),
		Volume:   decimal.NewFromInt(1000),
		EndDate:  end,
	}

	same := base
	same.YesPrice = decimal.RequireFromString("0.520")
	if !base.Equal(same) {
		t.Error("expected equal markets when decimals differ only in scale")
	}

	changed := base
	changed.Volume = decimal.NewFromInt(1001)
	if base.Equal(changed) {
		t.Error("expected markets with different volume to differ")
	}
}

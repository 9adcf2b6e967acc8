package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"sportsexchange/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRequiredExposure(t *testing.T) {
	tests := []struct {
		name     string
		side     model.Side
		price    string
		stake    string
		expected string
	}{
		{"BACK risks the stake", model.SideBack, "2.50", "100", "100"},
		{"LAY risks liability", model.SideLay, "2.50", "100", "150"},
		{"LAY at odds-on price risks a fraction", model.SideLay, "1.50", "20", "10"},
		{"BACK at any price risks only stake", model.SideBack, "10.00", "5", "5"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RequiredExposure(tc.side, d(tc.price), d(tc.stake))
			if !got.Equal(d(tc.expected)) {
				t.Fatalf("RequiredExposure(%s, %s, %s) = %s, want %s", tc.side, tc.price, tc.stake, got, tc.expected)
			}
		})
	}
}

func TestReleaseOnMatchMatchesRequiredExposureOnMatchedPortion(t *testing.T) {
	// Releasing exposure for a partial fill is just RequiredExposure scaled
	// to the matched stake, not the order's full original stake.
	got := ReleaseOnMatch(model.SideLay, d("3.00"), d("40"))
	want := d("80") // (3.00-1)*40
	if !got.Equal(want) {
		t.Fatalf("ReleaseOnMatch = %s, want %s", got, want)
	}
}

func TestRequiredExposureUnknownSideIsZero(t *testing.T) {
	got := RequiredExposure(model.Side("SPREAD"), d("2.00"), d("50"))
	if !got.IsZero() {
		t.Fatalf("expected zero for unrecognized side, got %s", got)
	}
}

package marketfsm

import (
	"testing"

	"sportsexchange/internal/model"
)

func TestCanTransitionMarket(t *testing.T) {
	tests := []struct {
		from, to model.MarketStatus
		want     bool
	}{
		{model.MarketOpen, model.MarketSuspended, true},
		{model.MarketOpen, model.MarketClosed, true},
		{model.MarketOpen, model.MarketSettled, false},
		{model.MarketSuspended, model.MarketOpen, true},
		{model.MarketSuspended, model.MarketClosed, true},
		{model.MarketClosed, model.MarketSettled, true},
		{model.MarketClosed, model.MarketOpen, false},
		{model.MarketSettled, model.MarketOpen, false},
		{model.MarketSettled, model.MarketClosed, false},
	}
	for _, tc := range tests {
		got := CanTransitionMarket(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransitionMarket(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanPlaceOrder(t *testing.T) {
	if !CanPlaceOrder(model.MarketOpen) {
		t.Error("expected orders to be acceptable while OPEN")
	}
	for _, s := range []model.MarketStatus{model.MarketSuspended, model.MarketClosed, model.MarketSettled} {
		if CanPlaceOrder(s) {
			t.Errorf("expected orders rejected while %s", s)
		}
	}
}

func TestCanTransitionMatch(t *testing.T) {
	tests := []struct {
		from, to model.MatchStatus
		want     bool
	}{
		{model.MatchUpcoming, model.MatchLive, true},
		{model.MatchUpcoming, model.MatchCancelled, true},
		{model.MatchUpcoming, model.MatchCompleted, false},
		{model.MatchLive, model.MatchCompleted, true},
		{model.MatchLive, model.MatchCancelled, true},
		{model.MatchLive, model.MatchUpcoming, false},
		{model.MatchCompleted, model.MatchCancelled, false},
		{model.MatchCancelled, model.MatchLive, false},
	}
	for _, tc := range tests {
		got := CanTransitionMatch(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransitionMatch(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

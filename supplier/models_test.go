package supplier

import "testing"

func TestWinRateAndDisputeRatio(t *testing.T) {
	var p Profile
	if p.WinRate() != 0 || p.DisputeRatio() != 0 {
		t.Fatalf("expected zero ratios for a fresh supplier")
	}

	p = Profile{TotalQuotes: 8, TotalWins: 2, TotalOrders: 2, DisputeCount: 3}
	if got := p.WinRate(); got != 0.25 {
		t.Fatalf("expected win rate 0.25, got %v", got)
	}
	if got := p.DisputeRatio(); got != 1 {
		t.Fatalf("expected dispute ratio capped at 1, got %v", got)
	}
}

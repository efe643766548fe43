package scheduler

import (
	"testing"
	"time"
)

func TestInterval(t *testing.T) {
	tests := []struct {
		tier int
		want time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{3, 8 * time.Minute},
		{10, 1024 * time.Minute},
		{-5, time.Minute},
		{99, 1024 * time.Minute},
	}
	for _, tt := range tests {
		if got := Interval(tt.tier); got != tt.want {
			t.Errorf("Interval(%d) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		name           string
		tier, unmod    int
		newItems, fail bool
		wantTier       int
		wantUnmod      int
	}{
		{"new items heat up", 5, 3, true, false, 4, 0},
		{"new items at floor", 0, 0, true, false, 0, 0},
		{"quiet below threshold", 5, 0, false, false, 5, 1},
		{"quiet reaches threshold", 5, 4, false, false, 6, 0},
		{"low tier threshold is 2", 0, 1, false, false, 1, 0},
		{"tier 1 needs two quiet fetches", 1, 0, false, false, 1, 1},
		{"tier 1 second quiet fetch", 1, 1, false, false, 2, 0},
		{"ceiling holds", 10, 20, false, false, 10, 21},
		{"error adds an extra step", 3, 2, false, true, 5, 0},
		{"error below threshold still backs off", 3, 0, false, true, 4, 1},
		{"error at ceiling", 10, 0, false, true, 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, unmod := Next(tt.tier, tt.unmod, tt.newItems, tt.fail)
			if tier != tt.wantTier || unmod != tt.wantUnmod {
				t.Errorf("Next(%d, %d, %v, %v) = (%d, %d), want (%d, %d)",
					tt.tier, tt.unmod, tt.newItems, tt.fail, tier, unmod, tt.wantTier, tt.wantUnmod)
			}
		})
	}
}

func TestTierEscalationToCeiling(t *testing.T) {
	tier, unmod := 1, 0
	for i := 0; i < 60; i++ {
		tier, unmod = Next(tier, unmod, false, false)
	}
	if tier != MaxTier {
		t.Errorf("sustained quiet fetches should reach tier %d, got %d", MaxTier, tier)
	}
}

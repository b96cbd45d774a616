package syncer

import (
	"math"
	"testing"

	"github.com/hiiliketocode/polycopy-sub006/models"
)

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func floatPtr(v float64) *float64 { return &v }

func TestComputeReduction(t *testing.T) {
	tests := []struct {
		name         string
		prior        *float64
		current      float64
		wantClose    bool
		wantFraction float64
		wantBaseline float64
	}{
		{
			name:         "partial reduction",
			prior:        floatPtr(1000),
			current:      600,
			wantClose:    true,
			wantFraction: 0.4,
			wantBaseline: 600,
		},
		{
			name:         "full exit",
			prior:        floatPtr(250),
			current:      0,
			wantClose:    true,
			wantFraction: 1,
			wantBaseline: 0,
		},
		{
			name:         "tiny reduction still closes proportionally",
			prior:        floatPtr(100),
			current:      99,
			wantClose:    true,
			wantFraction: 0.01,
			wantBaseline: 99,
		},
		{
			name:         "unchanged position records baseline only",
			prior:        floatPtr(500),
			current:      500,
			wantClose:    false,
			wantBaseline: 500,
		},
		{
			name:         "growth moves baseline up without closing",
			prior:        floatPtr(500),
			current:      800,
			wantClose:    false,
			wantBaseline: 800,
		},
		{
			name:         "first observation records baseline",
			prior:        nil,
			current:      300,
			wantClose:    false,
			wantBaseline: 300,
		},
		{
			name:         "first observation with trader already out",
			prior:        nil,
			current:      0,
			wantClose:    true,
			wantFraction: 1,
			wantBaseline: 0,
		},
		{
			name:         "negative reading treated as zero",
			prior:        floatPtr(100),
			current:      -5,
			wantClose:    true,
			wantFraction: 1,
			wantBaseline: 0,
		},
		{
			name:         "NaN reading treated as zero",
			prior:        floatPtr(100),
			current:      math.NaN(),
			wantClose:    true,
			wantFraction: 1,
			wantBaseline: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ComputeReduction(tt.prior, tt.current)
			if d.ShouldClose != tt.wantClose {
				t.Errorf("ShouldClose = %v, want %v", d.ShouldClose, tt.wantClose)
			}
			if tt.wantClose && !floatEquals(d.CloseFraction, tt.wantFraction, 1e-9) {
				t.Errorf("CloseFraction = %v, want %v", d.CloseFraction, tt.wantFraction)
			}
			if !floatEquals(d.NewBaseline, tt.wantBaseline, 1e-9) {
				t.Errorf("NewBaseline = %v, want %v", d.NewBaseline, tt.wantBaseline)
			}
			if !tt.wantClose && d.SkipReason == "" {
				t.Errorf("SkipReason empty for non-closing decision")
			}
		})
	}
}

func TestCloseSize(t *testing.T) {
	tests := []struct {
		name     string
		follower float64
		fraction float64
		want     float64
	}{
		{"forty percent of fifty", 50, 0.4, 20.00},
		{"floors to step", 33.337, 0.5, 16.66},
		{"full close takes entire holding", 75.5, 1, 75.5},
		{"never exceeds follower position", 10, 1.5, 10},
		{"float artifact floors cleanly", 0.1 + 0.2, 1, 0.30},
		{"sub-step result is zero", 0.004, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CloseSize(tt.follower, tt.fraction, 0.01)
			if !floatEquals(got, tt.want, 1e-9) {
				t.Errorf("CloseSize(%v, %v) = %v, want %v", tt.follower, tt.fraction, got, tt.want)
			}
		})
	}
}

func TestClosePrice(t *testing.T) {
	tests := []struct {
		name     string
		market   float64
		side     models.Side
		slippage float64
		tick     float64
		want     float64
	}{
		// Closing a BUY means selling: price shifts down
		{"sell below market", 0.70, models.SideBuy, 2.0, 0.01, 0.69},
		// Closing a SELL means buying back: price shifts up
		{"buy above market", 0.70, models.SideSell, 2.0, 0.01, 0.71},
		{"fine tick keeps more precision", 0.70, models.SideBuy, 2.0, 0.001, 0.686},
		{"clamped to minimum tick", 0.01, models.SideBuy, 50.0, 0.01, 0.01},
		{"clamped below one", 0.99, models.SideSell, 50.0, 0.01, 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClosePrice(tt.market, tt.side, tt.slippage, tt.tick)
			if !floatEquals(got, tt.want, 1e-9) {
				t.Errorf("ClosePrice(%v, %s, %v%%, %v) = %v, want %v",
					tt.market, tt.side, tt.slippage, tt.tick, got, tt.want)
			}
		})
	}
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		price float64
		tick  float64
		want  float64
	}{
		{0.686, 0.01, 0.69},
		{0.684, 0.01, 0.68},
		{0.685, 0.01, 0.69}, // halves round away from zero
		{0.5549, 0.001, 0.555},
		{0.42, 0, 0.42}, // zero tick passes through
	}

	for _, tt := range tests {
		got := RoundToTick(tt.price, tt.tick)
		if !floatEquals(got, tt.want, 1e-9) {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.price, tt.tick, got, tt.want)
		}
	}
}

package indicator

import (
	"math"
	"testing"
)

func TestSMAWindow(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	got, ok := SMA(vals, 3)
	if !ok || got != 4 {
		t.Fatalf("expected SMA(3)=4, got %.2f ok=%v", got, ok)
	}
	if _, ok := SMA(vals, 6); ok {
		t.Fatalf("SMA must report insufficient data for window > len")
	}
}

func TestRollingSMALeadingNaN(t *testing.T) {
	out := RollingSMA([]float64{1, 2, 3, 4}, 3)
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Fatalf("first window-1 entries must be NaN, got %v", out)
	}
	if out[2] != 2 || out[3] != 3 {
		t.Fatalf("unexpected rolling means: %v", out)
	}
}

func TestRSIBounds(t *testing.T) {
	prices := []float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105, 95, 106, 94, 107, 93, 108, 92}
	for _, v := range RSI(prices, 14) {
		if v < 0 || v > 100 {
			t.Fatalf("RSI out of [0,100]: %.4f", v)
		}
	}
}

func TestRSIMonotonicSeriesSaturates(t *testing.T) {
	// 15 strictly increasing closes with period 14: no losses in the seed
	// window, so the seeded entries must all read 100.
	prices := make([]float64, 15)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	out := RSI(prices, 14)
	for i := 0; i < 14; i++ {
		if out[i] != 100 {
			t.Fatalf("seeded RSI[%d] = %.2f, want 100", i, out[i])
		}
	}
	if out[14] != 100 {
		t.Fatalf("RSI after another gain = %.2f, want 100", out[14])
	}
}

func TestRSIShortHistoryNeutral(t *testing.T) {
	out := RSI([]float64{100, 101}, 14)
	for _, v := range out {
		if v != 50 {
			t.Fatalf("short history must read neutral 50, got %.2f", v)
		}
	}
}

func TestMeanReversionScoreNeutralOnShortHistory(t *testing.T) {
	if got := MeanReversionScore([]float64{0.01, -0.01}, 100); got != 0.5 {
		t.Fatalf("expected neutral 0.5, got %.3f", got)
	}
}

func TestMeanReversionScoreAlternatingReturns(t *testing.T) {
	// Perfectly alternating returns have strongly negative lag-1
	// autocorrelation, which should map above 0.5.
	rets := make([]float64, 40)
	for i := range rets {
		if i%2 == 0 {
			rets[i] = 0.01
		} else {
			rets[i] = -0.01
		}
	}
	got := MeanReversionScore(rets, 40)
	if got <= 0.5 {
		t.Fatalf("alternating returns must score mean-reverting, got %.3f", got)
	}
	if got > 1 {
		t.Fatalf("score must stay within [0,1], got %.3f", got)
	}
}

func TestMeanReversionScoreTrendingReturns(t *testing.T) {
	// Identical positive returns have zero variance, a degenerate case that
	// must fall back to neutral rather than divide by zero.
	rets := make([]float64, 40)
	for i := range rets {
		rets[i] = 0.01
	}
	if got := MeanReversionScore(rets, 40); got != 0.5 {
		t.Fatalf("degenerate returns must read neutral, got %.3f", got)
	}
}

func TestBollingerPercentB(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 12}
	b, ok := Bollinger(closes, 10, 2)
	if !ok {
		t.Fatalf("expected bands")
	}
	if b.Upper <= b.Mid || b.Lower >= b.Mid {
		t.Fatalf("bands must straddle the mid: %+v", b)
	}
	pb := PercentB(b.Upper, b)
	if math.Abs(pb-1.0) > 1e-9 {
		t.Fatalf("price at upper band must read %%b=1, got %.4f", pb)
	}
	if PercentB(10, Bands{Mid: 10, Upper: 10, Lower: 10}) != 0.5 {
		t.Fatalf("collapsed bands must read %%b=0.5")
	}
}

func TestAnnualizedVolatility(t *testing.T) {
	rets := []float64{0.01, -0.01, 0.02, -0.02, 0.01, -0.01, 0.02, -0.02, 0.01, -0.01,
		0.02, -0.02, 0.01, -0.01, 0.02, -0.02, 0.01, -0.01, 0.02, -0.02}
	vol := AnnualizedVolatility(rets, 20)
	if vol <= 0 {
		t.Fatalf("expected positive volatility, got %.4f", vol)
	}
	if AnnualizedVolatility(rets[:5], 20) != 0 {
		t.Fatalf("short history must yield zero volatility")
	}
}

package risk

import (
	"math"
	"testing"
	"time"

	"ecotrader/src/market"
)

type memProvider struct {
	data map[string]market.Series
}

func (p *memProvider) Historical(symbol string, days int) (market.Series, error) {
	return p.data[symbol].Tail(days), nil
}

func seriesFromCloses(closes []float64) market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(market.Series, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return out
}

func newTestManager(cfg Config) *Manager {
	return NewManager(&memProvider{data: map[string]market.Series{}}, cfg)
}

// ===============================================================================
// Drawdown
// ===============================================================================

func TestDrawdownTracksPeak(t *testing.T) {
	m := newTestManager(Config{})
	m.UpdateMetrics(100000)
	m.UpdateMetrics(110000)
	metrics := m.UpdateMetrics(99000)
	if metrics.PeakValue != 110000 {
		t.Fatalf("peak must ratchet to 110000, got %.0f", metrics.PeakValue)
	}
	if math.Abs(metrics.CurrentDrawdown-0.1) > 1e-9 {
		t.Fatalf("expected 10%% drawdown, got %.4f", metrics.CurrentDrawdown)
	}
}

func TestDrawdownNeverShrinksPeak(t *testing.T) {
	m := newTestManager(Config{})
	m.UpdateMetrics(100000)
	first := m.UpdateMetrics(95000).CurrentDrawdown
	second := m.UpdateMetrics(90000).CurrentDrawdown
	if second <= first {
		t.Fatalf("deeper trough must mean deeper drawdown: %.4f then %.4f", first, second)
	}
	recovered := m.UpdateMetrics(100000).CurrentDrawdown
	if recovered != 0 {
		t.Fatalf("full recovery must zero the drawdown, got %.4f", recovered)
	}
}

func TestEntryBlockedAtMaxDrawdown(t *testing.T) {
	m := newTestManager(Config{MaxDrawdown: 0.15})
	m.UpdateMetrics(100000)
	ok, reason := m.CheckEntry(84000, nil, "VUSA") // 16% under peak
	if ok {
		t.Fatalf("16%% drawdown must halt entries")
	}
	if reason == "" {
		t.Fatalf("blocked entry must carry a reason")
	}
}

func TestEntryAllowedBelowLimits(t *testing.T) {
	m := newTestManager(Config{})
	if ok, reason := m.CheckEntry(100000, []string{"VUSA"}, "EQQQ"); !ok {
		t.Fatalf("entry should pass: %s", reason)
	}
}

func TestEntryBlockedAtPositionCap(t *testing.T) {
	m := newTestManager(Config{MaxPositions: 3})
	ok, _ := m.CheckEntry(100000, []string{"VUSA", "EQQQ", "IWDA"}, "CSPX")
	if ok {
		t.Fatalf("fourth position must be rejected at cap 3")
	}
}

// ===============================================================================
// Correlation
// ===============================================================================

func TestCorrelationCeilingBlocksTwin(t *testing.T) {
	// Identical return streams correlate at 1.0, an inverted twin at -1.0.
	// The ceiling applies to the absolute value, so both must be rejected.
	up := make([]float64, 40)
	down := make([]float64, 40)
	p1 := 100.0
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			p1 *= 1.01
		} else {
			p1 *= 0.99
		}
		up[i] = p1
		down[i] = 20000 / p1
	}
	provider := &memProvider{data: map[string]market.Series{
		"A": seriesFromCloses(up),
		"B": seriesFromCloses(up),
		"C": seriesFromCloses(down),
	}}
	m := NewManager(provider, Config{})
	if err := m.UpdateCorrelations([]string{"A", "B", "C"}, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := m.CheckEntry(100000, []string{"A"}, "B"); ok {
		t.Fatalf("perfectly correlated entry must be rejected")
	}
	if ok, _ := m.CheckEntry(100000, []string{"A"}, "C"); ok {
		t.Fatalf("perfectly anti-correlated entry must be rejected too")
	}
}

func TestUnknownCorrelationPasses(t *testing.T) {
	m := newTestManager(Config{})
	if ok, reason := m.CheckEntry(100000, []string{"VUSA"}, "EQQQ"); !ok {
		t.Fatalf("no matrix means no rejection, got %s", reason)
	}
}

// ===============================================================================
// Sizing
// ===============================================================================

func TestVolatilitySizingRespectsBounds(t *testing.T) {
	m := newTestManager(Config{SizingMethod: SizeVolatility})
	size := m.PositionSize(SizeRequest{Symbol: "VUSA", Price: 80, Volatility: 0.2, PortfolioValue: 100000})
	if size < 1 {
		t.Fatalf("size must be at least one share, got %d", size)
	}
	if float64(size)*80 > 100000*0.2 {
		t.Fatalf("position value %d*80 exceeds 20%% cap", size)
	}
}

func TestSizingShrinksUnderDrawdown(t *testing.T) {
	m := newTestManager(Config{SizingMethod: SizeEqual})
	req := SizeRequest{Symbol: "VUSA", Price: 50, Volatility: 0.2, PortfolioValue: 100000}
	full := m.PositionSize(req)

	m.UpdateMetrics(100000)
	m.UpdateMetrics(90000) // 10% drawdown
	req.PortfolioValue = 90000
	reduced := m.PositionSize(req)
	if reduced >= full {
		t.Fatalf("drawdown must shrink sizes: %d then %d", full, reduced)
	}
}

func TestKellySizingUsesWinRate(t *testing.T) {
	m := newTestManager(Config{SizingMethod: SizeKelly})
	base := SizeRequest{Symbol: "VUSA", Price: 100, Volatility: 0.2, PortfolioValue: 100000}

	coin := base
	coin.WinRate = 0.5
	hot := base
	hot.WinRate = 0.7
	if m.PositionSize(hot) <= m.PositionSize(coin) {
		t.Fatalf("higher win rate must size larger")
	}

	cold := base
	cold.WinRate = 0.2
	if got := m.PositionSize(cold); got != 1 {
		t.Fatalf("negative edge must fall to the one-share floor, got %d", got)
	}
}

func TestSizingDegenerateInputs(t *testing.T) {
	m := newTestManager(Config{})
	if got := m.PositionSize(SizeRequest{Price: 100, Volatility: 0.2, PortfolioValue: 0}); got != 1 {
		t.Fatalf("zero portfolio must size one share, got %d", got)
	}
	if got := m.PositionSize(SizeRequest{Price: 0, Volatility: 0.2, PortfolioValue: 100000}); got != 1 {
		t.Fatalf("zero price must size one share, got %d", got)
	}
}

// ===============================================================================
// Stops and exits
// ===============================================================================

func TestTrailingStopRatchet(t *testing.T) {
	m := newTestManager(Config{})
	first := m.TrailingStop("VUSA", 100, 100)
	if math.Abs(first-95) > 1e-9 {
		t.Fatalf("initial stop must sit 5%% under entry, got %.2f", first)
	}
	raised := m.TrailingStop("VUSA", 120, 100)
	if math.Abs(raised-114) > 1e-9 {
		t.Fatalf("stop must follow price up to 114, got %.2f", raised)
	}
	held := m.TrailingStop("VUSA", 105, 100)
	if held != raised {
		t.Fatalf("stop must never move down: %.2f after %.2f", held, raised)
	}
}

func TestShouldExitPriority(t *testing.T) {
	m := newTestManager(Config{})
	pos := ExitCheck{EntryPrice: 100, EntryVolatility: 0.2, CurrentVolatility: 0.2, DaysHeld: 5}

	if exit, _ := m.ShouldExit("VUSA", 100, pos); exit {
		t.Fatalf("healthy position must stay open")
	}

	// Price collapsing through the stop wins over everything else.
	m.TrailingStop("VUSA", 120, 100)
	exit, reason := m.ShouldExit("VUSA", 96, pos)
	if !exit || reason != ExitTrailingStop {
		t.Fatalf("expected trailing stop exit, got %v %q", exit, reason)
	}
	m.ClearStop("VUSA")

	old := pos
	old.DaysHeld = 31
	exit, reason = m.ShouldExit("EQQQ", 100, old)
	if !exit || reason != ExitTimeLimit {
		t.Fatalf("expected time exit after 30 days, got %v %q", exit, reason)
	}
	m.ClearStop("EQQQ")

	exit, reason = m.ShouldExit("IWDA", 120, pos)
	if !exit || reason != ExitProfitTarget {
		t.Fatalf("expected profit target at +20%%, got %v %q", exit, reason)
	}
	m.ClearStop("IWDA")

	spiked := pos
	spiked.CurrentVolatility = 0.45
	exit, reason = m.ShouldExit("CSPX", 100, spiked)
	if !exit || reason != ExitVolSpike {
		t.Fatalf("expected volatility spike exit, got %v %q", exit, reason)
	}
}

func TestClearStopResetsSeed(t *testing.T) {
	m := newTestManager(Config{})
	m.TrailingStop("VUSA", 200, 100)
	m.TrailingStop("VUSA", 200, 100) // second call ratchets to 190
	m.ClearStop("VUSA")
	fresh := m.TrailingStop("VUSA", 100, 100)
	if math.Abs(fresh-95) > 1e-9 {
		t.Fatalf("re-entry must seed a fresh stop at 95, got %.2f", fresh)
	}
}

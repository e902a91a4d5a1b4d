package risk

import (
	"fmt"
	"math"

	"ecotrader/src/indicator"
	"ecotrader/src/strategy"
)

// ===============================================================================
// Configuration
// ===============================================================================

// Sizing method names accepted by Config.SizingMethod.
const (
	SizeVolatility = "volatility"
	SizeEqual      = "equal"
	SizeKelly      = "kelly"
)

type Config struct {
	// MaxPortfolioRisk is the fraction of portfolio value put at risk by a
	// single trade.
	MaxPortfolioRisk float64 `yaml:"max_portfolio_risk"`
	// MaxDrawdown halts new entries once the peak-to-trough loss reaches it.
	MaxDrawdown float64 `yaml:"max_drawdown"`
	// MaxCorrelation rejects entries too correlated with an open position.
	MaxCorrelation float64 `yaml:"max_correlation"`
	MaxPositions   int     `yaml:"max_positions"`
	SizingMethod   string  `yaml:"sizing_method"`
}

func (c Config) withDefaults() Config {
	if c.MaxPortfolioRisk <= 0 {
		c.MaxPortfolioRisk = 0.02
	}
	if c.MaxDrawdown <= 0 {
		c.MaxDrawdown = 0.15
	}
	if c.MaxCorrelation <= 0 {
		c.MaxCorrelation = 0.7
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 3
	}
	switch c.SizingMethod {
	case SizeVolatility, SizeEqual, SizeKelly:
	default:
		c.SizingMethod = SizeVolatility
	}
	return c
}

// ===============================================================================
// Manager
// ===============================================================================

// Manager enforces portfolio-level limits: drawdown scaling, a position
// count cap, and a pairwise correlation ceiling. It also owns trailing
// stops and the multi-criteria exit check for open positions.
type Manager struct {
	provider strategy.DataProvider
	cfg      Config

	peakValue       float64
	currentDrawdown float64
	correlations    map[string]map[string]float64
	trailingStops   map[string]float64
}

func NewManager(provider strategy.DataProvider, cfg Config) *Manager {
	return &Manager{
		provider:      provider,
		cfg:           cfg.withDefaults(),
		trailingStops: make(map[string]float64),
	}
}

func (m *Manager) Config() Config { return m.cfg }

// Metrics is the drawdown snapshot taken at the top of every cycle.
type Metrics struct {
	CurrentValue    float64 `json:"current_value"`
	PeakValue       float64 `json:"peak_value"`
	CurrentDrawdown float64 `json:"current_drawdown"`
}

// UpdateMetrics ratchets the peak value and recomputes the drawdown from
// it. Call once per cycle before any entry checks.
func (m *Manager) UpdateMetrics(totalValue float64) Metrics {
	if totalValue > m.peakValue {
		m.peakValue = totalValue
	}
	if m.peakValue > 0 {
		m.currentDrawdown = (m.peakValue - totalValue) / m.peakValue
	}
	return Metrics{
		CurrentValue:    totalValue,
		PeakValue:       m.peakValue,
		CurrentDrawdown: m.currentDrawdown,
	}
}

func (m *Manager) CurrentDrawdown() float64 { return m.currentDrawdown }

// drawdownFactor scales position sizes down as losses deepen, floored at
// 0.2 so the book never sizes to zero while trading is still allowed.
func (m *Manager) drawdownFactor() float64 {
	if m.currentDrawdown <= 0 {
		return 1
	}
	return math.Max(0.2, 1-m.currentDrawdown/m.cfg.MaxDrawdown)
}

// ===============================================================================
// Entry checks
// ===============================================================================

// CheckEntry reports whether a new position in symbol is currently allowed.
// The reason string names the limit that blocked it.
func (m *Manager) CheckEntry(totalValue float64, openSymbols []string, symbol string) (bool, string) {
	metrics := m.UpdateMetrics(totalValue)
	if metrics.CurrentDrawdown >= m.cfg.MaxDrawdown {
		return false, fmt.Sprintf("max drawdown reached: %.1f%%", metrics.CurrentDrawdown*100)
	}
	if len(openSymbols) >= m.cfg.MaxPositions {
		return false, fmt.Sprintf("position cap reached: %d", len(openSymbols))
	}
	if ok, against := m.correlationOK(symbol, openSymbols); !ok {
		return false, fmt.Sprintf("correlation with %s above limit", against)
	}
	return true, ""
}

// UpdateCorrelations refreshes the pairwise return-correlation matrix for
// the basket. Symbols with fewer than 11 bars are left out; with fewer than
// two usable series the matrix is cleared and every entry passes the
// correlation check.
func (m *Manager) UpdateCorrelations(symbols []string, lookbackDays int) error {
	if lookbackDays <= 0 {
		lookbackDays = 60
	}
	returns := make(map[string][]float64)
	minLen := math.MaxInt32
	for _, sym := range symbols {
		series, err := m.provider.Historical(sym, lookbackDays)
		if err != nil {
			return fmt.Errorf("correlation history for %s: %w", sym, err)
		}
		if len(series) <= 10 {
			continue
		}
		r := series.Returns()
		returns[sym] = r
		if len(r) < minLen {
			minLen = len(r)
		}
	}
	if len(returns) < 2 {
		m.correlations = nil
		return nil
	}

	// Align on the shared trailing window so every pair compares the same
	// number of observations.
	matrix := make(map[string]map[string]float64, len(returns))
	for a, ra := range returns {
		matrix[a] = make(map[string]float64, len(returns))
		for b, rb := range returns {
			matrix[a][b] = pearson(ra[len(ra)-minLen:], rb[len(rb)-minLen:])
		}
	}
	m.correlations = matrix
	return nil
}

// correlationOK applies the ceiling against every open position. Unknown
// pairs pass: with no matrix there is nothing to reject on.
func (m *Manager) correlationOK(symbol string, openSymbols []string) (bool, string) {
	row, ok := m.correlations[symbol]
	if !ok {
		return true, ""
	}
	for _, open := range openSymbols {
		c, ok := row[open]
		if !ok {
			continue
		}
		if math.Abs(c) > m.cfg.MaxCorrelation {
			return false, open
		}
	}
	return true, ""
}

// ===============================================================================
// Position sizing
// ===============================================================================

// SizeRequest carries everything sizing needs. WinRate is the caller's
// realized hit rate for the symbol; pass 0 when there is no history and the
// Kelly path assumes an even coin.
type SizeRequest struct {
	Symbol         string
	Price          float64
	Volatility     float64
	PortfolioValue float64
	WinRate        float64
}

// PositionSize returns the share count for a new entry under the
// configured method, scaled by the drawdown factor and clamped to at most
// 20% of portfolio value, never below one share.
func (m *Manager) PositionSize(req SizeRequest) int {
	if req.PortfolioValue <= 0 || req.Price <= 0 {
		return 1
	}
	factor := m.drawdownFactor()
	riskPerTrade := req.PortfolioValue * m.cfg.MaxPortfolioRisk * factor / float64(m.cfg.MaxPositions)

	var size int
	switch m.cfg.SizingMethod {
	case SizeEqual:
		value := req.PortfolioValue / float64(m.cfg.MaxPositions) * factor
		size = int(value / req.Price)

	case SizeKelly:
		winRate := req.WinRate
		if winRate <= 0 {
			winRate = 0.5
		}
		const rewardRisk = 2.0
		kelly := math.Max(0, winRate-(1-winRate)/rewardRisk)
		// Full Kelly overbets badly on estimated edges, trade half.
		kelly *= 0.5
		size = int(req.PortfolioValue * kelly * factor / req.Price)

	default: // volatility
		daily := req.Volatility / math.Sqrt(indicator.TradingDaysPerYear)
		stopPct := math.Max(0.02, daily*2)
		stopAmount := req.Price * stopPct
		if stopAmount <= 0 {
			size = int(riskPerTrade / (req.Price * daily * 3))
		} else {
			size = int(riskPerTrade / stopAmount)
		}
	}

	maxShares := int(req.PortfolioValue * 0.2 / req.Price)
	if size > maxShares {
		size = maxShares
	}
	if size < 1 {
		size = 1
	}
	return size
}

// ===============================================================================
// Stops and exits
// ===============================================================================

// TrailingStop seeds the stop 5% under the entry price and afterwards
// ratchets it to 95% of the highest price seen. It never moves down.
func (m *Manager) TrailingStop(symbol string, price, entryPrice float64) float64 {
	stop, ok := m.trailingStops[symbol]
	if !ok {
		anchor := entryPrice
		if anchor <= 0 {
			anchor = price
		}
		stop = anchor * 0.95
		m.trailingStops[symbol] = stop
		return stop
	}
	if next := price * 0.95; next > stop {
		stop = next
		m.trailingStops[symbol] = stop
	}
	return stop
}

// ClearStop forgets the trailing stop after a position closes, so a re-entry
// seeds a fresh one.
func (m *Manager) ClearStop(symbol string) {
	delete(m.trailingStops, symbol)
}

// ExitCheck describes an open long position for ShouldExit.
type ExitCheck struct {
	EntryPrice        float64
	EntryVolatility   float64
	CurrentVolatility float64
	DaysHeld          int
}

// Exit reasons returned by ShouldExit.
const (
	ExitTrailingStop = "trailing stop triggered"
	ExitTimeLimit    = "time-based exit"
	ExitProfitTarget = "profit target reached"
	ExitVolSpike     = "volatility spike"
)

// ShouldExit evaluates the exit criteria in fixed priority order: trailing
// stop, 30-day holding limit, 20% profit target, then a doubling of
// volatility since entry.
func (m *Manager) ShouldExit(symbol string, price float64, pos ExitCheck) (bool, string) {
	stop := m.TrailingStop(symbol, price, pos.EntryPrice)
	if price < stop {
		return true, ExitTrailingStop
	}
	if pos.DaysHeld > 30 {
		return true, ExitTimeLimit
	}
	entry := pos.EntryPrice
	if entry <= 0 {
		entry = price
	}
	if price >= entry*1.2 {
		return true, ExitProfitTarget
	}
	if pos.EntryVolatility > 0 && pos.CurrentVolatility > pos.EntryVolatility*2 {
		return true, ExitVolSpike
	}
	return false, ""
}

// pearson is the sample correlation of two equal-length series. Degenerate
// series (zero variance) read as zero.
func pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0
	}
	var mx, my float64
	for i := 0; i < n; i++ {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

package backtest

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"ecotrader/src/indicator"
	"ecotrader/src/market"
	"ecotrader/src/portfolio"
	"ecotrader/src/risk"
	"ecotrader/src/strategy"
)

// warmupDays are skipped at the start of every replay so the indicator
// windows are filled before the first signal is taken.
const warmupDays = 20

// ===============================================================================
// Replay data provider
// ===============================================================================

// ReplayProvider serves the loaded history truncated at a moving cutoff.
// The engine advances the cutoff one trading day at a time, so a strategy
// asking for history can never see a bar past the replay cursor.
type ReplayProvider struct {
	data   map[string]market.Series
	cutoff time.Time
}

func NewReplayProvider(data map[string]market.Series) *ReplayProvider {
	return &ReplayProvider{data: data}
}

func (p *ReplayProvider) SetCutoff(date time.Time) { p.cutoff = date }

func (p *ReplayProvider) Historical(symbol string, days int) (market.Series, error) {
	series, ok := p.data[symbol]
	if !ok {
		return nil, nil
	}
	return series.TruncateTo(p.cutoff).Tail(days), nil
}

// ===============================================================================
// Position sizing
// ===============================================================================

// Sizer converts a signal into a share count given the free cash.
type Sizer interface {
	Size(cash float64, sig strategy.Signal) int
}

// VolatilitySizer risks a fixed fraction of cash per trade against a tenth
// of the signal's annualized volatility. Signals without a volatility
// estimate fall back to a flat share count.
type VolatilitySizer struct {
	RiskFraction float64
	MaxShares    int
	FlatShares   int
}

func NewVolatilitySizer() *VolatilitySizer {
	return &VolatilitySizer{RiskFraction: 0.01, MaxShares: 1000, FlatShares: 100}
}

func (s *VolatilitySizer) Size(cash float64, sig strategy.Signal) int {
	if sig.Volatility <= 0 || sig.Price <= 0 {
		return s.FlatShares
	}
	targetRisk := cash * s.RiskFraction
	qty := int(targetRisk / (sig.Price * sig.Volatility * 0.1))
	if qty < 1 {
		qty = 1
	}
	if qty > s.MaxShares {
		qty = s.MaxShares
	}
	return qty
}

// RiskSizer adapts the risk manager's position sizing to the replay engine,
// so a backtest can exercise the same sizing rules the live loop uses.
type RiskSizer struct {
	Manager *risk.Manager
}

func (s RiskSizer) Size(cash float64, sig strategy.Signal) int {
	return s.Manager.PositionSize(risk.SizeRequest{
		Price:          sig.Price,
		Volatility:     sig.Volatility,
		PortfolioValue: cash,
		WinRate:        0.5,
	})
}

// ===============================================================================
// Engine
// ===============================================================================

type Config struct {
	Days           int     `yaml:"days"`
	InitialCapital float64 `yaml:"initial_capital"`
}

func (c Config) withDefaults() Config {
	if c.Days <= 0 {
		c.Days = 252
	}
	if c.InitialCapital <= 0 {
		c.InitialCapital = 100000
	}
	return c
}

// Engine replays loaded daily history bar by bar against one or more
// strategies. Each strategy gets a fresh book; signals fire on the close
// of the day they appear, long entries only when flat and fully cash
// covered, sell signals flatten the whole position.
type Engine struct {
	data     map[string]market.Series
	provider *ReplayProvider
	sizer    Sizer
	cfg      Config
}

func NewEngine(data map[string]market.Series, cfg Config) *Engine {
	return &Engine{
		data:     data,
		provider: NewReplayProvider(data),
		sizer:    NewVolatilitySizer(),
		cfg:      cfg.withDefaults(),
	}
}

// Provider exposes the replay provider so strategy factories can bind to it.
func (e *Engine) Provider() *ReplayProvider { return e.provider }

// SetSizer swaps the position sizing rule used for entries.
func (e *Engine) SetSizer(s Sizer) {
	if s != nil {
		e.sizer = s
	}
}

// Result is one strategy's replay outcome.
type Result struct {
	Strategy    string            `json:"strategy"`
	Symbols     []string          `json:"symbols"`
	Days        int               `json:"days"`
	EquityCurve []float64         `json:"equity_curve"`
	Trades      []portfolio.Trade `json:"trades"`
	Metrics     Metrics           `json:"metrics"`
}

// Run replays the common date range against a single strategy.
func (e *Engine) Run(name string, strat strategy.Strategy) (*Result, error) {
	symbols := make([]string, 0, len(e.data))
	for sym := range e.data {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	dates := market.CommonDates(e.data)
	if len(dates) == 0 {
		return nil, fmt.Errorf("backtest %s: no common dates across symbols", name)
	}
	if len(dates) > e.cfg.Days {
		dates = dates[len(dates)-e.cfg.Days:]
	}

	book := portfolio.NewBook(e.cfg.InitialCapital, 0, 0)
	equity := []float64{e.cfg.InitialCapital}

	for i, date := range dates {
		if i < warmupDays {
			continue
		}
		e.provider.SetCutoff(date)

		signals, err := strat.Signals(symbols)
		if err != nil {
			return nil, fmt.Errorf("backtest %s at %s: %w", name, date.Format("2006-01-02"), err)
		}

		// Map order is random; apply fills in symbol order so replays of
		// the same data produce identical books.
		for _, sym := range sortedKeys(signals) {
			sig := signals[sym]
			switch sig.Action {
			case strategy.ActionBuy:
				if book.Position(sym) != nil {
					continue
				}
				qty := e.sizer.Size(book.Cash(), sig)
				if float64(qty)*sig.Price > book.Cash() {
					continue
				}
				if _, err := book.Open(sym, portfolio.Long, qty, sig.Price, sig.Volatility, date); err != nil {
					log.Printf("backtest %s: open %s: %v", name, sym, err)
				}
			case strategy.ActionSell:
				if book.Position(sym) == nil {
					continue
				}
				if _, err := book.Close(sym, sig.Price, date, "signal"); err != nil {
					log.Printf("backtest %s: close %s: %v", name, sym, err)
				}
			}
		}

		for _, sym := range book.OpenSymbols() {
			if px, ok := closeOn(e.data[sym], date); ok {
				book.Mark(sym, px)
			}
		}
		equity = append(equity, book.TotalValue())
	}

	return &Result{
		Strategy:    name,
		Symbols:     symbols,
		Days:        e.cfg.Days,
		EquityCurve: equity,
		Trades:      book.Trades(),
		Metrics:     computeMetrics(equity, book.Trades()),
	}, nil
}

// RunAll replays every named strategy over the same data and returns the
// results keyed by strategy name.
func (e *Engine) RunAll(strategies map[string]strategy.Strategy) (map[string]*Result, error) {
	results := make(map[string]*Result, len(strategies))
	for _, name := range sortedStratKeys(strategies) {
		res, err := e.Run(name, strategies[name])
		if err != nil {
			return nil, err
		}
		results[name] = res
	}
	return results, nil
}

// StandardStrategies builds the five stock configurations against the
// given provider, the same lineup the live bot can run.
func StandardStrategies(provider strategy.DataProvider, shortPeriod, longPeriod, lookback int) map[string]strategy.Strategy {
	members := []strategy.Strategy{
		strategy.NewMovingAverageCrossover(provider, shortPeriod, longPeriod),
		strategy.NewEnhancedMovingAverage(provider, shortPeriod, longPeriod),
		strategy.NewVolatilityBreakout(provider, lookback),
		strategy.NewMeanReversion(provider),
	}
	return map[string]strategy.Strategy{
		"MovingAverage": members[0],
		"EnhancedMA":    members[1],
		"Volatility":    members[2],
		"MeanReversion": members[3],
		"Ensemble":      strategy.NewEnsemble(members, []float64{0.1, 0.3, 0.3, 0.3}),
	}
}

// closeOn returns the close of the bar at exactly `date`.
func closeOn(series market.Series, date time.Time) (float64, bool) {
	truncated := series.TruncateTo(date)
	last, ok := truncated.Last()
	if !ok || !last.Date.Equal(date) {
		return 0, false
	}
	return last.Close, true
}

func sortedKeys(m map[string]strategy.Signal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStratKeys(m map[string]strategy.Strategy) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ===============================================================================
// Metrics
// ===============================================================================

// Metrics summarizes a replay equity curve and trade log.
type Metrics struct {
	InitialCapital    float64 `json:"initial_capital"`
	FinalValue        float64 `json:"final_value"`
	TotalReturnPct    float64 `json:"total_return_pct"`
	AnnualReturnPct   float64 `json:"annual_return_pct"`
	VolatilityPct     float64 `json:"volatility_pct"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	WinRatePct        float64 `json:"win_rate_pct"`
	TradeCount        int     `json:"trade_count"`
	TotalProfit       float64 `json:"total_profit"`
	AvgProfitPerTrade float64 `json:"avg_profit_per_trade"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	ProfitFactor      float64 `json:"profit_factor"`
}

// MarshalJSON keeps an infinite profit factor (wins with zero losses)
// encodable by writing it as the string "inf".
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	out := struct {
		alias
		ProfitFactor any `json:"profit_factor"`
	}{alias: alias(m), ProfitFactor: m.ProfitFactor}
	if math.IsInf(m.ProfitFactor, 0) {
		out.ProfitFactor = "inf"
	}
	return json.Marshal(out)
}

func computeMetrics(equity []float64, trades []portfolio.Trade) Metrics {
	m := Metrics{}
	if len(equity) < 2 {
		return m
	}
	initial, final := equity[0], equity[len(equity)-1]
	m.InitialCapital = initial
	m.FinalValue = final
	m.TotalReturnPct = (final - initial) / initial * 100

	days := len(equity) - 1
	m.AnnualReturnPct = (math.Pow(final/initial, indicator.TradingDaysPerYear/float64(days)) - 1) * 100

	returns := make([]float64, 0, days)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			returns = append(returns, equity[i]/equity[i-1]-1)
		}
	}
	if std, ok := indicator.Std(returns, len(returns)); ok && std > 0 {
		mean := 0.0
		for _, r := range returns {
			mean += r
		}
		mean /= float64(len(returns))
		m.VolatilityPct = std * math.Sqrt(indicator.TradingDaysPerYear) * 100
		m.SharpeRatio = mean * indicator.TradingDaysPerYear / (std * math.Sqrt(indicator.TradingDaysPerYear))
	}

	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (v - peak) / peak * 100
			if dd < m.MaxDrawdownPct {
				m.MaxDrawdownPct = dd
			}
		}
	}

	m.TradeCount = len(trades)
	var wins, winSum, lossSum, lossCount float64
	for _, t := range trades {
		if t.EntryPrice == 0 {
			continue // opening fill, no realized result yet
		}
		m.TotalProfit += t.Realized
		if t.Realized > 0 {
			wins++
			winSum += t.Realized
		} else {
			lossCount++
			lossSum += t.Realized
		}
	}
	if m.TradeCount > 0 {
		m.WinRatePct = wins / float64(m.TradeCount) * 100
		m.AvgProfitPerTrade = m.TotalProfit / float64(m.TradeCount)
	}
	if wins > 0 {
		m.AvgWin = winSum / wins
	}
	if lossCount > 0 {
		m.AvgLoss = lossSum / lossCount
	}
	switch {
	case m.TradeCount == 0:
		m.ProfitFactor = 0
	case lossSum == 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = math.Abs(winSum / lossSum)
	}
	return m
}

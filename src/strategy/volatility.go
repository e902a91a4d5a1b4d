package strategy

import (
	"fmt"
	"math"

	"ecotrader/src/indicator"
)

// VolatilityBreakout trades closes that punch through a volatility band
// drawn around the rolling mean. The band half-width scales with the
// annualized volatility brought back to a daily figure, so quiet markets
// get tight bands and noisy ones wide bands.
type VolatilityBreakout struct {
	provider DataProvider
	factor   float64
	lookback int
}

func NewVolatilityBreakout(provider DataProvider, lookback int) *VolatilityBreakout {
	if lookback <= 1 {
		lookback = 20
	}
	return &VolatilityBreakout{provider: provider, factor: 2.0, lookback: lookback}
}

func (s *VolatilityBreakout) Name() string { return "VolatilityBreakout" }

func (s *VolatilityBreakout) Signals(symbols []string) (map[string]Signal, error) {
	signals := make(map[string]Signal)
	for _, sym := range symbols {
		series, err := s.provider.Historical(sym, s.lookback+10)
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", sym, err)
		}
		if len(series) < s.lookback+2 {
			continue
		}

		closes := series.Closes()
		sma := indicator.RollingSMA(closes, s.lookback)
		vol := rollingAnnualVol(series.Returns(), s.lookback)

		last, prev := len(closes)-1, len(closes)-2
		upper := func(i int) float64 { return sma[i] + bandWidth(closes[i], vol[i-1], s.factor) }
		lower := func(i int) float64 { return sma[i] - bandWidth(closes[i], vol[i-1], s.factor) }

		var action Action
		switch {
		case closes[prev] <= upper(prev) && closes[last] > upper(last):
			action = ActionBuy
		case closes[prev] >= lower(prev) && closes[last] < lower(last):
			action = ActionSell
		default:
			continue
		}
		signals[sym] = Signal{
			Action:     action,
			Price:      closes[last],
			Volatility: vol[last-1],
			Confidence: 1,
			Reason:     "volatility band break",
		}
	}
	return signals, nil
}

// bandWidth converts annualized volatility into a price-space half-width
// for a single day.
func bandWidth(price, annualVol, factor float64) float64 {
	if math.IsNaN(annualVol) {
		return math.NaN()
	}
	return price * annualVol * factor / math.Sqrt(indicator.TradingDaysPerYear)
}

// rollingAnnualVol is the rolling sample std of returns scaled to annual.
// The slice is aligned to the returns, one element shorter than the bars.
func rollingAnnualVol(returns []float64, window int) []float64 {
	out := indicator.RollingStd(returns, window)
	for i, v := range out {
		if !math.IsNaN(v) {
			out[i] = v * math.Sqrt(indicator.TradingDaysPerYear)
		}
	}
	return out
}

package strategy

import (
	"fmt"
	"math"

	"ecotrader/src/indicator"
	"ecotrader/src/market"
)

// ===============================================================================
// Signal model
// ===============================================================================

// Action is the direction a strategy wants to trade.
type Action string

const (
	ActionNone Action = "NONE"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Signal is one strategy's verdict for one symbol on the current bar.
type Signal struct {
	Action     Action  `json:"action"`
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// DataProvider hands strategies their price history. The backtest engine
// substitutes a truncated provider here so a strategy can never observe a
// bar past the replay cursor.
type DataProvider interface {
	Historical(symbol string, days int) (market.Series, error)
}

// Strategy evaluates a basket of symbols and returns at most one signal per
// symbol. Symbols with insufficient history are skipped silently; provider
// failures surface as the returned error.
type Strategy interface {
	Name() string
	Signals(symbols []string) (map[string]Signal, error)
}

// ===============================================================================
// Moving average crossover
// ===============================================================================

// MovingAverageCrossover emits BUY when the short SMA crosses above the long
// SMA between the previous and the latest bar, SELL on the opposite cross.
type MovingAverageCrossover struct {
	provider DataProvider
	short    int
	long     int
}

func NewMovingAverageCrossover(provider DataProvider, short, long int) *MovingAverageCrossover {
	if short <= 0 {
		short = 5
	}
	if long <= short {
		long = 20
	}
	return &MovingAverageCrossover{provider: provider, short: short, long: long}
}

func (s *MovingAverageCrossover) Name() string { return "MovingAverageCrossover" }

func (s *MovingAverageCrossover) Signals(symbols []string) (map[string]Signal, error) {
	signals := make(map[string]Signal)
	for _, sym := range symbols {
		series, err := s.provider.Historical(sym, s.long+10)
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", sym, err)
		}
		if len(series) < s.long+2 {
			continue
		}
		closes := series.Closes()
		shortMA := indicator.RollingSMA(closes, s.short)
		longMA := indicator.RollingSMA(closes, s.long)
		last, prev := len(closes)-1, len(closes)-2

		var action Action
		switch {
		case shortMA[prev] <= longMA[prev] && shortMA[last] > longMA[last]:
			action = ActionBuy
		case shortMA[prev] >= longMA[prev] && shortMA[last] < longMA[last]:
			action = ActionSell
		default:
			continue
		}
		signals[sym] = Signal{
			Action:     action,
			Price:      closes[last],
			Volatility: seriesVolatility(series),
			Confidence: 1,
			Reason:     fmt.Sprintf("sma%d/%d cross", s.short, s.long),
		}
	}
	return signals, nil
}

// ===============================================================================
// Enhanced moving average
// ===============================================================================

// Market regime labels used by the enhanced strategy's RSI filter.
const (
	regimeTrending   = "trending"
	regimeRangeBound = "range_bound"
	regimeUnknown    = "unknown"
)

// EnhancedMovingAverage is the crossover strategy with three confirmation
// layers on top: minimum MA spread, a volume surge requirement, and an RSI
// filter that only engages in range-bound markets.
type EnhancedMovingAverage struct {
	provider          DataProvider
	short             int
	long              int
	volumeFactor      float64
	strengthThreshold float64
	rsiPeriod         int
	regimeLookback    int
}

func NewEnhancedMovingAverage(provider DataProvider, short, long int) *EnhancedMovingAverage {
	if short <= 0 {
		short = 5
	}
	if long <= short {
		long = 20
	}
	return &EnhancedMovingAverage{
		provider:          provider,
		short:             short,
		long:              long,
		volumeFactor:      1.5,
		strengthThreshold: 0.01,
		rsiPeriod:         14,
		regimeLookback:    50,
	}
}

func (s *EnhancedMovingAverage) Name() string { return "EnhancedMovingAverage" }

func (s *EnhancedMovingAverage) Signals(symbols []string) (map[string]Signal, error) {
	need := s.long
	if s.regimeLookback > need {
		need = s.regimeLookback
	}
	need += 20

	signals := make(map[string]Signal)
	for _, sym := range symbols {
		series, err := s.provider.Historical(sym, need)
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", sym, err)
		}
		if len(series) < s.long+2 {
			continue
		}

		closes := series.Closes()
		shortMA := indicator.RollingSMA(closes, s.short)
		longMA := indicator.RollingSMA(closes, s.long)
		last, prev := len(closes)-1, len(closes)-2

		var action Action
		switch {
		case shortMA[prev] <= longMA[prev] && shortMA[last] > longMA[last]:
			action = ActionBuy
		case shortMA[prev] >= longMA[prev] && shortMA[last] < longMA[last]:
			action = ActionSell
		default:
			continue
		}

		// Spread between the averages as a percentage of price. A cross
		// with near-zero separation is noise, not a trade.
		maDiff := (shortMA[last] - longMA[last]) / closes[last] * 100
		if math.Abs(maDiff) < s.strengthThreshold {
			continue
		}
		if !volumeConfirmed(series, s.volumeFactor) {
			continue
		}

		regime := detectRegime(series, s.regimeLookback)
		rsi := indicator.RSILast(closes, s.rsiPeriod)
		switch {
		case regime == regimeTrending:
			// Trends override the RSI filter.
		case regime == regimeRangeBound && action == ActionBuy && rsi < 70:
		case regime == regimeRangeBound && action == ActionSell && rsi > 30:
		default:
			continue
		}

		signals[sym] = Signal{
			Action:     action,
			Price:      closes[last],
			Volatility: seriesVolatility(series),
			Confidence: 1,
			Reason:     fmt.Sprintf("confirmed cross, regime=%s", regime),
		}
	}
	return signals, nil
}

// volumeConfirmed reports whether the latest bar traded at least `factor`
// times its trailing 20-day average volume.
func volumeConfirmed(series market.Series, factor float64) bool {
	volumes := series.Volumes()
	avg, ok := indicator.SMA(volumes, 20)
	if !ok || avg == 0 {
		return false
	}
	return volumes[len(volumes)-1]/avg >= factor
}

// detectRegime classifies the market by comparing net directional movement
// against the total high-low range over the lookback. A ratio above 0.3
// reads as a trend.
func detectRegime(series market.Series, lookback int) string {
	if len(series) < lookback {
		return regimeUnknown
	}
	tail := series[len(series)-lookback:]
	direction := tail[len(tail)-1].Close - tail[0].Close

	hi, lo := tail[0].High, tail[0].Low
	for _, b := range tail[1:] {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	if hi-lo <= 0 {
		return regimeRangeBound
	}
	if math.Abs(direction)/(hi-lo) > 0.3 {
		return regimeTrending
	}
	return regimeRangeBound
}

// seriesVolatility annualizes the standard deviation of the full return
// history, the figure risk sizing consumes alongside each signal.
func seriesVolatility(series market.Series) float64 {
	returns := series.Returns()
	if len(returns) < 2 {
		return 0
	}
	std, ok := indicator.Std(returns, len(returns))
	if !ok {
		return 0
	}
	return std * math.Sqrt(indicator.TradingDaysPerYear)
}

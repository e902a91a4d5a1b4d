package strategy

import (
	"fmt"

	"ecotrader/src/indicator"
)

// MeanReversion fades extremes inside Bollinger bands, but only on symbols
// whose recent returns actually exhibit mean reversion. The gate is the
// lag-1 autocorrelation score: anything below the minimum is skipped
// outright, no matter what the bands say.
type MeanReversion struct {
	provider        DataProvider
	rsiPeriod       int
	rsiOversold     float64
	rsiOverbought   float64
	bollingerPeriod int
	bollingerStd    float64
	minScore        float64
	scoreLookback   int
}

func NewMeanReversion(provider DataProvider) *MeanReversion {
	return &MeanReversion{
		provider:        provider,
		rsiPeriod:       14,
		rsiOversold:     30,
		rsiOverbought:   70,
		bollingerPeriod: 20,
		bollingerStd:    2.0,
		minScore:        0.7,
		scoreLookback:   100,
	}
}

func (s *MeanReversion) Name() string { return "MeanReversion" }

func (s *MeanReversion) Signals(symbols []string) (map[string]Signal, error) {
	signals := make(map[string]Signal)
	for _, sym := range symbols {
		series, err := s.provider.Historical(sym, s.scoreLookback)
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", sym, err)
		}
		if len(series) < s.bollingerPeriod+2 {
			continue
		}

		// The reversion gate needs the full lookback of bars; the score is
		// then computed over the returns those bars yield (one fewer).
		returns := series.Returns()
		score := 0.5
		if len(series) >= s.scoreLookback {
			score = indicator.MeanReversionScore(returns, min(s.scoreLookback, len(returns)))
		}
		if score < s.minScore {
			continue
		}

		closes := series.Closes()
		bands, ok := indicator.Bollinger(closes, s.bollingerPeriod, s.bollingerStd)
		if !ok {
			continue
		}
		pctB := indicator.PercentB(closes[len(closes)-1], bands)
		rsi := indicator.RSILast(closes, s.rsiPeriod)

		var action Action
		switch {
		case pctB < 0.2 && rsi < s.rsiOversold:
			action = ActionBuy
		case pctB > 0.8 && rsi > s.rsiOverbought:
			action = ActionSell
		default:
			continue
		}
		signals[sym] = Signal{
			Action:     action,
			Price:      closes[len(closes)-1],
			Volatility: seriesVolatility(series),
			Confidence: 1,
			Reason:     fmt.Sprintf("mean reversion score %.2f, %%b %.2f", score, pctB),
		}
	}
	return signals, nil
}

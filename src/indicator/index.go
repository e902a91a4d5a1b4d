package indicator

// Technical indicator primitives. Every function here is pure and
// deterministic: identical input produces identical output on every call,
// which the backtest engine relies on for reproducible replays.

import "math"

// TradingDaysPerYear is the annualization base for daily data.
const TradingDaysPerYear = 252

// SMA returns the arithmetic mean of the last `window` values, or 0 with
// ok=false when there is not enough data.
func SMA(values []float64, window int) (float64, bool) {
	if window <= 0 || len(values) < window {
		return 0, false
	}
	sum := 0.0
	for i := len(values) - window; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(window), true
}

// RollingSMA computes the full SMA column. Entries before the window fills
// carry NaN, mirroring how the series would look in a dataframe.
func RollingSMA(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 || len(values) < window {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RollingStd computes the full rolling sample standard deviation column,
// NaN before the window fills.
func RollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 1 || len(values) < window {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		std, ok := Std(values[:i+1], window)
		if ok {
			out[i] = std
		}
	}
	return out
}

// Std returns the sample standard deviation of the last `window` values.
func Std(values []float64, window int) (float64, bool) {
	if window <= 1 || len(values) < window {
		return 0, false
	}
	tail := values[len(values)-window:]
	mean := 0.0
	for _, v := range tail {
		mean += v
	}
	mean /= float64(window)
	acc := 0.0
	for _, v := range tail {
		d := v - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(window-1)), true
}

// AnnualizedVolatility is the rolling standard deviation of simple returns
// over `window` observations, scaled by sqrt(252). Returns 0 when the
// history is too short.
func AnnualizedVolatility(returns []float64, window int) float64 {
	std, ok := Std(returns, window)
	if !ok {
		return 0
	}
	return std * math.Sqrt(TradingDaysPerYear)
}

// RSI computes the Wilder-smoothed relative strength index over the whole
// price slice. The output has the same length as the input: the first
// `period` entries carry the seed value derived from the first `period`
// deltas, later entries are recursively smoothed. When the average loss is
// zero the ratio is treated as infinite and RSI saturates at 100.
func RSI(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if period <= 0 || len(prices) <= period {
		for i := range out {
			out[i] = 50
		}
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		d := prices[i] - prices[i-1]
		if d >= 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	seed := rsiValue(avgGain, avgLoss)
	for i := 0; i < period; i++ {
		out[i] = seed
	}
	for i := period; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RSILast is a convenience wrapper returning only the latest RSI value.
func RSILast(prices []float64, period int) float64 {
	vals := RSI(prices, period)
	if len(vals) == 0 {
		return 50
	}
	return vals[len(vals)-1]
}

// MeanReversionScore maps the lag-1 autocorrelation of the trailing
// `lookback` returns into [0,1], where values above 0.5 indicate negative
// autocorrelation (mean-reverting behavior). Insufficient history yields the
// neutral score 0.5.
func MeanReversionScore(returns []float64, lookback int) float64 {
	if lookback < 3 || len(returns) < lookback {
		return 0.5
	}
	ac, ok := autocorr1(returns[len(returns)-lookback:])
	if !ok {
		return 0.5
	}
	return 0.5 - clamp(ac, -1, 1)/2
}

// autocorr1 computes the lag-1 autocorrelation of a sample.
func autocorr1(x []float64) (float64, bool) {
	n := len(x)
	if n < 3 {
		return 0, false
	}
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)

	var num, den float64
	for i := 0; i < n-1; i++ {
		num += (x[i] - mean) * (x[i+1] - mean)
	}
	for _, v := range x {
		den += (v - mean) * (v - mean)
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// Bands holds Bollinger-style band values for a single point.
type Bands struct {
	Mid   float64
	Upper float64
	Lower float64
}

// Bollinger computes SMA ± k·std bands over the last `window` closes.
func Bollinger(closes []float64, window int, k float64) (Bands, bool) {
	mid, ok := SMA(closes, window)
	if !ok {
		return Bands{}, false
	}
	std, ok := Std(closes, window)
	if !ok {
		return Bands{}, false
	}
	return Bands{Mid: mid, Upper: mid + k*std, Lower: mid - k*std}, true
}

// PercentB locates `price` inside the bands: 0 at the lower band, 1 at the
// upper. Returns 0.5 when the bands collapse to zero width.
func PercentB(price float64, b Bands) float64 {
	width := b.Upper - b.Lower
	if width == 0 {
		return 0.5
	}
	return (price - b.Lower) / width
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

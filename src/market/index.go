package market

// Market data model shared by the strategy, risk, and backtest layers.
// Kept deliberately small: one tradable instrument, one daily bar, and an
// ordered series of bars per instrument.

import (
	"sort"
	"time"
)

// Instrument is one tradable ETF, identified by symbol, listing exchange and
// trading currency (e.g. INRG / LSE / GBP).
type Instrument struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Currency string `json:"currency" yaml:"currency"`
}

// Bar is one daily OHLCV record. Immutable once recorded.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is a chronological sequence of bars for one instrument, no duplicate
// dates. All indicator computation starts from a Series.
type Series []Bar

// Closes returns the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the volume column.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Returns computes simple day-over-day returns of the closes. The result has
// len(s)-1 entries; an empty or single-bar series yields nil.
func (s Series) Returns() []float64 {
	if len(s) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		prev := s[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, s[i].Close/prev-1)
	}
	return out
}

// Last returns the most recent bar, or false for an empty series.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// TruncateTo returns the prefix of the series with dates <= cutoff. The
// backtest engine uses this to expose only "data known so far" to strategies.
func (s Series) TruncateTo(cutoff time.Time) Series {
	// Series are chronological, so binary search for the first bar past cutoff.
	n := sort.Search(len(s), func(i int) bool { return s[i].Date.After(cutoff) })
	return s[:n]
}

// Tail returns the last n bars (or the whole series when shorter).
func (s Series) Tail(n int) Series {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// SortByDate sorts the series chronologically in place and drops duplicate
// dates, keeping the first occurrence. Data loaders call this once after
// ingest so the rest of the pipeline can rely on ordering.
func SortByDate(s Series) Series {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	out := s[:0]
	var last time.Time
	for i, b := range s {
		if i > 0 && b.Date.Equal(last) {
			continue
		}
		out = append(out, b)
		last = b.Date
	}
	return out
}

// CommonDates returns the sorted intersection of trading dates across all
// series in the map. Dates not present for every instrument are excluded.
func CommonDates(all map[string]Series) []time.Time {
	if len(all) == 0 {
		return nil
	}
	counts := make(map[time.Time]int)
	for _, s := range all {
		for _, b := range s {
			counts[b.Date]++
		}
	}
	var out []time.Time
	for d, n := range counts {
		if n == len(all) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

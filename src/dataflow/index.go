package dataflow

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"ecotrader/src/market"
)

// ===============================================================================
// Yahoo symbol mapping
// ===============================================================================

// yahooSuffix maps the basket's exchanges onto Yahoo ticker suffixes.
var yahooSuffix = map[string]string{
	"LSE":   ".L",
	"XETRA": ".DE",
	"BIT":   ".MI",
	"SIX":   ".SW",
}

// YahooSymbol formats an instrument for the Yahoo chart API.
func YahooSymbol(inst market.Instrument) string {
	if suffix, ok := yahooSuffix[inst.Exchange]; ok {
		return inst.Symbol + suffix
	}
	return inst.Symbol
}

// ===============================================================================
// Store
// ===============================================================================

// Store keeps daily history in memory, backed by one CSV file per symbol
// under cacheDir, and refreshes from Yahoo on demand. It implements the
// strategy data-provider contract; reads are safe alongside a refresh.
type Store struct {
	cacheDir string

	mu     sync.RWMutex
	series map[string]market.Series
}

func NewStore(cacheDir string) *Store {
	return &Store{
		cacheDir: cacheDir,
		series:   make(map[string]market.Series),
	}
}

// Historical returns up to `days` trailing bars for symbol. An unknown
// symbol yields an empty series, which strategies treat as "skip".
func (s *Store) Historical(symbol string, days int) (market.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[symbol].Tail(days), nil
}

// LastClose returns the latest cached close for symbol.
func (s *Store) LastClose(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok := s.series[symbol].Last()
	if !ok {
		return 0, false
	}
	return last.Close, true
}

// Put replaces the series for symbol, sorting and deduplicating first.
func (s *Store) Put(symbol string, series market.Series) {
	series = market.SortByDate(series)
	s.mu.Lock()
	s.series[symbol] = series
	s.mu.Unlock()
}

// AppendBar merges one bar into symbol's series, replacing a bar carrying
// the same date. Live tick aggregation lands here at day rollover.
func (s *Store) AppendBar(symbol string, bar market.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.series[symbol]
	if last, ok := series.Last(); ok && last.Date.Equal(bar.Date) {
		series[len(series)-1] = bar
	} else {
		series = append(series, bar)
		series = market.SortByDate(series)
	}
	s.series[symbol] = series
}

// Data snapshots the whole store, the form the backtest engine consumes.
func (s *Store) Data() map[string]market.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]market.Series, len(s.series))
	for sym, series := range s.series {
		cp := make(market.Series, len(series))
		copy(cp, series)
		out[sym] = cp
	}
	return out
}

// Symbols lists the cached symbols, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ===============================================================================
// Yahoo fetch
// ===============================================================================

// Fetch downloads `days` calendar days of daily bars for the instrument,
// stores them in memory and rewrites the CSV cache file.
func (s *Store) Fetch(inst market.Instrument, days int) error {
	end := time.Now()
	start := end.AddDate(0, 0, -days)

	params := &chart.Params{
		Symbol:   YahooSymbol(inst),
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)
	series := make(market.Series, 0, days)
	for iter.Next() {
		bar := iter.Bar()
		t := time.Unix(int64(bar.Timestamp), 0).UTC()
		series = append(series, market.Bar{
			Date:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
			Open:   bar.Open.InexactFloat64(),
			High:   bar.High.InexactFloat64(),
			Low:    bar.Low.InexactFloat64(),
			Close:  bar.Close.InexactFloat64(),
			Volume: float64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("yahoo chart for %s: %w", inst.Symbol, err)
	}
	if len(series) == 0 {
		return fmt.Errorf("yahoo chart for %s: no bars returned", inst.Symbol)
	}

	s.Put(inst.Symbol, series)
	return s.SaveCSV(inst.Symbol)
}

// Ensure makes history for every instrument available: cached CSV first,
// a network fetch when the cache is missing or a refresh is forced. The
// returned error is the first fetch failure; earlier symbols stay loaded.
func (s *Store) Ensure(instruments []market.Instrument, days int, refresh bool) error {
	for _, inst := range instruments {
		if !refresh {
			if err := s.LoadCSV(inst.Symbol); err == nil {
				continue
			}
		}
		if err := s.Fetch(inst, days); err != nil {
			return err
		}
		log.Printf("dataflow: fetched %s (%s)", inst.Symbol, inst.Exchange)
	}
	return nil
}

// ===============================================================================
// CSV cache
// ===============================================================================

func (s *Store) csvPath(symbol string) string {
	return filepath.Join(s.cacheDir, symbol+"_data.csv")
}

// LoadCSV reads the cached history file for symbol into memory.
func (s *Store) LoadCSV(symbol string) error {
	f, err := os.Open(s.csvPath(symbol))
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read cache for %s: %w", symbol, err)
	}
	if len(rows) < 2 {
		return fmt.Errorf("cache for %s is empty", symbol)
	}

	series := make(market.Series, 0, len(rows)-1)
	for _, row := range rows[1:] { // skip header
		if len(row) != 6 {
			return fmt.Errorf("cache for %s: malformed row %v", symbol, row)
		}
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return fmt.Errorf("cache for %s: bad date %q: %w", symbol, row[0], err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				return fmt.Errorf("cache for %s: bad number %q: %w", symbol, row[i+1], err)
			}
			vals[i] = v
		}
		series = append(series, market.Bar{
			Date: date, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}

	s.Put(symbol, series)
	return nil
}

// SaveCSV writes symbol's in-memory series to the cache file.
func (s *Store) SaveCSV(symbol string) error {
	s.mu.RLock()
	series := s.series[symbol]
	s.mu.RUnlock()

	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	f, err := os.Create(s.csvPath(symbol))
	if err != nil {
		return fmt.Errorf("create cache for %s: %w", symbol, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, bar := range series {
		row := []string{
			bar.Date.Format("2006-01-02"),
			strconv.FormatFloat(bar.Open, 'f', -1, 64),
			strconv.FormatFloat(bar.High, 'f', -1, 64),
			strconv.FormatFloat(bar.Low, 'f', -1, 64),
			strconv.FormatFloat(bar.Close, 'f', -1, 64),
			strconv.FormatFloat(bar.Volume, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

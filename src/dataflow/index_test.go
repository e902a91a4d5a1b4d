package dataflow

import (
	"testing"
	"time"

	"ecotrader/src/market"
)

func bar(day int, close float64) market.Bar {
	d := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day)
	return market.Bar{Date: d, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 5000}
}

func TestYahooSymbolSuffixes(t *testing.T) {
	cases := map[market.Instrument]string{
		{Symbol: "INRG", Exchange: "LSE"}:   "INRG.L",
		{Symbol: "LCEU", Exchange: "XETRA"}: "LCEU.DE",
		{Symbol: "VEAT", Exchange: "BIT"}:   "VEAT.MI",
		{Symbol: "CLWD", Exchange: "SIX"}:   "CLWD.SW",
		{Symbol: "SPY", Exchange: "NYSE"}:   "SPY",
	}
	for inst, want := range cases {
		if got := YahooSymbol(inst); got != want {
			t.Fatalf("YahooSymbol(%+v) = %q, want %q", inst, got, want)
		}
	}
}

func TestCSVRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("INRG", market.Series{bar(0, 10.5), bar(1, 10.8), bar(2, 10.2)})
	if err := s.SaveCSV("INRG"); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := NewStore(s.cacheDir)
	if err := fresh.LoadCSV("INRG"); err != nil {
		t.Fatalf("load: %v", err)
	}
	series, err := fresh.Historical("INRG", 10)
	if err != nil {
		t.Fatalf("historical: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("expected 3 bars back, got %d", len(series))
	}
	if series[1].Close != 10.8 || series[1].Volume != 5000 {
		t.Fatalf("bar did not survive the round trip: %+v", series[1])
	}
	if !series[0].Date.Equal(bar(0, 0).Date) {
		t.Fatalf("date did not survive the round trip: %v", series[0].Date)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.LoadCSV("NOPE"); err == nil {
		t.Fatalf("missing cache file must error")
	}
}

func TestHistoricalTailAndUnknownSymbol(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("INRG", market.Series{bar(0, 10), bar(1, 11), bar(2, 12), bar(3, 13)})

	series, _ := s.Historical("INRG", 2)
	if len(series) != 2 || series[0].Close != 12 {
		t.Fatalf("tail must keep the newest bars: %+v", series)
	}
	unknown, err := s.Historical("NOPE", 10)
	if err != nil || len(unknown) != 0 {
		t.Fatalf("unknown symbol must read empty, got %v %v", unknown, err)
	}
}

func TestAppendBarReplacesSameDate(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("INRG", market.Series{bar(0, 10)})

	s.AppendBar("INRG", bar(1, 11))
	updated := bar(1, 11.5)
	s.AppendBar("INRG", updated)

	series, _ := s.Historical("INRG", 10)
	if len(series) != 2 {
		t.Fatalf("same-date bar must replace, not append: %d bars", len(series))
	}
	if series[1].Close != 11.5 {
		t.Fatalf("latest bar must win, got %+v", series[1])
	}
}

func TestDataSnapshotIsCopy(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("INRG", market.Series{bar(0, 10)})
	snap := s.Data()
	snap["INRG"][0].Close = 99

	series, _ := s.Historical("INRG", 10)
	if series[0].Close != 10 {
		t.Fatalf("mutating a snapshot must not touch the store")
	}
}

func TestPutDropsDuplicateDates(t *testing.T) {
	// A partial live bar can share a date with the daily bar after UTC
	// truncation; the stored series must keep one bar per date.
	s := NewStore(t.TempDir())
	s.Put("INRG", market.Series{bar(0, 1), bar(1, 2), bar(1, 9), bar(2, 3)})

	series, err := s.Historical("INRG", 0)
	if err != nil {
		t.Fatalf("historical: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("expected 3 bars after dedupe, got %d", len(series))
	}
	for i, want := range []float64{1, 2, 3} {
		if series[i].Close != want {
			t.Fatalf("bar %d close = %v, want %v", i, series[i].Close, want)
		}
	}
}

func TestAppendBarDedupesOutOfOrderDate(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("INRG", market.Series{bar(0, 1), bar(2, 3)})
	s.AppendBar("INRG", bar(0, 7))

	series, err := s.Historical("INRG", 0)
	if err != nil {
		t.Fatalf("historical: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 bars after dedupe, got %d", len(series))
	}
	if series[0].Close != 1 || series[1].Close != 3 {
		t.Fatalf("unexpected closes %v %v", series[0].Close, series[1].Close)
	}
}

package storage

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ecotrader/src/backtest"
	"ecotrader/src/portfolio"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func trade(symbol, action string, qty int, price, realized float64) portfolio.Trade {
	tr := portfolio.Trade{
		Date:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Symbol:   symbol,
		Action:   action,
		Quantity: qty,
		Price:    price,
		Value:    float64(qty) * price,
		Realized: realized,
	}
	if realized != 0 || action == "SELL" {
		tr.EntryPrice = price - realized/float64(qty)
	}
	return tr
}

func TestJournalRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	open := trade("INRG", "BUY", 100, 8.5, 0)
	if err := j.Record(open); err != nil {
		t.Fatalf("record: %v", err)
	}
	closeTr := trade("INRG", "SELL", 100, 9.0, 50)
	closeTr.Reason = "take_profit"
	if err := j.Record(closeTr); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := j.Trades("INRG", 0)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(got))
	}
	// Newest first.
	if got[0].Action != "SELL" || got[0].Realized != 50 || got[0].Reason != "take_profit" {
		t.Fatalf("unexpected first trade %+v", got[0])
	}
	if !got[1].Date.Equal(open.Date) {
		t.Fatalf("date did not survive: %v", got[1].Date)
	}
}

func TestJournalFilterAndLimit(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 3; i++ {
		if err := j.Record(trade("INRG", "BUY", 10, 8, 0)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := j.Record(trade("WATL", "BUY", 10, 4, 0)); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := j.Trades("INRG", 2)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit not applied: %d trades", len(got))
	}
	all, err := j.Trades("", 0)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 trades total, got %d", len(all))
	}
}

func TestJournalStats(t *testing.T) {
	j := openTestJournal(t)
	// INRG: one open, one winning close, one losing close.
	must := func(tr portfolio.Trade) {
		t.Helper()
		if err := j.Record(tr); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	must(trade("INRG", "BUY", 100, 8.5, 0))
	must(trade("INRG", "SELL", 100, 9.0, 50))
	must(trade("INRG", "SELL", 100, 8.0, -30))
	must(trade("WATL", "BUY", 50, 4.0, 0))

	stats, err := j.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(stats))
	}
	inrg := stats[0]
	if inrg.Symbol != "INRG" || inrg.Trades != 3 || inrg.Closed != 2 || inrg.Wins != 1 {
		t.Fatalf("unexpected INRG stats %+v", inrg)
	}
	if inrg.Realized != 20 {
		t.Fatalf("realized = %v, want 20", inrg.Realized)
	}
}

func TestWriteStats(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Record(trade("INRG", "SELL", 100, 9.0, 50)); err != nil {
		t.Fatalf("record: %v", err)
	}

	dir := t.TempDir()
	path, err := j.WriteStats(dir)
	if err != nil {
		t.Fatalf("write stats: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open stats: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "symbol" {
		t.Fatalf("unexpected stats file %v", rows)
	}
	if rows[1][0] != "INRG" || rows[1][4] != "100.00" {
		t.Fatalf("unexpected stats row %v", rows[1])
	}
}

func TestSaveBacktest(t *testing.T) {
	results := map[string]*backtest.Result{
		"MovingAverage": {
			Strategy:    "MovingAverage",
			EquityCurve: []float64{100000, 101000, 102500},
			Metrics: backtest.Metrics{
				TotalReturnPct: 12.5,
				SharpeRatio:    1.1,
				TradeCount:     8,
				WinRatePct:     50,
				ProfitFactor:   math.Inf(1),
			},
		},
	}

	dir := t.TempDir()
	jsonPath, csvPath, err := SaveBacktest(dir, results)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	blob, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	if !strings.Contains(string(blob), `"MovingAverage"`) {
		t.Fatalf("json export missing strategy name")
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	if rows[1][0] != "MovingAverage" || rows[1][8] != "inf" {
		t.Fatalf("unexpected summary row %v", rows[1])
	}

	curves, err := filepath.Glob(filepath.Join(dir, "equity_MovingAverage_*.csv"))
	if err != nil || len(curves) != 1 {
		t.Fatalf("expected one equity curve export, got %v %v", curves, err)
	}
	ef, err := os.Open(curves[0])
	if err != nil {
		t.Fatalf("open equity: %v", err)
	}
	defer ef.Close()
	eq, err := csv.NewReader(ef).ReadAll()
	if err != nil {
		t.Fatalf("read equity: %v", err)
	}
	if len(eq) != 4 || eq[3][1] != "102500.00" {
		t.Fatalf("unexpected equity rows %v", eq)
	}
}

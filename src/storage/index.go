package storage

// Storage layer: sqlite trade journal plus result exports.
// =============================================================================
// 1) Journal: every live or paper fill lands in a sqlite table so runs can be
//    audited and the per-symbol stats survive restarts.
// 2) Exports: backtest results as JSON with a CSV summary alongside, and a
//    stats summary generated from the journal.

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ecotrader/src/backtest"
	"ecotrader/src/portfolio"
)

// ===============================================================================
// Trade journal
// ===============================================================================

const journalSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	date         TEXT    NOT NULL,
	symbol       TEXT    NOT NULL,
	action       TEXT    NOT NULL,
	quantity     INTEGER NOT NULL,
	price        REAL    NOT NULL,
	value        REAL    NOT NULL,
	commission   REAL    NOT NULL DEFAULT 0,
	entry_price  REAL    NOT NULL DEFAULT 0,
	realized     REAL    NOT NULL DEFAULT 0,
	reason       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_date   ON trades(date);
`

// Journal persists executed trades in sqlite.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (and if needed creates) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Record appends one executed trade.
func (j *Journal) Record(t portfolio.Trade) error {
	_, err := j.db.Exec(
		`INSERT INTO trades (date, symbol, action, quantity, price, value, commission, entry_price, realized, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Date.UTC().Format(time.RFC3339), t.Symbol, t.Action, t.Quantity,
		t.Price, t.Value, t.Commission, t.EntryPrice, t.Realized, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("record trade %s %s: %w", t.Action, t.Symbol, err)
	}
	return nil
}

// Trades returns the most recent trades, newest first. An empty symbol selects
// every symbol; limit <= 0 means no cap.
func (j *Journal) Trades(symbol string, limit int) ([]portfolio.Trade, error) {
	q := `SELECT date, symbol, action, quantity, price, value, commission, entry_price, realized, reason
	      FROM trades`
	args := []any{}
	if symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []portfolio.Trade
	for rows.Next() {
		var t portfolio.Trade
		var date string
		if err := rows.Scan(&date, &t.Symbol, &t.Action, &t.Quantity, &t.Price,
			&t.Value, &t.Commission, &t.EntryPrice, &t.Realized, &t.Reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if ts, perr := time.Parse(time.RFC3339, date); perr == nil {
			t.Date = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SymbolStats is the per-symbol aggregate the stats report is built from.
// Closing trades carry realized P&L; opens do not.
type SymbolStats struct {
	Symbol   string  `json:"symbol"`
	Trades   int     `json:"trades"`
	Closed   int     `json:"closed"`
	Wins     int     `json:"wins"`
	Realized float64 `json:"realized"`
}

// Stats aggregates the journal per symbol, sorted by symbol.
func (j *Journal) Stats() ([]SymbolStats, error) {
	rows, err := j.db.Query(`
		SELECT symbol,
		       COUNT(*),
		       SUM(CASE WHEN entry_price != 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN entry_price != 0 AND realized > 0 THEN 1 ELSE 0 END),
		       COALESCE(SUM(realized), 0)
		FROM trades GROUP BY symbol ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []SymbolStats
	for rows.Next() {
		var s SymbolStats
		if err := rows.Scan(&s.Symbol, &s.Trades, &s.Closed, &s.Wins, &s.Realized); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// WriteStats renders the journal aggregates to a timestamped CSV under dir and
// returns the file path.
func (j *Journal) WriteStats(dir string) (string, error) {
	stats, err := j.Stats()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("trade_stats_%s.csv", time.Now().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"symbol", "trades", "closed", "wins", "win_rate_pct", "realized"}); err != nil {
		return "", err
	}
	for _, s := range stats {
		winRate := 0.0
		if s.Closed > 0 {
			winRate = float64(s.Wins) / float64(s.Closed) * 100
		}
		rec := []string{
			s.Symbol,
			strconv.Itoa(s.Trades),
			strconv.Itoa(s.Closed),
			strconv.Itoa(s.Wins),
			strconv.FormatFloat(winRate, 'f', 2, 64),
			strconv.FormatFloat(s.Realized, 'f', 2, 64),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

// ===============================================================================
// Backtest result export
// ===============================================================================

// SaveBacktest writes the full results as JSON and a one-line-per-strategy CSV
// summary under dir. Both file paths are returned.
func SaveBacktest(dir string, results map[string]*backtest.Result) (jsonPath, csvPath string, err error) {
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	stamp := time.Now().Format("20060102_150405")

	jsonPath = filepath.Join(dir, fmt.Sprintf("backtest_results_%s.json", stamp))
	blob, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode results: %w", err)
	}
	if err = os.WriteFile(jsonPath, blob, 0o644); err != nil {
		return "", "", err
	}

	csvPath = filepath.Join(dir, fmt.Sprintf("backtest_summary_%s.csv", stamp))
	f, err := os.Create(csvPath)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	header := []string{
		"strategy", "total_return_pct", "annual_return_pct", "volatility_pct",
		"sharpe", "max_drawdown_pct", "trades", "win_rate_pct", "profit_factor",
	}
	if err = w.Write(header); err != nil {
		return "", "", err
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := results[name].Metrics
		pf := "inf"
		if !math.IsInf(m.ProfitFactor, 0) {
			pf = strconv.FormatFloat(m.ProfitFactor, 'f', 2, 64)
		}
		rec := []string{
			name,
			strconv.FormatFloat(m.TotalReturnPct, 'f', 2, 64),
			strconv.FormatFloat(m.AnnualReturnPct, 'f', 2, 64),
			strconv.FormatFloat(m.VolatilityPct, 'f', 2, 64),
			strconv.FormatFloat(m.SharpeRatio, 'f', 2, 64),
			strconv.FormatFloat(m.MaxDrawdownPct, 'f', 2, 64),
			strconv.Itoa(m.TradeCount),
			strconv.FormatFloat(m.WinRatePct, 'f', 2, 64),
			pf,
		}
		if err = w.Write(rec); err != nil {
			return "", "", err
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return "", "", err
	}

	for _, name := range names {
		if err = saveEquityCurve(dir, name, stamp, results[name].EquityCurve); err != nil {
			return "", "", err
		}
	}
	return jsonPath, csvPath, nil
}

func saveEquityCurve(dir, name, stamp string, curve []float64) error {
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("equity_%s_%s.csv", name, stamp)))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"day", "equity"}); err != nil {
		return err
	}
	for i, v := range curve {
		rec := []string{strconv.Itoa(i), strconv.FormatFloat(v, 'f', 2, 64)}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

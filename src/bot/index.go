package bot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"ecotrader/src/broker"
	"ecotrader/src/config"
	"ecotrader/src/indicator"
	"ecotrader/src/market"
	"ecotrader/src/portfolio"
	"ecotrader/src/risk"
	"ecotrader/src/server"
	"ecotrader/src/strategy"
)

// ===============================================================================
// Trading loop
// ===============================================================================

// MarketData is what the loop reads prices and history from. The data store
// satisfies it.
type MarketData interface {
	strategy.DataProvider
	LastClose(symbol string) (float64, bool)
}

// Executor places orders. The broker gateway satisfies it.
type Executor interface {
	MarketOrder(inst market.Instrument, side broker.Side, quantity int) (broker.Fill, error)
}

// Recorder persists executed trades. The sqlite journal satisfies it; a nil
// recorder disables journaling.
type Recorder interface {
	Record(t portfolio.Trade) error
	Trades(symbol string, limit int) ([]portfolio.Trade, error)
}

// Bot runs the trading cycle: refresh data, manage open positions, generate
// signals, then enter new positions the risk checks allow.
type Bot struct {
	cfg      *config.Config
	data     MarketData
	strat    strategy.Strategy
	book     *portfolio.Book
	riskMgr  *risk.Manager
	executor Executor
	journal  Recorder

	instruments map[string]market.Instrument
	refresh     func() error

	mu          sync.RWMutex
	running     bool
	cycles      int
	lastCycle   time.Time
	lastSignals map[string]strategy.Signal

	now func() time.Time
}

func New(cfg *config.Config, data MarketData, strat strategy.Strategy, book *portfolio.Book,
	riskMgr *risk.Manager, executor Executor, journal Recorder) *Bot {
	instruments := make(map[string]market.Instrument, len(cfg.Universe))
	for _, inst := range cfg.Instruments() {
		instruments[inst.Symbol] = inst
	}
	return &Bot{
		cfg:         cfg,
		data:        data,
		strat:       strat,
		book:        book,
		riskMgr:     riskMgr,
		executor:    executor,
		journal:     journal,
		instruments: instruments,
		lastSignals: make(map[string]strategy.Signal),
		now:         time.Now,
	}
}

// SetRefresh installs a data refresh hook invoked at the top of every cycle.
func (b *Bot) SetRefresh(fn func() error) { b.refresh = fn }

// Run executes cycles until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	interval := time.Duration(b.cfg.Trading.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	b.setRunning(true)
	defer b.setRunning(false)

	log.Printf("trading loop started: strategy=%s paper=%v interval=%s",
		b.cfg.Strategy.Active, b.cfg.Trading.Paper, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := b.Cycle(); err != nil {
			log.Printf("cycle error: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("trading loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one full pass. Errors from individual symbols are logged and do
// not abort the rest of the pass; only a signal generation failure does.
func (b *Bot) Cycle() error {
	start := b.now()
	log.Printf("cycle start")

	if b.refresh != nil {
		if err := b.refresh(); err != nil {
			log.Printf("data refresh: %v", err)
		}
	}

	b.markPositions()
	totalValue := b.book.TotalValue()
	metrics := b.riskMgr.UpdateMetrics(totalValue)

	b.manageOpenPositions()

	signals, err := b.strat.Signals(b.symbols())
	if err != nil {
		return fmt.Errorf("generate signals: %w", err)
	}
	b.storeSignals(signals)

	if b.cfg.Risk.Mode == "advanced" {
		if err := b.riskMgr.UpdateCorrelations(b.symbols(), 60); err != nil {
			log.Printf("correlation update: %v", err)
		}
	}

	b.executeSignals(signals)

	perf := b.book.Performance()
	log.Printf("cycle done in %s: value=%.2f return=%.2f%% drawdown=%.2f%% positions=%d",
		b.now().Sub(start).Round(time.Millisecond), b.book.TotalValue(),
		perf.TotalReturnPct, metrics.CurrentDrawdown*100, b.book.OpenCount())
	b.bumpCycle()
	return nil
}

// markPositions refreshes every open position to the latest known close.
func (b *Bot) markPositions() {
	for _, sym := range b.book.OpenSymbols() {
		if price, ok := b.data.LastClose(sym); ok {
			b.book.Mark(sym, price)
		}
	}
}

// manageOpenPositions applies the exit ladder to every open position: the
// fixed stop and target first, then the advanced exit rules when enabled.
func (b *Bot) manageOpenPositions() {
	for _, sym := range b.book.OpenSymbols() {
		pos := b.book.Position(sym)
		price, ok := b.data.LastClose(sym)
		if !ok || price <= 0 {
			continue
		}

		if reason, hit := b.fixedExit(pos, price); hit {
			b.closePosition(sym, price, reason)
			continue
		}
		if b.cfg.Risk.Mode != "advanced" || pos.State != portfolio.Long {
			continue
		}
		exit, reason := b.riskMgr.ShouldExit(sym, price, risk.ExitCheck{
			EntryPrice:        pos.AvgCost,
			EntryVolatility:   pos.EntryVolatility,
			CurrentVolatility: b.currentVolatility(sym),
			DaysHeld:          pos.DaysHeld(b.now()),
		})
		if exit {
			b.closePosition(sym, price, reason)
		}
	}
}

func (b *Bot) fixedExit(pos *portfolio.Position, price float64) (string, bool) {
	switch pos.State {
	case portfolio.Long:
		if price <= pos.StopLoss {
			return "stop_loss", true
		}
		if price >= pos.TakeProfit {
			return "take_profit", true
		}
	case portfolio.Short:
		if price >= pos.StopLoss {
			return "stop_loss", true
		}
		if price <= pos.TakeProfit {
			return "take_profit", true
		}
	}
	return "", false
}

// executeSignals enters and exits on the strategy's calls, symbol order fixed
// for reproducible fills.
func (b *Bot) executeSignals(signals map[string]strategy.Signal) {
	symbols := make([]string, 0, len(signals))
	for sym := range signals {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		sig := signals[sym]
		switch sig.Action {
		case strategy.ActionBuy:
			if b.book.Position(sym) == nil {
				b.enterLong(sym, sig)
			}
		case strategy.ActionSell:
			if pos := b.book.Position(sym); pos != nil && pos.State == portfolio.Long {
				if price, ok := b.data.LastClose(sym); ok {
					b.closePosition(sym, price, "signal")
				}
			}
		}
	}
}

func (b *Bot) enterLong(sym string, sig strategy.Signal) {
	inst, ok := b.instruments[sym]
	if !ok {
		return
	}
	totalValue := b.book.TotalValue()
	if allowed, reason := b.riskMgr.CheckEntry(totalValue, b.book.OpenSymbols(), sym); !allowed {
		log.Printf("skip BUY %s: %s", sym, reason)
		return
	}

	winRate := 0.5
	if wr, ok := b.book.WinRate(sym); ok {
		winRate = wr
	}
	quantity := b.riskMgr.PositionSize(risk.SizeRequest{
		Symbol:         sym,
		Price:          sig.Price,
		Volatility:     sig.Volatility,
		PortfolioValue: totalValue,
		WinRate:        winRate,
	})
	if quantity <= 0 {
		return
	}
	if float64(quantity)*sig.Price > b.book.Cash() {
		log.Printf("skip BUY %s: insufficient cash for %d shares", sym, quantity)
		return
	}

	fill, err := b.executor.MarketOrder(inst, broker.SideBuy, quantity)
	if err != nil {
		log.Printf("BUY %s failed: %v", sym, err)
		return
	}
	if _, err := b.book.Open(sym, portfolio.Long, fill.Quantity, fill.Price, sig.Volatility, fill.Time); err != nil {
		log.Printf("record open %s: %v", sym, err)
		return
	}
	b.record(b.lastTrade())
	log.Printf("BUY %s: %d @ %.2f (confidence %.2f, %s)",
		sym, fill.Quantity, fill.Price, sig.Confidence, sig.Reason)
}

func (b *Bot) closePosition(sym string, price float64, reason string) {
	pos := b.book.Position(sym)
	if pos == nil {
		return
	}
	inst, ok := b.instruments[sym]
	if !ok {
		return
	}
	side := broker.SideSell
	if pos.State == portfolio.Short {
		side = broker.SideBuy
	}
	fill, err := b.executor.MarketOrder(inst, side, pos.Quantity)
	if err != nil {
		log.Printf("close %s failed: %v", sym, err)
		return
	}
	trade, err := b.book.Close(sym, fill.Price, fill.Time, reason)
	if err != nil {
		log.Printf("record close %s: %v", sym, err)
		return
	}
	b.riskMgr.ClearStop(sym)
	b.record(trade)
	log.Printf("CLOSE %s: %d @ %.2f realized=%.2f (%s)",
		sym, trade.Quantity, trade.Price, trade.Realized, reason)
}

func (b *Bot) record(t portfolio.Trade) {
	if b.journal == nil || t.Symbol == "" {
		return
	}
	if err := b.journal.Record(t); err != nil {
		log.Printf("journal %s %s: %v", t.Action, t.Symbol, err)
	}
}

// lastTrade returns the most recent book entry, used to journal opens.
func (b *Bot) lastTrade() portfolio.Trade {
	trades := b.book.Trades()
	if len(trades) == 0 {
		return portfolio.Trade{}
	}
	return trades[len(trades)-1]
}

// currentVolatility computes annualized volatility over the trailing history
// window. Zero when not enough data.
func (b *Bot) currentVolatility(sym string) float64 {
	series, err := b.data.Historical(sym, 60)
	if err != nil || len(series) < 2 {
		return 0
	}
	returns := series.Returns()
	return indicator.AnnualizedVolatility(returns, len(returns))
}

func (b *Bot) symbols() []string { return b.cfg.Symbols() }

func (b *Bot) storeSignals(signals map[string]strategy.Signal) {
	b.mu.Lock()
	b.lastSignals = signals
	b.mu.Unlock()
}

func (b *Bot) bumpCycle() {
	b.mu.Lock()
	b.cycles++
	b.lastCycle = b.now()
	b.mu.Unlock()
}

func (b *Bot) setRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

// ===============================================================================
// Status source for the HTTP server
// ===============================================================================

func (b *Bot) Status() server.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return server.Status{
		Running:        b.running,
		Paper:          b.cfg.Trading.Paper,
		Strategy:       b.cfg.Strategy.Active,
		Cycles:         b.cycles,
		LastCycle:      b.lastCycle,
		PortfolioValue: b.book.TotalValue(),
		Cash:           b.book.Cash(),
		OpenPositions:  b.book.OpenCount(),
		DrawdownPct:    b.riskMgr.CurrentDrawdown() * 100,
	}
}

func (b *Bot) Positions() []portfolio.Position {
	out := make([]portfolio.Position, 0, b.book.OpenCount())
	for _, sym := range b.book.OpenSymbols() {
		if pos := b.book.Position(sym); pos != nil {
			out = append(out, *pos)
		}
	}
	return out
}

func (b *Bot) RecentTrades(limit int) ([]portfolio.Trade, error) {
	if b.journal != nil {
		return b.journal.Trades("", limit)
	}
	trades := b.book.Trades()
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades, nil
}

func (b *Bot) LastSignals() map[string]strategy.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]strategy.Signal, len(b.lastSignals))
	for k, v := range b.lastSignals {
		out[k] = v
	}
	return out
}

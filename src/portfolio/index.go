package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ===============================================================================
// Position state machine
// ===============================================================================

// State is the lifecycle state of a symbol in the book.
type State int

const (
	Flat State = iota
	Long
	Short
)

func (s State) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Position is one open holding. Quantity is always positive, direction
// lives in State.
type Position struct {
	Symbol          string    `json:"symbol"`
	State           State     `json:"state"`
	Quantity        int       `json:"quantity"`
	AvgCost         float64   `json:"avg_cost"`
	EntryDate       time.Time `json:"entry_date"`
	EntryVolatility float64   `json:"entry_volatility"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	MarketPrice     float64   `json:"market_price"`
}

// MarketValue is the signed value of the holding at the latest mark.
func (p *Position) MarketValue() float64 {
	v := float64(p.Quantity) * p.MarketPrice
	if p.State == Short {
		return -v
	}
	return v
}

// UnrealizedPnL at the latest mark.
func (p *Position) UnrealizedPnL() float64 {
	diff := p.MarketPrice - p.AvgCost
	if p.State == Short {
		diff = -diff
	}
	return diff * float64(p.Quantity)
}

// DaysHeld counts whole days between entry and asOf.
func (p *Position) DaysHeld(asOf time.Time) int {
	if asOf.Before(p.EntryDate) {
		return 0
	}
	return int(asOf.Sub(p.EntryDate).Hours() / 24)
}

// Trade is one executed fill, recorded at open and at close. Closing
// trades carry the entry price and the realized PnL.
type Trade struct {
	Date       time.Time `json:"date"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	Value      float64   `json:"value"`
	Commission float64   `json:"commission"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	Realized   float64   `json:"realized,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// ===============================================================================
// Book
// ===============================================================================

var (
	ErrPositionExists   = errors.New("position already open")
	ErrNoPosition       = errors.New("no open position")
	ErrInsufficientCash = errors.New("insufficient cash")
)

// Book tracks cash, open positions and the realized trade log. One
// position per symbol: Open on a non-flat symbol fails, Close always
// closes the full quantity. All methods are single-goroutine; the cycle
// loop and the replay engine both drive the book sequentially.
type Book struct {
	startingCash float64
	cash         float64
	positions    map[string]*Position
	trades       []Trade

	stopLossPct   float64
	takeProfitPct float64
}

func NewBook(startingCash, stopLossPct, takeProfitPct float64) *Book {
	if stopLossPct <= 0 {
		stopLossPct = 0.05
	}
	if takeProfitPct <= 0 {
		takeProfitPct = 0.10
	}
	return &Book{
		startingCash:  startingCash,
		cash:          startingCash,
		positions:     make(map[string]*Position),
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
	}
}

func (b *Book) Cash() float64         { return b.cash }
func (b *Book) StartingCash() float64 { return b.startingCash }

// Position returns the open position for symbol, nil when flat.
func (b *Book) Position(symbol string) *Position {
	return b.positions[symbol]
}

// OpenSymbols lists symbols with an open position, sorted for stable
// logging and iteration.
func (b *Book) OpenSymbols() []string {
	out := make([]string, 0, len(b.positions))
	for sym := range b.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (b *Book) OpenCount() int { return len(b.positions) }

// Open enters a new position. Longs must be fully cash-covered; shorts
// credit the proceeds. Stop and target prices are derived from the fill so
// position management needs no further context.
func (b *Book) Open(symbol string, side State, quantity int, price, volatility float64, date time.Time) (*Position, error) {
	if side != Long && side != Short {
		return nil, fmt.Errorf("open %s: side must be long or short", symbol)
	}
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("open %s: bad quantity %d or price %.4f", symbol, quantity, price)
	}
	if _, exists := b.positions[symbol]; exists {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrPositionExists)
	}

	cost := float64(quantity) * price
	action := "BUY"
	if side == Long {
		if cost > b.cash {
			return nil, fmt.Errorf("open %s: %w: need %.2f, have %.2f", symbol, ErrInsufficientCash, cost, b.cash)
		}
		b.cash -= cost
	} else {
		action = "SELL_SHORT"
		b.cash += cost
	}

	pos := &Position{
		Symbol:          symbol,
		State:           side,
		Quantity:        quantity,
		AvgCost:         price,
		EntryDate:       date,
		EntryVolatility: volatility,
		MarketPrice:     price,
	}
	if side == Long {
		pos.StopLoss = price * (1 - b.stopLossPct)
		pos.TakeProfit = price * (1 + b.takeProfitPct)
	} else {
		pos.StopLoss = price * (1 + b.stopLossPct)
		pos.TakeProfit = price * (1 - b.takeProfitPct)
	}
	b.positions[symbol] = pos

	b.trades = append(b.trades, Trade{
		Date:     date,
		Symbol:   symbol,
		Action:   action,
		Quantity: quantity,
		Price:    price,
		Value:    cost,
	})
	return pos, nil
}

// Close exits the full position at price and returns the closing trade
// with realized PnL attached.
func (b *Book) Close(symbol string, price float64, date time.Time, reason string) (Trade, error) {
	pos, exists := b.positions[symbol]
	if !exists {
		return Trade{}, fmt.Errorf("close %s: %w", symbol, ErrNoPosition)
	}
	if price <= 0 {
		return Trade{}, fmt.Errorf("close %s: bad price %.4f", symbol, price)
	}

	value := float64(pos.Quantity) * price
	realized := (price - pos.AvgCost) * float64(pos.Quantity)
	action := "SELL"
	if pos.State == Short {
		action = "BUY_TO_COVER"
		realized = -realized
		b.cash -= value
	} else {
		b.cash += value
	}
	delete(b.positions, symbol)

	trade := Trade{
		Date:       date,
		Symbol:     symbol,
		Action:     action,
		Quantity:   pos.Quantity,
		Price:      price,
		Value:      value,
		EntryPrice: pos.AvgCost,
		Realized:   realized,
		Reason:     reason,
	}
	b.trades = append(b.trades, trade)
	return trade, nil
}

// Mark updates the working price for an open symbol. Unknown symbols are
// ignored.
func (b *Book) Mark(symbol string, price float64) {
	if pos, ok := b.positions[symbol]; ok && price > 0 {
		pos.MarketPrice = price
	}
}

// PositionValue sums the signed market value of all holdings.
func (b *Book) PositionValue() float64 {
	total := 0.0
	for _, pos := range b.positions {
		total += pos.MarketValue()
	}
	return total
}

// TotalValue is cash plus marked positions, the equity figure drawdown
// tracking runs on.
func (b *Book) TotalValue() float64 {
	return b.cash + b.PositionValue()
}

// Trades returns the full fill log in execution order.
func (b *Book) Trades() []Trade {
	out := make([]Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// WinRate is the fraction of closed trades on symbol that realized a
// profit. Returns 0 with ok=false when the symbol has no closed trades, so
// callers can fall back to a prior.
func (b *Book) WinRate(symbol string) (float64, bool) {
	closed, wins := 0, 0
	for _, t := range b.trades {
		if t.Symbol != symbol || t.EntryPrice == 0 {
			continue
		}
		closed++
		if t.Realized > 0 {
			wins++
		}
	}
	if closed == 0 {
		return 0, false
	}
	return float64(wins) / float64(closed), true
}

// Performance summarizes the book against its starting cash.
type Performance struct {
	StartingValue  float64 `json:"starting_value"`
	CurrentValue   float64 `json:"current_value"`
	TotalReturnPct float64 `json:"total_return_pct"`
	TotalReturn    float64 `json:"total_return_value"`
}

func (b *Book) Performance() Performance {
	current := b.TotalValue()
	perf := Performance{StartingValue: b.startingCash, CurrentValue: current}
	if b.startingCash > 0 {
		perf.TotalReturn = current - b.startingCash
		perf.TotalReturnPct = perf.TotalReturn / b.startingCash * 100
	}
	return perf
}

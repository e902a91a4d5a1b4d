package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ecotrader/src/market"
)

// ===============================================================================
// Order gateway
// ===============================================================================

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is the result of an executed market order.
type Fill struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Time       time.Time `json:"time"`
	Paper      bool      `json:"paper"`
}

var (
	ErrMarketClosed = errors.New("market closed")
	ErrNoQuote      = errors.New("no quote available")
)

// Quoter supplies the latest known price for a symbol. The data store and the
// tick stream both satisfy it.
type Quoter interface {
	LastClose(symbol string) (float64, bool)
}

// Config holds the gateway commission model. Rates are fractions of notional.
type Config struct {
	CommissionRate float64 `yaml:"commission_rate"`
	MinCommission  float64 `yaml:"min_commission"`
}

func (c *Config) withDefaults() Config {
	q := *c
	if q.CommissionRate <= 0 {
		q.CommissionRate = 0.0005
	}
	if q.MinCommission <= 0 {
		q.MinCommission = 1.0
	}
	return q
}

// Gateway executes market orders. In paper mode fills are simulated at the
// latest known quote; live submission requires a connected tick stream session
// and is refused otherwise.
type Gateway struct {
	quoter Quoter
	hours  *HoursChecker
	stream *Stream
	cfg    Config
	paper  bool
	now    func() time.Time
}

func NewGateway(quoter Quoter, hours *HoursChecker, cfg Config, paper bool) *Gateway {
	return &Gateway{
		quoter: quoter,
		hours:  hours,
		cfg:    cfg.withDefaults(),
		paper:  paper,
		now:    time.Now,
	}
}

// AttachStream wires a live tick stream used for order submission in non-paper
// mode.
func (g *Gateway) AttachStream(s *Stream) { g.stream = s }

// MarketOrder executes an immediate order for the instrument. The exchange
// session is checked first; a closed market refuses the order.
func (g *Gateway) MarketOrder(inst market.Instrument, side Side, quantity int) (Fill, error) {
	if quantity <= 0 {
		return Fill{}, fmt.Errorf("invalid quantity %d for %s", quantity, inst.Symbol)
	}
	now := g.now()
	if !g.hours.IsOpen(inst.Exchange, now) {
		return Fill{}, fmt.Errorf("%s on %s: %w", inst.Symbol, inst.Exchange, ErrMarketClosed)
	}

	price, ok := g.quoter.LastClose(inst.Symbol)
	if !ok || price <= 0 {
		return Fill{}, fmt.Errorf("%s: %w", inst.Symbol, ErrNoQuote)
	}

	if !g.paper {
		if g.stream == nil || !g.stream.IsConnected() {
			return Fill{}, fmt.Errorf("%s: live order requires a connected stream", inst.Symbol)
		}
		if err := g.stream.SubmitOrder(inst.Symbol, string(side), quantity); err != nil {
			return Fill{}, fmt.Errorf("submit %s %s: %w", side, inst.Symbol, err)
		}
	}

	return Fill{
		Symbol:     inst.Symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Commission: g.commission(price, quantity),
		Time:       now,
		Paper:      g.paper,
	}, nil
}

// commission applies the rate to notional with a per-order floor. Money math
// runs through decimals so ticket values round cleanly.
func (g *Gateway) commission(price float64, quantity int) float64 {
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity)))
	comm := notional.Mul(decimal.NewFromFloat(g.cfg.CommissionRate))
	floor := decimal.NewFromFloat(g.cfg.MinCommission)
	if comm.LessThan(floor) {
		comm = floor
	}
	return comm.Round(2).InexactFloat64()
}

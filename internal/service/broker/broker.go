package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	applogger "PivotPull/pkg/logger"

	"github.com/shopspring/decimal"
)

var (
	ErrNoPrice          = errors.New("broker: no price for current bar")
	ErrInvalidSize      = errors.New("broker: order size must be positive")
	ErrInsufficientCash = errors.New("broker: insufficient cash")
)

// relative overshoot of cash accepted on a full-cash buy
var cashRoundingTolerance = decimal.New(1, -6)

// Side of a fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Fill is an executed order.
type Fill struct {
	Date  time.Time `json:"date"`
	Side  Side      `json:"side"`
	Size  float64   `json:"size"`
	Price float64   `json:"price"`
}

// Broker is a single-symbol simulated account that fills market orders at
// the close of the bar being evaluated (cheat-on-close).
type Broker struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	position decimal.Decimal
	price    decimal.Decimal
	date     time.Time
	priced   bool
	fills    []Fill
	log      *applogger.Logger
}

// New creates a broker holding startingCash and no position.
func New(startingCash float64, l *applogger.Logger) *Broker {
	if l == nil {
		l = applogger.Nop()
	}
	return &Broker{cash: decimal.NewFromFloat(startingCash), log: l}
}

// Mark sets the bar whose close fills subsequent orders.
func (b *Broker) Mark(date time.Time, close float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.date = date
	b.price = decimal.NewFromFloat(close)
	b.priced = true
}

// SubmitBuy buys size units at the current close.
func (b *Broker) SubmitBuy(_ context.Context, size float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.priced {
		return ErrNoPrice
	}
	qty := decimal.NewFromFloat(size)
	if !qty.IsPositive() {
		return ErrInvalidSize
	}

	cost := qty.Mul(b.price)
	if cost.GreaterThan(b.cash) {
		// cash/price sizing can overshoot by float rounding
		if cost.Sub(b.cash).GreaterThan(cashRoundingTolerance.Mul(b.cash)) {
			return fmt.Errorf("%w: cost %s, cash %s", ErrInsufficientCash, cost.StringFixed(2), b.cash.StringFixed(2))
		}
		cost = b.cash
	}

	b.cash = b.cash.Sub(cost)
	b.position = b.position.Add(qty)
	b.fills = append(b.fills, Fill{Date: b.date, Side: Buy, Size: size, Price: b.price.InexactFloat64()})
	b.log.Debug("buy filled",
		applogger.Day("date", b.date), applogger.Float64("size", size), applogger.Float64("price", b.price.InexactFloat64()))
	return nil
}

// SubmitClose sells the whole position at the current close. Closing a flat account is a no-op.
func (b *Broker) SubmitClose(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.priced {
		return ErrNoPrice
	}
	if b.position.IsZero() {
		return nil
	}

	size := b.position
	b.cash = b.cash.Add(size.Mul(b.price))
	b.position = decimal.Zero
	b.fills = append(b.fills, Fill{Date: b.date, Side: Sell, Size: size.InexactFloat64(), Price: b.price.InexactFloat64()})
	b.log.Debug("position closed",
		applogger.Day("date", b.date), applogger.Float64("size", size.InexactFloat64()), applogger.Float64("price", b.price.InexactFloat64()))
	return nil
}

// Cash returns available cash.
func (b *Broker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash.InexactFloat64()
}

// Position returns the units held.
func (b *Broker) Position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position.InexactFloat64()
}

// Value returns cash plus the position marked at the current close.
func (b *Broker) Value() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash.Add(b.position.Mul(b.price)).InexactFloat64()
}

// Fills returns a copy of the executed orders.
func (b *Broker) Fills() []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

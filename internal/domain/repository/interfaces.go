package repository

import (
	"context"
	"time"

	"PivotPull/internal/domain/models"
)

// PatternSource fetches provider data for one session.
type PatternSource interface {
	Login(ctx context.Context) error
	GetUser(ctx context.Context) (*models.User, error)
	GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error)
	GetPatterns(ctx context.Context, inst *models.Instrument, user *models.User, startMillis, endMillis int64) (models.RawPayload, error)
}

// PatternFilter selects and types the patterns of one subtype from a raw payload.
type PatternFilter interface {
	Filter(payload models.RawPayload) ([]models.CupWithHandle, error)
}

// PatternStore persists flattened, decoded pattern records per symbol.
type PatternStore interface {
	Save(ctx context.Context, symbol string, patterns []models.CupWithHandle) error
	Load(ctx context.Context, symbol string) ([]models.CupWithHandle, error)
}

// PriceLookup answers the close of a calendar day. Missing days return models.ErrPriceNotFound.
type PriceLookup interface {
	CloseOn(date time.Time) (float64, error)
}

// PriceSeries is a finite daily series replayed bar by bar.
type PriceSeries interface {
	PriceLookup
	Bars() []models.DailyPrice
}

// PriceSource loads the daily series of a symbol.
type PriceSource interface {
	Series(ctx context.Context, symbol string) (PriceSeries, error)
}

// OrderSink receives the engine's orders.
type OrderSink interface {
	SubmitBuy(ctx context.Context, size float64) error
	SubmitClose(ctx context.Context) error
}

// DecisionPublisher forwards audited decisions downstream.
type DecisionPublisher interface {
	Publish(ctx context.Context, d models.Decision) error
	Close() error
}

// Metrics records pipeline and engine activity.
type Metrics interface {
	RecordDecision(action, rule string)
	RecordError(kind string)
	RecordPatterns(symbol string, n int)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	"PivotPull/internal/repository"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fakePrices map[string]float64

func (f fakePrices) CloseOn(date time.Time) (float64, error) {
	c, ok := f[date.Format("2006-01-02")]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrPriceNotFound, date.Format("2006-01-02"))
	}
	return c, nil
}

type fakeOrders struct {
	buys   []float64
	closes int
	err    error
}

func (f *fakeOrders) SubmitBuy(_ context.Context, size float64) error {
	if f.err != nil {
		return f.err
	}
	f.buys = append(f.buys, size)
	return nil
}

func (f *fakeOrders) SubmitClose(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.closes++
	return nil
}

type fakePublisher struct {
	decisions []models.Decision
}

func (f *fakePublisher) Publish(_ context.Context, d models.Decision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeMetrics struct {
	decisions map[string]int
	errors    map[string]int
	patterns  map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{decisions: map[string]int{}, errors: map[string]int{}, patterns: map[string]int{}}
}

func (m *fakeMetrics) RecordDecision(action, rule string) { m.decisions[action+"/"+rule]++ }
func (m *fakeMetrics) RecordError(kind string) { m.errors[kind]++ }
func (m *fakeMetrics) RecordPatterns(symbol string, n int) { m.patterns[symbol] += n }
func (m *fakeMetrics) RecordLastPrice(string, float64) {}
func (m *fakeMetrics) RecordLatency(string, float64) {}

type fakePriceSource struct {
	bars []models.DailyPrice
	err  error
}

func (f fakePriceSource) Series(context.Context, string) (domrepo.PriceSeries, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, err := repository.NewDailySeries(f.bars)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// cup builds a typed pattern with the dates the engine reads.
func cup(baseID int, handleLow, pivotDate string) models.CupWithHandle {
	return models.CupWithHandle{
		BaseID:         baseID,
		PatternType:    models.PatternTypeCupWithHandle,
		HandleLowDate:  day(handleLow),
		PivotPriceDate: day(pivotDate),
	}
}

var errBroker = errors.New("broker unavailable")

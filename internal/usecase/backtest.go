package usecase

import (
	"context"
	"fmt"
	"time"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	"PivotPull/internal/service/broker"
	applogger "PivotPull/pkg/logger"

	"github.com/google/uuid"
)

// BacktestConfig controls a replay.
type BacktestConfig struct {
	StartingCash float64
	HaltOnError  bool
	Engine       EngineConfig
}

// Backtester replays a symbol's daily closes through a fresh SignalEngine
// against a simulated cheat-on-close broker.
type Backtester struct {
	prices  domrepo.PriceSource
	pub     domrepo.DecisionPublisher
	metrics domrepo.Metrics
	log     *applogger.Logger
	cfg     BacktestConfig
	newID   func() string
	now     func() time.Time
}

// NewBacktester creates a Backtester. pub and metrics may be nil.
func NewBacktester(prices domrepo.PriceSource, pub domrepo.DecisionPublisher, metrics domrepo.Metrics, l *applogger.Logger, cfg BacktestConfig) *Backtester {
	if l == nil {
		l = applogger.Nop()
	}
	return &Backtester{
		prices:  prices,
		pub:     pub,
		metrics: metrics,
		log:     l,
		cfg:     cfg,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Run replays every bar of symbol in ascending date order. With HaltOnError
// the first engine error aborts the run; otherwise the bar is counted as
// failed and the replay continues.
func (b *Backtester) Run(ctx context.Context, symbol string, patterns []models.CupWithHandle) (*models.BacktestReport, error) {
	series, err := b.prices.Series(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load prices for %s: %w", symbol, err)
	}

	report := &models.BacktestReport{
		RunID:         b.newID(),
		Symbol:        symbol,
		Patterns:      len(patterns),
		StartingValue: b.cfg.StartingCash,
		StartedAt:     b.now(),
		Trades:        []models.Decision{},
	}
	log := b.log.With(applogger.String("run_id", report.RunID), applogger.String("symbol", symbol))

	acct := broker.New(b.cfg.StartingCash, log)
	opts := []EngineOption{
		WithEngineConfig(b.cfg.Engine),
		WithEngineLogger(log),
		WithRun(report.RunID, symbol),
	}
	if b.pub != nil {
		opts = append(opts, WithDecisionPublisher(b.pub))
	}
	if b.metrics != nil {
		opts = append(opts, WithEngineMetrics(b.metrics))
	}
	engine := NewSignalEngine(patterns, series, acct, opts...)

	log.Info("backtest started",
		applogger.Int("patterns", len(patterns)),
		applogger.Int("bars", len(series.Bars())),
		applogger.Float64("cash", b.cfg.StartingCash),
	)

	for _, bar := range series.Bars() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acct.Mark(bar.Date, bar.Close)
		report.Bars++

		d, err := engine.Next(ctx, models.Bar{Date: bar.Date, Price: bar.Close, Cash: acct.Cash()})
		if err != nil {
			report.FailedBars++
			if b.cfg.HaltOnError {
				return nil, fmt.Errorf("backtest %s halted on %s: %w", symbol, bar.Date.Format("2006-01-02"), err)
			}
			log.Warn("bar evaluation failed", applogger.Day("date", bar.Date), applogger.Error(err))
			continue
		}
		if d.IsTrade() {
			report.Trades = append(report.Trades, d)
		}
	}

	report.FinalValue = acct.Value()
	report.FinishedAt = b.now()
	if b.metrics != nil {
		b.metrics.RecordLatency("backtest", report.FinishedAt.Sub(report.StartedAt).Seconds())
	}

	log.Info("backtest finished",
		applogger.Int("bars", report.Bars),
		applogger.Int("failed_bars", report.FailedBars),
		applogger.Int("trades", len(report.Trades)),
		applogger.Float64("starting_value", report.StartingValue),
		applogger.Float64("final_value", report.FinalValue),
	)
	return report, nil
}

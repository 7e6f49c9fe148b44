package usecase

import (
	"context"
	"fmt"
	"strings"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	applogger "PivotPull/pkg/logger"
	"PivotPull/pkg/util"

	"github.com/shopspring/decimal"
)

// EngineConfig holds the entry and exit rules.
type EngineConfig struct {
	EntryWindowDays int     // entry only while 0 < days since handle low < EntryWindowDays
	DecayDays       int     // exit once days since handle low >= DecayDays
	TakeProfit      float64 // exit when price >= TakeProfit * pivot
	StopLoss        float64 // exit when price <= StopLoss * pivot
}

// DefaultEngineConfig returns the 28-day window, +15% and -5% rules.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{EntryWindowDays: 28, DecayDays: 28, TakeProfit: 1.15, StopLoss: 0.95}
}

// EngineOption configures SignalEngine.
type EngineOption func(*SignalEngine)

// WithEngineConfig overrides the rules.
func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *SignalEngine) { e.cfg = cfg }
}

// WithEngineLogger sets the decision logger.
func WithEngineLogger(l *applogger.Logger) EngineOption {
	return func(e *SignalEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEngineMetrics records decisions and errors.
func WithEngineMetrics(m domrepo.Metrics) EngineOption {
	return func(e *SignalEngine) { e.metrics = m }
}

// WithDecisionPublisher forwards entry and exit decisions.
func WithDecisionPublisher(p domrepo.DecisionPublisher) EngineOption {
	return func(e *SignalEngine) { e.pub = p }
}

// WithRun tags decisions with a run id and symbol.
func WithRun(runID, symbol string) EngineOption {
	return func(e *SignalEngine) {
		e.runID = runID
		e.symbol = symbol
	}
}

// position is the LONG state. pattern points into the engine's pattern slice.
type position struct {
	pattern    *models.CupWithHandle
	entryPrice float64
	pivot      float64
}

// SignalEngine is the per-bar FLAT/LONG state machine for one instrument.
// It is not safe for concurrent use; each run owns its own engine.
type SignalEngine struct {
	patterns []models.CupWithHandle
	prices   domrepo.PriceLookup
	orders   domrepo.OrderSink
	pub      domrepo.DecisionPublisher
	metrics  domrepo.Metrics
	log      *applogger.Logger
	cfg      EngineConfig
	runID    string
	symbol   string

	long *position
}

// NewSignalEngine creates a FLAT engine over patterns. patterns is read, never modified.
func NewSignalEngine(patterns []models.CupWithHandle, prices domrepo.PriceLookup, orders domrepo.OrderSink, opts ...EngineOption) *SignalEngine {
	e := &SignalEngine{
		patterns: patterns,
		prices:   prices,
		orders:   orders,
		log:      applogger.Nop(),
		cfg:      DefaultEngineConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Long reports whether a position is open.
func (e *SignalEngine) Long() bool { return e.long != nil }

// Position returns the open position's pattern, entry price and pivot.
func (e *SignalEngine) Position() (pattern *models.CupWithHandle, entryPrice, pivot float64, ok bool) {
	if e.long == nil {
		return nil, 0, 0, false
	}
	return e.long.pattern, e.long.entryPrice, e.long.pivot, true
}

// Next evaluates one bar. Errors leave the state unchanged.
func (e *SignalEngine) Next(ctx context.Context, bar models.Bar) (models.Decision, error) {
	bar.Date = util.Day(bar.Date)
	e.recordPrice(bar.Price)

	var (
		d   models.Decision
		err error
	)
	if e.long == nil {
		d, err = e.evaluateEntry(ctx, bar)
	} else {
		d, err = e.evaluateExit(ctx, bar)
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("engine")
		}
		return d, err
	}

	e.record(ctx, d)
	return d, nil
}

func (e *SignalEngine) decision(bar models.Bar, action models.Action) models.Decision {
	return models.Decision{
		RunID:  e.runID,
		Symbol: e.symbol,
		Date:   bar.Date,
		Action: action,
		Price:  bar.Price,
	}
}

// eligible returns the first pattern, in given order, whose handle low lies
// strictly between 0 and EntryWindowDays days before date.
func (e *SignalEngine) eligible(bar models.Bar) *models.CupWithHandle {
	for i := range e.patterns {
		days := util.DaysBetween(e.patterns[i].HandleLowDate, bar.Date)
		if days > 0 && days < e.cfg.EntryWindowDays {
			return &e.patterns[i]
		}
	}
	return nil
}

func (e *SignalEngine) evaluateEntry(ctx context.Context, bar models.Bar) (models.Decision, error) {
	d := e.decision(bar, models.ActionSkip)

	p := e.eligible(bar)
	if p == nil {
		return d, nil
	}
	d.BaseID = p.BaseID

	pivot, err := e.prices.CloseOn(p.PivotPriceDate)
	if err != nil {
		return d, fmt.Errorf("pivot for base %d on %s: %w", p.BaseID, util.FormatDay(p.PivotPriceDate), err)
	}
	d.PivotPrice = pivot
	d.Action = models.ActionHold

	if decimal.NewFromFloat(bar.Price).LessThan(decimal.NewFromFloat(pivot)) {
		return d, nil
	}

	if bar.Price <= 0 || bar.Cash <= 0 {
		e.log.Warn("breakout without cash to deploy",
			applogger.Day("date", bar.Date),
			applogger.Float64("price", bar.Price),
			applogger.Float64("cash", bar.Cash),
			applogger.Int("base_id", p.BaseID),
		)
		return d, nil
	}

	size := bar.Cash / bar.Price
	if err := e.orders.SubmitBuy(ctx, size); err != nil {
		return d, fmt.Errorf("submit buy: %w", err)
	}

	e.long = &position{pattern: p, entryPrice: bar.Price, pivot: pivot}
	d.Action = models.ActionBuy
	d.Rules = []models.Rule{models.RulePivotBreakout}
	d.Size = size
	return d, nil
}

func (e *SignalEngine) evaluateExit(ctx context.Context, bar models.Bar) (models.Decision, error) {
	pos := e.long
	d := e.decision(bar, models.ActionHold)
	d.BaseID = pos.pattern.BaseID
	d.PivotPrice = pos.pivot

	price := decimal.NewFromFloat(bar.Price)
	pivot := decimal.NewFromFloat(pos.pivot)

	if price.GreaterThanOrEqual(pivot.Mul(decimal.NewFromFloat(e.cfg.TakeProfit))) {
		d.Rules = append(d.Rules, models.RuleTakeProfit)
	}
	if price.LessThanOrEqual(pivot.Mul(decimal.NewFromFloat(e.cfg.StopLoss))) {
		d.Rules = append(d.Rules, models.RuleStopLoss)
	}
	if util.DaysBetween(pos.pattern.HandleLowDate, bar.Date) >= e.cfg.DecayDays {
		d.Rules = append(d.Rules, models.RuleTimeDecay)
	}
	if len(d.Rules) == 0 {
		return d, nil
	}

	if err := e.orders.SubmitClose(ctx); err != nil {
		d.Rules = nil
		return d, fmt.Errorf("submit close: %w", err)
	}
	e.long = nil
	d.Action = models.ActionClose
	return d, nil
}

func (e *SignalEngine) recordPrice(price float64) {
	if e.metrics != nil && e.symbol != "" {
		e.metrics.RecordLastPrice(e.symbol, price)
	}
}

func (e *SignalEngine) record(ctx context.Context, d models.Decision) {
	if e.metrics != nil {
		e.metrics.RecordDecision(string(d.Action), ruleLabel(d.Rules))
	}
	if !d.IsTrade() {
		return
	}

	fields := []applogger.Field{
		applogger.String("symbol", e.symbol),
		applogger.Day("date", d.Date),
		applogger.Float64("price", d.Price),
		applogger.Float64("pivot", d.PivotPrice),
		applogger.Int("base_id", d.BaseID),
		applogger.String("rule", ruleLabel(d.Rules)),
	}
	if d.Action == models.ActionBuy {
		e.log.Info("position opened", append(fields, applogger.Float64("size", d.Size))...)
	} else {
		e.log.Info("position closed", fields...)
	}

	if e.pub != nil {
		if err := e.pub.Publish(ctx, d); err != nil {
			e.log.Warn("publish decision failed", applogger.Error(err))
			if e.metrics != nil {
				e.metrics.RecordError("publish")
			}
		}
	}
}

func ruleLabel(rules []models.Rule) string {
	if len(rules) == 0 {
		return "none"
	}
	s := make([]string, len(rules))
	for i, r := range rules {
		s[i] = string(r)
	}
	return strings.Join(s, "+")
}

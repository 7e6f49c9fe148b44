package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	applogger "PivotPull/pkg/logger"
	"PivotPull/pkg/util"
)

// Extractor runs the user -> instrument -> patterns -> filter pipeline over
// one injected provider session.
type Extractor struct {
	source  domrepo.PatternSource
	filter  domrepo.PatternFilter
	store   domrepo.PatternStore
	metrics domrepo.Metrics
	log     *applogger.Logger

	mu       sync.Mutex
	loggedIn bool
	now      func() time.Time
}

// NewExtractor creates an Extractor. store and metrics may be nil.
func NewExtractor(source domrepo.PatternSource, filter domrepo.PatternFilter, store domrepo.PatternStore, metrics domrepo.Metrics, l *applogger.Logger) *Extractor {
	if l == nil {
		l = applogger.Nop()
	}
	return &Extractor{source: source, filter: filter, store: store, metrics: metrics, log: l, now: time.Now}
}

// session logs in once per Extractor.
func (x *Extractor) session(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.loggedIn {
		return nil
	}
	if err := x.source.Login(ctx); err != nil {
		return err
	}
	x.loggedIn = true
	return nil
}

// Extract fetches and filters the patterns of symbol between two epoch-millisecond bounds.
func (x *Extractor) Extract(ctx context.Context, symbol string, startMillis, endMillis int64) ([]models.CupWithHandle, error) {
	start := time.Now()
	symbol = util.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}

	if err := x.session(ctx); err != nil {
		return nil, x.fail("login", fmt.Errorf("login: %w", err))
	}
	user, err := x.source.GetUser(ctx)
	if err != nil {
		return nil, x.fail("get_user", err)
	}
	inst, err := x.source.GetInstrument(ctx, symbol)
	if err != nil {
		return nil, x.fail("get_instrument", err)
	}
	payload, err := x.source.GetPatterns(ctx, inst, user, startMillis, endMillis)
	if err != nil {
		return nil, x.fail("get_patterns", err)
	}
	patterns, err := x.filter.Filter(payload)
	if err != nil {
		return nil, x.fail("normalize", fmt.Errorf("normalize %s: %w", symbol, err))
	}

	if x.metrics != nil {
		x.metrics.RecordPatterns(symbol, len(patterns))
		x.metrics.RecordLatency("extract", time.Since(start).Seconds())
	}
	x.log.Info("patterns extracted",
		applogger.String("symbol", symbol),
		applogger.Int("count", len(patterns)),
		applogger.Duration("took", time.Since(start)),
	)
	return patterns, nil
}

// ExtractDays is Extract with YYYY-MM-DD bounds; an empty end means today.
func (x *Extractor) ExtractDays(ctx context.Context, symbol, startDay, endDay string) ([]models.CupWithHandle, error) {
	startMillis, endMillis, err := x.bounds(startDay, endDay)
	if err != nil {
		return nil, err
	}
	return x.Extract(ctx, symbol, startMillis, endMillis)
}

// ExtractAndStore extracts symbol's patterns and persists them.
func (x *Extractor) ExtractAndStore(ctx context.Context, symbol, startDay, endDay string) ([]models.CupWithHandle, error) {
	if x.store == nil {
		return nil, errors.New("no pattern store configured")
	}
	patterns, err := x.ExtractDays(ctx, symbol, startDay, endDay)
	if err != nil {
		return nil, err
	}
	if err := x.store.Save(ctx, util.NormalizeSymbol(symbol), patterns); err != nil {
		return nil, x.fail("store", fmt.Errorf("store %s: %w", symbol, err))
	}
	return patterns, nil
}

// ExtractAll extracts and stores every symbol in order, stopping at the first error.
func (x *Extractor) ExtractAll(ctx context.Context, symbols []string, startDay, endDay string) (int, error) {
	total := 0
	for _, s := range symbols {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		patterns, err := x.ExtractAndStore(ctx, s, startDay, endDay)
		if err != nil {
			return total, fmt.Errorf("%s: %w", s, err)
		}
		total += len(patterns)
	}
	return total, nil
}

func (x *Extractor) bounds(startDay, endDay string) (int64, int64, error) {
	if endDay == "" {
		endDay = x.now().Format(util.DayLayout)
	}
	start, err := util.DayToMillis(startDay)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: start: %w", models.ErrInvalidRange, err)
	}
	end, err := util.DayToMillis(endDay)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: end: %w", models.ErrInvalidRange, err)
	}
	if end < start {
		return 0, 0, fmt.Errorf("%w: end %s is before start %s", models.ErrInvalidRange, endDay, startDay)
	}
	return start, end, nil
}

func (x *Extractor) fail(stage string, err error) error {
	if x.metrics != nil {
		x.metrics.RecordError(stage)
	}
	x.log.Error("extraction failed", applogger.String("stage", stage), applogger.Error(err))
	return err
}

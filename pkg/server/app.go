package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	"PivotPull/internal/repository"
	"PivotPull/pkg/config"
	xhttp "PivotPull/pkg/http"
	applogger "PivotPull/pkg/logger"
	"PivotPull/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
)

// Run modes.
const (
	ModeTickers  = "tickers"
	ModeExtract  = "extract"
	ModeBacktest = "backtest"
	ModeRun      = "run"
	ModeServe    = "serve"
)

// ErrNoCredentials is returned by modes that talk to the pattern provider without credentials.
var ErrNoCredentials = errors.New("marketsmith credentials are not configured (MS_USERNAME, MS_PASSWORD, MS_API_KEY)")

// Extractor is the extraction pipeline as used by the app.
type Extractor interface {
	ExtractDays(ctx context.Context, symbol, startDay, endDay string) ([]models.CupWithHandle, error)
	ExtractAndStore(ctx context.Context, symbol, startDay, endDay string) ([]models.CupWithHandle, error)
	ExtractAll(ctx context.Context, symbols []string, startDay, endDay string) (int, error)
}

// Backtester replays a symbol's prices against its patterns.
type Backtester interface {
	Run(ctx context.Context, symbol string, patterns []models.CupWithHandle) (*models.BacktestReport, error)
}

// ConstituentSource lists index members.
type ConstituentSource interface {
	Constituents(ctx context.Context, endpoint string) ([]models.Constituent, error)
}

// App runs one mode of the pipeline with fully wired dependencies.
type App struct {
	cfg          *config.Config
	log          *applogger.Logger
	registry     *prometheus.Registry
	extractor    Extractor
	backtester   Backtester
	store        domrepo.PatternStore
	constituents ConstituentSource
	httpHandler  xhttp.Handler
	healthChecks []xhttp.HealthCheck
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	extractor Extractor,
	backtester Backtester,
	store domrepo.PatternStore,
	constituents ConstituentSource,
	h xhttp.Handler,
	checks ...xhttp.HealthCheck,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:          cfg,
		log:          l,
		registry:     reg,
		extractor:    extractor,
		backtester:   backtester,
		store:        store,
		constituents: constituents,
		httpHandler:  h,
		healthChecks: checks,
	}
}

// Run executes mode and returns when it completes or ctx is cancelled.
func (a *App) Run(ctx context.Context, mode string) error {
	start := time.Now()
	a.log.Info("starting", applogger.String("mode", mode))

	var err error
	switch strings.ToLower(mode) {
	case ModeTickers:
		err = a.tickers(ctx)
	case ModeExtract:
		err = a.extract(ctx)
	case ModeBacktest:
		err = a.backtest(ctx)
	case ModeRun:
		err = a.run(ctx)
	case ModeServe:
		err = a.serve(ctx)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", mode, err)
	}

	a.log.Info("done", applogger.String("mode", mode), applogger.Duration("took", time.Since(start)))
	return nil
}

func (a *App) tickers(ctx context.Context) error {
	list, err := a.constituents.Constituents(ctx, a.cfg.FMP.ConstituentsURL)
	if err != nil {
		return err
	}
	if err := repository.WriteTickers(a.cfg.Extract.TickersFile, list); err != nil {
		return err
	}
	a.log.Info("tickers written",
		applogger.String("path", a.cfg.Extract.TickersFile),
		applogger.Int("count", len(list)),
	)
	return nil
}

func (a *App) extract(ctx context.Context) error {
	if !a.cfg.HasCredentials() {
		return ErrNoCredentials
	}
	ex := a.cfg.Extract

	if ex.Ticker != "" {
		patterns, err := a.extractor.ExtractAndStore(ctx, ex.Ticker, ex.Start, ex.End)
		if err != nil {
			return err
		}
		a.log.Info("patterns stored", applogger.String("symbol", ex.Ticker), applogger.Int("count", len(patterns)))
		return nil
	}

	symbols, err := repository.LoadTickers(ex.TickersFile)
	if err != nil {
		return err
	}
	n, err := a.extractor.ExtractAll(ctx, symbols, ex.Start, ex.End)
	if err != nil {
		return err
	}
	a.log.Info("patterns stored", applogger.Int("symbols", len(symbols)), applogger.Int("count", n))
	return nil
}

func (a *App) backtest(ctx context.Context) error {
	symbol, err := a.ticker()
	if err != nil {
		return err
	}
	patterns, err := a.store.Load(ctx, symbol)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	return a.replay(ctx, symbol, patterns)
}

func (a *App) run(ctx context.Context) error {
	if !a.cfg.HasCredentials() {
		return ErrNoCredentials
	}
	symbol, err := a.ticker()
	if err != nil {
		return err
	}
	patterns, err := a.extractor.ExtractDays(ctx, symbol, a.cfg.Extract.Start, a.cfg.Extract.End)
	if err != nil {
		return err
	}
	return a.replay(ctx, symbol, patterns)
}

func (a *App) replay(ctx context.Context, symbol string, patterns []models.CupWithHandle) error {
	report, err := a.backtester.Run(ctx, symbol, patterns)
	if err != nil {
		return err
	}
	a.log.Info("backtest report",
		applogger.String("run_id", report.RunID),
		applogger.String("symbol", report.Symbol),
		applogger.Int("patterns", report.Patterns),
		applogger.Int("trades", len(report.Trades)),
		applogger.Float64("starting_value", report.StartingValue),
		applogger.Float64("final_value", report.FinalValue),
	)
	return nil
}

func (a *App) serve(ctx context.Context) error {
	if !a.cfg.HasCredentials() {
		return ErrNoCredentials
	}

	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(a.cfg.Metrics.Path, a.registry))
	}
	for _, hc := range a.healthChecks {
		opts = append(opts, xhttp.WithHealthCheck(hc.Name, hc.Check))
	}
	srv := xhttp.NewServer(a.httpHandler, a.log, opts...)

	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return srv.Stop(context.Background())
}

func (a *App) ticker() (string, error) {
	if a.cfg.Extract.Ticker == "" {
		return "", errors.New("extract.ticker (or TICKER) is required")
	}
	return util.NormalizeSymbol(a.cfg.Extract.Ticker), nil
}

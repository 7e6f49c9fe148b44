package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"PivotPull/internal/domain/models"
	"PivotPull/internal/repository"
	"PivotPull/pkg/config"
	xhttp "PivotPull/pkg/http"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeExtractor struct {
	stored  []string
	all     []string
	fetched string
}

func (f *fakeExtractor) ExtractDays(_ context.Context, symbol, _, _ string) ([]models.CupWithHandle, error) {
	f.fetched = symbol
	return []models.CupWithHandle{{BaseID: 1}}, nil
}

func (f *fakeExtractor) ExtractAndStore(_ context.Context, symbol, _, _ string) ([]models.CupWithHandle, error) {
	f.stored = append(f.stored, symbol)
	return []models.CupWithHandle{{BaseID: 1}}, nil
}

func (f *fakeExtractor) ExtractAll(_ context.Context, symbols []string, _, _ string) (int, error) {
	f.all = symbols
	return len(symbols), nil
}

type fakeBacktester struct {
	symbol   string
	patterns int
}

func (f *fakeBacktester) Run(_ context.Context, symbol string, patterns []models.CupWithHandle) (*models.BacktestReport, error) {
	f.symbol, f.patterns = symbol, len(patterns)
	return &models.BacktestReport{RunID: "r", Symbol: symbol, Patterns: len(patterns)}, nil
}

type fakeStore struct{ loaded string }

func (f *fakeStore) Save(context.Context, string, []models.CupWithHandle) error { return nil }

func (f *fakeStore) Load(_ context.Context, symbol string) ([]models.CupWithHandle, error) {
	f.loaded = symbol
	return []models.CupWithHandle{{BaseID: 1}, {BaseID: 2}}, nil
}

type fakeConstituents struct{}

func (fakeConstituents) Constituents(context.Context, string) ([]models.Constituent, error) {
	return []models.Constituent{{Symbol: "AAPL", Name: "Apple"}, {Symbol: "MSFT", Name: "Microsoft"}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	cfg.MarketSmith.Username, cfg.MarketSmith.Password, cfg.MarketSmith.APIKey = "u", "p", "k"
	cfg.Extract.TickersFile = filepath.Join(t.TempDir(), "tickers.csv")
	return cfg
}

func newTestApp(cfg *config.Config) (*App, *fakeExtractor, *fakeBacktester, *fakeStore) {
	x, bt, st := &fakeExtractor{}, &fakeBacktester{}, &fakeStore{}
	return New(cfg, nil, nil, x, bt, st, fakeConstituents{}, nil), x, bt, st
}

func TestTickersThenExtractAll(t *testing.T) {
	cfg := testConfig(t)
	app, x, _, _ := newTestApp(cfg)

	if err := app.Run(context.Background(), ModeTickers); err != nil {
		t.Fatalf("tickers: %v", err)
	}
	symbols, err := repository.LoadTickers(cfg.Extract.TickersFile)
	if err != nil || len(symbols) != 2 {
		t.Fatalf("expected two tickers, got %v %v", symbols, err)
	}

	if err := app.Run(context.Background(), ModeExtract); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(x.all) != 2 || x.all[0] != "AAPL" || x.stored != nil {
		t.Fatalf("expected batch extraction of the tickers file, got all=%v stored=%v", x.all, x.stored)
	}
}

func TestExtractSingleTicker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extract.Ticker = "NVDA"
	app, x, _, _ := newTestApp(cfg)

	if err := app.Run(context.Background(), ModeExtract); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(x.stored) != 1 || x.stored[0] != "NVDA" {
		t.Fatalf("expected NVDA stored, got %v", x.stored)
	}
}

func TestBacktestUsesStoredPatterns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extract.Ticker = " nvda "
	app, x, bt, st := newTestApp(cfg)

	if err := app.Run(context.Background(), ModeBacktest); err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if st.loaded != "NVDA" || bt.symbol != "NVDA" || bt.patterns != 2 || x.fetched != "" {
		t.Fatalf("unexpected calls: store=%q backtest=%+v extract=%q", st.loaded, bt, x.fetched)
	}
}

func TestRunExtractsThenBacktests(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extract.Ticker = "NVDA"
	app, x, bt, _ := newTestApp(cfg)

	if err := app.Run(context.Background(), ModeRun); err != nil {
		t.Fatalf("run: %v", err)
	}
	if x.fetched != "NVDA" || bt.patterns != 1 {
		t.Fatalf("unexpected calls: extract=%q backtest=%+v", x.fetched, bt)
	}
}

func TestRunRequiresTickerAndCredentials(t *testing.T) {
	cfg := testConfig(t)
	app, _, _, _ := newTestApp(cfg)
	if err := app.Run(context.Background(), ModeBacktest); err == nil {
		t.Fatalf("expected missing ticker error")
	}

	cfg.MarketSmith.Password = ""
	cfg.Extract.Ticker = "NVDA"
	if err := app.Run(context.Background(), ModeRun); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}

func TestUnknownMode(t *testing.T) {
	app, _, _, _ := newTestApp(testConfig(t))
	if err := app.Run(context.Background(), "stream"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServeAnswersUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = freePort(t)
	var checked atomic.Int32
	check := xhttp.HealthCheck{Name: "clickhouse", Check: func(context.Context) error {
		checked.Add(1)
		return nil
	}}
	app := New(cfg, nil, prometheus.NewRegistry(), &fakeExtractor{}, &fakeBacktester{}, &fakeStore{}, fakeConstituents{}, nil, check)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, ModeServe) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if checked.Load() == 0 {
		t.Fatalf("health checks must run on /healthz")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop after cancellation")
	}
}

func TestServeRequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.MarketSmith.APIKey = ""
	app, _, _, _ := newTestApp(cfg)
	if err := app.Run(context.Background(), ModeServe); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}

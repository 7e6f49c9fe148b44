package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PivotPull/internal/domain/models"
)

const yahooCSV = `Date,Open,High,Low,Close,Adj Close,Volume
2020-01-13,101,116,100,115,115,1000
2020-01-10,99,101,98,100,100,900
2020-01-11,null,null,null,null,null,null
2020-01-14,115,116,94,95,95,1200
`

func TestCSVPriceSourceSeries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(yahooCSV), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	series, err := NewCSVPriceSource(dir).Series(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("series: %v", err)
	}

	bars := series.Bars()
	if len(bars) != 3 {
		t.Fatalf("expected null row skipped, got %d bars", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i-1].Date.Before(bars[i].Date) {
			t.Fatalf("bars not ascending: %v then %v", bars[i-1].Date, bars[i].Date)
		}
	}
	if bars[0].Close != 100 || bars[0].Volume != 900 || bars[0].AdjClose != 100 {
		t.Fatalf("unexpected first bar %+v", bars[0])
	}

	c, err := series.CloseOn(day("2020-01-13"))
	if err != nil || c != 115 {
		t.Fatalf("close on 2020-01-13: %v %v", c, err)
	}
	if _, err := series.CloseOn(day("2020-01-11")); !errors.Is(err, models.ErrPriceNotFound) {
		t.Fatalf("expected price not found, got %v", err)
	}
}

func TestDailySeriesRejectsDuplicates(t *testing.T) {
	_, err := NewDailySeries([]models.DailyPrice{
		{Date: day("2020-01-10"), Close: 1},
		{Date: day("2020-01-10"), Close: 2},
	})
	if err == nil {
		t.Fatalf("expected duplicate date error")
	}
}

func TestReadYahooCSVRequiresColumns(t *testing.T) {
	if _, err := ReadYahooCSV(strings.NewReader("Day,Price\n2020-01-01,1\n")); err == nil {
		t.Fatalf("expected missing column error")
	}
}

func TestTickersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "tickers.csv")
	hq := "Cupertino"
	err := WriteTickers(path, []models.Constituent{
		{Symbol: "AAPL", Name: "Apple", HeadQuarter: &hq},
		{Symbol: "KO", Name: "Coca-Cola"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadTickers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "KO" {
		t.Fatalf("unexpected tickers %v", got)
	}
}

package repository

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	"PivotPull/pkg/util"
)

// DailySeries is an in-memory, date-ordered daily price series.
type DailySeries struct {
	bars  []models.DailyPrice
	close map[time.Time]float64
}

// NewDailySeries sorts bars by date and rejects duplicate days.
func NewDailySeries(bars []models.DailyPrice) (*DailySeries, error) {
	sorted := make([]models.DailyPrice, len(bars))
	copy(sorted, bars)
	for i := range sorted {
		sorted[i].Date = util.Day(sorted[i].Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	closes := make(map[time.Time]float64, len(sorted))
	for _, b := range sorted {
		if _, dup := closes[b.Date]; dup {
			return nil, fmt.Errorf("duplicate price for %s", util.FormatDay(b.Date))
		}
		closes[b.Date] = b.Close
	}
	return &DailySeries{bars: sorted, close: closes}, nil
}

// CloseOn returns the close of date's calendar day.
func (s *DailySeries) CloseOn(date time.Time) (float64, error) {
	c, ok := s.close[util.Day(date)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrPriceNotFound, util.FormatDay(date))
	}
	return c, nil
}

// Bars returns the series in ascending date order.
func (s *DailySeries) Bars() []models.DailyPrice {
	return s.bars
}

// CSVPriceSource reads Yahoo-style daily CSV files named <SYMBOL>.csv.
type CSVPriceSource struct {
	dir string
}

// NewCSVPriceSource creates a source reading from dir.
func NewCSVPriceSource(dir string) *CSVPriceSource {
	return &CSVPriceSource{dir: dir}
}

var _ domrepo.PriceSource = (*CSVPriceSource)(nil)

// Series loads the daily series of symbol.
func (s *CSVPriceSource) Series(_ context.Context, symbol string) (domrepo.PriceSeries, error) {
	path := filepath.Join(s.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prices: %w", err)
	}
	defer f.Close()

	bars, err := ReadYahooCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewDailySeries(bars)
}

// ReadYahooCSV parses Date,Open,High,Low,Close,Adj Close,Volume rows.
// Rows whose close is null or empty are skipped.
func ReadYahooCSV(r io.Reader) ([]models.DailyPrice, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"Date", "Close"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(rec []string, name string) (float64, bool, error) {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return 0, false, nil
		}
		v := strings.TrimSpace(rec[i])
		if v == "" || v == "null" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		return f, true, err
	}

	var out []models.DailyPrice
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		closePrice, ok, err := field(rec, "Close")
		if err != nil {
			return nil, fmt.Errorf("line %d close: %w", line, err)
		}
		if !ok {
			continue
		}
		d, err := util.ParseDay(rec[idx["Date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		bar := models.DailyPrice{Date: d, Close: closePrice}
		for name, dst := range map[string]*float64{
			"Open": &bar.Open, "High": &bar.High, "Low": &bar.Low,
			"Adj Close": &bar.AdjClose, "Volume": &bar.Volume,
		} {
			v, _, err := field(rec, name)
			if err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, strings.ToLower(name), err)
			}
			*dst = v
		}
		out = append(out, bar)
	}
	return out, nil
}

// CHPriceSource reads daily closes from a ClickHouse table with (symbol, day, close).
type CHPriceSource struct {
	db    *sql.DB
	table string
}

// NewCHPriceSource creates a source on table, usually "<db>.daily_prices".
func NewCHPriceSource(db *sql.DB, table string) *CHPriceSource {
	return &CHPriceSource{db: db, table: table}
}

var _ domrepo.PriceSource = (*CHPriceSource)(nil)

// Series loads the daily series of symbol.
func (s *CHPriceSource) Series(ctx context.Context, symbol string) (domrepo.PriceSeries, error) {
	q := fmt.Sprintf("SELECT day, close FROM %s WHERE symbol = ? ORDER BY day ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var bars []models.DailyPrice
	for rows.Next() {
		var b models.DailyPrice
		if err := rows.Scan(&b.Date, &b.Close); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return NewDailySeries(bars)
}

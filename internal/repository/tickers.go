package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"PivotPull/internal/domain/models"
)

var tickersHeader = []string{"symbol", "name", "sector", "subSector", "headQuarter", "dateFirstAdded", "cik", "founded"}

// WriteTickers overwrites path with one row per constituent.
func WriteTickers(path string, constituents []models.Constituent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tickers dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create tickers file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(tickersHeader); err != nil {
		return err
	}
	for _, c := range constituents {
		if err := w.Write([]string{
			c.Symbol, c.Name, c.Sector, c.SubSector,
			optional(c.HeadQuarter), c.DateFirstAdded, optional(c.CIK), optional(c.Founded),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// LoadTickers returns the symbol column of a tickers file in file order.
func LoadTickers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tickers file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read tickers header: %w", err)
	}
	col := -1
	for i, h := range header {
		if h == "symbol" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("tickers file %s has no symbol column", path)
	}

	var out []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tickers: %w", err)
		}
		if col < len(rec) && rec[col] != "" {
			out = append(out, rec[col])
		}
	}
	return out, nil
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

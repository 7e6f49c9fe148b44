package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	applogger "PivotPull/pkg/logger"
)

// CSVPatternStore appends patterns of every symbol to one CSV file.
type CSVPatternStore struct {
	mu   sync.Mutex
	path string
	l    *applogger.Logger
}

// NewCSVPatternStore creates a store writing to path.
func NewCSVPatternStore(path string, l *applogger.Logger) domrepo.PatternStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CSVPatternStore{path: path, l: l}
}

// Save appends one row per pattern. The header is written only when the file is empty.
func (s *CSVPatternStore) Save(_ context.Context, symbol string, patterns []models.CupWithHandle) error {
	if len(patterns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create pattern dir: %w", err)
	}

	header := patternHeader()
	existing, err := s.readHeader()
	if err != nil {
		return err
	}
	if existing != nil && !slices.Equal(existing, header) {
		return fmt.Errorf("%w: %s has header %v", models.ErrSchemaMismatch, s.path, existing)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open patterns file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if existing == nil {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i := range patterns {
		if err := w.Write(patternRecord(symbol, &patterns[i])); err != nil {
			return fmt.Errorf("write pattern: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush patterns: %w", err)
	}

	s.l.Info("patterns stored",
		applogger.String("symbol", symbol),
		applogger.Int("count", len(patterns)),
		applogger.String("path", s.path),
	)
	return nil
}

// Load returns the stored patterns of symbol in file order.
func (s *CSVPatternStore) Load(_ context.Context, symbol string) ([]models.CupWithHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open patterns file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []models.CupWithHandle
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		sym, p, err := parsePatternRecord(header, rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if sym != symbol {
			continue
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// readHeader returns nil when the file is missing or empty.
func (s *CSVPatternStore) readHeader() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open patterns file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	return header, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	applogger "PivotPull/pkg/logger"
	"PivotPull/pkg/util"

	"github.com/parquet-go/parquet-go"
)

// patternRow is the parquet layout of a pattern. Dates are YYYY-MM-DD.
type patternRow struct {
	Symbol                  string  `parquet:"symbol"`
	BaseID                  int64   `parquet:"baseID"`
	BaseStartDate           string  `parquet:"baseStartDate"`
	BaseEndDate             string  `parquet:"baseEndDate"`
	BaseNumber              int64   `parquet:"baseNumber"`
	BaseStage               string  `parquet:"baseStage"`
	BaseStatus              int64   `parquet:"baseStatus"`
	PivotPriceDate          string  `parquet:"pivotPriceDate"`
	BaseLength              int64   `parquet:"baseLength"`
	Periodicity             int64   `parquet:"periodicity"`
	VersionID               string  `parquet:"versionID"`
	LeftSideHighDate        string  `parquet:"leftSideHighDate"`
	PatternType             int64   `parquet:"patternType"`
	FirstBottomDate         string  `parquet:"firstBottomDate"`
	HandleLowDate           string  `parquet:"handleLowDate"`
	HandleStartDate         string  `parquet:"handleStartDate"`
	CupEndDate              string  `parquet:"cupEndDate"`
	UpBars                  int64   `parquet:"UpBars"`
	BlueBars                int64   `parquet:"BlueBars"`
	StallBars               int64   `parquet:"StallBars"`
	UpVolumeTotal           int64   `parquet:"UpVolumeTotal"`
	DownBars                int64   `parquet:"DownBars"`
	RedBars                 int64   `parquet:"RedBars"`
	SupportBars             int64   `parquet:"SupportBars"`
	DownVolumeTotal         int64   `parquet:"DownVolumeTotal"`
	BaseDepth               float64 `parquet:"BaseDepth"`
	AvgVolumeRatePctOnPivot float64 `parquet:"AvgVolumeRatePctOnPivot"`
	VolumePctChangeOnPivot  float64 `parquet:"VolumePctChangeOnPivot"`
	PricePctChangeOnPivot   float64 `parquet:"PricePctChangeOnPivot"`
	HandleDepth             float64 `parquet:"HandleDepth"`
	HandleLength            int64   `parquet:"HandleLength"`
	CupLength               int64   `parquet:"CupLength"`
	Extra                   string  `parquet:"extra,optional"`
}

func toPatternRow(symbol string, p *models.CupWithHandle) patternRow {
	extra, _ := encodeExtra(p.Extra)
	return patternRow{
		Symbol:                  symbol,
		BaseID:                  int64(p.BaseID),
		BaseStartDate:           util.FormatDay(p.BaseStartDate),
		BaseEndDate:             util.FormatDay(p.BaseEndDate),
		BaseNumber:              int64(p.BaseNumber),
		BaseStage:               p.BaseStage,
		BaseStatus:              int64(p.BaseStatus),
		PivotPriceDate:          util.FormatDay(p.PivotPriceDate),
		BaseLength:              int64(p.BaseLength),
		Periodicity:             int64(p.Periodicity),
		VersionID:               p.VersionID,
		LeftSideHighDate:        util.FormatDay(p.LeftSideHighDate),
		PatternType:             int64(p.PatternType),
		FirstBottomDate:         util.FormatDay(p.FirstBottomDate),
		HandleLowDate:           util.FormatDay(p.HandleLowDate),
		HandleStartDate:         util.FormatDay(p.HandleStartDate),
		CupEndDate:              util.FormatDay(p.CupEndDate),
		UpBars:                  int64(p.UpBars),
		BlueBars:                int64(p.BlueBars),
		StallBars:               int64(p.StallBars),
		UpVolumeTotal:           int64(p.UpVolumeTotal),
		DownBars:                int64(p.DownBars),
		RedBars:                 int64(p.RedBars),
		SupportBars:             int64(p.SupportBars),
		DownVolumeTotal:         int64(p.DownVolumeTotal),
		BaseDepth:               p.BaseDepth,
		AvgVolumeRatePctOnPivot: p.AvgVolumeRatePctOnPivot,
		VolumePctChangeOnPivot:  p.VolumePctChangeOnPivot,
		PricePctChangeOnPivot:   p.PricePctChangeOnPivot,
		HandleDepth:             p.HandleDepth,
		HandleLength:            int64(p.HandleLength),
		CupLength:               int64(p.CupLength),
		Extra:                   extra,
	}
}

func (r patternRow) toModel() (models.CupWithHandle, error) {
	p := models.CupWithHandle{
		BaseID:                  int(r.BaseID),
		BaseNumber:              int(r.BaseNumber),
		BaseStage:               r.BaseStage,
		BaseStatus:              int(r.BaseStatus),
		BaseLength:              int(r.BaseLength),
		Periodicity:             int(r.Periodicity),
		VersionID:               r.VersionID,
		PatternType:             int(r.PatternType),
		UpBars:                  int(r.UpBars),
		BlueBars:                int(r.BlueBars),
		StallBars:               int(r.StallBars),
		UpVolumeTotal:           int(r.UpVolumeTotal),
		DownBars:                int(r.DownBars),
		RedBars:                 int(r.RedBars),
		SupportBars:             int(r.SupportBars),
		DownVolumeTotal:         int(r.DownVolumeTotal),
		BaseDepth:               r.BaseDepth,
		AvgVolumeRatePctOnPivot: r.AvgVolumeRatePctOnPivot,
		VolumePctChangeOnPivot:  r.VolumePctChangeOnPivot,
		PricePctChangeOnPivot:   r.PricePctChangeOnPivot,
		HandleDepth:             r.HandleDepth,
		HandleLength:            int(r.HandleLength),
		CupLength:               int(r.CupLength),
	}

	var err error
	set := func(raw string, dst *time.Time) {
		if err != nil || raw == "" {
			return
		}
		*dst, err = util.ParseDay(raw)
	}
	set(r.BaseStartDate, &p.BaseStartDate)
	set(r.BaseEndDate, &p.BaseEndDate)
	set(r.PivotPriceDate, &p.PivotPriceDate)
	set(r.LeftSideHighDate, &p.LeftSideHighDate)
	set(r.FirstBottomDate, &p.FirstBottomDate)
	set(r.HandleLowDate, &p.HandleLowDate)
	set(r.HandleStartDate, &p.HandleStartDate)
	set(r.CupEndDate, &p.CupEndDate)
	if err != nil {
		return p, err
	}

	if p.Extra, err = decodeExtra(r.Extra); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// ParquetPatternStore keeps one parquet file per symbol under dir.
type ParquetPatternStore struct {
	mu  sync.Mutex
	dir string
	l   *applogger.Logger
}

// NewParquetPatternStore creates a store rooted at dir.
func NewParquetPatternStore(dir string, l *applogger.Logger) domrepo.PatternStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ParquetPatternStore{dir: dir, l: l}
}

func (s *ParquetPatternStore) path(symbol string) string {
	return filepath.Join(s.dir, symbol+".parquet")
}

// Save appends patterns to the symbol's file by rewriting it.
func (s *ParquetPatternStore) Save(_ context.Context, symbol string, patterns []models.CupWithHandle) error {
	if len(patterns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}

	rows, err := s.read(symbol)
	if err != nil {
		return err
	}
	for i := range patterns {
		rows = append(rows, toPatternRow(symbol, &patterns[i]))
	}

	path := s.path(symbol)
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace parquet: %w", err)
	}

	s.l.Info("patterns stored",
		applogger.String("symbol", symbol),
		applogger.Int("count", len(patterns)),
		applogger.String("path", path),
	)
	return nil
}

// Load returns the stored patterns of symbol in write order.
func (s *ParquetPatternStore) Load(_ context.Context, symbol string) ([]models.CupWithHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.read(symbol)
	if err != nil {
		return nil, err
	}
	out := make([]models.CupWithHandle, 0, len(rows))
	for i, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("parquet row %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *ParquetPatternStore) read(symbol string) ([]patternRow, error) {
	path := s.path(symbol)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[patternRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}

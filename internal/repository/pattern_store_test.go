package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"PivotPull/internal/domain/models"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func samplePattern(baseID int) models.CupWithHandle {
	return models.CupWithHandle{
		BaseID:                  baseID,
		BaseStartDate:           day("2019-11-01"),
		BaseEndDate:             day("2020-01-10"),
		BaseNumber:              2,
		BaseStage:               "2a",
		BaseStatus:              1,
		PivotPriceDate:          day("2020-01-10"),
		BaseLength:              7,
		Periodicity:             1,
		VersionID:               "v1",
		LeftSideHighDate:        day("2019-11-01"),
		PatternType:             1,
		FirstBottomDate:         day("2019-12-01"),
		HandleLowDate:           day("2020-01-01"),
		HandleStartDate:         day("2019-12-20"),
		CupEndDate:              day("2019-12-20"),
		UpBars:                  10,
		BlueBars:                3,
		StallBars:               1,
		UpVolumeTotal:           123456,
		DownBars:                5,
		RedBars:                 2,
		SupportBars:             4,
		DownVolumeTotal:         65432,
		BaseDepth:               12.5,
		AvgVolumeRatePctOnPivot: 40.25,
		VolumePctChangeOnPivot:  -3.5,
		PricePctChangeOnPivot:   1.75,
		HandleDepth:             4.2,
		HandleLength:            9,
		CupLength:               40,
		Extra:                   map[string]string{"rsLine": "up"},
	}
}

func TestCSVPatternStoreWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "patterns.csv")
	store := NewCSVPatternStore(path, nil)
	ctx := context.Background()

	if err := store.Save(ctx, "AAPL", []models.CupWithHandle{samplePattern(1), samplePattern(2)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "MSFT", []models.CupWithHandle{samplePattern(3)}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines", len(lines))
	}
	if strings.Count(string(b), "baseID,") != 1 {
		t.Fatalf("header written more than once")
	}
	if !strings.HasSuffix(lines[0], ",extra,symbol") {
		t.Fatalf("unexpected header %s", lines[0])
	}

	got, err := store.Load(ctx, "AAPL")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].BaseID != 1 || got[1].BaseID != 2 {
		t.Fatalf("unexpected AAPL patterns %+v", got)
	}
	want := samplePattern(1)
	if !reflect.DeepEqual(got[0], want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got[0], want)
	}
}

func TestCSVPatternStoreRejectsDifferentHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.csv")
	if err := os.WriteFile(path, []byte("a,b,symbol\n1,2,AAPL\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewCSVPatternStore(path, nil)
	err := store.Save(context.Background(), "AAPL", []models.CupWithHandle{samplePattern(1)})
	if !errors.Is(err, models.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestCSVPatternStoreEmptyFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewCSVPatternStore(path, nil)
	if err := store.Save(context.Background(), "AAPL", []models.CupWithHandle{samplePattern(1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(b), "baseID,") {
		t.Fatalf("expected header at top, got %q", b)
	}
}

func TestCSVPatternStoreLoadMissingFile(t *testing.T) {
	store := NewCSVPatternStore(filepath.Join(t.TempDir(), "none.csv"), nil)
	got, err := store.Load(context.Background(), "AAPL")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty load, got %v %v", got, err)
	}
}

func TestParquetPatternStoreAppendsPerSymbol(t *testing.T) {
	dir := t.TempDir()
	store := NewParquetPatternStore(dir, nil)
	ctx := context.Background()

	if err := store.Save(ctx, "AAPL", []models.CupWithHandle{samplePattern(1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "AAPL", []models.CupWithHandle{samplePattern(2)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "AAPL.parquet")); err != nil {
		t.Fatalf("expected per-symbol file: %v", err)
	}

	got, err := store.Load(ctx, "AAPL")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].BaseID != 1 || got[1].BaseID != 2 {
		t.Fatalf("unexpected patterns %+v", got)
	}
	if !reflect.DeepEqual(got[0], samplePattern(1)) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got[0], samplePattern(1))
	}

	none, err := store.Load(ctx, "MSFT")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected nothing for MSFT, got %v %v", none, err)
	}
}

func TestCHPatternStoreStatements(t *testing.T) {
	s := NewCHPatternStore(nil, "pivotpull.cup_with_handles", nil)

	ddl := s.SchemaStatements()[0]
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS pivotpull.cup_with_handles",
		"handleLowDate Date",
		"BaseDepth Float64",
		"baseID Int64",
		"extra String",
		"ORDER BY (symbol, saved_at, seq)",
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q: %s", want, ddl)
		}
	}

	q := s.insertQuery(2)
	if strings.Count(q, "?") != 2*(len(patternColumns)+3) {
		t.Fatalf("unexpected placeholder count in %s", q)
	}
}

func TestParsePatternRecordFieldCount(t *testing.T) {
	_, _, err := parsePatternRecord([]string{"baseID", "symbol"}, []string{"1"})
	if !errors.Is(err, models.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func withoutHandleLow(baseID int) models.CupWithHandle {
	p := samplePattern(baseID)
	p.HandleLowDate = time.Time{}
	return p
}

func TestCSVPatternStoreLoadRejectsEmptyDate(t *testing.T) {
	store := NewCSVPatternStore(filepath.Join(t.TempDir(), "patterns.csv"), nil)
	ctx := context.Background()

	if err := store.Save(ctx, "AAPL", []models.CupWithHandle{samplePattern(1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "MSFT", []models.CupWithHandle{withoutHandleLow(2)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if got, err := store.Load(ctx, "AAPL"); err != nil || len(got) != 1 {
		t.Fatalf("other symbols must not fail the load: %v %v", got, err)
	}
	if _, err := store.Load(ctx, "MSFT"); !errors.Is(err, models.ErrInvalidPatternRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
}

func TestParquetPatternStoreLoadRejectsEmptyDate(t *testing.T) {
	store := NewParquetPatternStore(t.TempDir(), nil)
	ctx := context.Background()

	if err := store.Save(ctx, "AAPL", []models.CupWithHandle{samplePattern(1), withoutHandleLow(2)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Load(ctx, "AAPL"); !errors.Is(err, models.ErrInvalidPatternRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
}

func scanRow(p models.CupWithHandle) []any {
	dest := make([]any, len(patternColumns))
	for i, c := range patternColumns {
		d := c.scanDest()
		switch v := c.typed(&p).(type) {
		case int64:
			*d.(*int64) = v
		case float64:
			*d.(*float64) = v
		case time.Time:
			*d.(*time.Time) = v
		case string:
			*d.(*string) = v
		}
		dest[i] = d
	}
	return dest
}

func TestScannedPatternValidates(t *testing.T) {
	got, err := scannedPattern(scanRow(samplePattern(1)))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got.BaseID != 1 || !got.HandleLowDate.Equal(day("2020-01-01")) {
		t.Fatalf("unexpected pattern %+v", got)
	}

	if _, err := scannedPattern(scanRow(withoutHandleLow(2))); !errors.Is(err, models.ErrInvalidPatternRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
}

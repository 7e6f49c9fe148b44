package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PivotPull/internal/domain/models"
	"PivotPull/pkg/util"
)

const (
	extraColumn  = "extra"
	symbolColumn = "symbol"
)

type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindFloat
	kindDate
)

// column maps one CupWithHandle field to its flat string form.
type column struct {
	name string
	kind columnKind
	get  func(p *models.CupWithHandle) string
	set  func(p *models.CupWithHandle, v string) error
}

// typed returns the field as int64, float64, time.Time or string.
func (c column) typed(p *models.CupWithHandle) any {
	v := c.get(p)
	switch c.kind {
	case kindInt:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case kindFloat:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case kindDate:
		d, _ := util.ParseDay(v)
		return d
	default:
		return v
	}
}

// scanDest returns a pointer suitable for sql.Rows.Scan.
func (c column) scanDest() any {
	switch c.kind {
	case kindInt:
		return new(int64)
	case kindFloat:
		return new(float64)
	case kindDate:
		return new(time.Time)
	default:
		return new(string)
	}
}

// setScanned assigns a value produced by scanDest.
func (c column) setScanned(p *models.CupWithHandle, dest any) error {
	var v string
	switch d := dest.(type) {
	case *int64:
		v = strconv.FormatInt(*d, 10)
	case *float64:
		v = strconv.FormatFloat(*d, 'f', -1, 64)
	case *time.Time:
		v = util.FormatDay(util.Day(*d))
	case *string:
		v = *d
	}
	if v == "" && c.kind != kindString {
		return nil
	}
	return c.set(p, v)
}

func intColumn(name string, f func(p *models.CupWithHandle) *int) column {
	return column{
		name: name,
		kind: kindInt,
		get:  func(p *models.CupWithHandle) string { return strconv.Itoa(*f(p)) },
		set: func(p *models.CupWithHandle, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*f(p) = n
			return nil
		},
	}
}

func floatColumn(name string, f func(p *models.CupWithHandle) *float64) column {
	return column{
		name: name,
		kind: kindFloat,
		get:  func(p *models.CupWithHandle) string { return strconv.FormatFloat(*f(p), 'f', -1, 64) },
		set: func(p *models.CupWithHandle, v string) error {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*f(p) = n
			return nil
		},
	}
}

func stringColumn(name string, f func(p *models.CupWithHandle) *string) column {
	return column{
		name: name,
		get:  func(p *models.CupWithHandle) string { return *f(p) },
		set: func(p *models.CupWithHandle, v string) error {
			*f(p) = v
			return nil
		},
	}
}

func dateColumn(name string) column {
	return column{
		name: name,
		kind: kindDate,
		get:  func(p *models.CupWithHandle) string { return util.FormatDay(*dateField(p, name)) },
		set: func(p *models.CupWithHandle, v string) error {
			d, err := util.ParseDay(v)
			if err != nil {
				return err
			}
			*dateField(p, name) = d
			return nil
		},
	}
}

// patternColumns is the persisted column order: model fields, then extra.
var patternColumns = []column{
	intColumn("baseID", func(p *models.CupWithHandle) *int { return &p.BaseID }),
	dateColumn("baseStartDate"),
	dateColumn("baseEndDate"),
	intColumn("baseNumber", func(p *models.CupWithHandle) *int { return &p.BaseNumber }),
	stringColumn("baseStage", func(p *models.CupWithHandle) *string { return &p.BaseStage }),
	intColumn("baseStatus", func(p *models.CupWithHandle) *int { return &p.BaseStatus }),
	dateColumn("pivotPriceDate"),
	intColumn("baseLength", func(p *models.CupWithHandle) *int { return &p.BaseLength }),
	intColumn("periodicity", func(p *models.CupWithHandle) *int { return &p.Periodicity }),
	stringColumn("versionID", func(p *models.CupWithHandle) *string { return &p.VersionID }),
	dateColumn("leftSideHighDate"),
	intColumn("patternType", func(p *models.CupWithHandle) *int { return &p.PatternType }),
	dateColumn("firstBottomDate"),
	dateColumn("handleLowDate"),
	dateColumn("handleStartDate"),
	dateColumn("cupEndDate"),
	intColumn("UpBars", func(p *models.CupWithHandle) *int { return &p.UpBars }),
	intColumn("BlueBars", func(p *models.CupWithHandle) *int { return &p.BlueBars }),
	intColumn("StallBars", func(p *models.CupWithHandle) *int { return &p.StallBars }),
	intColumn("UpVolumeTotal", func(p *models.CupWithHandle) *int { return &p.UpVolumeTotal }),
	intColumn("DownBars", func(p *models.CupWithHandle) *int { return &p.DownBars }),
	intColumn("RedBars", func(p *models.CupWithHandle) *int { return &p.RedBars }),
	intColumn("SupportBars", func(p *models.CupWithHandle) *int { return &p.SupportBars }),
	intColumn("DownVolumeTotal", func(p *models.CupWithHandle) *int { return &p.DownVolumeTotal }),
	floatColumn("BaseDepth", func(p *models.CupWithHandle) *float64 { return &p.BaseDepth }),
	floatColumn("AvgVolumeRatePctOnPivot", func(p *models.CupWithHandle) *float64 { return &p.AvgVolumeRatePctOnPivot }),
	floatColumn("VolumePctChangeOnPivot", func(p *models.CupWithHandle) *float64 { return &p.VolumePctChangeOnPivot }),
	floatColumn("PricePctChangeOnPivot", func(p *models.CupWithHandle) *float64 { return &p.PricePctChangeOnPivot }),
	floatColumn("HandleDepth", func(p *models.CupWithHandle) *float64 { return &p.HandleDepth }),
	intColumn("HandleLength", func(p *models.CupWithHandle) *int { return &p.HandleLength }),
	intColumn("CupLength", func(p *models.CupWithHandle) *int { return &p.CupLength }),
	{
		name: extraColumn,
		get: func(p *models.CupWithHandle) string {
			s, _ := encodeExtra(p.Extra)
			return s
		},
		set: func(p *models.CupWithHandle, v string) error {
			m, err := decodeExtra(v)
			if err != nil {
				return err
			}
			p.Extra = m
			return nil
		},
	},
}

func dateField(p *models.CupWithHandle, name string) *time.Time {
	switch name {
	case "baseStartDate":
		return &p.BaseStartDate
	case "baseEndDate":
		return &p.BaseEndDate
	case "pivotPriceDate":
		return &p.PivotPriceDate
	case "leftSideHighDate":
		return &p.LeftSideHighDate
	case "firstBottomDate":
		return &p.FirstBottomDate
	case "handleLowDate":
		return &p.HandleLowDate
	case "handleStartDate":
		return &p.HandleStartDate
	case "cupEndDate":
		return &p.CupEndDate
	}
	panic("unknown date column " + name)
}

// patternHeader is the flat file header: every column plus the symbol.
func patternHeader() []string {
	h := make([]string, 0, len(patternColumns)+1)
	for _, c := range patternColumns {
		h = append(h, c.name)
	}
	return append(h, symbolColumn)
}

func patternRecord(symbol string, p *models.CupWithHandle) []string {
	rec := make([]string, 0, len(patternColumns)+1)
	for _, c := range patternColumns {
		rec = append(rec, c.get(p))
	}
	return append(rec, symbol)
}

// parsePatternRecord decodes rec laid out as header. Columns missing from header keep zero values.
func parsePatternRecord(header, rec []string) (string, models.CupWithHandle, error) {
	var p models.CupWithHandle
	if len(rec) != len(header) {
		return "", p, fmt.Errorf("%w: %d fields, header has %d", models.ErrSchemaMismatch, len(rec), len(header))
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}

	for _, c := range patternColumns {
		i, ok := idx[c.name]
		if !ok {
			continue
		}
		if c.name != extraColumn && rec[i] == "" {
			continue
		}
		if err := c.set(&p, rec[i]); err != nil {
			return "", p, fmt.Errorf("column %s: %w", c.name, err)
		}
	}

	var symbol string
	if i, ok := idx[symbolColumn]; ok {
		symbol = rec[i]
	}
	return symbol, p, nil
}

func encodeExtra(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeExtra(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode extra: %w", err)
	}
	return m, nil
}

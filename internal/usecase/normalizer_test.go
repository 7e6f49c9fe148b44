package usecase

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PivotPull/internal/domain/models"
	"PivotPull/pkg/util"
)

const (
	msJan01 = int64(1577865600000) // 2020-01-01T08:00:00Z
	msJan10 = int64(1578643200000) // 2020-01-10T08:00:00Z
	msPre70 = int64(-86400000 * 400)
)

func rawCup(baseID int, patternType int) map[string]any {
	enc := func(ms int64) string { return util.EncodeMSDate(ms, "-0700") }
	return map[string]any{
		"baseID":           float64(baseID),
		"baseStartDate":    enc(msPre70),
		"baseEndDate":      enc(msJan10),
		"baseNumber":       float64(1),
		"baseStage":        "1",
		"baseStatus":       float64(0),
		"pivotPriceDate":   enc(msJan01),
		"baseLength":       float64(8),
		"periodicity":      float64(1),
		"versionID":        "7",
		"leftSideHighDate": enc(msPre70),
		"patternType":      float64(patternType),
		"firstBottomDate":  enc(msJan01),
		"handleLowDate":    enc(msJan01),
		"handleStartDate":  enc(msJan01),
		"cupEndDate":       enc(msJan01),
		"properties": []any{
			map[string]any{"Key": "UpBars", "Value": float64(10)},
			map[string]any{"Key": "BlueBars", "Value": float64(2)},
			map[string]any{"Key": "StallBars", "Value": float64(1)},
			map[string]any{"Key": "UpVolumeTotal", "Value": "123456"},
			map[string]any{"Key": "DownBars", "Value": float64(4)},
			map[string]any{"Key": "RedBars", "Value": float64(1)},
			map[string]any{"Key": "SupportBars", "Value": float64(3)},
			map[string]any{"Key": "DownVolumeTotal", "Value": float64(5000)},
			map[string]any{"Key": "BaseDepth", "Value": 12.5},
			map[string]any{"Key": "AvgVolumeRatePctOnPivot", "Value": "40.5"},
			map[string]any{"Key": "VolumePctChangeOnPivot", "Value": -3.25},
			map[string]any{"Key": "PricePctChangeOnPivot", "Value": 1.5},
			map[string]any{"Key": "HandleDepth", "Value": 4.0},
			map[string]any{"Key": "HandleLength", "Value": float64(6)},
			map[string]any{"Key": "CupLength", "Value": float64(30)},
			map[string]any{"Key": "X", "Value": "v"},
		},
	}
}

func TestFilterKeepsOnlyHandleSubtype(t *testing.T) {
	payload := models.RawPayload{
		models.PatternKeyCupWithHandles: []any{rawCup(1, 1), rawCup(2, 2), rawCup(3, 1), rawCup(4, 0)},
	}

	got, err := NewCupWithHandleFilter("", 0).Filter(payload)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(got) != 2 || got[0].BaseID != 1 || got[1].BaseID != 3 {
		t.Fatalf("expected bases 1 and 3 in order, got %+v", got)
	}
	for _, p := range got {
		if p.PatternType != models.PatternTypeCupWithHandle {
			t.Fatalf("unexpected pattern type %d", p.PatternType)
		}
	}
}

func TestFilterDropsQuotedPatternType(t *testing.T) {
	quoted := rawCup(2, 1)
	quoted["patternType"] = "1"
	number := rawCup(3, 1)
	number["patternType"] = json.Number("1")

	got, err := NewCupWithHandleFilter("", 0).Filter(models.RawPayload{
		models.PatternKeyCupWithHandles: []any{rawCup(1, 1), quoted, number},
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(got) != 2 || got[0].BaseID != 1 || got[1].BaseID != 3 {
		t.Fatalf("expected bases 1 and 3, got %+v", got)
	}
}

func TestFilterFlattensProperties(t *testing.T) {
	payload := models.RawPayload{models.PatternKeyCupWithHandles: []any{rawCup(1, 1)}}

	got, err := NewCupWithHandleFilter("", 0).Filter(payload)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	p := got[0]
	if p.Extra["X"] != "v" {
		t.Fatalf("expected flattened X=v, got %v", p.Extra)
	}
	if _, ok := p.Extra[models.PropertiesField]; ok {
		t.Fatalf("properties must not survive flattening: %v", p.Extra)
	}
	if p.UpBars != 10 || p.UpVolumeTotal != 123456 || p.AvgVolumeRatePctOnPivot != 40.5 || p.CupLength != 30 {
		t.Fatalf("property values not merged: %+v", p)
	}
	if !p.HandleLowDate.Equal(util.DateFromMillis(msJan01)) {
		t.Fatalf("handleLowDate decoded to %v", p.HandleLowDate)
	}
	if !p.BaseStartDate.Equal(util.DateFromMillis(msPre70)) {
		t.Fatalf("negative epoch decoded to %v, want %v", p.BaseStartDate, util.DateFromMillis(msPre70))
	}
	if p.BaseStartDate.Year() != 1968 && p.BaseStartDate.Year() != 1969 {
		t.Fatalf("pre-epoch date decoded to year %d", p.BaseStartDate.Year())
	}
}

func TestFilterPropertyOverwritesField(t *testing.T) {
	rec := rawCup(1, 1)
	rec["properties"] = append(rec["properties"].([]any), map[string]any{"Key": "baseStage", "Value": "3"})

	got, err := NewCupWithHandleFilter("", 0).Filter(models.RawPayload{models.PatternKeyCupWithHandles: []any{rec}})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if got[0].BaseStage != "3" {
		t.Fatalf("property should overwrite baseStage, got %q", got[0].BaseStage)
	}
	if _, ok := rec["properties"]; !ok {
		t.Fatalf("filter must not mutate the payload")
	}
}

func TestFilterMissingKeyIsEmpty(t *testing.T) {
	got, err := NewCupWithHandleFilter("", 0).Filter(models.RawPayload{"flatBases": []any{}})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFilterAbortsBatchOnBadRecord(t *testing.T) {
	bad := rawCup(2, 1)
	delete(bad, "cupEndDate")

	_, err := NewCupWithHandleFilter("", 0).Filter(models.RawPayload{
		models.PatternKeyCupWithHandles: []any{rawCup(1, 1), bad, rawCup(3, 1)},
	})
	if !errors.Is(err, models.ErrInvalidPatternRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
}

func TestFilterPropagatesInvalidDate(t *testing.T) {
	bad := rawCup(1, 1)
	bad["handleLowDate"] = "2020-01-01"

	_, err := NewCupWithHandleFilter("", 0).Filter(models.RawPayload{models.PatternKeyCupWithHandles: []any{bad}})
	if !errors.Is(err, models.ErrInvalidPatternRecord) || !errors.Is(err, models.ErrInvalidDateFormat) {
		t.Fatalf("expected invalid record wrapping invalid date, got %v", err)
	}
}

func TestFilterRejectsNonObjects(t *testing.T) {
	for name, payload := range map[string]models.RawPayload{
		"not a list":      {models.PatternKeyCupWithHandles: "oops"},
		"not an object":   {models.PatternKeyCupWithHandles: []any{"oops"}},
		"no pattern type": {models.PatternKeyCupWithHandles: []any{map[string]any{"baseID": 1.0}}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewCupWithHandleFilter("", 0).Filter(payload); !errors.Is(err, models.ErrInvalidPatternRecord) {
				t.Fatalf("expected invalid record, got %v", err)
			}
		})
	}
}

func TestFilterDatesAreCalendarDays(t *testing.T) {
	got, err := NewCupWithHandleFilter("", 0).Filter(models.RawPayload{models.PatternKeyCupWithHandles: []any{rawCup(1, 1)}})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	d := got[0].PivotPriceDate
	if d.Hour() != 0 || d.Minute() != 0 || d.Location() != time.UTC {
		t.Fatalf("expected a midnight UTC civil date, got %v", d)
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"PivotPull/pkg/util"

	"github.com/go-playground/validator/v10"
)

// PatternTypeCupWithHandle is the provider subtype code for a cup that has a handle.
const PatternTypeCupWithHandle = 1

// PatternKeyCupWithHandles is the payload key holding cup patterns (with or without handle).
const PatternKeyCupWithHandles = "cupWithHandles"

// PropertiesField is the auxiliary key/value list flattened into each record.
const PropertiesField = "properties"

// RawPayload is the loosely typed patterns response, keyed by pattern category.
type RawPayload map[string]any

// PatternProperty is one auxiliary {Key, Value} pair attached to a raw record.
type PatternProperty struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

// CupWithHandle is one base/handle formation reported by the provider. Immutable once built.
type CupWithHandle struct {
	BaseID           int       `json:"baseID"`
	BaseStartDate    time.Time `json:"baseStartDate" validate:"required"`
	BaseEndDate      time.Time `json:"baseEndDate" validate:"required"`
	BaseNumber       int       `json:"baseNumber"`
	BaseStage        string    `json:"baseStage"`
	BaseStatus       int       `json:"baseStatus"`
	PivotPriceDate   time.Time `json:"pivotPriceDate" validate:"required"`
	BaseLength       int       `json:"baseLength"`
	Periodicity      int       `json:"periodicity"`
	VersionID        string    `json:"versionID"`
	LeftSideHighDate time.Time `json:"leftSideHighDate" validate:"required"`
	PatternType      int       `json:"patternType" validate:"required"`
	FirstBottomDate  time.Time `json:"firstBottomDate" validate:"required"`
	HandleLowDate    time.Time `json:"handleLowDate" validate:"required"`
	HandleStartDate  time.Time `json:"handleStartDate" validate:"required"`
	CupEndDate       time.Time `json:"cupEndDate" validate:"required"`

	UpBars                  int     `json:"UpBars"`
	BlueBars                int     `json:"BlueBars"`
	StallBars               int     `json:"StallBars"`
	UpVolumeTotal           int     `json:"UpVolumeTotal"`
	DownBars                int     `json:"DownBars"`
	RedBars                 int     `json:"RedBars"`
	SupportBars             int     `json:"SupportBars"`
	DownVolumeTotal         int     `json:"DownVolumeTotal"`
	BaseDepth               float64 `json:"BaseDepth"`
	AvgVolumeRatePctOnPivot float64 `json:"AvgVolumeRatePctOnPivot"`
	VolumePctChangeOnPivot  float64 `json:"VolumePctChangeOnPivot"`
	PricePctChangeOnPivot   float64 `json:"PricePctChangeOnPivot"`
	HandleDepth             float64 `json:"HandleDepth"`
	HandleLength            int     `json:"HandleLength"`
	CupLength               int     `json:"CupLength"`

	// Extra holds provider keys the model does not name, rendered as strings.
	Extra map[string]string `json:"extra,omitempty"`
}

var validate = validator.New()

// NewCupWithHandle builds a typed record from a flattened field map.
// Every modeled field is required; unknown keys go to Extra.
func NewCupWithHandle(fields map[string]any) (*CupWithHandle, error) {
	r := fieldReader{fields: fields}
	p := &CupWithHandle{
		BaseID:           r.int("baseID"),
		BaseStartDate:    r.date("baseStartDate"),
		BaseEndDate:      r.date("baseEndDate"),
		BaseNumber:       r.int("baseNumber"),
		BaseStage:        r.str("baseStage"),
		BaseStatus:       r.int("baseStatus"),
		PivotPriceDate:   r.date("pivotPriceDate"),
		BaseLength:       r.int("baseLength"),
		Periodicity:      r.int("periodicity"),
		VersionID:        r.str("versionID"),
		LeftSideHighDate: r.date("leftSideHighDate"),
		PatternType:      r.int("patternType"),
		FirstBottomDate:  r.date("firstBottomDate"),
		HandleLowDate:    r.date("handleLowDate"),
		HandleStartDate:  r.date("handleStartDate"),
		CupEndDate:       r.date("cupEndDate"),

		UpBars:                  r.int("UpBars"),
		BlueBars:                r.int("BlueBars"),
		StallBars:               r.int("StallBars"),
		UpVolumeTotal:           r.int("UpVolumeTotal"),
		DownBars:                r.int("DownBars"),
		RedBars:                 r.int("RedBars"),
		SupportBars:             r.int("SupportBars"),
		DownVolumeTotal:         r.int("DownVolumeTotal"),
		BaseDepth:               r.float("BaseDepth"),
		AvgVolumeRatePctOnPivot: r.float("AvgVolumeRatePctOnPivot"),
		VolumePctChangeOnPivot:  r.float("VolumePctChangeOnPivot"),
		PricePctChangeOnPivot:   r.float("PricePctChangeOnPivot"),
		HandleDepth:             r.float("HandleDepth"),
		HandleLength:            r.int("HandleLength"),
		CupLength:               r.int("CupLength"),
	}
	if r.err != nil {
		return nil, r.err
	}
	p.Extra = r.extra()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports a missing required date or subtype as ErrInvalidPatternRecord.
func (p *CupWithHandle) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatternRecord, err)
	}
	return nil
}

// fieldReader coerces loosely typed values, keeping the first error.
type fieldReader struct {
	fields map[string]any
	used   map[string]struct{}
	err    error
}

func (r *fieldReader) take(key string) (any, bool) {
	if r.used == nil {
		r.used = make(map[string]struct{})
	}
	r.used[key] = struct{}{}
	if r.err != nil {
		return nil, false
	}
	v, ok := r.fields[key]
	if !ok || v == nil {
		r.err = fmt.Errorf("%w: missing field %q", ErrInvalidPatternRecord, key)
		return nil, false
	}
	return v, true
}

func (r *fieldReader) fail(key string, v any, cause error) {
	r.err = fmt.Errorf("%w: field %q (%v): %w", ErrInvalidPatternRecord, key, v, cause)
}

func (r *fieldReader) int(key string) int {
	v, ok := r.take(key)
	if !ok {
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		r.fail(key, v, err)
		return 0
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		r.fail(key, v, fmt.Errorf("not an integer"))
		return 0
	}
	return int(f)
}

func (r *fieldReader) float(key string) float64 {
	v, ok := r.take(key)
	if !ok {
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		r.fail(key, v, err)
		return 0
	}
	return f
}

func (r *fieldReader) str(key string) string {
	v, ok := r.take(key)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int, int64, json.Number:
		return fmt.Sprint(s)
	default:
		r.fail(key, v, fmt.Errorf("not a string"))
		return ""
	}
}

func (r *fieldReader) date(key string) time.Time {
	v, ok := r.take(key)
	if !ok {
		return time.Time{}
	}
	d, err := util.DecodeMSValue(v)
	if err != nil {
		r.fail(key, v, err)
		return time.Time{}
	}
	return d
}

func (r *fieldReader) extra() map[string]string {
	var out map[string]string
	for k, v := range r.fields {
		if _, ok := r.used[k]; ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = stringify(v)
	}
	return out
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// ToFloat exposes the payload number coercion to the normalizer.
func ToFloat(v any) (float64, error) { return toFloat(v) }

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int, int64, bool, json.Number:
		return fmt.Sprint(s)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}

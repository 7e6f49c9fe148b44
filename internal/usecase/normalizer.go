package usecase

import (
	"encoding/json"
	"fmt"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
)

// CupWithHandleFilter selects cup-with-handle records of one subtype from a raw
// patterns payload, flattens their properties and builds typed records.
type CupWithHandleFilter struct {
	Key         string
	PatternType int
}

// NewCupWithHandleFilter returns a filter for key and patternType, defaulting
// to the provider's cup-with-handle category and the handle-present subtype.
func NewCupWithHandleFilter(key string, patternType int) *CupWithHandleFilter {
	if key == "" {
		key = models.PatternKeyCupWithHandles
	}
	if patternType == 0 {
		patternType = models.PatternTypeCupWithHandle
	}
	return &CupWithHandleFilter{Key: key, PatternType: patternType}
}

var _ domrepo.PatternFilter = (*CupWithHandleFilter)(nil)

// Filter returns the matching records in payload order. A missing key yields
// no patterns; the first malformed record fails the whole call.
func (f *CupWithHandleFilter) Filter(payload models.RawPayload) ([]models.CupWithHandle, error) {
	raw, ok := payload[f.Key]
	if !ok || raw == nil {
		return []models.CupWithHandle{}, nil
	}

	records, err := asRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidPatternRecord, f.Key, err)
	}

	out := make([]models.CupWithHandle, 0, len(records))
	for i, rec := range records {
		pt, ok := rec["patternType"]
		if !ok || pt == nil {
			return nil, fmt.Errorf("%w: record %d: missing patternType", models.ErrInvalidPatternRecord, i)
		}
		if n, ok := numericPatternType(pt); !ok || n != float64(f.PatternType) {
			continue
		}

		fields, err := flatten(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d%s: %v", models.ErrInvalidPatternRecord, i, baseIDSuffix(rec), err)
		}
		p, err := models.NewCupWithHandle(fields)
		if err != nil {
			return nil, fmt.Errorf("record %d%s: %w", i, baseIDSuffix(rec), err)
		}
		out = append(out, *p)
	}
	return out, nil
}

// numericPatternType matches only JSON numbers; a quoted "1" is another subtype.
func numericPatternType(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asRecords accepts the decoded JSON shape ([]any of objects) or a ready []map.
func asRecords(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("record %d is %T, not an object", i, item)
			}
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of records, got %T", raw)
	}
}

// flatten copies rec without its properties list, then merges every
// {Key, Value} pair as a top-level field, overwriting existing ones.
func flatten(rec map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		if k != models.PropertiesField {
			fields[k] = v
		}
	}

	props, err := asProperties(rec[models.PropertiesField])
	if err != nil {
		return nil, err
	}
	for _, p := range props {
		fields[p.Key] = p.Value
	}
	return fields, nil
}

func asProperties(raw any) ([]models.PatternProperty, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []models.PatternProperty:
		return v, nil
	case []any:
		out := make([]models.PatternProperty, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %d is %T, not an object", i, item)
			}
			key, ok := m["Key"].(string)
			if !ok {
				return nil, fmt.Errorf("property %d has no string Key", i)
			}
			out = append(out, models.PatternProperty{Key: key, Value: m["Value"]})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("properties is %T, not a list", raw)
	}
}

func baseIDSuffix(rec map[string]any) string {
	if id, ok := rec["baseID"]; ok && id != nil {
		return fmt.Sprintf(" (baseID %v)", id)
	}
	return ""
}

package models

import (
	"errors"

	"PivotPull/pkg/util"
)

var (
	// ErrInvalidDateFormat marks a provider date string that could not be decoded.
	ErrInvalidDateFormat = util.ErrInvalidDateFormat
	// ErrInvalidPatternRecord marks a raw pattern record that failed field or type validation.
	ErrInvalidPatternRecord = errors.New("invalid pattern record")
	// ErrPriceNotFound marks a date with no recorded close in the price series.
	ErrPriceNotFound = errors.New("price not found")
	// ErrInstrumentNotFound marks a symbol search without an exact match.
	ErrInstrumentNotFound = errors.New("instrument not found")
	// ErrInstrumentAmbiguous marks a symbol search with more than one exact match.
	ErrInstrumentAmbiguous = errors.New("instrument ambiguous")
	// ErrInvalidRange marks a day range that does not parse or ends before it starts.
	ErrInvalidRange = errors.New("invalid day range")
	// ErrSchemaMismatch marks an append to a pattern file whose header differs.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

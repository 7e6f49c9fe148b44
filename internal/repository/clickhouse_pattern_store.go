package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	applogger "PivotPull/pkg/logger"
)

// CHPatternStore persists patterns in a ClickHouse MergeTree table.
type CHPatternStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
	now   func() time.Time
}

// NewCHPatternStore creates a store on table, usually "<db>.cup_with_handles".
func NewCHPatternStore(db *sql.DB, table string, l *applogger.Logger) *CHPatternStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHPatternStore{db: db, table: table, l: l, now: time.Now}
}

var _ domrepo.PatternStore = (*CHPatternStore)(nil)

func chType(k columnKind) string {
	switch k {
	case kindInt:
		return "Int64"
	case kindFloat:
		return "Float64"
	case kindDate:
		return "Date"
	default:
		return "String"
	}
}

// SchemaStatements returns the idempotent DDL for the pattern table.
func (s *CHPatternStore) SchemaStatements() []string {
	cols := []string{"symbol LowCardinality(String)", "saved_at DateTime64(3)", "seq UInt32"}
	for _, c := range patternColumns {
		cols = append(cols, fmt.Sprintf("%s %s", c.name, chType(c.kind)))
	}
	return []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY (symbol, saved_at, seq)",
		s.table, strings.Join(cols, ", "),
	)}
}

func (s *CHPatternStore) insertQuery(rows int) string {
	names := []string{"symbol", "saved_at", "seq"}
	for _, c := range patternColumns {
		names = append(names, c.name)
	}
	ph := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"
	values := make([]string, rows)
	for i := range values {
		values[i] = ph
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, strings.Join(names, ", "), strings.Join(values, ","))
}

// Save inserts all patterns of one extraction in a single multi-row INSERT.
func (s *CHPatternStore) Save(ctx context.Context, symbol string, patterns []models.CupWithHandle) error {
	if len(patterns) == 0 {
		return nil
	}

	savedAt := s.now()
	args := make([]interface{}, 0, len(patterns)*(len(patternColumns)+3))
	for i := range patterns {
		args = append(args, symbol, savedAt, uint32(i))
		for _, c := range patternColumns {
			args = append(args, c.typed(&patterns[i]))
		}
	}

	if _, err := s.db.ExecContext(ctx, s.insertQuery(len(patterns)), args...); err != nil {
		s.l.Error("clickhouse insert patterns error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return fmt.Errorf("insert patterns: %w", err)
	}
	return nil
}

// Load returns the patterns of symbol in save order.
func (s *CHPatternStore) Load(ctx context.Context, symbol string) ([]models.CupWithHandle, error) {
	names := make([]string, len(patternColumns))
	for i, c := range patternColumns {
		names[i] = c.name
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE symbol = ? ORDER BY saved_at ASC, seq ASC", strings.Join(names, ", "), s.table)

	rows, err := s.db.QueryContext(ctx, q, symbol)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []models.CupWithHandle
	for rows.Next() {
		dest := make([]any, len(patternColumns))
		for i, c := range patternColumns {
			dest[i] = c.scanDest()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p, err := scannedPattern(dest)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// scannedPattern builds a record from one row of scanDest values laid out as patternColumns.
func scannedPattern(dest []any) (models.CupWithHandle, error) {
	var p models.CupWithHandle
	for i, c := range patternColumns {
		if err := c.setScanned(&p, dest[i]); err != nil {
			return p, fmt.Errorf("column %s: %w", c.name, err)
		}
	}
	return p, p.Validate()
}

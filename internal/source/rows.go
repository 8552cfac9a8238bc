package source

import (
	"github.com/dhaniverse/contrag/internal/errs"
)

// Rows is an abstraction over a relational result set. Drivers wrap their
// native row types; ScanRecords consumes them uniformly.
type Rows interface {
	// Next advances to the next row. Returns false when no more rows
	// exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// ScanRecords reads all rows from the result set and returns them as
// Records keyed by column name.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRecords always closes the Rows — callers do not need to call Close().
func ScanRecords(rows Rows) ([]Record, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := make([]Record, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}

		rec := make(Record, len(columns))
		for i, col := range columns {
			rec[col] = normalizeValue(dest[i])
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return result, nil
}

// normalizeValue converts driver-specific scan results into plain Go
// values. MySQL in particular returns []byte for text columns.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

package sqlagent

import (
	"context"

	"github.com/suPer8Hu/dbrag/internal/errs"
	"gorm.io/gorm"
)

// Row maps column name to value.
type Row map[string]any

type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes stmt once and returns rows in engine order. Errors are
// QueryExecutionError with the driver's message and are not retried.
func (e *Executor) Run(ctx context.Context, db *gorm.DB, stmt Statement) ([]Row, error) {
	if stmt.IsZero() {
		return nil, errs.New(errs.KindForbiddenStatement, "statement was not validated")
	}

	rows, err := db.WithContext(ctx).Raw(stmt.String()).Rows()
	if err != nil {
		return nil, errs.Wrap(errs.KindQueryExecution, "query failed", err)
	}
	defer rows.Close()

	out, err := ScanRows(rows)
	if err != nil {
		return nil, errs.Wrap(errs.KindQueryExecution, "reading rows failed", err)
	}
	return out, nil
}

// rowScanner is the subset of *sql.Rows that ScanRows needs.
type rowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// ScanRows converts every remaining row into a Row. Byte slices become
// strings so rows encode as readable JSON.
func ScanRows(rows rowScanner) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

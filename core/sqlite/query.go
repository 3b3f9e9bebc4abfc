package sqlite

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
	"github.com/FocuswithJustin/dbwatch/internal/validation"
)

// Result holds the rows of a pass-through query rendered as text.
type Result struct {
	Columns []string
	Rows    [][]string
}

// Query runs a statement against the database at path through the SQL
// driver, read-only. Values are rendered the way decoded cells preview them.
func Query(ctx context.Context, path, query string, args ...any) (*Result, error) {
	if query == "" {
		return nil, dberrors.NewValidation("query", "query cannot be empty")
	}
	if _, err := validation.ValidateDatabaseFile(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, dberrors.FromIO("open", path, err)
		}
		return nil, dberrors.WrapValidation("path", err)
	}

	db, err := OpenReadOnly(path)
	if err != nil {
		return nil, dberrors.Wrapf(err, "failed to open %s", path)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberrors.Wrap(err, "query failed")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, dberrors.Wrap(err, "failed to read columns")
	}

	res := &Result{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dberrors.Wrap(err, "failed to scan row")
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, dberrors.Wrap(err, "failed to iterate rows")
	}
	return res, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return "x'" + strings.ToUpper(hex.EncodeToString(x)) + "'"
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

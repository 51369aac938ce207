package sqlagent

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/dbrag/internal/errs"
)

const DefaultRowLimit = 50

// forbiddenKeywords are matched as plain substrings of the lowercased
// statement, so a column such as updated_at is rejected too.
var forbiddenKeywords = []string{"insert", "update", "delete", "drop", "alter", "truncate"}

// Statement is SQL that passed Validate. The zero value is empty and the
// Executor refuses it.
type Statement struct {
	sql string
}

func (s Statement) String() string { return s.sql }

func (s Statement) IsZero() bool { return s.sql == "" }

// Validate is the read-only gate every generated statement goes through
// before execution.
func Validate(sql string) (Statement, error) {
	sql = strings.TrimSpace(sql)
	lowered := strings.ToLower(sql)

	if !strings.HasPrefix(lowered, "select") {
		return Statement{}, errs.New(errs.KindForbiddenStatement, "Only SELECT queries allowed.")
	}
	for _, kw := range forbiddenKeywords {
		if strings.Contains(lowered, kw) {
			return Statement{}, errs.Newf(errs.KindForbiddenStatement, "Forbidden SQL keyword detected: %s", kw)
		}
	}

	if !strings.Contains(lowered, "limit") {
		sql = strings.TrimRight(sql, ";") + fmt.Sprintf(" LIMIT %d", DefaultRowLimit)
	}
	return Statement{sql: sql}, nil
}

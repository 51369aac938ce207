package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/dbrag/internal/errs"
	"gorm.io/gorm"
)

type columnRow struct {
	TableName  string `gorm:"column:table_name"`
	ColumnName string `gorm:"column:column_name"`
	DataType   string `gorm:"column:data_type"`
}

const mysqlColumnsSQL = `
SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name, DATA_TYPE AS data_type
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = ?
ORDER BY TABLE_NAME, ORDINAL_POSITION`

const sqliteColumnsSQL = `
SELECT m.name AS table_name, p.name AS column_name, p.type AS data_type
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

// Introspect reads the table/column layout of database through db. MySQL is
// read from INFORMATION_SCHEMA; SQLite from sqlite_master and table_info.
func Introspect(ctx context.Context, db *gorm.DB, database string) (*Snapshot, error) {
	var rows []columnRow
	var err error

	switch name := db.Dialector.Name(); name {
	case "mysql":
		err = db.WithContext(ctx).Raw(mysqlColumnsSQL, database).Scan(&rows).Error
	case "sqlite":
		err = db.WithContext(ctx).Raw(sqliteColumnsSQL).Scan(&rows).Error
	default:
		return nil, errs.Newf(errs.KindSchemaIntrospection, "unsupported dialect %q", name)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindSchemaIntrospection, "schema introspection failed", err)
	}

	var tables []Table
	for _, r := range rows {
		if len(tables) == 0 || tables[len(tables)-1].Name != r.TableName {
			tables = append(tables, Table{Name: r.TableName})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, Column{Name: r.ColumnName, Type: baseType(r.DataType)})
	}
	return NewSnapshot(tables), nil
}

// baseType lowercases a declared type and drops any length or precision,
// so "VARCHAR(255)" becomes "varchar".
func baseType(declared string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

// QuoteIdent quotes a table name for the dialects dbrag talks to; both MySQL
// and SQLite accept backticks.
func QuoteIdent(name string) string {
	return fmt.Sprintf("`%s`", strings.ReplaceAll(name, "`", "``"))
}

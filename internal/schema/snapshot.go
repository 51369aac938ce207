// Package schema captures a database's tables and columns once, at connect
// time. A Snapshot never changes afterwards, so it may drift from the live
// database; callers must not rely on it reflecting later DDL.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// ColumnRef names one column of one table. It encodes as a [table, column] pair.
type ColumnRef struct {
	Table  string
	Column string
}

func (c ColumnRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Table, c.Column})
}

func (c *ColumnRef) UnmarshalJSON(b []byte) error {
	var pair [2]string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	c.Table, c.Column = pair[0], pair[1]
	return nil
}

// textTypes are reported to callers as text columns.
var textTypes = map[string]bool{
	"varchar":    true,
	"text":       true,
	"mediumtext": true,
	"longtext":   true,
	"char":       true,
}

// indexableTypes are the columns whose values get embedded; char is
// deliberately absent.
var indexableTypes = map[string]bool{
	"varchar":    true,
	"text":       true,
	"mediumtext": true,
	"longtext":   true,
}

// Snapshot is an ordered, immutable table → columns mapping.
type Snapshot struct {
	tables []Table
}

func NewSnapshot(tables []Table) *Snapshot {
	return &Snapshot{tables: cloneTables(tables)}
}

func cloneTables(in []Table) []Table {
	out := make([]Table, len(in))
	for i, t := range in {
		out[i] = Table{Name: t.Name, Columns: append([]Column(nil), t.Columns...)}
	}
	return out
}

// Tables returns a copy of the snapshot's tables in introspection order.
func (s *Snapshot) Tables() []Table {
	return cloneTables(s.tables)
}

func (s *Snapshot) TableNames() []string {
	out := make([]string, len(s.tables))
	for i, t := range s.tables {
		out[i] = t.Name
	}
	return out
}

func (s *Snapshot) TextColumns() []ColumnRef {
	out := []ColumnRef{}
	for _, t := range s.tables {
		for _, c := range t.Columns {
			if textTypes[strings.ToLower(c.Type)] {
				out = append(out, ColumnRef{Table: t.Name, Column: c.Name})
			}
		}
	}
	return out
}

// IndexableColumns lists the columns of table eligible for semantic indexing.
func (s *Snapshot) IndexableColumns(table string) []string {
	var out []string
	for _, t := range s.tables {
		if t.Name != table {
			continue
		}
		for _, c := range t.Columns {
			if indexableTypes[strings.ToLower(c.Type)] {
				out = append(out, c.Name)
			}
		}
	}
	return out
}

// Describe renders one "TABLE name: col (type), ..." line per table for
// prompting.
func (s *Snapshot) Describe() string {
	lines := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}
		lines = append(lines, fmt.Sprintf("TABLE %s: %s", t.Name, strings.Join(cols, ", ")))
	}
	return strings.Join(lines, "\n")
}

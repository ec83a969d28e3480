// Package schema learns table definitions from sqlite_master: root pages,
// column lists parsed out of the stored CREATE TABLE SQL, and per-table
// type signatures used to validate and reparent records.
package schema

import (
	"strings"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/record"
)

// ValueClass is a column's permissible value class, used by Signature to
// validate live and recovered records.
type ValueClass int

const (
	ClassAny ValueClass = iota
	ClassInt
	ClassReal
	ClassText
	ClassBlob
)

// Column is one parsed CREATE TABLE column.
type Column struct {
	Name         string
	DeclaredType string
	Class        ValueClass
}

// Table is a schema-learned table definition.
type Table struct {
	Name      string
	RootPage  uint32
	Columns   []Column // nil if the CREATE TABLE SQL could not be parsed
	Signature []ValueClass
	BuiltIn   bool // true for sqlite_master/sqlite_sequence/sqlite_stat1..4
}

// ColumnNames returns the table's column names in order, or nil if the
// table has no parsed columns.
func (t *Table) ColumnNames() []string {
	if t.Columns == nil {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// builtinColumns hardcodes the six system tables' column lists; they
// bypass signature checks entirely.
var builtinColumns = map[string][]string{
	"sqlite_master":   {"type", "name", "tbl_name", "rootpage", "sql"},
	"sqlite_sequence": {"name", "seq"},
	"sqlite_stat1":    {"tbl", "idx", "stat"},
	"sqlite_stat2":    {"tbl", "idx", "sampleno", "sample"},
	"sqlite_stat3":    {"tbl", "idx", "neq", "nlt", "ndlt", "sample"},
	"sqlite_stat4":    {"tbl", "idx", "neq", "nlt", "ndlt", "sample"},
}

// NewBuiltinTable constructs a Table entry for one of the six system
// tables, with hardcoded columns and no signature.
func NewBuiltinTable(name string, rootPage uint32) *Table {
	cols := builtinColumns[name]
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{Name: c, Class: ClassAny}
	}
	return &Table{Name: name, RootPage: rootPage, Columns: out, BuiltIn: true}
}

// IsBuiltinName reports whether name is one of the six system tables.
func IsBuiltinName(name string) bool {
	_, ok := builtinColumns[name]
	return ok
}

// NewFromCreateTable parses a "CREATE TABLE NAME (col-list)" statement and
// builds a Table with its column list and signature. Returns a Table with
// nil Columns (no error) if the statement could not be parsed: the table
// simply has no column names or signature.
func NewFromCreateTable(sql string, rootPage uint32) *Table {
	name, colList, ok := tokenizeCreateTable(sql)
	if !ok {
		return &Table{RootPage: rootPage}
	}

	items := splitTopLevelCommas(stripNestedGroups(colList))
	var cols []Column
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		upper := strings.ToUpper(item)
		if strings.HasPrefix(upper, "PRIMARY") || strings.HasPrefix(upper, "UNIQUE") {
			continue
		}
		fields := strings.Fields(item)
		if len(fields) == 0 || strings.EqualFold(fields[0], "CHECK") {
			continue
		}
		colName := trimQuotes(fields[0])
		declared := ""
		if len(fields) > 1 {
			declared = fields[1]
		}
		cols = append(cols, Column{
			Name:         colName,
			DeclaredType: declared,
			Class:        classifyDeclaredType(declared),
		})
	}

	sig := make([]ValueClass, len(cols))
	for i, c := range cols {
		sig[i] = c.Class
	}

	return &Table{Name: name, RootPage: rootPage, Columns: cols, Signature: sig}
}

// tokenizeCreateTable matches "CREATE TABLE name (col-list)" case-
// insensitively, tracking parenthesis depth rather than relying on a
// single greedy regex, so nested parens in the column list don't break
// the outer match.
func tokenizeCreateTable(sql string) (name, colList string, ok bool) {
	s := strings.TrimSpace(sql)
	upper := strings.ToUpper(s)
	const prefix = "CREATE TABLE"
	if !strings.HasPrefix(upper, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(s[len(prefix):])
	if strings.HasPrefix(strings.ToUpper(rest), "IF NOT EXISTS") {
		rest = strings.TrimSpace(rest[len("IF NOT EXISTS"):])
	}

	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return "", "", false
	}
	name = trimQuotes(strings.TrimSpace(rest[:open]))
	if name == "" {
		return "", "", false
	}

	depth := 0
	start := open
	end := -1
	for i := open; i < len(rest); i++ {
		switch rest[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return "", "", false
	}
	colList = rest[start+1 : end]
	return name, colList, true
}

// stripNestedGroups removes parenthesized groups nested inside the
// column list (inline constraint lists, decimal qualifiers like
// VARCHAR(100)) so splitTopLevelCommas only sees top-level commas.
func stripNestedGroups(s string) string {
	var out strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}
		if depth == 0 {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func splitTopLevelCommas(s string) []string {
	return strings.Split(s, ",")
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') ||
			(s[0] == '`' && s[len(s)-1] == '`') ||
			(s[0] == '[' && s[len(s)-1] == ']') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// classifyDeclaredType maps a declared SQL type to a value class by its
// prefix: INTEGER/LONG to int, TEXT/VARCHAR/LONGVARCHAR to text,
// REAL/FLOAT to real, BLOB to blob, and anything else to any. It is not
// SQLite's full affinity algorithm: BIGINT or DOUBLE, for example, map to
// any.
func classifyDeclaredType(declared string) ValueClass {
	t := strings.ToUpper(declared)
	switch {
	case strings.HasPrefix(t, "INTEGER"), strings.HasPrefix(t, "LONG"):
		return ClassInt
	case strings.HasPrefix(t, "TEXT"), strings.HasPrefix(t, "VARCHAR"), strings.HasPrefix(t, "LONGVARCHAR"):
		return ClassText
	case strings.HasPrefix(t, "REAL"), strings.HasPrefix(t, "FLOAT"):
		return ClassReal
	case strings.HasPrefix(t, "BLOB"):
		return ClassBlob
	default:
		return ClassAny
	}
}

// Match reports whether a decoded field's value kind is compatible with a
// column's value class: every non-null field must match its class, or the
// class must be Any.
func Match(v record.Value, class ValueClass) bool {
	if v.Kind == record.KindNull {
		return true
	}
	switch class {
	case ClassAny:
		return true
	case ClassInt:
		return v.Kind == record.KindInt || v.Kind == record.KindTrue || v.Kind == record.KindFalse
	case ClassReal:
		return v.Kind == record.KindFloat || v.Kind == record.KindInt
	case ClassText:
		return v.Kind == record.KindText
	case ClassBlob:
		return v.Kind == record.KindBlob
	default:
		return false
	}
}

// SignatureMatch reports whether rec satisfies sig: the record has at
// most len(sig) fields (fewer is allowed, accommodating ALTER TABLE ADD
// COLUMN), and every field's kind is compatible with the corresponding
// signature entry.
func SignatureMatch(rec *record.Record, sig []ValueClass) bool {
	if len(rec.Fields) > len(sig) {
		return false
	}
	for i, f := range rec.Fields {
		if !Match(f.Value, sig[i]) {
			return false
		}
	}
	return true
}

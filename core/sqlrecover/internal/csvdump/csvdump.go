// Package csvdump writes a table's rows out as CSV, the CLI's "dump"
// command output format.
package csvdump

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/record"
)

// NextOutputDir picks a collision-free directory under base for table
// name: dots in name are munged to underscores, then a numeric suffix
// ("_1".."_10") is appended if needed. It does not create the directory.
func NextOutputDir(base, name string) (string, error) {
	munged := strings.ReplaceAll(name, ".", "_")
	candidate := filepath.Join(base, munged)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	for i := 1; i <= 10; i++ {
		candidate = filepath.Join(base, fmt.Sprintf("%s_%d", munged, i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("csvdump: no free output directory for %q under %q after 10 attempts", name, base)
}

// DumpTable writes tbl's live rows to "<dir>/<table>.csv", prefixed with a
// rowid column, and named columns where ColumnNames() is non-nil, and
// followed by a trailing "recovered" column ("false" for live rows). If
// includeRecovered is true and Table.Recover was already called, each
// leaf's scavenged rows follow that leaf's live rows, with rowid left
// blank and "recovered" set to "true". Returns the CSV file's path.
func DumpTable(dir string, tbl *sqlrecover.Table, includeRecovered bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("csvdump: creating %q: %w", dir, err)
	}

	path := filepath.Join(dir, tbl.Name()+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("csvdump: creating %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := append([]string{"rowid"}, tbl.ColumnNames()...)
	header = append(header, "recovered")
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("csvdump: writing header: %w", err)
	}

	for leaf := range tbl.Leaves() {
		for rowid, rec := range leaf.LiveRows() {
			row := append([]string{strconv.FormatInt(rowid, 10)}, fieldStrings(rec)...)
			row = append(row, "false")
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("csvdump: writing row: %w", err)
			}
		}
		if !includeRecovered {
			continue
		}
		for rec := range leaf.RecoveredRows() {
			row := append([]string{""}, fieldStrings(rec)...)
			row = append(row, "true")
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("csvdump: writing recovered row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("csvdump: flushing %q: %w", path, err)
	}
	return path, nil
}

func fieldStrings(rec *record.Record) []string {
	out := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		out[i] = valueString(f.Value)
	}
	return out
}

func valueString(v record.Value) string {
	switch v.Kind {
	case record.KindNull:
		return ""
	case record.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case record.KindFloat:
		return strconv.FormatFloat(v.Flt, 'g', -1, 64)
	case record.KindText:
		return v.Text
	case record.KindBlob:
		return fmt.Sprintf("\\x%x", v.Blob)
	case record.KindTrue:
		return "1"
	case record.KindFalse:
		return "0"
	default:
		return ""
	}
}

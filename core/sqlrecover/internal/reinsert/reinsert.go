// Package reinsert clones a source database file and re-inserts rows a
// Table.Recover pass scavenged from freeblocks, the CLI's "undelete"
// operation.
package reinsert

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/record"
)

// CloneAndInsert copies srcPath into cloneDir under a run-id-tagged name,
// then re-inserts every row tbl.Recover already scavenged into the clone.
// Returns the clone's path and the number of rows inserted. The source
// file is never modified.
func CloneAndInsert(srcPath, cloneDir string, tbl *sqlrecover.Table) (string, int, error) {
	runID := uuid.New().String()
	clonePath := filepath.Join(cloneDir, fmt.Sprintf("%s.recovered-%s.sqlite", filepath.Base(srcPath), runID[:8]))

	if err := copyFile(srcPath, clonePath); err != nil {
		return "", 0, err
	}

	db, err := sql.Open("sqlite", clonePath)
	if err != nil {
		return "", 0, fmt.Errorf("reinsert: opening clone: %w", err)
	}
	defer db.Close()

	stmt, err := insertStatement(tbl)
	if err != nil {
		return clonePath, 0, err
	}

	inserted := 0
	for leaf := range tbl.Leaves() {
		for rec := range leaf.RecoveredRows() {
			if _, err := db.Exec(stmt, fieldArgs(rec)...); err != nil {
				return clonePath, inserted, fmt.Errorf("reinsert: inserting recovered row into %q: %w", tbl.Name(), err)
			}
			inserted++
		}
	}

	return clonePath, inserted, nil
}

func insertStatement(tbl *sqlrecover.Table) (string, error) {
	columns := tbl.ColumnNames()
	if columns == nil {
		return "", fmt.Errorf("reinsert: table %q has no known column list, cannot build INSERT", tbl.Name())
	}
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tbl.Name(), strings.Join(columns, ", "), strings.Join(placeholders, ", ")), nil
}

func fieldArgs(rec *record.Record) []any {
	args := make([]any, len(rec.Fields))
	for i, f := range rec.Fields {
		args[i] = fieldValue(f.Value)
	}
	return args
}

func fieldValue(v record.Value) any {
	switch v.Kind {
	case record.KindInt:
		return v.Int
	case record.KindFloat:
		return v.Flt
	case record.KindText:
		return v.Text
	case record.KindBlob:
		return v.Blob
	case record.KindTrue:
		return true
	case record.KindFalse:
		return false
	default:
		return nil
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("reinsert: opening source %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("reinsert: creating clone %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("reinsert: copying to clone: %w", err)
	}
	return out.Close()
}

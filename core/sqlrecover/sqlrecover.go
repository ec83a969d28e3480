// Package sqlrecover decodes a SQLite database file directly from its raw
// page bytes and recovers rows that ordinary SQL can no longer see: live
// rows on pages no root ever reclaimed the space of, and deleted rows
// whose bytes still sit in a leaf page's freeblocks.
//
// Open walks the file header, classifies every page, learns the schema
// from sqlite_master, builds each table's leaf-page list (reparenting
// orphans along the way), and returns a DB ready for iteration.
package sqlrecover

import (
	"bytes"
	"fmt"
	"iter"
	"os"
	"slices"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/btreepage"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/catalog"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/classify"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/header"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/pagecache"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/record"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/recoverr"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/schema"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/scavenge"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/table"
	"github.com/FocuswithJustin/sqlrecover/internal/logging"
)

// builtinTableNames lists the six system tables every database carries;
// they have hardcoded columns and bypass signature checks.
var builtinTableNames = []string{
	"sqlite_master", "sqlite_sequence", "sqlite_stat1", "sqlite_stat2", "sqlite_stat3", "sqlite_stat4",
}

// DB is an opened SQLite file, fully classified and schema-mapped.
type DB struct {
	path          string
	cache         *pagecache.Cache
	header        *header.Header
	classes       *classify.Result
	tables        map[string]*table.Table
	orphanReasons map[uint32]string
	catalog       *catalog.Catalog
	recovered     map[uint32][]*record.Record
}

// Open reads path fully into memory, parses its header, classifies every
// page, learns the schema from sqlite_master, and builds every table's
// leaf-page list with orphan reparenting. catalog may be nil if the
// caller never intends to call Table.Recover, which then returns
// ErrNoHeuristic.
func Open(path string, cat *catalog.Catalog) (*DB, error) {
	f, err := openHeader(path)
	if err != nil {
		return nil, err
	}

	cache, err := pagecache.Open(path, f.PageSize)
	if err != nil {
		return nil, err
	}

	classes, err := classify.Classify(cache, f)
	if err != nil {
		return nil, fmt.Errorf("classifying pages: %w", err)
	}

	schemas, err := loadSchema(cache, f)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	tables, orphanReasons := table.Build(cache, f, classes, schemas)

	logging.RecoveryRun(path, cache.PageCount(), "tables", len(tables), "orphans", len(orphanReasons))

	return &DB{
		path:          path,
		cache:         cache,
		header:        f,
		classes:       classes,
		tables:        tables,
		orphanReasons: orphanReasons,
		catalog:       cat,
	}, nil
}

func openHeader(path string) (*header.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &recoverr.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &recoverr.IOError{Op: "stat", Path: path, Err: err}
	}
	buf := make([]byte, header.Size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, &recoverr.IOError{Op: "read", Path: path, Err: err}
	}
	return header.Parse(buf, info.Size())
}

// loadSchema reads the sqlite_master leaf pages (root page 1) and learns
// every table's columns and signature. sqlite_master itself is always
// registered; any other built-in system table is registered, with
// hardcoded columns, when sqlite_master lists it.
func loadSchema(cache *pagecache.Cache, hdr *header.Header) (map[string]*schema.Table, error) {
	out := make(map[string]*schema.Table, len(builtinTableNames)+8)

	masterLeaves, err := masterLeafPages(cache, hdr)
	if err != nil {
		return nil, err
	}

	out["sqlite_master"] = schema.NewBuiltinTable("sqlite_master", 1)

	for _, pgno := range masterLeaves {
		data := cache.Page(pgno)
		h, err := btreepage.ParseHeader(data, pgno)
		if err != nil {
			logging.Warn("sqlite_master leaf page failed to parse, skipping", "page", pgno, "err", err)
			continue
		}
		ptrs := btreepage.CellPointers(data, h)
		for _, p := range ptrs {
			if int(p) >= len(data) {
				logging.Warn("sqlite_master cell pointer out of range, skipping", "page", pgno, "offset", p)
				continue
			}
			cell, err := btreepage.ParseTableLeafCell(data[p:], hdr.UsableSize(), cache)
			if err != nil {
				logging.Warn("sqlite_master cell malformed, skipping", "page", pgno, "err", err)
				continue
			}
			rec, err := record.Parse(cell.Payload)
			if err != nil {
				logging.Warn("sqlite_master record malformed, skipping", "page", pgno, "err", err)
				continue
			}
			registerMasterRow(rec, out)
		}
	}

	return out, nil
}

// registerMasterRow interprets one decoded sqlite_master row: fields in
// order are (type, name, tbl_name, rootpage, sql).
func registerMasterRow(rec *record.Record, out map[string]*schema.Table) {
	if len(rec.Fields) < 4 {
		return
	}
	typ := textValue(rec.Fields[0])
	name := textValue(rec.Fields[1])
	if typ != "table" || name == "" {
		return
	}
	rootPage := int64(0)
	if rec.Fields[3].Value.Kind == record.KindInt {
		rootPage = rec.Fields[3].Value.Int
	}

	if schema.IsBuiltinName(name) {
		out[name] = schema.NewBuiltinTable(name, uint32(rootPage))
		return
	}

	sql := ""
	if len(rec.Fields) >= 5 {
		sql = textValue(rec.Fields[4])
	}
	tbl := schema.NewFromCreateTable(sql, uint32(rootPage))
	if tbl.Name == "" {
		logging.Warn("could not parse CREATE TABLE statement, table has no column names or signature", "table", name, "root", rootPage)
		tbl.Name = name
	}
	out[name] = tbl
}

func textValue(f record.Field) string {
	if f.Value.Kind == record.KindText {
		return f.Value.Text
	}
	return ""
}

// masterLeafPages walks sqlite_master's B-tree (always rooted at page 1)
// to enumerate its leaf pages, without going through the table package
// (which depends on the schema this function is building).
func masterLeafPages(cache *pagecache.Cache, hdr *header.Header) ([]uint32, error) {
	var leaves []uint32
	queue := []uint32{1}
	visited := make(map[uint32]bool)

	for len(queue) > 0 {
		pgno := queue[0]
		queue = queue[1:]
		if pgno == 0 || visited[pgno] || !cache.Valid(pgno) {
			continue
		}
		visited[pgno] = true

		data := cache.Page(pgno)
		h, err := btreepage.ParseHeader(data, pgno)
		if err != nil {
			return leaves, fmt.Errorf("parsing sqlite_master page %d: %w", pgno, err)
		}
		if h.IsLeaf() {
			leaves = append(leaves, pgno)
			continue
		}
		ptrs := btreepage.CellPointers(data, h)
		for _, p := range ptrs {
			if int(p) >= len(data) {
				logging.Warn("sqlite_master interior cell pointer out of range, skipping", "page", pgno, "offset", p)
				continue
			}
			cell, err := btreepage.ParseTableInteriorCell(data[p:])
			if err != nil {
				logging.Warn("sqlite_master interior cell malformed", "page", pgno, "err", err)
				continue
			}
			queue = append(queue, cell.ChildPage)
		}
		queue = append(queue, h.RightMostChild)
	}
	return leaves, nil
}

// Path returns the file path the DB was opened from.
func (db *DB) Path() string { return db.path }

// PageCount returns the number of pages actually present in the file.
func (db *DB) PageCount() uint32 { return db.cache.PageCount() }

// Tables yields every table the schema learner found, including
// sqlite_master and any other built-in system table it lists.
func (db *DB) Tables() iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		for name, t := range db.tables {
			if !yield(&Table{db: db, name: name, t: t}) {
				return
			}
		}
	}
}

// Table looks up a single table by name, or returns (nil, false).
func (db *DB) Table(name string) (*Table, bool) {
	t, ok := db.tables[name]
	if !ok {
		return nil, false
	}
	return &Table{db: db, name: name, t: t}, true
}

// FreelistPages returns every page the classifier labeled as part of the
// freelist (trunk or leaf), sorted.
func (db *DB) FreelistPages() []uint32 {
	pages := pagesWithKinds(db.classes, classify.KindFreelistTrunk, classify.KindFreelistLeaf)
	slices.Sort(pages)
	return pages
}

// OrphanedPages returns every page the classifier identified as a
// table-leaf page that no table's leaf list ultimately claimed, even
// after reparenting.
func (db *DB) OrphanedPages() []uint32 {
	owned := make(map[uint32]bool)
	for _, t := range db.tables {
		for _, l := range t.Leaves {
			owned[l] = true
		}
	}
	var out []uint32
	for pgno, kind := range db.classes.Labels {
		if kind != classify.KindBTreeRoot && kind != classify.KindBTreeNonRoot {
			continue
		}
		data := db.cache.Page(pgno)
		h, err := btreepage.ParseHeader(data, pgno)
		if err != nil || !h.IsLeaf() || !h.IsTable() {
			continue
		}
		if !owned[pgno] {
			out = append(out, pgno)
		}
	}
	return out
}

// OrphanReasons returns, for every orphaned page OrphanedPages reports,
// a short human-readable reason reparenting gave up on it: "no ptrmap
// ancestor", "no signature match", or "ambiguous signature match".
func (db *DB) OrphanReasons() map[uint32]string {
	return db.orphanReasons
}

func pagesWithKinds(cls *classify.Result, kinds ...classify.Kind) []uint32 {
	var out []uint32
	for pgno, k := range cls.Labels {
		for _, want := range kinds {
			if k == want {
				out = append(out, pgno)
				break
			}
		}
	}
	return out
}

// Grep scans every page's raw bytes for needle and yields (page, offset)
// for each occurrence, in page order.
func (db *DB) Grep(needle string) iter.Seq2[uint32, int] {
	return func(yield func(uint32, int) bool) {
		if needle == "" {
			return
		}
		n := []byte(needle)
		for pgno := uint32(1); pgno <= db.cache.PageCount(); pgno++ {
			data := db.cache.Page(pgno)
			start := 0
			for {
				idx := bytes.Index(data[start:], n)
				if idx < 0 {
					break
				}
				if !yield(pgno, start+idx) {
					return
				}
				start += idx + 1
			}
		}
	}
}

// Table is a schema-learned table with its traversed, reparented leaf
// pages.
type Table struct {
	db   *DB
	name string
	t    *table.Table
}

// Name returns the table's name.
func (t *Table) Name() string { return t.t.Name }

// RootPage returns the table's root page number.
func (t *Table) RootPage() uint32 { return t.t.RootPage }

// Reparented reports whether any of the table's leaves were adopted by
// the orphan reparenter rather than reached by walking the root's
// subtree.
func (t *Table) Reparented() bool { return t.t.Reparented }

// ColumnNames returns the table's column names, or nil if its CREATE
// TABLE statement could not be parsed.
func (t *Table) ColumnNames() []string { return t.t.Columns }

// Leaves yields every leaf page belonging to the table, in traversal
// order followed by any reparented adoptions.
func (t *Table) Leaves() iter.Seq[*LeafPage] {
	return func(yield func(*LeafPage) bool) {
		for _, pgno := range t.t.Leaves {
			if !yield(&LeafPage{db: t.db, pgno: pgno}) {
				return
			}
		}
	}
}

// Recover scavenges deleted records from every leaf page's freeblocks,
// using the named heuristic grouping (or every grouping, in sorted
// order, if grouping is empty). Results are cached per LeafPage and
// returned by RecoveredRows on subsequent iteration.
func (t *Table) Recover(grouping string) error {
	if t.db.catalog == nil {
		return fmt.Errorf("table %q: %w", t.name, recoverr.ErrNoHeuristic)
	}
	heuristic, err := catalog.Lookup(t.db.catalog, t.t.Name, grouping)
	if err != nil {
		logging.Error("no heuristic for table, skipping recovery", "table", t.t.Name, "err", err)
		return err
	}

	usableSize := t.db.header.UsableSize()
	for _, pgno := range t.t.Leaves {
		data := t.db.cache.Page(pgno)
		h, err := btreepage.ParseHeader(data, pgno)
		if err != nil {
			logging.Warn("leaf page failed to parse during recovery, skipping", "table", t.t.Name, "page", pgno, "err", err)
			continue
		}
		recovered := scavenge.Page(pgno, data, h, usableSize, heuristic)
		t.db.setRecovered(pgno, recovered)
	}
	return nil
}

// LeafPage is one leaf page belonging to a table, either reached from the
// root's subtree or adopted by reparenting.
type LeafPage struct {
	db   *DB
	pgno uint32
}

// PageNumber returns the page's 1-based index.
func (p *LeafPage) PageNumber() uint32 { return p.pgno }

// LiveRows yields every cell currently present on the page, decoded as
// (rowid, record). A cell that fails to decode is logged and skipped.
func (p *LeafPage) LiveRows() iter.Seq2[int64, *record.Record] {
	return func(yield func(int64, *record.Record) bool) {
		data := p.db.cache.Page(p.pgno)
		h, err := btreepage.ParseHeader(data, p.pgno)
		if err != nil {
			logging.Warn("leaf page failed to parse for live rows", "page", p.pgno, "err", err)
			return
		}
		usableSize := p.db.header.UsableSize()
		for _, off := range btreepage.CellPointers(data, h) {
			if int(off) >= len(data) {
				logging.Warn("leaf cell pointer out of range, skipping", "page", p.pgno, "offset", off)
				continue
			}
			cell, err := btreepage.ParseTableLeafCell(data[off:], usableSize, p.db.cache)
			if err != nil {
				logging.Warn("leaf cell malformed, skipping", "page", p.pgno, "err", err)
				continue
			}
			rec, err := record.Parse(cell.Payload)
			if err != nil {
				logging.Warn("leaf record malformed, skipping", "page", p.pgno, "err", err)
				continue
			}
			if !yield(cell.Rowid, rec) {
				return
			}
		}
	}
}

// RecoveredRows yields every record the scavenger recovered from this
// page's freeblocks. Empty until Table.Recover has been called.
func (p *LeafPage) RecoveredRows() iter.Seq[*record.Record] {
	return func(yield func(*record.Record) bool) {
		for _, rec := range p.db.getRecovered(p.pgno) {
			if !yield(rec) {
				return
			}
		}
	}
}

func (db *DB) setRecovered(pgno uint32, recs []*record.Record) {
	if db.recovered == nil {
		db.recovered = make(map[uint32][]*record.Record)
	}
	db.recovered[pgno] = recs
}

func (db *DB) getRecovered(pgno uint32) []*record.Record {
	return db.recovered[pgno]
}

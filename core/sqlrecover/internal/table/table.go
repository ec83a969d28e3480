// Package table builds each table's leaf-page list by walking its B-tree
// from the root, then reparents orphaned table-leaf pages that no root
// ever reached.
package table

import (
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/btreepage"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/classify"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/header"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/pagecache"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/record"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/schema"
	"github.com/FocuswithJustin/sqlrecover/internal/logging"
)

// Table is a schema-learned table with its traversed leaf-page list.
type Table struct {
	Name       string
	RootPage   uint32
	Columns    []string
	Signature  []schema.ValueClass
	Leaves     []uint32 // ordered leaf page numbers, traversal order first
	Reparented bool     // true once any leaf was adopted by ancestor walk or signature match
	BuiltIn    bool
}

// Build walks every schema-learned table's B-tree to enumerate its leaf
// pages, then reparents orphaned table-leaf pages. It returns the tables
// keyed by name and, for every orphan that still could not be placed, the
// reason reparenting gave up on it; a table whose subtree walk reaches a
// page that does not parse as a B-tree page is logged at Error and
// omitted, per the DB-level non-fatal policy.
func Build(cache *pagecache.Cache, hdr *header.Header, cls *classify.Result, schemas map[string]*schema.Table) (map[string]*Table, map[uint32]string) {
	tables := make(map[string]*Table, len(schemas))
	owner := make(map[uint32]string, len(cls.Labels))

	for name, s := range schemas {
		leaves, err := walkSubtree(cache, s.RootPage, name, owner)
		if err != nil {
			logging.Error("table build failed, omitting table", "table", name, "root", s.RootPage, "err", err)
			continue
		}
		tables[name] = &Table{
			Name:      name,
			RootPage:  s.RootPage,
			Columns:   s.ColumnNames(),
			Signature: s.Signature,
			Leaves:    leaves,
			BuiltIn:   s.BuiltIn,
		}
	}

	reasons := reparentOrphans(cache, hdr, cls, tables, owner)
	return tables, reasons
}

// walkSubtree performs a breadth-first walk of root's subtree: each
// interior page's cells (left children, in key order) are queued ahead of
// its right-most child; leaves are appended to the result in traversal
// order. Every page visited is recorded in owner.
func walkSubtree(cache *pagecache.Cache, root uint32, name string, owner map[uint32]string) ([]uint32, error) {
	var leaves []uint32
	queue := []uint32{root}
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
			return leaves, err
		}
		owner[pgno] = name

		if h.IsLeaf() {
			leaves = append(leaves, pgno)
			continue
		}

		ptrs := btreepage.CellPointers(data, h)
		for _, p := range ptrs {
			if int(p) >= len(data) {
				logging.Warn("interior cell pointer out of range during table walk", "table", name, "page", pgno, "offset", p)
				continue
			}
			cell, err := btreepage.ParseTableInteriorCell(data[p:])
			if err != nil {
				logging.Warn("interior cell malformed during table walk", "table", name, "page", pgno, "err", err)
				continue
			}
			queue = append(queue, cell.ChildPage)
		}
		queue = append(queue, h.RightMostChild)
	}

	return leaves, nil
}

// reparentOrphans scans every table-leaf page the classifier found and
// adopts any that walkSubtree never reached: first via ptrmap ancestor
// walk, then by matching the page's first record against every known
// table's signature. Pages it could not place are returned keyed by page
// number with a short human-readable reason.
func reparentOrphans(cache *pagecache.Cache, hdr *header.Header, cls *classify.Result, tables map[string]*Table, owner map[uint32]string) map[uint32]string {
	usableSize := hdr.UsableSize()
	reasons := make(map[uint32]string)

	for pgno, kind := range cls.Labels {
		if kind != classify.KindBTreeRoot && kind != classify.KindBTreeNonRoot {
			continue
		}
		if _, owned := owner[pgno]; owned {
			continue
		}
		data := cache.Page(pgno)
		h, err := btreepage.ParseHeader(data, pgno)
		if err != nil || !h.IsLeaf() || !h.IsTable() {
			continue
		}

		if name, ok := adoptByAncestor(cls, owner, pgno); ok {
			adopt(tables, owner, name, pgno)
			continue
		}

		if h.NumCells == 0 {
			logging.Error("orphan table-leaf page has no cells to signature-match", "page", pgno)
			reasons[pgno] = "no ptrmap ancestor"
			continue
		}

		name, ok, ambiguous := adoptBySignature(cache, data, h, usableSize, tables, pgno)
		if !ok {
			logging.Error("orphan table-leaf page could not be reparented", "page", pgno)
			if ambiguous {
				reasons[pgno] = "ambiguous signature match"
			} else {
				reasons[pgno] = "no signature match"
			}
			continue
		}
		adopt(tables, owner, name, pgno)
	}

	return reasons
}

// adoptByAncestor walks pgno's ptrmap ancestor chain until it reaches a
// page already owned by a table, or the chain runs out.
func adoptByAncestor(cls *classify.Result, owner map[uint32]string, pgno uint32) (string, bool) {
	seen := make(map[uint32]bool)
	cur := pgno
	for {
		entry, ok := cls.Ptrmap[cur]
		if !ok || entry.Parent == 0 {
			return "", false
		}
		parent := entry.Parent
		if seen[parent] {
			return "", false
		}
		seen[parent] = true
		if name, ok := owner[parent]; ok {
			return name, true
		}
		cur = parent
	}
}

// adoptBySignature decodes the orphan page's first cell as a record and
// tests it against every known table's signature. It adopts only when
// exactly one table matches; the third return value distinguishes "more
// than one table matched" from "no table matched" for diagnostics.
func adoptBySignature(cache *pagecache.Cache, data []byte, h *btreepage.Header, usableSize int, tables map[string]*Table, pgno uint32) (string, bool, bool) {
	ptrs := btreepage.CellPointers(data, h)
	if len(ptrs) == 0 || int(ptrs[0]) >= len(data) {
		return "", false, false
	}
	cell, err := btreepage.ParseTableLeafCell(data[ptrs[0]:], usableSize, cache)
	if err != nil {
		return "", false, false
	}
	rec, err := record.Parse(cell.Payload)
	if err != nil {
		return "", false, false
	}

	var matched string
	matches := 0
	for name, t := range tables {
		if t.BuiltIn || t.Signature == nil {
			continue
		}
		if schema.SignatureMatch(rec, t.Signature) {
			matched = name
			matches++
		}
	}
	if matches != 1 {
		return "", false, matches > 1
	}
	return matched, true, false
}

func adopt(tables map[string]*Table, owner map[uint32]string, name string, pgno uint32) {
	t, ok := tables[name]
	if !ok {
		return
	}
	t.Leaves = append(t.Leaves, pgno)
	t.Reparented = true
	owner[pgno] = name
}

package table

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/btreepage"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/classify"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/header"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/pagecache"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/schema"
)

const pageSize = 512

func varintPut(p []byte, v uint64) int {
	if v <= 0x7f {
		p[0] = byte(v)
		return 1
	}
	p[0] = byte((v>>7)&0x7f) | 0x80
	p[1] = byte(v & 0x7f)
	return 2
}

// emptyLeaf builds a table-leaf page header with no cells.
func emptyLeaf() []byte {
	p := make([]byte, pageSize)
	p[0] = btreepage.TypeTableLeaf
	binary.BigEndian.PutUint16(p[5:], pageSize)
	return p
}

// leafWithRecord builds a table-leaf page with one cell: rowid 1, a record
// with a single int field (serial type 1) holding value v.
func leafWithRecord(v int64) []byte {
	p := make([]byte, pageSize)
	p[0] = btreepage.TypeTableLeaf

	// record: header-length(2) + serial-type(1) + 1-byte int body
	record := []byte{2, 1, byte(v)}

	var cell []byte
	var tmp [9]byte
	n := varintPut(tmp[:], uint64(len(record)))
	cell = append(cell, tmp[:n]...)
	n2 := varintPut(tmp[:], 1) // rowid
	cell = append(cell, tmp[:n2]...)
	cell = append(cell, record...)

	cellOff := pageSize - len(cell)
	copy(p[cellOff:], cell)

	binary.BigEndian.PutUint16(p[3:], 1) // 1 cell
	binary.BigEndian.PutUint16(p[5:], uint16(cellOff))
	binary.BigEndian.PutUint16(p[8:], uint16(cellOff)) // cell pointer array at offset 8 for leaf
	return p
}

func interiorWithChildren(cellChild uint32, cellKey int64, rightMost uint32) []byte {
	p := make([]byte, pageSize)
	p[0] = btreepage.TypeTableInterior
	binary.BigEndian.PutUint32(p[8:], rightMost)

	var cell []byte
	var childBuf [4]byte
	binary.BigEndian.PutUint32(childBuf[:], cellChild)
	cell = append(cell, childBuf[:]...)
	var tmp [9]byte
	n := varintPut(tmp[:], uint64(cellKey))
	cell = append(cell, tmp[:n]...)

	cellOff := pageSize - len(cell)
	copy(p[cellOff:], cell)

	binary.BigEndian.PutUint16(p[3:], 1) // 1 cell
	binary.BigEndian.PutUint16(p[5:], uint16(cellOff))
	binary.BigEndian.PutUint16(p[12:], uint16(cellOff)) // interior pointer array at offset 12
	return p
}

func newCache(t *testing.T, pages map[uint32][]byte, count int) *pagecache.Cache {
	t.Helper()
	buf := make([]byte, count*pageSize)
	for pgno, data := range pages {
		copy(buf[(pgno-1)*pageSize:], data)
	}
	path := filepath.Join(t.TempDir(), "t.sqlite")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := pagecache.Open(path, pageSize)
	if err != nil {
		t.Fatalf("pagecache.Open: %v", err)
	}
	return c
}

func TestBuildWalksInteriorSubtree(t *testing.T) {
	// root (page 2): interior, cell -> child page 3 (leaf), right-most = page 4 (leaf)
	pages := map[uint32][]byte{
		2: interiorWithChildren(3, 10, 4),
		3: emptyLeaf(),
		4: emptyLeaf(),
	}
	c := newCache(t, pages, 4)
	hdr := &header.Header{PageSize: pageSize}
	cls := &classify.Result{Labels: map[uint32]classify.Kind{}, Ptrmap: map[uint32]classify.PtrmapEntry{}}

	schemas := map[string]*schema.Table{
		"t": {Name: "t", RootPage: 2, Signature: []schema.ValueClass{schema.ClassInt}},
	}
	tables, _ := Build(c, hdr, cls, schemas)
	tb, ok := tables["t"]
	if !ok {
		t.Fatal("table t missing")
	}
	if len(tb.Leaves) != 2 || tb.Leaves[0] != 3 || tb.Leaves[1] != 4 {
		t.Fatalf("Leaves = %v, want [3 4]", tb.Leaves)
	}
	if tb.Reparented {
		t.Fatal("expected Reparented = false")
	}
}

func TestReparentBySignature(t *testing.T) {
	pages := map[uint32][]byte{
		2: leafWithRecord(7), // root of table t
		3: leafWithRecord(9), // orphan, same shape, no ptrmap ancestor
	}
	c := newCache(t, pages, 3)
	hdr := &header.Header{PageSize: pageSize}
	cls := &classify.Result{
		Labels: map[uint32]classify.Kind{3: classify.KindBTreeNonRoot},
		Ptrmap: map[uint32]classify.PtrmapEntry{},
	}

	schemas := map[string]*schema.Table{
		"t": {Name: "t", RootPage: 2, Signature: []schema.ValueClass{schema.ClassInt}},
	}
	tables, _ := Build(c, hdr, cls, schemas)
	tb := tables["t"]
	if len(tb.Leaves) != 2 {
		t.Fatalf("Leaves = %v, want 2 entries", tb.Leaves)
	}
	found3 := false
	for _, l := range tb.Leaves {
		if l == 3 {
			found3 = true
		}
	}
	if !found3 {
		t.Fatalf("page 3 not adopted: %v", tb.Leaves)
	}
	if !tb.Reparented {
		t.Fatal("expected Reparented = true")
	}
}

func TestReparentByAncestor(t *testing.T) {
	pages := map[uint32][]byte{
		2: emptyLeaf(), // root of table t
		3: emptyLeaf(), // orphan, no cells, adopted via ptrmap ancestor
	}
	c := newCache(t, pages, 3)
	hdr := &header.Header{PageSize: pageSize}
	cls := &classify.Result{
		Labels: map[uint32]classify.Kind{3: classify.KindBTreeNonRoot},
		Ptrmap: map[uint32]classify.PtrmapEntry{
			3: {Kind: classify.PtrmapBTreeNonRoot, Parent: 2},
		},
	}

	schemas := map[string]*schema.Table{
		"t": {Name: "t", RootPage: 2, Signature: []schema.ValueClass{schema.ClassInt}},
	}
	tables, _ := Build(c, hdr, cls, schemas)
	tb := tables["t"]
	if len(tb.Leaves) != 2 || tb.Leaves[1] != 3 {
		t.Fatalf("Leaves = %v, want [2 3]", tb.Leaves)
	}
	if !tb.Reparented {
		t.Fatal("expected Reparented = true")
	}
}

func TestBuildReportsUnplaceableOrphanReason(t *testing.T) {
	pages := map[uint32][]byte{
		2: leafWithRecord(7), // root of table t
		3: emptyLeaf(),       // orphan, no ptrmap ancestor, no cells to signature-match
	}
	c := newCache(t, pages, 3)
	hdr := &header.Header{PageSize: pageSize}
	cls := &classify.Result{
		Labels: map[uint32]classify.Kind{3: classify.KindBTreeNonRoot},
		Ptrmap: map[uint32]classify.PtrmapEntry{},
	}
	schemas := map[string]*schema.Table{
		"t": {Name: "t", RootPage: 2, Signature: []schema.ValueClass{schema.ClassInt}},
	}

	_, reasons := Build(c, hdr, cls, schemas)
	if reasons[3] != "no ptrmap ancestor" {
		t.Fatalf("reasons[3] = %q, want %q", reasons[3], "no ptrmap ancestor")
	}
}

func TestReparentIdempotent(t *testing.T) {
	pages := map[uint32][]byte{
		2: leafWithRecord(7),
		3: leafWithRecord(9),
	}
	c := newCache(t, pages, 3)
	hdr := &header.Header{PageSize: pageSize}
	cls := &classify.Result{
		Labels: map[uint32]classify.Kind{3: classify.KindBTreeNonRoot},
		Ptrmap: map[uint32]classify.PtrmapEntry{},
	}
	schemas := map[string]*schema.Table{
		"t": {Name: "t", RootPage: 2, Signature: []schema.ValueClass{schema.ClassInt}},
	}

	first, _ := Build(c, hdr, cls, schemas)
	// Re-running reparentOrphans directly (simulating a second pass) must not
	// add any new adoptions: page 3 is already owned.
	owner := map[uint32]string{2: "t", 3: "t"}
	before := len(first["t"].Leaves)
	reparentOrphans(c, hdr, cls, first, owner)
	if len(first["t"].Leaves) != before {
		t.Fatalf("second reparent pass changed leaf count: %d -> %d", before, len(first["t"].Leaves))
	}
}

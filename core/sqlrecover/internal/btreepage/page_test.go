package btreepage

import (
	"encoding/binary"
	"testing"
)

func TestParseHeaderLeaf(t *testing.T) {
	data := make([]byte, 512)
	data[0] = TypeTableLeaf
	binary.BigEndian.PutUint16(data[1:], 0)   // no freeblocks
	binary.BigEndian.PutUint16(data[3:], 2)   // 2 cells
	binary.BigEndian.PutUint16(data[5:], 400) // cell content start
	data[7] = 0

	h, err := ParseHeader(data, 2)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !h.IsLeaf() || h.IsInterior() {
		t.Fatalf("expected leaf page")
	}
	if h.HeaderSize != 8 {
		t.Fatalf("HeaderSize = %d, want 8", h.HeaderSize)
	}
	if h.NumCells != 2 {
		t.Fatalf("NumCells = %d, want 2", h.NumCells)
	}
}

func TestParseHeaderPage1Offset(t *testing.T) {
	data := make([]byte, 512)
	data[100] = TypeTableLeaf
	h, err := ParseHeader(data, 1)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.CellPointerArrayAt != 108 {
		t.Fatalf("CellPointerArrayAt = %d, want 108", h.CellPointerArrayAt)
	}
}

func TestParseHeaderInterior(t *testing.T) {
	data := make([]byte, 512)
	data[0] = TypeTableInterior
	binary.BigEndian.PutUint32(data[8:], 42)
	h, err := ParseHeader(data, 2)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.RightMostChild != 42 {
		t.Fatalf("RightMostChild = %d, want 42", h.RightMostChild)
	}
	if h.HeaderSize != 12 {
		t.Fatalf("HeaderSize = %d, want 12", h.HeaderSize)
	}
}

func TestParseHeaderRejectsBadType(t *testing.T) {
	data := make([]byte, 512)
	data[0] = 0x99
	if _, err := ParseHeader(data, 2); err == nil {
		t.Fatal("expected error for bad type byte")
	}
}

func TestCellPointersAndConsistency(t *testing.T) {
	data := make([]byte, 512)
	data[0] = TypeTableLeaf
	binary.BigEndian.PutUint16(data[3:], 2)
	binary.BigEndian.PutUint16(data[5:], 490)
	binary.BigEndian.PutUint16(data[8:], 500)
	binary.BigEndian.PutUint16(data[10:], 490)

	h, _ := ParseHeader(data, 2)
	ptrs := CellPointers(data, h)
	if len(ptrs) != 2 || ptrs[0] != 500 || ptrs[1] != 490 {
		t.Fatalf("CellPointers = %v", ptrs)
	}
	if !CheckCellContentConsistency(ptrs, h) {
		t.Fatal("expected consistency check to pass")
	}
}

func TestParseTableInteriorCell(t *testing.T) {
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[:4], 7)
	buf[4] = 0x81 // varint key = 128 (2 byte varint 0x81 0x00)
	buf[5] = 0x00

	cell, err := ParseTableInteriorCell(buf[:])
	if err != nil {
		t.Fatalf("ParseTableInteriorCell: %v", err)
	}
	if cell.ChildPage != 7 || cell.Key != 128 {
		t.Fatalf("got %+v", cell)
	}
}

type fakePages map[uint32][]byte

func (f fakePages) Page(pgno uint32) []byte { return f[pgno] }

func (f fakePages) Valid(pgno uint32) bool {
	_, ok := f[pgno]
	return ok
}

func TestParseTableLeafCellInline(t *testing.T) {
	payload := []byte("hello world")
	var cell []byte
	var pl [9]byte
	n := varintPut(pl[:], uint64(len(payload)))
	cell = append(cell, pl[:n]...)
	n2 := varintPut(pl[:], 99)
	cell = append(cell, pl[:n2]...)
	cell = append(cell, payload...)

	lc, err := ParseTableLeafCell(cell, 4096, fakePages{})
	if err != nil {
		t.Fatalf("ParseTableLeafCell: %v", err)
	}
	if lc.Rowid != 99 || string(lc.Payload) != "hello world" {
		t.Fatalf("got %+v", lc)
	}
}

func TestParseTableLeafCellOverflow(t *testing.T) {
	usableSize := 512
	x := OverflowThreshold(usableSize)
	payloadSize := x + 100
	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	m := minLocal(usableSize)
	k := m + (payloadSize-m)%(usableSize-4)
	inline := k
	if k > x {
		inline = m
	}

	var cellBuf []byte
	var tmp [9]byte
	n := varintPut(tmp[:], uint64(payloadSize))
	cellBuf = append(cellBuf, tmp[:n]...)
	n2 := varintPut(tmp[:], 55)
	cellBuf = append(cellBuf, tmp[:n2]...)
	cellBuf = append(cellBuf, payload[:inline]...)
	var ofl [4]byte
	binary.BigEndian.PutUint32(ofl[:], 10)
	cellBuf = append(cellBuf, ofl[:]...)

	remaining := payloadSize - inline
	overflowPage := make([]byte, usableSize)
	binary.BigEndian.PutUint32(overflowPage, 0)
	copy(overflowPage[4:], payload[inline:inline+remaining])

	lc, err := ParseTableLeafCell(cellBuf, usableSize, fakePages{10: overflowPage})
	if err != nil {
		t.Fatalf("ParseTableLeafCell: %v", err)
	}
	if lc.Rowid != 55 {
		t.Fatalf("Rowid = %d, want 55", lc.Rowid)
	}
	if len(lc.Payload) != payloadSize {
		t.Fatalf("len(Payload) = %d, want %d", len(lc.Payload), payloadSize)
	}
	for i, b := range lc.Payload {
		if b != payload[i] {
			t.Fatalf("Payload[%d] = %x, want %x", i, b, payload[i])
		}
	}
}

func TestParseFreeblocks(t *testing.T) {
	data := make([]byte, 512)
	// freeblock at offset 100: next=200, size=20 -> body [104:120)
	binary.BigEndian.PutUint16(data[100:], 200)
	binary.BigEndian.PutUint16(data[102:], 20)
	// freeblock at offset 200: next=0, size=10 -> body [204:210)
	binary.BigEndian.PutUint16(data[200:], 0)
	binary.BigEndian.PutUint16(data[202:], 10)

	fbs, err := ParseFreeblocks(data, 100)
	if err != nil {
		t.Fatalf("ParseFreeblocks: %v", err)
	}
	if len(fbs) != 2 {
		t.Fatalf("len(fbs) = %d, want 2", len(fbs))
	}
	if len(fbs[0].Body) != 16 {
		t.Fatalf("len(fbs[0].Body) = %d, want 16", len(fbs[0].Body))
	}
	if len(fbs[1].Body) != 6 {
		t.Fatalf("len(fbs[1].Body) = %d, want 6", len(fbs[1].Body))
	}
}

func TestParseFreeblocksNonAscendingRejected(t *testing.T) {
	data := make([]byte, 512)
	binary.BigEndian.PutUint16(data[200:], 100)
	binary.BigEndian.PutUint16(data[202:], 10)
	binary.BigEndian.PutUint16(data[100:], 0)
	binary.BigEndian.PutUint16(data[102:], 10)

	if _, err := ParseFreeblocks(data, 200); err == nil {
		t.Fatal("expected error for non-ascending freeblock chain")
	}
}

func varintPut(p []byte, v uint64) int {
	if v <= 0x7f {
		p[0] = byte(v)
		return 1
	}
	p[0] = byte((v>>7)&0x7f) | 0x80
	p[1] = byte(v & 0x7f)
	return 2
}

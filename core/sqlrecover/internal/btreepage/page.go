// Package btreepage decodes B-tree page headers, cell-pointer arrays,
// cells (including overflow-chain reassembly), and freeblock chains.
package btreepage

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/recoverr"
)

// Page type byte values, the first byte of every B-tree page header.
const (
	TypeIndexInterior = 0x02
	TypeTableInterior = 0x05
	TypeIndexLeaf     = 0x0a
	TypeTableLeaf     = 0x0d
)

// IsValidType reports whether b is one of the four recognized page type
// bytes.
func IsValidType(b byte) bool {
	switch b {
	case TypeIndexInterior, TypeTableInterior, TypeIndexLeaf, TypeTableLeaf:
		return true
	}
	return false
}

const (
	headerSizeLeaf     = 8
	headerSizeInterior = 12
	fileHeaderSize     = 100
)

// Header is the parsed 8- or 12-byte B-tree page header.
type Header struct {
	Type               byte
	FirstFreeblock     uint16
	NumCells           uint16
	CellContentStart   uint16
	FragmentedBytes    uint8
	RightMostChild     uint32 // interior pages only
	HeaderSize         int
	CellPointerArrayAt int // offset within the page where the pointer array starts
}

func (h *Header) IsLeaf() bool     { return h.Type == TypeTableLeaf || h.Type == TypeIndexLeaf }
func (h *Header) IsTable() bool    { return h.Type == TypeTableLeaf || h.Type == TypeTableInterior }
func (h *Header) IsInterior() bool { return !h.IsLeaf() }

// ParseHeader decodes the B-tree header from a raw page. pgno is the
// page's 1-based index; page 1 carries the 100-byte file header before
// its B-tree header starts.
func ParseHeader(data []byte, pgno uint32) (*Header, error) {
	base := 0
	if pgno == 1 {
		base = fileHeaderSize
	}
	if len(data) < base+headerSizeLeaf {
		return nil, &recoverr.BtreeHeaderError{Page: pgno, Reason: "page too small for header"}
	}

	typeByte := data[base]
	if !IsValidType(typeByte) {
		return nil, &recoverr.BtreeHeaderError{Page: pgno, Reason: fmt.Sprintf("unrecognized type byte 0x%02x", typeByte)}
	}

	h := &Header{
		Type:             typeByte,
		FirstFreeblock:   binary.BigEndian.Uint16(data[base+1:]),
		NumCells:         binary.BigEndian.Uint16(data[base+3:]),
		CellContentStart: binary.BigEndian.Uint16(data[base+5:]),
		FragmentedBytes:  data[base+7],
	}

	if h.IsInterior() {
		if len(data) < base+headerSizeInterior {
			return nil, &recoverr.BtreeHeaderError{Page: pgno, Reason: "interior page too small for 12-byte header"}
		}
		h.RightMostChild = binary.BigEndian.Uint32(data[base+8:])
		h.HeaderSize = headerSizeInterior
	} else {
		h.HeaderSize = headerSizeLeaf
	}
	h.CellPointerArrayAt = base + h.HeaderSize

	return h, nil
}

// CellPointers returns the big-endian u16 cell-pointer array immediately
// following the header: one entry per cell, each an offset from the start
// of the page to that cell's first byte. A corrupt page whose declared
// NumCells or CellPointerArrayAt runs past the end of data yields fewer
// entries than NumCells rather than panicking; the caller sees a short
// slice instead of a crash.
func CellPointers(data []byte, h *Header) []uint16 {
	out := make([]uint16, 0, h.NumCells)
	off := h.CellPointerArrayAt
	for i := 0; i < int(h.NumCells); i++ {
		if off < 0 || off+2 > len(data) {
			break
		}
		out = append(out, binary.BigEndian.Uint16(data[off:]))
		off += 2
	}
	return out
}

// CheckCellContentConsistency reports whether the smallest cell pointer
// equals the declared cell-content start. A mismatch is logged by the
// caller but never treated as fatal.
func CheckCellContentConsistency(ptrs []uint16, h *Header) bool {
	if len(ptrs) == 0 {
		return true
	}
	min := ptrs[0]
	for _, p := range ptrs[1:] {
		if p < min {
			min = p
		}
	}
	return min == h.CellContentStart
}

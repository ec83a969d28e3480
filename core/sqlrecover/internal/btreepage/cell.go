package btreepage

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/recoverr"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/varint"
)

// PageReader supplies raw page bytes by 1-based page index, the minimal
// surface btreepage needs from a page cache to walk overflow chains. Valid
// must be checked before every Page call: pgno comes from cell bytes that
// may be corrupt, and Page panics on an out-of-range index.
type PageReader interface {
	Page(pgno uint32) []byte
	Valid(pgno uint32) bool
}

// OverflowThreshold returns X, the maximum payload size a table-leaf cell
// may store fully inline.
func OverflowThreshold(usableSize int) int {
	return usableSize - 35
}

// minLocal returns M, the minimum number of payload bytes that must stay
// inline once a cell overflows.
func minLocal(usableSize int) int {
	return ((usableSize-12)*32)/255 - 23
}

// localPayloadSize returns how many payload bytes are stored inline for a
// cell whose total payload size is P and does not fit under the overflow
// threshold.
func localPayloadSize(usableSize, payloadSize int) int {
	x := OverflowThreshold(usableSize)
	m := minLocal(usableSize)
	k := m + (payloadSize-m)%(usableSize-4)
	if k <= x {
		return k
	}
	return m
}

// InteriorCell is a table-interior cell: (left child page, integer key).
type InteriorCell struct {
	ChildPage uint32
	Key       int64
}

// ParseTableInteriorCell decodes a table-interior cell: u32 child page
// followed by a varint integer key.
func ParseTableInteriorCell(cellData []byte) (*InteriorCell, error) {
	if len(cellData) < 4 {
		return nil, &recoverr.RecordError{Reason: "interior cell truncated before child pointer"}
	}
	child := binary.BigEndian.Uint32(cellData)
	key, n := varint.Decode(cellData[4:])
	if n == 0 {
		return nil, &recoverr.RecordError{Reason: "interior cell truncated reading key varint"}
	}
	return &InteriorCell{ChildPage: child, Key: key}, nil
}

// LeafCell is a table-leaf cell: (rowid, fully reassembled payload).
type LeafCell struct {
	Rowid   int64
	Payload []byte
}

// ParseTableLeafCell decodes a table-leaf cell's varint payload-length and
// rowid, then returns the fully reassembled payload (inline bytes plus any
// overflow chain, walked via pages). usableSize is the file's usable page
// size (page_size - reserved_tail).
func ParseTableLeafCell(cellData []byte, usableSize int, pages PageReader) (*LeafCell, error) {
	payloadSize64, n := varint.GetVarint(cellData)
	if n == 0 {
		return nil, &recoverr.RecordError{Reason: "leaf cell truncated reading payload length"}
	}
	offset := n
	rowid, n2 := varint.Decode(cellData[offset:])
	if n2 == 0 {
		return nil, &recoverr.RecordError{Reason: "leaf cell truncated reading rowid"}
	}
	offset += n2

	payloadSize := int(payloadSize64)
	x := OverflowThreshold(usableSize)

	var inline int
	var hasOverflow bool
	if payloadSize <= x {
		inline = payloadSize
	} else {
		inline = localPayloadSize(usableSize, payloadSize)
		hasOverflow = true
	}

	if offset+inline > len(cellData) {
		return nil, &recoverr.RecordError{Reason: "leaf cell truncated before end of inline payload"}
	}
	payload := make([]byte, 0, payloadSize)
	payload = append(payload, cellData[offset:offset+inline]...)

	if hasOverflow {
		if offset+inline+4 > len(cellData) {
			return nil, &recoverr.RecordError{Reason: "leaf cell truncated before overflow page pointer"}
		}
		firstOverflow := binary.BigEndian.Uint32(cellData[offset+inline:])
		rest, err := readOverflowChain(pages, firstOverflow, usableSize, payloadSize-len(payload))
		if err != nil {
			return nil, err
		}
		payload = append(payload, rest...)
	}

	if len(payload) != payloadSize {
		return nil, &recoverr.RecordError{Reason: fmt.Sprintf(
			"reassembled payload length %d != declared %d", len(payload), payloadSize)}
	}

	return &LeafCell{Rowid: rowid, Payload: payload}, nil
}

// readOverflowChain walks the overflow page chain starting at firstPage,
// collecting exactly remaining bytes of payload. Each overflow page begins
// with a u32 "next page" pointer (0 terminates) followed by up to
// usableSize-4 payload bytes.
func readOverflowChain(pages PageReader, firstPage uint32, usableSize, remaining int) ([]byte, error) {
	out := make([]byte, 0, remaining)
	pgno := firstPage
	for remaining > 0 {
		if pgno == 0 {
			return nil, &recoverr.RecordError{Reason: "overflow chain ended before payload fully read"}
		}
		if !pages.Valid(pgno) {
			return nil, &recoverr.RecordError{Reason: fmt.Sprintf("overflow page %d out of range", pgno)}
		}
		data := pages.Page(pgno)
		if len(data) < 4 {
			return nil, &recoverr.RecordError{Reason: fmt.Sprintf("overflow page %d too small", pgno)}
		}
		next := binary.BigEndian.Uint32(data)
		bodyLen := usableSize - 4
		if bodyLen > len(data)-4 {
			bodyLen = len(data) - 4
		}
		body := data[4 : 4+bodyLen]
		take := bodyLen
		if take > remaining {
			take = remaining
		}
		out = append(out, body[:take]...)
		remaining -= take
		pgno = next
	}
	return out, nil
}

// Freeblock is a contiguous run of unused bytes inside a page's
// cell-content area, linked by offset.
type Freeblock struct {
	Offset uint16
	Size   uint16 // includes the 4-byte freeblock header
	Body   []byte // bytes after the 4-byte header, length Size-4
}

// ParseFreeblocks walks the freeblock chain starting at firstOffset.
// Freeblocks are strictly ascending in offset; the chain terminates at
// next_offset == 0.
func ParseFreeblocks(data []byte, firstOffset uint16) ([]Freeblock, error) {
	var out []Freeblock
	offset := firstOffset
	prev := uint16(0)
	for offset != 0 {
		if prev != 0 && offset <= prev {
			return out, &recoverr.BtreeHeaderError{Reason: "freeblock chain offsets not strictly ascending"}
		}
		if int(offset)+4 > len(data) {
			return out, &recoverr.BtreeHeaderError{Reason: "freeblock header truncated"}
		}
		next := binary.BigEndian.Uint16(data[offset:])
		size := binary.BigEndian.Uint16(data[offset+2:])
		end := int(offset) + int(size)
		if end > len(data) {
			return out, &recoverr.BtreeHeaderError{Reason: "freeblock body runs past page end"}
		}
		// [offset+4 : offset+size), not offset+size-4: the body length is
		// size-4, starting right after the 4-byte freeblock header.
		out = append(out, Freeblock{
			Offset: offset,
			Size:   size,
			Body:   data[int(offset)+4 : end],
		})
		prev = offset
		offset = next
	}
	return out, nil
}

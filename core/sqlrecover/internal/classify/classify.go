// Package classify runs the three-pass page classifier: freelist walk,
// pointer-map walk, then B-tree header inspection for whatever remains
// unlabeled.
package classify

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/btreepage"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/header"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/pagecache"
)

// Kind is the coarse page-type label assigned to every page in a file.
type Kind int

const (
	KindBTreeRoot Kind = iota
	KindBTreeNonRoot
	KindFreelistTrunk
	KindFreelistLeaf
	KindFirstOverflow
	KindNonFirstOverflow
	KindPtrmap
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindBTreeRoot:
		return "btree-root"
	case KindBTreeNonRoot:
		return "btree-nonroot"
	case KindFreelistTrunk:
		return "freelist-trunk"
	case KindFreelistLeaf:
		return "freelist-leaf"
	case KindFirstOverflow:
		return "first-overflow"
	case KindNonFirstOverflow:
		return "non-first-overflow"
	case KindPtrmap:
		return "ptrmap"
	default:
		return "unknown"
	}
}

// Ptrmap entry kind byte values, as stored in each ptrmap page.
const (
	PtrmapBTreeRoot      = 1
	PtrmapFreelist       = 2
	PtrmapFirstOverflow  = 3
	PtrmapNonFirstOflow  = 4
	PtrmapBTreeNonRoot   = 5
)

// PtrmapEntry records a page's kind and parent pointer, as read from a
// pointer-map page.
type PtrmapEntry struct {
	Kind   uint8
	Parent uint32
}

// Result is the classifier's output: every page's coarse label, plus the
// ptrmap entries read (empty when the file has no ptrmap).
type Result struct {
	Labels  map[uint32]Kind
	Ptrmap  map[uint32]PtrmapEntry
	Warnings []string
}

// Classify runs the three passes and returns every page's label.
func Classify(cache *pagecache.Cache, hdr *header.Header) (*Result, error) {
	r := &Result{
		Labels: make(map[uint32]Kind),
		Ptrmap: make(map[uint32]PtrmapEntry),
	}

	if err := walkFreelist(cache, hdr, r); err != nil {
		return r, err
	}
	if hdr.HasPtrmap() {
		walkPtrmap(cache, hdr, r)
	}
	inspectRemaining(cache, r)

	return r, nil
}

// walkFreelist labels trunk and leaf pages by following the freelist
// trunk chain, and asserts (downgraded to a warning) that the visited
// page count matches the header's declared freelist page count.
func walkFreelist(cache *pagecache.Cache, hdr *header.Header, r *Result) error {
	trunk := hdr.FirstFreelistTrunk
	var trunks, leaves int
	seen := make(map[uint32]bool)
	for trunk != 0 {
		if seen[trunk] || !cache.Valid(trunk) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("freelist trunk chain revisits or leaves page %d", trunk))
			break
		}
		seen[trunk] = true
		data := cache.Page(trunk)
		if len(data) < 8 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("freelist trunk page %d too small", trunk))
			break
		}
		next := binary.BigEndian.Uint32(data)
		leafCount := binary.BigEndian.Uint32(data[4:])
		r.Labels[trunk] = KindFreelistTrunk
		trunks++

		for i := uint32(0); i < leafCount; i++ {
			off := 8 + int(i)*4
			if off+4 > len(data) {
				r.Warnings = append(r.Warnings, fmt.Sprintf("freelist trunk page %d leaf array truncated", trunk))
				break
			}
			leaf := binary.BigEndian.Uint32(data[off:])
			if leaf != 0 {
				r.Labels[leaf] = KindFreelistLeaf
				leaves++
			}
		}
		trunk = next
	}

	if uint32(trunks+leaves) != hdr.FreelistPageCount {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"freelist page count mismatch: walked %d+%d, header declares %d",
			trunks, leaves, hdr.FreelistPageCount))
	}
	return nil
}

// walkPtrmap labels ptrmap pages themselves and records every entry they
// carry, stopping a page's entries at the first kind==0 byte.
func walkPtrmap(cache *pagecache.Cache, hdr *header.Header, r *Result) {
	usableSize := hdr.UsableSize()
	if usableSize < 5 {
		r.Warnings = append(r.Warnings, "usable size too small to hold ptrmap entries")
		return
	}
	entriesPerPage := uint32(usableSize / 5)
	if entriesPerPage == 0 {
		return
	}
	stride := entriesPerPage + 1

	pageCount := cache.PageCount()
	for ptrmapPage := uint32(2); ptrmapPage <= pageCount; ptrmapPage += stride {
		r.Labels[ptrmapPage] = KindPtrmap
		data := cache.Page(ptrmapPage)

		for i := uint32(0); i < entriesPerPage; i++ {
			off := int(i) * 5
			if off+5 > len(data) {
				break
			}
			kind := data[off]
			if kind == 0 {
				break
			}
			parent := binary.BigEndian.Uint32(data[off+1:])
			pgno := ptrmapPage + 1 + i
			if pgno > pageCount {
				break
			}
			r.Ptrmap[pgno] = PtrmapEntry{Kind: kind, Parent: parent}

			switch kind {
			case PtrmapBTreeRoot:
				if parent != 0 {
					r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: btree-root ptrmap entry has nonzero parent", pgno))
				}
				r.Labels[pgno] = KindBTreeRoot
			case PtrmapFreelist:
				if parent != 0 {
					r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: freelist ptrmap entry has nonzero parent", pgno))
				}
				if r.Labels[pgno] != KindFreelistTrunk && r.Labels[pgno] != KindFreelistLeaf {
					r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: ptrmap says freelist but not labeled as one", pgno))
				}
			case PtrmapFirstOverflow:
				if parent == 0 {
					r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: first-overflow ptrmap entry has zero parent", pgno))
				}
				r.Labels[pgno] = KindFirstOverflow
			case PtrmapNonFirstOflow:
				if parent == 0 {
					r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: non-first-overflow ptrmap entry has zero parent", pgno))
				}
				r.Labels[pgno] = KindNonFirstOverflow
			case PtrmapBTreeNonRoot:
				if parent == 0 {
					r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: btree-nonroot ptrmap entry has zero parent", pgno))
				}
				r.Labels[pgno] = KindBTreeNonRoot
			default:
				r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: unrecognized ptrmap kind %d", pgno, kind))
			}
		}
	}
}

// inspectRemaining attempts a B-tree header read on every page that still
// has no label. A page that never has a ptrmap ancestor (no autovacuum,
// or missing entry) falls back to "root" only for page 1 (always the
// sqlite_master root); every other successfully-sniffed page is labeled
// btree-nonroot, since without a ptrmap there is no way to prove root
// status. Pages whose first byte matches none of the four type bytes stay
// unknown.
func inspectRemaining(cache *pagecache.Cache, r *Result) {
	lockByte, hasLockByte := cache.LockBytePage()

	for pgno := uint32(1); pgno <= cache.PageCount(); pgno++ {
		if _, ok := r.Labels[pgno]; ok {
			continue
		}
		if hasLockByte && pgno == lockByte {
			r.Labels[pgno] = KindUnknown
			continue
		}

		data := cache.Page(pgno)
		if _, err := btreepage.ParseHeader(data, pgno); err != nil {
			r.Labels[pgno] = KindUnknown
			continue
		}
		if pgno == 1 {
			r.Labels[pgno] = KindBTreeRoot
		} else {
			r.Labels[pgno] = KindBTreeNonRoot
		}
	}
}

// Package pagecache reads a SQLite file once into memory and hands out
// 1-based, zero-copy page slices.
package pagecache

import (
	"fmt"
	"os"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/recoverr"
)

// lockByteOffset is the byte offset of SQLite's reserved lock-byte page,
// present only in files of at least 1 GiB.
const lockByteOffset = 1 << 30

// Cache owns the whole file's bytes and exposes 1-based page access. Index
// 0 is reserved and never returned; page 1 carries the 100-byte file
// header at its start.
type Cache struct {
	buf      []byte
	pageSize int
}

// Open reads path fully into memory and returns a Cache sized for
// pageSize-byte pages. The file handle is not retained past this call.
func Open(path string, pageSize int) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &recoverr.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	buf, err := readAll(f)
	if err != nil {
		return nil, &recoverr.IOError{Op: "read", Path: path, Err: err}
	}

	return &Cache{buf: buf, pageSize: pageSize}, nil
}

func readAll(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// Size returns the total file size in bytes.
func (c *Cache) Size() int64 { return int64(len(c.buf)) }

// PageCount returns the number of whole pages the file actually contains
// (derived from the real file size, not the header's possibly-stale
// declared count).
func (c *Cache) PageCount() uint32 {
	if c.pageSize == 0 {
		return 0
	}
	return uint32(len(c.buf) / c.pageSize)
}

// Page returns the raw bytes of page pgno (1-based). It panics on pgno==0
// or out-of-range, which callers must never pass; every caller derives
// pgno from header/classifier/cell data that is range-checked first.
func (c *Cache) Page(pgno uint32) []byte {
	if pgno == 0 {
		panic("pagecache: page 0 is reserved and has no bytes")
	}
	start := int(pgno-1) * c.pageSize
	end := start + c.pageSize
	if start < 0 || end > len(c.buf) {
		panic(fmt.Sprintf("pagecache: page %d out of range (file has %d pages)", pgno, c.PageCount()))
	}
	return c.buf[start:end]
}

// Valid reports whether pgno is a storable page index for this file.
func (c *Cache) Valid(pgno uint32) bool {
	return pgno >= 1 && pgno <= c.PageCount()
}

// LockBytePage returns the page index overlapping the 1 GiB lock-byte
// offset, if the file is large enough to have one. Callers must never
// attempt to parse this page as a B-tree page.
func (c *Cache) LockBytePage() (pgno uint32, ok bool) {
	if c.pageSize == 0 || int64(len(c.buf)) <= lockByteOffset {
		return 0, false
	}
	return uint32(lockByteOffset/c.pageSize) + 1, true
}

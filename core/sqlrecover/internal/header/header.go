// Package header decodes the 100-byte SQLite database file header.
package header

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/recoverr"
)

// Size is the fixed length of the file header.
const Size = 100

// Magic is the expected 16-byte prefix. The decoder does not verify it;
// callers that care can compare against it themselves.
const Magic = "SQLite format 3\x00"

// Byte offsets within the 100-byte header, big-endian throughout.
const (
	offMagic             = 0
	offPageSize          = 16
	offFileFormatWrite   = 18
	offFileFormatRead    = 19
	offReservedTail      = 20
	offMaxPayloadFrac    = 21
	offMinPayloadFrac    = 22
	offLeafPayloadFrac   = 23
	offFileChangeCounter = 24
	offDatabaseSize      = 28
	offFreelistTrunk     = 32
	offFreelistCount     = 36
	offSchemaCookie      = 40
	offSchemaFormat      = 44
	offDefaultCacheSize  = 48
	offLargestBTreePage  = 52
	offTextEncoding      = 56
	offUserVersion       = 60
	offIncrementalVacuum = 64
	offApplicationID     = 68
	offReserved          = 72
	offVersionValidFor   = 92
	offSQLiteVersion     = 96
)

var validPageSizes = map[uint16]bool{
	1: true, 512: true, 1024: true, 2048: true, 4096: true,
	8192: true, 16384: true, 32768: true,
}

// Header is the decoded 100-byte file header.
type Header struct {
	Magic             [16]byte
	PageSize          int // actual byte size, 1 already resolved to 65536
	FileFormatWrite   uint8
	FileFormatRead    uint8
	ReservedTail      uint8
	FileChangeCounter uint32
	DatabaseSize      uint32 // page count, per header field (may be 0/stale)
	FirstFreelistTrunk uint32
	FreelistPageCount uint32
	SchemaCookie      uint32
	SchemaFormat      uint32
	LargestBTreePage  uint32 // nonzero => autovacuum / ptrmap present
	TextEncoding      uint32
	UserVersion       uint32
	ApplicationID     uint32
	VersionValidFor   uint32
	SQLiteVersion     uint32
}

// UsableSize is the page payload budget: PageSize minus ReservedTail.
func (h *Header) UsableSize() int {
	return h.PageSize - int(h.ReservedTail)
}

// HasPtrmap reports whether the file carries pointer-map pages.
func (h *Header) HasPtrmap() bool {
	return h.LargestBTreePage != 0
}

// Parse decodes the 100-byte header from the start of the file, validating
// page size, declared file size against the actual file size, and the
// change-counter/version-valid pair. fileSize is the actual on-disk size of
// the whole file in bytes.
func Parse(data []byte, fileSize int64) (*Header, error) {
	if len(data) < Size {
		return nil, &recoverr.HeaderError{Reason: fmt.Sprintf("file too small: %d bytes", len(data))}
	}

	h := &Header{}
	copy(h.Magic[:], data[offMagic:offMagic+16])

	rawPageSize := binary.BigEndian.Uint16(data[offPageSize : offPageSize+2])
	if !validPageSizes[rawPageSize] {
		return nil, &recoverr.HeaderError{Reason: fmt.Sprintf("invalid page size code %d", rawPageSize)}
	}
	if rawPageSize == 1 {
		h.PageSize = 65536
	} else {
		h.PageSize = int(rawPageSize)
	}

	h.FileFormatWrite = data[offFileFormatWrite]
	h.FileFormatRead = data[offFileFormatRead]
	h.ReservedTail = data[offReservedTail]

	h.FileChangeCounter = binary.BigEndian.Uint32(data[offFileChangeCounter : offFileChangeCounter+4])
	h.DatabaseSize = binary.BigEndian.Uint32(data[offDatabaseSize : offDatabaseSize+4])
	h.FirstFreelistTrunk = binary.BigEndian.Uint32(data[offFreelistTrunk : offFreelistTrunk+4])
	h.FreelistPageCount = binary.BigEndian.Uint32(data[offFreelistCount : offFreelistCount+4])
	h.SchemaCookie = binary.BigEndian.Uint32(data[offSchemaCookie : offSchemaCookie+4])
	h.SchemaFormat = binary.BigEndian.Uint32(data[offSchemaFormat : offSchemaFormat+4])
	h.LargestBTreePage = binary.BigEndian.Uint32(data[offLargestBTreePage : offLargestBTreePage+4])
	h.TextEncoding = binary.BigEndian.Uint32(data[offTextEncoding : offTextEncoding+4])
	h.UserVersion = binary.BigEndian.Uint32(data[offUserVersion : offUserVersion+4])
	h.ApplicationID = binary.BigEndian.Uint32(data[offApplicationID : offApplicationID+4])
	h.VersionValidFor = binary.BigEndian.Uint32(data[offVersionValidFor : offVersionValidFor+4])
	h.SQLiteVersion = binary.BigEndian.Uint32(data[offSQLiteVersion : offSQLiteVersion+4])

	if int64(h.PageSize)*int64(h.DatabaseSize) > fileSize && h.DatabaseSize != 0 {
		return nil, &recoverr.HeaderError{Reason: fmt.Sprintf(
			"declared size %d pages * %d bytes exceeds file size %d", h.DatabaseSize, h.PageSize, fileSize)}
	}

	if h.FileChangeCounter != h.VersionValidFor {
		return nil, &recoverr.HeaderError{Reason: fmt.Sprintf(
			"file_change_counter (%d) != version_valid_for (%d)", h.FileChangeCounter, h.VersionValidFor)}
	}

	return h, nil
}

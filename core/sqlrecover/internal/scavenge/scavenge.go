// Package scavenge recovers deleted records from freeblocks: regions of a
// table-leaf page's cell-content area that the B-tree has freed but not
// yet overwritten.
package scavenge

import (
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/btreepage"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/catalog"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/record"
	"github.com/FocuswithJustin/sqlrecover/internal/logging"
)

// Page scavenges every freeblock on a table-leaf page for plausible
// deleted records. For each freeblock body, it finds every match of the
// heuristic's magic regex, walks the matches in reverse (end-to-start,
// since a record header's trailing bytes are more likely intact than its
// leading bytes once a freeblock's own header has overwritten the front),
// and computes a candidate header start as match_start - heuristic.Offset,
// skipping negative starts. Each candidate is decoded as a record over
// [start, start+overflowThreshold) — overflow chains are never followed
// inside freed bytes — and kept only on successful decode, truncated to
// its true byte length, and de-duplicated by byte identity.
func Page(pgno uint32, data []byte, h *btreepage.Header, usableSize int, heuristic *catalog.Heuristic) []*record.Record {
	freeblocks, err := btreepage.ParseFreeblocks(data, h.FirstFreeblock)
	if err != nil {
		logging.Warn("freeblock chain malformed, scavenging what was walked", "page", pgno, "err", err)
	}

	threshold := btreepage.OverflowThreshold(usableSize)
	seen := make(map[string]bool)
	var recovered []*record.Record
	var totalBytes int

	for _, fb := range freeblocks {
		if len(fb.Body) == 0 {
			continue
		}
		matches := heuristic.Magic.FindAllIndex(fb.Body, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			start := matches[i][0] - heuristic.Offset
			if start < 0 {
				continue
			}
			end := start + threshold
			if end > len(fb.Body) {
				end = len(fb.Body)
			}
			if start >= end {
				continue
			}

			rec, err := record.Parse(fb.Body[start:end])
			if err != nil {
				continue
			}
			truncated, err := rec.Truncate(rec.ByteLength())
			if err != nil {
				continue
			}

			key := string(truncated.Raw())
			if seen[key] {
				continue
			}
			seen[key] = true
			recovered = append(recovered, truncated)
			totalBytes += len(truncated.Raw())
		}
	}

	logging.Info("recovered records from freeblocks", "page", pgno, "count", len(recovered), "bytes", totalBytes)
	return recovered
}

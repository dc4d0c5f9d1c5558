package upload

import (
	"context"
	"log/slog"

	"github.com/mediakeep/upload-service/internal/types"
)

// Partition is the result of dedup gating.
type Partition struct {
	Unique    []types.FileDescriptor
	Duplicate []types.FileDescriptor
}

// FilterDuplicates splits files into unique and duplicate by looking up each
// present content hash in the owner-scoped dedup index. Files without a hash
// are never filtered. Filtering is best-effort: an index lookup failure
// degrades to "unique", because under-deduplication beats silently dropping
// a legitimate file.
func FilterDuplicates(ctx context.Context, idx DedupIndex, ownerID string, files []types.FileDescriptor) Partition {
	var p Partition

	for _, f := range files {
		if idx == nil || f.ContentHash == "" {
			p.Unique = append(p.Unique, f)
			continue
		}

		exists, err := idx.Exists(ctx, ownerID, f.ContentHash)
		if err != nil {
			slog.Warn("dedup lookup failed, treating file as unique",
				slog.String("filename", f.Filename),
				slog.String("error", err.Error()))
			p.Unique = append(p.Unique, f)
			continue
		}

		if exists {
			p.Duplicate = append(p.Duplicate, f)
		} else {
			p.Unique = append(p.Unique, f)
		}
	}

	return p
}

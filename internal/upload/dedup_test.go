package upload

import (
	"context"
	"fmt"
	"testing"

	"github.com/mediakeep/upload-service/internal/types"
)

func TestFilterDuplicatesSplitsByHash(t *testing.T) {
	idx := &fakeDedup{existing: map[string]bool{"owner-1|aaa": true}}

	files := []types.FileDescriptor{
		{Filename: "dup.jpg", ContentHash: "aaa"},
		{Filename: "fresh.jpg", ContentHash: "bbb"},
	}

	p := FilterDuplicates(context.Background(), idx, "owner-1", files)
	if len(p.Duplicate) != 1 || p.Duplicate[0].Filename != "dup.jpg" {
		t.Errorf("expected dup.jpg filtered, got %+v", p.Duplicate)
	}
	if len(p.Unique) != 1 || p.Unique[0].Filename != "fresh.jpg" {
		t.Errorf("expected fresh.jpg kept, got %+v", p.Unique)
	}
}

func TestFilterDuplicatesScopedToOwner(t *testing.T) {
	idx := &fakeDedup{existing: map[string]bool{"owner-2|aaa": true}}

	p := FilterDuplicates(context.Background(), idx, "owner-1",
		[]types.FileDescriptor{{Filename: "photo.jpg", ContentHash: "aaa"}})
	if len(p.Duplicate) != 0 {
		t.Error("another owner's content must not count as a duplicate")
	}
}

func TestFilterDuplicatesSkipsMissingHash(t *testing.T) {
	idx := &fakeDedup{existing: map[string]bool{"owner-1|aaa": true}}

	p := FilterDuplicates(context.Background(), idx, "owner-1",
		[]types.FileDescriptor{{Filename: "nohash.jpg"}})
	if len(p.Unique) != 1 {
		t.Error("file without a hash must pass through unfiltered")
	}
}

func TestFilterDuplicatesFailsOpen(t *testing.T) {
	idx := &fakeDedup{err: fmt.Errorf("index unavailable")}

	p := FilterDuplicates(context.Background(), idx, "owner-1",
		[]types.FileDescriptor{{Filename: "photo.jpg", ContentHash: "aaa"}})
	if len(p.Unique) != 1 || len(p.Duplicate) != 0 {
		t.Error("lookup failure must degrade to unique, not drop the file")
	}
}

func TestFilterDuplicatesNilIndex(t *testing.T) {
	p := FilterDuplicates(context.Background(), nil, "owner-1",
		[]types.FileDescriptor{{Filename: "photo.jpg", ContentHash: "aaa"}})
	if len(p.Unique) != 1 {
		t.Error("nil index must pass every file through")
	}
}

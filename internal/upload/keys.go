package upload

import (
	"fmt"
	"strings"
	"time"
)

// StorageKey maps (owner, filename, date) to a deterministic object-storage
// key of the form owner/originals/YYYY/MM/filename. Two files sharing
// owner+filename+month collide on key and the storage layer keeps the last
// write; batch callers needing uniqueness pre-suffix their filenames.
func StorageKey(ownerID, filename string, now time.Time) string {
	utc := now.UTC()
	return fmt.Sprintf("%s/originals/%04d/%02d/%s",
		ownerID, utc.Year(), int(utc.Month()), SanitizeFilename(filename))
}

// UniqueStorageKey is the single-file variant: a generated file id prefixes
// the filename so repeated uploads of the same name never overwrite.
func UniqueStorageKey(ownerID, fileID, filename string, now time.Time) string {
	utc := now.UTC()
	return fmt.Sprintf("%s/originals/%04d/%02d/%s_%s",
		ownerID, utc.Year(), int(utc.Month()), fileID, SanitizeFilename(filename))
}

// SanitizeFilename strips characters known to be unsafe in storage keys:
// spaces become underscores, parentheses are removed.
func SanitizeFilename(filename string) string {
	r := strings.NewReplacer(" ", "_", "(", "", ")", "")
	return r.Replace(filename)
}

// OwnedKey reports whether the storage key sits under the owner's prefix.
func OwnedKey(ownerID, key string) bool {
	return strings.HasPrefix(key, ownerID+"/")
}

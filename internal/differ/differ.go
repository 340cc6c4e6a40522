// Package differ implements the backup pipeline's two-level diff: a
// stat-cache fast path that skips unchanged files, and a blob-dedup
// check that skips already-known content. Both are thin, stateless
// wrappers over the catalog.
package differ

import (
	"github.com/oplancelot/rumba/internal/catalog"
	"github.com/oplancelot/rumba/internal/model"
)

// Differ answers the two questions the planner needs per file: "has
// this exact (path, mtime, size) been seen before, and with what
// hash?" and "is this content hash new to the catalog?"
type Differ struct {
	cat *catalog.Catalog
}

// New returns a Differ backed by cat.
func New(cat *catalog.Catalog) *Differ {
	return &Differ{cat: cat}
}

// CheckIndex looks up path's last recorded (mtime, size); if both match
// exactly, it returns the previously computed content hash and ok=true,
// letting the caller skip rehashing. Any mismatch — including an
// unseen path — is ok=false; there is no tolerance window.
func (d *Differ) CheckIndex(path string, mtime int64, size uint64) (model.Hash, bool, error) {
	entry, found, err := d.cat.GetIndexEntry(path)
	if err != nil {
		return model.Hash{}, false, err
	}
	if !found || entry.Mtime != mtime || entry.Size != size {
		return model.Hash{}, false, nil
	}
	return entry.Hash, true, nil
}

// IsNewBlob reports whether hash is absent from the catalog's blob
// table — true means this content has never been written to tape.
func (d *Differ) IsNewBlob(hash model.Hash) (bool, error) {
	_, found, err := d.cat.GetBlob(hash)
	if err != nil {
		return false, err
	}
	return !found, nil
}

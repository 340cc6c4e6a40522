// Package catalog is the persistent, transactional metadata store for
// the backup pipeline: a blobs table (hash -> tape location), a trees
// table (hash -> sorted child entries), a commits table (timestamp ->
// commit record), and an index table (path -> last-seen stat+hash), all
// backed by a single pebble database.
package catalog

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/oplancelot/rumba/internal/model"
	"github.com/oplancelot/rumba/internal/rumbaerr"
)

const (
	prefixBlob   byte = 'b'
	prefixTree   byte = 't'
	prefixCommit byte = 'c'
	prefixIndex  byte = 'i'
)

// Catalog wraps a pebble database and enforces the single-concurrent-
// writer rule the backup pipeline's two-phase commit protocol depends
// on: at most one write transaction may be open at a time.
type Catalog struct {
	db      *pebble.DB
	writeMu sync.Mutex
}

// Open creates or opens the catalog at path, tuned the way the rest of
// this codebase's pebble usage tunes it for a write-heavy workload.
func Open(path string) (*Catalog, error) {
	const op = "catalog.Open"

	opts := &pebble.Options{
		MemTableSize:                64 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxConcurrentCompactions:    func() int { return 3 },
		DisableWAL:                  false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	return &Catalog{db: db}, nil
}

// Close flushes and closes the underlying database.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return rumbaerr.New(rumbaerr.CatalogIO, "catalog.Close", err)
	}
	return nil
}

func blobKey(h model.Hash) []byte {
	k := make([]byte, 1+model.HashSize)
	k[0] = prefixBlob
	copy(k[1:], h[:])
	return k
}

func treeKey(h model.Hash) []byte {
	k := make([]byte, 1+model.HashSize)
	k[0] = prefixTree
	copy(k[1:], h[:])
	return k
}

func indexKey(path string) []byte {
	k := make([]byte, 1+len(path))
	k[0] = prefixIndex
	copy(k[1:], path)
	return k
}

func commitKey(timestamp uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = prefixCommit
	for i := 0; i < 8; i++ {
		k[1+i] = byte(timestamp >> uint(56-8*i))
	}
	return k
}

// GetBlob returns a blob's tape location, or ok=false if unknown.
func (c *Catalog) GetBlob(h model.Hash) (model.BlobLocation, bool, error) {
	const op = "catalog.GetBlob"
	val, closer, err := c.db.Get(blobKey(h))
	if err != nil {
		if err == pebble.ErrNotFound {
			return model.BlobLocation{}, false, nil
		}
		return model.BlobLocation{}, false, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	defer closer.Close()

	loc, derr := decodeBlobLocation(val)
	if derr != nil {
		return model.BlobLocation{}, false, rumbaerr.New(rumbaerr.CatalogCorrupt, op, derr)
	}
	return loc, true, nil
}

// GetIndexEntry returns the last recorded stat+hash for path, or
// ok=false if path has never been backed up.
func (c *Catalog) GetIndexEntry(path string) (model.IndexEntry, bool, error) {
	const op = "catalog.GetIndexEntry"
	val, closer, err := c.db.Get(indexKey(path))
	if err != nil {
		if err == pebble.ErrNotFound {
			return model.IndexEntry{}, false, nil
		}
		return model.IndexEntry{}, false, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	defer closer.Close()

	entry, derr := decodeIndexEntry(val)
	if derr != nil {
		return model.IndexEntry{}, false, rumbaerr.New(rumbaerr.CatalogCorrupt, op, derr)
	}
	return entry, true, nil
}

// GetTree returns a previously persisted tree's sorted entries.
func (c *Catalog) GetTree(h model.Hash) ([]model.TreeEntry, bool, error) {
	const op = "catalog.GetTree"
	val, closer, err := c.db.Get(treeKey(h))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	defer closer.Close()

	entries, derr := decodeTree(val)
	if derr != nil {
		return nil, false, rumbaerr.New(rumbaerr.CatalogCorrupt, op, derr)
	}
	return entries, true, nil
}

// LatestCommit returns the most recent commit record by timestamp, or
// ok=false if the catalog has never committed.
func (c *Catalog) LatestCommit() (model.Commit, bool, error) {
	const op = "catalog.LatestCommit"

	it, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixCommit},
		UpperBound: []byte{prefixCommit + 1},
	})
	if err != nil {
		return model.Commit{}, false, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	defer it.Close()

	if !it.Last() || !bytes.HasPrefix(it.Key(), []byte{prefixCommit}) {
		return model.Commit{}, false, nil
	}

	commit, derr := decodeCommit(it.Value())
	if derr != nil {
		return model.Commit{}, false, rumbaerr.New(rumbaerr.CatalogCorrupt, op, derr)
	}
	return commit, true, nil
}

// BlobEntry pairs a blob's content hash with its tape location, for
// listing a catalog's full blobs table.
type BlobEntry struct {
	Hash     model.Hash
	Location model.BlobLocation
}

// ListBlobs returns every blob the catalog has recorded, ordered by
// hash. Intended for inspection tooling, not the hot backup path.
func (c *Catalog) ListBlobs() ([]BlobEntry, error) {
	const op = "catalog.ListBlobs"

	it, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixBlob},
		UpperBound: []byte{prefixBlob + 1},
	})
	if err != nil {
		return nil, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	defer it.Close()

	var out []BlobEntry
	for it.First(); it.Valid(); it.Next() {
		var h model.Hash
		copy(h[:], it.Key()[1:])

		loc, derr := decodeBlobLocation(it.Value())
		if derr != nil {
			return nil, rumbaerr.New(rumbaerr.CatalogCorrupt, op, derr)
		}
		out = append(out, BlobEntry{Hash: h, Location: loc})
	}
	if err := it.Error(); err != nil {
		return nil, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	return out, nil
}

// IndexRecord pairs a path with its last-recorded stat+hash, for
// listing a catalog's full index table.
type IndexRecord struct {
	Path  string
	Entry model.IndexEntry
}

// ListIndex returns every path the catalog has indexed, ordered by
// path. Intended for inspection tooling, not the hot backup path.
func (c *Catalog) ListIndex() ([]IndexRecord, error) {
	const op = "catalog.ListIndex"

	it, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixIndex},
		UpperBound: []byte{prefixIndex + 1},
	})
	if err != nil {
		return nil, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	defer it.Close()

	var out []IndexRecord
	for it.First(); it.Valid(); it.Next() {
		path := string(it.Key()[1:])

		entry, derr := decodeIndexEntry(it.Value())
		if derr != nil {
			return nil, rumbaerr.New(rumbaerr.CatalogCorrupt, op, derr)
		}
		out = append(out, IndexRecord{Path: path, Entry: entry})
	}
	if err := it.Error(); err != nil {
		return nil, rumbaerr.New(rumbaerr.CatalogIO, op, err)
	}
	return out, nil
}

// WriteTxn is a single atomic write transaction: blob, tree, commit,
// and index mutations staged here are only visible to other readers
// once Commit is called.
type WriteTxn struct {
	c      *Catalog
	batch  *pebble.Batch
	closed bool
}

// BeginWrite starts a write transaction. Only one write transaction may
// be open at a time; a concurrent caller gets CATALOG_CONFLICT rather
// than blocking, so a stuck writer can't silently wedge the pipeline.
func (c *Catalog) BeginWrite() (*WriteTxn, error) {
	if !c.writeMu.TryLock() {
		return nil, rumbaerr.New(rumbaerr.CatalogConflict, "catalog.BeginWrite",
			fmt.Errorf("a write transaction is already in progress"))
	}
	return &WriteTxn{c: c, batch: c.db.NewBatch()}, nil
}

// PutBlob stages a blob's tape location.
func (t *WriteTxn) PutBlob(h model.Hash, loc model.BlobLocation) error {
	if err := t.batch.Set(blobKey(h), encodeBlobLocation(loc), nil); err != nil {
		return rumbaerr.New(rumbaerr.CatalogIO, "catalog.PutBlob", err)
	}
	return nil
}

// PutTree stages a directory's sorted entries under its tree hash.
func (t *WriteTxn) PutTree(h model.Hash, entries []model.TreeEntry) error {
	if err := t.batch.Set(treeKey(h), encodeTree(entries), nil); err != nil {
		return rumbaerr.New(rumbaerr.CatalogIO, "catalog.PutTree", err)
	}
	return nil
}

// PutCommit stages a commit record keyed by timestamp.
func (t *WriteTxn) PutCommit(timestamp uint64, c model.Commit) error {
	if err := t.batch.Set(commitKey(timestamp), encodeCommit(c), nil); err != nil {
		return rumbaerr.New(rumbaerr.CatalogIO, "catalog.PutCommit", err)
	}
	return nil
}

// PutIndex stages a path's latest stat+hash.
func (t *WriteTxn) PutIndex(path string, entry model.IndexEntry) error {
	if err := t.batch.Set(indexKey(path), encodeIndexEntry(entry), nil); err != nil {
		return rumbaerr.New(rumbaerr.CatalogIO, "catalog.PutIndex", err)
	}
	return nil
}

// Commit durably applies every staged mutation atomically and releases
// the write lock. The catalog is only mutated by this call — nothing
// staged before it is visible to readers.
func (t *WriteTxn) Commit() error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.c.writeMu.Unlock()
	if err := t.batch.Commit(pebble.Sync); err != nil {
		return rumbaerr.New(rumbaerr.CatalogIO, "catalog.Commit", err)
	}
	return nil
}

// Discard abandons a write transaction without applying it, releasing
// the write lock. Safe to call after Commit — it becomes a no-op.
func (t *WriteTxn) Discard() error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.c.writeMu.Unlock()
	return t.batch.Close()
}

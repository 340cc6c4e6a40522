package catalog

import (
	"path/filepath"
	"testing"

	"github.com/oplancelot/rumba/internal/model"
	"github.com/oplancelot/rumba/internal/rumbaerr"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "catalog"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return c
}

func TestBlobRoundTrip(t *testing.T) {
	c := openTestCatalog(t)

	hash := model.Hash{1, 2, 3}
	loc := model.BlobLocation{TapeID: 1, Offset: 512}

	txn, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutBlob(hash, loc); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, ok, err := c.GetBlob(hash)
	if err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	if !ok {
		t.Fatal("GetBlob() ok = false, want true")
	}
	if got != loc {
		t.Fatalf("GetBlob() = %+v, want %+v", got, loc)
	}
}

func TestGetBlobMissing(t *testing.T) {
	c := openTestCatalog(t)

	_, ok, err := c.GetBlob(model.Hash{9, 9, 9})
	if err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	if ok {
		t.Fatal("GetBlob() ok = true for unknown hash, want false")
	}
}

func TestIndexRoundTrip(t *testing.T) {
	c := openTestCatalog(t)

	entry := model.IndexEntry{Mtime: 1700000000, Size: 42, Hash: model.Hash{7}}

	txn, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutIndex("/root/a.txt", entry); err != nil {
		t.Fatalf("PutIndex() error = %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, ok, err := c.GetIndexEntry("/root/a.txt")
	if err != nil {
		t.Fatalf("GetIndexEntry() error = %v", err)
	}
	if !ok || got != entry {
		t.Fatalf("GetIndexEntry() = %+v, %v, want %+v, true", got, ok, entry)
	}
}

func TestTreeRoundTrip(t *testing.T) {
	c := openTestCatalog(t)

	entries := []model.TreeEntry{
		{Name: "a.txt", Mode: 0o644, Hash: model.Hash{1}},
		{Name: "b.txt", Mode: 0o644, Hash: model.Hash{2}},
	}
	treeHash := model.Hash{0xAA}

	txn, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutTree(treeHash, entries); err != nil {
		t.Fatalf("PutTree() error = %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, ok, err := c.GetTree(treeHash)
	if err != nil {
		t.Fatalf("GetTree() error = %v", err)
	}
	if !ok {
		t.Fatal("GetTree() ok = false, want true")
	}
	if len(got) != len(entries) {
		t.Fatalf("GetTree() returned %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Fatalf("GetTree()[%d] = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestListBlobsOrderedByHash(t *testing.T) {
	c := openTestCatalog(t)

	txn, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	locs := map[model.Hash]model.BlobLocation{
		{2}: {TapeID: 1, Offset: 100},
		{1}: {TapeID: 1, Offset: 0},
	}
	for h, loc := range locs {
		if err := txn.PutBlob(h, loc); err != nil {
			t.Fatalf("PutBlob() error = %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	entries, err := c.ListBlobs()
	if err != nil {
		t.Fatalf("ListBlobs() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListBlobs() returned %d entries, want 2", len(entries))
	}
	if entries[0].Hash != (model.Hash{1}) || entries[1].Hash != (model.Hash{2}) {
		t.Fatalf("ListBlobs() not ordered by hash: %+v", entries)
	}
}

func TestListIndexOrderedByPath(t *testing.T) {
	c := openTestCatalog(t)

	txn, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutIndex("/b.txt", model.IndexEntry{Size: 2}); err != nil {
		t.Fatalf("PutIndex() error = %v", err)
	}
	if err := txn.PutIndex("/a.txt", model.IndexEntry{Size: 1}); err != nil {
		t.Fatalf("PutIndex() error = %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	records, err := c.ListIndex()
	if err != nil {
		t.Fatalf("ListIndex() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListIndex() returned %d records, want 2", len(records))
	}
	if records[0].Path != "/a.txt" || records[1].Path != "/b.txt" {
		t.Fatalf("ListIndex() not ordered by path: %+v", records)
	}
}

func TestCommitAndLatestCommit(t *testing.T) {
	c := openTestCatalog(t)

	if _, ok, err := c.LatestCommit(); err != nil || ok {
		t.Fatalf("LatestCommit() on empty catalog: ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	first := model.Commit{TreeHash: model.Hash{1}, Author: "svc-backup", Timestamp: 100}
	second := model.Commit{TreeHash: model.Hash{2}, ParentHash: model.Hash{1}, HasParent: true, Author: "svc-backup", Timestamp: 200}

	for _, commit := range []model.Commit{first, second} {
		txn, err := c.BeginWrite()
		if err != nil {
			t.Fatalf("BeginWrite() error = %v", err)
		}
		if err := txn.PutCommit(commit.Timestamp, commit); err != nil {
			t.Fatalf("PutCommit() error = %v", err)
		}
		if err := txn.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	got, ok, err := c.LatestCommit()
	if err != nil {
		t.Fatalf("LatestCommit() error = %v", err)
	}
	if !ok {
		t.Fatal("LatestCommit() ok = false, want true")
	}
	if got.Timestamp != second.Timestamp || got.TreeHash != second.TreeHash {
		t.Fatalf("LatestCommit() = %+v, want %+v", got, second)
	}
}

func TestConcurrentWriteTransactionConflicts(t *testing.T) {
	c := openTestCatalog(t)

	txn, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	defer txn.Discard()

	_, err = c.BeginWrite()
	if err == nil {
		t.Fatal("second concurrent BeginWrite() error = nil, want CATALOG_CONFLICT")
	}
	if !rumbaerr.Is(err, rumbaerr.CatalogConflict) {
		t.Fatalf("second concurrent BeginWrite() error kind = %v, want CATALOG_CONFLICT", err)
	}
}

func TestDiscardedTransactionIsNotVisible(t *testing.T) {
	c := openTestCatalog(t)

	hash := model.Hash{5}
	txn, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutBlob(hash, model.BlobLocation{TapeID: 1, Offset: 0}); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	if err := txn.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	_, ok, err := c.GetBlob(hash)
	if err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	if ok {
		t.Fatal("GetBlob() ok = true after Discard(), want false")
	}

	// A new writer must be able to proceed after the discard released the lock.
	txn2, err := c.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() after Discard() error = %v", err)
	}
	if err := txn2.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
}

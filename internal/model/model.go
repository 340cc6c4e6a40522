// Package model defines the data types shared by every stage of the
// backup pipeline: content hashes, file metadata, tree entries, commits,
// and the index/blob-location records the catalog persists.
package model

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"
)

// HashSize is the length in bytes of a content hash.
const HashSize = 32

// Hash is a 32-byte BLAKE3 digest, used both as a content address and as
// a database key.
type Hash [HashSize]byte

// IsZero reports whether h is the zero hash (used as a parent_hash
// sentinel for the first commit in a catalog).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// FileMetadata describes a regular file as scanned from disk plus its
// content hash. Its identity hash binds metadata and content together so
// two files with identical bytes but different permissions or timestamps
// are distinguishable at the metadata layer.
type FileMetadata struct {
	Size        uint64
	Mtime       int64 // Unix timestamp, seconds
	Mode        uint32
	UID         uint32
	GID         uint32
	ContentHash Hash
}

// ComputeHash returns the identity hash of m: BLAKE3 over
// size||mtime||mode||uid||gid||content_hash, all integers little-endian.
func (m FileMetadata) ComputeHash() Hash {
	h := blake3.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:8], m.Size)
	h.Write(buf[:8])

	binary.LittleEndian.PutUint64(buf[:8], uint64(m.Mtime))
	h.Write(buf[:8])

	binary.LittleEndian.PutUint32(buf[:4], m.Mode)
	h.Write(buf[:4])

	binary.LittleEndian.PutUint32(buf[:4], m.UID)
	h.Write(buf[:4])

	binary.LittleEndian.PutUint32(buf[:4], m.GID)
	h.Write(buf[:4])

	h.Write(m.ContentHash[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// TreeEntry is one named child of a directory tree: either a file
// (Hash = its content hash) or a subdirectory (Hash = that subdirectory's
// tree hash).
type TreeEntry struct {
	Name string
	Mode uint32
	Hash Hash
}

// ComputeHash returns the identity hash of e: BLAKE3 over
// name_bytes||mode||hash, mode little-endian.
func (e TreeEntry) ComputeHash() Hash {
	h := blake3.New()
	h.Write([]byte(e.Name))

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], e.Mode)
	h.Write(buf[:])

	h.Write(e.Hash[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SortTreeEntries sorts entries ascending by Name, the order HashTree
// requires and the order the catalog persists entries in.
func SortTreeEntries(entries []TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

// HashTree computes a directory's tree hash from its already
// name-sorted entries: BLAKE3 over the concatenation of each entry's
// identity hash, in order. Callers must sort entries first (SortTreeEntries
// or equivalent) — HashTree does not sort defensively because it is
// typically called on a slice the caller just finished sorting, and
// re-sorting here would hide bugs in callers that forgot to.
func HashTree(entries []TreeEntry) Hash {
	h := blake3.New()
	for _, e := range entries {
		eh := e.ComputeHash()
		h.Write(eh[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Commit is one point-in-time backup record: the root tree it captured,
// an optional parent for history, and free-form author/message fields.
type Commit struct {
	TreeHash   Hash
	ParentHash Hash // zero value means "no parent" (first commit)
	HasParent  bool
	Author     string
	Message    string
	Timestamp  uint64 // Unix seconds
}

// BlobLocation records where a blob's bytes live on a tape.
type BlobLocation struct {
	TapeID uint64
	Offset uint64
}

// IndexEntry is the stat-cache fast-path record: the mtime/size/hash a
// path had the last time it was backed up.
type IndexEntry struct {
	Mtime int64
	Size  uint64
	Hash  Hash
}

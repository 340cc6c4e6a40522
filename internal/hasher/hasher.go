// Package hasher computes content and tree hashes for the backup
// pipeline. File hashing streams through a pooled buffer and a pooled
// BLAKE3 hasher so concurrent callers (the planner's per-directory
// hashing fan-out) don't thrash the allocator.
package hasher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/oplancelot/rumba/internal/model"
	"github.com/oplancelot/rumba/internal/rumbaerr"
	"github.com/zeebo/blake3"
)

// DefaultBufferSize matches the ambient buffer size used elsewhere in
// this codebase for streaming file reads.
const DefaultBufferSize = 256 * 1024

var bufferPool = &sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufferSize)
		return &buf
	},
}

var hasherPool = &sync.Pool{
	New: func() interface{} {
		return blake3.New()
	},
}

// HashFile streams path's bytes through BLAKE3 in DefaultBufferSize
// chunks and returns its content hash. The result does not depend on
// chunk size.
func HashFile(path string) (model.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Hash{}, rumbaerr.New(rumbaerr.HashIO, "hasher.HashFile", fmt.Errorf("open %q: %w", path, err))
	}
	defer f.Close()

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)
	buf := *bufPtr

	h := hasherPool.Get().(*blake3.Hasher)
	h.Reset()
	defer hasherPool.Put(h)

	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return model.Hash{}, rumbaerr.New(rumbaerr.HashIO, "hasher.HashFile", fmt.Errorf("read %q: %w", path, rerr))
		}
		if n == 0 {
			break
		}
	}

	var out model.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HashTree computes a directory's tree hash from its entries. Entries
// must already be sorted ascending by Name — the order the planner
// produces after its defensive sort, and the order the catalog persists
// tree entries in.
func HashTree(entries []model.TreeEntry) model.Hash {
	return model.HashTree(entries)
}

// IdentityHash returns a FileMetadata's identity hash (size, mtime,
// mode, uid, gid, content hash).
func IdentityHash(m model.FileMetadata) model.Hash {
	return m.ComputeHash()
}

// TreeEntryHash returns a TreeEntry's identity hash (name, mode, hash).
func TreeEntryHash(e model.TreeEntry) model.Hash {
	return e.ComputeHash()
}

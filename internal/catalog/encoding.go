package catalog

import (
	"encoding/binary"
	"fmt"

	"github.com/oplancelot/rumba/internal/model"
)

// encodingVersion prefixes every value this package writes, so a format
// change in a future version can be detected rather than silently
// misparsed.
const encodingVersion byte = 1

func errShort(what string) error {
	return fmt.Errorf("%s: payload too short", what)
}

// encodeFileMetadata lays out a FileMetadata row as
// version||size||mtime||mode||uid||gid||content_hash.
func encodeFileMetadata(m model.FileMetadata) []byte {
	buf := make([]byte, 1+8+8+4+4+4+model.HashSize)
	buf[0] = encodingVersion
	i := 1
	binary.LittleEndian.PutUint64(buf[i:], m.Size)
	i += 8
	binary.LittleEndian.PutUint64(buf[i:], uint64(m.Mtime))
	i += 8
	binary.LittleEndian.PutUint32(buf[i:], m.Mode)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], m.UID)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], m.GID)
	i += 4
	copy(buf[i:], m.ContentHash[:])
	return buf
}

func decodeFileMetadata(b []byte) (model.FileMetadata, error) {
	const minLen = 1 + 8 + 8 + 4 + 4 + 4 + model.HashSize
	if len(b) < minLen || b[0] != encodingVersion {
		return model.FileMetadata{}, errShort("file metadata")
	}
	i := 1
	var m model.FileMetadata
	m.Size = binary.LittleEndian.Uint64(b[i:])
	i += 8
	m.Mtime = int64(binary.LittleEndian.Uint64(b[i:]))
	i += 8
	m.Mode = binary.LittleEndian.Uint32(b[i:])
	i += 4
	m.UID = binary.LittleEndian.Uint32(b[i:])
	i += 4
	m.GID = binary.LittleEndian.Uint32(b[i:])
	i += 4
	copy(m.ContentHash[:], b[i:i+model.HashSize])
	return m, nil
}

// encodeBlobLocation lays out version||tape_id||offset.
func encodeBlobLocation(loc model.BlobLocation) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = encodingVersion
	binary.LittleEndian.PutUint64(buf[1:], loc.TapeID)
	binary.LittleEndian.PutUint64(buf[9:], loc.Offset)
	return buf
}

func decodeBlobLocation(b []byte) (model.BlobLocation, error) {
	if len(b) < 1+8+8 || b[0] != encodingVersion {
		return model.BlobLocation{}, errShort("blob location")
	}
	return model.BlobLocation{
		TapeID: binary.LittleEndian.Uint64(b[1:]),
		Offset: binary.LittleEndian.Uint64(b[9:]),
	}, nil
}

// encodeIndexEntry lays out version||mtime||size||hash.
func encodeIndexEntry(e model.IndexEntry) []byte {
	buf := make([]byte, 1+8+8+model.HashSize)
	buf[0] = encodingVersion
	binary.LittleEndian.PutUint64(buf[1:], uint64(e.Mtime))
	binary.LittleEndian.PutUint64(buf[9:], e.Size)
	copy(buf[17:], e.Hash[:])
	return buf
}

func decodeIndexEntry(b []byte) (model.IndexEntry, error) {
	const minLen = 1 + 8 + 8 + model.HashSize
	if len(b) < minLen || b[0] != encodingVersion {
		return model.IndexEntry{}, errShort("index entry")
	}
	var e model.IndexEntry
	e.Mtime = int64(binary.LittleEndian.Uint64(b[1:]))
	e.Size = binary.LittleEndian.Uint64(b[9:])
	copy(e.Hash[:], b[17:17+model.HashSize])
	return e, nil
}

// encodeTree lays out version||count||(mode||hash||name_len||name)*.
func encodeTree(entries []model.TreeEntry) []byte {
	size := 1 + 4
	for _, e := range entries {
		size += 4 + model.HashSize + 4 + len(e.Name)
	}
	buf := make([]byte, size)
	buf[0] = encodingVersion
	i := 1
	binary.LittleEndian.PutUint32(buf[i:], uint32(len(entries)))
	i += 4
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[i:], e.Mode)
		i += 4
		copy(buf[i:], e.Hash[:])
		i += model.HashSize
		binary.LittleEndian.PutUint32(buf[i:], uint32(len(e.Name)))
		i += 4
		copy(buf[i:], e.Name)
		i += len(e.Name)
	}
	return buf
}

func decodeTree(b []byte) ([]model.TreeEntry, error) {
	if len(b) < 1+4 || b[0] != encodingVersion {
		return nil, errShort("tree")
	}
	i := 1
	count := binary.LittleEndian.Uint32(b[i:])
	i += 4
	entries := make([]model.TreeEntry, 0, count)
	for n := uint32(0); n < count; n++ {
		if len(b) < i+4+model.HashSize+4 {
			return nil, errShort("tree entry header")
		}
		var e model.TreeEntry
		e.Mode = binary.LittleEndian.Uint32(b[i:])
		i += 4
		copy(e.Hash[:], b[i:i+model.HashSize])
		i += model.HashSize
		nameLen := int(binary.LittleEndian.Uint32(b[i:]))
		i += 4
		if len(b) < i+nameLen {
			return nil, errShort("tree entry name")
		}
		e.Name = string(b[i : i+nameLen])
		i += nameLen
		entries = append(entries, e)
	}
	return entries, nil
}

// encodeCommit lays out
// version||tree_hash||has_parent||parent_hash||timestamp||author_len||author||message_len||message.
func encodeCommit(c model.Commit) []byte {
	size := 1 + model.HashSize + 1 + model.HashSize + 8 + 4 + len(c.Author) + 4 + len(c.Message)
	buf := make([]byte, size)
	buf[0] = encodingVersion
	i := 1
	copy(buf[i:], c.TreeHash[:])
	i += model.HashSize
	if c.HasParent {
		buf[i] = 1
	}
	i++
	copy(buf[i:], c.ParentHash[:])
	i += model.HashSize
	binary.LittleEndian.PutUint64(buf[i:], c.Timestamp)
	i += 8
	binary.LittleEndian.PutUint32(buf[i:], uint32(len(c.Author)))
	i += 4
	copy(buf[i:], c.Author)
	i += len(c.Author)
	binary.LittleEndian.PutUint32(buf[i:], uint32(len(c.Message)))
	i += 4
	copy(buf[i:], c.Message)
	return buf
}

func decodeCommit(b []byte) (model.Commit, error) {
	const headerLen = 1 + model.HashSize + 1 + model.HashSize + 8 + 4
	if len(b) < headerLen || b[0] != encodingVersion {
		return model.Commit{}, errShort("commit header")
	}
	var c model.Commit
	i := 1
	copy(c.TreeHash[:], b[i:i+model.HashSize])
	i += model.HashSize
	c.HasParent = b[i] == 1
	i++
	copy(c.ParentHash[:], b[i:i+model.HashSize])
	i += model.HashSize
	c.Timestamp = binary.LittleEndian.Uint64(b[i:])
	i += 8
	authorLen := int(binary.LittleEndian.Uint32(b[i:]))
	i += 4
	if len(b) < i+authorLen+4 {
		return model.Commit{}, errShort("commit author")
	}
	c.Author = string(b[i : i+authorLen])
	i += authorLen
	msgLen := int(binary.LittleEndian.Uint32(b[i:]))
	i += 4
	if len(b) < i+msgLen {
		return model.Commit{}, errShort("commit message")
	}
	c.Message = string(b[i : i+msgLen])
	return c, nil
}

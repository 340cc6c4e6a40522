// Package tape streams a backup plan's new files onto an append-only
// sequential medium, framed as a single tar stream so both the
// rustltfs pipe and a local tar file share one on-media format.
package tape

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/klauspost/compress/zstd"
	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/internal/model"
	"github.com/oplancelot/rumba/internal/planner"
	"github.com/oplancelot/rumba/internal/rumbaerr"
)

const tarHeaderSize = 512
const tarBlockSize = 512

// Writer streams blobs to one append-only sink, tracking each blob's
// offset for the catalog to persist.
type Writer struct {
	sink             io.WriteCloser
	cmd              *exec.Cmd
	tapeID           uint64
	currentOffset    uint64
	compressionLevel int
	tw               *tar.Writer
}

// NewRustLTFSWriter spawns rustltfsPath as a child process writing to
// devicePath and returns a Writer piping tar data to its stdin.
func NewRustLTFSWriter(rustltfsPath, devicePath string, tapeID uint64, compressionLevel int) (*Writer, error) {
	const op = "tape.NewRustLTFSWriter"

	cmd := exec.Command(rustltfsPath, "write", "--device", devicePath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("open stdin pipe: %w", err))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("start %s: %w", rustltfsPath, err))
	}

	return &Writer{
		sink:             stdin,
		cmd:              cmd,
		tapeID:           tapeID,
		compressionLevel: compressionLevel,
		tw:               tar.NewWriter(stdin),
	}, nil
}

// NewTarFileWriter creates a local tar file at path and returns a
// Writer appending to it directly.
func NewTarFileWriter(path string, tapeID uint64, compressionLevel int) (*Writer, error) {
	const op = "tape.NewTarFileWriter"

	f, err := os.Create(path)
	if err != nil {
		return nil, rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("create %q: %w", path, err))
	}

	return &Writer{
		sink:             f,
		tapeID:           tapeID,
		compressionLevel: compressionLevel,
		tw:               tar.NewWriter(f),
	}, nil
}

// WritePlan writes every new file named by plan to the tape as one tar
// member each, returning the tape locations the committer will persist
// to the catalog's blobs table. Any write error aborts mid-plan with
// TAPE_IO; the caller must not commit catalog updates afterward — the
// tape may contain partial data.
func (w *Writer) WritePlan(plan *planner.BackupPlan) (map[model.Hash]model.BlobLocation, error) {
	const op = "tape.WritePlan"

	locations := make(map[model.Hash]model.BlobLocation, len(plan.NewFiles))

	for _, nf := range plan.NewFiles {
		raw, err := os.ReadFile(nf.Path)
		if err != nil {
			return nil, rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("read %q: %w", nf.Path, err))
		}

		payload := raw
		if w.compressionLevel > 0 {
			payload, err = compress(raw, w.compressionLevel)
			if err != nil {
				return nil, rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("compress %q: %w", nf.Path, err))
			}
		}

		offset := w.currentOffset
		size := uint64(len(payload))

		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     memberName(nf.Path, nf.Hash),
			Mode:     0o644,
			Size:     int64(size),
			Format:   tar.FormatGNU,
		}

		if err := w.tw.WriteHeader(header); err != nil {
			return nil, rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("write header for %q: %w", nf.Path, err))
		}
		if _, err := w.tw.Write(payload); err != nil {
			return nil, rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("write data for %q: %w", nf.Path, err))
		}

		dataBlocks := (size + tarBlockSize - 1) / tarBlockSize
		w.currentOffset = offset + tarHeaderSize + dataBlocks*tarBlockSize

		locations[nf.Hash] = model.BlobLocation{TapeID: w.tapeID, Offset: offset}

		logger.Debug("wrote blob to tape", "path", nf.Path, "size", size, "offset", offset)
	}

	return locations, nil
}

// Finish completes the tar archive and closes the sink. For a process
// sink it waits for the child and maps a non-zero exit to
// TAPE_REMOTE_FAILED; for a file sink it fsyncs before closing.
func (w *Writer) Finish() error {
	const op = "tape.Finish"

	if err := w.tw.Close(); err != nil {
		return rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("close tar stream: %w", err))
	}

	if w.cmd != nil {
		if err := w.sink.Close(); err != nil {
			return rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("close rustltfs stdin: %w", err))
		}
		if err := w.cmd.Wait(); err != nil {
			return rumbaerr.New(rumbaerr.TapeRemoteFailed, op, fmt.Errorf("rustltfs process failed: %w", err))
		}
		return nil
	}

	if f, ok := w.sink.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("fsync tape file: %w", err))
		}
	}
	if err := w.sink.Close(); err != nil {
		return rumbaerr.New(rumbaerr.TapeIO, op, fmt.Errorf("close tape file: %w", err))
	}
	return nil
}

func memberName(path string, hash model.Hash) string {
	base := basename(path)
	return fmt.Sprintf("%s_%s", base, hexPrefix(hash, 8))
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func hexPrefix(h model.Hash, n int) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = hexDigits[h[i]>>4]
		out[i*2+1] = hexDigits[h[i]&0x0f]
	}
	return string(out)
}

func compress(data []byte, level int) ([]byte, error) {
	encLevel := zstd.EncoderLevelFromZstd(level)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

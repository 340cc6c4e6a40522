package tape

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/internal/model"
	"github.com/oplancelot/rumba/internal/planner"
)

func init() {
	logger.Init("error", "text", io.Discard)
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// Scenario 1: a tar stream written for two new files contains two
// members, named after their basename and hash prefix, in the order
// the plan lists them.
func TestWritePlanTarFileContainsMembersInPlanOrder(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.txt")
	bPath := filepath.Join(dir, "b.txt")
	writeTestFile(t, aPath, "hello")
	writeTestFile(t, bPath, "world!!")

	tapePath := filepath.Join(dir, "tape.tar")
	w, err := NewTarFileWriter(tapePath, 1, 0)
	if err != nil {
		t.Fatalf("NewTarFileWriter() error = %v", err)
	}

	plan := &planner.BackupPlan{
		NewFiles: []planner.NewFile{
			{Path: aPath, Hash: model.Hash{0xaa}},
			{Path: bPath, Hash: model.Hash{0xbb}},
		},
	}

	locations, err := w.WritePlan(plan)
	if err != nil {
		t.Fatalf("WritePlan() error = %v", err)
	}
	if len(locations) != 2 {
		t.Fatalf("locations = %d, want 2", len(locations))
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	f, err := os.Open(tapePath)
	if err != nil {
		t.Fatalf("open tape file: %v", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next() error = %v", err)
		}
		names = append(names, hdr.Name)
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read member body: %v", err)
		}
		if int64(len(body)) != hdr.Size {
			t.Fatalf("member %q body len = %d, header size = %d", hdr.Name, len(body), hdr.Size)
		}
	}

	if len(names) != 2 {
		t.Fatalf("tar members = %d, want 2", len(names))
	}
	wantA := memberName(aPath, model.Hash{0xaa})
	wantB := memberName(bPath, model.Hash{0xbb})
	if names[0] != wantA || names[1] != wantB {
		t.Fatalf("tar member names = %v, want [%s %s]", names, wantA, wantB)
	}
}

// Offsets advance by exactly one tar header block plus the data
// rounded up to the next 512-byte block, matching the on-media layout
// every reader (including a real LTFS reader) depends on.
func TestWritePlanOffsetsAccountForHeaderAndPadding(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.txt")
	bPath := filepath.Join(dir, "b.txt")
	writeTestFile(t, aPath, "12345") // 5 bytes -> 1 padded block
	writeTestFile(t, bPath, string(make([]byte, 513))) // 513 bytes -> 2 padded blocks

	tapePath := filepath.Join(dir, "tape.tar")
	w, err := NewTarFileWriter(tapePath, 7, 0)
	if err != nil {
		t.Fatalf("NewTarFileWriter() error = %v", err)
	}

	hashA := model.Hash{0x01}
	hashB := model.Hash{0x02}
	plan := &planner.BackupPlan{
		NewFiles: []planner.NewFile{
			{Path: aPath, Hash: hashA},
			{Path: bPath, Hash: hashB},
		},
	}

	locations, err := w.WritePlan(plan)
	if err != nil {
		t.Fatalf("WritePlan() error = %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	locA := locations[hashA]
	locB := locations[hashB]

	if locA.TapeID != 7 || locB.TapeID != 7 {
		t.Fatalf("TapeID = %d/%d, want 7/7", locA.TapeID, locB.TapeID)
	}
	if locA.Offset != 0 {
		t.Fatalf("first blob offset = %d, want 0", locA.Offset)
	}
	wantBOffset := uint64(tarHeaderSize + 1*tarBlockSize)
	if locB.Offset != wantBOffset {
		t.Fatalf("second blob offset = %d, want %d", locB.Offset, wantBOffset)
	}
}

func TestWritePlanEmptyPlanProducesEmptyLocations(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTarFileWriter(filepath.Join(dir, "tape.tar"), 1, 0)
	if err != nil {
		t.Fatalf("NewTarFileWriter() error = %v", err)
	}
	locations, err := w.WritePlan(&planner.BackupPlan{})
	if err != nil {
		t.Fatalf("WritePlan() error = %v", err)
	}
	if len(locations) != 0 {
		t.Fatalf("locations = %d, want 0", len(locations))
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
}

func TestMemberNameIncludesBasenameAndHashPrefix(t *testing.T) {
	h := model.Hash{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	name := memberName("/some/dir/report.csv", h)
	want := "report.csv_0102030405060708"
	if name != want {
		t.Fatalf("memberName() = %q, want %q", name, want)
	}
}

// Package testutil builds archive sets and DICOM JSON headers for tests.
package testutil

import (
	"archive/tar"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how WriteArchive wraps the tar stream.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
	LZ4
)

// Entry is one file stored in a test archive.
type Entry struct {
	Name string
	Data []byte
}

// WriteArchive writes a plain tar archive holding entries to path.
func WriteArchive(t testing.TB, path string, entries ...Entry) {
	t.Helper()
	WriteCompressedArchive(t, path, None, entries...)
}

// WriteCompressedArchive writes a tar archive holding entries to path,
// optionally wrapped in gzip, zstd or an lz4 frame.
func WriteCompressedArchive(t testing.TB, path string, c Compression, entries ...Entry) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating archive %s: %v", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var closer io.Closer
	switch c {
	case Gzip:
		gw := gzip.NewWriter(f)
		w, closer = gw, gw
	case Zstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			t.Fatalf("creating zstd writer: %v", err)
		}
		w, closer = zw, zw
	case LZ4:
		lw := lz4.NewWriter(f)
		w, closer = lw, lw
	}

	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     0o644,
			Size:     int64(len(e.Data)),
			Typeflag: tar.TypeReg,
			ModTime:  time.Unix(0, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header %s: %v", e.Name, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			t.Fatalf("writing tar entry %s: %v", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			t.Fatalf("closing compressor: %v", err)
		}
	}
}

// WriteCorruptArchive writes a file that starts like a tar header but fails
// its checksum.
func WriteCorruptArchive(t testing.TB, path string) {
	t.Helper()

	data := make([]byte, 1024)
	copy(data, "garbage.json")
	for i := 100; i < 512; i++ {
		data[i] = 'x'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing corrupt archive %s: %v", path, err)
	}
}

// ArchiveSet creates a directory holding one archive per shard and returns
// its path.
func ArchiveSet(t testing.TB, shards ...[]Entry) string {
	t.Helper()

	dir := t.TempDir()
	for i, entries := range shards {
		WriteArchive(t, filepath.Join(dir, fmt.Sprintf("shard-%03d.tar", i)), entries...)
	}
	return dir
}

// UID returns a fresh UUID-derived UID under the 2.25 root.
func UID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}

// Header returns a DICOM JSON header for an instance with the given
// identifiers and BitsAllocated.
func Header(sopClassUID, sopInstanceUID string, bitsAllocated int) []byte {
	return []byte(fmt.Sprintf(`{
  "00080016": {"vr": "UI", "Value": [%q]},
  "00080018": {"vr": "UI", "Value": [%q]},
  "00080050": {"vr": "SH", "Value": ["1234567890"]},
  "00080060": {"vr": "CS", "Value": ["CT"]},
  "00100010": {"vr": "PN", "Value": [{"Alphabetic": "Doe^Jane"}]},
  "00100020": {"vr": "LO", "Value": ["2.25.42"]},
  "0020000D": {"vr": "UI", "Value": ["2.25.43"]},
  "0020000E": {"vr": "UI", "Value": ["2.25.44"]},
  "00280010": {"vr": "US", "Value": [2]},
  "00280011": {"vr": "US", "Value": [2]},
  "00280100": {"vr": "US", "Value": [%d]}
}`, sopClassUID, sopInstanceUID, bitsAllocated))
}

// Package archive locates named entries inside directories of tar archives.
//
// An archive set is a directory of "*.tar" files that together hold every
// entry of one kind. There is no index: each lookup opens archives in
// directory order and scans their entries until the name is found.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	dserrors "github.com/caio-sobreiro/dicomstitch/errors"
	"github.com/caio-sobreiro/dicomstitch/interfaces"
)

const (
	// DefaultPattern matches archive files inside an archive set directory.
	DefaultPattern = "*.tar"

	// DefaultMaxEntrySize bounds the allocation for a single entry.
	DefaultMaxEntrySize int64 = 1 << 30
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Locator finds a named entry in an archive set and returns its content.
type Locator = interfaces.EntryLocator

// Entry describes one regular file inside an archive.
type Entry struct {
	Archive string
	Name    string
	Size    int64
}

// Option configures a DirLocator.
type Option func(*DirLocator)

// WithLogger overrides the logger used by the locator.
func WithLogger(logger *slog.Logger) Option {
	return func(l *DirLocator) {
		l.Logger = logger
	}
}

// WithMaxEntrySize sets the largest entry the locator will read into memory.
func WithMaxEntrySize(n int64) Option {
	return func(l *DirLocator) {
		l.MaxEntrySize = n
	}
}

// WithPattern sets the glob archive file names must match.
func WithPattern(pattern string) Option {
	return func(l *DirLocator) {
		l.Pattern = pattern
	}
}

// DirLocator scans every archive in a directory linearly. It holds no state
// between calls and is safe for concurrent use as long as the archives are
// not modified while being read.
type DirLocator struct {
	Logger       *slog.Logger
	MaxEntrySize int64
	Pattern      string
}

var _ Locator = (*DirLocator)(nil)

// NewDirLocator builds a DirLocator with the default pattern and entry size limit.
func NewDirLocator(opts ...Option) *DirLocator {
	l := &DirLocator{
		MaxEntrySize: DefaultMaxEntrySize,
		Pattern:      DefaultPattern,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Find returns the content of the first regular-file entry called name in
// any archive of dir. Names are compared verbatim, so "./a.json" and
// "a.json" are different entries. Archives are opened in lexical file name order and
// each is closed before the next is opened.
//
// It returns an *errors.NotFoundError when no archive holds the entry and an
// *errors.ArchiveReadError as soon as the directory or any archive cannot be
// read; a corrupt archive is never skipped.
func (l *DirLocator) Find(ctx context.Context, dir, name string) ([]byte, error) {
	logger := l.logger()

	archives, err := l.archives(dir)
	if err != nil {
		return nil, dserrors.NewArchiveReadError(dir, "", name, err)
	}

	for _, path := range archives {
		if err := ctx.Err(); err != nil {
			return nil, contextError(dir, name, err)
		}

		var data []byte
		found := false
		err := l.walk(ctx, path, func(hdr *tar.Header, r io.Reader) (bool, error) {
			if hdr.Name != name {
				return false, nil
			}
			if hdr.Size > l.maxEntrySize() {
				return true, fmt.Errorf("entry %s is %d bytes, limit is %d", hdr.Name, hdr.Size, l.maxEntrySize())
			}
			data = make([]byte, hdr.Size)
			if _, err := io.ReadFull(r, data); err != nil {
				return true, fmt.Errorf("reading entry %s: %w", hdr.Name, err)
			}
			found = true
			return true, nil
		})
		if err != nil {
			return nil, l.wrap(ctx, dir, path, name, err)
		}
		if found {
			logger.DebugContext(ctx, "Found archive entry",
				"dir", dir,
				"archive", filepath.Base(path),
				"entry", name,
				"size", len(data))
			return data, nil
		}
		logger.DebugContext(ctx, "Entry not in archive",
			"archive", filepath.Base(path),
			"entry", name)
	}

	return nil, dserrors.NewNotFoundError(dir, name)
}

// Entries lists every regular-file entry of every archive in dir, in scan order.
func (l *DirLocator) Entries(ctx context.Context, dir string) ([]Entry, error) {
	archives, err := l.archives(dir)
	if err != nil {
		return nil, dserrors.NewArchiveReadError(dir, "", "", err)
	}

	var entries []Entry
	for _, path := range archives {
		err := l.walk(ctx, path, func(hdr *tar.Header, _ io.Reader) (bool, error) {
			entries = append(entries, Entry{
				Archive: path,
				Name:    hdr.Name,
				Size:    hdr.Size,
			})
			return false, nil
		})
		if err != nil {
			return nil, l.wrap(ctx, dir, path, "", err)
		}
	}
	return entries, nil
}

// archives returns the archive files of dir in lexical order.
func (l *DirLocator) archives(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	pattern := l.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}

	var archives []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, de.Name())
		if err != nil {
			return nil, fmt.Errorf("archive pattern %q: %w", pattern, err)
		}
		if ok {
			archives = append(archives, filepath.Join(dir, de.Name()))
		}
	}
	return archives, nil
}

// walk calls fn for each regular-file entry of the archive at path until fn
// reports done or the archive ends. The archive is closed before walk returns.
func (l *DirLocator) walk(ctx context.Context, path string, fn func(*tar.Header, io.Reader) (bool, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("empty archive")
	}

	r, closeFn, err := decompress(f)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}

		done, err := fn(hdr, tr)
		if err != nil || done {
			return err
		}
	}
}

func (l *DirLocator) wrap(ctx context.Context, dir, path, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
		return contextError(dir, name, err)
	}
	return dserrors.NewArchiveReadError(dir, path, name, err)
}

// contextError reports an expired deadline as a TimeoutError and passes
// cancellation through unchanged.
func contextError(dir, name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dserrors.NewTimeoutError(fmt.Sprintf("scanning %s for %q", dir, name), "its deadline", err)
	}
	return err
}

func (l *DirLocator) maxEntrySize() int64 {
	if l.MaxEntrySize > 0 {
		return l.MaxEntrySize
	}
	return DefaultMaxEntrySize
}

func (l *DirLocator) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// decompress sniffs the first bytes of r and wraps it in a gzip, zstd or
// lz4 frame reader when the archive is compressed.
func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, nil, err
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return zr, zr.Close, nil
	case bytes.HasPrefix(head, lz4Magic):
		return lz4.NewReader(br), func() {}, nil
	}
	return br, func() {}, nil
}

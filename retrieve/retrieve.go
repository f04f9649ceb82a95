// Package retrieve locates both halves of a split DICOM instance and
// reassembles them into a Part 10 file.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomstitch/archive"
	"github.com/caio-sobreiro/dicomstitch/config"
	dserrors "github.com/caio-sobreiro/dicomstitch/errors"
	"github.com/caio-sobreiro/dicomstitch/interfaces"
	"github.com/caio-sobreiro/dicomstitch/reassemble"
)

// Entry name extensions of the two halves.
const (
	HeaderExt = ".json"
	PixelExt  = ".j2c"
	OutputExt = ".dcm"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the logger used by the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.Logger = logger
	}
}

// WithLocator replaces the archive locator used for both halves.
func WithLocator(locator interfaces.EntryLocator) Option {
	return func(s *Service) {
		s.Locator = locator
	}
}

// WithReassembler replaces the reassembler built from Config.TransferSyntax.
func WithReassembler(assembler interfaces.RecordAssembler) Option {
	return func(s *Service) {
		s.Reassembler = assembler
	}
}

// Service answers retrieval requests against one pair of archive sets.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	Config      config.Config
	Locator     interfaces.EntryLocator
	Reassembler interfaces.RecordAssembler
	Logger      *slog.Logger
}

// New validates cfg and builds a Service. Without WithLocator the service
// scans archives with an archive.DirLocator, and without WithReassembler it
// reassembles with the transfer syntax from cfg.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Service{Config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	if s.Locator == nil {
		locatorOpts := []archive.Option{archive.WithLogger(s.Logger)}
		if cfg.MaxEntrySize > 0 {
			locatorOpts = append(locatorOpts, archive.WithMaxEntrySize(cfg.MaxEntrySize))
		}
		s.Locator = archive.NewDirLocator(locatorOpts...)
	}

	if s.Reassembler == nil {
		r, err := reassemble.New(
			reassemble.WithLogger(s.Logger),
			reassemble.WithTransferSyntax(cfg.TransferSyntax),
		)
		if err != nil {
			return nil, err
		}
		s.Reassembler = r
	}

	return s, nil
}

// RetrieveAndReassemble finds <uid>.json in the header archive set and
// <uid>.j2c in the pixel archive set, then reassembles them.
//
// The two lookups run concurrently. When both fail the header failure is
// reported. A missing half is an *errors.RecordNotFoundError, any other
// lookup failure an *errors.HalfError; reassembly errors are returned as-is.
func (s *Service) RetrieveAndReassemble(ctx context.Context, uid string) ([]byte, error) {
	start := time.Now()
	logger := s.Logger.With("sop_instance_uid", uid)

	if s.Config.ScanTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.ScanTimeout.Duration)
		defer cancel()
	}

	// A failed header lookup decides the outcome, so it stops the pixel scan
	pixelCtx, cancelPixel := context.WithCancel(ctx)
	defer cancelPixel()

	var (
		g                   errgroup.Group
		header, pixels      []byte
		headerErr, pixelErr error
	)
	g.Go(func() error {
		header, headerErr = s.find(ctx, logger, uid, dserrors.HalfHeader, s.Config.HeaderArchiveDir, HeaderExt)
		if headerErr != nil {
			cancelPixel()
		}
		return headerErr
	})
	g.Go(func() error {
		pixels, pixelErr = s.find(pixelCtx, logger, uid, dserrors.HalfPixel, s.Config.PixelArchiveDir, PixelExt)
		return pixelErr
	})

	if err := g.Wait(); err != nil {
		if headerErr != nil {
			err = headerErr
		}
		logger.ErrorContext(ctx, "Retrieval failed",
			"error", err,
			"duration", time.Since(start))
		return nil, err
	}

	out, err := s.Reassembler.Reassemble(header, pixels)
	if err != nil {
		logger.ErrorContext(ctx, "Reassembly failed",
			"error", err,
			"duration", time.Since(start))
		return nil, err
	}

	logger.InfoContext(ctx, "Reassembled instance",
		"header_bytes", len(header),
		"pixel_bytes", len(pixels),
		"file_bytes", len(out),
		"duration", time.Since(start))
	return out, nil
}

// RetrieveToFile reassembles uid and writes it to <OutputDir>/<uid>.dcm,
// creating OutputDir if needed. The file is written to a temporary name and
// renamed into place, so readers never see a partial file.
func (s *Service) RetrieveToFile(ctx context.Context, uid string) (string, error) {
	if err := checkFileName(uid); err != nil {
		return "", err
	}

	data, err := s.RetrieveAndReassemble(ctx, uid)
	if err != nil {
		return "", err
	}

	dir := s.Config.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	path := filepath.Join(dir, uid+OutputExt)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	s.Logger.InfoContext(ctx, "Wrote instance",
		"sop_instance_uid", uid,
		"path", path,
		"bytes", len(data))
	return path, nil
}

func (s *Service) find(ctx context.Context, logger *slog.Logger, uid string, half dserrors.Half, dir, ext string) ([]byte, error) {
	start := time.Now()
	name := uid + ext
	logger.DebugContext(ctx, "Scanning archive set",
		"half", half,
		"dir", dir,
		"entry", name)

	data, err := s.Locator.Find(ctx, dir, name)
	if err != nil {
		var notFound *dserrors.NotFoundError
		if errors.As(err, &notFound) {
			return nil, dserrors.NewRecordNotFoundError(uid, half, notFound)
		}
		return nil, dserrors.NewHalfError(uid, half, err)
	}

	logger.DebugContext(ctx, "Found entry",
		"half", half,
		"dir", dir,
		"bytes", len(data),
		"duration", time.Since(start))
	return data, nil
}

// checkFileName rejects identifiers that cannot be used verbatim as a file
// name inside the output directory.
func checkFileName(uid string) error {
	if uid == "" || uid == "." || uid == ".." || strings.ContainsAny(uid, `/\`+"\x00") {
		return fmt.Errorf("SOP Instance UID %q cannot be used as an output file name", uid)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dicomstitch-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

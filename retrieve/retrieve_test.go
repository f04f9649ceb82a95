package retrieve

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomstitch/config"
	"github.com/caio-sobreiro/dicomstitch/dicom"
	dserrors "github.com/caio-sobreiro/dicomstitch/errors"
	"github.com/caio-sobreiro/dicomstitch/internal/testutil"
	"github.com/caio-sobreiro/dicomstitch/types"
)

const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

type locatorFunc func(ctx context.Context, dir, name string) ([]byte, error)

func (f locatorFunc) Find(ctx context.Context, dir, name string) ([]byte, error) {
	return f(ctx, dir, name)
}

func newService(t *testing.T, headers, pixels string, opts ...Option) *Service {
	t.Helper()
	svc, err := New(config.Config{
		HeaderArchiveDir: headers,
		PixelArchiveDir:  pixels,
		OutputDir:        filepath.Join(t.TempDir(), "out"),
	}, opts...)
	require.NoError(t, err)
	return svc
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(config.Config{HeaderArchiveDir: "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNew_Defaults(t *testing.T) {
	svc := newService(t, "h", "p")
	assert.NotNil(t, svc.Locator)
	assert.NotNil(t, svc.Reassembler)
	assert.NotNil(t, svc.Logger)
}

func TestRetrieveAndReassemble_ConcreteScenario(t *testing.T) {
	headers := testutil.ArchiveSet(t, []testutil.Entry{{
		Name: "A.json",
		Data: []byte(`{"00080016": {"vr": "UI", "Value": ["` + ctImageStorage + `"]}, "00080018": {"vr": "UI", "Value": ["A"]}}`),
	}})
	pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: "A.j2c", Data: []byte{0x01, 0x02, 0x03}}})

	out, err := newService(t, headers, pixels).RetrieveAndReassemble(context.Background(), "A")
	require.NoError(t, err)

	meta, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	assert.Equal(t, "A", ds.GetString(types.TagSOPInstanceUID))
	assert.Equal(t, types.ExplicitVRLittleEndian, meta.GetString(types.TagTransferSyntaxUID))

	got, _ := ds.GetBytes(types.TagPixelData)
	require.Len(t, got, 4)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got[:3])
}

func TestRetrieveAndReassemble_ShardedArchives(t *testing.T) {
	uids := []string{testutil.UID(), testutil.UID(), testutil.UID()}
	payload := func(i int) []byte { return []byte{byte(i), 0xff, byte(i), 0xfe} }

	// Header shards and pixel shards do not line up
	headers := testutil.ArchiveSet(t,
		[]testutil.Entry{{Name: uids[2] + ".json", Data: testutil.Header(ctImageStorage, uids[2], 16)}},
		[]testutil.Entry{
			{Name: uids[0] + ".json", Data: testutil.Header(ctImageStorage, uids[0], 16)},
			{Name: uids[1] + ".json", Data: testutil.Header(ctImageStorage, uids[1], 16)},
		},
	)
	pixels := testutil.ArchiveSet(t,
		[]testutil.Entry{{Name: uids[0] + ".j2c", Data: payload(0)}},
		[]testutil.Entry{{Name: uids[1] + ".j2c", Data: payload(1)}},
		[]testutil.Entry{{Name: uids[2] + ".j2c", Data: payload(2)}},
	)
	svc := newService(t, headers, pixels)

	for i, uid := range uids {
		out, err := svc.RetrieveAndReassemble(context.Background(), uid)
		require.NoError(t, err)

		_, ds, err := dicom.ReadPart10(out)
		require.NoError(t, err)
		assert.Equal(t, uid, ds.GetString(types.TagSOPInstanceUID))
		got, _ := ds.GetBytes(types.TagPixelData)
		assert.Equal(t, payload(i), got)
	}
}

func TestRetrieveAndReassemble_Idempotent(t *testing.T) {
	uid := testutil.UID()
	headers := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".json", Data: testutil.Header(ctImageStorage, uid, 8)}})
	pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".j2c", Data: []byte("codestream")}})
	svc := newService(t, headers, pixels)

	first, err := svc.RetrieveAndReassemble(context.Background(), uid)
	require.NoError(t, err)
	second, err := svc.RetrieveAndReassemble(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRetrieveAndReassemble_NotFound(t *testing.T) {
	uid := "1.2.3"
	headerEntry := testutil.Entry{Name: uid + ".json", Data: testutil.Header(ctImageStorage, uid, 16)}
	pixelEntry := testutil.Entry{Name: uid + ".j2c", Data: []byte{1, 2}}
	other := testutil.Entry{Name: "other", Data: []byte{0}}

	tests := []struct {
		name     string
		uid      string
		headers  testutil.Entry
		pixels   testutil.Entry
		wantHalf dserrors.Half
		wantDir  func(headers, pixels string) string
	}{
		{"Absent from both", "missing", headerEntry, pixelEntry, dserrors.HalfHeader, func(h, _ string) string { return h }},
		{"Header absent", uid, other, pixelEntry, dserrors.HalfHeader, func(h, _ string) string { return h }},
		{"Pixel absent", uid, headerEntry, other, dserrors.HalfPixel, func(_, p string) string { return p }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := testutil.ArchiveSet(t, []testutil.Entry{tt.headers})
			pixels := testutil.ArchiveSet(t, []testutil.Entry{tt.pixels})

			_, err := newService(t, headers, pixels).RetrieveAndReassemble(context.Background(), tt.uid)
			require.Error(t, err)
			assert.ErrorIs(t, err, dserrors.ErrNotFound)

			var recordErr *dserrors.RecordNotFoundError
			require.ErrorAs(t, err, &recordErr)
			assert.Equal(t, tt.uid, recordErr.UID)
			assert.Equal(t, tt.wantHalf, recordErr.Half)
			assert.Equal(t, tt.wantDir(headers, pixels), recordErr.Err.Dir)

			half, ok := dserrors.HalfOf(err)
			assert.True(t, ok)
			assert.Equal(t, tt.wantHalf, half)
		})
	}
}

func TestRetrieveAndReassemble_ArchiveReadError(t *testing.T) {
	uid := "1.2.3"
	headers := t.TempDir()
	testutil.WriteCorruptArchive(t, filepath.Join(headers, "0.tar"))
	testutil.WriteArchive(t, filepath.Join(headers, "1.tar"), testutil.Entry{Name: uid + ".json", Data: testutil.Header(ctImageStorage, uid, 16)})
	pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".j2c", Data: []byte{1, 2}}})

	_, err := newService(t, headers, pixels).RetrieveAndReassemble(context.Background(), uid)
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrArchiveRead)

	half, ok := dserrors.HalfOf(err)
	require.True(t, ok)
	assert.Equal(t, dserrors.HalfHeader, half)
}

func TestRetrieveAndReassemble_MissingPixelDirectory(t *testing.T) {
	uid := "1.2.3"
	headers := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".json", Data: testutil.Header(ctImageStorage, uid, 16)}})

	_, err := newService(t, headers, filepath.Join(t.TempDir(), "absent")).RetrieveAndReassemble(context.Background(), uid)
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrArchiveRead)

	half, _ := dserrors.HalfOf(err)
	assert.Equal(t, dserrors.HalfPixel, half)
}

func TestRetrieveAndReassemble_ReassemblyErrors(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   error
	}{
		{"Malformed header", []byte(`{"00080018": `), dserrors.ErrMalformedHeader},
		{"Missing SOP Class UID", []byte(`{"00080018": {"vr": "UI", "Value": ["1.2.3"]}}`), dserrors.ErrReassembly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := testutil.ArchiveSet(t, []testutil.Entry{{Name: "1.2.3.json", Data: tt.header}})
			pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: "1.2.3.j2c", Data: []byte{1, 2}}})

			_, err := newService(t, headers, pixels).RetrieveAndReassemble(context.Background(), "1.2.3")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			half, ok := dserrors.HalfOf(err)
			require.True(t, ok)
			assert.Equal(t, dserrors.HalfReassembly, half)
		})
	}
}

func TestRetrieveAndReassemble_HeaderFailureWins(t *testing.T) {
	// The pixel half fails first, the header half later; the header is reported
	locator := locatorFunc(func(ctx context.Context, dir, name string) ([]byte, error) {
		if dir == "headers" {
			time.Sleep(20 * time.Millisecond)
			return nil, dserrors.NewNotFoundError(dir, name)
		}
		return nil, dserrors.NewArchiveReadError(dir, "p.tar", name, os.ErrPermission)
	})

	_, err := newService(t, "headers", "pixels", WithLocator(locator)).RetrieveAndReassemble(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrNotFound)

	half, _ := dserrors.HalfOf(err)
	assert.Equal(t, dserrors.HalfHeader, half)
}

func TestRetrieveAndReassemble_HeaderFailureStopsPixelScan(t *testing.T) {
	locator := locatorFunc(func(ctx context.Context, dir, name string) ([]byte, error) {
		if dir == "headers" {
			return nil, dserrors.NewNotFoundError(dir, name)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := make(chan error, 1)
	go func() {
		_, err := newService(t, "headers", "pixels", WithLocator(locator)).RetrieveAndReassemble(context.Background(), "x")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, dserrors.ErrNotFound)
	case <-time.After(5 * time.Second):
		t.Fatal("pixel scan was not cancelled after the header lookup failed")
	}
}

func TestRetrieveAndReassemble_ScanTimeout(t *testing.T) {
	locator := locatorFunc(func(ctx context.Context, dir, name string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	svc, err := New(config.Config{
		HeaderArchiveDir: "headers",
		PixelArchiveDir:  "pixels",
		OutputDir:        t.TempDir(),
		ScanTimeout:      config.Duration{Duration: 10 * time.Millisecond},
	}, WithLocator(locator))
	require.NoError(t, err)

	_, err = svc.RetrieveAndReassemble(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	half, _ := dserrors.HalfOf(err)
	assert.Equal(t, dserrors.HalfHeader, half)
}

func TestRetrieveAndReassemble_Encapsulated(t *testing.T) {
	uid := testutil.UID()
	headers := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".json", Data: testutil.Header(ctImageStorage, uid, 16)}})
	pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".j2c", Data: []byte{0xff, 0x4f, 0xff, 0x51}}})

	svc, err := New(config.Config{
		HeaderArchiveDir: headers,
		PixelArchiveDir:  pixels,
		OutputDir:        t.TempDir(),
		TransferSyntax:   types.JPEG2000Lossless,
	})
	require.NoError(t, err)

	out, err := svc.RetrieveAndReassemble(context.Background(), uid)
	require.NoError(t, err)

	meta, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	assert.Equal(t, types.JPEG2000Lossless, meta.GetString(types.TagTransferSyntaxUID))
	got, _ := ds.GetBytes(types.TagPixelData)
	assert.Equal(t, []byte{0xff, 0x4f, 0xff, 0x51}, got)
}

func TestRetrieveToFile(t *testing.T) {
	uid := testutil.UID()
	headers := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".json", Data: testutil.Header(ctImageStorage, uid, 16)}})
	pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: uid + ".j2c", Data: []byte{1, 2, 3, 4}}})
	svc := newService(t, headers, pixels)

	path, err := svc.RetrieveToFile(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(svc.Config.OutputDir, uid+".dcm"), path)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	expected, err := svc.RetrieveAndReassemble(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, expected, written)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(svc.Config.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files left behind")

	// A second run overwrites in place
	_, err = svc.RetrieveToFile(context.Background(), uid)
	require.NoError(t, err)
}

func TestRetrieveToFile_FailureWritesNothing(t *testing.T) {
	svc := newService(t, testutil.ArchiveSet(t), testutil.ArchiveSet(t))

	_, err := svc.RetrieveToFile(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrNotFound)

	_, statErr := os.Stat(svc.Config.OutputDir)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRetrieveToFile_RejectsPathLikeUIDs(t *testing.T) {
	svc := newService(t, "headers", "pixels")

	for _, uid := range []string{"", ".", "..", "../escape", "a/b", `a\b`} {
		_, err := svc.RetrieveToFile(context.Background(), uid)
		assert.Error(t, err, "uid %q", uid)
		assert.NotErrorIs(t, err, dserrors.ErrNotFound, "uid %q", uid)
	}
}

type assemblerFunc func(header, pixels []byte) ([]byte, error)

func (f assemblerFunc) Reassemble(header, pixels []byte) ([]byte, error) {
	return f(header, pixels)
}

func TestRetrieveAndReassemble_CustomReassembler(t *testing.T) {
	headers := testutil.ArchiveSet(t, []testutil.Entry{{Name: "x.json", Data: []byte("header")}})
	pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: "x.j2c", Data: []byte("pixels")}})

	var gotHeader, gotPixels []byte
	assembler := assemblerFunc(func(header, pixels []byte) ([]byte, error) {
		gotHeader, gotPixels = header, pixels
		return []byte("file"), nil
	})

	out, err := newService(t, headers, pixels, WithReassembler(assembler)).RetrieveAndReassemble(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("file"), out)
	assert.Equal(t, []byte("header"), gotHeader)
	assert.Equal(t, []byte("pixels"), gotPixels)
}

func TestRetrieveAndReassemble_ReassemblerErrorUnchanged(t *testing.T) {
	headers := testutil.ArchiveSet(t, []testutil.Entry{{Name: "x.json", Data: []byte("header")}})
	pixels := testutil.ArchiveSet(t, []testutil.Entry{{Name: "x.j2c", Data: []byte("pixels")}})

	want := dserrors.NewReassemblyError("boom", nil)
	assembler := assemblerFunc(func(_, _ []byte) ([]byte, error) {
		return nil, want
	})

	_, err := newService(t, headers, pixels, WithReassembler(assembler)).RetrieveAndReassemble(context.Background(), "x")
	assert.Same(t, want, err)
}

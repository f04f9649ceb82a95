package reassemble

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomstitch/dicom"
	dserrors "github.com/caio-sobreiro/dicomstitch/errors"
	"github.com/caio-sobreiro/dicomstitch/internal/testutil"
	"github.com/caio-sobreiro/dicomstitch/types"
)

const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

func TestNew_TransferSyntax(t *testing.T) {
	tests := []struct {
		name    string
		uid     string
		wantErr bool
	}{
		{"Default", "", false},
		{"Explicit little endian", types.ExplicitVRLittleEndian, false},
		{"JPEG 2000 lossless", types.JPEG2000Lossless, false},
		{"HTJ2K", types.HTJ2KLossless, false},
		{"Implicit little endian", types.ImplicitVRLittleEndian, true},
		{"Deflated", types.DeflatedExplicitVRLittleEndian, true},
		{"Unknown", "1.2.3.4.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(WithTransferSyntax(tt.uid))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.uid, r.TransferSyntax)
		})
	}
}

func TestReassemble_ConcreteScenario(t *testing.T) {
	header := []byte(`{
		"00080016": {"vr": "UI", "Value": ["` + ctImageStorage + `"]},
		"00080018": {"vr": "UI", "Value": ["A"]}
	}`)

	out, err := Reassemble(header, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	meta, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)

	assert.Equal(t, "A", ds.GetString(types.TagSOPInstanceUID))
	assert.Equal(t, types.ExplicitVRLittleEndian, meta.GetString(types.TagTransferSyntaxUID))

	// Odd-length payloads carry one NUL pad byte
	pixels, ok := ds.GetBytes(types.TagPixelData)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x00}, pixels)
}

func TestReassemble_PixelPadding(t *testing.T) {
	tests := []struct {
		name   string
		pixels []byte
		want   []byte
	}{
		{"Even", []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}},
		{"Odd", []byte{1, 2, 3}, []byte{1, 2, 3, 0}},
		{"Single byte", []byte{9}, []byte{9, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Reassemble(testutil.Header(ctImageStorage, testutil.UID(), 8), tt.pixels)
			require.NoError(t, err)

			_, ds, err := dicom.ReadPart10(out)
			require.NoError(t, err)
			got, _ := ds.GetBytes(types.TagPixelData)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReassemble_Layout(t *testing.T) {
	uid := testutil.UID()
	out, err := Reassemble(testutil.Header(ctImageStorage, uid, 16), []byte{1, 2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, make([]byte, 128), out[:128])
	assert.Equal(t, "DICM", string(out[128:132]))
	assert.True(t, dicom.HasPart10Header(out))
}

func TestReassemble_RoundTrip(t *testing.T) {
	uid := testutil.UID()
	pixels := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 64)

	out, err := Reassemble(testutil.Header(ctImageStorage, uid, 16), pixels)
	require.NoError(t, err)

	meta, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)

	got, ok := ds.GetBytes(types.TagPixelData)
	require.True(t, ok)
	assert.Equal(t, pixels, got)

	assert.Equal(t, uid, ds.GetString(types.TagSOPInstanceUID))
	assert.Equal(t, "2.25.42", ds.GetString(types.TagPatientID))
	assert.Equal(t, "1234567890", ds.GetString(types.TagAccessionNumber))
	assert.Equal(t, "2.25.43", ds.GetString(types.TagStudyInstanceUID))
	assert.Equal(t, "2.25.44", ds.GetString(types.TagSeriesInstanceUID))
	assert.Equal(t, "Doe^Jane", ds.GetString(types.TagPatientName))

	assert.Equal(t, uid, meta.GetString(types.TagMediaStorageSOPInstanceUID))
	assert.Equal(t, ctImageStorage, meta.GetString(types.TagMediaStorageSOPClassUID))
	assert.Equal(t, ImplementationClassUID, meta.GetString(types.TagImplementationClassUID))
	assert.Equal(t, ImplementationVersionName, meta.GetString(types.TagImplementationVersionName))

	version, ok := meta.GetBytes(types.TagFileMetaInformationVersion)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x01}, version)
}

func TestReassemble_PixelVR(t *testing.T) {
	tests := []struct {
		name string
		bits int
		want string
	}{
		{"8 bit", 8, dicom.VR_OB},
		{"12 bit", 12, dicom.VR_OW},
		{"16 bit", 16, dicom.VR_OW},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Reassemble(testutil.Header(ctImageStorage, testutil.UID(), tt.bits), []byte{1, 2})
			require.NoError(t, err)

			_, ds, err := dicom.ReadPart10(out)
			require.NoError(t, err)

			element, ok := ds.GetElement(types.TagPixelData)
			require.True(t, ok)
			assert.Equal(t, tt.want, element.VR)
		})
	}
}

func TestReassemble_NoBitsAllocatedIsOB(t *testing.T) {
	header := []byte(`{
		"00080016": {"vr": "UI", "Value": ["` + ctImageStorage + `"]},
		"00080018": {"vr": "UI", "Value": ["1.2.3"]}
	}`)

	out, err := Reassemble(header, []byte{1, 2})
	require.NoError(t, err)

	_, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	element, _ := ds.GetElement(types.TagPixelData)
	assert.Equal(t, dicom.VR_OB, element.VR)
}

func TestReassemble_ReplacesHeaderPixelData(t *testing.T) {
	header := []byte(`{
		"00080016": {"vr": "UI", "Value": ["` + ctImageStorage + `"]},
		"00080018": {"vr": "UI", "Value": ["1.2.3"]},
		"7FE00010": {"vr": "OB", "InlineBinary": "AAAA"}
	}`)

	out, err := Reassemble(header, []byte{9, 9})
	require.NoError(t, err)

	_, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	pixels, _ := ds.GetBytes(types.TagPixelData)
	assert.Equal(t, []byte{9, 9}, pixels)
}

func TestReassemble_EmptyPixels(t *testing.T) {
	out, err := Reassemble(testutil.Header(ctImageStorage, "1.2.3", 16), nil)
	require.NoError(t, err)

	_, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	pixels, ok := ds.GetBytes(types.TagPixelData)
	assert.True(t, ok)
	assert.Empty(t, pixels)
}

func TestReassemble_Idempotent(t *testing.T) {
	header := testutil.Header(ctImageStorage, testutil.UID(), 16)
	pixels := []byte{1, 2, 3, 4, 5, 6}

	first, err := Reassemble(header, pixels)
	require.NoError(t, err)
	second, err := Reassemble(header, pixels)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReassemble_MetaFallback(t *testing.T) {
	header := []byte(`{
		"00020002": {"vr": "UI", "Value": ["` + ctImageStorage + `"]},
		"00020003": {"vr": "UI", "Value": ["1.2.3.4"]},
		"00020013": {"vr": "SH", "Value": ["OTHER"]}
	}`)

	out, err := Reassemble(header, []byte{1, 2})
	require.NoError(t, err)

	meta, _, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", meta.GetString(types.TagMediaStorageSOPInstanceUID))
	assert.Equal(t, ImplementationVersionName, meta.GetString(types.TagImplementationVersionName))
}

func TestReassemble_MetaFollowsDataset(t *testing.T) {
	header := []byte(`{
		"00020003": {"vr": "UI", "Value": ["stale"]},
		"00080016": {"vr": "UI", "Value": ["` + ctImageStorage + `"]},
		"00080018": {"vr": "UI", "Value": ["1.2.3"]}
	}`)

	out, err := Reassemble(header, []byte{1, 2})
	require.NoError(t, err)

	meta, _, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", meta.GetString(types.TagMediaStorageSOPInstanceUID))
}

func TestReassemble_Encapsulated(t *testing.T) {
	r, err := New(WithTransferSyntax(types.JPEG2000Lossless))
	require.NoError(t, err)

	codestream := []byte{0xff, 0x4f, 0xff, 0x51, 0x00}
	out, err := r.Reassemble(testutil.Header(ctImageStorage, "1.2.3", 16), codestream)
	require.NoError(t, err)

	meta, ds, err := dicom.ReadPart10(out)
	require.NoError(t, err)
	assert.Equal(t, types.JPEG2000Lossless, meta.GetString(types.TagTransferSyntaxUID))

	element, ok := ds.GetElement(types.TagPixelData)
	require.True(t, ok)
	assert.Equal(t, dicom.VR_OB, element.VR)

	fragments, ok := element.Value.(*dicom.PixelFragments)
	require.True(t, ok, "expected encapsulated pixel data, got %T", element.Value)
	require.Len(t, fragments.Fragments, 1)
	assert.Equal(t, append(codestream, 0x00), fragments.Fragments[0])
}

func TestReassemble_MalformedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"Empty", ``},
		{"Not JSON", `not json`},
		{"Array", `[]`},
		{"Bad VR", `{"00080018": {"vr": "ZZ", "Value": ["1"]}}`},
		{"Bulk data", `{"7FE00010": {"vr": "OB", "BulkDataURI": "file:///x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reassemble([]byte(tt.header), []byte{1, 2})
			require.Error(t, err)
			assert.ErrorIs(t, err, dserrors.ErrMalformedHeader)
			assert.NotErrorIs(t, err, dserrors.ErrReassembly)
		})
	}
}

func TestReassemble_MissingIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"No SOP Class UID", `{"00080018": {"vr": "UI", "Value": ["1.2.3"]}}`, "SOP Class UID"},
		{"No SOP Instance UID", `{"00080016": {"vr": "UI", "Value": ["1.2.3"]}}`, "SOP Instance UID"},
		{"Empty object", `{}`, "SOP Class UID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reassemble([]byte(tt.header), []byte{1, 2})
			require.Error(t, err)
			assert.ErrorIs(t, err, dserrors.ErrReassembly)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestReassemble_EncodingFailure(t *testing.T) {
	// A 70000 character LO value cannot be written with a 16-bit length
	long := bytes.Repeat([]byte("x"), 70000)
	header := []byte(`{
		"00080016": {"vr": "UI", "Value": ["` + ctImageStorage + `"]},
		"00080018": {"vr": "UI", "Value": ["1.2.3"]},
		"00100020": {"vr": "LO", "Value": ["` + string(long) + `"]}
	}`)

	_, err := Reassemble(header, []byte{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrReassembly)
}

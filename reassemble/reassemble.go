// Package reassemble combines a DICOM JSON header and a raw pixel payload
// into a DICOM Part 10 file.
package reassemble

import (
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/dicomstitch/dicom"
	dserrors "github.com/caio-sobreiro/dicomstitch/errors"
	"github.com/caio-sobreiro/dicomstitch/types"
)

const (
	// ImplementationClassUID identifies files written by this module.
	ImplementationClassUID = "2.25.186473094316725417384119254418573521117"

	// ImplementationVersionName is written alongside ImplementationClassUID.
	ImplementationVersionName = "DICOMSTITCH_1"
)

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithLogger overrides the logger used by the reassembler.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reassembler) {
		r.Logger = logger
	}
}

// WithTransferSyntax makes the reassembler write the pixel payload as a single
// encapsulated fragment declared with the given compressed transfer syntax.
func WithTransferSyntax(uid string) Option {
	return func(r *Reassembler) {
		r.TransferSyntax = uid
	}
}

// Reassembler turns header and pixel entries into Part 10 files. It performs
// no I/O and is safe for concurrent use.
type Reassembler struct {
	Logger *slog.Logger

	// TransferSyntax is empty for native Explicit VR Little Endian output, or
	// an encapsulated transfer syntax UID.
	TransferSyntax string
}

// New builds a Reassembler. An unknown or non-encapsulated transfer syntax is
// rejected.
func New(opts ...Option) (*Reassembler, error) {
	r := &Reassembler{}
	for _, opt := range opts {
		opt(r)
	}

	if r.TransferSyntax != "" && r.TransferSyntax != types.ExplicitVRLittleEndian {
		info := types.GetTransferSyntaxInfo(r.TransferSyntax)
		if !info.Known {
			return nil, fmt.Errorf("unknown transfer syntax %q", r.TransferSyntax)
		}
		if !info.SupportsEncapsulated {
			return nil, fmt.Errorf("transfer syntax %s (%s) does not carry encapsulated pixel data", info.UID, info.Name)
		}
	}
	return r, nil
}

// Reassemble decodes header as DICOM JSON, attaches pixels as Pixel Data and
// returns the Part 10 encoding.
//
// Output is explicit VR little endian. Pixel Data is OW when Bits Allocated is
// greater than 8, otherwise OB. Values are even length, so an odd-length
// payload reads back with one trailing NUL byte: {1, 2, 3} becomes
// {1, 2, 3, 0}. Even-length payloads read back unchanged.
//
// The header must carry both SOP Class UID and SOP Instance UID, since they
// become the file meta Media Storage SOP Class/Instance UIDs. Group 0x0002
// values in the header are used when the dataset lacks them.
//
// Header decoding failures are *errors.MalformedHeaderError; missing
// identifiers and encoding failures are *errors.ReassemblyError.
func (r *Reassembler) Reassemble(header, pixels []byte) ([]byte, error) {
	ds, err := dicom.ParseJSON(header)
	if err != nil {
		return nil, dserrors.NewMalformedHeaderError(err)
	}
	headerMeta := ds.SplitFileMeta()

	sopClassUID := firstNonEmpty(ds.GetString(types.TagSOPClassUID), headerMeta.GetString(types.TagMediaStorageSOPClassUID))
	if sopClassUID == "" {
		return nil, dserrors.NewReassemblyError("header has no SOP Class UID", nil)
	}
	sopInstanceUID := firstNonEmpty(ds.GetString(types.TagSOPInstanceUID), headerMeta.GetString(types.TagMediaStorageSOPInstanceUID))
	if sopInstanceUID == "" {
		return nil, dserrors.NewReassemblyError("header has no SOP Instance UID", nil)
	}

	transferSyntax := types.ExplicitVRLittleEndian
	if r.TransferSyntax != "" {
		transferSyntax = r.TransferSyntax
	}

	if types.IsEncapsulated(transferSyntax) {
		ds.AddElement(types.TagPixelData, dicom.VR_OB, &dicom.PixelFragments{
			Fragments: [][]byte{pixels},
		})
	} else {
		ds.AddElement(types.TagPixelData, pixelVR(ds), pixels)
	}

	meta := headerMeta
	meta.RemoveElement(types.TagFileMetaInformationGroupLength)
	meta.AddElement(types.TagFileMetaInformationVersion, dicom.VR_OB, []byte{0x00, 0x01})
	meta.AddElement(types.TagMediaStorageSOPClassUID, dicom.VR_UI, []string{sopClassUID})
	meta.AddElement(types.TagMediaStorageSOPInstanceUID, dicom.VR_UI, []string{sopInstanceUID})
	meta.AddElement(types.TagTransferSyntaxUID, dicom.VR_UI, []string{transferSyntax})
	meta.AddElement(types.TagImplementationClassUID, dicom.VR_UI, []string{ImplementationClassUID})
	meta.AddElement(types.TagImplementationVersionName, dicom.VR_SH, []string{ImplementationVersionName})

	out, err := dicom.EncodePart10(meta, ds)
	if err != nil {
		return nil, dserrors.NewReassemblyError("encoding Part 10 file", err)
	}

	r.logger().Debug("Reassembled instance",
		"sop_instance_uid", sopInstanceUID,
		"sop_class_uid", sopClassUID,
		"transfer_syntax", transferSyntax,
		"pixel_bytes", len(pixels),
		"file_bytes", len(out))

	return out, nil
}

// Reassemble uses a default Reassembler: native Explicit VR Little Endian.
// See Reassembler.Reassemble for padding and required identifiers.
func Reassemble(header, pixels []byte) ([]byte, error) {
	return (&Reassembler{}).Reassemble(header, pixels)
}

func pixelVR(ds *dicom.Dataset) string {
	if bits, ok := ds.GetUint(types.TagBitsAllocated); ok && bits > 8 {
		return dicom.VR_OW
	}
	return dicom.VR_OB
}

func (r *Reassembler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package types

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4
// https://dicom.nema.org/medical/dicom/current/output/chtml/part05/chapter_8.html

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering.
	// Every reassembled file is written with this byte order and VR mode.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - Explicit VR with big endian byte ordering (retired)
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian - Deflate compression with explicit VR
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Encapsulated (compressed pixel data) Transfer Syntaxes
const (
	JPEGBaseline8Bit  = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit = "1.2.840.10008.1.2.4.51"
	JPEGLossless      = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1   = "1.2.840.10008.1.2.4.70"

	// JPEG2000Lossless - JPEG 2000 Image Compression (Lossless Only).
	// Pixel archive entries carry the .j2c extension of a JPEG 2000 codestream.
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	JPEG2000         = "1.2.840.10008.1.2.4.91"

	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"

	RLELossless = "1.2.840.10008.1.2.5"

	HTJ2KLossless = "1.2.840.10008.1.2.4.201"
	HTJ2K         = "1.2.840.10008.1.2.4.203"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID                  string
	Name                 string
	ExplicitVR           bool
	LittleEndian         bool
	IsCompressed         bool
	SupportsEncapsulated bool
	Known                bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// Unknown UIDs yield an entry with Known == false.
func GetTransferSyntaxInfo(uid string) TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return TransferSyntaxInfo{UID: uid, Name: "Unknown"}
	}
	info.UID = uid
	info.Known = true
	return info
}

// IsEncapsulated returns true if pixel data under this transfer syntax is
// stored as a sequence of fragments.
func IsEncapsulated(uid string) bool {
	return GetTransferSyntaxInfo(uid).SupportsEncapsulated
}

// IsExplicitLittleEndian returns true if the dataset under this transfer
// syntax is encoded with explicit VR in little endian byte order. A deflated
// dataset is a compressed stream and does not qualify.
func IsExplicitLittleEndian(uid string) bool {
	info := GetTransferSyntaxInfo(uid)
	if info.IsCompressed && !info.SupportsEncapsulated {
		return false
	}
	return info.Known && info.ExplicitVR && info.LittleEndian
}

// transferSyntaxRegistry maps transfer syntax UIDs to their information
var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian: {
		Name:         "Implicit VR Little Endian",
		LittleEndian: true,
	},
	ExplicitVRLittleEndian: {
		Name:         "Explicit VR Little Endian",
		ExplicitVR:   true,
		LittleEndian: true,
	},
	ExplicitVRBigEndian: {
		Name:       "Explicit VR Big Endian",
		ExplicitVR: true,
	},
	DeflatedExplicitVRLittleEndian: {
		Name:         "Deflated Explicit VR Little Endian",
		ExplicitVR:   true,
		LittleEndian: true,
		IsCompressed: true,
	},
	JPEGBaseline8Bit:   encapsulated("JPEG Baseline (Process 1)"),
	JPEGExtended12Bit:  encapsulated("JPEG Extended (Process 2 & 4)"),
	JPEGLossless:       encapsulated("JPEG Lossless (Process 14)"),
	JPEGLosslessSV1:    encapsulated("JPEG Lossless, Non-Hierarchical, First-Order Prediction"),
	JPEG2000Lossless:   encapsulated("JPEG 2000 Lossless Only"),
	JPEG2000:           encapsulated("JPEG 2000"),
	JPEGLSLossless:     encapsulated("JPEG-LS Lossless"),
	JPEGLSNearLossless: encapsulated("JPEG-LS Near-Lossless"),
	RLELossless:        encapsulated("RLE Lossless"),
	HTJ2KLossless:      encapsulated("High-Throughput JPEG 2000 Lossless"),
	HTJ2K:              encapsulated("High-Throughput JPEG 2000"),
}

func encapsulated(name string) TransferSyntaxInfo {
	return TransferSyntaxInfo{
		Name:                 name,
		ExplicitVR:           true,
		LittleEndian:         true,
		IsCompressed:         true,
		SupportsEncapsulated: true,
	}
}

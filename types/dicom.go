// Package types contains the DICOM type definitions shared by the codec,
// the reassembler and the CLI.
package types

import (
	"fmt"
	"strconv"
)

// VR (Value Representation) constants for DICOM data elements
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Key returns the tag in the 8 upper-case hex digit form used as object
// keys by the DICOM JSON model, e.g. "0020000D".
func (t Tag) Key() string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// Less orders tags by group, then element.
func (t Tag) Less(o Tag) bool {
	if t.Group != o.Group {
		return t.Group < o.Group
	}
	return t.Element < o.Element
}

// IsFileMeta reports whether the tag belongs to the File Meta Information group.
func (t Tag) IsFileMeta() bool {
	return t.Group == 0x0002
}

// ParseTagKey parses an 8 hex digit DICOM JSON key into a Tag.
func ParseTagKey(key string) (Tag, error) {
	if len(key) != 8 {
		return Tag{}, fmt.Errorf("invalid tag key %q: want 8 hex digits", key)
	}
	v, err := strconv.ParseUint(key, 16, 32)
	if err != nil {
		return Tag{}, fmt.Errorf("invalid tag key %q: %w", key, err)
	}
	return Tag{Group: uint16(v >> 16), Element: uint16(v)}, nil
}

// Well-known tags read or written by the reassembler
var (
	TagFileMetaInformationGroupLength = Tag{0x0002, 0x0000}
	TagFileMetaInformationVersion     = Tag{0x0002, 0x0001}
	TagMediaStorageSOPClassUID        = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstanceUID     = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID              = Tag{0x0002, 0x0010}
	TagImplementationClassUID         = Tag{0x0002, 0x0012}
	TagImplementationVersionName      = Tag{0x0002, 0x0013}

	TagSOPClassUID       = Tag{0x0008, 0x0016}
	TagSOPInstanceUID    = Tag{0x0008, 0x0018}
	TagAccessionNumber   = Tag{0x0008, 0x0050}
	TagModality          = Tag{0x0008, 0x0060}
	TagPatientName       = Tag{0x0010, 0x0010}
	TagPatientID         = Tag{0x0010, 0x0020}
	TagStudyInstanceUID  = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID = Tag{0x0020, 0x000E}
	TagBitsAllocated     = Tag{0x0028, 0x0100}
	TagPixelData         = Tag{0x7FE0, 0x0010}

	TagItem                 = Tag{0xFFFE, 0xE000}
	TagItemDelimitation     = Tag{0xFFFE, 0xE00D}
	TagSequenceDelimitation = Tag{0xFFFE, 0xE0DD}
)

// IsLongVR reports whether an explicit VR element of this VR carries two
// reserved bytes and a 32-bit length.
func IsLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OV, VR_OW, VR_SQ, VR_SV,
		VR_UC, VR_UN, VR_UR, VR_UT, VR_UV:
		return true
	}
	return false
}

// IsStringVR reports whether values of this VR are character strings.
func IsStringVR(vr string) bool {
	switch vr {
	case VR_AE, VR_AS, VR_CS, VR_DA, VR_DS, VR_DT, VR_IS, VR_LO, VR_LT,
		VR_PN, VR_SH, VR_ST, VR_TM, VR_UC, VR_UI, VR_UR, VR_UT:
		return true
	}
	return false
}

// IsBinaryVR reports whether values of this VR are opaque byte strings.
func IsBinaryVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OV, VR_OW, VR_UN:
		return true
	}
	return false
}

// IsMultiValuedText reports whether backslash separates values of this VR.
// LT, ST, UT and UR are single-valued and may contain backslashes.
func IsMultiValuedText(vr string) bool {
	switch vr {
	case VR_LT, VR_ST, VR_UT, VR_UR:
		return false
	}
	return IsStringVR(vr)
}

// NumericSize returns the encoded width of one value of a binary numeric VR,
// or 0 when the VR is not a binary numeric VR.
func NumericSize(vr string) int {
	switch vr {
	case VR_US, VR_SS:
		return 2
	case VR_UL, VR_SL, VR_FL, VR_AT:
		return 4
	case VR_FD, VR_SV, VR_UV:
		return 8
	}
	return 0
}

// KnownVR reports whether vr is one of the two-letter VRs of PS3.5.
func KnownVR(vr string) bool {
	return IsStringVR(vr) || IsBinaryVR(vr) || NumericSize(vr) > 0 || vr == VR_SQ
}

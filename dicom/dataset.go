package dicom

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caio-sobreiro/dicomstitch/types"
)

// VR (Value Representation) constants
const (
	VR_AE = types.VR_AE
	VR_AS = types.VR_AS
	VR_AT = types.VR_AT
	VR_CS = types.VR_CS
	VR_DA = types.VR_DA
	VR_DS = types.VR_DS
	VR_DT = types.VR_DT
	VR_FL = types.VR_FL
	VR_FD = types.VR_FD
	VR_IS = types.VR_IS
	VR_LO = types.VR_LO
	VR_LT = types.VR_LT
	VR_OB = types.VR_OB
	VR_OD = types.VR_OD
	VR_OF = types.VR_OF
	VR_OL = types.VR_OL
	VR_OV = types.VR_OV
	VR_OW = types.VR_OW
	VR_PN = types.VR_PN
	VR_SH = types.VR_SH
	VR_SL = types.VR_SL
	VR_SQ = types.VR_SQ
	VR_SS = types.VR_SS
	VR_ST = types.VR_ST
	VR_SV = types.VR_SV
	VR_TM = types.VR_TM
	VR_UC = types.VR_UC
	VR_UI = types.VR_UI
	VR_UL = types.VR_UL
	VR_UN = types.VR_UN
	VR_UR = types.VR_UR
	VR_US = types.VR_US
	VR_UT = types.VR_UT
	VR_UV = types.VR_UV
)

// Common transfer syntax UIDs
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
)

// Tag represents a DICOM tag (group, element)
type Tag = types.Tag

// Element represents a DICOM data element.
//
// Value holds, depending on VR:
//   - []string for character string VRs (PN components joined with '=')
//   - []uint64 for US, UL, UV; []int64 for SS, SL, SV; []float64 for FL, FD
//   - []Tag for AT
//   - []byte for OB, OD, OF, OL, OV, OW, UN
//   - []*Dataset for SQ
//   - *PixelFragments for encapsulated Pixel Data
//
// A nil Value encodes as a zero-length element.
type Element struct {
	Tag   Tag
	VR    string
	Value interface{}
}

// PixelFragments is encapsulated Pixel Data: a Basic Offset Table followed
// by one or more fragments.
type PixelFragments struct {
	Offsets   []uint32
	Fragments [][]byte
}

// Bytes concatenates all fragments.
func (p *PixelFragments) Bytes() []byte {
	var n int
	for _, f := range p.Fragments {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range p.Fragments {
		out = append(out, f...)
	}
	return out
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset, replacing any element with the same tag
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// RemoveElement deletes an element by tag
func (d *Dataset) RemoveElement(tag Tag) {
	delete(d.Elements, tag)
}

// Len returns the number of top-level elements
func (d *Dataset) Len() int {
	return len(d.Elements)
}

// Tags returns the dataset's tags in ascending order
func (d *Dataset) Tags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags
}

// GetString returns a string value for a tag. Multiple values are joined
// with a backslash, as they are encoded.
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			return strings.TrimSpace(v)
		case []string:
			return strings.TrimSpace(strings.Join(v, "\\"))
		}
	}
	return ""
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			// Split by backslash for multiple values
			parts := strings.Split(v, "\\")
			result := make([]string, len(parts))
			for i, part := range parts {
				result[i] = strings.TrimSpace(part)
			}
			return result
		case []string:
			return v
		}
	}
	return nil
}

// GetUint returns the first unsigned integer value for a tag
func (d *Dataset) GetUint(tag Tag) (uint64, bool) {
	element, exists := d.Elements[tag]
	if !exists {
		return 0, false
	}
	switch v := element.Value.(type) {
	case []uint64:
		if len(v) > 0 {
			return v[0], true
		}
	case []int64:
		if len(v) > 0 && v[0] >= 0 {
			return uint64(v[0]), true
		}
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	}
	return 0, false
}

// GetBytes returns the raw bytes of a binary element, or the concatenated
// fragments of encapsulated Pixel Data.
func (d *Dataset) GetBytes(tag Tag) ([]byte, bool) {
	element, exists := d.Elements[tag]
	if !exists {
		return nil, false
	}
	switch v := element.Value.(type) {
	case []byte:
		return v, true
	case *PixelFragments:
		return v.Bytes(), true
	case nil:
		return nil, true
	}
	return nil, false
}

// GetSequence returns the items of an SQ element
func (d *Dataset) GetSequence(tag Tag) ([]*Dataset, bool) {
	element, exists := d.Elements[tag]
	if !exists {
		return nil, false
	}
	items, ok := element.Value.([]*Dataset)
	return items, ok
}

// SplitFileMeta moves all group 0x0002 elements into a new dataset and
// returns it. The receiver keeps everything else.
func (d *Dataset) SplitFileMeta() *Dataset {
	meta := NewDataset()
	for tag, element := range d.Elements {
		if tag.IsFileMeta() {
			meta.Elements[tag] = element
			delete(d.Elements, tag)
		}
	}
	return meta
}

// String renders the dataset one element per line, for diagnostics.
func (d *Dataset) String() string {
	var b strings.Builder
	d.dump(&b, "")
	return b.String()
}

func (d *Dataset) dump(b *strings.Builder, indent string) {
	for _, tag := range d.Tags() {
		element := d.Elements[tag]
		switch v := element.Value.(type) {
		case []*Dataset:
			fmt.Fprintf(b, "%s%s %s %d item(s)\n", indent, tag, element.VR, len(v))
			for _, item := range v {
				item.dump(b, indent+"  ")
			}
		case []byte:
			fmt.Fprintf(b, "%s%s %s <%d bytes>\n", indent, tag, element.VR, len(v))
		case *PixelFragments:
			fmt.Fprintf(b, "%s%s %s <%d fragment(s)>\n", indent, tag, element.VR, len(v.Fragments))
		case []string:
			fmt.Fprintf(b, "%s%s %s %q\n", indent, tag, element.VR, strings.Join(v, "\\"))
		default:
			fmt.Fprintf(b, "%s%s %s %v\n", indent, tag, element.VR, v)
		}
	}
}

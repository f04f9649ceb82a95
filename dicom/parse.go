package dicom

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/caio-sobreiro/dicomstitch/types"
)

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian).
// Sequences and encapsulated Pixel Data are decoded with both defined and
// undefined lengths. Truncated input is an error.
func ParseDataset(data []byte) (*Dataset, error) {
	p := &parser{data: data}
	return p.dataset(len(data), false)
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	if transferSyntaxUID != "" && !types.IsExplicitLittleEndian(transferSyntaxUID) {
		return nil, fmt.Errorf("unsupported transfer syntax for parsing: %s", transferSyntaxUID)
	}
	return ParseDataset(data)
}

type parser struct {
	data   []byte
	offset int
}

func (p *parser) need(n int) error {
	if n < 0 || p.offset+n > len(p.data) {
		return fmt.Errorf("truncated data at offset %d: need %d bytes, have %d", p.offset, n, len(p.data)-p.offset)
	}
	return nil
}

func (p *parser) uint16() uint16 {
	v := binary.LittleEndian.Uint16(p.data[p.offset:])
	p.offset += 2
	return v
}

func (p *parser) uint32() uint32 {
	v := binary.LittleEndian.Uint32(p.data[p.offset:])
	p.offset += 4
	return v
}

func (p *parser) tag() (Tag, error) {
	if err := p.need(4); err != nil {
		return Tag{}, err
	}
	group := p.uint16()
	element := p.uint16()
	return Tag{Group: group, Element: element}, nil
}

// dataset reads elements until end, or until an item delimiter when inItem
// is set for an undefined-length item.
func (p *parser) dataset(end int, inItem bool) (*Dataset, error) {
	dataset := NewDataset()

	for p.offset < end {
		start := p.offset
		tag, err := p.tag()
		if err != nil {
			return nil, err
		}

		if tag == types.TagItemDelimitation {
			if !inItem {
				return nil, fmt.Errorf("unexpected item delimiter at offset %d", start)
			}
			if err := p.need(4); err != nil {
				return nil, err
			}
			p.offset += 4
			return dataset, nil
		}

		element, err := p.element(tag)
		if err != nil {
			return nil, err
		}
		dataset.Elements[tag] = element
	}

	if inItem {
		return nil, fmt.Errorf("missing item delimiter before offset %d", end)
	}
	return dataset, nil
}

func (p *parser) element(tag Tag) (*Element, error) {
	if err := p.need(2); err != nil {
		return nil, err
	}
	vr := string(p.data[p.offset : p.offset+2])
	p.offset += 2
	if !types.KnownVR(vr) {
		return nil, fmt.Errorf("element %s: unknown VR %q", tag, vr)
	}

	var length uint32
	if types.IsLongVR(vr) {
		// Long VR: Reserved (2) + Length (4)
		if err := p.need(6); err != nil {
			return nil, err
		}
		p.offset += 2
		length = p.uint32()
	} else {
		if err := p.need(2); err != nil {
			return nil, err
		}
		length = uint32(p.uint16())
	}

	if vr == VR_SQ {
		items, err := p.sequence(length)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", tag, err)
		}
		return &Element{Tag: tag, VR: vr, Value: items}, nil
	}

	if length == undefinedLength {
		if tag != types.TagPixelData {
			return nil, fmt.Errorf("element %s: undefined length only allowed for SQ and Pixel Data", tag)
		}
		fragments, err := p.fragments()
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", tag, err)
		}
		return &Element{Tag: tag, VR: vr, Value: fragments}, nil
	}

	if err := p.need(int(length)); err != nil {
		return nil, fmt.Errorf("element %s: %w", tag, err)
	}
	raw := p.data[p.offset : p.offset+int(length)]
	p.offset += int(length)

	value, err := parseElementValue(vr, raw)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", tag, err)
	}
	return &Element{Tag: tag, VR: vr, Value: value}, nil
}

func (p *parser) sequence(length uint32) ([]*Dataset, error) {
	end := len(p.data)
	if length != undefinedLength {
		if err := p.need(int(length)); err != nil {
			return nil, err
		}
		end = p.offset + int(length)
	}

	items := []*Dataset{}
	for p.offset < end {
		tag, err := p.tag()
		if err != nil {
			return nil, err
		}
		if err := p.need(4); err != nil {
			return nil, err
		}
		itemLength := p.uint32()

		switch tag {
		case types.TagSequenceDelimitation:
			if length != undefinedLength {
				return nil, fmt.Errorf("sequence delimiter inside defined-length sequence")
			}
			return items, nil
		case types.TagItem:
		default:
			return nil, fmt.Errorf("expected item tag, got %s", tag)
		}

		var item *Dataset
		if itemLength == undefinedLength {
			item, err = p.dataset(end, true)
		} else {
			if err := p.need(int(itemLength)); err != nil {
				return nil, err
			}
			item, err = p.dataset(p.offset+int(itemLength), false)
		}
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", len(items), err)
		}
		items = append(items, item)
	}

	if length == undefinedLength {
		return nil, fmt.Errorf("missing sequence delimiter")
	}
	return items, nil
}

func (p *parser) fragments() (*PixelFragments, error) {
	result := &PixelFragments{}
	first := true
	for {
		tag, err := p.tag()
		if err != nil {
			return nil, err
		}
		if err := p.need(4); err != nil {
			return nil, err
		}
		length := p.uint32()

		if tag == types.TagSequenceDelimitation {
			if first {
				return nil, fmt.Errorf("missing basic offset table")
			}
			return result, nil
		}
		if tag != types.TagItem {
			return nil, fmt.Errorf("expected fragment item, got %s", tag)
		}
		if err := p.need(int(length)); err != nil {
			return nil, err
		}
		value := p.data[p.offset : p.offset+int(length)]
		p.offset += int(length)

		if first {
			if len(value)%4 != 0 {
				return nil, fmt.Errorf("basic offset table length %d not a multiple of 4", len(value))
			}
			for i := 0; i < len(value); i += 4 {
				result.Offsets = append(result.Offsets, binary.LittleEndian.Uint32(value[i:]))
			}
			first = false
			continue
		}
		result.Fragments = append(result.Fragments, append([]byte(nil), value...))
	}
}

// parseElementValue parses a value based on its VR and raw data
func parseElementValue(vr string, data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch {
	case types.IsStringVR(vr):
		// Remove null and space padding
		value := strings.TrimRight(string(data), "\x00 ")
		if !types.IsMultiValuedText(vr) {
			return []string{value}, nil
		}
		return strings.Split(value, "\\"), nil

	case types.IsBinaryVR(vr):
		return append([]byte(nil), data...), nil
	}

	size := types.NumericSize(vr)
	if size == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("length %d invalid for VR %s", len(data), vr)
	}
	count := len(data) / size

	switch vr {
	case VR_US, VR_UL, VR_UV:
		values := make([]uint64, count)
		for i := range values {
			chunk := data[i*size:]
			switch size {
			case 2:
				values[i] = uint64(binary.LittleEndian.Uint16(chunk))
			case 4:
				values[i] = uint64(binary.LittleEndian.Uint32(chunk))
			default:
				values[i] = binary.LittleEndian.Uint64(chunk)
			}
		}
		return values, nil
	case VR_SS, VR_SL, VR_SV:
		values := make([]int64, count)
		for i := range values {
			chunk := data[i*size:]
			switch size {
			case 2:
				values[i] = int64(int16(binary.LittleEndian.Uint16(chunk)))
			case 4:
				values[i] = int64(int32(binary.LittleEndian.Uint32(chunk)))
			default:
				values[i] = int64(binary.LittleEndian.Uint64(chunk))
			}
		}
		return values, nil
	case VR_FL:
		values := make([]float64, count)
		for i := range values {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return values, nil
	case VR_FD:
		values := make([]float64, count)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return values, nil
	case VR_AT:
		values := make([]Tag, count)
		for i := range values {
			values[i] = Tag{
				Group:   binary.LittleEndian.Uint16(data[i*4:]),
				Element: binary.LittleEndian.Uint16(data[i*4+2:]),
			}
		}
		return values, nil
	}

	return nil, fmt.Errorf("unsupported VR %s", vr)
}

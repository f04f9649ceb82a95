package dicom

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/caio-sobreiro/dicomstitch/types"
)

const undefinedLength = 0xFFFFFFFF

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian).
// Elements are written in ascending tag order, so equal datasets always
// encode to identical bytes.
func (d *Dataset) EncodeDataset() ([]byte, error) {
	var result []byte
	for _, tag := range d.Tags() {
		var err error
		result, err = appendElement(result, d.Elements[tag])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
// Only explicit VR little endian encodings are supported.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}
	if transferSyntaxUID != "" && !types.IsExplicitLittleEndian(transferSyntaxUID) {
		return nil, fmt.Errorf("unsupported transfer syntax for encoding: %s", transferSyntaxUID)
	}
	return dataset.EncodeDataset()
}

func appendElement(result []byte, element *Element) ([]byte, error) {
	if len(element.VR) != 2 || !types.KnownVR(element.VR) {
		return nil, fmt.Errorf("element %s: unknown VR %q", element.Tag, element.VR)
	}

	result = appendTag(result, element.Tag)
	result = append(result, element.VR...)

	if fragments, ok := element.Value.(*PixelFragments); ok {
		// Encapsulated pixel data: undefined length, items, sequence delimiter
		result = append(result, 0x00, 0x00)
		result = binary.LittleEndian.AppendUint32(result, undefinedLength)
		return appendFragments(result, fragments), nil
	}

	valueBytes, err := encodeElementValue(element)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", element.Tag, err)
	}

	if types.IsLongVR(element.VR) {
		// Long VR format: VR (2 bytes) + Reserved (2 bytes) + Length (4 bytes)
		if uint64(len(valueBytes)) >= undefinedLength {
			return nil, fmt.Errorf("element %s: value of %d bytes exceeds 32-bit length", element.Tag, len(valueBytes))
		}
		result = append(result, 0x00, 0x00)
		result = binary.LittleEndian.AppendUint32(result, uint32(len(valueBytes)))
	} else {
		// Short VR format: VR (2 bytes) + Length (2 bytes)
		if len(valueBytes) > math.MaxUint16 {
			return nil, fmt.Errorf("element %s: value of %d bytes too long for VR %s", element.Tag, len(valueBytes), element.VR)
		}
		result = binary.LittleEndian.AppendUint16(result, uint16(len(valueBytes)))
	}

	return append(result, valueBytes...), nil
}

func appendTag(result []byte, tag Tag) []byte {
	result = binary.LittleEndian.AppendUint16(result, tag.Group)
	return binary.LittleEndian.AppendUint16(result, tag.Element)
}

// appendItem writes an item tag, a 32-bit length and the value, padded to even length.
func appendItem(result []byte, value []byte) []byte {
	result = appendTag(result, types.TagItem)
	padded := len(value) + len(value)%2
	result = binary.LittleEndian.AppendUint32(result, uint32(padded))
	result = append(result, value...)
	if len(value)%2 == 1 {
		result = append(result, 0x00)
	}
	return result
}

func appendFragments(result []byte, p *PixelFragments) []byte {
	var offsetTable []byte
	for _, off := range p.Offsets {
		offsetTable = binary.LittleEndian.AppendUint32(offsetTable, off)
	}
	result = appendItem(result, offsetTable)
	for _, fragment := range p.Fragments {
		result = appendItem(result, fragment)
	}
	result = appendTag(result, types.TagSequenceDelimitation)
	return binary.LittleEndian.AppendUint32(result, 0)
}

// encodeElementValue encodes an element value to bytes, padded to even length
func encodeElementValue(element *Element) ([]byte, error) {
	if element.Value == nil {
		return nil, nil
	}

	switch {
	case element.VR == VR_SQ:
		items, ok := element.Value.([]*Dataset)
		if !ok {
			return nil, fmt.Errorf("SQ value must be []*Dataset, got %T", element.Value)
		}
		var result []byte
		for i, item := range items {
			itemBytes, err := item.EncodeDataset()
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			result = appendItem(result, itemBytes)
		}
		return result, nil

	case types.IsStringVR(element.VR):
		value, err := stringValue(element)
		if err != nil {
			return nil, err
		}
		// Remove any existing null terminators and add proper padding
		value = strings.TrimRight(value, "\x00")
		if len(value)%2 == 1 {
			if element.VR == VR_UI {
				value += "\x00"
			} else {
				value += " "
			}
		}
		return []byte(value), nil

	case types.IsBinaryVR(element.VR):
		v, ok := element.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("%s value must be []byte, got %T", element.VR, element.Value)
		}
		if len(v)%2 == 1 {
			padded := make([]byte, len(v)+1)
			copy(padded, v)
			return padded, nil
		}
		return v, nil

	default:
		return encodeNumeric(element)
	}
}

func stringValue(element *Element) (string, error) {
	switch v := element.Value.(type) {
	case string:
		return v, nil
	case []string:
		if !types.IsMultiValuedText(element.VR) && len(v) > 1 {
			return "", fmt.Errorf("%s is single valued, got %d values", element.VR, len(v))
		}
		return strings.Join(v, "\\"), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("%s value must be string or []string, got %T", element.VR, element.Value)
	}
}

func encodeNumeric(element *Element) ([]byte, error) {
	vr := element.VR
	var result []byte

	switch v := element.Value.(type) {
	case uint16:
		return encodeNumeric(&Element{Tag: element.Tag, VR: vr, Value: []uint64{uint64(v)}})
	case uint32:
		return encodeNumeric(&Element{Tag: element.Tag, VR: vr, Value: []uint64{uint64(v)}})
	case []uint64:
		for _, n := range v {
			switch vr {
			case VR_US:
				if n > math.MaxUint16 {
					return nil, fmt.Errorf("value %d out of range for US", n)
				}
				result = binary.LittleEndian.AppendUint16(result, uint16(n))
			case VR_UL:
				if n > math.MaxUint32 {
					return nil, fmt.Errorf("value %d out of range for UL", n)
				}
				result = binary.LittleEndian.AppendUint32(result, uint32(n))
			case VR_UV:
				result = binary.LittleEndian.AppendUint64(result, n)
			default:
				return nil, fmt.Errorf("unsigned values not valid for VR %s", vr)
			}
		}
	case []int64:
		for _, n := range v {
			switch vr {
			case VR_SS:
				if n < math.MinInt16 || n > math.MaxInt16 {
					return nil, fmt.Errorf("value %d out of range for SS", n)
				}
				result = binary.LittleEndian.AppendUint16(result, uint16(int16(n)))
			case VR_SL:
				if n < math.MinInt32 || n > math.MaxInt32 {
					return nil, fmt.Errorf("value %d out of range for SL", n)
				}
				result = binary.LittleEndian.AppendUint32(result, uint32(int32(n)))
			case VR_SV:
				result = binary.LittleEndian.AppendUint64(result, uint64(n))
			default:
				return nil, fmt.Errorf("signed values not valid for VR %s", vr)
			}
		}
	case []float64:
		for _, f := range v {
			switch vr {
			case VR_FL:
				result = binary.LittleEndian.AppendUint32(result, math.Float32bits(float32(f)))
			case VR_FD:
				result = binary.LittleEndian.AppendUint64(result, math.Float64bits(f))
			default:
				return nil, fmt.Errorf("float values not valid for VR %s", vr)
			}
		}
	case []Tag:
		if vr != VR_AT {
			return nil, fmt.Errorf("tag values not valid for VR %s", vr)
		}
		for _, tag := range v {
			result = appendTag(result, tag)
		}
	default:
		return nil, fmt.Errorf("unsupported value type %T for VR %s", element.Value, vr)
	}

	return result, nil
}

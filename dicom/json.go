package dicom

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/caio-sobreiro/dicomstitch/types"
)

// jsonAttribute is one attribute of the DICOM JSON model (PS3.18 Annex F)
type jsonAttribute struct {
	VR           string            `json:"vr"`
	Value        []json.RawMessage `json:"Value"`
	InlineBinary *string           `json:"InlineBinary"`
	BulkDataURI  *string           `json:"BulkDataURI"`
}

type jsonPersonName struct {
	Alphabetic  string `json:"Alphabetic"`
	Ideographic string `json:"Ideographic"`
	Phonetic    string `json:"Phonetic"`
}

var jsonNull = []byte("null")

// ParseJSON decodes a dataset from the DICOM JSON model. Attributes are keyed
// by 8 hex digit tags; values are typed by VR. Bulk data references are
// rejected since the header must be self-contained.
func ParseJSON(data []byte) (*Dataset, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, fmt.Errorf("decoding DICOM JSON: %w", err)
	}
	if object == nil {
		return nil, fmt.Errorf("decoding DICOM JSON: top level value is not an object")
	}
	return datasetFromJSON(object)
}

func datasetFromJSON(object map[string]json.RawMessage) (*Dataset, error) {
	dataset := NewDataset()

	for key, raw := range object {
		tag, err := types.ParseTagKey(key)
		if err != nil {
			return nil, err
		}

		var attr jsonAttribute
		if err := json.Unmarshal(raw, &attr); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", tag.Key(), err)
		}
		if attr.VR == "" {
			return nil, fmt.Errorf("attribute %s: missing vr", tag.Key())
		}
		if !types.KnownVR(attr.VR) {
			return nil, fmt.Errorf("attribute %s: unknown VR %q", tag.Key(), attr.VR)
		}

		value, err := attributeValue(&attr)
		if err != nil {
			return nil, fmt.Errorf("attribute %s (%s): %w", tag.Key(), attr.VR, err)
		}
		dataset.AddElement(tag, attr.VR, value)
	}

	return dataset, nil
}

func attributeValue(attr *jsonAttribute) (interface{}, error) {
	if attr.BulkDataURI != nil {
		return nil, fmt.Errorf("BulkDataURI %q is not supported", *attr.BulkDataURI)
	}
	if attr.InlineBinary != nil {
		if !types.IsBinaryVR(attr.VR) {
			return nil, fmt.Errorf("InlineBinary not valid for VR %s", attr.VR)
		}
		decoded, err := base64.StdEncoding.DecodeString(*attr.InlineBinary)
		if err != nil {
			return nil, fmt.Errorf("InlineBinary: %w", err)
		}
		return decoded, nil
	}
	if len(attr.Value) == 0 {
		return nil, nil
	}

	vr := attr.VR
	if types.NumericSize(vr) > 0 {
		// Null binary values carry nothing to encode.
		attr.Value = withoutNulls(attr.Value)
		if len(attr.Value) == 0 {
			return nil, nil
		}
	}

	switch {
	case vr == VR_SQ:
		items := make([]*Dataset, 0, len(attr.Value))
		for i, raw := range attr.Value {
			var object map[string]json.RawMessage
			if err := json.Unmarshal(raw, &object); err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			item, err := datasetFromJSON(object)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, item)
		}
		return items, nil

	case vr == VR_PN:
		values := make([]string, len(attr.Value))
		for i, raw := range attr.Value {
			if bytes.Equal(raw, jsonNull) {
				continue
			}
			// Some producers emit the alphabetic group as a bare string.
			if raw[0] == '"' {
				if err := json.Unmarshal(raw, &values[i]); err != nil {
					return nil, fmt.Errorf("value %d: %w", i, err)
				}
				continue
			}
			var name jsonPersonName
			if err := json.Unmarshal(raw, &name); err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			values[i] = strings.TrimRight(name.Alphabetic+"="+name.Ideographic+"="+name.Phonetic, "=")
		}
		return values, nil

	case vr == VR_IS || vr == VR_DS:
		values := make([]string, len(attr.Value))
		for i, raw := range attr.Value {
			switch {
			case bytes.Equal(raw, jsonNull):
			case len(raw) > 0 && raw[0] == '"':
				if err := json.Unmarshal(raw, &values[i]); err != nil {
					return nil, fmt.Errorf("value %d: %w", i, err)
				}
			default:
				var n json.Number
				if err := json.Unmarshal(raw, &n); err != nil {
					return nil, fmt.Errorf("value %d: %w", i, err)
				}
				values[i] = n.String()
			}
		}
		return values, nil

	case types.IsStringVR(vr):
		values := make([]string, len(attr.Value))
		for i, raw := range attr.Value {
			if bytes.Equal(raw, jsonNull) {
				continue
			}
			if err := json.Unmarshal(raw, &values[i]); err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
		}
		return values, nil

	case vr == VR_AT:
		values := make([]Tag, len(attr.Value))
		for i, raw := range attr.Value {
			var key string
			if err := json.Unmarshal(raw, &key); err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			tag, err := types.ParseTagKey(key)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			values[i] = tag
		}
		return values, nil

	case vr == VR_US || vr == VR_UL || vr == VR_UV:
		values := make([]uint64, len(attr.Value))
		for i, raw := range attr.Value {
			n, err := strconv.ParseUint(numberText(raw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			values[i] = n
		}
		return values, nil

	case vr == VR_SS || vr == VR_SL || vr == VR_SV:
		values := make([]int64, len(attr.Value))
		for i, raw := range attr.Value {
			n, err := strconv.ParseInt(numberText(raw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			values[i] = n
		}
		return values, nil

	case vr == VR_FL || vr == VR_FD:
		values := make([]float64, len(attr.Value))
		for i, raw := range attr.Value {
			f, err := strconv.ParseFloat(numberText(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			values[i] = f
		}
		return values, nil
	}

	return nil, fmt.Errorf("values not valid for VR %s", vr)
}

func withoutNulls(values []json.RawMessage) []json.RawMessage {
	out := values[:0:0]
	for _, raw := range values {
		if !bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
			out = append(out, raw)
		}
	}
	return out
}

// numberText returns the literal of a JSON number, unquoting numbers that
// were emitted as strings.
func numberText(raw json.RawMessage) string {
	return strings.Trim(string(bytes.TrimSpace(raw)), `"`)
}

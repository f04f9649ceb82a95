package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/caio-sobreiro/dicomstitch/types"
)

const (
	preambleLength = 128
	magic          = "DICM"
)

// WritePart10 writes a DICOM Part 10 file:
//   - 128 byte zero preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information (group 0x0002), led by its group length
//   - the dataset, encoded as Explicit VR Little Endian
//
// The Transfer Syntax UID in meta must name an explicit VR little endian
// encoding.
//
// Group 0x0002 elements in ds are ignored; the File Meta Information Group
// Length in meta is recomputed.
func WritePart10(w io.Writer, meta, ds *Dataset) error {
	metaOnly := NewDataset()
	for tag, element := range meta.Elements {
		if tag.IsFileMeta() && tag != types.TagFileMetaInformationGroupLength {
			metaOnly.Elements[tag] = element
		}
	}
	transferSyntaxUID := metaOnly.GetString(types.TagTransferSyntaxUID)
	if transferSyntaxUID == "" {
		return fmt.Errorf("file meta information has no Transfer Syntax UID")
	}

	metaBytes, err := metaOnly.EncodeDataset()
	if err != nil {
		return fmt.Errorf("encoding file meta information: %w", err)
	}

	body := NewDataset()
	for tag, element := range ds.Elements {
		if !tag.IsFileMeta() {
			body.Elements[tag] = element
		}
	}
	bodyBytes, err := EncodeDatasetWithTransferSyntax(body, transferSyntaxUID)
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}

	header := make([]byte, preambleLength, preambleLength+len(magic)+12)
	header = append(header, magic...)
	header, err = appendElement(header, &Element{
		Tag:   types.TagFileMetaInformationGroupLength,
		VR:    VR_UL,
		Value: []uint64{uint64(len(metaBytes))},
	})
	if err != nil {
		return err
	}

	for _, chunk := range [][]byte{header, metaBytes, bodyBytes} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// EncodePart10 returns the Part 10 encoding of meta and ds.
func EncodePart10(meta, ds *Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePart10(&buf, meta, ds); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadPart10 parses a Part 10 file into its File Meta Information and its
// dataset. The dataset must be present and encoded in an explicit VR little
// endian transfer syntax.
func ReadPart10(data []byte) (meta *Dataset, ds *Dataset, err error) {
	body, err := StripPart10Header(data)
	if err != nil {
		return nil, nil, err
	}
	end := len(data) - len(body)

	meta, err = ParseDataset(data[preambleLength+len(magic) : end])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing file meta information: %w", err)
	}

	transferSyntaxUID := meta.GetString(types.TagTransferSyntaxUID)
	if transferSyntaxUID == "" {
		return nil, nil, fmt.Errorf("file meta information has no Transfer Syntax UID")
	}

	ds, err = ParseDatasetWithTransferSyntax(body, transferSyntaxUID)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing dataset: %w", err)
	}
	return meta, ds, nil
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset.
//
// Example:
//
//	fileData, _ := os.ReadFile("image.dcm")
//	datasetOnly, err := dicom.StripPart10Header(fileData)
//	if err != nil {
//	    log.Fatal(err)
//	}
func StripPart10Header(data []byte) ([]byte, error) {
	offset, err := metaStart(data)
	if err != nil {
		return nil, err
	}

	end, err := metaEnd(data, offset)
	if err != nil {
		return nil, err
	}

	if end >= len(data) {
		return nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}

	slog.Debug("Stripped File Meta Information",
		"meta_length", end-offset,
		"dataset_start_offset", end)

	return data[end:], nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < preambleLength+len(magic) {
		return false
	}
	return string(data[preambleLength:preambleLength+len(magic)]) == magic
}

func metaStart(data []byte) (int, error) {
	if len(data) < preambleLength+len(magic) {
		return 0, fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}
	if !HasPart10Header(data) {
		return 0, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}
	return preambleLength + len(magic), nil
}

// metaEnd walks the group 0x0002 elements starting at offset and returns the
// offset of the first element of the dataset. File Meta Information is
// always Explicit VR Little Endian.
func metaEnd(data []byte, offset int) (int, error) {
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset:])
		if group != 0x0002 {
			break
		}

		vr := string(data[offset+4 : offset+6])
		var length int
		if types.IsLongVR(vr) {
			if offset+12 > len(data) {
				return 0, fmt.Errorf("truncated file meta element at offset %d", offset)
			}
			length = int(binary.LittleEndian.Uint32(data[offset+8:]))
			offset += 12
		} else {
			length = int(binary.LittleEndian.Uint16(data[offset+6:]))
			offset += 8
		}

		if length < 0 || offset+length > len(data) {
			return 0, fmt.Errorf("truncated file meta element value at offset %d", offset)
		}
		offset += length
	}
	return offset, nil
}

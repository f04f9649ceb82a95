package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"

	"github.com/caio-sobreiro/dicomstitch/dicom"
	"github.com/caio-sobreiro/dicomstitch/types"
)

type inspectReport struct {
	Path              string `json:"path"`
	TransferSyntaxUID string `json:"transfer_syntax_uid"`
	TransferSyntax    string `json:"transfer_syntax"`
	SOPClassUID       string `json:"sop_class_uid"`
	SOPInstanceUID    string `json:"sop_instance_uid"`
	MediaStorageUID   string `json:"media_storage_sop_instance_uid"`
	PatientID         string `json:"patient_id"`
	AccessionNumber   string `json:"accession_number"`
	StudyInstanceUID  string `json:"study_instance_uid"`
	SeriesInstanceUID string `json:"series_instance_uid"`
	PixelVR           string `json:"pixel_vr,omitempty"`
	PixelBytes        int    `json:"pixel_bytes"`
	Fragments         int    `json:"fragments,omitempty"`
	BLAKE3            string `json:"blake3"`
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON bool
		dump   bool
	)

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the transfer syntax, identifiers and pixel size of a Part 10 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if dump {
				meta, ds, err := dicom.ReadPart10(data)
				if err != nil {
					return fmt.Errorf("reading %s: %w", args[0], err)
				}
				fmt.Fprint(out, meta.String())
				fmt.Fprint(out, ds.String())
				return nil
			}

			report, err := inspect(args[0], data)
			if err != nil {
				return err
			}
			root.logger.Debug("Inspected file", "path", args[0], "bytes", len(data))

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "Path:                %s\n", report.Path)
			fmt.Fprintf(out, "BLAKE3:              %s\n", report.BLAKE3)
			fmt.Fprintf(out, "Transfer Syntax:     %s (%s)\n", report.TransferSyntaxUID, report.TransferSyntax)
			fmt.Fprintf(out, "SOP Class UID:       %s\n", report.SOPClassUID)
			fmt.Fprintf(out, "SOP Instance UID:    %s\n", report.SOPInstanceUID)
			fmt.Fprintf(out, "Patient ID:          %s\n", report.PatientID)
			fmt.Fprintf(out, "Accession Number:    %s\n", report.AccessionNumber)
			fmt.Fprintf(out, "Study Instance UID:  %s\n", report.StudyInstanceUID)
			fmt.Fprintf(out, "Series Instance UID: %s\n", report.SeriesInstanceUID)
			if report.Fragments > 0 {
				fmt.Fprintf(out, "Pixel Data:          %s, %d bytes in %d fragment(s)\n", report.PixelVR, report.PixelBytes, report.Fragments)
			} else {
				fmt.Fprintf(out, "Pixel Data:          %s, %d bytes\n", report.PixelVR, report.PixelBytes)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&dump, "dump", false, "print every element of the file meta and dataset instead of the report")
	cmd.MarkFlagsMutuallyExclusive("json", "dump")
	return cmd
}

func inspect(path string, data []byte) (*inspectReport, error) {
	meta, ds, err := dicom.ReadPart10(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	tsUID := meta.GetString(types.TagTransferSyntaxUID)
	report := &inspectReport{
		Path:              path,
		TransferSyntaxUID: tsUID,
		TransferSyntax:    types.GetTransferSyntaxInfo(tsUID).Name,
		SOPClassUID:       ds.GetString(types.TagSOPClassUID),
		SOPInstanceUID:    ds.GetString(types.TagSOPInstanceUID),
		MediaStorageUID:   meta.GetString(types.TagMediaStorageSOPInstanceUID),
		PatientID:         ds.GetString(types.TagPatientID),
		AccessionNumber:   ds.GetString(types.TagAccessionNumber),
		StudyInstanceUID:  ds.GetString(types.TagStudyInstanceUID),
		SeriesInstanceUID: ds.GetString(types.TagSeriesInstanceUID),
	}
	sum := blake3.Sum256(data)
	report.BLAKE3 = hex.EncodeToString(sum[:])

	if element, ok := ds.GetElement(types.TagPixelData); ok {
		report.PixelVR = element.VR
		if fragments, ok := element.Value.(*dicom.PixelFragments); ok {
			report.Fragments = len(fragments.Fragments)
		}
		pixels, _ := ds.GetBytes(types.TagPixelData)
		report.PixelBytes = len(pixels)
	}
	return report, nil
}

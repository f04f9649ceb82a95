package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomstitch/config"
	dserrors "github.com/caio-sobreiro/dicomstitch/errors"
	"github.com/caio-sobreiro/dicomstitch/retrieve"
)

// Directory layout used when neither flags nor a config file name one.
const (
	defaultHeaderDir = "data/text"
	defaultPixelDir  = "data/images"
	defaultOutputDir = "reassembled_dicoms"
)

type retrieveOptions struct {
	sopUID         string
	configPath     string
	headerDir      string
	pixelDir       string
	outputDir      string
	timeout        time.Duration
	transferSyntax string
}

func newRetrieveCmd(root *rootOptions) *cobra.Command {
	opts := &retrieveOptions{}

	cmd := &cobra.Command{
		Use:   "retrieve --sop-uid UID",
		Short: "Reassemble one SOP instance into <out>/<uid>.dcm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			svc, err := retrieve.New(cfg, retrieve.WithLogger(root.logger))
			if err != nil {
				return err
			}

			path, err := svc.RetrieveToFile(cmd.Context(), opts.sopUID)
			if err != nil {
				return describe(opts.sopUID, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.sopUID, "sop-uid", "", "SOP Instance UID of the DICOM instance")
	flags.StringVar(&opts.configPath, "config", "", "TOML or YAML config file")
	flags.StringVar(&opts.headerDir, "headers", defaultHeaderDir, "directory of header (.json) archives")
	flags.StringVar(&opts.pixelDir, "pixels", defaultPixelDir, "directory of pixel (.j2c) archives")
	flags.StringVar(&opts.outputDir, "out", defaultOutputDir, "directory reassembled files are written to")
	flags.DurationVar(&opts.timeout, "timeout", 0, "bound on the whole retrieval (0 for none)")
	flags.StringVar(&opts.transferSyntax, "transfer-syntax", "", "write pixel data encapsulated under this transfer syntax UID")
	_ = cmd.MarkFlagRequired("sop-uid")

	return cmd
}

// config merges, in increasing precedence, flag defaults, the config file and
// flags set on the command line.
func (o *retrieveOptions) config(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	pick := func(field *string, flag, value string) {
		if flags.Changed(flag) || *field == "" {
			*field = value
		}
	}
	pick(&cfg.HeaderArchiveDir, "headers", o.headerDir)
	pick(&cfg.PixelArchiveDir, "pixels", o.pixelDir)
	pick(&cfg.OutputDir, "out", o.outputDir)
	if flags.Changed("transfer-syntax") {
		cfg.TransferSyntax = o.transferSyntax
	}
	if flags.Changed("timeout") {
		cfg.ScanTimeout = config.Duration{Duration: o.timeout}
	}

	return cfg, cfg.Validate()
}

// describe prefixes retrieval errors with the kind of failure.
func describe(uid string, err error) error {
	switch {
	case errors.Is(err, dserrors.ErrNotFound):
		return fmt.Errorf("not found: %w", err)
	case errors.Is(err, dserrors.ErrArchiveRead):
		return fmt.Errorf("archive read error: %w", err)
	case errors.Is(err, dserrors.ErrMalformedHeader):
		return fmt.Errorf("header of %s is malformed: %w", uid, err)
	case errors.Is(err, dserrors.ErrReassembly):
		return fmt.Errorf("cannot reassemble %s: %w", uid, err)
	}
	var timeout *dserrors.TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Errorf("retrieval of %s timed out: %w", uid, err)
	}
	return err
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dicomstitch",
		Short: "Reassemble DICOM instances split across header and pixel archive sets",
		Long: `dicomstitch finds the DICOM JSON header (<uid>.json) and the pixel payload
(<uid>.j2c) of a SOP instance in two directories of tar archives and writes
them back out as a single DICOM Part 10 file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	// --sop_uid and friends are accepted as spellings of --sop-uid
	cmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.AddCommand(
		newRetrieveCmd(opts),
		newLsCmd(opts),
		newInspectCmd(opts),
	)
	return cmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
}

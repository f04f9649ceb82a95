package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomstitch/archive"
)

func newLsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls DIR",
		Short: "List the entries of every archive in an archive set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locator := archive.NewDirLocator(archive.WithLogger(root.logger))
			entries, err := locator.Entries(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ARCHIVE\tENTRY\tSIZE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\n", filepath.Base(e.Archive), e.Name, e.Size)
			}
			return w.Flush()
		},
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPartitionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions <dataset>",
		Short: "List a dataset's partition files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := opts.findDataset(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.store.List(cmd.Context(), ds.PartitionPrefix())
			if err != nil {
				return err
			}
			// datasets may share a folder
			suffix := "/" + ds.FileBaseName + ".csv"
			for _, key := range keys {
				if strings.HasSuffix(key, suffix) {
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newMarkerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marker",
		Short: "Inspect or reset a dataset's progress marker",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <dataset>",
		Short: "Print the last fully processed page",
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

			value, found, err := a.backend.Get(cmd.Context(), ds)
			if err != nil {
				return fmt.Errorf("read marker: %w", err)
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "0 (no marker)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <dataset> <page>",
		Short: "Overwrite the marker, e.g. to replay pages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := opts.findDataset(args[0])
			if err != nil {
				return err
			}
			page, err := strconv.Atoi(args[1])
			if err != nil || page < 0 {
				return fmt.Errorf("page must be a non-negative integer, got %q", args[1])
			}
			a, err := newApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tracker.Write(cmd.Context(), ds, page); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marker set to %d\n", ds.Name(), page)
			return nil
		},
	})

	return cmd
}

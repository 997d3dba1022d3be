package main

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/fudo-extractor/pkg/client"
	"github.com/Sternrassler/fudo-extractor/pkg/record"
	"github.com/spf13/cobra"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		endpoint string
		fetch    client.FetchOptions
		flatten  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Dump raw records from an endpoint as JSON lines",
		Long:  "Fetches pages from --start-page until a short page or --max-pages and prints one record per line. Markers and storage are not touched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if endpoint == "" {
				return fmt.Errorf("--endpoint is required")
			}
			if fetch.PageSize < 1 {
				fetch.PageSize = opts.cfg.Extract.PageSize
			}

			a, err := newApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := a.client.FetchAll(cmd.Context(), token, endpoint, fetch)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range raw {
				var v any = r
				if flatten {
					v = record.Flatten(r)
				}
				if err := enc.Encode(v); err != nil {
					return err
				}
			}
			opts.logger.Info().Str("endpoint", endpoint).Int("records", len(raw)).Msg("Fetch complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "API endpoint, e.g. /sales")
	cmd.Flags().IntVar(&fetch.StartPage, "start-page", 1, "First page to request")
	cmd.Flags().IntVar(&fetch.MaxPages, "max-pages", 1, "Maximum pages to request (0 = until a short page)")
	cmd.Flags().IntVar(&fetch.PageSize, "page-size", 0, "Page size (default extract.page_size)")
	cmd.Flags().BoolVar(&flatten, "flatten", false, "Print flattened records")

	return cmd
}

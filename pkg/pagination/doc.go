// Package pagination fetches a bounded window of Fudo API pages per run.
//
// A run never follows pagination to the end. It asks for the pages after the
// last persisted marker, at most MaxPages of them, and reports what it got as
// an explicit Result so callers cannot confuse "failed" with "nothing new":
//
//	fetcher := pagination.NewWindowFetcher(fudoClient, logger)
//	start, end := pagination.Window(lastPage)
//	res := fetcher.FetchWindow(ctx, token, "/sales", start, end, pagination.DefaultPageSize)
//	switch res.Status {
//	case pagination.StatusOK:      // partition and merge res.Records, then advance to end
//	case pagination.StatusNoData:  // keep the marker
//	case pagination.StatusFailed:  // keep the marker, res.Err says why
//	}
//
// The window fetcher:
//   - Requests every page in [start, end] sequentially
//   - Logs empty pages and keeps going
//   - Aborts the whole window on the first request failure
//   - Flattens records before handing them on
//
// The unbounded primitive that stops at a short page lives on the client
// (client.FetchAll).
package pagination

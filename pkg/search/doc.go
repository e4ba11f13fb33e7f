// Package search implements the controller behind every listing page of the
// Nest portal (projects, chapters, committees, users and organizations).
//
// # Overview
//
// A Controller owns the state of one page instance: the free-text query, the
// current page, the sort key and the sort order. It mirrors the query and page
// into a URL (see pkg/urlsync), asks a Fetcher for the matching hits and
// exposes the loaded items, the loading flag and the total page count to the
// view.
//
// # Lifecycle
//
//	ctrl := search.NewController[core.Document](fetcher, search.Options{
//		IndexName: "projects",
//		PageTitle: "OWASP Projects",
//	}, search.WithURL(urlsync.NewURL(r.URL)), search.WithReporter(reporter))
//	defer ctrl.Close()
//
//	ctrl.Initialize(ctx)          // reads q and page from the URL, fetches
//	ctrl.HandleSearch("zap")      // page back to 1, fetches
//	ctrl.HandlePageChange(3)      // scrolls to top, fetches page 3
//	ctrl.Wait()
//	state := ctrl.State()
//
// Every change of query, page, sort or order starts a new fetch. Fetches are
// tagged with a sequence number and a fresh context: starting a fetch cancels
// the previous one, and a response that is not the latest is dropped. Errors
// are reported once through the Reporter and never returned to the caller;
// the state keeps the last successful items and is marked as loaded so the
// view can render an empty or stale list instead of a spinner.
//
// # Query filters
//
// The free text may embed filter tokens such as "level:flagship" or
// "stars>100". ParseQuery extracts them; the remaining words become the
// search term and the tokens are rendered into the backend's filter syntax,
// joined with AND.
//
// # Pages
//
// Pages are 1-based in the controller state and in URLs, and 0-based in
// every Request handed to a Fetcher.
package search

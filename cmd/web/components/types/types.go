package types

import (
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/search"
)

// Layout is the data shared by every page.
type Layout struct {
	Title   string
	Nav     []IndexLink
	Version string
}

// IndexLink points at the listing page of one index.
type IndexLink struct {
	Name        string
	Title       string
	Placeholder string
	URL         string
	Documents   int
	Active      bool
}

type HomeData struct {
	Layout
	Indexes []IndexLink
	// Counted is false when the backend keeps no local statistics.
	Counted bool
}

type SortChoice struct {
	Key      string
	Label    string
	Selected bool
}

type PageLink struct {
	Number  int
	URL     string
	Current bool
	// Gap marks an ellipsis between non-consecutive pages.
	Gap bool
}

// ListingData is everything a listing page renders.
type ListingData struct {
	Layout
	Index      core.IndexDefinition
	Query      string
	Sorts      []SortChoice
	Order      search.Order
	Hits       []core.Document
	Loaded     bool
	Page       int
	TotalPages int
	Pages      []PageLink
	PrevURL    string
	NextURL    string
	Toast      *report.Toast
	RetryURL   string
	LiveURL    string
}

package api

import (
	"time"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/search"
)

// SearchParams are the query parameters of a search besides q and page,
// which are read by the controller itself.
type SearchParams struct {
	Sort        string `schema:"sort"`
	Order       string `schema:"order"`
	HitsPerPage int    `schema:"hits_per_page"`
}

type IndexInfo struct {
	core.IndexDefinition
	Documents int `json:"documents"`
}

type ListIndexesResponse struct {
	Indexes []IndexInfo `json:"indexes"`
	Count   int         `json:"count"`
}

type SearchResponse struct {
	Index      string          `json:"index"`
	Query      string          `json:"query"`
	Page       int             `json:"page"`
	SortBy     string          `json:"sort_by"`
	Order      search.Order    `json:"order"`
	TotalPages int             `json:"total_pages"`
	Hits       []core.Document `json:"hits"`
	Count      int             `json:"count"`
	// Canonical is the page URL the query and page are mirrored to.
	Canonical string `json:"canonical"`
}

type ErrorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Toast   *report.Toast `json:"toast,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

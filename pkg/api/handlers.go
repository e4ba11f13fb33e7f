package api

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/urlsync"
	"github.com/owasp/nest/pkg/version"
)

const maxHitsPerPage = 100

type requestError struct {
	status  int
	error   string
	message string
}

// resolve looks up the index named in the path and applies the sort, order
// and page size parameters to its controller options.
func (s *Server) resolve(r *http.Request) (core.IndexDefinition, search.Options, *requestError) {
	name := r.PathValue("index")
	def, err := s.registry.Get(name)
	if err != nil {
		return def, search.Options{}, &requestError{http.StatusNotFound, "Index not found", fmt.Sprintf("Index '%s' does not exist", name)}
	}

	var params SearchParams
	if err := s.decoder.Decode(&params, r.URL.Query()); err != nil {
		return def, search.Options{}, &requestError{http.StatusBadRequest, "Invalid parameters", err.Error()}
	}

	opts := def.Options()
	if params.Sort != "" {
		if !def.Sortable(params.Sort) {
			return def, opts, &requestError{http.StatusBadRequest, "Invalid sort", fmt.Sprintf("Index '%s' cannot be sorted by '%s'", name, params.Sort)}
		}
		opts.DefaultSortBy = params.Sort
	}
	if params.Order != "" {
		order, err := search.ParseOrder(params.Order)
		if err != nil {
			return def, opts, &requestError{http.StatusBadRequest, "Invalid order", "Order must be 'asc' or 'desc'"}
		}
		opts.DefaultOrder = order
	}
	if params.HitsPerPage > 0 {
		opts.HitsPerPage = min(params.HitsPerPage, maxHitsPerPage)
	}
	return def, opts, nil
}

// pageURL is the listing page a request's query and page belong to.
func pageURL(index string, r *http.Request) *urlsync.URL {
	return urlsync.NewURL(&url.URL{Path: "/" + index, RawQuery: r.URL.RawQuery})
}

func (s *Server) HandleListIndexes(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	if s.stats != nil {
		stats, err := s.stats.Stats(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to get stats", err.Error())
			return
		}
		for _, st := range stats {
			counts[st.Name] = st.Documents
		}
	}

	defs := s.registry.All()
	infos := make([]IndexInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, IndexInfo{IndexDefinition: def, Documents: counts[def.Name]})
	}

	s.writeJSON(w, http.StatusOK, ListIndexesResponse{
		Indexes: infos,
		Count:   len(infos),
	})
}

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	def, opts, rerr := s.resolve(r)
	if rerr != nil {
		s.writeError(w, rerr.status, rerr.error, rerr.message)
		return
	}

	u := pageURL(def.Name, r)
	state, err := search.Once(r.Context(), s.fetcher, opts,
		search.WithURL(u),
		search.WithReporter(s.reporter))
	if err != nil {
		toast := report.ToastFor(err)
		s.writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   toast.Title,
			Message: toast.Description,
			Toast:   &toast,
		})
		return
	}

	hits := state.Items
	if hits == nil {
		hits = []core.Document{}
	}
	s.writeJSON(w, http.StatusOK, SearchResponse{
		Index:      def.Name,
		Query:      state.Query,
		Page:       state.Page,
		SortBy:     state.SortBy,
		Order:      state.Order,
		TotalPages: state.TotalPages,
		Hits:       hits,
		Count:      len(hits),
		Canonical:  u.With(urlsync.State{Query: state.Query, Page: state.Page}),
	})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusNotFound, "Stats unavailable", "The search backend does not keep local statistics")
		return
	}

	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get stats", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
	}

	s.writeJSON(w, http.StatusOK, health)
}

package integration_tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/storage"
	"github.com/owasp/nest/pkg/urlsync"
)

// NewStorage returns a storage manager over a temporary directory, closed
// when the test ends.
func NewStorage(t *testing.T) (*storage.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	mgr := storage.NewManager(dir, core.GetGlobalRegistry())
	t.Cleanup(func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("closing storage: %v", err)
		}
	})
	return mgr, dir
}

// SeedProjects stores a few projects with stars and a level.
func SeedProjects(t *testing.T, mgr *storage.Manager) {
	t.Helper()
	idx, err := mgr.Index(core.IndexProjects)
	if err != nil {
		t.Fatal(err)
	}

	var docs []*core.Document
	for i, p := range []struct {
		key, name, level string
		stars            int
	}{
		{"zap", "OWASP ZAP", "flagship", 12000},
		{"juice-shop", "OWASP Juice Shop", "flagship", 10000},
		{"top-ten", "OWASP Top Ten", "flagship", 4000},
		{"nettacker", "OWASP Nettacker", "production", 3000},
	} {
		d := core.NewDocument(core.IndexProjects, p.key, p.name)
		d.Summary = "Project " + p.name
		d.UpdatedAt = time.Date(2024, 2, i+1, 0, 0, 0, 0, time.UTC)
		d.Set("level", p.level).Set("stars", p.stars)
		docs = append(docs, d)
	}
	if err := idx.Upsert(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
}

// Search runs one search the way the listing page does, reading the query
// from the request URL.
func Search(t *testing.T, fetcher search.Fetcher[core.Document], index, query string) (search.State[core.Document], error) {
	t.Helper()
	def, err := core.GetGlobalRegistry().Get(index)
	if err != nil {
		t.Fatal(err)
	}
	u := &url.URL{Path: "/" + index, RawQuery: url.Values{urlsync.QueryParam: {query}}.Encode()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return search.Once(ctx, fetcher, def.Options(), search.WithURL(urlsync.NewURL(u)))
}

// NewFakeGitHub serves the GitHub endpoints the importer reads for an
// organization named OWASP with the given repositories and no members.
func NewFakeGitHub(t *testing.T, repos ...string) *httptest.Server {
	t.Helper()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	var list []map[string]any
	for i, name := range repos {
		list = append(list, map[string]any{
			"id":               i + 1,
			"name":             name,
			"html_url":         "https://github.com/OWASP/" + name,
			"description":      "Repository " + name,
			"stargazers_count": 100 * (i + 1),
			"pushed_at":        "2024-05-01T10:00:00Z",
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/OWASP/repos", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, list)
	})
	mux.HandleFunc("GET /orgs/OWASP/public_members", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{})
	})
	mux.HandleFunc("GET /orgs/OWASP", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"login": "OWASP", "name": "OWASP Foundation", "html_url": "https://github.com/OWASP"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

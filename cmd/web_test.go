package cmd

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/owasp/nest/pkg/api"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/storage"
)

func seedProjects(t *testing.T, mgr *storage.Manager) {
	t.Helper()
	idx, err := mgr.Index(core.IndexProjects)
	if err != nil {
		t.Fatal(err)
	}

	projects := []struct {
		key, name, level string
		stars            int
	}{
		{"zap", "OWASP ZAP", "flagship", 12000},
		{"juice-shop", "OWASP Juice Shop", "flagship", 10000},
		{"amass", "OWASP Amass", "flagship", 11000},
		{"nettacker", "OWASP Nettacker", "production", 3000},
		{"threat-dragon", "OWASP Threat Dragon", "production", 900},
	}
	var docs []*core.Document
	for i, p := range projects {
		d := core.NewDocument(core.IndexProjects, p.key, p.name)
		d.Summary = "Security tool " + p.name
		d.URL = "https://owasp.org/www-project-" + p.key
		d.UpdatedAt = time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC)
		d.Set("level", p.level).Set("stars", p.stars)
		docs = append(docs, d)
	}
	if err := idx.Upsert(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
}

// setupTestWebServer serves the seeded projects, two per page. A non-nil
// fetcher replaces the local storage for searches.
func setupTestWebServer(t *testing.T, fetcher search.Fetcher[core.Document], compress bool) http.Handler {
	t.Helper()

	registry := core.GetGlobalRegistry()
	def, err := registry.Get(core.IndexProjects)
	if err != nil {
		t.Fatal(err)
	}
	def.HitsPerPage = 2
	registry.Replace(def)

	mgr := storage.NewManager(t.TempDir(), registry)
	t.Cleanup(func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("closing storage manager: %v", err)
		}
	})
	seedProjects(t, mgr)

	if fetcher == nil {
		fetcher = mgr
	}
	apiServer := api.NewServer(registry, fetcher, api.WithStats(mgr))
	return NewWebServer(registry, fetcher, mgr, nil, apiServer).Handler(compress)
}

func request(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestListingRendersHits(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	w := request(t, handler, "/projects?sort=stars&order=desc")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()

	for _, want := range []string{
		"<title>OWASP Projects</title>",
		`href="https://owasp.org/www-project-zap"`,
		"OWASP ZAP",
		"OWASP Amass",
		`<option value="stars" selected>Stars</option>`,
		`<option value="desc" selected>Descending</option>`,
		`data-live="/api/search/projects/ws"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q", want)
		}
	}
	if strings.Contains(body, "OWASP Juice Shop") {
		t.Error("Expected only the first two projects on page 1")
	}
}

func TestListingCanonicalRedirect(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	tests := []struct {
		path     string
		location string
	}{
		{"/projects?page=1", "/projects"},
		{"/projects?q=", "/projects"},
		{"/projects?q=&page=2", "/projects?page=2"},
		{"/projects?q=zap&page=abc", "/projects?q=zap"},
		{"/projects?page=1&sort=stars", "/projects?sort=stars"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := request(t, handler, tt.path)
			if w.Code != http.StatusFound {
				t.Fatalf("Expected status 302, got %d", w.Code)
			}
			if got := w.Header().Get("Location"); got != tt.location {
				t.Errorf("Location = %q, want %q", got, tt.location)
			}
		})
	}
}

func TestListingPagination(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	w := request(t, handler, "/projects?page=2&sort=stars")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()

	for _, want := range []string{
		`<a rel="prev" href="/projects?sort=stars">Prev</a>`,
		`<a rel="next" href="/projects?page=3&amp;sort=stars">Next</a>`,
		`<span class="current" aria-current="page">2</span>`,
		"OWASP Juice Shop",
		"OWASP Nettacker",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q", want)
		}
	}
}

func TestListingNothingFound(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	w := request(t, handler, "/projects?q=doesnotexist")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "No projects found.") {
		t.Error("Expected the nothing found message")
	}
	if strings.Contains(body, `class="pagination"`) {
		t.Error("Expected no pagination without hits")
	}
	if !strings.Contains(body, `value="doesnotexist"`) {
		t.Error("Expected the query to be kept in the search box")
	}
}

func TestListingFetchFailureShowsToast(t *testing.T) {
	failing := search.FetcherFunc[core.Document](func(ctx context.Context, req search.Request) (*search.Response[core.Document], error) {
		return nil, context.DeadlineExceeded
	})
	handler := setupTestWebServer(t, failing, false)

	w := request(t, handler, "/projects?q=zap")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for a failed search, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `role="alert"`) {
		t.Error("Expected a toast")
	}
	if !strings.Contains(body, "took too long") {
		t.Error("Expected the timeout description in the toast")
	}
	if !strings.Contains(body, `class="retry" href="/projects?q=zap"`) {
		t.Error("Expected a retry link to the same page")
	}
	if strings.Contains(body, "deadline exceeded") {
		t.Error("Internal error leaked into the page")
	}
}

func TestListingUnknownIndex(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	if w := request(t, handler, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHome(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	w := request(t, handler, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`<a href="/projects">Projects</a> <span class="count">5</span>`,
		`<a href="/chapters">Chapters</a> <span class="count">0</span>`,
		`<a href="/users">Community</a>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q", want)
		}
	}
}

func TestHomeRedirectsQuery(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	w := request(t, handler, "/?q=zap")
	if w.Code != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/projects?q=zap" {
		t.Errorf("Location = %q", got)
	}
}

func TestAPIMounted(t *testing.T) {
	handler := setupTestWebServer(t, nil, false)

	w := request(t, handler, "/api/search/projects?q=zap")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected CORS header, got %q", got)
	}

	if w := request(t, handler, "/health"); w.Code != http.StatusOK {
		t.Errorf("Expected /health to answer 200, got %d", w.Code)
	}
}

func TestCompressedResponses(t *testing.T) {
	handler := setupTestWebServer(t, nil, true)

	req := httptest.NewRequest("GET", "/projects", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Expected gzip encoding, got %q", got)
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "OWASP ZAP") {
		t.Error("Expected decompressed page to list OWASP ZAP")
	}
}

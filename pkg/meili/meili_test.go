package meili

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
)

type recorded struct {
	method string
	path   string
	query  string
	body   []byte
}

type fakeMeili struct {
	mu       sync.Mutex
	requests []recorded
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{r.Method, r.URL.Path, r.URL.RawQuery, body})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/search") {
		w.Write([]byte(`{
			"hits": [
				{"objectID": "projects-zap", "key": "zap", "name": "OWASP ZAP", "summary": "Web scanner",
				 "url": "https://owasp.org/www-project-zap", "stars": 12000, "level": "flagship", "updated_at": 1700000000}
			],
			"query": "scanner",
			"processingTimeMs": 1,
			"page": 2,
			"hitsPerPage": 10,
			"totalHits": 31,
			"totalPages": 4
		}`))
		return
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"taskUid": 7, "indexUid": "projects", "status": "enqueued", "type": "documentAdditionOrUpdate", "enqueuedAt": "2024-01-01T00:00:00Z"}`))
}

func (f *fakeMeili) find(method, suffix string) (recorded, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.method == method && strings.HasSuffix(r.path, suffix) {
			return r, true
		}
	}
	return recorded{}, false
}

func newTestClient(t *testing.T) (*Client, *fakeMeili) {
	t.Helper()
	fake := &fakeMeili{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(srv.URL, "masterKey"), fake
}

func TestFetchSearchData(t *testing.T) {
	c, fake := newTestClient(t)

	req := search.Request{
		IndexName:   "projects",
		Query:       "scanner",
		Page:        1,
		HitsPerPage: 10,
		SortBy:      "stars",
		Order:       search.OrderDesc,
		Filters: []search.Filter{
			{Field: "level", Operator: search.OpEq, Value: "flagship"},
			{Field: "stars", Operator: search.OpGt, Value: "100"},
		},
	}
	resp, err := NewFetcher(c).FetchSearchData(context.Background(), req)
	if err != nil {
		t.Fatalf("FetchSearchData() error = %v", err)
	}

	r, ok := fake.find(http.MethodPost, "/indexes/projects/search")
	if !ok {
		t.Fatal("search endpoint not called")
	}
	var body struct {
		Q           string   `json:"q"`
		Page        int      `json:"page"`
		HitsPerPage int      `json:"hitsPerPage"`
		Filter      string   `json:"filter"`
		Sort        []string `json:"sort"`
	}
	if err := json.Unmarshal(r.body, &body); err != nil {
		t.Fatalf("decoding search body: %v", err)
	}
	if body.Q != "scanner" || body.Page != 2 || body.HitsPerPage != 10 {
		t.Errorf("unexpected body %+v", body)
	}
	if body.Filter != `level = "flagship" AND stars > 100` {
		t.Errorf("filter = %q", body.Filter)
	}
	if !reflect.DeepEqual(body.Sort, []string{"stars:desc"}) {
		t.Errorf("sort = %v", body.Sort)
	}

	if resp.TotalPages != 4 || len(resp.Hits) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	zap := resp.Hits[0]
	if zap.Key != "zap" || zap.Name != "OWASP ZAP" || zap.Index != "projects" {
		t.Errorf("unexpected document %+v", zap)
	}
	if zap.Attr("level") != "flagship" || zap.Attr("stars") != float64(12000) {
		t.Errorf("attributes = %v", zap.Attributes)
	}
	if zap.UpdatedAt.Unix() != 1700000000 {
		t.Errorf("updated_at = %v", zap.UpdatedAt)
	}
}

func TestFetchWithoutSort(t *testing.T) {
	c, fake := newTestClient(t)

	_, err := NewFetcher(c).FetchSearchData(context.Background(), search.Request{
		IndexName: "chapters", HitsPerPage: 25, SortBy: search.DefaultSort,
	})
	if err != nil {
		t.Fatalf("FetchSearchData() error = %v", err)
	}
	r, _ := fake.find(http.MethodPost, "/indexes/chapters/search")
	if strings.Contains(string(r.body), `"sort"`) || strings.Contains(string(r.body), `"filter"`) {
		t.Errorf("unexpected sort or filter in %s", r.body)
	}
}

func TestPush(t *testing.T) {
	c, fake := newTestClient(t)
	def, err := core.GetGlobalRegistry().Get(core.IndexProjects)
	if err != nil {
		t.Fatal(err)
	}

	zap := core.NewDocument("projects", "zap", "OWASP ZAP")
	zap.Set("stars", 12000).Set("level", "flagship")
	zap.UpdatedAt = time.Unix(1700000000, 0)

	if err := c.Push(context.Background(), def, []*core.Document{zap}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	r, ok := fake.find(http.MethodPost, "/indexes/projects/documents")
	if !ok {
		t.Fatal("documents endpoint not called")
	}
	if !strings.Contains(r.query, "primaryKey=objectID") {
		t.Errorf("query = %q", r.query)
	}
	var docs []map[string]any
	if err := json.Unmarshal(r.body, &docs); err != nil {
		t.Fatalf("decoding documents: %v", err)
	}
	if len(docs) != 1 || docs[0]["objectID"] != "projects-zap" || docs[0]["level"] != "flagship" {
		t.Errorf("unexpected documents %v", docs)
	}

	if r, ok := fake.find(http.MethodPut, "/settings/filterable-attributes"); !ok {
		t.Error("filterable attributes not configured")
	} else {
		var attrs []string
		json.Unmarshal(r.body, &attrs)
		if !reflect.DeepEqual(attrs, []string{"key", "level", "stars"}) {
			t.Errorf("filterable = %s", r.body)
		}
	}
	if _, ok := fake.find(http.MethodPut, "/settings/sortable-attributes"); !ok {
		t.Error("sortable attributes not configured")
	}
}

func TestPushEmpty(t *testing.T) {
	c, fake := newTestClient(t)
	if err := c.Push(context.Background(), core.IndexDefinition{Name: "users"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(fake.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(fake.requests))
	}
}

func TestEncodeSanitizesObjectID(t *testing.T) {
	doc := core.NewDocument("chapters", "London UK", "London")
	got := Encode(doc)["objectID"]
	if got != "chapters-london-uk" {
		t.Errorf("objectID = %v", got)
	}
}

package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), core.GetGlobalRegistry())
	t.Cleanup(func() { m.Close() })
	return m
}

func project(key, name, summary string, stars int, level string, updated time.Time) *core.Document {
	d := core.NewDocument(core.IndexProjects, key, name)
	d.Summary = summary
	d.URL = "https://owasp.org/www-project-" + key
	d.UpdatedAt = updated
	d.Set("stars", stars).Set("level", level).Set("tags", []string{"security", level})
	return d
}

func seedProjects(t *testing.T, m *Manager) *Index {
	t.Helper()
	idx, err := m.Index(core.IndexProjects)
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []*core.Document{
		project("zap", "OWASP ZAP", "Web application security scanner", 12000, "flagship", base.Add(5*time.Hour)),
		project("juice-shop", "OWASP Juice Shop", "Insecure web application for training", 10000, "flagship", base.Add(4*time.Hour)),
		project("amass", "OWASP Amass", "Attack surface mapping", 11000, "production", base.Add(3*time.Hour)),
		project("nettacker", "OWASP Nettacker", "Automated penetration testing framework", 3000, "lab", base.Add(2*time.Hour)),
		project("threat-dragon", "OWASP Threat Dragon", "Threat modeling tool", 900, "production", base.Add(time.Hour)),
	}
	if err := idx.Upsert(context.Background(), docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return idx
}

func keys(docs []core.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out
}

func TestFetchSearchDataPagination(t *testing.T) {
	m := newTestManager(t)
	seedProjects(t, m)

	resp, err := m.FetchSearchData(context.Background(), search.Request{
		IndexName:   core.IndexProjects,
		Page:        0,
		HitsPerPage: 2,
	})
	if err != nil {
		t.Fatalf("FetchSearchData: %v", err)
	}
	if resp.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", resp.TotalPages)
	}
	if got := keys(resp.Hits); len(got) != 2 || got[0] != "zap" || got[1] != "juice-shop" {
		t.Errorf("first page = %v, want newest first", got)
	}

	resp, err = m.FetchSearchData(context.Background(), search.Request{
		IndexName:   core.IndexProjects,
		Page:        2,
		HitsPerPage: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := keys(resp.Hits); len(got) != 1 || got[0] != "threat-dragon" {
		t.Errorf("last page = %v", got)
	}
}

func TestFetchSearchDataFullText(t *testing.T) {
	m := newTestManager(t)
	seedProjects(t, m)

	tests := []struct {
		query string
		want  int
	}{
		{"scanner", 1},
		{"web", 2},
		{"appl", 2},
		{"threat model", 1},
		{`"unbalanced`, 0},
		{"nothing-matches-this", 0},
	}
	for _, tt := range tests {
		resp, err := m.FetchSearchData(context.Background(), search.Request{
			IndexName: core.IndexProjects,
			Query:     tt.query,
		})
		if err != nil {
			t.Errorf("query %q: %v", tt.query, err)
			continue
		}
		if len(resp.Hits) != tt.want {
			t.Errorf("query %q: got %d hits (%v), want %d", tt.query, len(resp.Hits), keys(resp.Hits), tt.want)
		}
	}
}

func TestFetchSearchDataEmptyResult(t *testing.T) {
	m := newTestManager(t)

	resp, err := m.FetchSearchData(context.Background(), search.Request{IndexName: core.IndexChapters})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 0 || resp.TotalPages != 0 {
		t.Errorf("expected empty response, got %+v", resp)
	}
}

func TestFetchSearchDataFilters(t *testing.T) {
	m := newTestManager(t)
	seedProjects(t, m)

	tests := []struct {
		input string
		want  []string
	}{
		{"level:flagship", []string{"zap", "juice-shop"}},
		{"level:FLAGSHIP", []string{"zap", "juice-shop"}},
		{"level!=flagship", []string{"amass", "nettacker", "threat-dragon"}},
		{"stars>10000", []string{"zap", "amass"}},
		{"stars<=3000", []string{"nettacker", "threat-dragon"}},
		{"tags:lab", []string{"nettacker"}},
		{"web level:flagship", []string{"zap", "juice-shop"}},
		{"name:owasp zap", nil},
	}
	for _, tt := range tests {
		text, filters := search.ParseQuery(tt.input)
		resp, err := m.FetchSearchData(context.Background(), search.Request{
			IndexName: core.IndexProjects,
			Query:     text,
			Filters:   filters,
		})
		if err != nil {
			t.Errorf("%q: %v", tt.input, err)
			continue
		}
		got := keys(resp.Hits)
		sort.Strings(got)
		want := append([]string(nil), tt.want...)
		sort.Strings(want)
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("%q: got %v, want %v", tt.input, got, want)
		}
	}
}

func TestFetchSearchDataSort(t *testing.T) {
	m := newTestManager(t)
	seedProjects(t, m)

	tests := []struct {
		sortBy string
		order  search.Order
		first  string
	}{
		{"stars", search.OrderDesc, "zap"},
		{"stars", search.OrderAsc, "threat-dragon"},
		{"name", search.OrderAsc, "amass"},
		{"updated_at", search.OrderAsc, "threat-dragon"},
		{"not-sortable", search.OrderAsc, "zap"},
	}
	for _, tt := range tests {
		resp, err := m.FetchSearchData(context.Background(), search.Request{
			IndexName: core.IndexProjects,
			SortBy:    tt.sortBy,
			Order:     tt.order,
		})
		if err != nil {
			t.Errorf("sort %s %s: %v", tt.sortBy, tt.order, err)
			continue
		}
		if got := resp.Hits[0].Key; got != tt.first {
			t.Errorf("sort %s %s: first = %s, want %s", tt.sortBy, tt.order, got, tt.first)
		}
	}
}

func TestUpsertReplacesDocument(t *testing.T) {
	m := newTestManager(t)
	idx := seedProjects(t, m)
	ctx := context.Background()

	updated := project("zap", "Zed Attack Proxy", "Proxy for finding vulnerabilities", 13000, "flagship", time.Now())
	if err := idx.Upsert(ctx, []*core.Document{updated}); err != nil {
		t.Fatal(err)
	}

	n, _ := idx.Count(ctx)
	if n != 5 {
		t.Errorf("expected 5 documents after replace, got %d", n)
	}

	doc, err := idx.Get(ctx, "projects:zap")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Name != "Zed Attack Proxy" || doc.Int("stars") != 13000 {
		t.Errorf("unexpected document %+v", doc)
	}

	// The old text must be gone from the full-text index.
	resp, err := idx.FetchSearchData(ctx, search.Request{IndexName: core.IndexProjects, Query: "scanner"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 0 {
		t.Errorf("stale FTS row still matches: %v", keys(resp.Hits))
	}
}

func TestUpsertRejectsForeignDocuments(t *testing.T) {
	m := newTestManager(t)
	idx, err := m.Index(core.IndexProjects)
	if err != nil {
		t.Fatal(err)
	}

	chapter := core.NewDocument(core.IndexChapters, "london", "OWASP London")
	if err := idx.Upsert(context.Background(), []*core.Document{chapter}); err == nil {
		t.Error("expected error when upserting a chapter into projects")
	}
}

func TestDeleteAndPrune(t *testing.T) {
	m := newTestManager(t)
	idx := seedProjects(t, m)
	ctx := context.Background()

	n, err := idx.Delete(ctx, "projects:zap", "projects:missing")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := idx.Get(ctx, "projects:zap"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	pruned, err := idx.Prune(ctx, map[string]bool{"projects:amass": true})
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 3 {
		t.Errorf("pruned %d, want 3", pruned)
	}
	if count, _ := idx.Count(ctx); count != 1 {
		t.Errorf("expected 1 document left, got %d", count)
	}
}

func TestStatsAndSyncTime(t *testing.T) {
	m := newTestManager(t)
	idx := seedProjects(t, m)
	ctx := context.Background()

	last, err := idx.LastSyncTime(ctx)
	if err != nil || !last.IsZero() {
		t.Fatalf("expected zero sync time, got %v, %v", last, err)
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := idx.SetLastSyncTime(ctx, now); err != nil {
		t.Fatal(err)
	}

	all, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(m.Registry().Names()) {
		t.Fatalf("expected stats for every index, got %d", len(all))
	}
	for _, st := range all {
		if st.Name != core.IndexProjects {
			continue
		}
		if st.Documents != 5 {
			t.Errorf("documents = %d", st.Documents)
		}
		if !st.LastSync.Equal(now) {
			t.Errorf("last sync = %v", st.LastSync)
		}
		if st.SizeBytes == 0 {
			t.Error("expected a non-zero database size")
		}
	}

	if err := m.OptimizeAll(ctx); err != nil {
		t.Errorf("OptimizeAll: %v", err)
	}
}

func TestUnknownIndex(t *testing.T) {
	m := newTestManager(t)
	_, err := m.FetchSearchData(context.Background(), search.Request{IndexName: "bogus"})
	if !errors.Is(err, core.ErrUnknownIndex) {
		t.Errorf("expected ErrUnknownIndex, got %v", err)
	}
}

func TestFTSQuery(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"  ", ""},
		{"zap", `"zap"*`},
		{`web "app`, `"web"* """app"*`},
		{"zap -- *", `"zap"*`},
		{`" ^`, ""},
	}
	for _, tt := range tests {
		if got := ftsQuery(tt.in); got != tt.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package components

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/owasp/nest/cmd/web/components/types"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/report"
)

func TestPageWindow(t *testing.T) {
	tests := []struct {
		current, total, width int
		want                  []int
	}{
		{1, 1, 2, nil},
		{1, 3, 2, []int{1, 2, 3}},
		{1, 10, 2, []int{1, 2, 3, 0, 10}},
		{5, 10, 1, []int{1, 0, 4, 5, 6, 0, 10}},
		{10, 10, 2, []int{1, 0, 8, 9, 10}},
		{0, 4, 1, []int{1, 2, 0, 4}},
	}
	for _, tt := range tests {
		if got := PageWindow(tt.current, tt.total, tt.width); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("PageWindow(%d, %d, %d) = %v, want %v", tt.current, tt.total, tt.width, got, tt.want)
		}
	}
}

func TestAttributes(t *testing.T) {
	doc := core.NewDocument(core.IndexProjects, "zap", "OWASP ZAP")
	doc.Set("stars", 12000).
		Set("level", "flagship").
		Set("leaders", "").
		Set("avatar_url", "https://example.com/a.png").
		Set("updated_at", "2024-01-02")

	want := []Attribute{
		{Label: "Level", Value: "flagship"},
		{Label: "Stars", Value: "12000"},
		{Label: "Updated At", Value: "2024-01-02"},
	}
	if got := Attributes(doc); !reflect.DeepEqual(got, want) {
		t.Errorf("Attributes = %+v, want %+v", got, want)
	}
}

func TestFormatCount(t *testing.T) {
	if got := FormatCount(12345); got != "12,345" {
		t.Errorf("FormatCount = %q", got)
	}
}

func TestListingEscapesUserInput(t *testing.T) {
	def, err := core.GetGlobalRegistry().Get(core.IndexProjects)
	if err != nil {
		t.Fatal(err)
	}
	doc := core.NewDocument(core.IndexProjects, "x", "<script>alert(1)</script>")

	var buf bytes.Buffer
	err = Listing(types.ListingData{
		Layout: types.Layout{Title: def.PageTitle},
		Index:  def,
		Query:  `"><img src=x>`,
		Hits:   []core.Document{*doc},
		Loaded: true,
	}).Render(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}

	body := buf.String()
	if strings.Contains(body, "<script>alert(1)</script>") || strings.Contains(body, `"><img`) {
		t.Error("Expected user input to be escaped")
	}
}

func TestListingToast(t *testing.T) {
	def, _ := core.GetGlobalRegistry().Get(core.IndexProjects)

	var buf bytes.Buffer
	err := Listing(types.ListingData{
		Index:    def,
		Toast:    &report.Toast{Title: "Search failed", Description: "Try later", Variant: "destructive"},
		RetryURL: "/projects?q=zap",
		Loaded:   true,
	}).Render(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}

	body := buf.String()
	for _, want := range []string{
		`class="toast toast-destructive"`,
		"<strong>Search failed</strong>",
		`<a class="retry" href="/projects?q=zap">Try again</a>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q", want)
		}
	}
	if strings.Contains(body, `class="hits"`) {
		t.Error("Expected no hits with a toast")
	}
}

func TestHomeRendersInsideLayout(t *testing.T) {
	link := types.IndexLink{Name: "projects", Title: "Projects", URL: "/projects", Documents: 1500, Placeholder: "Search projects"}

	var buf bytes.Buffer
	err := Home(types.HomeData{
		Layout:  types.Layout{Title: "Nest", Nav: []types.IndexLink{link}, Version: "v1"},
		Indexes: []types.IndexLink{link},
		Counted: true,
	}).Render(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}

	body := buf.String()
	for _, want := range []string{
		`<a href="/projects">Projects</a></nav></header><main><h1>Nest</h1><ul class="indexes">`,
		`<span class="count">1,500</span>`,
		`</ul></main><footer>nest v1</footer></body></html>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q, got %s", want, body)
		}
	}
	if n := strings.Count(body, "<main>"); n != 1 {
		t.Errorf("Expected the page body once, got %d", n)
	}
}

func TestListingPagination(t *testing.T) {
	def, _ := core.GetGlobalRegistry().Get(core.IndexProjects)
	doc := core.NewDocument(core.IndexProjects, "zap", "OWASP ZAP")

	var buf bytes.Buffer
	err := Listing(types.ListingData{
		Index:   def,
		Hits:    []core.Document{*doc},
		Loaded:  true,
		PrevURL: "/projects",
		NextURL: "/projects?page=3",
		Pages: []types.PageLink{
			{Number: 1, URL: "/projects"},
			{Number: 2, Current: true},
			{Gap: true},
			{Number: 9, URL: "/projects?page=9"},
		},
	}).Render(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}

	want := `<nav class="pagination" aria-label="Pagination"><a rel="prev" href="/projects">Prev</a>` +
		`<a href="/projects">1</a><span class="current" aria-current="page">2</span>` +
		`<span class="gap">…</span><a href="/projects?page=9">9</a>` +
		`<a rel="next" href="/projects?page=3">Next</a></nav>`
	if body := buf.String(); !strings.Contains(body, want) {
		t.Errorf("Expected pagination %q, got %s", want, body)
	}
}

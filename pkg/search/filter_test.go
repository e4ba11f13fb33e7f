package search

import (
	"reflect"
	"testing"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		text    string
		filters []Filter
	}{
		{
			name:  "plain text",
			input: "  owasp   zap ",
			text:  "owasp zap",
		},
		{
			name:  "colon filter",
			input: "zap level:flagship",
			text:  "zap",
			filters: []Filter{
				{Field: "level", Operator: OpEq, Value: "flagship"},
			},
		},
		{
			name:  "comparison in the middle",
			input: "web stars>=100 scanner",
			text:  "web scanner",
			filters: []Filter{
				{Field: "stars", Operator: OpGte, Value: "100"},
			},
		},
		{
			name:  "colon before operator",
			input: "forks:<5",
			text:  "",
			filters: []Filter{
				{Field: "forks", Operator: OpLt, Value: "5"},
			},
		},
		{
			name:  "negation",
			input: "type!=tool",
			filters: []Filter{
				{Field: "type", Operator: OpNe, Value: "tool"},
			},
		},
		{
			name:  "unknown operator stays in text",
			input: "a=>b zap",
			text:  "a=>b zap",
		},
		{
			name:  "several filters",
			input: "level:lab stars>10",
			filters: []Filter{
				{Field: "level", Operator: OpEq, Value: "lab"},
				{Field: "stars", Operator: OpGt, Value: "10"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, filters := ParseQuery(tt.input)
			if text != tt.text {
				t.Errorf("text = %q, want %q", text, tt.text)
			}
			if !reflect.DeepEqual(filters, tt.filters) {
				t.Errorf("filters = %+v, want %+v", filters, tt.filters)
			}
		})
	}
}

func TestFilterRendering(t *testing.T) {
	tests := []struct {
		filter Filter
		algo   string
		meili  string
	}{
		{Filter{"level", OpEq, "flagship"}, "idx_level:flagship", `level = "flagship"`},
		{Filter{"type", OpNe, "tool"}, "NOT idx_type:tool", `type != "tool"`},
		{Filter{"stars", OpGt, "100"}, "idx_stars > 100", "stars > 100"},
		{Filter{"forks", OpLte, "2.5"}, "idx_forks <= 2.5", "forks <= 2.5"},
	}

	for _, tt := range tests {
		if got := tt.filter.Algolia("idx_"); got != tt.algo {
			t.Errorf("Algolia() = %q, want %q", got, tt.algo)
		}
		if got := tt.filter.Meili(); got != tt.meili {
			t.Errorf("Meili() = %q, want %q", got, tt.meili)
		}
	}
}

func TestJoinFilters(t *testing.T) {
	render := func(f Filter) string { return f.Algolia("") }

	if got := JoinFilters(nil, render); got != "" {
		t.Errorf("expected empty clause, got %q", got)
	}

	filters := []Filter{
		{Field: "level", Operator: OpEq, Value: "lab"},
		{Field: "stars", Operator: OpGt, Value: "10"},
	}
	want := "level:lab AND stars > 10"
	if got := JoinFilters(filters, render); got != want {
		t.Errorf("JoinFilters() = %q, want %q", got, want)
	}
}

func TestReplicaIndex(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{Request{IndexName: "projects"}, "projects"},
		{Request{IndexName: "projects", SortBy: DefaultSort, Order: OrderAsc}, "projects"},
		{Request{IndexName: "projects", SortBy: "stars", Order: OrderDesc}, "projects_stars_desc"},
	}
	for _, tt := range tests {
		if got := tt.req.ReplicaIndex(); got != tt.want {
			t.Errorf("ReplicaIndex() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseOrder(t *testing.T) {
	if o, err := ParseOrder(" ASC "); err != nil || o != OrderAsc {
		t.Errorf("ParseOrder(ASC) = %q, %v", o, err)
	}
	if _, err := ParseOrder("up"); err != ErrInvalidOrder {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
}

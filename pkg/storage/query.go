package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
)

// columns maps filter and sort keys to the document columns holding them.
// Any other key is looked up in the attributes JSON.
var columns = map[string]string{
	"name":       "d.name",
	"key":        "d.key",
	"summary":    "d.summary",
	"url":        "d.url",
	"updated_at": "d.updated_at",
}

// FetchSearchData runs a search request against the index. req.Page is
// 0-based. Unknown sort keys fall back to relevance.
func (s *Index) FetchSearchData(ctx context.Context, req search.Request) (*search.Response[core.Document], error) {
	hitsPerPage := req.HitsPerPage
	if hitsPerPage <= 0 {
		hitsPerPage = search.DefaultHitsPerPage
	}
	page := req.Page
	if page < 0 {
		page = 0
	}

	from, where, args := s.buildWhere(req)

	var total int
	countSQL := "SELECT COUNT(*) " + from + where
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting %s hits: %w", s.def.Name, err)
	}

	order, orderArgs := s.buildOrder(req)
	selectSQL := `SELECT d.object_id, d.key, d.name, d.summary, d.url, d.updated_at, d.attributes ` +
		from + where + order + ` LIMIT ? OFFSET ?`
	selectArgs := append(append(args, orderArgs...), hitsPerPage, page*hitsPerPage)

	rows, err := s.db.QueryContext(ctx, selectSQL, selectArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.def.Name, err)
	}
	defer rows.Close()

	hits := make([]core.Document, 0, hitsPerPage)
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &search.Response[core.Document]{
		Hits:       hits,
		TotalPages: (total + hitsPerPage - 1) / hitsPerPage,
	}, nil
}

func (s *Index) buildWhere(req search.Request) (string, string, []any) {
	var (
		conds []string
		args  []any
	)

	from := "FROM documents d"
	if match := ftsQuery(req.Query); match != "" {
		from += " JOIN documents_fts ON documents_fts.rowid = d.rowid"
		conds = append(conds, "documents_fts MATCH ?")
		args = append(args, match)
	}

	for _, f := range req.Filters {
		cond, condArgs := s.filterCondition(f)
		conds = append(conds, cond)
		args = append(args, condArgs...)
	}

	if len(conds) == 0 {
		return from, "", args
	}
	return from, " WHERE " + strings.Join(conds, " AND "), args
}

// filterCondition renders one query filter. Equality is case-insensitive and
// matches array attributes when any element matches. Ordering comparisons are
// numeric when the attribute is numeric or the value is a number.
func (s *Index) filterCondition(f search.Filter) (string, []any) {
	if col, ok := columns[f.Field]; ok {
		switch f.Operator {
		case search.OpEq:
			return "lower(" + col + ") = lower(?)", []any{f.Value}
		case search.OpNe:
			return "lower(" + col + ") <> lower(?)", []any{f.Value}
		default:
			return col + " " + string(f.Operator) + " ?", []any{f.Value}
		}
	}

	path := "$." + f.Field
	switch f.Operator {
	case search.OpEq:
		return "EXISTS (SELECT 1 FROM json_each(d.attributes, ?) WHERE lower(CAST(value AS TEXT)) = lower(?))",
			[]any{path, f.Value}
	case search.OpNe:
		return "NOT EXISTS (SELECT 1 FROM json_each(d.attributes, ?) WHERE lower(CAST(value AS TEXT)) = lower(?))",
			[]any{path, f.Value}
	}

	if n, err := strconv.ParseFloat(f.Value, 64); err == nil || s.def.Numeric(f.Field) {
		return "CAST(json_extract(d.attributes, ?) AS REAL) " + string(f.Operator) + " ?", []any{path, n}
	}
	return "json_extract(d.attributes, ?) " + string(f.Operator) + " ?", []any{path, f.Value}
}

func (s *Index) buildOrder(req search.Request) (string, []any) {
	dir := "DESC"
	if req.Order == search.OrderAsc {
		dir = "ASC"
	}

	if req.Sorted() && s.def.Sortable(req.SortBy) {
		if col, ok := columns[req.SortBy]; ok {
			if req.SortBy == "name" {
				col += " COLLATE NOCASE"
			}
			return " ORDER BY " + col + " " + dir + ", d.object_id", nil
		}
		expr := "json_extract(d.attributes, ?)"
		if s.def.Numeric(req.SortBy) {
			expr = "CAST(" + expr + " AS REAL)"
		}
		return " ORDER BY " + expr + " " + dir + ", d.object_id", []any{"$." + req.SortBy}
	}

	if ftsQuery(req.Query) != "" {
		return " ORDER BY bm25(documents_fts), d.updated_at DESC", nil
	}
	return " ORDER BY d.updated_at DESC, d.object_id", nil
}

// ftsQuery turns free text into an FTS5 query: every word must match as a
// prefix. Words are quoted so user input can never be parsed as FTS syntax.
// Words without a letter or digit tokenize to nothing and are dropped.
func ftsQuery(text string) string {
	var terms []string
	for _, w := range strings.Fields(text) {
		if strings.IndexFunc(w, isWordRune) < 0 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

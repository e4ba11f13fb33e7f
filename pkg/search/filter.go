package search

import (
	"regexp"
	"strconv"
	"strings"
)

// filterToken matches key, operator and value of an inline filter.
var filterToken = regexp.MustCompile(`(\w+)([:><=!]+)([^ ]+)`)

// Operator is a normalized filter comparison.
type Operator string

const (
	OpEq  Operator = "="
	OpNe  Operator = "!="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// Filter is a single "key:operator:value" token extracted from a query.
type Filter struct {
	Field    string
	Operator Operator
	Value    string
}

// parseOperator maps the raw operator characters to an Operator. A leading
// colon only separates the key, so "stars:>10" and "stars>10" are the same.
func parseOperator(raw string) (Operator, bool) {
	op := strings.TrimLeft(raw, ":")
	switch op {
	case "", "=", "==":
		return OpEq, true
	case "!", "!=":
		return OpNe, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGte, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLte, true
	}
	return "", false
}

// ParseQuery splits user input into the free-text search term and the
// filter tokens embedded in it. Tokens with an unknown operator stay in the
// free text.
func ParseQuery(input string) (string, []Filter) {
	matches := filterToken.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return strings.Join(strings.Fields(input), " "), nil
	}

	var (
		filters []Filter
		free    strings.Builder
		last    int
	)
	for _, m := range matches {
		op, ok := parseOperator(input[m[4]:m[5]])
		if !ok {
			continue
		}
		free.WriteString(input[last:m[0]])
		free.WriteByte(' ')
		last = m[1]
		filters = append(filters, Filter{
			Field:    input[m[2]:m[3]],
			Operator: op,
			Value:    input[m[6]:m[7]],
		})
	}
	free.WriteString(input[last:])

	return strings.Join(strings.Fields(free.String()), " "), filters
}

// Algolia renders the filter in Algolia filter syntax. Attributes are
// prefixed with prefix, e.g. "idx_".
func (f Filter) Algolia(prefix string) string {
	attr := prefix + f.Field
	switch f.Operator {
	case OpEq:
		return attr + ":" + f.Value
	case OpNe:
		return "NOT " + attr + ":" + f.Value
	default:
		return attr + " " + string(f.Operator) + " " + f.Value
	}
}

// Meili renders the filter in Meilisearch filter syntax.
func (f Filter) Meili() string {
	value := f.Value
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		value = strconv.Quote(value)
	}
	return f.Field + " " + string(f.Operator) + " " + value
}

// JoinFilters renders every filter and joins them with AND.
func JoinFilters(filters []Filter, render func(Filter) string) string {
	var clause strings.Builder
	for _, f := range filters {
		clause.WriteString(render(f))
		clause.WriteString(" AND ")
	}
	return strings.TrimSuffix(clause.String(), " AND ")
}

// FilterClause renders the request filters in Algolia syntax.
func (r Request) FilterClause(prefix string) string {
	return JoinFilters(r.Filters, func(f Filter) string {
		return f.Algolia(prefix)
	})
}

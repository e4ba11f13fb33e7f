package components

import (
	"sort"
	"strings"

	"github.com/owasp/nest/pkg/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Attribute is one labelled value shown under a hit.
type Attribute struct {
	Label string
	Value string
}

// hiddenAttributes are stored for filtering but not worth showing.
var hiddenAttributes = map[string]bool{
	"avatar_url": true,
	"repository": true,
	"archived":   true,
}

// Attributes returns the displayable attributes of doc, sorted by key.
// Empty values are skipped.
func Attributes(doc *core.Document) []Attribute {
	keys := make([]string, 0, len(doc.Attributes))
	for k := range doc.Attributes {
		if !hiddenAttributes[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]Attribute, 0, len(keys))
	for _, k := range keys {
		value := doc.String(k)
		if value == "" {
			continue
		}
		attrs = append(attrs, Attribute{Label: Label(k), Value: value})
	}
	return attrs
}

// Label turns an attribute key like "updated_at" into "Updated At".
func Label(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// FormatCount formats n with thousands separators.
func FormatCount(n int) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}

// PageWindow returns the page numbers to link around current: the first and
// last pages and up to width pages on each side of current. A zero marks a
// gap.
func PageWindow(current, total, width int) []int {
	if total <= 1 {
		return nil
	}
	if current < 1 {
		current = 1
	}

	var pages []int
	last := 0
	for p := 1; p <= total; p++ {
		if p != 1 && p != total && (p < current-width || p > current+width) {
			continue
		}
		if last != 0 && p != last+1 {
			pages = append(pages, 0)
		}
		pages = append(pages, p)
		last = p
	}
	return pages
}

package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document is one searchable entry of an index: a project, chapter,
// committee, user or organization.
//
// Name, Summary and URL are common to every index and are stored in their
// own columns. Everything else an index knows about an entry (stars, level,
// location, followers...) lives in Attributes and can be used in query
// filters and as a sort key.
type Document struct {
	ObjectID   string         `json:"objectID"`
	Index      string         `json:"index"`
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	Summary    string         `json:"summary,omitempty"`
	URL        string         `json:"url,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewDocument returns a document with its object id derived from index and key.
func NewDocument(index, key, name string) *Document {
	return &Document{
		ObjectID:   ObjectID(index, key),
		Index:      index,
		Key:        key,
		Name:       name,
		Attributes: make(map[string]any),
	}
}

// ObjectID builds the id of a document, unique across indexes.
func ObjectID(index, key string) string {
	return index + ":" + strings.ToLower(key)
}

// Set stores an attribute and returns the document for chaining.
func (d *Document) Set(key string, value any) *Document {
	if d.Attributes == nil {
		d.Attributes = make(map[string]any)
	}
	d.Attributes[key] = value
	return d
}

// Attr returns the attribute stored under key, or nil.
func (d *Document) Attr(key string) any {
	if d.Attributes == nil {
		return nil
	}
	return d.Attributes[key]
}

// String returns an attribute as text, "" when missing.
func (d *Document) String(key string) string {
	switch v := d.Attr(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(v, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// Int returns a numeric attribute. Attributes decoded from JSON are float64.
func (d *Document) Int(key string) int64 {
	switch v := d.Attr(key).(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Text returns everything that should match a free-text search.
func (d *Document) Text() string {
	parts := []string{d.Name, d.Key, d.Summary}
	for _, key := range textAttributes {
		if s := d.String(key); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// textAttributes are the attributes indexed for full-text search in addition
// to name, key and summary.
var textAttributes = []string{"leaders", "topics", "tags", "location", "region", "company", "login", "language"}

// Line returns a one-line summary for compact listings.
func (d *Document) Line() string {
	if d.Summary == "" {
		return d.Name
	}
	summary := d.Summary
	if len(summary) > 80 {
		summary = summary[:77] + "..."
	}
	return d.Name + ": " + summary
}

// PrettyText returns a multi-line description used by the CLI.
func (d *Document) PrettyText() string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.Summary != "" {
		b.WriteString("\n  ")
		b.WriteString(d.Summary)
	}
	if d.URL != "" {
		b.WriteString("\n  URL: ")
		b.WriteString(d.URL)
	}
	if !d.UpdatedAt.IsZero() {
		b.WriteString("\n  Updated: ")
		b.WriteString(d.UpdatedAt.Format("2006-01-02"))
	}
	b.WriteString(FormatAttributes(d.Attributes))
	return b.String()
}

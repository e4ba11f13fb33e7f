package nestapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
)

// Fetcher adapts a Client to search.Fetcher, decoding each hit with Decode.
type Fetcher[T any] struct {
	Client *Client
	Decode func(index string, raw json.RawMessage) (T, error)
}

// NewFetcher decodes hits straight into T.
func NewFetcher[T any](c *Client) *Fetcher[T] {
	return &Fetcher[T]{
		Client: c,
		Decode: func(_ string, raw json.RawMessage) (T, error) {
			var v T
			err := json.Unmarshal(raw, &v)
			return v, err
		},
	}
}

// NewDocumentFetcher maps backend hits onto core.Document.
func NewDocumentFetcher(c *Client) *Fetcher[core.Document] {
	return &Fetcher[core.Document]{
		Client: c,
		Decode: func(index string, raw json.RawMessage) (core.Document, error) {
			return DocumentFromHit(index, c.AttributePrefix(), raw)
		},
	}
}

// FetchSearchData implements search.Fetcher. A response without nbPages is
// treated as empty.
func (f *Fetcher[T]) FetchSearchData(ctx context.Context, req search.Request) (*search.Response[T], error) {
	raw, err := f.Client.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if raw.NbPages == nil {
		return &search.Response[T]{Hits: []T{}}, nil
	}

	hits := make([]T, 0, len(raw.Hits))
	for i, h := range raw.Hits {
		v, err := f.Decode(req.IndexName, h)
		if err != nil {
			return nil, fmt.Errorf("decoding hit %d: %w", i, err)
		}
		hits = append(hits, v)
	}
	return &search.Response[T]{Hits: hits, TotalPages: *raw.NbPages}, nil
}

// DocumentFromHit converts an Algolia hit, whose attributes carry prefix
// (e.g. "idx_name"), into a Document. Attributes without the prefix, other
// than objectID, are Algolia metadata and are dropped.
func DocumentFromHit(index, prefix string, raw json.RawMessage) (core.Document, error) {
	var hit map[string]any
	if err := json.Unmarshal(raw, &hit); err != nil {
		return core.Document{}, err
	}

	doc := core.Document{Index: index, Attributes: make(map[string]any)}
	if id, ok := hit["objectID"].(string); ok {
		doc.ObjectID = id
	}

	for k, v := range hit {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		attr := strings.TrimPrefix(k, prefix)
		switch attr {
		case "key":
			doc.Key = fmt.Sprint(v)
		case "name", "title", "summary", "description":
		case "url":
			doc.URL = fmt.Sprint(v)
		case "updated_at":
			doc.UpdatedAt = parseTimestamp(v)
		default:
			doc.Attributes[attr] = v
		}
	}

	doc.Name = firstField(hit, prefix, "name", "title")
	doc.Summary = firstField(hit, prefix, "summary", "description")

	if doc.ObjectID == "" && doc.Key != "" {
		doc.ObjectID = core.ObjectID(index, doc.Key)
	}
	return doc, nil
}

// firstField returns the first non-empty value of attrs in hit, in order.
func firstField(hit map[string]any, prefix string, attrs ...string) string {
	for _, attr := range attrs {
		v, ok := hit[prefix+attr]
		if !ok || v == nil {
			continue
		}
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return ""
}

// parseTimestamp accepts unix seconds or RFC 3339 text.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

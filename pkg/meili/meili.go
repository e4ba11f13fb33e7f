// Package meili serves search requests from a Meilisearch instance and pushes
// documents to it.
//
// One Meilisearch index exists per search index. Sorting uses the sort
// parameter instead of replica indexes; Push declares sortable and
// filterable attributes before adding documents.
package meili

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/log"
	"github.com/owasp/nest/pkg/search"
)

const primaryKey = "objectID"

var (
	logger  = log.ForService("meili")
	invalid = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

type Client struct {
	ms meilisearch.ServiceManager
}

func New(host, apiKey string) *Client {
	return &Client{ms: meilisearch.New(host, meilisearch.WithAPIKey(apiKey))}
}

// Fetcher implements search.Fetcher on top of Meilisearch.
type Fetcher struct {
	c *Client
}

func NewFetcher(c *Client) *Fetcher {
	return &Fetcher{c: c}
}

// FetchSearchData runs req using Meilisearch page based pagination.
func (f *Fetcher) FetchSearchData(ctx context.Context, req search.Request) (*search.Response[core.Document], error) {
	sr := &meilisearch.SearchRequest{
		Page:        int64(req.Page + 1),
		HitsPerPage: int64(req.HitsPerPage),
	}
	if clause := search.JoinFilters(req.Filters, search.Filter.Meili); clause != "" {
		sr.Filter = clause
	}
	if req.Sorted() {
		order := req.Order
		if order == "" {
			order = search.OrderAsc
		}
		sr.Sort = []string{req.SortBy + ":" + string(order)}
	}

	resp, err := f.c.ms.Index(req.IndexName).SearchWithContext(ctx, req.Query, sr)
	if err != nil {
		return nil, fmt.Errorf("meilisearch search %s: %w", req.IndexName, err)
	}

	docs := make([]core.Document, 0, len(resp.Hits))
	for i, hit := range resp.Hits {
		m := make(map[string]any, len(hit))
		for k, v := range hit {
			m[k] = v
		}
		doc, err := decode(req.IndexName, m)
		if err != nil {
			return nil, fmt.Errorf("decoding hit %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return &search.Response[core.Document]{Hits: docs, TotalPages: int(resp.TotalPages)}, nil
}

// Push adds or replaces docs in the Meilisearch index of def, after
// declaring every attribute found in docs filterable and every sort option
// of def sortable.
func (c *Client) Push(ctx context.Context, def core.IndexDefinition, docs []*core.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := c.configure(ctx, def, docs); err != nil {
		return err
	}

	payload := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		payload = append(payload, Encode(d))
	}

	pk := primaryKey
	task, err := c.ms.Index(def.Name).AddDocumentsWithContext(ctx, payload, &meilisearch.DocumentOptions{PrimaryKey: &pk})
	if err != nil {
		return fmt.Errorf("pushing %d documents to %s: %w", len(docs), def.Name, err)
	}
	logger.Debugf("enqueued task %d: %d documents to %s", task.TaskUID, len(docs), def.Name)
	return nil
}

func (c *Client) configure(ctx context.Context, def core.IndexDefinition, docs []*core.Document) error {
	index := c.ms.Index(def.Name)

	filterable := filterableAttributes(docs)
	if _, err := index.UpdateFilterableAttributesWithContext(ctx, &filterable); err != nil {
		return fmt.Errorf("configuring filters of %s: %w", def.Name, err)
	}

	sortable := make([]string, 0, len(def.SortOptions))
	for _, opt := range def.SortOptions {
		if opt.Key != search.DefaultSort {
			sortable = append(sortable, opt.Key)
		}
	}
	if _, err := index.UpdateSortableAttributesWithContext(ctx, &sortable); err != nil {
		return fmt.Errorf("configuring sorts of %s: %w", def.Name, err)
	}
	return nil
}

func filterableAttributes(docs []*core.Document) []any {
	seen := map[string]bool{"key": true}
	var names []string
	for _, d := range docs {
		for k := range d.Attributes {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	out := []any{"key"}
	for _, n := range names {
		out = append(out, n)
	}
	return out
}

// Encode flattens a document so that its attributes are top level fields
// usable in Meilisearch filters.
func Encode(d *core.Document) map[string]any {
	m := make(map[string]any, len(d.Attributes)+6)
	for k, v := range d.Attributes {
		m[k] = v
	}
	m[primaryKey] = invalid.ReplaceAllString(d.ObjectID, "-")
	m["key"] = d.Key
	m["name"] = d.Name
	m["summary"] = d.Summary
	m["url"] = d.URL
	if !d.UpdatedAt.IsZero() {
		m["updated_at"] = d.UpdatedAt.Unix()
	}
	return m
}

func decode(index string, hit map[string]any) (core.Document, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return core.Document{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return core.Document{}, err
	}

	doc := core.Document{Index: index, Attributes: make(map[string]any)}
	for k, v := range fields {
		switch k {
		case primaryKey:
			doc.ObjectID = fmt.Sprint(v)
		case "key":
			doc.Key = fmt.Sprint(v)
		case "name":
			doc.Name = fmt.Sprint(v)
		case "summary":
			doc.Summary = fmt.Sprint(v)
		case "url":
			doc.URL = fmt.Sprint(v)
		case "updated_at":
			if ts, ok := v.(float64); ok {
				doc.UpdatedAt = time.Unix(int64(ts), 0).UTC()
			}
		case "_formatted", "_rankingScore", "_matchesPosition":
		default:
			doc.Attributes[k] = v
		}
	}
	return doc, nil
}

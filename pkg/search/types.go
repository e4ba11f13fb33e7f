package search

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrClosed is returned by controller operations after Close.
	ErrClosed = errors.New("search: controller closed")

	// ErrInvalidOrder is returned when an order other than asc or desc is requested.
	ErrInvalidOrder = errors.New("search: invalid sort order")
)

const (
	// DefaultSort is the sort key meaning "the index's own ranking".
	DefaultSort = "default"

	// DefaultHitsPerPage is used when Options.HitsPerPage is not set.
	DefaultHitsPerPage = 25
)

// Order is a sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder validates a user supplied order. Case and surrounding spaces
// are ignored.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case OrderAsc:
		return OrderAsc, nil
	case OrderDesc:
		return OrderDesc, nil
	}
	return "", ErrInvalidOrder
}

// Phase is the fetch state of a controller.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseLoaded
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseLoaded:
		return "loaded"
	case PhaseErrored:
		return "errored"
	}
	return "unknown"
}

// State is a snapshot of a controller's state.
type State[T any] struct {
	Query      string
	Page       int
	SortBy     string
	Order      Order
	TotalPages int
	Items      []T
	IsLoaded   bool
	Phase      Phase
	// Err holds the error of the last completed fetch, nil after a success.
	Err error
}

// Request is what a controller hands to a Fetcher. Page is 0-based.
type Request struct {
	IndexName   string
	Query       string
	Page        int
	HitsPerPage int
	SortBy      string
	Order       Order
	Filters     []Filter
}

// Sorted reports whether the request asks for an explicit sort.
func (r Request) Sorted() bool {
	return r.SortBy != "" && r.SortBy != DefaultSort
}

// ReplicaIndex returns the name of the Algolia style replica serving the
// requested sort: "<index>_<sortBy>_<order>", or the index itself when no
// sort is requested.
func (r Request) ReplicaIndex() string {
	if !r.Sorted() {
		return r.IndexName
	}
	name := r.IndexName + "_" + r.SortBy
	if r.Order != "" {
		name += "_" + string(r.Order)
	}
	return name
}

// Response is what a Fetcher returns.
type Response[T any] struct {
	Hits       []T
	TotalPages int
}

// Fetcher queries a search index. Implementations must return an error for
// transport failures and non-2xx answers; an empty result is not an error.
type Fetcher[T any] interface {
	FetchSearchData(ctx context.Context, req Request) (*Response[T], error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context, req Request) (*Response[T], error)

func (f FetcherFunc[T]) FetchSearchData(ctx context.Context, req Request) (*Response[T], error) {
	return f(ctx, req)
}

// Reporter surfaces fetch errors to the user or to an error tracker.
type Reporter interface {
	Report(ctx context.Context, err error)
}

// View receives the side effects a controller has on its page.
type View interface {
	SetTitle(title string)
	ScrollToTop()
}

// Options configure a controller for one index.
type Options struct {
	IndexName     string
	PageTitle     string
	DefaultSortBy string
	DefaultOrder  Order
	HitsPerPage   int
}

func (o Options) withDefaults() Options {
	if o.HitsPerPage <= 0 {
		o.HitsPerPage = DefaultHitsPerPage
	}
	if o.DefaultSortBy == "" {
		o.DefaultSortBy = DefaultSort
	}
	if o.DefaultOrder != OrderAsc && o.DefaultOrder != OrderDesc {
		o.DefaultOrder = OrderDesc
	}
	return o
}

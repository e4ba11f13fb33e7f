package search

import (
	"context"
	"errors"
	"sync"

	"github.com/owasp/nest/pkg/log"
	"github.com/owasp/nest/pkg/urlsync"
)

var logger = log.ForService("search")

// Option configures the collaborators of a controller.
type Option func(*collaborators)

type collaborators struct {
	reporter Reporter
	view     View
	url      urlsync.Sync
}

// WithReporter sets the error reporter. Without it errors are logged.
func WithReporter(r Reporter) Option {
	return func(c *collaborators) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithView sets the view receiving title and scroll side effects.
func WithView(v View) Option {
	return func(c *collaborators) {
		if v != nil {
			c.view = v
		}
	}
}

// WithURL sets the URL the query and page are mirrored to.
func WithURL(s urlsync.Sync) Option {
	return func(c *collaborators) {
		if s != nil {
			c.url = s
		}
	}
}

// Controller mediates between user input, a URL and a Fetcher for one page
// instance. It is safe for concurrent use.
type Controller[T any] struct {
	opts    Options
	fetcher Fetcher[T]
	collaborators

	// urlMu orders URL writes the same way as the state changes they mirror.
	urlMu sync.Mutex

	mu         sync.Mutex
	state      State[T]
	version    uint64
	last       *Request
	seq        uint64
	cancel     context.CancelFunc
	base       context.Context
	baseCancel context.CancelFunc
	closed     bool
	listeners  []func(State[T])
	wg         sync.WaitGroup

	// notifyMu serializes listener calls. delivered is the version of the
	// last snapshot handed to listeners.
	notifyMu  sync.Mutex
	delivered uint64
}

// NewController returns an idle controller. Nothing is fetched until
// Initialize or one of the Handle methods is called.
func NewController[T any](fetcher Fetcher[T], opts Options, options ...Option) *Controller[T] {
	opts = opts.withDefaults()
	c := &Controller[T]{
		opts:    opts,
		fetcher: fetcher,
		collaborators: collaborators{
			reporter: logReporter{},
			view:     nopView{},
			url:      urlsync.Funcs{},
		},
		state: State[T]{
			Page:   1,
			SortBy: opts.DefaultSortBy,
			Order:  opts.DefaultOrder,
		},
	}
	for _, o := range options {
		o(&c.collaborators)
	}
	c.base, c.baseCancel = context.WithCancel(context.Background())
	return c
}

// Options returns the options the controller was built with, defaults applied.
func (c *Controller[T]) Options() Options {
	return c.opts
}

// Initialize reads q and page from the URL, sets the page title and starts
// the first fetch. Fetches are bound to ctx: cancelling it cancels any
// fetch in flight.
func (c *Controller[T]) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	mirrored := c.url.Read()
	c.state.Query = mirrored.Query
	c.state.Page = mirrored.Page
	if c.state.Page < 1 {
		c.state.Page = 1
	}

	c.baseCancel()
	c.base, c.baseCancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.view.SetTitle(c.opts.PageTitle)
	c.fetch()
	return nil
}

// HandleSearch sets a new query and goes back to the first page.
func (c *Controller[T]) HandleSearch(query string) error {
	c.urlMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.urlMu.Unlock()
		return ErrClosed
	}
	c.state.Query = query
	c.state.Page = 1
	c.mu.Unlock()

	c.url.Write(urlsync.State{Query: query, Page: 1})
	c.urlMu.Unlock()
	c.fetch()
	return nil
}

// HandlePageChange moves to page. Pages below 1 are treated as 1.
func (c *Controller[T]) HandlePageChange(page int) error {
	if page < 1 {
		page = 1
	}

	c.urlMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.urlMu.Unlock()
		return ErrClosed
	}
	c.state.Page = page
	query := c.state.Query
	c.mu.Unlock()

	c.url.Write(urlsync.State{Query: query, Page: page})
	c.urlMu.Unlock()
	c.view.ScrollToTop()
	c.fetch()
	return nil
}

// HandleSortChange sets the sort key. An empty key selects DefaultSort. The
// page is kept.
func (c *Controller[T]) HandleSortChange(sortKey string) error {
	if sortKey == "" {
		sortKey = DefaultSort
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.SortBy = sortKey
	c.mu.Unlock()

	c.fetch()
	return nil
}

// HandleOrderChange sets the sort order. The page is kept.
func (c *Controller[T]) HandleOrderChange(order Order) error {
	if order != OrderAsc && order != OrderDesc {
		return ErrInvalidOrder
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.Order = order
	c.mu.Unlock()

	c.fetch()
	return nil
}

// Retry runs the last request again.
func (c *Controller[T]) Retry() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	req := c.buildRequestLocked()
	if c.last != nil {
		req = *c.last
	}
	snapshot, version := c.startLocked(req)
	c.mu.Unlock()

	c.notify(snapshot, version)
	return nil
}

// State returns a snapshot of the current state.
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastRequest returns the request of the most recent fetch.
func (c *Controller[T]) LastRequest() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Request{}, false
	}
	return *c.last, true
}

// OnChange registers fn to be called with a snapshot every time a fetch
// starts or completes. Calls are serialized and a snapshot older than one
// already delivered is skipped. fn must not call back into the controller.
func (c *Controller[T]) OnChange(fn func(State[T])) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Wait blocks until no fetch is in flight.
func (c *Controller[T]) Wait() {
	c.wg.Wait()
}

// Close cancels any fetch in flight and rejects further operations.
// Responses arriving after Close are dropped.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.baseCancel()
}

func (c *Controller[T]) fetch() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snapshot, version := c.startLocked(c.buildRequestLocked())
	c.mu.Unlock()

	c.notify(snapshot, version)
}

func (c *Controller[T]) buildRequestLocked() Request {
	text, filters := ParseQuery(c.state.Query)
	return Request{
		IndexName:   c.opts.IndexName,
		Query:       text,
		Page:        c.state.Page - 1,
		HitsPerPage: c.opts.HitsPerPage,
		SortBy:      c.state.SortBy,
		Order:       c.state.Order,
		Filters:     filters,
	}
}

// startLocked supersedes the fetch in flight with a new one for req.
func (c *Controller[T]) startLocked(req Request) (State[T], uint64) {
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.last = &req

	c.state.IsLoaded = false
	c.state.Phase = PhaseFetching

	c.wg.Add(1)
	go c.run(ctx, cancel, seq, req)

	return c.publishLocked()
}

func (c *Controller[T]) run(ctx context.Context, cancel context.CancelFunc, seq uint64, req Request) {
	defer c.wg.Done()
	defer cancel()

	resp, err := c.fetcher.FetchSearchData(ctx, req)

	c.mu.Lock()
	if c.closed || seq != c.seq {
		c.mu.Unlock()
		logger.Debugf("dropping stale response #%d for %s page %d", seq, req.IndexName, req.Page)
		return
	}
	c.cancel = nil
	c.state.IsLoaded = true
	if err != nil {
		c.state.Phase = PhaseErrored
		c.state.Err = err
	} else {
		c.state.Phase = PhaseLoaded
		c.state.Err = nil
		if resp != nil {
			c.state.Items = resp.Hits
			c.state.TotalPages = resp.TotalPages
		} else {
			c.state.Items = nil
			c.state.TotalPages = 0
		}
	}
	snapshot, version := c.publishLocked()
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.reporter.Report(ctx, err)
	}
	c.notify(snapshot, version)
}

func (c *Controller[T]) snapshotLocked() State[T] {
	s := c.state
	if c.state.Items != nil {
		s.Items = make([]T, len(c.state.Items))
		copy(s.Items, c.state.Items)
	}
	return s
}

// publishLocked returns a snapshot stamped with a version that increases
// with every state change.
func (c *Controller[T]) publishLocked() (State[T], uint64) {
	c.version++
	return c.snapshotLocked(), c.version
}

// notify hands snapshot to the listeners unless a newer one was already
// delivered, so listeners always end on the latest state.
func (c *Controller[T]) notify(snapshot State[T], version uint64) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if version <= c.delivered {
		return
	}
	c.delivered = version

	c.mu.Lock()
	listeners := make([]func(State[T]), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

type nopView struct{}

func (nopView) SetTitle(string) {}
func (nopView) ScrollToTop()    {}

type logReporter struct{}

func (logReporter) Report(_ context.Context, err error) {
	logger.Errorf("fetching search data: %v", err)
}

package search

import "context"

// Once runs a single controller round trip: the query and page are read
// from the URL given with WithURL, the result is fetched and the final state
// returned. The error is the fetch error, also available as State.Err.
//
// Sort and order come from opts.DefaultSortBy and opts.DefaultOrder.
func Once[T any](ctx context.Context, fetcher Fetcher[T], opts Options, options ...Option) (State[T], error) {
	c := NewController(fetcher, opts, options...)
	defer c.Close()

	if err := c.Initialize(ctx); err != nil {
		return State[T]{}, err
	}
	c.Wait()

	state := c.State()
	return state, state.Err
}

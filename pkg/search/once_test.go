package search

import (
	"context"
	"errors"
	"testing"
)

func TestOnce(t *testing.T) {
	fetcher := &recordingFetcher{fn: func(_ context.Context, req Request) (*Response[hit], error) {
		return &Response[hit]{Hits: []hit{{ID: req.Page}}, TotalPages: 3}, nil
	}}
	reporter := &countingReporter{}

	state, err := Once[hit](context.Background(), fetcher,
		Options{IndexName: "committees", DefaultSortBy: "name", DefaultOrder: OrderAsc},
		WithURL(newTestURL(t, "/committees?q=education&page=2")),
		WithReporter(reporter))
	if err != nil {
		t.Fatalf("Once() error = %v", err)
	}
	if !state.IsLoaded || state.TotalPages != 3 || len(state.Items) != 1 || state.Items[0].ID != 1 {
		t.Errorf("unexpected state %+v", state)
	}

	reqs := fetcher.Requests()
	if len(reqs) != 1 || reqs[0].ReplicaIndex() != "committees_name_asc" || reqs[0].Query != "education" {
		t.Errorf("unexpected requests %+v", reqs)
	}
	if reporter.Count() != 0 {
		t.Errorf("reported %d errors", reporter.Count())
	}
}

func TestOnceReturnsFetchError(t *testing.T) {
	boom := errors.New("backend down")
	fetcher := &recordingFetcher{fn: func(context.Context, Request) (*Response[hit], error) {
		return nil, boom
	}}
	reporter := &countingReporter{}

	state, err := Once[hit](context.Background(), fetcher, Options{IndexName: "users"}, WithReporter(reporter))
	if !errors.Is(err, boom) {
		t.Fatalf("Once() error = %v", err)
	}
	if state.Phase != PhaseErrored || !state.IsLoaded {
		t.Errorf("unexpected state %+v", state)
	}
	if reporter.Count() != 1 {
		t.Errorf("reported %d errors, want 1", reporter.Count())
	}
}

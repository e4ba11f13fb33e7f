package report

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryOptions configure the Sentry client.
type SentryOptions struct {
	DSN         string
	ServerName  string
	Release     string
	Environment string
	// BeforeSend, when set, can inspect or drop events.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// Sentry reports errors to Sentry. Each report gets its own scope tagged
// with the context tags.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry builds a client for opts.DSN. An empty DSN produces a reporter
// that drops every event.
func NewSentry(opts SentryOptions) (*Sentry, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		AttachStacktrace: true,
		ServerName:       opts.ServerName,
		Release:          opts.Release,
		Environment:      opts.Environment,
		BeforeSend:       opts.BeforeSend,
	})
	if err != nil {
		return nil, err
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) Report(ctx context.Context, err error) {
	tags := Tags(ctx)
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "search")
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		s.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events to be sent.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

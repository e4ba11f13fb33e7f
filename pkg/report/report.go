// Package report delivers search errors to the places they should be seen:
// the log, Sentry and the user's screen.
package report

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/owasp/nest/pkg/log"
	"github.com/owasp/nest/pkg/search"
)

type tagsKey struct{}

// WithTag returns a context carrying key=value. Tags are attached to every
// report made with the context, e.g. the index or the live session id.
func WithTag(ctx context.Context, key, value string) context.Context {
	old := Tags(ctx)
	tags := make(map[string]string, len(old)+1)
	for k, v := range old {
		tags[k] = v
	}
	tags[key] = value
	return context.WithValue(ctx, tagsKey{}, tags)
}

// Tags returns the tags stored in ctx.
func Tags(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	tags, _ := ctx.Value(tagsKey{}).(map[string]string)
	return tags
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, " ")
}

// Log writes reports to a component logger.
type Log struct {
	Logger *log.Logger
}

func NewLog(service string) Log {
	return Log{Logger: log.ForService(service)}
}

func (l Log) Report(ctx context.Context, err error) {
	logger := l.Logger
	if logger == nil {
		logger = log.ForService("report")
	}
	if tags := formatTags(Tags(ctx)); tags != "" {
		logger.Errorf("search failed (%s): %v", tags, err)
		return
	}
	logger.Errorf("search failed: %v", err)
}

// Func adapts a function to search.Reporter.
type Func func(ctx context.Context, err error)

func (f Func) Report(ctx context.Context, err error) {
	f(ctx, err)
}

// Multi fans a report out to several reporters, in order.
type Multi []search.Reporter

func (m Multi) Report(ctx context.Context, err error) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, err)
		}
	}
}

// Toast is the notification shown to a user when a search fails.
type Toast struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
}

// ToastFor turns err into a user-facing message. Internal details are never
// shown; only the HTTP status of a failed backend call is interpreted.
func ToastFor(err error) Toast {
	t := Toast{
		Title:       "Search failed",
		Description: "Unable to load results right now. Please try again later.",
		Variant:     "destructive",
	}

	var status interface{ StatusCode() int }
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		t.Description = "The search service took too long to answer. Please try again."
	case errors.As(err, &status):
		switch code := status.StatusCode(); {
		case code == http.StatusTooManyRequests:
			t.Description = "Too many requests. Please wait a moment and try again."
		case code == http.StatusForbidden:
			t.Description = "The search service refused the request. Reload the page and try again."
		case code >= 500:
			t.Description = "The search service is unavailable. Please try again later."
		}
	}
	return t
}

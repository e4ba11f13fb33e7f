package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/owasp/nest/pkg/log"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestTags(t *testing.T) {
	ctx := WithTag(context.Background(), "index", "projects")
	child := WithTag(ctx, "session", "abc")

	if got := Tags(ctx); len(got) != 1 {
		t.Errorf("parent context modified: %v", got)
	}
	if got := formatTags(Tags(child)); got != "index=projects session=abc" {
		t.Errorf("formatTags = %q", got)
	}
}

func TestLogReporter(t *testing.T) {
	buf := &bytes.Buffer{}
	log.SetOutput(buf)

	r := NewLog("report_test")
	r.Report(WithTag(context.Background(), "index", "chapters"), errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "ERROR [report_test>] search failed (index=chapters): boom") {
		t.Errorf("unexpected log output %q", out)
	}
}

func TestMultiAndFunc(t *testing.T) {
	var calls []string
	m := Multi{
		Func(func(context.Context, error) { calls = append(calls, "a") }),
		nil,
		Func(func(context.Context, error) { calls = append(calls, "b") }),
	}
	m.Report(context.Background(), errors.New("x"))

	if strings.Join(calls, "") != "ab" {
		t.Errorf("calls = %v", calls)
	}
}

func TestToastFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("dial tcp: refused"), "Unable to load results"},
		{fmt.Errorf("fetch: %w", statusErr(429)), "Too many requests"},
		{fmt.Errorf("fetch: %w", statusErr(503)), "unavailable"},
		{fmt.Errorf("fetch: %w", statusErr(403)), "refused"},
		{fmt.Errorf("fetch: %w", context.DeadlineExceeded), "took too long"},
	}
	for _, tt := range tests {
		toast := ToastFor(tt.err)
		if !strings.Contains(toast.Description, tt.want) {
			t.Errorf("ToastFor(%v) = %q, want it to mention %q", tt.err, toast.Description, tt.want)
		}
		if strings.Contains(toast.Description, "dial tcp") {
			t.Error("internal error details leaked into toast")
		}
	}
}

func TestSentryReporter(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	s, err := NewSentry(SentryOptions{
		Environment: "test",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewSentry: %v", err)
	}

	s.Report(WithTag(context.Background(), "index", "users"), errors.New("backend down"))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Tags["index"] != "users" || ev.Tags["component"] != "search" {
		t.Errorf("unexpected tags %v", ev.Tags)
	}
	if len(ev.Exception) == 0 || ev.Exception[len(ev.Exception)-1].Value != "backend down" {
		t.Errorf("unexpected exception %+v", ev.Exception)
	}
}

// Package urlsync mirrors the query and page of a search page into a URL
// query string.
//
// The address bar is the only state a listing page shares with the outside
// world: it is read once when a page instance starts and written after every
// user action. Two parameters are mirrored:
//
//   - q: the free-text query, omitted when empty
//   - page: the 1-based page number, omitted when it equals 1
//
// Malformed or missing values never produce errors, they fall back to the
// defaults (empty query, page 1).
package urlsync

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-querystring/query"
)

const (
	// QueryParam is the URL parameter carrying the free-text query.
	QueryParam = "q"
	// PageParam is the URL parameter carrying the 1-based page number.
	PageParam = "page"
)

// State is the subset of a search page's state mirrored in the URL.
type State struct {
	Query string `url:"q,omitempty"`
	Page  int    `url:"page,omitempty"`
}

// Sync is the port a search controller uses to talk to the address bar.
type Sync interface {
	Read() State
	Write(State)
}

// Parse extracts the mirrored state from URL values. Missing or malformed
// values yield the defaults.
func Parse(values url.Values) State {
	state := State{Page: 1}

	if q := values[QueryParam]; len(q) > 0 {
		state.Query = q[0]
	}

	if pageStr := values[PageParam]; len(pageStr) > 0 && pageStr[0] != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(pageStr[0])); err == nil && parsed > 0 {
			state.Page = parsed
		}
	}

	return state
}

// Encode returns a copy of base with the mirrored parameters replaced by
// state. Parameters not owned by this package are preserved.
func Encode(base url.Values, state State) url.Values {
	out := make(url.Values, len(base)+2)
	for k, v := range base {
		if k == QueryParam || k == PageParam {
			continue
		}
		out[k] = append([]string(nil), v...)
	}

	// page=1 is the default and never shows up in the address bar
	if state.Page <= 1 {
		state.Page = 0
	}

	encoded, err := query.Values(state)
	if err != nil {
		// State only holds a string and an int, encoding cannot fail
		return out
	}
	for k, v := range encoded {
		out[k] = v
	}
	return out
}

// IsCanonical reports whether values already carry the mirrored state in its
// shortest form: no empty q, no page=1 and no unparsable page.
func IsCanonical(values url.Values) bool {
	if q, ok := values[QueryParam]; ok && (len(q) == 0 || q[0] == "") {
		return false
	}
	if p, ok := values[PageParam]; ok {
		if len(p) == 0 {
			return false
		}
		parsed, err := strconv.Atoi(p[0])
		if err != nil || parsed <= 1 {
			return false
		}
	}
	return true
}

// URL is a Sync backed by a url.URL. It is used by server rendered pages to
// compute canonical and pagination links, and by the CLI.
type URL struct {
	mu sync.Mutex
	u  url.URL
}

// NewURL copies u into a new URL sync.
func NewURL(u *url.URL) *URL {
	s := &URL{}
	if u != nil {
		s.u = *u
	}
	return s
}

// ParseURL parses raw, a path with an optional query string, into a URL sync.
func ParseURL(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return NewURL(u), nil
}

func (s *URL) Read() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Parse(s.u.Query())
}

func (s *URL) Write(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.u.RawQuery = Encode(s.u.Query(), state).Encode()
}

// RequestURI returns the path and query of the current URL.
func (s *URL) RequestURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u.RequestURI()
}

func (s *URL) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u.String()
}

// With returns the request URI obtained by writing state on a copy of the
// current URL, leaving s untouched.
func (s *URL) With(state State) string {
	s.mu.Lock()
	u := s.u
	s.mu.Unlock()
	u.RawQuery = Encode(u.Query(), state).Encode()
	return u.RequestURI()
}

// Funcs adapts a pair of functions to Sync.
type Funcs struct {
	ReadFunc  func() State
	WriteFunc func(State)
}

func (f Funcs) Read() State {
	if f.ReadFunc == nil {
		return State{Page: 1}
	}
	return f.ReadFunc()
}

func (f Funcs) Write(state State) {
	if f.WriteFunc != nil {
		f.WriteFunc(state)
	}
}

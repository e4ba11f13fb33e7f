// Package nestapi talks to the search endpoint of the Nest backend, a proxy
// in front of Algolia.
//
// Every search is a POST to {base}/search/ carrying a CSRF token obtained
// from {base}/csrf/. The token is fetched lazily, cached, and refreshed once
// when the backend answers 403.
package nestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/owasp/nest/pkg/log"
	"github.com/owasp/nest/pkg/search"
	"github.com/sony/gobreaker"
)

const csrfCookie = "csrftoken"

var logger = log.ForService("nestapi")

// ErrStatus matches every StatusError with errors.Is.
var ErrStatus = errors.New("nest api: unexpected status")

// StatusError is returned for non-2xx answers.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("nest api: status %d", e.Code)
	}
	return fmt.Sprintf("nest api: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// SearchBody is the JSON body of a search call.
type SearchBody struct {
	IndexName   string `json:"indexName"`
	Query       string `json:"query"`
	Page        int    `json:"page"`
	HitsPerPage int    `json:"hitsPerPage"`
	Filters     string `json:"filters,omitempty"`
}

// RawResponse is the backend answer with hits left undecoded.
type RawResponse struct {
	Hits    []json.RawMessage `json:"hits"`
	NbPages *int              `json:"nbPages"`
}

type Client struct {
	base    *url.URL
	http    *http.Client
	prefix  string
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	token   string
	cookies []*http.Cookie
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAttributePrefix sets the prefix of filter attributes, "idx_" by default.
func WithAttributePrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = prefix
	}
}

// WithBreakerSettings replaces the circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 10 * time.Second},
		prefix: "idx_",
	}
	c.breaker = gobreaker.NewCircuitBreaker(DefaultBreakerSettings())
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// DefaultBreakerSettings opens the breaker after five consecutive transport
// or server failures and probes again after 30 seconds.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "nestapi",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			return errors.As(err, &se) && se.Code < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
}

// AttributePrefix returns the prefix used when rendering filters.
func (c *Client) AttributePrefix() string {
	return c.prefix
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

// Search runs req against the backend. Sorted requests query the replica
// index for the sort key and order.
func (c *Client) Search(ctx context.Context, req search.Request) (*RawResponse, error) {
	body := SearchBody{
		IndexName:   req.ReplicaIndex(),
		Query:       req.Query,
		Page:        req.Page,
		HitsPerPage: req.HitsPerPage,
		Filters:     req.FilterClause(c.prefix),
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.search(ctx, body)
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusForbidden {
			logger.Debugf("csrf token rejected, refreshing")
			c.resetToken()
			resp, err = c.search(ctx, body)
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return out.(*RawResponse), nil
}

func (c *Client) search(ctx context.Context, body SearchBody) (*RawResponse, error) {
	token, cookies, err := c.csrf(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("search/"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-CSRFToken", token)
	for _, ck := range cookies {
		httpReq.AddCookie(ck)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", body.IndexName, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var raw RawResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &raw, nil
}

// csrf returns the cached token and cookies, fetching them when missing.
// The token cookie is always part of the returned cookies.
func (c *Client) csrf(ctx context.Context) (string, []*http.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, c.cookies, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("csrf/"), nil)
	if err != nil {
		return "", nil, fmt.Errorf("creating csrf request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetching csrf token: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", nil, err
	}

	var payload struct {
		CSRFToken string `json:"csrftoken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", nil, fmt.Errorf("decoding csrf response: %w", err)
	}

	cookies := mergeCookies(resp.Cookies(), payload.CSRFToken)
	token := payload.CSRFToken
	if token == "" {
		for _, ck := range cookies {
			if ck.Name == csrfCookie {
				token = ck.Value
			}
		}
	}
	if token == "" {
		return "", nil, errors.New("nest api: csrf endpoint returned no token")
	}

	c.token, c.cookies = token, cookies
	return c.token, c.cookies, nil
}

// mergeCookies keeps the last value of each cookie name and makes sure the
// csrf cookie matches the token from the response body.
func mergeCookies(set []*http.Cookie, token string) []*http.Cookie {
	byName := make(map[string]*http.Cookie)
	var order []string
	for _, ck := range set {
		if _, seen := byName[ck.Name]; !seen {
			order = append(order, ck.Name)
		}
		byName[ck.Name] = &http.Cookie{Name: ck.Name, Value: ck.Value}
	}
	if token != "" {
		if _, seen := byName[csrfCookie]; !seen {
			order = append(order, csrfCookie)
		}
		byName[csrfCookie] = &http.Cookie{Name: csrfCookie, Value: token}
	}

	out := make([]*http.Cookie, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

func (c *Client) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token, c.cookies = "", nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

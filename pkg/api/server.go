package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/schema"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/debounce"
	"github.com/owasp/nest/pkg/log"
	"github.com/owasp/nest/pkg/realtime"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/storage"
)

var logger = log.ForService("api")

// StatsProvider reports per-index statistics, typically a storage.Manager.
type StatsProvider interface {
	Stats(ctx context.Context) ([]storage.IndexStats, error)
}

type Server struct {
	registry *core.Registry
	fetcher  search.Fetcher[core.Document]
	stats    StatsProvider
	hub      *realtime.Hub
	reporter search.Reporter
	debounce time.Duration
	decoder  *schema.Decoder
}

// Option configures a Server.
type Option func(*Server)

func WithStats(p StatsProvider) Option {
	return func(s *Server) {
		s.stats = p
	}
}

// WithHub makes live sessions refresh when their index is updated.
func WithHub(h *realtime.Hub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// WithReporter sets where fetch errors are reported in addition to the
// client facing toast.
func WithReporter(r search.Reporter) Option {
	return func(s *Server) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithDebounce sets the idle window applied to live search input.
func WithDebounce(d time.Duration) Option {
	return func(s *Server) {
		s.debounce = d
	}
}

func NewServer(registry *core.Registry, fetcher search.Fetcher[core.Document], opts ...Option) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		registry: registry,
		fetcher:  fetcher,
		reporter: report.NewLog("api"),
		debounce: debounce.DefaultWindow,
		decoder:  decoder,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

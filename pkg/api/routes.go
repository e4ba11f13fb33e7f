package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/indexes", s.HandleListIndexes)
	mux.HandleFunc("GET /api/search/{index}", s.HandleSearch)
	mux.HandleFunc("GET /api/search/{index}/ws", s.HandleLive)
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	mux.HandleFunc("GET /health", s.HandleHealth)
}

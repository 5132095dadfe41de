package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/auth"
	"github.com/seanblong/metasearch/internal/chat"
	"github.com/seanblong/metasearch/internal/search"
	"github.com/seanblong/metasearch/pkg/models"
)

const maxBodyBytes = 1 << 20

// Index is a loaded index pair that can answer queries.
type Index interface {
	Query(ctx context.Context, q string, k int) ([]models.SearchResult, error)
	Retrieve(ctx context.Context, q string, k int) ([]string, error)
	Close() error
}

// OpenFunc loads the index pair stored under label.
type OpenFunc func(ctx context.Context, label string) (Index, error)

// IndexLister lists the index pairs available to open.
type IndexLister interface {
	ListIndexes(ctx context.Context) ([]artifact.IndexInfo, error)
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ChatRequest struct {
	Index    string   `json:"index"`
	Question string   `json:"question"`
	History  []string `json:"history,omitempty"`
	K        int      `json:"k,omitempty"`
}

type ChatResponse struct {
	Answer  string   `json:"answer"`
	History []string `json:"history"`
}

// Server serves search and chat over the stored index pairs. Loaded indexes
// are cached per label until Close.
type Server struct {
	Indexes      IndexLister
	Backend      Pinger // nil: always healthy
	Open         OpenFunc
	Generator    chat.Generator
	TopK         int
	HistoryLines int

	mu     sync.Mutex
	loaded map[string]Index
}

// NewServer creates a server whose indexes are opened from arts and queried
// with embedder.
func NewServer(arts *artifact.Store, embedder search.Embedder, generator chat.Generator, database string, topK, historyLines int) *Server {
	open := func(ctx context.Context, label string) (Index, error) {
		l, err := search.Open(ctx, arts, label, database, embedder)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	catalog := search.NewCatalog(arts, database)
	return &Server{
		Indexes:      catalog,
		Backend:      catalog,
		Open:         open,
		Generator:    generator,
		TopK:         topK,
		HistoryLines: historyLines,
	}
}

// index returns the cached index for label, opening it on first use.
func (s *Server) index(ctx context.Context, label string) (Index, error) {
	if err := artifact.ValidateLabel(label); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.loaded[label]; ok {
		return idx, nil
	}
	idx, err := s.Open(ctx, label)
	if err != nil {
		return nil, err
	}
	if s.loaded == nil {
		s.loaded = make(map[string]Index)
	}
	s.loaded[label] = idx
	return idx, nil
}

// Close releases every cached index.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for label, idx := range s.loaded {
		if err := idx.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.loaded, label)
	}
	return errors.Join(errs...)
}

// Handler returns the routes wrapped with request logging.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, map[string]bool{"enabled": auth.IsAuthEnabled()})
	})
	mux.HandleFunc("/auth/me", auth.OptionalAuthMiddleware(s.handleMe))
	mux.HandleFunc("/indexes", auth.OptionalAuthMiddleware(s.handleIndexes))
	mux.HandleFunc("/search", auth.OptionalAuthMiddleware(s.handleSearch))
	mux.HandleFunc("/chat", auth.OptionalAuthMiddleware(s.handleChat))

	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.Backend.Ping(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("backend unavailable")
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromContext(r)
	if p == nil {
		http.Error(w, "Authentication disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, r, p)
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos, err := s.Indexes.ListIndexes(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, r, infos)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	label := r.URL.Query().Get("index")
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	k := s.TopK
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid k", http.StatusBadRequest)
			return
		}
		k = n
	}
	if q == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}
	if label == "" {
		http.Error(w, "missing query parameter index", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	idx, err := s.index(ctx, label)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := idx.Query(ctx, q, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range res {
		if math.IsNaN(res[i].Distance) || math.IsInf(res[i].Distance, 0) {
			res[i].Distance = 0
		}
	}
	if res == nil {
		res = []models.SearchResult{}
	}
	writeJSON(w, r, res)

	hlog.FromRequest(r).Info().Str("path", "/search").Str("index", label).Str("q", q).Int("k", k).Dur("dur", time.Since(start)).Msg("served")
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" || req.Index == "" {
		http.Error(w, "index and question are required", http.StatusBadRequest)
		return
	}
	k := req.K
	if k == 0 {
		k = s.TopK
	}
	if k < 1 {
		writeError(w, r, search.ErrInvalidK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	idx, err := s.index(ctx, req.Index)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session := chat.NewSession(idx, s.Generator, k, s.HistoryLines)
	session.Restore(req.History)
	answer, err := session.Ask(ctx, req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, ChatResponse{Answer: answer, History: session.History()})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, artifact.ErrMissingArtifact):
		status = http.StatusNotFound
	case errors.Is(err, artifact.ErrInvalidLabel), errors.Is(err, search.ErrInvalidK):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	hlog.FromRequest(r).Warn().Err(err).Int("status", status).Msg("request failed")
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}

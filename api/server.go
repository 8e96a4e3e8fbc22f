// Package api exposes the scraper engine and the record pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/linkmeta/article"
	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/metadata"
	"github.com/docutag/linkmeta/metrics"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/pipeline"
	"github.com/docutag/linkmeta/scheduler"
	"github.com/docutag/linkmeta/storage"
	"github.com/docutag/linkmeta/urlguard"
)

// Engine is the scraper surface served by the API
type Engine interface {
	ValidateExternalURL(rawURL string) (urlguard.ValidURL, error)
	ClassifyPlatform(rawURL string) models.Platform
	ShouldExtractArticle(rawURL string) bool
	ScrapeMetadata(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error)
	ExtractArticle(ctx context.Context, rawURL string) (*models.ArticleContent, error)
	CheckLink(ctx context.Context, rawURL string) models.LinkCheckResult
}

// Processor runs the record pipeline
type Processor interface {
	ProcessRecord(ctx context.Context, id string) error
}

// SweepRunner starts a link sweep on demand
type SweepRunner interface {
	RunNow(ctx context.Context) error
}

// Config contains server configuration
type Config struct {
	Addr          string
	CORSEnabled   bool
	RateLimit     float64 // Requests per second per client IP
	RateBurst     int
	TrustProxy    bool          // Take the client IP from X-Forwarded-For
	RecordTimeout time.Duration // Deadline for one background record run
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		CORSEnabled:   true,
		RateLimit:     2,
		RateBurst:     10,
		RecordTimeout: 2 * time.Minute,
	}
}

// Deps are the collaborators behind the routes. Images and Sweep may be nil.
type Deps struct {
	Engine    Engine
	Records   pipeline.RecordStore
	Processor Processor
	Images    storage.Store
	Sweep     SweepRunner
}

// Server represents the API server
type Server struct {
	config  Config
	deps    Deps
	mux     *http.ServeMux
	limiter *RateLimiter
	server  *http.Server

	// background tracks record runs started by requests
	background sync.WaitGroup
	baseCtx    context.Context
	cancel     context.CancelFunc
}

// NewServer creates a new API server
func NewServer(config Config, deps Deps) *Server {
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultConfig().RateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = DefaultConfig().RateBurst
	}
	if config.RecordTimeout <= 0 {
		config.RecordTimeout = DefaultConfig().RecordTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  config,
		deps:    deps,
		mux:     http.NewServeMux(),
		limiter: NewRateLimiter(config.RateLimit, config.RateBurst, config.TrustProxy),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// registerRoutes sets up all API routes. Routes that make outbound requests
// sit behind the rate limiter.
func (s *Server) registerRoutes() {
	limited := func(h http.HandlerFunc) http.Handler {
		return s.limiter.Middleware(h)
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/api/validate", s.handleValidate)
	s.mux.HandleFunc("/api/classify", s.handleClassify)
	s.mux.Handle("/api/metadata", limited(s.handleMetadata))
	s.mux.Handle("/api/article", limited(s.handleArticle))
	s.mux.Handle("/api/check-link", limited(s.handleCheckLink))
	s.mux.Handle("/api/records", limited(s.handleCreateRecord))
	s.mux.HandleFunc("/api/records/{id}", s.handleGetRecord)
	s.mux.Handle("/api/records/{id}/refresh", limited(s.handleRefreshRecord))
	s.mux.HandleFunc("/api/images/{key...}", s.handleImage)
	s.mux.Handle("/api/link-sweep", limited(s.handleLinkSweep))
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "linkmeta-api")
}

// Start starts the API server
func (s *Server) Start() error {
	slog.Info("starting API server", "addr", s.config.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then cancels and waits for background
// record runs
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down API server")
	err := s.server.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// middleware applies CORS, request logging and metrics
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.CORSEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(route, rec.status, start)

		// Skip health checks to reduce noise
		if r.URL.Path != "/health" {
			slog.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		}
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	var verr *urlguard.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRecordNotFound), errors.Is(err, metadata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, article.ErrTimeout), errors.Is(err, fetch.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// URLRequest is the body of every single-URL operation
type URLRequest struct {
	URL string `json:"url"`
}

// decodeURL reads a POST body with a non-empty url, writing the error
// response itself when it returns false
func decodeURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	var req URLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return "", false
	}
	return req.URL, true
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// ValidateResponse reports whether a URL passes the guard
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := decodeURL(w, r)
	if !ok {
		return
	}
	valid, err := s.deps.Engine.ValidateExternalURL(rawURL)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, ValidateResponse{Valid: true, URL: valid.URL.String()})
}

// ClassifyResponse names the platform adapter for a URL
type ClassifyResponse struct {
	Platform       models.Platform `json:"platform"`
	ExtractArticle bool            `json:"extractArticle"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := decodeURL(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ClassifyResponse{
		Platform:       s.deps.Engine.ClassifyPlatform(rawURL),
		ExtractArticle: s.deps.Engine.ShouldExtractArticle(rawURL),
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := decodeURL(w, r)
	if !ok {
		return
	}
	meta, err := s.deps.Engine.ScrapeMetadata(r.Context(), rawURL)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := decodeURL(w, r)
	if !ok {
		return
	}
	content, err := s.deps.Engine.ExtractArticle(r.Context(), rawURL)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, content)
}

func (s *Server) handleCheckLink(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := decodeURL(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Engine.CheckLink(r.Context(), rawURL))
}

// CreateRecordRequest creates a record and schedules processing. With Wait
// set the response is sent after processing finishes.
type CreateRecordRequest struct {
	URL  string `json:"url"`
	Wait bool   `json:"wait"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req CreateRecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	valid, err := s.deps.Engine.ValidateExternalURL(req.URL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.deps.Records.CreateRecord(r.Context(), valid.URL.String())
	if err != nil {
		slog.Error("failed to create record", "url", req.URL, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	if req.Wait {
		s.respondProcessed(w, r, rec.ID, http.StatusCreated)
		return
	}
	s.processInBackground(rec.ID)
	respondJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := s.deps.Records.GetRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, pipeline.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRefreshRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.PathValue("id")
	rec, err := s.deps.Records.GetRecord(r.Context(), id)
	if errors.Is(err, pipeline.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		s.respondProcessed(w, r, id, http.StatusOK)
		return
	}
	s.processInBackground(id)
	respondJSON(w, http.StatusAccepted, rec)
}

// respondProcessed runs the pipeline in the request and returns the record.
// A metadata failure still returns the record, now in ERROR state.
func (s *Server) respondProcessed(w http.ResponseWriter, r *http.Request, id string, status int) {
	if err := s.deps.Processor.ProcessRecord(r.Context(), id); err != nil {
		slog.Warn("record processing failed", "record_id", id, "error", err)
	}
	rec, err := s.deps.Records.GetRecord(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, status, rec)
}

func (s *Server) processInBackground(id string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.config.RecordTimeout)
		defer cancel()
		if err := s.deps.Processor.ProcessRecord(ctx, id); err != nil {
			slog.Warn("record processing failed", "record_id", id, "error", err)
		}
	}()
}

// handleImage serves a stored preview image by storage key
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Images == nil {
		respondError(w, http.StatusNotFound, "image storage not configured")
		return
	}

	key := r.PathValue("key")
	data, err := s.deps.Images.ReadImage(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		slog.Error("failed to read image", "key", key, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read image file")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// Keys are never reused, so images can be cached for a year
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleLinkSweep starts a sweep in the background
func (s *Server) handleLinkSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Sweep == nil {
		respondError(w, http.StatusNotFound, "link sweep not configured")
		return
	}

	started := make(chan error, 1)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		started <- s.deps.Sweep.RunNow(s.baseCtx)
	}()

	// A busy sweeper answers immediately; a started one keeps running
	select {
	case err := <-started:
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, "link sweep already running")
			return
		}
		if err != nil {
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	case <-time.After(100 * time.Millisecond):
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

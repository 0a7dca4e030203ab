// Package api exposes the listing crawler over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/FranksOps/aliscrape/internal/models"
	"github.com/FranksOps/aliscrape/internal/scraper"
)

// Version is reported by the root endpoint; set at link time.
var Version = "dev"

// maxRequestBody bounds POST /search bodies.
const maxRequestBody = 64 << 10

// Searcher runs searches; *pipeline.Service satisfies it.
type Searcher interface {
	Run(ctx context.Context, req models.SearchRequest) (*models.SearchResult, error)
	MaxPages() int
}

// Config configures the router.
type Config struct {
	CORSOrigins []string
}

// Handlers serves the search endpoints.
type Handlers struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(searcher Searcher, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{searcher: searcher, logger: logger}
}

// NewRouter mounts the handlers with request logging, panic recovery and CORS.
func NewRouter(cfg Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.Info)
	r.Get("/healthz", h.Health)
	r.Post("/search", h.Search)
	return r
}

// SearchRequest is the POST /search body. MaxPages defaults to 1.
type SearchRequest struct {
	URL      string `json:"url"`
	MaxPages *int   `json:"max_pages"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Info describes the service.
func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"name":        "aliscrape",
		"version":     Version,
		"description": "Collects product listings from multi-page search results",
		"endpoints": map[string]any{
			"/search": map[string]any{
				"method":      "POST",
				"description": "Search for products using a listing URL",
				"parameters": map[string]string{
					"url":       "listing URL (required)",
					"max_pages": "pages to crawl, 1 to " + strconv.Itoa(h.searcher.MaxPages()) + " (optional, default: 1)",
				},
			},
			"/healthz": map[string]any{"method": "GET", "description": "Liveness probe"},
		},
	})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Search runs one crawl and returns its products.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   scraper.CategoryValidation,
			Message: "invalid request body: " + err.Error(),
		})
		return
	}

	req := models.SearchRequest{URL: body.URL, MaxPages: 1}
	if body.MaxPages != nil {
		req.MaxPages = *body.MaxPages
	}

	start := time.Now()
	res, err := h.searcher.Run(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.logger.Info("search served", "url", req.URL, "max_pages", req.MaxPages,
		"products", res.TotalProducts, "duration", time.Since(start))
	h.respondJSON(w, http.StatusOK, res)
}

// StatusFor maps an error category to its HTTP status.
func StatusFor(err error) int {
	switch scraper.Category(err) {
	case scraper.CategoryValidation:
		return http.StatusBadRequest
	case scraper.CategoryFetch:
		return http.StatusBadGateway
	case scraper.CategoryDeadline:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: scraper.Category(err), Message: err.Error()}

	var verr *scraper.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status >= 500 {
		h.logger.Error("search failed", "status", status, "err", err)
	}
	h.respondJSON(w, status, resp)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "err", err)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
				"bytes", ww.BytesWritten(), "duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

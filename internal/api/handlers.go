package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/carzilla-scraper/internal/catalog"
	"github.com/maltedev/carzilla-scraper/internal/jobs"
	"github.com/maltedev/carzilla-scraper/internal/mapping"
	"github.com/maltedev/carzilla-scraper/internal/models"
	"github.com/maltedev/carzilla-scraper/internal/queue"
)

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// OutboxCounter reports outbox backlog for the health check.
type OutboxCounter interface {
	Counts(ctx context.Context) (pending, deadLetter int64, err error)
}

// DatasetStats reports totals of the local dataset file.
type DatasetStats interface {
	Stats() (map[string]int, error)
}

type Handlers struct {
	searcher jobs.Searcher
	mapper   *mapping.Mapper
	checker  *mapping.Checker
	catalog  *catalog.Catalog
	jobs     *jobs.Manager
	outbox   OutboxCounter
	dataset  DatasetStats
	logger   *slog.Logger
}

type Option func(*Handlers)

func WithJobs(m *jobs.Manager) Option {
	return func(h *Handlers) { h.jobs = m }
}

func WithOutbox(o OutboxCounter) Option {
	return func(h *Handlers) { h.outbox = o }
}

func WithDataset(d DatasetStats) Option {
	return func(h *Handlers) { h.dataset = d }
}

func NewHandlers(
	searcher jobs.Searcher,
	mapper *mapping.Mapper,
	checker *mapping.Checker,
	cat *catalog.Catalog,
	logger *slog.Logger,
	opts ...Option,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		searcher: searcher,
		mapper:   mapper,
		checker:  checker,
		catalog:  cat,
		logger:   logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Search runs a search synchronously. The envelope is returned with 200
// even when the search failed; its error field carries the reason.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	env := h.searcher.Search(r.Context(), req)
	h.respondJSON(w, http.StatusOK, env)
}

type SupportRequest struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

func (h *Handlers) CheckSupport(w http.ResponseWriter, r *http.Request) {
	var req SupportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.respondJSON(w, http.StatusOK, h.checker.IsSearchSupported(req.Make, req.Model))
}

// SearchURLResponse is the mapper output for a request, without loading
// the page.
type SearchURLResponse struct {
	SearchURL       string                  `json:"search_url,omitempty"`
	Supported       bool                    `json:"supported"`
	CheckboxFilters []models.CheckboxFilter `json:"checkbox_filters"`
}

func (h *Handlers) BuildSearchURL(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	url, supported := h.mapper.BuildSearchURL(req)
	h.respondJSON(w, http.StatusOK, SearchURLResponse{
		SearchURL:       url,
		Supported:       supported,
		CheckboxFilters: h.mapper.CheckboxFilters(req),
	})
}

type BrandsResponse struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	Brands      []string  `json:"brands"`
}

func (h *Handlers) ListBrands(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, BrandsResponse{
		Version:     h.catalog.Version(),
		GeneratedAt: h.catalog.GeneratedAt(),
		Brands:      h.catalog.Brands(),
	})
}

type ModelsResponse struct {
	Brand  string   `json:"brand"`
	Models []string `json:"models"`
}

func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	brand := h.catalog.ResolveBrand(chi.URLParam(r, "brand"))
	if _, ok := h.catalog.BrandID(brand); !ok {
		h.respondError(w, http.StatusNotFound, "brand not found")
		return
	}

	h.respondJSON(w, http.StatusOK, ModelsResponse{
		Brand:  brand,
		Models: h.catalog.Models(brand),
	})
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "async jobs are disabled")
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	priority := 0
	if v := r.URL.Query().Get("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		priority = p
	}

	job, err := h.jobs.Submit(req, priority)
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		if errors.Is(err, queue.ErrQueueFull) {
			h.respondError(w, http.StatusTooManyRequests, "job queue is full")
			return
		}
		h.respondError(w, http.StatusServiceUnavailable, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "async jobs are disabled")
		return
	}

	job, err := h.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "async jobs are disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}
	h.respondJSON(w, http.StatusOK, h.jobs.List(limit))
}

type StatsResponse struct {
	Jobs    *jobs.Stats    `json:"jobs,omitempty"`
	Dataset map[string]int `json:"dataset,omitempty"`
	Catalog CatalogStats   `json:"catalog"`
}

type CatalogStats struct {
	Version string `json:"version"`
	Brands  int    `json:"brands"`
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Catalog: CatalogStats{
			Version: h.catalog.Version(),
			Brands:  len(h.catalog.Brands()),
		},
	}
	if h.jobs != nil {
		stats := h.jobs.Stats()
		resp.Jobs = &stats
	}
	if h.dataset != nil {
		stats, err := h.dataset.Stats()
		if err != nil {
			h.logger.Error("failed to read dataset stats", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to get stats")
			return
		}
		resp.Dataset = stats
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type OutboxHealth struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Outbox  *OutboxHealth `json:"outbox,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to count outbox events", "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "error",
				Message: "database unavailable",
			})
			return
		}

		resp.Outbox = &OutboxHealth{Pending: pending, DeadLetter: deadLetter}
		if pending > pendingWarnThreshold {
			resp.Status = "warning"
			resp.Message = "High number of pending outbox events"
		}
		if deadLetter > deadLetterErrorThreshold {
			resp.Status = "error"
			resp.Message = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, resp)
}

func (h *Handlers) decodeRequest(w http.ResponseWriter, r *http.Request) (*models.SearchRequest, bool) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return &req, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

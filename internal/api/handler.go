// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"repo-metadata-sync/internal/syncer"
	"repo-metadata-sync/internal/tablestore"
)

// Pipelines is the part of the syncer the HTTP surface triggers.
type Pipelines interface {
	SeedRepositories(ctx context.Context, table string) (*syncer.SeedReport, error)
	ScanFileChanges(ctx context.Context) (*syncer.ScanReport, error)
}

// defaultMaxRuns is how many scan runs stay queryable; older ones are forgotten.
const defaultMaxRuns = 100

// Run states reported by GET /v1/scan/{runID}.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ScanRun tracks one asynchronous scan started over HTTP.
type ScanRun struct {
	ID         string             `json:"id"`
	Status     string             `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Report     *syncer.ScanReport `json:"report,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Handler is the container for API dependencies.
type Handler struct {
	pipelines Pipelines
	store     tablestore.Service
	logger    *slog.Logger

	// baseCtx outlives individual requests; background scans run under it.
	baseCtx context.Context
	wg      sync.WaitGroup

	mu      sync.Mutex
	runs    map[string]*ScanRun
	order   []string // run ids, oldest first
	running string
	maxRuns int
}

// NewHandler creates a Handler. Background scans are cancelled with ctx.
func NewHandler(ctx context.Context, pipelines Pipelines, store tablestore.Service, logger *slog.Logger) *Handler {
	return &Handler{
		pipelines: pipelines,
		store:     store,
		logger:    logger,
		baseCtx:   ctx,
		runs:      make(map[string]*ScanRun),
		maxRuns:   defaultMaxRuns,
	}
}

// Router creates and configures a new chi router with all API routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		// Seeding walks every page of the account synchronously.
		r.With(middleware.Timeout(5*time.Minute)).Post("/seed", h.seed)
		r.Post("/scan", h.startScan)
		r.Get("/scan/{runID}", h.getScan)
		r.Get("/tables/{table}/entities/{partition}", h.listEntities)
		r.Get("/tables/{table}/entities/{partition}/{row}", h.getEntity)
	})

	return r
}

// Wait blocks until every background scan started by this handler has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type seedRequest struct {
	TableName string `json:"tablename"`
}

type seedResponse struct {
	Status string `json:"status"`
	*syncer.SeedReport
}

// seed runs the repository seed synchronously.
// POST /v1/seed {"tablename": "..."}
func (h *Handler) seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := h.pipelines.SeedRepositories(r.Context(), req.TableName)
	if err != nil {
		h.logger.Error("Repository seed failed", "table", req.TableName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, seedResponse{Status: "Success", SeedReport: report})
}

// startScan starts a file change scan in the background. Only one scan runs
// at a time.
// POST /v1/scan
func (h *Handler) startScan(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.running != "" {
		run := *h.runs[h.running]
		h.mu.Unlock()
		respondWithJSON(w, http.StatusConflict, run)
		return
	}
	run := &ScanRun{ID: uuid.NewString(), Status: RunRunning, StartedAt: time.Now().UTC()}
	h.runs[run.ID] = run
	h.order = append(h.order, run.ID)
	h.running = run.ID
	h.evictRuns()
	accepted := *run
	h.wg.Add(1)
	h.mu.Unlock()

	go h.runScan(run.ID)

	w.Header().Set("Location", "/v1/scan/"+run.ID)
	respondWithJSON(w, http.StatusAccepted, accepted)
}

// evictRuns drops the oldest finished runs beyond maxRuns. h.mu must be held.
func (h *Handler) evictRuns() {
	for len(h.order) > h.maxRuns {
		oldest := h.order[0]
		if oldest == h.running {
			return
		}
		delete(h.runs, oldest)
		h.order = h.order[1:]
	}
}

func (h *Handler) runScan(id string) {
	defer h.wg.Done()
	logger := h.logger.With("scan_id", id)

	report, err := h.pipelines.ScanFileChanges(h.baseCtx)

	finished := time.Now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	run := h.runs[id]
	run.FinishedAt = &finished
	h.running = ""
	if err != nil {
		logger.Error("Scan run failed", "error", err)
		run.Status = RunFailed
		run.Error = err.Error()
		return
	}
	run.Status = RunSucceeded
	run.Report = report
}

// getScan reports the state of a scan run.
// GET /v1/scan/{runID}
func (h *Handler) getScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	h.mu.Lock()
	run, ok := h.runs[id]
	var snapshot ScanRun
	if ok {
		snapshot = *run
	}
	h.mu.Unlock()

	if !ok {
		respondWithError(w, http.StatusNotFound, "Scan run not found")
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

// listEntities returns every entity of one partition.
// GET /v1/tables/{table}/entities/{partition}
func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	partition := chi.URLParam(r, "partition")

	entities, err := h.store.Table(table).ListEntities(r.Context(), partition)
	if err != nil {
		if errors.Is(err, tablestore.ErrTableNotFound) {
			respondWithError(w, http.StatusNotFound, "Table not found")
			return
		}
		h.logger.Error("Failed to list entities", "table", table, "partition", partition, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if entities == nil {
		entities = []tablestore.Entity{}
	}

	respondWithJSON(w, http.StatusOK, entities)
}

// getEntity returns a single entity.
// GET /v1/tables/{table}/entities/{partition}/{row}
func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	partition := chi.URLParam(r, "partition")
	row := chi.URLParam(r, "row")

	entity, err := h.store.Table(table).GetEntity(r.Context(), partition, row)
	if err != nil {
		if errors.Is(err, tablestore.ErrTableNotFound) || errors.Is(err, tablestore.ErrEntityNotFound) {
			respondWithError(w, http.StatusNotFound, "Entity not found")
			return
		}
		h.logger.Error("Failed to get entity", "table", table, "partition", partition, "row", row, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, entity)
}

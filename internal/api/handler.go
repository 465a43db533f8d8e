package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/entersite/outreach/internal/audience"
	"github.com/entersite/outreach/internal/domain"
	"github.com/entersite/outreach/internal/sender"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	ListRuns(ctx context.Context, tenantID string, status domain.RunStatus, limit, offset int) ([]domain.SenderRun, error)
	InsertEvent(ctx context.Context, ev domain.WeightedEvent) error
}

// RunProcessor is the sender surface exposed to operators.
type RunProcessor interface {
	CreateOrResetRun(ctx context.Context, tenantID, campaignID, leadID string, force bool) (domain.SenderRun, error)
	Retry(ctx context.Context, tenantID, key string) (domain.SenderRun, error)
	Override(ctx context.Context, tenantID, key, reason string) (domain.SenderRun, error)
	ProcessDueForTenant(ctx context.Context, tenantID string, limit int) ([]sender.RunResult, error)
	ProcessDueForCampaign(ctx context.Context, tenantID, campaignID string, limit int) ([]sender.RunResult, error)
}

// Rebuilder triggers an immediate profile rebuild plus action pass.
type Rebuilder interface {
	RunActions(ctx context.Context, tenantID, campaignID string, withinDays int) (audience.ActionStats, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store      Store
	processor  RunProcessor
	rebuilder  Rebuilder
	withinDays int
	batchLimit int
	db         HealthChecker
}

func NewHandler(store Store, processor RunProcessor, rebuilder Rebuilder, withinDays, batchLimit int) *Handler {
	return &Handler{
		store:      store,
		processor:  processor,
		rebuilder:  rebuilder,
		withinDays: withinDays,
		batchLimit: batchLimit,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasPrefix(path, "/runs/") && strings.HasSuffix(path, "/retry") && r.Method == http.MethodPost:
		h.retryRun(w, r)

	case strings.HasPrefix(path, "/runs/") && strings.HasSuffix(path, "/override") && r.Method == http.MethodPost:
		h.overrideRun(w, r)

	case path == "/process" && r.Method == http.MethodPost:
		h.process(w, r)

	case path == "/profiles/rebuild" && r.Method == http.MethodPost:
		h.rebuild(w, r)

	case path == "/events" && r.Method == http.MethodPost:
		h.appendEvent(w, r)

	case path == "/enroll" && r.Method == http.MethodPost:
		h.enroll(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateEnroll(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.processor.CreateOrResetRun(r.Context(), req.Tenant, req.Campaign, req.Lead, req.Force)
	if err != nil {
		log.Printf("api: enroll error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to enroll")
		return
	}

	writeJSON(w, http.StatusCreated, runResponse(run))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	status, err := validateStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), tenant, status, limit, offset)
	if err != nil {
		log.Printf("api: list runs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = runResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) retryRun(w http.ResponseWriter, r *http.Request) {
	key, ok := runPathKey(r.URL.Path, "retry")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	run, err := h.processor.Retry(r.Context(), tenant, key)
	if err != nil {
		switch {
		case errors.Is(err, sender.ErrRunNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, sender.ErrNotRetryable):
			writeError(w, http.StatusConflict, "run is not in a retryable state")
		default:
			log.Printf("api: retry run error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to retry run")
		}
		return
	}

	writeJSON(w, http.StatusOK, runResponse(run))
}

func (h *Handler) overrideRun(w http.ResponseWriter, r *http.Request) {
	key, ok := runPathKey(r.URL.Path, "override")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	// An empty body is a valid override with no reason.
	var req OverrideRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	run, err := h.processor.Override(r.Context(), tenant, key, req.Reason)
	if err != nil {
		if errors.Is(err, sender.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("api: override run error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to override run")
		return
	}

	writeJSON(w, http.StatusOK, runResponse(run))
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}
	campaign := r.URL.Query().Get("campaign")

	var (
		results []sender.RunResult
		err     error
	)
	if campaign != "" {
		results, err = h.processor.ProcessDueForCampaign(r.Context(), tenant, campaign, h.batchLimit)
	} else {
		results, err = h.processor.ProcessDueForTenant(r.Context(), tenant, h.batchLimit)
	}
	if err != nil {
		log.Printf("api: process error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to process runs")
		return
	}

	resp := ProcessResponse{Processed: len(results), Outcomes: make(map[string]int)}
	for _, res := range results {
		if res.Err != nil {
			resp.Outcomes["error"]++
			continue
		}
		resp.Outcomes[res.Action]++
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}
	campaign := r.URL.Query().Get("campaign")

	stats, err := h.rebuilder.RunActions(r.Context(), tenant, campaign, h.withinDays)
	if err != nil {
		log.Printf("api: rebuild error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to rebuild profiles")
		return
	}

	writeJSON(w, http.StatusOK, RebuildResponse{
		ScannedEvents:    stats.ScannedEvents,
		Entities:         stats.Entities,
		ProfilesUpserted: stats.ProfilesUpserted,
		HotTransitions:   stats.HotTransitions,
		ActionsAppended:  stats.ActionsAppended,
	})
}

func (h *Handler) appendEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ts, err := validateAppendEvent(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := domain.WeightedEvent{
		TenantID:   req.Tenant,
		Actor:      domain.ActorKey(req.Actor),
		CampaignID: req.Campaign,
		Type:       req.Type,
		Weight:     req.Weight,
		TS:         ts,
	}
	if err := h.store.InsertEvent(r.Context(), ev); err != nil {
		log.Printf("api: append event error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to append event")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// runPathKey extracts the run key from /runs/{key}/{action} paths.
func runPathKey(path, action string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "runs" || parts[2] != action || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func runResponse(run domain.SenderRun) RunResponse {
	history := make([]HistoryEntryResponse, len(run.History))
	for i, entry := range run.History {
		history[i] = HistoryEntryResponse{
			At:      formatTime(entry.At),
			Channel: string(entry.Channel),
			OK:      entry.OK,
			Message: entry.Message,
		}
	}
	return RunResponse{
		Key:       run.Key,
		Tenant:    run.TenantID,
		Campaign:  run.CampaignID,
		Lead:      run.LeadID,
		Status:    string(run.Status),
		StepIndex: run.StepIndex,
		NextAt:    formatTime(run.NextAt),
		History:   history,
		LastError: run.LastError,
		CreatedAt: formatTime(run.CreatedAt),
		UpdatedAt: formatTime(run.UpdatedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}

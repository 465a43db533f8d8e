package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entersite/outreach/internal/audience"
	"github.com/entersite/outreach/internal/domain"
	"github.com/entersite/outreach/internal/sender"
)

// mockAPIStore implements Store with canned runs and recorded events.
type mockAPIStore struct {
	mu       sync.Mutex
	runs     []domain.SenderRun
	events   []domain.WeightedEvent
	listErr  error
	eventErr error

	lastStatus domain.RunStatus
	lastLimit  int
	lastOffset int
}

func (s *mockAPIStore) ListRuns(_ context.Context, tenantID string, status domain.RunStatus, limit, offset int) ([]domain.SenderRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStatus = status
	s.lastLimit = limit
	s.lastOffset = offset
	if s.listErr != nil {
		return nil, s.listErr
	}
	var result []domain.SenderRun
	for _, run := range s.runs {
		if run.TenantID == tenantID {
			result = append(result, run)
		}
	}
	return result, nil
}

func (s *mockAPIStore) InsertEvent(_ context.Context, ev domain.WeightedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventErr != nil {
		return s.eventErr
	}
	s.events = append(s.events, ev)
	return nil
}

// mockRunProcessor implements RunProcessor with configurable outcomes.
type mockRunProcessor struct {
	mu sync.Mutex

	enrolled     []string
	enrollForce  bool
	enrollErr    error
	retryErr     error
	overrideErr  error
	processErr   error
	lastReason   string
	lastCampaign string
	results      []sender.RunResult
	run          domain.SenderRun
}

func (p *mockRunProcessor) CreateOrResetRun(_ context.Context, tenantID, campaignID, leadID string, force bool) (domain.SenderRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enrolled = append(p.enrolled, tenantID+"/"+campaignID+"/"+leadID)
	p.enrollForce = force
	if p.enrollErr != nil {
		return domain.SenderRun{}, p.enrollErr
	}
	return p.run, nil
}

func (p *mockRunProcessor) Retry(_ context.Context, tenantID, key string) (domain.SenderRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retryErr != nil {
		return domain.SenderRun{}, p.retryErr
	}
	return p.run, nil
}

func (p *mockRunProcessor) Override(_ context.Context, tenantID, key, reason string) (domain.SenderRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReason = reason
	if p.overrideErr != nil {
		return domain.SenderRun{}, p.overrideErr
	}
	return p.run, nil
}

func (p *mockRunProcessor) ProcessDueForTenant(_ context.Context, tenantID string, limit int) ([]sender.RunResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCampaign = ""
	if p.processErr != nil {
		return nil, p.processErr
	}
	return p.results, nil
}

func (p *mockRunProcessor) ProcessDueForCampaign(_ context.Context, tenantID, campaignID string, limit int) ([]sender.RunResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCampaign = campaignID
	if p.processErr != nil {
		return nil, p.processErr
	}
	return p.results, nil
}

// mockAPIRebuilder implements Rebuilder.
type mockAPIRebuilder struct {
	mu           sync.Mutex
	stats        audience.ActionStats
	err          error
	lastTenant   string
	lastCampaign string
	lastWithin   int
}

func (r *mockAPIRebuilder) RunActions(_ context.Context, tenantID, campaignID string, withinDays int) (audience.ActionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTenant = tenantID
	r.lastCampaign = campaignID
	r.lastWithin = withinDays
	if r.err != nil {
		return audience.ActionStats{}, r.err
	}
	return r.stats, nil
}

// mockHealthChecker implements HealthChecker.
type mockHealthChecker struct {
	err error
}

func (c *mockHealthChecker) PingContext(context.Context) error {
	return c.err
}

func testRun() domain.SenderRun {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return domain.SenderRun{
		Key:        "camp-1__lead-1",
		TenantID:   "tenant-1",
		CampaignID: "camp-1",
		LeadID:     "lead-1",
		Status:     domain.RunStatusPending,
		StepIndex:  1,
		NextAt:     now,
		History: []domain.HistoryEntry{
			{At: now.Add(-time.Hour), Channel: domain.ChannelEmail, OK: true, Message: "sent"},
		},
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now,
	}
}

type handlerFixture struct {
	store   *mockAPIStore
	proc    *mockRunProcessor
	rebuild *mockAPIRebuilder
	handler *Handler
}

func newHandlerFixture() *handlerFixture {
	store := &mockAPIStore{}
	proc := &mockRunProcessor{run: testRun()}
	rebuild := &mockAPIRebuilder{}
	return &handlerFixture{
		store:   store,
		proc:    proc,
		rebuild: rebuild,
		handler: NewHandler(store, proc, rebuild, 30, 100),
	}
}

func (f *handlerFixture) do(method, target string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth_Simple(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeJSON[HealthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	f := newHandlerFixture()
	f.handler.WithHealthChecker(&mockHealthChecker{})

	rec := f.do(http.MethodGet, "/health?verbose=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeJSON[HealthResponse](t, rec)
	if resp.Components["database"] != "healthy" {
		t.Errorf("database = %q, want healthy", resp.Components["database"])
	}
}

func TestHealth_VerboseDegraded(t *testing.T) {
	f := newHandlerFixture()
	f.handler.WithHealthChecker(&mockHealthChecker{err: errors.New("connection refused")})

	rec := f.do(http.MethodGet, "/health?verbose=true", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	resp := decodeJSON[HealthResponse](t, rec)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestEnroll_Created(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/enroll", `{"tenant":"tenant-1","campaign":"camp-1","lead":"lead-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body: %s", rec.Code, rec.Body.String())
	}

	resp := decodeJSON[RunResponse](t, rec)
	if resp.Key != "camp-1__lead-1" {
		t.Errorf("key = %q, want camp-1__lead-1", resp.Key)
	}

	f.proc.mu.Lock()
	defer f.proc.mu.Unlock()
	if len(f.proc.enrolled) != 1 || f.proc.enrolled[0] != "tenant-1/camp-1/lead-1" {
		t.Errorf("enrolled = %v", f.proc.enrolled)
	}
	if f.proc.enrollForce {
		t.Error("force should default to false")
	}
}

func TestEnroll_ForceFlagPassedThrough(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/enroll", `{"tenant":"tenant-1","campaign":"camp-1","lead":"lead-1","force":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	f.proc.mu.Lock()
	defer f.proc.mu.Unlock()
	if !f.proc.enrollForce {
		t.Error("force flag not passed through")
	}
}

func TestEnroll_InvalidJSON(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/enroll", `{"tenant":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEnroll_ValidationFailure(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/enroll", `{"tenant":"tenant-1","campaign":"camp-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeJSON[ErrorResponse](t, rec)
	if resp.Error != "lead is required" {
		t.Errorf("error = %q, want lead is required", resp.Error)
	}
}

func TestEnroll_ProcessorError(t *testing.T) {
	f := newHandlerFixture()
	f.proc.enrollErr = errors.New("database down")

	rec := f.do(http.MethodPost, "/enroll", `{"tenant":"tenant-1","campaign":"camp-1","lead":"lead-1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListRuns_RequiresTenant(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodGet, "/runs", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListRuns_ReturnsTenantRuns(t *testing.T) {
	f := newHandlerFixture()
	f.store.runs = []domain.SenderRun{testRun()}

	rec := f.do(http.MethodGet, "/runs?tenant=tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decodeJSON[ListRunsResponse](t, rec)
	if len(resp.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(resp.Runs))
	}
	got := resp.Runs[0]
	if got.Key != "camp-1__lead-1" || got.Status != "pending" || got.StepIndex != 1 {
		t.Errorf("run = %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Channel != "email" {
		t.Errorf("history = %+v", got.History)
	}
}

func TestListRuns_StatusFilter(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodGet, "/runs?tenant=tenant-1&status=failed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.lastStatus != domain.RunStatusFailed {
		t.Errorf("status filter = %q, want failed", f.store.lastStatus)
	}
}

func TestListRuns_UnknownStatusRejected(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodGet, "/runs?tenant=tenant-1&status=archived", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListRuns_Pagination(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodGet, "/runs?tenant=tenant-1&limit=25&offset=50", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.lastLimit != 25 || f.store.lastOffset != 50 {
		t.Errorf("limit=%d offset=%d, want 25/50", f.store.lastLimit, f.store.lastOffset)
	}
}

func TestListRuns_LimitCapped(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodGet, "/runs?tenant=tenant-1&limit=5000", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRetry_Success(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/runs/camp-1__lead-1/retry?tenant=tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
}

func TestRetry_RequiresTenant(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/runs/camp-1__lead-1/retry", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRetry_UnknownRun(t *testing.T) {
	f := newHandlerFixture()
	f.proc.retryErr = sender.ErrRunNotFound

	rec := f.do(http.MethodPost, "/runs/missing/retry?tenant=tenant-1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRetry_NotRetryableConflict(t *testing.T) {
	f := newHandlerFixture()
	f.proc.retryErr = sender.ErrNotRetryable

	rec := f.do(http.MethodPost, "/runs/camp-1__lead-1/retry?tenant=tenant-1", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestOverride_EmptyBodyAllowed(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/runs/camp-1__lead-1/override?tenant=tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
}

func TestOverride_ReasonPassedThrough(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/runs/camp-1__lead-1/override?tenant=tenant-1", `{"reason":"lead asked to pause"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.proc.mu.Lock()
	defer f.proc.mu.Unlock()
	if f.proc.lastReason != "lead asked to pause" {
		t.Errorf("reason = %q", f.proc.lastReason)
	}
}

func TestOverride_UnknownRun(t *testing.T) {
	f := newHandlerFixture()
	f.proc.overrideErr = sender.ErrRunNotFound

	rec := f.do(http.MethodPost, "/runs/missing/override?tenant=tenant-1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProcess_AggregatesOutcomes(t *testing.T) {
	f := newHandlerFixture()
	f.proc.results = []sender.RunResult{
		{Key: "a", Action: sender.ResultSent},
		{Key: "b", Action: sender.ResultSent},
		{Key: "c", Action: sender.ResultSkipped},
		{Key: "d", Action: sender.ResultSent, Err: errors.New("gateway timeout")},
	}

	rec := f.do(http.MethodPost, "/process?tenant=tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decodeJSON[ProcessResponse](t, rec)
	if resp.Processed != 4 {
		t.Errorf("processed = %d, want 4", resp.Processed)
	}
	if resp.Outcomes["sent"] != 2 || resp.Outcomes["skipped"] != 1 || resp.Outcomes["error"] != 1 {
		t.Errorf("outcomes = %v", resp.Outcomes)
	}
}

func TestProcess_CampaignScoped(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/process?tenant=tenant-1&campaign=camp-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.proc.mu.Lock()
	defer f.proc.mu.Unlock()
	if f.proc.lastCampaign != "camp-1" {
		t.Errorf("campaign = %q, want camp-1", f.proc.lastCampaign)
	}
}

func TestProcess_RequiresTenant(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/process", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRebuild_ReturnsStats(t *testing.T) {
	f := newHandlerFixture()
	f.rebuild.stats = audience.ActionStats{
		BuildStats: audience.BuildStats{
			ScannedEvents:    40,
			Entities:         5,
			ProfilesUpserted: 5,
		},
		HotTransitions:  2,
		ActionsAppended: 4,
	}

	rec := f.do(http.MethodPost, "/profiles/rebuild?tenant=tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decodeJSON[RebuildResponse](t, rec)
	if resp.ScannedEvents != 40 || resp.HotTransitions != 2 || resp.ActionsAppended != 4 {
		t.Errorf("response = %+v", resp)
	}

	f.rebuild.mu.Lock()
	defer f.rebuild.mu.Unlock()
	if f.rebuild.lastTenant != "tenant-1" || f.rebuild.lastWithin != 30 {
		t.Errorf("tenant=%q within=%d", f.rebuild.lastTenant, f.rebuild.lastWithin)
	}
}

func TestAppendEvent_Accepted(t *testing.T) {
	f := newHandlerFixture()

	body := `{"tenant":"tenant-1","actor":"camp-1__lead-1","campaign":"camp-1","type":"demo.booked","weight":8,"ts":"2025-06-01T12:00:00Z"}`
	rec := f.do(http.MethodPost, "/events", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rec.Code, rec.Body.String())
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if len(f.store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.store.events))
	}
	ev := f.store.events[0]
	if ev.Actor != "camp-1__lead-1" || ev.Weight != 8 || ev.CampaignID != "camp-1" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.TS.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("ts = %v", ev.TS)
	}
}

func TestAppendEvent_ValidationFailure(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/events", `{"tenant":"tenant-1","actor":"a","type":"x","weight":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAppendEvent_OversizedBodyRejected(t *testing.T) {
	f := newHandlerFixture()

	body := `{"tenant":"tenant-1","actor":"camp-1__lead-1","type":"` + strings.Repeat("x", maxRequestBodySize) + `","weight":1}`
	rec := f.do(http.MethodPost, "/events", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	f := newHandlerFixture()

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodDelete, "/runs"},
		{http.MethodPost, "/runs//retry"},
		{http.MethodPost, "/runs/key/unknown"},
	}
	for _, tt := range tests {
		rec := f.do(tt.method, tt.target, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tt.method, tt.target, rec.Code)
		}
	}
}

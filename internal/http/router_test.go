package httpx

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sitedrop/sitedrop/internal/domain"
	"github.com/sitedrop/sitedrop/internal/repository"
	"github.com/sitedrop/sitedrop/internal/service/deploy"
	"github.com/sitedrop/sitedrop/internal/service/janitor"
	"github.com/sitedrop/sitedrop/internal/service/staging"
	"github.com/sitedrop/sitedrop/pkg/config"
)

type quotaRepoStub struct {
	state domain.QuotaState
}

func (s *quotaRepoStub) LoadQuotaState(context.Context) (domain.QuotaState, error) {
	return s.state, nil
}

func (s *quotaRepoStub) SaveQuotaState(_ context.Context, state domain.QuotaState) error {
	s.state = state
	return nil
}

type deploymentRepoStub struct {
	rows []domain.Deployment
}

func (s *deploymentRepoStub) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	s.rows = append(s.rows, *d)
	return nil
}

func (s *deploymentRepoStub) ListDeployments(context.Context, int) ([]domain.Deployment, error) {
	return s.rows, nil
}

var _ repository.QuotaRepository = (*quotaRepoStub)(nil)
var _ repository.DeploymentRepository = (*deploymentRepoStub)(nil)

func newTestRouter(t *testing.T) (*Router, *quotaRepoStub, *deploymentRepoStub) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	manager, err := staging.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("staging.NewManager: %v", err)
	}
	pipeline := staging.New(manager, logger)
	jan := janitor.New(os.RemoveAll, logger)
	t.Cleanup(jan.Close)

	quota := &quotaRepoStub{}
	history := &deploymentRepoStub{}
	cfg := config.APIConfig{DeployDomain: "sitedrop.test", CleanupDelay: time.Hour}
	svc := deploy.New(quota, history, pipeline, jan, deploy.StaticPublisher{Domain: cfg.DeployDomain}, nil, logger, cfg)

	router := NewRouter(logger, svc, NewMemoryRateLimiter(), func(context.Context) error { return nil }, time.Minute)
	t.Cleanup(router.Close)
	return router, quota, history
}

func postDeploy(t *testing.T, router *Router, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/deploy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func deployPayload(name string) map[string]string {
	return map[string]string{
		"name":     name,
		"fileData": base64.StdEncoding.EncodeToString([]byte("<h1>hi</h1>")),
		"fileName": name + ".html",
	}
}

func TestDeployEndpointSuccess(t *testing.T) {
	router, quota, _ := newTestRouter(t)

	rec := postDeploy(t, router, deployPayload("demo"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success flag, got %v", body)
	}
	if body["url"] != "https://demo.sitedrop.test" {
		t.Fatalf("unexpected url %v", body["url"])
	}
	if body["remainingQuota"] != float64(49) {
		t.Fatalf("expected 49 remaining, got %v", body["remainingQuota"])
	}
	if quota.state.QuotaUsed != 1 {
		t.Fatalf("expected quota consumed, used = %d", quota.state.QuotaUsed)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("expected rate limit headers")
	}
}

func TestDeployEndpointCooldown(t *testing.T) {
	router, _, _ := newTestRouter(t)

	if rec := postDeploy(t, router, deployPayload("demo")); rec.Code != http.StatusOK {
		t.Fatalf("first deploy failed: %d", rec.Code)
	}
	rec := postDeploy(t, router, deployPayload("demo"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["cooldown"] != true {
		t.Fatalf("expected cooldown flag, got %v", body)
	}
	if body["remainingQuota"] != float64(49) {
		t.Fatalf("expected 49 remaining, got %v", body["remainingQuota"])
	}
	secs, ok := body["remainingSeconds"].(float64)
	if !ok || secs <= 0 || secs > 300 {
		t.Fatalf("unexpected remainingSeconds %v", body["remainingSeconds"])
	}
	if body["error"] == "" {
		t.Fatal("expected error message")
	}
}

func TestDeployEndpointStatusProbe(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := postDeploy(t, router, map[string]string{"name": "quota-check"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["remainingQuota"] != float64(50) {
		t.Fatalf("expected 50 remaining, got %v", body["remainingQuota"])
	}
	if body["cooldown"] != false {
		t.Fatalf("expected no cooldown, got %v", body["cooldown"])
	}
	if _, ok := body["success"]; ok {
		t.Fatal("status probe must not report a deploy result")
	}
}

func TestDeployEndpointMissingFile(t *testing.T) {
	router, quota, _ := newTestRouter(t)

	rec := postDeploy(t, router, map[string]string{"name": "demo"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == "" {
		t.Fatal("expected error message")
	}
	if quota.state.QuotaUsed != 0 {
		t.Fatalf("missing file must not consume quota, used = %d", quota.state.QuotaUsed)
	}
}

func TestDeployEndpointStagingFailure(t *testing.T) {
	router, quota, _ := newTestRouter(t)

	rec := postDeploy(t, router, map[string]string{
		"name":     "demo",
		"fileData": "not-base64!!",
		"fileName": "demo.html",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == "" {
		t.Fatal("expected error message")
	}
	if body["remainingQuota"] != float64(50) {
		t.Fatalf("expected quota untouched in body, got %v", body["remainingQuota"])
	}
	if quota.state.QuotaUsed != 0 {
		t.Fatalf("staging failure must not consume quota, used = %d", quota.state.QuotaUsed)
	}
}

func TestDeployEndpointInvalidJSON(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/deploy", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeployEndpointMethodNotAllowed(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/deploy", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestDeploymentsEndpoint(t *testing.T) {
	router, _, history := newTestRouter(t)
	history.rows = []domain.Deployment{{
		ID:        "dep-1",
		SiteName:  "demo",
		URL:       "https://demo.sitedrop.test",
		Status:    deploy.StatusSucceeded,
		CreatedAt: time.Date(2026, time.January, 2, 15, 4, 5, 0, time.UTC),
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/deployments?limit=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rows []domain.Deployment
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 1 || rows[0].SiteName != "demo" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", body["status"])
	}
}

func TestRateLimitEnforced(t *testing.T) {
	router, _, _ := newTestRouter(t)

	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimitDeploy; i++ {
		last = postDeploy(t, router, map[string]string{"name": "quota-check"})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding limit, got %d", last.Code)
	}
	body := decodeBody(t, last)
	if body["error"] != "rate limit exceeded" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-progress/internal/middleware"
	"smart-progress/internal/model"
	"smart-progress/internal/scheduler"
	"smart-progress/internal/service"
	"smart-progress/internal/store"
)

type fakeHealth struct{ status string }

func (f fakeHealth) Check(context.Context) service.HealthReport {
	return service.HealthReport{Status: f.status}
}

type fakeJobs struct{}

func (f *fakeJobs) Status() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: "daily_report", State: scheduler.StateIdle}}
}

type fakeReports struct{ daily map[string]model.DailyReport }

func (f fakeReports) Daily(_ context.Context, date string) (model.DailyReport, error) {
	r, ok := f.daily[date]
	if !ok {
		return model.DailyReport{}, store.ErrNotFound
	}
	return r, nil
}

func (f fakeReports) Weekly(context.Context, string) (model.WeeklyReport, error) {
	return model.WeeklyReport{}, errors.New("db down")
}

type fakeDirectory struct{ merged []string }

func (f *fakeDirectory) List(context.Context) ([]model.Identity, error) { return nil, nil }

func (f *fakeDirectory) Merge(_ context.Context, fs model.IdentitySpace, fid string, ts model.IdentitySpace, tid string) (model.Identity, error) {
	f.merged = append(f.merged, string(fs)+":"+fid+"->"+string(ts)+":"+tid)
	return model.Identity{ID: 1, DisplayName: "Alice"}, nil
}

var secret = []byte("test-secret")

func setupRouter(t *testing.T, health string, jobs *fakeJobs, dir *fakeDirectory) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	reports := fakeReports{daily: map[string]model.DailyReport{"2024-03-13": {Date: "2024-03-13", CompletionRate: 0.5}}}
	NewOpsHandler(fakeHealth{status: health}, jobs, reports, dir).Mount(r, middleware.JWTAuth(secret))
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		tok, err := middleware.IssueToken(secret, "ops", 0)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	for _, tc := range []struct {
		status string
		code   int
	}{
		{service.Healthy, http.StatusOK},
		{service.Degraded, http.StatusOK},
		{service.Unhealthy, http.StatusServiceUnavailable},
	} {
		r := setupRouter(t, tc.status, &fakeJobs{}, &fakeDirectory{})
		w := do(t, r, http.MethodGet, "/healthz", "", false)
		assert.Equal(t, tc.code, w.Code, tc.status)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	r := setupRouter(t, service.Healthy, &fakeJobs{}, &fakeDirectory{})
	w := do(t, r, http.MethodGet, "/api/jobs", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/api/jobs", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var got []scheduler.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "daily_report", got[0].Name)
}

func TestReports(t *testing.T) {
	r := setupRouter(t, service.Healthy, &fakeJobs{}, &fakeDirectory{})

	w := do(t, r, http.MethodGet, "/api/reports/daily/2024-03-13", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.DailyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 0.5, got.CompletionRate)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/reports/daily/2024-03-14", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/reports/daily/yesterday", "", true).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, r, http.MethodGet, "/api/reports/weekly/2024-03-11", "", true).Code)
}

func TestLinkIdentity(t *testing.T) {
	dir := &fakeDirectory{}
	r := setupRouter(t, service.Healthy, &fakeJobs{}, dir)

	w := do(t, r, http.MethodPost, "/api/identities/link", `{"from":"tracker:7","to":"chat:U1"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"tracker:7->chat:U1"}, dir.merged)

	w = do(t, r, http.MethodPost, "/api/identities/link", `{"from":"email:a@b","to":"chat:U1"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/identities", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

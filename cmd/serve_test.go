package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbase/intel-cli/internal/model"
)

type fakeRunner struct {
	singleResult model.AgencyResult
	singleErr    error
	batchResults []model.AgencyResult
	batchErr     error

	singleCalls []string
	batchCalls  int
}

func (f *fakeRunner) RunSingle(_ context.Context, agencyID string) (model.AgencyResult, error) {
	f.singleCalls = append(f.singleCalls, agencyID)
	return f.singleResult, f.singleErr
}

func (f *fakeRunner) RunBatch(_ context.Context) ([]model.AgencyResult, error) {
	f.batchCalls++
	return f.batchResults, f.batchErr
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServe_Health(t *testing.T) {
	rec := doRequest(t, newRouter(&fakeRunner{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_CORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/procurement-search", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	newRouter(&fakeRunner{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServe_SingleAgency(t *testing.T) {
	runner := &fakeRunner{singleResult: model.AgencyResult{
		AgencyID:           "ag-1",
		AgencyName:         "Metro Transit",
		SearchRunID:        "run-1",
		OpportunitiesFound: 3,
		Confidence:         0.82,
		PhasesCompleted:    1,
	}}

	rec := doRequest(t, newRouter(runner), http.MethodPost, "/api/procurement-search",
		`{"agencyId": "ag-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ag-1"}, runner.singleCalls)
	assert.Zero(t, runner.batchCalls)

	var resp struct {
		Success   bool                 `json:"success"`
		Processed int                  `json:"processed"`
		Results   []model.AgencyResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Processed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Metro Transit", resp.Results[0].AgencyName)
}

func TestServe_BatchMode(t *testing.T) {
	runner := &fakeRunner{batchResults: []model.AgencyResult{
		{AgencyID: "ag-1"},
		{AgencyID: "ag-2", Error: "create search run failed"},
	}}

	rec := doRequest(t, newRouter(runner), http.MethodPost, "/api/procurement-search",
		`{"mode": "batch"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.batchCalls)

	var resp struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Processed)
}

func TestServe_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"agencyId":`},
		{"missing agencyId for single", `{}`},
		{"unknown mode", `{"mode": "firehose"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			rec := doRequest(t, newRouter(runner), http.MethodPost, "/api/procurement-search", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, runner.singleCalls)
			assert.Zero(t, runner.batchCalls)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestServe_RunnerFailureReturns500(t *testing.T) {
	runner := &fakeRunner{singleErr: errors.New("agency not found: ag-404")}

	rec := doRequest(t, newRouter(runner), http.MethodPost, "/api/procurement-search",
		`{"agencyId": "ag-404"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "ag-404")
}

func TestServe_BatchFailureReturns500(t *testing.T) {
	runner := &fakeRunner{batchErr: errors.New("list batch agencies: connection refused")}

	rec := doRequest(t, newRouter(runner), http.MethodPost, "/api/procurement-search",
		`{"mode": "batch"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

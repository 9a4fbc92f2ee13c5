package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/store"
)

func TestBuildRouter_HealthEndpoint(t *testing.T) {
	router := buildRouter(store.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_SourcesEndpoint(t *testing.T) {
	st := store.NewMemory()
	until := time.Now().UTC().Add(time.Hour)
	st.SeedSource(model.StructuredSource{
		SourceKey:           "ca_wage_table",
		URL:                 "https://dir.ca.gov/wages.csv",
		Format:              model.FormatCSV,
		Active:              true,
		ConsecutiveFailures: 5,
		CircuitOpenUntil:    &until,
	})

	router := buildRouter(st)
	req := httptest.NewRequest(http.MethodGet, "/sources", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var got []sourceStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "ca_wage_table", got[0].SourceKey)
	assert.True(t, got[0].CircuitOpen)
	assert.Equal(t, 5, got[0].ConsecutiveFailures)
}

func TestBuildRouter_ReviewsEndpoint(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.EnqueueReview(context.Background(), model.ReviewItem{
		ID:             "rev-1",
		Reason:         model.ReasonWageDecrease,
		SourceKey:      "ca_wage_table",
		JurisdictionID: "ca:california",
		Category:       "minimum_wage",
		OldValue:       "$17.50 per hour",
		NewValue:       "$12.00 per hour",
	}))

	router := buildRouter(st)
	req := httptest.NewRequest(http.MethodGet, "/reviews", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var got []model.ReviewItem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, model.ReasonWageDecrease, got[0].Reason)
}

func TestSourceStatusFrom_ClosedCircuit(t *testing.T) {
	s := model.StructuredSource{SourceKey: "wa_lni", Active: true}
	got := sourceStatusFrom(s, time.Now().UTC())
	assert.False(t, got.CircuitOpen)
	assert.False(t, got.PendingReview)
}

func TestSourceStatusFrom_PendingInitialReview(t *testing.T) {
	s := model.StructuredSource{SourceKey: "nyc_dca", Active: true, RequiresInitialReview: true}
	got := sourceStatusFrom(s, time.Now().UTC())
	assert.True(t, got.PendingReview)
}

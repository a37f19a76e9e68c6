package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/variantly/variantly/internal/experiments"
	"github.com/variantly/variantly/internal/experiments/store"
	"github.com/variantly/variantly/internal/server"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	registry := experiments.NewRegistry(zap.NewNop(), store.NewMemoryStore(), nil)
	srv := server.NewServer(zap.NewNop(), registry)
	return srv.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerBody(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":   id,
		"type": "presentation",
		"name": "Homepage CTA",
		"variations": map[string]interface{}{
			"control":     map[string]interface{}{},
			"treatment_1": map[string]interface{}{},
		},
		"distribution": []map[string]interface{}{
			{"variation": "control", "weight": 0.5},
			{"variation": "treatment_1", "weight": 0.5},
		},
	}
}

func TestHealthCheck(t *testing.T) {
	router := setupRouter()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRegisterExperiment(t *testing.T) {
	router := setupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("exp1"))
	require.Equal(t, http.StatusCreated, w.Code)

	var exp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exp))
	assert.Equal(t, "exp1", exp["id"])
	assert.Equal(t, "active", exp["status"])
	assert.Equal(t, "control", exp["control"])
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	router := setupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("dup"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("dup"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}

func TestRegisterValidation(t *testing.T) {
	router := setupRouter()
	// Missing required name and variations.
	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments", map[string]interface{}{"id": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetExperimentNotFound(t *testing.T) {
	router := setupRouter()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/experiments/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListExperiments(t *testing.T) {
	router := setupRouter()
	doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("list1"))
	doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("list2"))

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/experiments", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["experiments"], 2)
}

func TestEndExperiment(t *testing.T) {
	router := setupRouter()
	doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("ender"))

	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments/ender/end", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/experiments/ghost/end", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssignAndGetAssignment(t *testing.T) {
	router := setupRouter()
	doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("assigner"))

	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments/assigner/assign",
		map[string]interface{}{"subject_id": "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	variation := resp["variation"]
	assert.Contains(t, []string{"control", "treatment_1"}, variation)

	// Repeated assignment through the API is idempotent too.
	for i := 0; i < 5; i++ {
		w = doJSON(t, router, http.MethodPost, "/api/v1/experiments/assigner/assign",
			map[string]interface{}{"subject_id": "u1"})
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, variation, resp["variation"])
	}

	// Read-only lookup.
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/experiments/assigner/assignment?subject_id=u1", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	assert.Equal(t, variation, resp["variation"])

	// Unknown subject has no assignment.
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/experiments/assigner/assignment?subject_id=stranger", nil)
	w2 = httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusNotFound, w2.Code)
}

func TestAssignUnknownExperimentSoftFails(t *testing.T) {
	router := setupRouter()
	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments/ghost/assign",
		map[string]interface{}{"subject_id": "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "control", resp["variation"])
}

func TestRecordEventAndResults(t *testing.T) {
	router := setupRouter()
	doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("funnel"))

	for i := 0; i < 40; i++ {
		subject := fmt.Sprintf("u%d", i)
		for _, et := range []string{"impression", "view"} {
			w := doJSON(t, router, http.MethodPost, "/api/v1/experiments/funnel/events",
				map[string]interface{}{"subject_id": subject, "event_type": et})
			require.Equal(t, http.StatusNoContent, w.Code)
		}
	}
	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments/funnel/events",
		map[string]interface{}{
			"subject_id": "u0",
			"event_type": "conversion",
			"payload":    map[string]interface{}{"revenue": 19.99},
		})
	require.Equal(t, http.StatusNoContent, w.Code)

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/experiments/funnel/results", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results struct {
		ExperimentID string `json:"experimentId"`
		Control      string `json:"control"`
		Variations   map[string]struct {
			Counters struct {
				Impressions int64  `json:"impressions"`
				Views       int64  `json:"views"`
				Revenue     string `json:"revenue"`
			} `json:"counters"`
			Rates struct {
				ViewRate float64 `json:"viewRate"`
			} `json:"rates"`
		} `json:"variations"`
		Lift         map[string]map[string]float64         `json:"lift"`
		Significance map[string]map[string]json.RawMessage `json:"significance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Equal(t, "funnel", results.ExperimentID)
	assert.Equal(t, "control", results.Control)

	totalImpressions := int64(0)
	for _, v := range results.Variations {
		totalImpressions += v.Counters.Impressions
		assert.InDelta(t, 1.0, v.Rates.ViewRate, 1e-9)
	}
	assert.Equal(t, int64(40), totalImpressions)
	assert.Contains(t, results.Lift, "treatment_1")
	assert.Contains(t, results.Significance, "treatment_1")
}

func TestRecordEventValidation(t *testing.T) {
	router := setupRouter()
	doJSON(t, router, http.MethodPost, "/api/v1/experiments", registerBody("strict"))

	w := doJSON(t, router, http.MethodPost, "/api/v1/experiments/strict/events",
		map[string]interface{}{"subject_id": "u1", "event_type": "purchase"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/experiments/strict/events",
		map[string]interface{}{"event_type": "view"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResultsNotFound(t *testing.T) {
	router := setupRouter()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/experiments/ghost/results", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contesting "github.com/tidemark/conflux/internal/testing"
	"github.com/tidemark/conflux/ledger"
	"github.com/tidemark/conflux/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *store.Store, *ledger.Ledger) {
	t.Helper()
	db := contesting.CreateTestDB(t)
	return New(db, nil), store.NewStore(db), ledger.NewLedger(db, nil)
}

func doGet(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router().ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func seedRecord(t *testing.T, st *store.Store, sourceType, sourceID, canonicalID, title string) {
	t.Helper()
	_, err := st.UpsertNormalized(&store.NormalizedRecord{
		SourceType:  sourceType,
		SourceID:    sourceID,
		CanonicalID: canonicalID,
		Title:       title,
	})
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := doGet(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestGetEntityAcrossSources(t *testing.T) {
	s, st, _ := newTestServer(t)
	seedRecord(t, st, "csv", "csv_btc-bitcoin", "bitcoin", "Bitcoin")
	seedRecord(t, st, "api_api1", "api_api1_r1", "bitcoin", "Bitcoin (BTC)")
	seedRecord(t, st, "rss", "rss_abc", "ethereum", "Ethereum Update")

	w, body := doGet(t, s, "/api/v1/entities/bitcoin")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["sources"])

	w, _ = doGet(t, s, "/api/v1/entities/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRecordsFilters(t *testing.T) {
	s, st, _ := newTestServer(t)
	seedRecord(t, st, "csv", "csv_1", "bitcoin", "Bitcoin")
	seedRecord(t, st, "rss", "rss_1", "bitcoin", "Bitcoin News")

	w, body := doGet(t, s, "/api/v1/records?source_type=csv")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = doGet(t, s, "/api/v1/records")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	w, _ = doGet(t, s, "/api/v1/records?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	since := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w, body = doGet(t, s, "/api/v1/records?since="+since)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestListRunsAndCheckpoints(t *testing.T) {
	s, _, led := newTestServer(t)
	runID, err := led.StartRun("csv", nil)
	require.NoError(t, err)
	require.NoError(t, led.CompleteRun(runID, "csv", ledger.StatusSuccess,
		ledger.RunCounts{Processed: 3}, ""))

	w, body := doGet(t, s, "/api/v1/runs")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = doGet(t, s, "/api/v1/checkpoints")
	assert.Equal(t, http.StatusOK, w.Code)
	checkpoints, ok := body["checkpoints"].([]interface{})
	require.True(t, ok)
	assert.Len(t, checkpoints, 1)
}

func TestListDriftEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := doGet(t, s, "/api/v1/drift")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["count"])
}

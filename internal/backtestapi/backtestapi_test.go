package backtestapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(zap.NewNop())
}

func assertNotImplemented(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] != "not implemented" {
		t.Fatalf("error = %q, want %q", body["error"], "not implemented")
	}
}

func TestRunReturnsNotImplemented(t *testing.T) {
	s := testServer(t)
	req := RunRequest{Symbol: "BTC-USD", Timeframe: "1m", StartingCap: 10000}
	body, _ := json.Marshal(req)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/backtest/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, r)
	assertNotImplemented(t, rec)
}

func TestRunRejectsMalformedBody(t *testing.T) {
	s := testServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/backtest/run", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d for malformed body", rec.Code, http.StatusBadRequest)
	}
}

func TestOptimizeReturnsNotImplemented(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(OptimizeRequest{Base: RunRequest{Symbol: "ETH-USD"}})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/backtest/optimize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, r)
	assertNotImplemented(t, rec)
}

func TestResultsByIDReturnsNotImplementedWithID(t *testing.T) {
	s := testServer(t)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/backtest/results/abc-123", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, r)
	assertNotImplemented(t, rec)

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["route"] != "results/abc-123" {
		t.Fatalf("route = %q, want results/abc-123", body["route"])
	}
}

func TestListBestPresetsReturnNotImplemented(t *testing.T) {
	s := testServer(t)
	for _, path := range []string{"/api/v1/backtest/list", "/api/v1/backtest/best", "/api/v1/backtest/presets"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, r)
		assertNotImplemented(t, rec)
	}
}

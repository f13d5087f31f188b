package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"
	"github.com/RobertoIHH/MQ7ServerWifi/services"

	"go.uber.org/zap/zaptest"
)

type stubRelay struct {
	snapshot  models.Snapshot
	err       error
	requested []models.Mode
}

func (s *stubRelay) Snapshot() models.Snapshot { return s.snapshot }

func (s *stubRelay) RequestModeChange(mode models.Mode) error {
	s.requested = append(s.requested, mode)
	return s.err
}

type testServer struct {
	relay *stubRelay
	store *services.FileLogStore
	http  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := services.NewFileLogStore(t.TempDir(), time.UTC, logger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	relay := &stubRelay{snapshot: models.Snapshot{LastData: json.RawMessage(`{}`), CurrentGas: models.ModeCO}}
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	return &testServer{
		relay: relay,
		store: store,
		http:  NewRouter(NewServer(relay, store, logger), ws, ""),
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.http.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr, out
}

func (s *testServer) appendRecord(t *testing.T, at time.Time, gas models.Mode, ppm *float64, reported string) {
	t.Helper()
	data := map[string]any{"timestamp": at.UnixMilli()}
	if ppm != nil {
		data["ppm"] = *ppm
	}
	if reported != "" {
		data["gas"] = reported
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m, err := models.ParseMeasurement(raw)
	if err != nil {
		t.Fatalf("measurement: %v", err)
	}
	rec := models.NewRecord(m, gas, at)
	if err := s.store.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func ptr(v float64) *float64 { return &v }

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr, body := s.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response %d %v", rr.Code, body)
	}
}

func TestData(t *testing.T) {
	s := newTestServer(t)
	min, max := 1.0, 4.0
	s.relay.snapshot = models.Snapshot{
		LastData:   json.RawMessage(`{"ppm":4}`),
		CurrentGas: models.ModeH2,
		Status:     models.SensorStatus{Connected: true, LastUpdate: 99},
		MinMax:     models.Extrema{Min: &min, Max: &max},
	}

	rr, body := s.do(t, http.MethodGet, "/api/data", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if body["currentGasType"] != "H2" {
		t.Fatalf("unexpected body: %v", body)
	}
	minMax, _ := body["minMax"].(map[string]any)
	if minMax["min"] != 1.0 || minMax["max"] != 4.0 {
		t.Fatalf("unexpected minMax: %v", body)
	}
	status, _ := body["sensorStatus"].(map[string]any)
	if status["connected"] != true || status["lastUpdate"] != 99.0 {
		t.Fatalf("unexpected sensorStatus: %v", body)
	}
	if _, ok := body["pendingGas"]; ok {
		t.Fatalf("pendingGas should be omitted when nothing is pending")
	}
}

func TestChangeGas(t *testing.T) {
	s := newTestServer(t)

	rr, body := s.do(t, http.MethodPost, "/api/change-gas", `{"gas":"CH4"}`)
	if rr.Code != http.StatusOK || body["success"] != true || body["gas"] != "CH4" {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}
	if len(s.relay.requested) != 1 || s.relay.requested[0] != models.ModeCH4 {
		t.Fatalf("relay not asked: %v", s.relay.requested)
	}

	for _, payload := range []string{`{}`, `{"gas":""}`, `{"gas":"XENON"}`, `{"gas":"co"}`, `not json`} {
		rr, body := s.do(t, http.MethodPost, "/api/change-gas", payload)
		if rr.Code != http.StatusBadRequest || body["error"] == nil {
			t.Errorf("%s: got %d %v, want 400", payload, rr.Code, body)
		}
	}
	if len(s.relay.requested) != 1 {
		t.Fatalf("invalid requests reached the relay: %v", s.relay.requested)
	}

	s.relay.err = services.ErrNoSensor
	rr, body = s.do(t, http.MethodPost, "/api/change-gas", `{"gas":"LPG"}`)
	if rr.Code != http.StatusServiceUnavailable || body["error"] == nil {
		t.Fatalf("got %d %v, want 503", rr.Code, body)
	}

	s.relay.err = errors.New("boom")
	rr, _ = s.do(t, http.MethodPost, "/api/change-gas", `{"gas":"LPG"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rr.Code)
	}

	rr, _ = s.do(t, http.MethodGet, "/api/change-gas", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET change-gas: got %d, want 405", rr.Code)
	}
}

func TestHistoryDates(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(t, http.MethodGet, "/api/history/dates", "")
	if dates, ok := body["dates"].([]any); !ok || len(dates) != 0 {
		t.Fatalf("expected an empty list, got %v", body)
	}

	for _, d := range []int{2, 5, 3} {
		s.appendRecord(t, time.Date(2024, 4, d, 9, 0, 0, 0, time.UTC), models.ModeCO, ptr(1), "CO")
	}
	_, body = s.do(t, http.MethodGet, "/api/history/dates", "")
	dates, _ := body["dates"].([]any)
	if len(dates) != 3 || dates[0] != "2024-04-05" || dates[2] != "2024-04-02" {
		t.Fatalf("unexpected dates: %v", dates)
	}
}

func TestHistoryDay(t *testing.T) {
	s := newTestServer(t)
	day := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	s.appendRecord(t, day, models.ModeCO, ptr(1.5), "CO")
	s.appendRecord(t, day.Add(time.Minute), models.ModeCO, ptr(2.5), "CO")

	rr, body := s.do(t, http.MethodGet, "/api/history/2024-04-10", "")
	if rr.Code != http.StatusOK || body["date"] != "2024-04-10" || body["count"] != 2.0 {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}
	data, _ := body["data"].([]any)
	first, _ := data[0].(map[string]any)
	if first["ppm"] != 1.5 || first["gasType"] != "CO" {
		t.Fatalf("unexpected record: %v", first)
	}

	rr, _ = s.do(t, http.MethodGet, "/api/history/2024-04-11", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing day: got %d, want 404", rr.Code)
	}
	for _, bad := range []string{"2024-4-10", "yesterday", "2024-04-10x"} {
		rr, _ = s.do(t, http.MethodGet, "/api/history/"+bad, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", bad, rr.Code)
		}
	}
}

func TestHistoryDayRepairsFile(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(s.store.Dir(), "2024-04-20.json")
	damaged := "[\n  {\"timestamp\": 1, \"serverTimestamp\": \"2024-04-20T10:00:00.000Z\", \"gasType\": \"CO\", \"ppm\": 3},\n]"
	if err := os.WriteFile(path, []byte(damaged), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rr, body := s.do(t, http.MethodGet, "/api/history/2024-04-20", "")
	if rr.Code != http.StatusOK || body["count"] != 1.0 {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}

	if err := os.WriteFile(path, []byte(`[{"timestamp":`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rr, body = s.do(t, http.MethodGet, "/api/history/2024-04-20", "")
	if rr.Code != http.StatusOK || body["count"] != 0.0 {
		t.Fatalf("an unrepairable day should read as empty, got %d %v", rr.Code, body)
	}
	if data, ok := body["data"].([]any); !ok || len(data) != 0 {
		t.Fatalf("data should be an empty array, got %v", body["data"])
	}
}

func TestHistorySummary(t *testing.T) {
	s := newTestServer(t)
	day := time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)
	s.appendRecord(t, day, models.ModeCO, ptr(1), "CO")
	s.appendRecord(t, day, models.ModeCO, ptr(2), "CO")
	s.appendRecord(t, day, models.ModeCO, nil, "CO")
	s.appendRecord(t, day, models.ModeLPG, ptr(300.123456789), "LPG")

	rr, body := s.do(t, http.MethodGet, "/api/history/2024-04-15/summary", "")
	if rr.Code != http.StatusOK || body["totalRecords"] != 4.0 || body["date"] != "2024-04-15" {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}
	summary, _ := body["summary"].(map[string]any)
	co, _ := summary["CO"].(map[string]any)
	if co["count"] != 3.0 || co["min"] != "0.000000" || co["max"] != "2.000000" || co["avg"] != "1.000000" {
		t.Fatalf("unexpected CO summary: %v", co)
	}
	lpg, _ := summary["LPG"].(map[string]any)
	if lpg["min"] != "300.123457" || lpg["avg"] != "300.123457" {
		t.Fatalf("unexpected LPG summary: %v", lpg)
	}

	rr, _ = s.do(t, http.MethodGet, "/api/history/2024-04-16/summary", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing day: got %d, want 404", rr.Code)
	}
	rr, _ = s.do(t, http.MethodGet, "/api/history/nope/summary", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date: got %d, want 400", rr.Code)
	}
}

func TestHistoryKeepsOddValues(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(s.store.Dir(), "2024-04-21.json")
	content := `[{"timestamp":1,"gasType":"CO","ppm":"7.5","note":"calibrated"},{"timestamp":2,"gasType":"CO","ppm":"oops"}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rr, body := s.do(t, http.MethodGet, "/api/history/2024-04-21", "")
	if rr.Code != http.StatusOK || body["count"] != 2.0 {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}
	data, _ := body["data"].([]any)
	first, _ := data[0].(map[string]any)
	if first["ppm"] != "7.5" || first["note"] != "calibrated" {
		t.Fatalf("record not returned as stored: %v", first)
	}

	rr, body = s.do(t, http.MethodGet, "/api/history/2024-04-21/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary: got %d", rr.Code)
	}
	summary, _ := body["summary"].(map[string]any)
	co, _ := summary["CO"].(map[string]any)
	if co["count"] != 2.0 || co["min"] != "0.000000" || co["max"] != "7.500000" || co["avg"] != "3.750000" {
		t.Fatalf("unexpected CO summary: %v", co)
	}
}

func TestSummarizeKeys(t *testing.T) {
	ppm := 5.0
	summary := Summarize([]*models.Record{
		{GasType: models.ModeH2, PPM: &ppm},
		{Gas: "CO", PPM: &ppm},
		{PPM: &ppm},
		nil,
	})
	for _, key := range []string{"H2", "CO", "unknown"} {
		got, ok := summary[key]
		if !ok || got.Count != 1 || got.Avg != "5.000000" {
			t.Errorf("%s: got %+v", key, got)
		}
	}
	if len(summary) != 3 {
		t.Fatalf("unexpected keys: %v", summary)
	}
}

func TestWebSocketRoute(t *testing.T) {
	s := newTestServer(t)
	rr, _ := s.do(t, http.MethodGet, "/ws", "")
	if rr.Code != http.StatusTeapot {
		t.Fatalf("/ws not routed to the WebSocket handler: %d", rr.Code)
	}
}

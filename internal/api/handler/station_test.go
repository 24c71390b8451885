package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/station"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/workflow"
	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// --- mock Workflow ---

type mockWorkflow struct {
	startFn    func(req models.AnalysisRequest) error
	applyErr   error
	skipErr    error
	feedbackFn func(fb models.Feedback) error
	flowFn     func(ip string) (models.FlowStatus, error)
	snapshot   workflow.Snapshot
	history    []models.HistoryEntry
	resets     int
}

func (m *mockWorkflow) Start(req models.AnalysisRequest) error {
	if m.startFn == nil {
		return nil
	}
	return m.startFn(req)
}
func (m *mockWorkflow) ConfirmApplyFrequencies() error { return m.applyErr }
func (m *mockWorkflow) SkipFrequencies() error         { return m.skipErr }
func (m *mockWorkflow) Reset()                         { m.resets++ }
func (m *mockWorkflow) SubmitFeedback(_ context.Context, fb models.Feedback) error {
	if m.feedbackFn == nil {
		return nil
	}
	return m.feedbackFn(fb)
}
func (m *mockWorkflow) Snapshot() workflow.Snapshot { return m.snapshot }
func (m *mockWorkflow) History(_ context.Context) []models.HistoryEntry {
	return m.history
}
func (m *mockWorkflow) FlowStatus(_ context.Context, ip string) (models.FlowStatus, error) {
	return m.flowFn(ip)
}

// --- helpers ---

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	case nil:
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	r := httptest.NewRequest(http.MethodPost, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

// --- tests ---

func TestAnalyzeHandler_Accepted(t *testing.T) {
	var captured models.AnalysisRequest
	wf := &mockWorkflow{
		startFn: func(req models.AnalysisRequest) error {
			captured = req
			return nil
		},
		snapshot: workflow.Snapshot{RunID: "run-1", Phase: workflow.PhaseAnalyzing, Busy: true},
	}

	rec := postJSON(t, NewAnalyzeHandler(wf), "/api/v1/station/analyze",
		map[string]string{"ip": "10.0.0.7", "mac": "aa:bb:cc:dd:ee:ff"})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.DeviceIP != "10.0.0.7" || captured.DeviceMAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("unexpected request: %+v", captured)
	}
	data := parseData(t, rec)
	if data["phase"] != "analyzing" {
		t.Errorf("unexpected phase: %v", data["phase"])
	}
	if data["run_id"] != "run-1" {
		t.Errorf("unexpected run_id: %v", data["run_id"])
	}
}

func TestAnalyzeHandler_InvalidJSON(t *testing.T) {
	rec := postJSON(t, NewAnalyzeHandler(&mockWorkflow{}), "/api/v1/station/analyze", "{not json")

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestAnalyzeHandler_ValidationError(t *testing.T) {
	wf := &mockWorkflow{startFn: func(models.AnalysisRequest) error {
		return &workflow.ValidationError{Field: "ip", Message: "device IP is required"}
	}}

	rec := postJSON(t, NewAnalyzeHandler(wf), "/api/v1/station/analyze", map[string]string{"ip": ""})

	var env struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if env.Error.Details["field"] != "ip" {
		t.Errorf("expected field ip, got %v", env.Error.Details)
	}
}

func TestAnalyzeHandler_Busy(t *testing.T) {
	wf := &mockWorkflow{startFn: func(models.AnalysisRequest) error {
		return &workflow.TransitionError{Op: "start", Phase: workflow.PhaseAnalyzing}
	}}

	rec := postJSON(t, NewAnalyzeHandler(wf), "/api/v1/station/analyze", map[string]string{"ip": "10.0.0.7"})

	status, code := parseErr(t, rec)
	if status != http.StatusConflict || code != "INVALID_TRANSITION" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestApplyFrequenciesHandler(t *testing.T) {
	wf := &mockWorkflow{snapshot: workflow.Snapshot{Phase: workflow.PhaseEnablingFrequencies}}
	rec := postJSON(t, NewApplyFrequenciesHandler(wf), "/api/v1/station/frequencies/apply", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	wf.applyErr = &workflow.TransitionError{Op: "apply frequencies", Phase: workflow.PhaseIdle}
	rec = postJSON(t, NewApplyFrequenciesHandler(wf), "/api/v1/station/frequencies/apply", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestSkipFrequenciesHandler(t *testing.T) {
	wf := &mockWorkflow{snapshot: workflow.Snapshot{Phase: workflow.PhaseCompleted}}
	rec := postJSON(t, NewSkipFrequenciesHandler(wf), "/api/v1/station/frequencies/skip", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if parseData(t, rec)["phase"] != "completed" {
		t.Error("expected completed snapshot")
	}
}

func TestResetHandler(t *testing.T) {
	wf := &mockWorkflow{snapshot: workflow.Snapshot{Phase: workflow.PhaseIdle}}
	rec := postJSON(t, NewResetHandler(wf), "/api/v1/station/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if wf.resets != 1 {
		t.Errorf("expected one reset, got %d", wf.resets)
	}
}

func TestFeedbackHandler(t *testing.T) {
	var got models.Feedback
	wf := &mockWorkflow{feedbackFn: func(fb models.Feedback) error {
		got = fb
		return nil
	}}

	rec := postJSON(t, NewFeedbackHandler(wf), "/api/v1/station/feedback",
		map[string]string{"comment": "accurate", "rating": "helpful"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Comment != "accurate" || got.Rating != "helpful" {
		t.Errorf("unexpected feedback: %+v", got)
	}
}

func TestFeedbackHandler_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty comment", &workflow.ValidationError{Field: "comment", Message: "comment is required"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"no result", workflow.ErrNoResult, http.StatusConflict, "NO_RESULT"},
		{"duplicate", workflow.ErrFeedbackSubmitted, http.StatusConflict, "FEEDBACK_ALREADY_SUBMITTED"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf := &mockWorkflow{feedbackFn: func(models.Feedback) error { return tc.err }}
			rec := postJSON(t, NewFeedbackHandler(wf), "/api/v1/station/feedback", map[string]string{"comment": "x"})
			status, code := parseErr(t, rec)
			if status != tc.status || code != tc.code {
				t.Errorf("got %d %s, want %d %s", status, code, tc.status, tc.code)
			}
		})
	}
}

func TestHistoryHandler(t *testing.T) {
	wf := &mockWorkflow{history: []models.HistoryEntry{
		{ID: 2, IP: "10.0.0.2", Model: "m5", Status: "success"},
		{ID: 1, IP: "10.0.0.1", Model: "ac", Status: "error"},
	}}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/station/history", nil)
	w := httptest.NewRecorder()
	NewHistoryHandler(wf).ServeHTTP(w, r)

	var env struct {
		Data []models.HistoryEntry `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 || env.Data[0].ID != 2 {
		t.Errorf("unexpected history: %+v", env.Data)
	}
}

func TestStateHandler(t *testing.T) {
	wf := &mockWorkflow{snapshot: workflow.Snapshot{
		Phase:    workflow.PhaseWaitingConnection,
		Busy:     true,
		Progress: &models.Progress{Message: "waiting", MaxWaitSeconds: 360},
	}}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/station/state", nil)
	w := httptest.NewRecorder()
	NewStateHandler(wf).ServeHTTP(w, r)

	data := parseData(t, w)
	progress := data["progress"].(map[string]any)
	if progress["max_wait_seconds"] != float64(360) {
		t.Errorf("unexpected progress: %v", progress)
	}
}

func flowRequest(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/station/flow-status/"+ip, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("ip", ip)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestFlowStatusHandler(t *testing.T) {
	wf := &mockWorkflow{flowFn: func(ip string) (models.FlowStatus, error) {
		return models.FlowStatus{"ip": ip, "online": true}, nil
	}}

	w := httptest.NewRecorder()
	NewFlowStatusHandler(wf).ServeHTTP(w, flowRequest("10.0.0.7"))

	data := parseData(t, w)
	if data["ip"] != "10.0.0.7" || data["online"] != true {
		t.Errorf("unexpected flow status: %v", data)
	}
}

func TestFlowStatusHandler_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"transport", &station.TransportError{Op: station.OpFlowStatus, StatusCode: 503, Status: "Service Unavailable"}, http.StatusBadGateway, "STATION_UNAVAILABLE"},
		{"timeout", &station.TransportError{Op: station.OpFlowStatus, Err: station.ErrTimeout}, http.StatusGatewayTimeout, "STATION_TIMEOUT"},
		{"validation", &workflow.ValidationError{Field: "ip", Message: "device IP is required"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf := &mockWorkflow{flowFn: func(string) (models.FlowStatus, error) { return nil, tc.err }}
			w := httptest.NewRecorder()
			NewFlowStatusHandler(wf).ServeHTTP(w, flowRequest("10.0.0.7"))
			status, code := parseErr(t, w)
			if status != tc.status || code != tc.code {
				t.Errorf("got %d %s, want %d %s", status, code, tc.status, tc.code)
			}
		})
	}
}

func TestFlowStatusHandler_TransportMessage(t *testing.T) {
	wf := &mockWorkflow{flowFn: func(string) (models.FlowStatus, error) {
		return nil, &station.TransportError{Op: station.OpFlowStatus, StatusCode: 404, Status: "Not Found"}
	}}
	w := httptest.NewRecorder()
	NewFlowStatusHandler(wf).ServeHTTP(w, flowRequest("10.0.0.7"))

	if !strings.Contains(w.Body.String(), "Not Found") {
		t.Errorf("expected status text in body, got %s", w.Body.String())
	}
}

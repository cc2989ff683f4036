package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

var (
	_ proctor.Loader    = (*Client)(nil)
	_ proctor.IPLookup  = (*Client)(nil)
	_ violation.Counter = (*Client)(nil)
	_ draft.Remote      = (*Client)(nil)
	_ gateway.Submitter = (*Client)(nil)
)

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "metadata": map[string]string{"request_id": "r"}})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": nil, "error": map[string]string{"code": code, "message": msg}})
}

func TestLoadConfigUnwrapsEnvelope(t *testing.T) {
	assessmentID := uuid.New()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/assessment/"+assessmentID.String() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeError(w, http.StatusUnauthorized, "TOKEN_REQUIRED", "no token")
			return
		}
		writeData(w, http.StatusOK, model.SessionConfig{
			AssessmentID:    assessmentID,
			StartTime:       &start,
			DurationSeconds: 3600,
			MaxTabSwitches:  3,
			TabSwitchCount:  1,
		})
	}))
	defer server.Close()

	c := New(server.URL+"/api/v1/", "", "tok")
	cfg, err := c.LoadConfig(context.Background(), assessmentID)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.StartTime == nil || !cfg.StartTime.Equal(start) {
		t.Fatalf("unexpected start time: %v", cfg.StartTime)
	}
	if cfg.DurationSeconds != 3600 || cfg.TabSwitchCount != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusConflict, "ATTEMPT_SUBMITTED", "sudah dikumpulkan")
	}))
	defer server.Close()

	c := New(server.URL, "", "tok")
	err := c.SaveCode(context.Background(), uuid.New(), model.SaveAnswerRequest{QuestionID: uuid.NewString()})
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "ATTEMPT_SUBMITTED" {
		t.Fatalf("expected ATTEMPT_SUBMITTED, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Temporary() {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestNonJSONErrorFallsBackToStatusText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL, "", "tok").LoadSaved(context.Background(), uuid.New())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if !apiErr.Temporary() || apiErr.Message != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestViolationIncrementsUseDocumentedMethods(t *testing.T) {
	attemptID := uuid.New()
	eventID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body model.ViolationRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EventID != eventID.String() {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "bad body")
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/assessment-attempt/"+attemptID.String()+"/tab-switch":
			writeData(w, http.StatusOK, model.CounterResponse{Count: 2})
		case r.Method == http.MethodPatch && r.URL.Path == "/assessment-attempt/"+attemptID.String()+"/fullscreen-exit":
			writeData(w, http.StatusOK, model.CounterResponse{Count: 5})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	c := New(server.URL, "", "tok")
	ctx := context.Background()

	n, err := c.IncrementTabSwitch(ctx, attemptID, eventID)
	if err != nil || n != 2 {
		t.Fatalf("IncrementTabSwitch = %d, %v", n, err)
	}
	n, err = c.IncrementFullscreenExit(ctx, attemptID, eventID)
	if err != nil || n != 5 {
		t.Fatalf("IncrementFullscreenExit = %d, %v", n, err)
	}
}

func TestSubmitPostsReason(t *testing.T) {
	assessmentID := uuid.New()
	attemptID := uuid.New()
	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		writeData(w, http.StatusOK, model.SubmitResult{
			AttemptID:       attemptID,
			Reason:          req.Reason,
			SubmittedAt:     submitted,
			TimeUsedSeconds: req.TimeUsedSeconds,
		})
	}))
	defer server.Close()

	res, err := New(server.URL, "", "tok").Submit(context.Background(), assessmentID, model.SubmitRequest{
		Reason:          model.ReasonTabSwitch,
		TimeUsedSeconds: 1200,
		AttemptID:       attemptID.String(),
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if res.Reason != model.ReasonTabSwitch || res.TimeUsedSeconds != 1200 || !res.SubmittedAt.Equal(submitted) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGatewayRetriesUnavailableServer(t *testing.T) {
	attemptID := uuid.New()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "sedang sibuk")
			return
		}
		writeData(w, http.StatusOK, model.SubmitResult{AttemptID: attemptID, Reason: model.ReasonTimeUp})
	}))
	defer server.Close()

	g := gateway.New(New(server.URL, "", "tok"), zerolog.Nop())
	res, err := g.Submit(context.Background(), gateway.Request{
		SessionID:    attemptID,
		AssessmentID: uuid.New(),
		Reason:       model.ReasonTimeUp,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if calls.Load() != 2 || res.AttemptID != attemptID {
		t.Fatalf("expected one retry, got %d calls, %+v", calls.Load(), res)
	}
}

func TestPublicIP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"ip": "203.0.113.7"})
	}))
	defer server.Close()

	ip, err := New("http://unused", server.URL+"?format=json", "tok").PublicIP(context.Background())
	if err != nil {
		t.Fatalf("PublicIP error: %v", err)
	}
	if ip != "203.0.113.7" {
		t.Fatalf("unexpected ip %q", ip)
	}

	if _, err := New("http://unused", "", "tok").PublicIP(context.Background()); err == nil {
		t.Fatal("expected an error without a lookup url")
	}
}

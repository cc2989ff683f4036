package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.POST("/submit", handler)
	return r
}

func serve(r *gin.Engine, requestID string) (*httptest.ResponseRecorder, Response) {
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRequestIDKeptWhenPlain(t *testing.T) {
	r := newEngine(func(c *gin.Context) { Success(c, http.StatusOK, nil) })

	w, body := serve(r, "agent-42.retry_1")
	if got := w.Header().Get("X-Request-ID"); got != "agent-42.retry_1" {
		t.Fatalf("expected caller id echoed, got %q", got)
	}
	if body.Metadata.RequestID != "agent-42.retry_1" {
		t.Fatalf("expected caller id in metadata, got %q", body.Metadata.RequestID)
	}
}

func TestRequestIDReplacedWhenUnsafe(t *testing.T) {
	r := newEngine(func(c *gin.Context) { Success(c, http.StatusOK, nil) })

	for _, id := range []string{"bad id\r\nX-Evil: 1", strings.Repeat("a", maxRequestIDLen+1), "ünï"} {
		w, body := serve(r, id)
		got := w.Header().Get("X-Request-ID")
		if got == "" || got == id {
			t.Fatalf("expected %q to be replaced, got %q", id, got)
		}
		if body.Metadata.RequestID != got {
			t.Fatalf("metadata id %q does not match header %q", body.Metadata.RequestID, got)
		}
	}
}

func TestReplayedFlag(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		if c.Query("again") == "1" {
			MarkReplayed(c)
		}
		Success(c, http.StatusOK, gin.H{"ok": true})
	})

	_, first := serve(r, "")
	if first.Metadata.Replayed {
		t.Fatal("first response must not be marked replayed")
	}

	req := httptest.NewRequest(http.MethodPost, "/submit?again=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"replayed":true`) {
		t.Fatalf("expected replayed metadata, got %s", w.Body.String())
	}
}

func TestFailCarriesMessage(t *testing.T) {
	r := newEngine(func(c *gin.Context) { Fail(c, http.StatusConflict, ErrAttemptSubmitted) })

	w, body := serve(r, "")
	if w.Code != http.StatusConflict || body.Error == nil || body.Error.Code != ErrAttemptSubmitted {
		t.Fatalf("unexpected response %d %+v", w.Code, body.Error)
	}
	if body.Error.Message != GetMessage(ErrAttemptSubmitted) {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
}

package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterRefillsAfterInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Second, func() time.Time { return now })

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("expected the first two requests to pass")
	}
	if rl.allow("a") {
		t.Fatal("expected the third request to be limited")
	}
	if !rl.allow("b") {
		t.Fatal("expected a different key to have its own bucket")
	}

	now = now.Add(time.Second)
	if !rl.allow("a") {
		t.Fatal("expected tokens to refill after one interval")
	}
}

func TestRateLimiterCleanupDropsStaleVisitors(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, time.Second, func() time.Time { return now })
	rl.allow("a")

	now = now.Add(4 * time.Minute)
	rl.cleanup()
	if len(rl.visitors) != 0 {
		t.Fatalf("expected stale visitors to be removed, got %d", len(rl.visitors))
	}
}

func TestRateLimiterMiddlewareKeysOnParam(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, time.Minute, func() time.Time { return now }).ByIPAndParam("id")

	r := gin.New()
	r.POST("/attempt/:id", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(id string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/attempt/"+id, nil))
		return w.Code
	}

	if code := do("one"); code != http.StatusNoContent {
		t.Fatalf("first request: got %d", code)
	}
	if code := do("one"); code != http.StatusTooManyRequests {
		t.Fatalf("second request on same attempt: got %d", code)
	}
	if code := do("two"); code != http.StatusNoContent {
		t.Fatalf("other attempt: got %d", code)
	}
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	body := strings.Repeat("question ", 500)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, body) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("expected br encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(plain) != body {
		t.Fatal("decoded body does not match")
	}

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Fatalf("expected small body to pass through, got %q %q", w.Header().Get("Content-Encoding"), w.Body.String())
	}
}

func TestRequirePermission(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "s3cret", JWTExpiry: time.Hour})
	monitorToken, _ := auth.IssueAdminToken(1, []string{string(model.PermissionAssessmentsMonitor)})
	readToken, _ := auth.IssueAdminToken(2, []string{string(model.PermissionAssessmentsRead)})
	studentToken, _ := auth.IssueStudentToken(3)

	r := gin.New()
	r.GET("/monitor", RequireAdminJWT(auth), RequirePermission(model.PermissionAssessmentsMonitor),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"monitor permission", monitorToken, http.StatusNoContent},
		{"read only", readToken, http.StatusForbidden},
		{"student token", studentToken, http.StatusForbidden},
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("got %d, want %d", w.Code, tc.want)
			}
		})
	}
}

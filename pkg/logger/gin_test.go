package logger

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestQuietPath(t *testing.T) {
	cases := []struct {
		path  string
		quiet bool
	}{
		{"/healthz", true},
		{"/media/ch-123", true},
		{"/api/v1/calls", false},
		{"/webhooks/sipai/tools/c1", false},
	}
	for _, tc := range cases {
		if got := quietPath(tc.path); got != tc.quiet {
			t.Errorf("quietPath(%q) = %v, want %v", tc.path, got, tc.quiet)
		}
	}
}

func TestMiddleware_AttachesCallID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/api/v1/calls/:call_id", func(c *gin.Context) {
		FromGin(c).Info("handler ran")
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/calls/c-42", nil))

	out := buf.String()
	if !strings.Contains(out, `"call_id":"c-42"`) {
		t.Fatalf("handler log missing call_id: %s", out)
	}
	if !strings.Contains(out, `"request_id"`) {
		t.Fatalf("handler log missing request_id: %s", out)
	}
}

func TestMiddleware_HealthCheckLogsAtDebug(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	r.GET("/api/v1/calls", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("health check must not log at info: %s", buf.String())
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/calls", nil))
	if !strings.Contains(buf.String(), `"path":"/api/v1/calls"`) {
		t.Fatalf("api request summary missing: %s", buf.String())
	}
}

func TestWithCall(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	WithCall(l, "c-7", "bridge").Info("event")

	out := buf.String()
	if !strings.Contains(out, `"call_id":"c-7"`) || !strings.Contains(out, `"provider":"bridge"`) {
		t.Fatalf("missing correlation fields: %s", out)
	}
}

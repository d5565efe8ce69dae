package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/stagerelay/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestMiddlewaresPassThrough(t *testing.T) {
	testlog.Start(t)

	var sink strings.Builder
	logger := zerolog.New(&sink)

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware("relay-a"))
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}

	out := sink.String()
	if !strings.Contains(out, "admin_request") {
		t.Fatalf("request log missing: %q", out)
	}
	if !strings.Contains(out, `"path":"/stats"`) {
		t.Fatalf("path field missing: %q", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("404 should log at warn: %q", out)
	}
}

func TestInitLoggerTagsRelayName(t *testing.T) {
	testlog.Start(t)

	var sink strings.Builder
	logger := initLogger("relay-a", &sink)
	logger.Info().Msg("logger ready")

	out := sink.String()
	if !strings.Contains(out, "relay-a") {
		t.Fatalf("relay tag missing: %q", out)
	}
	if !strings.Contains(out, "logger ready") {
		t.Fatalf("message missing: %q", out)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func TestNewWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf, "debug", "json")
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("unexpected level: %s", l.GetLevel())
	}

	l.WithField("job", "job-1").Info("job completed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["job"] != "job-1" || entry["msg"] != "job completed" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

func TestNewWithOutputFallsBackToInfo(t *testing.T) {
	l := NewWithOutput(&bytes.Buffer{}, "verbose", "text")
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("unexpected level: %s", l.GetLevel())
	}
}

func TestGinMiddlewareLogsRequests(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf, "info", "json")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(l))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warning" || entry["path"] != "/missing" || entry["status"] != float64(404) {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
}

// newHeaderServer mounts stand-ins for the record, export and tool routes.
func newHeaderServer() *echo.Echo {
	e := echo.New()
	e.Use(Recovery(zerolog.Nop()))
	e.Use(SecurityHeaders())
	e.GET("/api/find_patient", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"patient_id": "PT001"})
	})
	e.GET("/api/export/:dataset", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", []byte("PK"))
	})
	e.POST("/mcp", func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})
	e.GET("/api/hra_status", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "no record for patient")
	})
	e.GET("/api/broken", func(c echo.Context) error { panic("boom") })
	return e
}

func TestSecurityHeaders_EveryResponse(t *testing.T) {
	e := newHeaderServer()
	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/find_patient?patient_id=PT001", http.StatusOK},
		{http.MethodGet, "/api/export/sdoh_resources", http.StatusOK},
		{http.MethodPost, "/mcp", http.StatusAccepted},
		{http.MethodGet, "/api/hra_status", http.StatusNotFound},
		{http.MethodGet, "/api/broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			var body *strings.Reader
			if tt.method == http.MethodPost {
				body = strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
			} else {
				body = strings.NewReader("")
			}
			e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, body))

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			for header, want := range securityHeaders {
				if got := rec.Header().Get(header); got != want {
					t.Errorf("%s: got %q, want %q", header, got, want)
				}
			}
		})
	}
}

func TestSecurityHeaders_ExportKeepsAttachment(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/api/export/:dataset", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="demographics.xlsx"`)
		return c.Blob(http.StatusOK, "application/octet-stream", []byte("PK"))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export/demographics", nil))
	if got := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(got, "demographics.xlsx") {
		t.Errorf("content disposition = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("exports carry patient data and must not be cached, got %q", got)
	}
}

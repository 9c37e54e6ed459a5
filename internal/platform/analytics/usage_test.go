package analytics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"
)

func TestTracker_Record(t *testing.T) {
	tr := NewTracker()
	tr.Record(Call{Key: "GET /api/find_patient", Status: 200, Duration: 10 * time.Millisecond})
	tr.Record(Call{Key: "GET /api/find_patient", Status: 404, Failed: true, Duration: 30 * time.Millisecond})
	tr.Record(Call{Key: "POST /api/sdoh_resources/update", Status: 200, Duration: 20 * time.Millisecond})

	ov := tr.Overview()
	if ov.TotalCalls != 3 || ov.TotalErrs != 1 || ov.UniqueKeys != 2 {
		t.Fatalf("unexpected overview: %+v", ov)
	}
	if ov.AvgLatency != 20*time.Millisecond {
		t.Errorf("avg latency = %s", ov.AvgLatency)
	}

	find := tr.Key("GET /api/find_patient")
	if find == nil {
		t.Fatal("expected find summary")
	}
	if find.ErrorRate != 0.5 {
		t.Errorf("error rate = %v", find.ErrorRate)
	}
	if diff := cmp.Diff(map[int]int64{200: 1, 404: 1}, find.StatusBreakdown); diff != "" {
		t.Errorf("status breakdown (-want +got):\n%s", diff)
	}
	if tr.Key("GET /nope") != nil {
		t.Error("unknown key should be nil")
	}
}

func TestTracker_Top(t *testing.T) {
	tr := NewTracker()
	for key, n := range map[string]int{"a": 1, "b": 3, "c": 3, "d": 2} {
		for i := 0; i < n; i++ {
			tr.Record(Call{Key: key, Status: 200})
		}
	}

	var got []string
	for _, s := range tr.Top(3) {
		got = append(got, s.Key)
	}
	if diff := cmp.Diff([]string{"b", "c", "d"}, got); diff != "" {
		t.Errorf("top keys (-want +got):\n%s", diff)
	}
	if n := len(tr.Top(0)); n != 4 {
		t.Errorf("limit 0 returns all keys, got %d", n)
	}
}

func TestTracker_ObserveTool(t *testing.T) {
	tr := NewTracker()
	tr.ObserveTool("find_patient", false, time.Millisecond)
	tr.ObserveTool("find_patient", true, time.Millisecond)

	s := tr.Key("tool find_patient")
	if s == nil || s.TotalCalls != 2 || s.ErrorRate != 0.5 {
		t.Fatalf("unexpected tool summary: %+v", s)
	}
	if s.StatusBreakdown != nil {
		t.Errorf("tool calls carry no status codes, got %v", s.StatusBreakdown)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.Record(Call{Key: "GET /health", Status: 200})
				_ = tr.Overview()
			}
		}()
	}
	wg.Wait()
	if got := tr.Key("GET /health").TotalCalls; got != 1000 {
		t.Errorf("expected 1000 calls, got %d", got)
	}
}

func TestMiddleware(t *testing.T) {
	tr := NewTracker()
	e := echo.New()
	e.Use(Middleware(tr))
	e.GET("/api/patient/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	e.GET("/api/denied", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden)
	})
	e.GET("/api/broken", func(c echo.Context) error {
		return errors.New("broken")
	})

	for _, path := range []string{"/api/patient/PT001", "/api/patient/PT002", "/api/denied", "/api/broken"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	tests := []struct {
		key    string
		calls  int64
		status int
	}{
		{"GET /api/patient/:id", 2, http.StatusOK},
		{"GET /api/denied", 1, http.StatusForbidden},
		{"GET /api/broken", 1, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s := tr.Key(tt.key)
		if s == nil {
			t.Errorf("%s: not recorded", tt.key)
			continue
		}
		if s.TotalCalls != tt.calls || s.StatusBreakdown[tt.status] != tt.calls {
			t.Errorf("%s: unexpected summary %+v", tt.key, s)
		}
	}
	if tr.Overview().UniqueKeys != 3 {
		t.Errorf("expected 3 keys, got %+v", tr.Top(0))
	}
}

func TestHandler(t *testing.T) {
	tr := NewTracker()
	tr.Record(Call{Key: "GET /health", Status: 200})
	e := echo.New()
	NewHandler(tr).RegisterRoutes(e.Group("/health"))

	tests := []struct {
		path   string
		status int
	}{
		{"/health/usage", http.StatusOK},
		{"/health/usage/top?limit=1", http.StatusOK},
		{"/health/usage/top?limit=-1", http.StatusBadRequest},
		{"/health/usage/top?limit=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/usage", nil))
	var ov Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &ov); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ov.TotalCalls != 1 || len(ov.Top) != 1 || ov.Top[0].Key != "GET /health" {
		t.Errorf("unexpected overview: %+v", ov)
	}
}

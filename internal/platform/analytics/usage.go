// Package analytics keeps in-process request counters for the HTTP surface
// and the tool server.
package analytics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// -- Types --

// Call is a single observed request or tool invocation. Status is the HTTP
// status code; tool calls carry 0 and set Failed directly.
type Call struct {
	Key      string
	Status   int
	Failed   bool
	Duration time.Duration
	At       time.Time
}

type keyStats struct {
	total    int64
	errors   int64
	duration int64 // nanoseconds
	statuses map[int]int64
	lastSeen time.Time
}

// KeySummary aggregates the calls recorded under one key. For HTTP the key is
// the method and route template, e.g. "GET /api/sdoh_resources".
type KeySummary struct {
	Key             string        `json:"key"`
	TotalCalls      int64         `json:"total_calls"`
	ErrorRate       float64       `json:"error_rate"`
	AvgLatency      time.Duration `json:"avg_latency_ns"`
	StatusBreakdown map[int]int64 `json:"status_breakdown,omitempty"`
	LastSeen        time.Time     `json:"last_seen"`
}

// Overview is the tracker-wide summary.
type Overview struct {
	Since      time.Time     `json:"since"`
	TotalCalls int64         `json:"total_calls"`
	TotalErrs  int64         `json:"total_errors"`
	ErrorRate  float64       `json:"error_rate"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
	UniqueKeys int           `json:"unique_keys"`
	Top        []*KeySummary `json:"top"`
}

// -- Tracker --

// Tracker counts calls per key. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	keys     map[string]*keyStats
	since    time.Time
	total    int64
	errors   int64
	duration int64
}

func NewTracker() *Tracker {
	return &Tracker{keys: make(map[string]*keyStats), since: time.Now()}
}

// Record adds c to the counters.
func (t *Tracker) Record(c Call) {
	atomic.AddInt64(&t.total, 1)
	if c.Failed {
		atomic.AddInt64(&t.errors, 1)
	}
	atomic.AddInt64(&t.duration, int64(c.Duration))

	t.mu.Lock()
	defer t.mu.Unlock()
	ks, ok := t.keys[c.Key]
	if !ok {
		ks = &keyStats{statuses: make(map[int]int64)}
		t.keys[c.Key] = ks
	}
	ks.total++
	if c.Failed {
		ks.errors++
	}
	ks.duration += int64(c.Duration)
	if c.Status != 0 {
		ks.statuses[c.Status]++
	}
	if c.At.After(ks.lastSeen) {
		ks.lastSeen = c.At
	}
}

// Key returns the summary for key, or nil when nothing was recorded under it.
func (t *Tracker) Key(key string) *KeySummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ks, ok := t.keys[key]
	if !ok {
		return nil
	}
	return summarize(key, ks)
}

// Top returns up to limit keys ordered by call count, ties broken by key.
func (t *Tracker) Top(limit int) []*KeySummary {
	t.mu.RLock()
	out := make([]*KeySummary, 0, len(t.keys))
	for k, ks := range t.keys {
		out = append(out, summarize(k, ks))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCalls != out[j].TotalCalls {
			return out[i].TotalCalls > out[j].TotalCalls
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (t *Tracker) Overview() *Overview {
	total := atomic.LoadInt64(&t.total)
	errs := atomic.LoadInt64(&t.errors)
	dur := atomic.LoadInt64(&t.duration)

	t.mu.RLock()
	unique := len(t.keys)
	t.mu.RUnlock()

	return &Overview{
		Since:      t.since,
		TotalCalls: total,
		TotalErrs:  errs,
		ErrorRate:  ratio(errs, total),
		AvgLatency: avg(dur, total),
		UniqueKeys: unique,
		Top:        t.Top(5),
	}
}

// caller holds t.mu
func summarize(key string, ks *keyStats) *KeySummary {
	var statuses map[int]int64
	if len(ks.statuses) > 0 {
		statuses = make(map[int]int64, len(ks.statuses))
	}
	for code, n := range ks.statuses {
		statuses[code] = n
	}
	return &KeySummary{
		Key:             key,
		TotalCalls:      ks.total,
		ErrorRate:       ratio(ks.errors, ks.total),
		AvgLatency:      avg(ks.duration, ks.total),
		StatusBreakdown: statuses,
		LastSeen:        ks.lastSeen,
	}
}

func ratio(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func avg(dur, total int64) time.Duration {
	if total == 0 {
		return 0
	}
	return time.Duration(dur / total)
}

// -- Echo middleware --

// Middleware records every request under its method and route template.
// Unmatched paths are grouped under "<method> unmatched" so scanners do not
// grow the key set.
func Middleware(t *Tracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			t.Record(Call{
				Key:      c.Request().Method + " " + route,
				Status:   status,
				Failed:   status >= 400,
				Duration: time.Since(start),
				At:       start,
			})
			return err
		}
	}
}

// ObserveTool records a tool server call under "tool <name>".
func (t *Tracker) ObserveTool(name string, failed bool, d time.Duration) {
	t.Record(Call{Key: "tool " + name, Failed: failed, Duration: d, At: time.Now().Add(-d)})
}

// -- Echo handler --

// Handler exposes a Tracker over HTTP.
type Handler struct {
	tracker *Tracker
}

func NewHandler(t *Tracker) *Handler {
	return &Handler{tracker: t}
}

// RegisterRoutes mounts the usage report on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/usage", h.HandleOverview)
	g.GET("/usage/top", h.HandleTop)
}

func (h *Handler) HandleOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Overview())
}

// HandleTop lists the busiest keys; limit defaults to 20.
func (h *Handler) HandleTop(c echo.Context) error {
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = parsed
	}
	return c.JSON(http.StatusOK, h.tracker.Top(limit))
}

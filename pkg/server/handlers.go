package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
	"github.com/microbiomedata/funcagg/pkg/export"
	"github.com/microbiomedata/funcagg/pkg/httpx"
	"github.com/microbiomedata/funcagg/pkg/server/monitor"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

// Version is reported by the health endpoint.
var Version = "dev"

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string              `json:"status"`
	Version  string              `json:"version"`
	Uptime   string              `json:"uptime"`
	Cycle    monitor.CycleStatus `json:"cycle"`
	Store    *storage.Stats      `json:"store,omitempty"`
	Watchers *int                `json:"watchers,omitempty"`
}

// RunsResponse lists recent cycles, newest first.
type RunsResponse struct {
	Cycles []aggregation.Cycle `json:"cycles"`
	Count  int                 `json:"count"`
}

// handleHealth returns service health status. Store statistics come from
// the per-cycle cache.
func handleHealth(cycleMonitor *monitor.CycleMonitor, stats *StatsCache, hub *ReportHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK
		if !cycleMonitor.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Cycle:   cycleMonitor.Status(),
		}
		if stats != nil {
			response.Store = stats.Get()
		}
		if hub != nil {
			n := hub.Watchers()
			response.Watchers = &n
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleRuns returns recent cycles from the journal.
// Query params:
//   - limit: number of cycles (default 10, max 100)
func handleRuns(journal Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
				return
			}
			limit = min(n, maxRunsLimit)
		}

		cycles, err := journal.Recent(r.Context(), limit)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		if cycles == nil {
			cycles = []aggregation.Cycle{}
		}
		httpx.RespondJSON(w, http.StatusOK, RunsResponse{Cycles: cycles, Count: len(cycles)})
	}
}

// Status holds what the status API reads. Nil Store, Journal, Hub or
// Gatherer leave the corresponding route unregistered.
type Status struct {
	Store    storage.Store
	Stats    *StatsCache
	Monitor  *monitor.CycleMonitor
	Journal  Journal
	Hub      *ReportHub
	Gatherer prometheus.Gatherer
	Requests *RequestMetrics
}

// SetupRoutes configures all HTTP routes for the status server.
func SetupRoutes(router *mux.Router, st Status) {
	if st.Requests != nil {
		router.Use(st.Requests.Middleware)
	}
	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/health", handleHealth(st.Monitor, st.Stats, st.Hub)).Methods("GET")

	if st.Journal != nil {
		api.HandleFunc("/runs", handleRuns(st.Journal)).Methods("GET")
	}
	if st.Store != nil {
		api.HandleFunc("/aggregations/{id}", export.NewHandler(st.Store).HandleExport).Methods("GET")
	}
	if st.Hub != nil {
		api.HandleFunc("/ws", st.Hub.HandleWebSocket).Methods("GET")
	}
	if st.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(st.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/helixml/vecmatch/domain/task"
	"github.com/helixml/vecmatch/infrastructure/api/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// ProgressSource lists the latest status of every tracked operation.
type ProgressSource interface {
	Snapshot() []task.Status
}

// Progress is the JSON shape of one operation's status.
type Progress struct {
	Operation string    `json:"operation"`
	Subject   string    `json:"subject,omitempty"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Percent   float64   `json:"percent"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressResponse is the body of GET /progress.
type ProgressResponse struct {
	Operations []Progress `json:"operations"`
}

// MonitorRouter serves health, metrics, and progress.
type MonitorRouter struct {
	gatherer prometheus.Gatherer
	progress ProgressSource
	health   HealthCheck
}

// NewMonitorRouter creates a MonitorRouter. Any argument may be nil; the
// matching route then reports an empty result.
func NewMonitorRouter(gatherer prometheus.Gatherer, progress ProgressSource, health HealthCheck) *MonitorRouter {
	return &MonitorRouter{gatherer: gatherer, progress: progress, health: health}
}

// Routes returns the chi router for the monitoring endpoints.
func (m *MonitorRouter) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/healthz", m.Health)
	router.Get("/progress", m.Progress)
	if m.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

// Health responds 200 when the health check passes and 503 otherwise.
func (m *MonitorRouter) Health(w http.ResponseWriter, r *http.Request) {
	if m.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := m.health(ctx); err != nil {
			middleware.WriteError(w, r, http.StatusServiceUnavailable, err, nil)
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Progress lists the tracked operations.
func (m *MonitorRouter) Progress(w http.ResponseWriter, _ *http.Request) {
	resp := ProgressResponse{Operations: []Progress{}}
	if m.progress != nil {
		for _, s := range m.progress.Snapshot() {
			resp.Operations = append(resp.Operations, Progress{
				Operation: s.Operation().String(),
				Subject:   s.Subject(),
				State:     string(s.State()),
				Message:   s.Message(),
				Error:     s.Error(),
				Current:   s.Current(),
				Total:     s.Total(),
				Percent:   s.CompletionPercent(),
				StartedAt: s.StartedAt(),
				UpdatedAt: s.UpdatedAt(),
			})
		}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Package api is the loopback HTTP surface the UI layer talks to.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"go.olrik.dev/dawnhost/internal/datafiles"
	"go.olrik.dev/dawnhost/internal/events"
	"go.olrik.dev/dawnhost/internal/health"
	"go.olrik.dev/dawnhost/internal/metrics"
	"go.olrik.dev/dawnhost/internal/supervisor"
)

// Sidecar is the subset of the supervisor the API drives
type Sidecar interface {
	Start(ctx context.Context) (bool, error)
	Stop() (bool, error)
	Status() bool
	Details(ctx context.Context) supervisor.Status
}

// Result is the body of every non-streaming response
type Result struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

// Handler serves the UI-facing routes
type Handler struct {
	sidecar       Sidecar
	files         *datafiles.Reader
	bus           *events.Bus
	metrics       *metrics.Collector
	healthTimeout time.Duration
}

// NewHandler creates the API handler. metrics may be nil, which disables
// /metrics and request counting.
func NewHandler(sidecar Sidecar, files *datafiles.Reader, bus *events.Bus, m *metrics.Collector) *Handler {
	return &Handler{
		sidecar:       sidecar,
		files:         files,
		bus:           bus,
		metrics:       m,
		healthTimeout: health.DefaultTimeout,
	}
}

// SetHealthTimeout overrides the on-demand probe timeout
func (h *Handler) SetHealthTimeout(d time.Duration) {
	if d > 0 {
		h.healthTimeout = d
	}
}

// RegisterRoutes registers the API routes on r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health/{port:[0-9]+}", h.CheckHealth).Methods("GET")

	// Specific sidecar routes before the bare one
	api.HandleFunc("/sidecar/status", h.SidecarStatus).Methods("GET")
	api.HandleFunc("/sidecar/start", h.StartSidecar).Methods("POST")
	api.HandleFunc("/sidecar/stop", h.StopSidecar).Methods("POST")
	api.HandleFunc("/sidecar", h.SidecarDetails).Methods("GET")

	api.HandleFunc("/manifest", h.passthrough(h.files.Manifest)).Methods("GET")
	api.HandleFunc("/peers", h.passthrough(h.files.Peers)).Methods("GET")
	api.HandleFunc("/resource-state", h.passthrough(h.files.ResourceState)).Methods("GET")
	api.HandleFunc("/feed", h.Feed).Methods("GET")

	api.HandleFunc("/events/{topic}", h.StreamEvents).Methods("GET")

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
		r.Use(h.countRequests)
	}
}

// Router returns a new router with all routes registered
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(mux.Vars(r)["port"])
	if err != nil || port < 1 || port > 65535 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid port %q", mux.Vars(r)["port"]))
		return
	}
	writeValue(w, health.Check(r.Context(), port, h.healthTimeout))
}

func (h *Handler) SidecarStatus(w http.ResponseWriter, r *http.Request) {
	writeValue(w, h.sidecar.Status())
}

func (h *Handler) SidecarDetails(w http.ResponseWriter, r *http.Request) {
	writeValue(w, h.sidecar.Details(r.Context()))
}

func (h *Handler) StartSidecar(w http.ResponseWriter, r *http.Request) {
	running, err := h.sidecar.Start(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeValue(w, running)
}

func (h *Handler) StopSidecar(w http.ResponseWriter, r *http.Request) {
	stopped, err := h.sidecar.Stop()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeValue(w, stopped)
}

// passthrough serves an optional data file verbatim as a string value,
// or null when it does not exist
func (h *Handler) passthrough(read func() (string, bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, ok, err := read()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeValue(w, nil)
			return
		}
		writeValue(w, content)
	}
}

func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	limit := datafiles.DefaultFeedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	lines, err := h.files.Feed(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeValue(w, lines)
}

func writeValue(w http.ResponseWriter, v any) {
	writeResult(w, http.StatusOK, Result{OK: true, Value: v})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeResult(w, code, Result{OK: false, Error: err.Error()})
}

func writeResult(w http.ResponseWriter, code int, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Debug("Failed to write API response", "error", err)
	}
}

// Package statusapi exposes a read-only internal HTTP surface for
// operators: health, defensive/rotation state and agent failure count,
// durable state file contents, a websocket feed of cycle events and
// Prometheus metrics. /status does not report the VIX regime or whether
// the market is open; the regime is visible through /state/vix_log.json
// and the monitor_vix_regime metric.
// It is ambient observability, not the out-of-scope interactive CLI/
// desktop shell — nothing it serves drives a trading decision. Routing
// and CORS wiring are adapted from Atlas's internal/api/server.go; the
// websocket feed from internal/api/websocket.go; metrics registration
// follows prometheus/client_golang's standard collector pattern.
package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/agent"
	"github.com/atlas-desktop/execution-monitor/internal/defensive"
	"github.com/atlas-desktop/execution-monitor/internal/rotation"
	"github.com/atlas-desktop/execution-monitor/internal/state"
)

// Metrics are the Prometheus collectors the monitor loop updates.
type Metrics struct {
	ActionsTotal          *prometheus.CounterVec
	ConsecutiveFailures   prometheus.Gauge
	CircuitBreakerTrips   prometheus.Counter
	VIXRegimeGauge        *prometheus.GaugeVec
}

// NewMetrics registers every collector against its own registry so
// repeated test construction doesn't panic on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_actions_total",
			Help: "Count of policy actions executed, by type.",
		}, []string{"type"}),
		ConsecutiveFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_agent_consecutive_failures",
			Help: "Current consecutive agent-invocation failure count.",
		}),
		CircuitBreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "monitor_circuit_breaker_trips_total",
			Help: "Count of circuit-breaker trips since process start.",
		}),
		VIXRegimeGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_vix_regime",
			Help: "1 for the currently active VIX regime, 0 otherwise.",
		}, []string{"regime"}),
	}
}

// Event is a single cycle/action occurrence pushed to websocket clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
}

// Server is the internal status/metrics HTTP surface.
type Server struct {
	State     *state.Store
	Defensive *defensive.Controller
	Rotation  *rotation.Controller
	Agent     *agent.Exec
	Metrics   *Metrics
	Registry  *prometheus.Registry
	Log       *zap.Logger

	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	upgrader  websocket.Upgrader
	lastCycle time.Time
}

// New builds the status server's handler. reg must be the same registry
// passed to NewMetrics, so /metrics serves the collectors it registered
// rather than the process-global default registry.
func New(st *state.Store, def *defensive.Controller, rot *rotation.Controller, ag *agent.Exec, m *Metrics, reg *prometheus.Registry, log *zap.Logger) *Server {
	return &Server{
		State: st, Defensive: def, Rotation: rot, Agent: ag, Metrics: m, Registry: reg,
		Log:      log.Named("statusapi"),
		clients:  map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler builds the mux router wrapped in permissive CORS, matching
// Atlas's cmd/server/main.go wiring of gorilla/mux + rs/cors.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/state/{name}", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	if s.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	return cors.AllowAll().Handler(r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	def := s.Defensive.CurrentState()
	rot := s.Rotation.CurrentState()
	failures := 0
	if s.Agent != nil {
		failures = s.Agent.ConsecutiveFailures()
	}
	payload := map[string]any{
		"defensive_mode":       def,
		"rotation_mode":        rot,
		"consecutive_failures": failures,
		"last_cycle":           s.lastCycle,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	data, err := s.State.ReadRaw(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if data == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Read loop solely to detect client disconnect; the feed is
	// server-push only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes an event to every connected websocket client and
// records it as the last-cycle timestamp for /status.
func (s *Server) Broadcast(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycle = evt.Timestamp
	for conn := range s.clients {
		if err := conn.WriteJSON(evt); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

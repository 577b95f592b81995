// Package ingest runs the HTTP ingestion surface: serving events are
// fed into the monitoring stream graph, application events go straight
// to the TSDB connector via the writer path.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"modelmon/config"
	"modelmon/monitoring"
	"modelmon/stream"
	"modelmon/tsdb"
)

// Manager manages monitoring data ingestion.
type Manager struct {
	config    config.IngestionConfig
	graph     *stream.Graph
	connector tsdb.Connector
	logger    kitlog.Logger

	eventsIngested *prometheus.CounterVec
	eventsRejected prometheus.Counter

	httpServer *http.Server
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
}

// NewManager creates a new ingestion manager and registers its
// counters with the given registerer.
func NewManager(cfg config.IngestionConfig, graph *stream.Graph, connector tsdb.Connector, reg prometheus.Registerer, logger kitlog.Logger) (*Manager, error) {
	m := &Manager{
		config:    cfg,
		graph:     graph,
		connector: connector,
		logger:    logger,
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmon_events_ingested_total",
			Help: "Events accepted by the ingestion server.",
		}, []string{"kind"}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelmon_events_rejected_total",
			Help: "Events rejected by the ingestion server.",
		}),
	}
	if reg != nil {
		if err := reg.Register(m.eventsIngested); err != nil {
			return nil, fmt.Errorf("failed to register ingestion counters: %w", err)
		}
		if err := reg.Register(m.eventsRejected); err != nil {
			return nil, fmt.Errorf("failed to register ingestion counters: %w", err)
		}
	}
	return m, nil
}

// Start starts the ingestion HTTP server.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.config.HTTPEndpoint == "" {
		m.running = true
		return nil
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/events", m.handleServingEvents).Methods("POST")
	router.HandleFunc("/v1/app-events", m.handleAppEvent).Methods("POST")

	m.httpServer = &http.Server{
		Addr:    m.config.HTTPEndpoint,
		Handler: router,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(m.logger).Log("msg", "ingestion server error", "err", err)
		}
	}()

	m.running = true
	level.Info(m.logger).Log("msg", "ingestion server listening", "addr", m.config.HTTPEndpoint)
	return nil
}

// Stop shuts the ingestion server down gracefully.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown ingestion server: %w", err)
		}
	}
	m.wg.Wait()
	m.running = false
	return nil
}

// Close closes the ingestion manager.
func (m *Manager) Close() error {
	return m.Stop()
}

// servingEventsRequest is the body of POST /v1/events.
type servingEventsRequest struct {
	Events []monitoring.ServingEvent `json:"events"`
}

func (m *Manager) handleServingEvents(w http.ResponseWriter, r *http.Request) {
	var req servingEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.eventsRejected.Inc()
		http.Error(w, fmt.Sprintf("error parsing events: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	for _, event := range req.Events {
		if event.EndpointID == "" {
			m.eventsRejected.Inc()
			http.Error(w, "event is missing an endpoint id", http.StatusBadRequest)
			return
		}
		if err := m.graph.Process(r.Context(), event); err != nil {
			http.Error(w, fmt.Sprintf("error processing event: %v", err), http.StatusInternalServerError)
			return
		}
		m.eventsIngested.WithLabelValues("serving").Inc()
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"success"}`))
}

func (m *Manager) handleAppEvent(w http.ResponseWriter, r *http.Request) {
	kind := monitoring.WriterEventKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = monitoring.WriterEventResult
	}
	if !kind.Valid() {
		m.eventsRejected.Inc()
		http.Error(w, fmt.Sprintf("unknown event kind %q", kind), http.StatusBadRequest)
		return
	}

	var event monitoring.AppEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		m.eventsRejected.Inc()
		http.Error(w, fmt.Sprintf("error parsing event: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := m.connector.WriteApplicationEvent(r.Context(), event, kind); err != nil {
		http.Error(w, fmt.Sprintf("error writing event: %v", err), http.StatusInternalServerError)
		return
	}
	m.eventsIngested.WithLabelValues(string(kind)).Inc()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"success"}`))
}

// Package api serves the platform HTTP surface: the frontend
// configuration snapshot, the model-endpoint query routes, the
// marketplace source catalog and a live WebSocket event feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/datatypes"

	"modelmon/config"
	"modelmon/monitoring"
	"modelmon/registry"
	"modelmon/stream"
	"modelmon/tsdb"
)

// Server is the platform API server.
type Server struct {
	config    config.APIConfig
	spec      *FrontendSpec
	connector tsdb.Connector
	sources   *registry.Store
	logger    kitlog.Logger

	router     *mux.Router
	httpServer *http.Server

	clients      map[*websocket.Conn]bool
	clientsMutex sync.Mutex

	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewServer creates the API server. sources may be nil when no
// relational registry is configured; the marketplace routes then
// report the feature as unavailable.
func NewServer(cfg config.APIConfig, connector tsdb.Connector, sources *registry.Store, gatherer prometheus.Gatherer, logger kitlog.Logger) (*Server, error) {
	spec, err := BuildFrontendSpec(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build frontend spec: %w", err)
	}

	s := &Server{
		config:    cfg,
		spec:      spec,
		connector: connector,
		sources:   sources,
		logger:    logger,
		router:    mux.NewRouter(),
		clients:   make(map[*websocket.Conn]bool),
	}
	s.setupRoutes(gatherer)

	return s, nil
}

// Start starts the API server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(s.logger).Log("msg", "api server error", "err", err)
		}
	}()

	s.running = true
	level.Info(s.logger).Log("msg", "api server listening", "addr", s.httpServer.Addr)
	return nil
}

// Stop shuts the API server down gracefully, closing every live
// WebSocket client first.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.clientsMutex.Lock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
	s.clientsMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down api server: %w", err)
	}

	s.wg.Wait()
	s.running = false
	return nil
}

// Close closes the server.
func (s *Server) Close() error {
	return s.Stop()
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/frontend-spec", s.handleFrontendSpec).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	api.HandleFunc("/model-endpoints/{endpoint}/metrics", s.handleRealTimeMetrics).Methods("GET")
	api.HandleFunc("/model-endpoints/{endpoint}/metrics-data", s.handleMetricsData).Methods("GET")
	api.HandleFunc("/model-endpoints/{endpoint}/predictions", s.handlePredictions).Methods("GET")
	api.HandleFunc("/records/{table}", s.handleRecords).Methods("GET")

	api.HandleFunc("/marketplace/sources", s.handleListSources).Methods("GET")
	api.HandleFunc("/marketplace/sources", s.handleCreateSource).Methods("POST")
	api.HandleFunc("/marketplace/sources/{name}", s.handleGetSource).Methods("GET")
	api.HandleFunc("/marketplace/sources/{name}", s.handleUpdateSource).Methods("PUT")
	api.HandleFunc("/marketplace/sources/{name}", s.handleDeleteSource).Methods("DELETE")
}

func (s *Server) handleFrontendSpec(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, s.spec); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

// handleRealTimeMetrics serves the raw per-series points of one
// endpoint. Series names repeat in the name query parameter.
func (s *Server) handleRealTimeMetrics(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]
	names := r.URL.Query()["name"]
	start := queryDefault(r, "start", "now-1h")
	end := queryDefault(r, "end", "now")

	metrics, err := s.connector.ModelEndpointRealTimeMetrics(r.Context(), endpoint, names, start, end)
	if err != nil {
		http.Error(w, fmt.Sprintf("error querying metrics: %v", err), http.StatusBadRequest)
		return
	}

	if err := writeJSON(w, map[string]interface{}{
		"endpoint_id": endpoint,
		"metrics":     metrics,
	}); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

// metricDataItem is the wire shape of one resolved descriptor.
type metricDataItem struct {
	FullName string                `json:"full_name"`
	Type     monitoring.MetricType `json:"type"`
	Data     bool                  `json:"data"`
	Values   interface{}           `json:"values,omitempty"`
}

// handleMetricsData resolves fully-qualified metric or result names to
// their value series. The type parameter selects metrics or results;
// name parameters carry project.app.type.name identifiers.
func (s *Server) handleMetricsData(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]

	kind := monitoring.MetricType(queryDefault(r, "type", string(monitoring.MetricTypeMetric)))
	if kind == "results" {
		kind = monitoring.MetricTypeResult
	} else if kind == "metrics" {
		kind = monitoring.MetricTypeMetric
	}
	if !kind.Valid() {
		http.Error(w, fmt.Sprintf("unknown metric type %q", kind), http.StatusBadRequest)
		return
	}

	var descriptors []monitoring.Metric
	for _, fqn := range r.URL.Query()["name"] {
		descriptor, err := monitoring.ParseFullName(fqn)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		descriptors = append(descriptors, descriptor)
	}

	start, end, err := tsdb.ParseTimeRange(queryDefault(r, "start", "now-1h"), queryDefault(r, "end", "now"), time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.connector.ReadMetricsData(r.Context(), endpoint, start, end, descriptors, kind)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading metrics data: %v", err), http.StatusInternalServerError)
		return
	}

	if err := writeJSON(w, metricDataItems(data)); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]
	window := r.URL.Query().Get("window")

	start, end, err := tsdb.ParseTimeRange(queryDefault(r, "start", "now-24h"), queryDefault(r, "end", "now"), time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.connector.ReadPredictions(r.Context(), endpoint, start, end, window)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading predictions: %v", err), http.StatusBadRequest)
		return
	}

	if err := writeJSON(w, metricDataItems([]monitoring.MetricData{data})[0]); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	table := monitoring.Table(mux.Vars(r)["table"])
	start := queryDefault(r, "start", "0")
	end := queryDefault(r, "end", "now")
	filter := r.URL.Query().Get("filter")

	var columns []string
	if raw := r.URL.Query().Get("columns"); raw != "" {
		columns = strings.Split(raw, ",")
	}

	frame, err := s.connector.Records(r.Context(), table, start, end, columns, filter)
	if errors.Is(err, tsdb.ErrTableNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("error querying records: %v", err), http.StatusBadRequest)
		return
	}

	if err := writeJSON(w, frame); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		http.Error(w, "marketplace registry is not configured", http.StatusServiceUnavailable)
		return
	}
	sources, err := s.sources.List()
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing sources: %v", err), http.StatusInternalServerError)
		return
	}
	if err := writeJSON(w, sources); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		http.Error(w, "marketplace registry is not configured", http.StatusServiceUnavailable)
		return
	}

	var source registry.MarketplaceSource
	if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
		http.Error(w, fmt.Sprintf("error parsing source: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if source.Name == "" {
		http.Error(w, "source name is required", http.StatusBadRequest)
		return
	}

	if err := s.sources.Create(&source); err != nil {
		if errors.Is(err, registry.ErrDuplicateName) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("error creating source: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(source)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		http.Error(w, "marketplace registry is not configured", http.StatusServiceUnavailable)
		return
	}

	source, err := s.sources.Get(mux.Vars(r)["name"])
	if errors.Is(err, registry.ErrSourceNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading source: %v", err), http.StatusInternalServerError)
		return
	}
	if err := writeJSON(w, source); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

// updateSourceRequest is the body of PUT .../sources/{name}.
type updateSourceRequest struct {
	Index  int               `json:"index"`
	Object datatypes.JSONMap `json:"object"`
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		http.Error(w, "marketplace registry is not configured", http.StatusServiceUnavailable)
		return
	}

	var req updateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("error parsing request: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	source, err := s.sources.Update(mux.Vars(r)["name"], req.Index, req.Object)
	if errors.Is(err, registry.ErrSourceNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating source: %v", err), http.StatusInternalServerError)
		return
	}
	if err := writeJSON(w, source); err != nil {
		http.Error(w, fmt.Sprintf("error writing response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		http.Error(w, "marketplace registry is not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.sources.Delete(mux.Vars(r)["name"]); err != nil {
		http.Error(w, fmt.Sprintf("error deleting source: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the connection and registers the client for
// the live event feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Warn(s.logger).Log("msg", "websocket upgrade failed", "err", err)
		return
	}

	s.clientsMutex.Lock()
	s.clients[conn] = true
	s.clientsMutex.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.clientsMutex.Lock()
			delete(s.clients, conn)
			s.clientsMutex.Unlock()
			conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// EventBroadcastStep returns a graph step that fans incoming serving
// events out to the connected WebSocket clients. Slow or dead clients
// are dropped, never block the pipeline.
func (s *Server) EventBroadcastStep() stream.Step {
	return stream.StepFunc{
		StepName: "websocket-broadcast",
		Fn: func(ctx context.Context, event monitoring.ServingEvent) error {
			payload, err := json.Marshal(event)
			if err != nil {
				return nil
			}

			s.clientsMutex.Lock()
			defer s.clientsMutex.Unlock()
			for client := range s.clients {
				client.SetWriteDeadline(time.Now().Add(time.Second))
				if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
					client.Close()
					delete(s.clients, client)
				}
			}
			return nil
		},
	}
}

// metricDataItems converts connector results to their wire shape.
func metricDataItems(data []monitoring.MetricData) []metricDataItem {
	items := make([]metricDataItem, 0, len(data))
	for _, d := range data {
		item := metricDataItem{
			FullName: d.Metric().FullName(),
			Type:     d.Metric().Type,
			Data:     d.HasData(),
		}
		switch v := d.(type) {
		case monitoring.MetricValues:
			item.Values = v.Points
		case monitoring.ResultValues:
			item.Values = v.Points
		}
		items = append(items, item)
	}
	return items
}

func queryDefault(r *http.Request, key, fallback string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

package monitoring

import (
	"fmt"
	"time"
)

// Table identifies one of the logical TSDB data collections.
type Table string

const (
	// TableAppResults holds detailed monitoring-application results
	// (status, kind, extra data) written by the monitoring writer.
	TableAppResults Table = "app_results"

	// TableMetrics holds numeric key/value metrics, both the
	// application-generated ones and the real-time series produced by
	// the stream steps.
	TableMetrics Table = "metrics"

	// TablePredictions holds one row per model invocation with its
	// latency.
	TablePredictions Table = "predictions"
)

// Tables lists every logical table the connector provisions.
func Tables() []Table {
	return []Table{TableAppResults, TableMetrics, TablePredictions}
}

// Valid reports whether t names a known data collection.
func (t Table) Valid() bool {
	switch t {
	case TableAppResults, TableMetrics, TablePredictions:
		return true
	}
	return false
}

// WriterEventKind distinguishes the two payload shapes the monitoring
// writer produces.
type WriterEventKind string

const (
	WriterEventResult WriterEventKind = "result"
	WriterEventMetric WriterEventKind = "metric"
)

// Valid reports whether k is a known writer event kind.
func (k WriterEventKind) Valid() bool {
	return k == WriterEventResult || k == WriterEventMetric
}

// ResultKind classifies what a monitoring application measured.
type ResultKind int

const (
	ResultKindDataDrift ResultKind = iota
	ResultKindConceptDrift
	ResultKindModelPerformance
	ResultKindSystemPerformance
	ResultKindAnomaly
)

// ResultStatus is the detection verdict attached to a result.
type ResultStatus int

const (
	StatusNoDetection ResultStatus = iota
	StatusPotentialDetection
	StatusDetected
)

// AppEvent is a single monitoring-application event, either a result
// or a plain numeric metric depending on the WriterEventKind it is
// written with. Result-only fields are ignored for metric events.
type AppEvent struct {
	Project     string            `json:"project"`
	EndpointID  string            `json:"endpointId"`
	Application string            `json:"application"`
	Name        string            `json:"name"`
	Timestamp   time.Time         `json:"timestamp"`
	Value       float64           `json:"value"`
	ResultKind  ResultKind        `json:"resultKind,omitempty"`
	Status      ResultStatus      `json:"status,omitempty"`
	ExtraData   map[string]string `json:"extraData,omitempty"`
}

// Validate checks the fields required for any event kind.
func (e *AppEvent) Validate() error {
	if e.EndpointID == "" {
		return fmt.Errorf("application event is missing an endpoint id")
	}
	if e.Application == "" {
		return fmt.Errorf("application event is missing the application name")
	}
	if e.Name == "" {
		return fmt.Errorf("application event is missing a result/metric name")
	}
	return nil
}

// ServingEvent is one model invocation as reported by the serving
// layer. It is the input of the monitoring stream graph.
type ServingEvent struct {
	EndpointID    string             `json:"endpointId"`
	Timestamp     time.Time          `json:"timestamp"`
	LatencyMS     float64            `json:"latencyMs"`
	Features      map[string]float64 `json:"features,omitempty"`
	CustomMetrics map[string]float64 `json:"customMetrics,omitempty"`
}

package tsdb

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log/level"

	"modelmon/monitoring"
	"modelmon/stream"
)

// Real-time series names produced by the base metrics step.
const (
	SeriesPredictionsPerSecond = "predictions_per_second"
	SeriesLatencyAvg5M         = "latency_avg_5m"

	// featureSeriesPrefix namespaces the endpoint feature samples
	// within the metrics table.
	featureSeriesPrefix = "feature_"

	// customMetricsApp tags user-defined stream metrics.
	customMetricsApp = "custom-metrics"

	rollingSpan = 5 * time.Minute
)

// ApplyMonitoringStreamSteps registers the three ingestion steps on
// the graph: base performance metrics, endpoint feature samples, and
// custom metrics. The graph is mutated in place.
func (c *connector) ApplyMonitoringStreamSteps(g *stream.Graph) {
	base := &baseMetricsStep{conn: c, windows: make(map[string]*endpointWindows)}
	g.AddStep(base)
	g.AddStep(stream.StepFunc{StepName: "endpoint-features", Fn: c.processFeatures})
	g.AddStep(stream.StepFunc{StepName: "custom-metrics", Fn: c.processCustomMetrics})
	level.Debug(c.logger).Log("msg", "monitoring stream steps applied", "steps", 3)
}

// endpointWindows is the per-endpoint rolling state behind the
// real-time series.
type endpointWindows struct {
	latency     *monitoring.RollingWindow
	invocations *monitoring.RollingWindow
}

// baseMetricsStep persists the per-invocation latency into the
// predictions table and derives the rolling latency/throughput series
// into the metrics table.
type baseMetricsStep struct {
	conn *connector

	mu      sync.Mutex
	windows map[string]*endpointWindows
}

func (s *baseMetricsStep) Name() string { return "base-metrics" }

func (s *baseMetricsStep) Process(ctx context.Context, event monitoring.ServingEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	s.mu.Lock()
	w, ok := s.windows[event.EndpointID]
	if !ok {
		w = &endpointWindows{
			latency:     monitoring.NewRollingWindow(rollingSpan),
			invocations: monitoring.NewRollingWindow(rollingSpan),
		}
		s.windows[event.EndpointID] = w
	}
	s.mu.Unlock()

	w.latency.Observe(ts, event.LatencyMS)
	w.invocations.Observe(ts, 1)

	samples := []sample{
		{
			Table:     monitoring.TablePredictions,
			Timestamp: ts,
			Value:     event.LatencyMS,
			Labels:    map[string]string{labelEndpointID: event.EndpointID},
		},
		{
			Table:     monitoring.TableMetrics,
			Timestamp: ts,
			Value:     w.invocations.Rate(ts),
			Labels: map[string]string{
				labelEndpointID: event.EndpointID,
				labelApp:        monitoring.InfraApp,
				labelName:       SeriesPredictionsPerSecond,
			},
		},
		{
			Table:     monitoring.TableMetrics,
			Timestamp: ts,
			Value:     w.latency.Average(ts),
			Labels: map[string]string{
				labelEndpointID: event.EndpointID,
				labelApp:        monitoring.InfraApp,
				labelName:       SeriesLatencyAvg5M,
			},
		},
	}
	return s.conn.store.WriteSamples(ctx, samples)
}

// processFeatures persists the input feature values of an invocation
// as individual series in the metrics table.
func (c *connector) processFeatures(ctx context.Context, event monitoring.ServingEvent) error {
	if len(event.Features) == 0 {
		return nil
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	samples := make([]sample, 0, len(event.Features))
	for name, value := range event.Features {
		samples = append(samples, sample{
			Table:     monitoring.TableMetrics,
			Timestamp: ts,
			Value:     value,
			Labels: map[string]string{
				labelEndpointID: event.EndpointID,
				labelApp:        monitoring.InfraApp,
				labelName:       featureSeriesPrefix + name,
			},
		})
	}
	return c.store.WriteSamples(ctx, samples)
}

// processCustomMetrics persists the user-defined metrics attached to
// an invocation.
func (c *connector) processCustomMetrics(ctx context.Context, event monitoring.ServingEvent) error {
	if len(event.CustomMetrics) == 0 {
		return nil
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	samples := make([]sample, 0, len(event.CustomMetrics))
	for name, value := range event.CustomMetrics {
		samples = append(samples, sample{
			Table:     monitoring.TableMetrics,
			Timestamp: ts,
			Value:     value,
			Labels: map[string]string{
				labelEndpointID: event.EndpointID,
				labelApp:        customMetricsApp,
				labelName:       name,
			},
		})
	}
	return c.store.WriteSamples(ctx, samples)
}

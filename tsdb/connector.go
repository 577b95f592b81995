// Package tsdb provides a uniform abstraction for writing and querying
// time-series monitoring data, independent of the storage engine
// underneath. Three engines are supported: a low-latency key-value
// store (badger), a columnar store (frostdb) and the Prometheus TSDB.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"modelmon/config"
	"modelmon/monitoring"
	"modelmon/stream"
)

var (
	// ErrWrite reports that a write could not be completed.
	ErrWrite = errors.New("tsdb: write failed")

	// ErrTableNotFound reports a query against an unknown table.
	ErrTableNotFound = errors.New("tsdb: table not found")
)

// Connector is the uniform surface over a time-series backend. Every
// method is independently callable; there is no cross-call ordering
// guarantee beyond what the engine itself provides.
type Connector interface {
	// ApplyMonitoringStreamSteps wires the persistence steps into the
	// monitoring graph: base performance metrics (latency and
	// throughput), endpoint feature samples, and custom user metrics.
	ApplyMonitoringStreamSteps(g *stream.Graph)

	// WriteApplicationEvent persists one monitoring-application event
	// of the given kind. Failed writes are reported wrapped in
	// ErrWrite.
	WriteApplicationEvent(ctx context.Context, event monitoring.AppEvent, kind monitoring.WriterEventKind) error

	// DeleteResources removes all data persisted for the owning
	// project. Safe to call when no data exists.
	DeleteResources(ctx context.Context) error

	// ModelEndpointRealTimeMetrics returns, per requested series name,
	// the ordered (timestamp, value) pairs within [start, end]. The
	// bounds accept the flexible time expressions of ParseTime. Names
	// with no observations map to empty series.
	ModelEndpointRealTimeMetrics(ctx context.Context, endpointID string, names []string, start, end string) (map[string][]monitoring.MetricPoint, error)

	// Records returns a tabular result for one logical table,
	// restricted to the optional column subset and optional filter
	// expression. Unknown tables are reported wrapped in
	// ErrTableNotFound.
	Records(ctx context.Context, table monitoring.Table, start, end string, columns []string, filterQuery string) (*Frame, error)

	// CreateTables provisions the logical tables if absent.
	CreateTables(ctx context.Context) error

	// ReadMetricsData resolves each descriptor to its value series or
	// an explicit NoData marker, preserving input order. kind selects
	// whether the descriptors name application metrics or results.
	ReadMetricsData(ctx context.Context, endpointID string, start, end time.Time, descriptors []monitoring.Metric, kind monitoring.MetricType) ([]monitoring.MetricData, error)

	// ReadPredictions returns the invocations series of the endpoint,
	// optionally aggregated into fixed windows, or NoData when the
	// endpoint has no recorded invocations in range.
	ReadPredictions(ctx context.Context, endpointID string, start, end time.Time, aggregationWindow string) (monitoring.MetricData, error)

	// PredictionMetricForEndpoint returns the invocations descriptor
	// for the endpoint, or nil if it has never been recorded.
	PredictionMetricForEndpoint(ctx context.Context, endpointID string) (*monitoring.Metric, error)

	Close() error
}

// Open creates a connector for one project using the configured
// engine. Each project gets its own data directory so DeleteResources
// stays project-scoped.
func Open(cfg config.TSDBConfig, project string, logger kitlog.Logger) (Connector, error) {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	path := filepath.Join(cfg.DataPath, project)

	var (
		store seriesStore
		err   error
	)
	switch cfg.Engine.Type {
	case "badger":
		store, err = newBadgerStore(path, cfg.Engine.BadgerConfig, logger)
	case "frostdb":
		store, err = newFrostStore(path, project, cfg.Engine.FrostDBConfig, logger)
	case "prometheus":
		store, err = newPromStore(path, cfg.Engine.PrometheusConfig, logger)
	default:
		return nil, fmt.Errorf("unknown tsdb engine type: %q", cfg.Engine.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s engine: %w", cfg.Engine.Type, err)
	}

	level.Info(logger).Log("msg", "tsdb connector opened", "engine", cfg.Engine.Type, "project", project, "path", path)

	return &connector{
		project: project,
		store:   store,
		logger:  logger,
	}, nil
}

// connector implements Connector on top of a seriesStore.
type connector struct {
	project string
	store   seriesStore
	logger  kitlog.Logger
}

func (c *connector) WriteApplicationEvent(ctx context.Context, event monitoring.AppEvent, kind monitoring.WriterEventKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown writer event kind %q", ErrWrite, kind)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	labels := map[string]string{
		labelEndpointID: event.EndpointID,
		labelApp:        event.Application,
		labelName:       event.Name,
	}
	table := monitoring.TableMetrics
	if kind == monitoring.WriterEventResult {
		table = monitoring.TableAppResults
		labels[labelResultKind] = strconv.Itoa(int(event.ResultKind))
		labels[labelStatus] = strconv.Itoa(int(event.Status))
		if len(event.ExtraData) > 0 {
			labels[labelExtraData] = encodeExtraData(event.ExtraData)
		}
	}

	s := sample{Table: table, Timestamp: ts, Value: event.Value, Labels: labels}
	if err := c.store.WriteSamples(ctx, []sample{s}); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func (c *connector) DeleteResources(ctx context.Context) error {
	return c.store.DeleteAll(ctx)
}

func (c *connector) CreateTables(ctx context.Context) error {
	return c.store.EnsureTables(ctx)
}

func (c *connector) ModelEndpointRealTimeMetrics(ctx context.Context, endpointID string, names []string, start, end string) (map[string][]monitoring.MetricPoint, error) {
	s, e, err := ParseTimeRange(start, end, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	filter := andFilters(endpointFilter(endpointID), func(labels map[string]string) bool {
		return wanted[labels[labelName]]
	})

	samples, err := c.query(ctx, monitoring.TableMetrics, s, e, filter)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]monitoring.MetricPoint, len(names))
	for _, n := range names {
		out[n] = []monitoring.MetricPoint{}
	}
	for _, smp := range samples {
		n := smp.Labels[labelName]
		out[n] = append(out[n], monitoring.MetricPoint{Timestamp: smp.Timestamp, Value: smp.Value})
	}
	return out, nil
}

func (c *connector) Records(ctx context.Context, table monitoring.Table, start, end string, columns []string, filterQuery string) (*Frame, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	s, e, err := ParseTimeRange(start, end, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	filter, err := parseFilterQuery(filterQuery)
	if err != nil {
		return nil, err
	}

	samples, err := c.query(ctx, table, s, e, filter)
	if err != nil {
		return nil, err
	}
	return newFrame(table, samples, columns)
}

func (c *connector) ReadMetricsData(ctx context.Context, endpointID string, start, end time.Time, descriptors []monitoring.Metric, kind monitoring.MetricType) ([]monitoring.MetricData, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown metric type %q", kind)
	}
	table := monitoring.TableMetrics
	if kind == monitoring.MetricTypeResult {
		table = monitoring.TableAppResults
	}

	// One pass over the range; descriptors are resolved from the
	// grouped samples so the output keeps the input order.
	samples, err := c.query(ctx, table, start, end, endpointFilter(endpointID))
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]sample)
	for _, smp := range samples {
		key := smp.Labels[labelApp] + "\x00" + smp.Labels[labelName]
		grouped[key] = append(grouped[key], smp)
	}

	out := make([]monitoring.MetricData, 0, len(descriptors))
	for _, d := range descriptors {
		group := grouped[d.App+"\x00"+d.Name]
		if len(group) == 0 {
			out = append(out, monitoring.NoData{Descriptor: d})
			continue
		}
		if kind == monitoring.MetricTypeResult {
			out = append(out, resultValues(d, group))
		} else {
			points := make([]monitoring.MetricPoint, 0, len(group))
			for _, smp := range group {
				points = append(points, monitoring.MetricPoint{Timestamp: smp.Timestamp, Value: smp.Value})
			}
			out = append(out, monitoring.MetricValues{Descriptor: d, Points: points})
		}
	}
	return out, nil
}

func (c *connector) ReadPredictions(ctx context.Context, endpointID string, start, end time.Time, aggregationWindow string) (monitoring.MetricData, error) {
	descriptor := monitoring.InvocationsMetric(c.project)

	samples, err := c.query(ctx, monitoring.TablePredictions, start, end, endpointFilter(endpointID))
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return monitoring.NoData{Descriptor: descriptor}, nil
	}

	if aggregationWindow == "" {
		// Raw invocation series: one unit per recorded call.
		points := make([]monitoring.MetricPoint, 0, len(samples))
		for _, smp := range samples {
			points = append(points, monitoring.MetricPoint{Timestamp: smp.Timestamp, Value: 1})
		}
		return monitoring.MetricValues{Descriptor: descriptor, Points: points}, nil
	}

	window, err := config.ParseDuration(aggregationWindow)
	if err != nil {
		return nil, fmt.Errorf("bad aggregation window %q: %w", aggregationWindow, err)
	}
	if window <= 0 {
		return nil, fmt.Errorf("bad aggregation window %q: must be positive", aggregationWindow)
	}

	// Fixed windows anchored at the range start; each point is the
	// call count of its window, stamped at the window start.
	counts := make(map[int64]float64)
	for _, smp := range samples {
		bucket := int64(smp.Timestamp.Sub(start) / window)
		counts[bucket]++
	}
	buckets := make([]int64, 0, len(counts))
	for b := range counts {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	points := make([]monitoring.MetricPoint, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, monitoring.MetricPoint{
			Timestamp: start.Add(time.Duration(b) * window),
			Value:     counts[b],
		})
	}
	return monitoring.MetricValues{Descriptor: descriptor, Points: points}, nil
}

func (c *connector) PredictionMetricForEndpoint(ctx context.Context, endpointID string) (*monitoring.Metric, error) {
	samples, err := c.query(ctx, monitoring.TablePredictions, time.Unix(0, 0), time.Now().UTC(), endpointFilter(endpointID))
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	m := monitoring.InvocationsMetric(c.project)
	return &m, nil
}

func (c *connector) Close() error {
	return c.store.Close()
}

// query wraps the engine scan and normalizes ordering by timestamp,
// which no engine guarantees on its own.
func (c *connector) query(ctx context.Context, table monitoring.Table, start, end time.Time, filter labelFilter) ([]sample, error) {
	samples, err := c.store.Query(ctx, table, start, end, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

// resultValues assembles a ResultValues variant from grouped
// app_results samples.
func resultValues(d monitoring.Metric, group []sample) monitoring.ResultValues {
	kind := monitoring.ResultKind(0)
	if v, err := strconv.Atoi(group[0].Labels[labelResultKind]); err == nil {
		kind = monitoring.ResultKind(v)
	}
	points := make([]monitoring.ResultPoint, 0, len(group))
	for _, smp := range group {
		status := monitoring.StatusNoDetection
		if v, err := strconv.Atoi(smp.Labels[labelStatus]); err == nil {
			status = monitoring.ResultStatus(v)
		}
		points = append(points, monitoring.ResultPoint{
			Timestamp: smp.Timestamp,
			Value:     smp.Value,
			Status:    status,
		})
	}
	return monitoring.ResultValues{Descriptor: d, Kind: kind, Points: points}
}

package monitoring

import (
	"fmt"
	"strings"
	"time"
)

// MetricType tells whether a descriptor names an application metric or
// an application result. The two have different value shapes.
type MetricType string

const (
	MetricTypeMetric MetricType = "metric"
	MetricTypeResult MetricType = "result"
)

// Valid reports whether t is a known metric type.
func (t MetricType) Valid() bool {
	return t == MetricTypeMetric || t == MetricTypeResult
}

const (
	// InfraApp is the application name attached to series produced by
	// the platform itself rather than by a user application, such as
	// the invocations series and the real-time stream metrics.
	InfraApp = "monitoring-infra"

	// InvocationsName is the call-count metric every endpoint gets.
	InvocationsName = "invocations"
)

// Metric identifies one monitoring metric or result for a model
// endpoint.
type Metric struct {
	Project string     `json:"project"`
	App     string     `json:"app"`
	Type    MetricType `json:"type"`
	Name    string     `json:"name"`
}

// FullName is the dotted fully-qualified metric name.
func (m Metric) FullName() string {
	return strings.Join([]string{m.Project, m.App, string(m.Type), m.Name}, ".")
}

// ParseFullName parses a dotted fully-qualified name back into a
// Metric descriptor.
func ParseFullName(fqn string) (Metric, error) {
	parts := strings.Split(fqn, ".")
	if len(parts) != 4 {
		return Metric{}, fmt.Errorf("malformed metric name %q: expected project.app.type.name", fqn)
	}
	t := MetricType(parts[2])
	if !t.Valid() {
		return Metric{}, fmt.Errorf("malformed metric name %q: unknown type %q", fqn, parts[2])
	}
	return Metric{Project: parts[0], App: parts[1], Type: t, Name: parts[3]}, nil
}

// InvocationsMetric returns the descriptor of the invocations series
// for the given project.
func InvocationsMetric(project string) Metric {
	return Metric{Project: project, App: InfraApp, Type: MetricTypeMetric, Name: InvocationsName}
}

// MetricPoint is one observation of a numeric metric.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ResultPoint is one observation of an application result, carrying
// the detection status alongside the numeric value.
type ResultPoint struct {
	Timestamp time.Time    `json:"timestamp"`
	Value     float64      `json:"value"`
	Status    ResultStatus `json:"status"`
}

// MetricData is the tagged "has data or not" variant returned by the
// read operations. Exactly one of MetricValues, ResultValues or NoData
// backs it, so absence is explicit and cannot be confused with an
// empty series.
type MetricData interface {
	Metric() Metric
	HasData() bool
}

// MetricValues is the value series of an application metric.
type MetricValues struct {
	Descriptor Metric        `json:"metric"`
	Points     []MetricPoint `json:"points"`
}

func (v MetricValues) Metric() Metric { return v.Descriptor }
func (v MetricValues) HasData() bool  { return true }

// ResultValues is the value series of an application result.
type ResultValues struct {
	Descriptor Metric        `json:"metric"`
	Kind       ResultKind    `json:"resultKind"`
	Points     []ResultPoint `json:"points"`
}

func (v ResultValues) Metric() Metric { return v.Descriptor }
func (v ResultValues) HasData() bool  { return true }

// NoData marks a descriptor that had no observations in the queried
// range.
type NoData struct {
	Descriptor Metric `json:"metric"`
}

func (v NoData) Metric() Metric { return v.Descriptor }
func (v NoData) HasData() bool  { return false }

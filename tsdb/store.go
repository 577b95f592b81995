package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"modelmon/monitoring"
)

// Label keys shared by every engine.
const (
	labelEndpointID = "endpoint_id"
	labelApp        = "app"
	labelName       = "name"
	labelResultKind = "result_kind"
	labelStatus     = "status"
	labelExtraData  = "extra_data"
)

// sample is the engine-neutral unit of storage: one timestamped value
// in a logical table, described by a flat label set.
type sample struct {
	Table     monitoring.Table
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
}

// labelFilter narrows a query to samples whose labels match. A nil
// filter matches everything.
type labelFilter func(labels map[string]string) bool

// seriesStore is the primitive every storage engine implements. The
// connector builds the full operation set on top of it, so engines
// stay focused on their write and scan paths.
type seriesStore interface {
	// WriteSamples persists the given samples. Partially applied
	// writes are reported as errors.
	WriteSamples(ctx context.Context, samples []sample) error

	// Query returns the samples of one table within [start, end] that
	// pass the filter. Order is not guaranteed.
	Query(ctx context.Context, table monitoring.Table, start, end time.Time, filter labelFilter) ([]sample, error)

	// EnsureTables provisions the logical tables if absent.
	EnsureTables(ctx context.Context) error

	// DeleteAll removes every sample held for the owning project. Safe
	// to call when no data exists.
	DeleteAll(ctx context.Context) error

	Close() error
}

// parseFilterQuery compiles a filter expression into a label filter.
// The engines here share a label-equality grammar: comma-separated
// `key=value` pairs, all of which must match.
func parseFilterQuery(expr string) (labelFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	want := make(map[string]string)
	for _, pair := range strings.Split(expr, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("malformed filter expression %q: expected key=value[,key=value]", expr)
		}
		want[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	return func(labels map[string]string) bool {
		for k, v := range want {
			if labels[k] != v {
				return false
			}
		}
		return true
	}, nil
}

// andFilters combines filters, skipping nil ones.
func andFilters(filters ...labelFilter) labelFilter {
	active := filters[:0:0]
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(labels map[string]string) bool {
		for _, f := range active {
			if !f(labels) {
				return false
			}
		}
		return true
	}
}

// encodeExtraData flattens a result's extra data into one label value.
func encodeExtraData(extra map[string]string) string {
	raw, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(raw)
}

// endpointFilter matches samples of one endpoint.
func endpointFilter(endpointID string) labelFilter {
	return func(labels map[string]string) bool {
		return labels[labelEndpointID] == endpointID
	}
}

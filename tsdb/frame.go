package tsdb

import (
	"fmt"

	"modelmon/monitoring"
)

// Frame is a tabular query result: named columns over rows. It is the
// return shape of Records.
type Frame struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// tableColumns fixes the column layout of each logical table.
var tableColumns = map[monitoring.Table][]string{
	monitoring.TableAppResults: {
		"timestamp", labelEndpointID, labelApp, labelName, "value",
		labelResultKind, labelStatus, labelExtraData,
	},
	monitoring.TableMetrics: {
		"timestamp", labelEndpointID, labelApp, labelName, "value",
	},
	monitoring.TablePredictions: {
		"timestamp", labelEndpointID, "value",
	},
}

// newFrame builds a frame for one table from its samples, restricted
// to the requested column subset (nil means all columns).
func newFrame(table monitoring.Table, samples []sample, columns []string) (*Frame, error) {
	all := tableColumns[table]
	if columns == nil {
		columns = all
	} else {
		known := make(map[string]bool, len(all))
		for _, c := range all {
			known[c] = true
		}
		for _, c := range columns {
			if !known[c] {
				return nil, fmt.Errorf("table %s has no column %q", table, c)
			}
		}
	}

	f := &Frame{Columns: columns, Rows: make([][]any, 0, len(samples))}
	for _, s := range samples {
		row := make([]any, len(columns))
		for i, c := range columns {
			switch c {
			case "timestamp":
				row[i] = s.Timestamp
			case "value":
				row[i] = s.Value
			default:
				row[i] = s.Labels[c]
			}
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// Column returns the values of one column.
func (f *Frame) Column(name string) ([]any, error) {
	for i, c := range f.Columns {
		if c == name {
			out := make([]any, len(f.Rows))
			for j, row := range f.Rows {
				out[j] = row[i]
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("frame has no column %q", name)
}

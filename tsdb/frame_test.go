package tsdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmon/monitoring"
)

func TestNewFrameAllColumns(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	samples := []sample{
		{Table: monitoring.TablePredictions, Timestamp: ts, Value: 12.5,
			Labels: map[string]string{labelEndpointID: "ep-1"}},
		{Table: monitoring.TablePredictions, Timestamp: ts.Add(time.Second), Value: 20,
			Labels: map[string]string{labelEndpointID: "ep-2"}},
	}

	frame, err := newFrame(monitoring.TablePredictions, samples, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "endpoint_id", "value"}, frame.Columns)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, []any{ts, "ep-1", 12.5}, frame.Rows[0])
}

func TestNewFrameColumnSubset(t *testing.T) {
	samples := []sample{
		{Table: monitoring.TableMetrics, Timestamp: time.Now(), Value: 1,
			Labels: map[string]string{labelEndpointID: "ep-1", labelApp: "app-a", labelName: "m"}},
	}

	frame, err := newFrame(monitoring.TableMetrics, samples, []string{"value", "app"})
	require.NoError(t, err)
	assert.Equal(t, []string{"value", "app"}, frame.Columns)
	assert.Equal(t, []any{1.0, "app-a"}, frame.Rows[0])

	_, err = newFrame(monitoring.TableMetrics, samples, []string{"no_such_column"})
	assert.Error(t, err)
}

func TestFrameColumn(t *testing.T) {
	frame := &Frame{
		Columns: []string{"timestamp", "value"},
		Rows:    [][]any{{time.Now(), 1.0}, {time.Now(), 2.0}},
	}

	values, err := frame.Column("value")
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, values)

	_, err = frame.Column("missing")
	assert.Error(t, err)
}

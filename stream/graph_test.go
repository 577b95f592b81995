package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmon/monitoring"
)

func TestGraphRunsStepsInOrder(t *testing.T) {
	graph := NewGraph()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		graph.AddStep(StepFunc{StepName: name, Fn: func(ctx context.Context, event monitoring.ServingEvent) error {
			order = append(order, name)
			return nil
		}})
	}

	require.NoError(t, graph.Process(context.Background(), monitoring.ServingEvent{EndpointID: "ep"}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, []string{"first", "second", "third"}, graph.Steps())
}

func TestGraphFailingStepAbortsEvent(t *testing.T) {
	graph := NewGraph()
	boom := errors.New("boom")

	ran := false
	graph.AddStep(StepFunc{StepName: "failing", Fn: func(ctx context.Context, event monitoring.ServingEvent) error {
		return boom
	}})
	graph.AddStep(StepFunc{StepName: "after", Fn: func(ctx context.Context, event monitoring.ServingEvent) error {
		ran = true
		return nil
	}})

	err := graph.Process(context.Background(), monitoring.ServingEvent{EndpointID: "ep"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")
	assert.False(t, ran)
}

func TestGraphEventReachesEveryStep(t *testing.T) {
	graph := NewGraph()

	var seen monitoring.ServingEvent
	graph.AddStep(StepFunc{StepName: "capture", Fn: func(ctx context.Context, event monitoring.ServingEvent) error {
		seen = event
		return nil
	}})

	event := monitoring.ServingEvent{
		EndpointID: "ep-1",
		LatencyMS:  12,
		Features:   map[string]float64{"age": 30},
	}
	require.NoError(t, graph.Process(context.Background(), event))
	assert.Equal(t, event, seen)
}

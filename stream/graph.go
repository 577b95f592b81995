// Package stream implements the monitoring stream-processing graph.
// Incoming serving events flow through an ordered list of steps; the
// TSDB connector contributes the persistence steps, other components
// (e.g. the live WebSocket feed) can attach their own.
package stream

import (
	"context"
	"fmt"
	"sync"

	"modelmon/monitoring"
)

// Step is one stage of the monitoring graph.
type Step interface {
	Name() string
	Process(ctx context.Context, event monitoring.ServingEvent) error
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, event monitoring.ServingEvent) error
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Process(ctx context.Context, event monitoring.ServingEvent) error {
	return s.Fn(ctx, event)
}

// Graph is an ordered pipeline of steps. Steps run in registration
// order for every event; a failing step aborts the event.
type Graph struct {
	mu    sync.RWMutex
	steps []Step
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// AddStep appends a step to the pipeline.
func (g *Graph) AddStep(step Step) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps = append(g.steps, step)
}

// Steps returns the registered step names in order.
func (g *Graph) Steps() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.steps))
	for _, s := range g.steps {
		names = append(names, s.Name())
	}
	return names
}

// Process runs the event through every step in order.
func (g *Graph) Process(ctx context.Context, event monitoring.ServingEvent) error {
	g.mu.RLock()
	steps := g.steps
	g.mu.RUnlock()

	for _, step := range steps {
		if err := step.Process(ctx, event); err != nil {
			return fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
	}
	return nil
}

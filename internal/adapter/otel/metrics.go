package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "reactor"

// Metrics holds all reactor metric instruments.
type Metrics struct {
	AgentsPrepared metric.Int64Counter
	AgentsStarted  metric.Int64Counter
	AgentsFaulted  metric.Int64Counter
	AgentsDropped  metric.Int64Counter
	MessagesSaved  metric.Int64Counter
	StartDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AgentsPrepared, err = meter.Int64Counter("reactor.agents.prepared",
		metric.WithDescription("Number of agents compiled and bound to a session"))
	if err != nil {
		return nil, err
	}

	m.AgentsStarted, err = meter.Int64Counter("reactor.agents.started",
		metric.WithDescription("Number of agents whose top-level run completed"))
	if err != nil {
		return nil, err
	}

	m.AgentsFaulted, err = meter.Int64Counter("reactor.agents.faulted",
		metric.WithDescription("Number of agent script faults"))
	if err != nil {
		return nil, err
	}

	m.AgentsDropped, err = meter.Int64Counter("reactor.agents.dropped",
		metric.WithDescription("Number of agents dropped during preparation"))
	if err != nil {
		return nil, err
	}

	m.MessagesSaved, err = meter.Int64Counter("reactor.messages.saved",
		metric.WithDescription("Number of messages saved through sessions"))
	if err != nil {
		return nil, err
	}

	m.StartDuration, err = meter.Float64Histogram("reactor.start.duration_seconds",
		metric.WithDescription("Reactor start duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all voxelbrain metric instruments.
type Metrics struct {
	CycleDuration    metric.Float64Histogram
	DispatchDuration metric.Float64Histogram
	DispatchBlocked  metric.Int64Counter
	DispatchFailures metric.Int64Counter
	SkillDuration    metric.Float64Histogram
	SkillFailures    metric.Int64Counter
	EventsDeferred   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CycleDuration, err = meter.Float64Histogram("voxelbrain.cycle.duration",
		metric.WithDescription("Brain event cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("voxelbrain.dispatch.duration",
		metric.WithDescription("Action dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchBlocked, err = meter.Int64Counter("voxelbrain.dispatch.blocked",
		metric.WithDescription("Dispatches rejected by gating or the blacklist"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchFailures, err = meter.Int64Counter("voxelbrain.dispatch.failures",
		metric.WithDescription("Dispatched actions whose result classified as failure"),
	)
	if err != nil {
		return nil, err
	}

	m.SkillDuration, err = meter.Float64Histogram("voxelbrain.skill.duration",
		metric.WithDescription("Skill execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SkillFailures, err = meter.Int64Counter("voxelbrain.skill.failures",
		metric.WithDescription("Skill runs that returned failure or were interrupted"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsDeferred, err = meter.Int64Counter("voxelbrain.events.deferred",
		metric.WithDescription("Events deferred because a skill was in flight"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for voxelbrain spans.
var (
	AttrAgentID    = attribute.Key("voxelbrain.agent.id")
	AttrCycleKind  = attribute.Key("voxelbrain.cycle.kind")
	AttrAction     = attribute.Key("voxelbrain.action.name")
	AttrCanonKey   = attribute.Key("voxelbrain.action.canon_key")
	AttrSkillName  = attribute.Key("voxelbrain.skill.name")
	AttrSkillPhase = attribute.Key("voxelbrain.skill.phase")
	AttrLLMTier    = attribute.Key("voxelbrain.llm.tier")
	AttrModel      = attribute.Key("voxelbrain.llm.model")
	AttrTraceID    = attribute.Key("voxelbrain.trace.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM RPC, game client,
// neural-combat coprocessor).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

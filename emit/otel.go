package emit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter converts lifecycle events into OpenTelemetry spans, one
// instantaneous span per event, tagged with job/step/correlation
// attributes so a trace backend can reconstruct a job's timeline.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter builds an OTelEmitter from a configured tracer, e.g.
// otel.Tracer("jobengine").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Type))
	defer span.End()

	span.SetAttributes(
		attribute.String("job_id", event.JobID),
		attribute.String("correlation_id", event.CorrelationID),
		attribute.String("step_id", event.StepID),
		attribute.String("agent_id", event.AgentID),
	)

	if errMsg, ok := event.Payload["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
	}
}

func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		o.Emit(e)
	}
	return nil
}

func (o *OTelEmitter) Flush(context.Context) error { return nil }

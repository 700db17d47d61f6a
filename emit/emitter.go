package emit

import "context"

// Emitter receives lifecycle events from the Job Execution Engine. Per job,
// events are delivered in commit order; across jobs, no ordering is
// guaranteed. Implementations must not block job execution for long and
// must never panic — emission failures are a logging concern, never a job
// failure.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}

// MultiEmitter fans one event out to several backends, e.g. a LogEmitter
// for operators and an OTelEmitter for tracing.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter builds a fan-out Emitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

func (m *MultiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.EmitBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiEmitter) Flush(ctx context.Context) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

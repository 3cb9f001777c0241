package trace

import "context"

// Handler is the interface for trace backends. Implementations receive
// lifecycle events during a run and can record, export, or forward them.
type Handler interface {
	// StartRun starts the root run span.
	StartRun(ctx context.Context) context.Context
	// EndRun ends the root run span.
	EndRun(ctx context.Context, err error)

	// StartStage starts a stage span (route, plan, step, or critique) as a
	// child of the current span.
	StartStage(ctx context.Context, kind SpanKind, name string) context.Context
	// EndStage ends the current stage span.
	EndStage(ctx context.Context, err error)

	// StartLLMCall starts an llm_call span.
	StartLLMCall(ctx context.Context) context.Context
	// EndLLMCall ends an llm_call span with the given data.
	EndLLMCall(ctx context.Context, data *LLMCallData, err error)

	// StartToolExec starts a tool_exec span.
	StartToolExec(ctx context.Context, toolName string, args map[string]any) context.Context
	// EndToolExec ends a tool_exec span with the result.
	EndToolExec(ctx context.Context, result map[string]any, err error)

	// AddEvent adds an event to the current span.
	AddEvent(ctx context.Context, kind string, data any)

	// Finish completes the trace and performs any final operations.
	Finish(ctx context.Context) error
}

type handlerKey struct{}

// WithHandler stores the Handler in the context.
func WithHandler(ctx context.Context, h Handler) context.Context {
	return context.WithValue(ctx, handlerKey{}, h)
}

// HandlerFrom retrieves the Handler from the context. Returns nil if not set.
func HandlerFrom(ctx context.Context) Handler {
	h, _ := ctx.Value(handlerKey{}).(Handler)
	return h
}

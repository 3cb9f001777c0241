// Package logger provides a trace.Handler that emits run events via slog.
package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/steward/trace"
)

// Event represents a trace event type that can be selectively enabled.
type Event int

const (
	// Run enables logging of run start/end.
	Run Event = iota
	// Stage enables logging of route/plan/step/critique stages.
	Stage
	// LLMCall enables logging of model calls (agent, model, token usage).
	LLMCall
	// ToolExec enables logging of tool execution (name, args, result, duration).
	ToolExec
	// CustomEvent enables logging of emitter-defined events.
	CustomEvent

	eventCount // sentinel for iteration
)

type config struct {
	logger *slog.Logger
	events map[Event]bool
}

// Option configures the logger handler.
type Option func(*config)

// WithLogger sets a custom slog.Logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithEvents enables only the specified event types.
// When not specified, all events are enabled.
func WithEvents(events ...Event) Option {
	return func(c *config) {
		c.events = make(map[Event]bool, len(events))
		for _, e := range events {
			c.events[e] = true
		}
	}
}

// handler implements trace.Handler by logging events via slog.
type handler struct {
	cfg config
}

// New creates a new trace.Handler that logs trace events via slog.
// By default, all events are enabled. Use WithEvents to enable only specific events.
func New(opts ...Option) trace.Handler {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.events == nil {
		cfg.events = make(map[Event]bool, eventCount)
		for i := Event(0); i < eventCount; i++ {
			cfg.events[i] = true
		}
	}

	return &handler{cfg: cfg}
}

func (h *handler) logger() *slog.Logger {
	if h.cfg.logger != nil {
		return h.cfg.logger
	}
	return slog.Default()
}

func (h *handler) enabled(e Event) bool {
	return h.cfg.events[e]
}

type startTimeKey struct{}

func withStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey{}, t)
}

func startTimeFrom(ctx context.Context) time.Time {
	t, _ := ctx.Value(startTimeKey{}).(time.Time)
	return t
}

type stageInfoKey struct{}

type stageInfo struct {
	kind trace.SpanKind
	name string
}

func withStageInfo(ctx context.Context, info stageInfo) context.Context {
	return context.WithValue(ctx, stageInfoKey{}, info)
}

func stageInfoFrom(ctx context.Context) stageInfo {
	info, _ := ctx.Value(stageInfoKey{}).(stageInfo)
	return info
}

type toolInfoKey struct{}

type toolInfo struct {
	name string
	args map[string]any
}

func withToolInfo(ctx context.Context, info toolInfo) context.Context {
	return context.WithValue(ctx, toolInfoKey{}, info)
}

func toolInfoFrom(ctx context.Context) toolInfo {
	info, _ := ctx.Value(toolInfoKey{}).(toolInfo)
	return info
}

// StartRun logs run start.
func (h *handler) StartRun(ctx context.Context) context.Context {
	if h.enabled(Run) {
		h.logger().InfoContext(ctx, "run started")
	}
	return withStartTime(ctx, time.Now())
}

// EndRun logs run end with duration and error info.
func (h *handler) EndRun(ctx context.Context, err error) {
	if !h.enabled(Run) {
		return
	}

	attrs := []any{
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.logger().InfoContext(ctx, "run ended", attrs...)
}

// StartStage logs stage start and stores its identity in context.
func (h *handler) StartStage(ctx context.Context, kind trace.SpanKind, name string) context.Context {
	ctx = withStartTime(ctx, time.Now())
	ctx = withStageInfo(ctx, stageInfo{kind: kind, name: name})
	if h.enabled(Stage) {
		h.logger().InfoContext(ctx, "stage started",
			slog.String("kind", string(kind)),
			slog.String("name", name),
		)
	}
	return ctx
}

// EndStage logs stage end with duration and error info.
func (h *handler) EndStage(ctx context.Context, err error) {
	if !h.enabled(Stage) {
		return
	}

	info := stageInfoFrom(ctx)
	attrs := []any{
		slog.String("kind", string(info.kind)),
		slog.String("name", info.name),
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.logger().InfoContext(ctx, "stage ended", attrs...)
}

// StartLLMCall records the start time for duration calculation.
func (h *handler) StartLLMCall(ctx context.Context) context.Context {
	return withStartTime(ctx, time.Now())
}

// EndLLMCall logs model call details.
func (h *handler) EndLLMCall(ctx context.Context, data *trace.LLMCallData, err error) {
	if !h.enabled(LLMCall) {
		return
	}

	attrs := []any{
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if data != nil {
		attrs = append(attrs,
			slog.String("agent", data.Agent),
			slog.String("model", data.Model),
			slog.Int("input_tokens", data.InputTokens),
			slog.Int("output_tokens", data.OutputTokens),
		)
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.logger().InfoContext(ctx, "llm call", attrs...)
}

// StartToolExec records the start time and tool info for EndToolExec.
func (h *handler) StartToolExec(ctx context.Context, toolName string, args map[string]any) context.Context {
	ctx = withStartTime(ctx, time.Now())
	ctx = withToolInfo(ctx, toolInfo{name: toolName, args: args})
	return ctx
}

// EndToolExec logs tool execution details.
func (h *handler) EndToolExec(ctx context.Context, result map[string]any, err error) {
	if !h.enabled(ToolExec) {
		return
	}

	info := toolInfoFrom(ctx)
	attrs := []any{
		slog.String("tool", info.name),
		slog.Any("args", info.args),
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
		slog.Any("result", result),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.logger().InfoContext(ctx, "tool execution", attrs...)
}

// AddEvent logs a custom event.
func (h *handler) AddEvent(ctx context.Context, kind string, data any) {
	if !h.enabled(CustomEvent) {
		return
	}
	h.logger().InfoContext(ctx, "event",
		slog.String("kind", kind),
		slog.Any("data", data),
	)
}

// Finish does nothing for the logger handler.
func (h *handler) Finish(_ context.Context) error {
	return nil
}

package trace_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward/trace"
)

func TestRecorderBuildsSpanTree(t *testing.T) {
	rec := trace.New(trace.WithMetadata(trace.TraceMetadata{
		SessionID: "session-1",
		Goal:      "answer the question",
	}))

	ctx := rec.StartRun(context.Background())

	stageCtx := rec.StartStage(ctx, trace.SpanKindStep, "step_1")
	llmCtx := rec.StartLLMCall(stageCtx)
	rec.EndLLMCall(llmCtx, &trace.LLMCallData{Agent: "chat", InputTokens: 12, OutputTokens: 5}, nil)
	toolCtx := rec.StartToolExec(stageCtx, "lookup", map[string]any{"query": "x"})
	rec.EndToolExec(toolCtx, map[string]any{"answer": "y"}, nil)
	rec.EndStage(stageCtx, nil)

	rec.AddEvent(ctx, "transition", "supervisor: next=FINALIZE")
	rec.EndRun(ctx, nil)

	tr := rec.Trace()
	gt.True(t, tr != nil)
	gt.True(t, tr.TraceID != "")
	gt.Equal(t, "session-1", tr.Metadata.SessionID)
	gt.False(t, tr.EndedAt.IsZero())

	root := tr.RootSpan
	gt.Equal(t, trace.SpanKindRun, root.Kind)
	gt.Equal(t, trace.SpanStatusOK, root.Status)
	gt.Equal(t, 2, len(root.Children))

	step := root.Children[0]
	gt.Equal(t, trace.SpanKindStep, step.Kind)
	gt.Equal(t, "step_1", step.Name)
	gt.Equal(t, root.SpanID, step.ParentID)
	gt.Equal(t, 2, len(step.Children))

	llm := step.Children[0]
	gt.Equal(t, trace.SpanKindLLMCall, llm.Kind)
	gt.Equal(t, "llm_call:chat", llm.Name)
	gt.Equal(t, 12, llm.LLMCall.InputTokens)

	tool := step.Children[1]
	gt.Equal(t, trace.SpanKindToolExec, tool.Kind)
	gt.Equal(t, "lookup", tool.ToolExec.ToolName)
	gt.Equal(t, map[string]any{"answer": "y"}, tool.ToolExec.Result)

	event := root.Children[1]
	gt.Equal(t, trace.SpanKindEvent, event.Kind)
	gt.Equal(t, "transition", event.Event.Kind)
}

func TestRecorderErrorStatus(t *testing.T) {
	rec := trace.New()
	ctx := rec.StartRun(context.Background())

	stageCtx := rec.StartStage(ctx, trace.SpanKindPlan, "plan")
	rec.EndStage(stageCtx, errors.New("planner output rejected"))
	rec.EndRun(ctx, errors.New("run failed"))

	tr := rec.Trace()
	gt.Equal(t, trace.SpanStatusError, tr.RootSpan.Status)
	gt.Equal(t, "run failed", tr.RootSpan.Error)

	plan := tr.RootSpan.Children[0]
	gt.Equal(t, trace.SpanStatusError, plan.Status)
	gt.Equal(t, "planner output rejected", plan.Error)
}

func TestRecorderNoRunIsNoop(t *testing.T) {
	rec := trace.New()

	// Child spans without an active run attach nowhere and do not panic.
	ctx := rec.StartStage(context.Background(), trace.SpanKindRoute, "route")
	rec.EndStage(ctx, nil)
	rec.AddEvent(ctx, "transition", "nothing")

	gt.True(t, rec.Trace() == nil)
	gt.NoError(t, rec.Finish(context.Background()))
}

func TestRecorderFinishPersists(t *testing.T) {
	dir := t.TempDir()
	rec := trace.New(
		trace.WithRepository(trace.NewFileRepository(dir)),
		trace.WithTraceID("trace-xyz"),
	)

	ctx := rec.StartRun(context.Background())
	rec.EndRun(ctx, nil)
	gt.NoError(t, rec.Finish(ctx))

	data := gt.R1(os.ReadFile(filepath.Join(dir, "trace-xyz.json"))).NoError(t)
	var stored trace.Trace
	gt.NoError(t, json.Unmarshal(data, &stored))
	gt.Equal(t, "trace-xyz", stored.TraceID)
	gt.Equal(t, trace.SpanKindRun, stored.RootSpan.Kind)
}

func TestFileRepositoryLoadAndList(t *testing.T) {
	dir := t.TempDir()
	repo := trace.NewFileRepository(dir)

	for _, id := range []string{"trace-b", "trace-a"} {
		rec := trace.New(trace.WithRepository(repo), trace.WithTraceID(id))
		ctx := rec.StartRun(context.Background())
		rec.EndRun(ctx, nil)
		gt.NoError(t, rec.Finish(ctx))
	}

	loaded := gt.R1(repo.Load(context.Background(), "trace-a")).NoError(t)
	gt.Equal(t, "trace-a", loaded.TraceID)
	gt.Equal(t, trace.SpanKindRun, loaded.RootSpan.Kind)

	ids := gt.R1(repo.List(context.Background())).NoError(t)
	gt.Equal(t, []string{"trace-a", "trace-b"}, ids)

	_, err := repo.Load(context.Background(), "trace-missing")
	gt.True(t, errors.Is(err, trace.ErrTraceNotFound))

	// A repository over a directory that was never written lists nothing.
	empty := trace.NewFileRepository(filepath.Join(dir, "absent"))
	gt.Equal(t, 0, len(gt.R1(empty.List(context.Background())).NoError(t)))
}

func TestMultiHandlerIsolatesRecorders(t *testing.T) {
	a := trace.New()
	b := trace.New()
	multi := trace.Multi(a, b)

	ctx := multi.StartRun(context.Background())
	stageCtx := multi.StartStage(ctx, trace.SpanKindStep, "step_1")
	multi.EndStage(stageCtx, nil)
	multi.EndRun(ctx, nil)
	gt.NoError(t, multi.Finish(ctx))

	for _, rec := range []*trace.Recorder{a, b} {
		tr := rec.Trace()
		gt.True(t, tr != nil)
		gt.Equal(t, 1, len(tr.RootSpan.Children))
		gt.Equal(t, "step_1", tr.RootSpan.Children[0].Name)
	}

	// Independent trees, not shared spans.
	gt.True(t, a.Trace().RootSpan.SpanID != b.Trace().RootSpan.SpanID)
}

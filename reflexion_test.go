package steward_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
	"github.com/m-mizutani/steward/vectorstore"
)

// axisEmbedder maps each known text to a fixed axis so similarity between
// texts is fully controlled by the test.
type axisEmbedder struct {
	axes map[string][]float64
}

func (e *axisEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, ok := e.axes[text]
		if !ok {
			v = []float64{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func TestReflexionRecordAndRecall(t *testing.T) {
	ctx := context.Background()
	embedder := &axisEmbedder{axes: map[string][]float64{
		"summarize the access logs": {1, 0, 0},
		"count failed logins":       {0, 1, 0},
		"summarize the error logs":  {0.95, 0.3, 0}, // close to the first prompt
	}}
	memory := steward.NewReflexionMemory(vectorstore.NewMemoryStore(), embedder)

	gt.NoError(t, memory.Record(ctx, &steward.ReflexionEntry{
		Prompt:       "summarize the access logs",
		FailedOutput: "vague summary",
		Critique:     "no request counts",
		Fix:          "include per-path request counts",
	}))
	gt.NoError(t, memory.Record(ctx, &steward.ReflexionEntry{
		Prompt:   "count failed logins",
		Critique: "counted successes instead",
	}))

	lessons := gt.R1(memory.Lessons(ctx, "summarize the error logs")).NoError(t)
	gt.Equal(t, 1, len(lessons))
	gt.Equal(t, "summarize the access logs", lessons[0].Prompt)
	gt.Equal(t, "include per-path request counts", lessons[0].Fix)
	gt.True(t, lessons[0].ID != "")
	gt.False(t, lessons[0].CreatedAt.IsZero())
}

func TestReflexionThresholdFiltersDistantLessons(t *testing.T) {
	ctx := context.Background()
	embedder := &axisEmbedder{axes: map[string][]float64{
		"unrelated prompt": {1, 0, 0},
		"new goal":         {0, 1, 0},
	}}
	memory := steward.NewReflexionMemory(vectorstore.NewMemoryStore(), embedder)

	gt.NoError(t, memory.Record(ctx, &steward.ReflexionEntry{
		Prompt:   "unrelated prompt",
		Critique: "irrelevant",
	}))

	lessons := gt.R1(memory.Lessons(ctx, "new goal")).NoError(t)
	gt.Equal(t, 0, len(lessons))
}

func TestReflexionLessonLimit(t *testing.T) {
	ctx := context.Background()
	embedder := &axisEmbedder{axes: map[string][]float64{}}
	for _, p := range []string{"p1", "p2", "p3"} {
		embedder.axes[p] = []float64{0, 0, 1}
	}
	embedder.axes["goal"] = []float64{0, 0, 1}

	memory := steward.NewReflexionMemory(vectorstore.NewMemoryStore(), embedder,
		steward.WithLessonLimit(2),
	)
	for _, p := range []string{"p1", "p2", "p3"} {
		gt.NoError(t, memory.Record(ctx, &steward.ReflexionEntry{Prompt: p, Critique: "failed"}))
	}

	lessons := gt.R1(memory.Lessons(ctx, "goal")).NoError(t)
	gt.Equal(t, 2, len(lessons))
}

func TestReflexionClear(t *testing.T) {
	ctx := context.Background()
	embedder := &axisEmbedder{axes: map[string][]float64{
		"prompt": {0, 0, 1},
		"goal":   {0, 0, 1},
	}}
	memory := steward.NewReflexionMemory(vectorstore.NewMemoryStore(), embedder)

	gt.NoError(t, memory.Record(ctx, &steward.ReflexionEntry{Prompt: "prompt", Critique: "failed"}))
	gt.NoError(t, memory.Clear(ctx))

	lessons := gt.R1(memory.Lessons(ctx, "goal")).NoError(t)
	gt.Equal(t, 0, len(lessons))
}

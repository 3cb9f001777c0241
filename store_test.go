package steward_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
	"github.com/m-mizutani/steward/storage"
)

func TestStoreAppendAndGet(t *testing.T) {
	store := steward.NewSessionStore()
	gt.NotEqual(t, "", store.SessionID())

	user := steward.NewUserMessage("hello", nil, "")
	store.Append(user)
	reply := steward.NewAssistantMessage(steward.KindChat)
	store.Append(reply)

	gt.Equal(t, 2, store.Len())
	got, ok := store.Get(reply.ID)
	gt.True(t, ok)
	gt.True(t, got.Loading)

	_, ok = store.Get("missing")
	gt.False(t, ok)
}

func TestStoreStreamingMonotonic(t *testing.T) {
	store := steward.NewSessionStore()
	reply := steward.NewAssistantMessage(steward.KindChat)
	store.Append(reply)

	var snapshots []string
	store.Subscribe(func(msg steward.Message) {
		if msg.ID == reply.ID {
			snapshots = append(snapshots, msg.Content)
		}
	})

	gt.NoError(t, store.UpdateContent(reply.ID, "Hel"))
	gt.NoError(t, store.UpdateContent(reply.ID, "Hello wor"))
	gt.NoError(t, store.Finalize(reply.ID, "Hello world"))

	gt.Equal(t, []string{"Hel", "Hello wor", "Hello world"}, snapshots)

	// A shorter payload is stale and dropped without notifying subscribers.
	gt.NoError(t, store.UpdateContent(reply.ID, "Hello"))
	gt.Equal(t, 3, len(snapshots))

	got, ok := store.Get(reply.ID)
	gt.True(t, ok)
	gt.False(t, got.Loading)
	gt.Equal(t, "Hello world", got.Content)
}

func TestStoreAttachments(t *testing.T) {
	store := steward.NewSessionStore()
	reply := steward.NewAssistantMessage(steward.KindChat)
	store.Append(reply)

	plan := steward.NewPlan("goal", []steward.PlanStep{
		{ID: "a", Description: "a", Agent: steward.KindChat},
	})
	gt.NoError(t, store.AttachPlan(reply.ID, plan))
	gt.NoError(t, store.AttachCritique(reply.ID, &steward.CritiqueResult{Faithfulness: 4, Coherence: 4, Coverage: 4}))
	gt.NoError(t, store.AppendTrace(reply.ID, "step a dispatched"))
	gt.NoError(t, store.SetAgent(reply.ID, steward.KindResearch))
	gt.NoError(t, store.SetSources(reply.ID, []steward.GroundingSource{{Title: "t", URL: "https://example.com"}}))

	got, ok := store.Get(reply.ID)
	gt.True(t, ok)
	gt.Equal(t, plan.ID(), got.Plan.ID())
	gt.Equal(t, steward.KindResearch, got.Agent)
	gt.Equal(t, 1, len(got.Trace))
	gt.Equal(t, 1, len(got.Sources))

	// Snapshots are copies: mutating one does not change the store.
	got.Trace[0] = "tampered"
	again, _ := store.Get(reply.ID)
	gt.Equal(t, "step a dispatched", again.Trace[0])
}

func TestStorePersistRestore(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewLocalRepository(t.TempDir())

	store := steward.NewSessionStore(
		steward.WithStoreRepository(repo),
		steward.WithStoreSessionID("session-x"),
	)
	store.Append(steward.NewUserMessage("question", nil, ""))
	reply := steward.NewAssistantMessage(steward.KindChat)
	store.Append(reply)
	gt.NoError(t, store.Persist(ctx))

	restored := steward.NewSessionStore(
		steward.WithStoreRepository(repo),
		steward.WithStoreSessionID("session-x"),
	)
	gt.NoError(t, restored.Restore(ctx))
	gt.Equal(t, 2, restored.Len())

	// An interrupted run's loading message is finalized on restore.
	msg, ok := restored.Get(reply.ID)
	gt.True(t, ok)
	gt.False(t, msg.Loading)
}

func TestStoreRestoreMissingSnapshot(t *testing.T) {
	store := steward.NewSessionStore(
		steward.WithStoreRepository(storage.NewLocalRepository(t.TempDir())),
		steward.WithStoreSessionID("never-saved"),
	)
	gt.NoError(t, store.Restore(context.Background()))
	gt.Equal(t, 0, store.Len())
}

func TestStoreRestoreVersionMismatch(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewLocalRepository(t.TempDir())
	gt.NoError(t, repo.Save(ctx, "old-session", []byte(`{"version": 99, "session_id": "old-session", "messages": [{"id": "m1", "role": "user", "content": "hi"}]}`)))

	store := steward.NewSessionStore(
		steward.WithStoreRepository(repo),
		steward.WithStoreSessionID("old-session"),
	)
	err := store.Restore(ctx)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, steward.ErrInvalidSnapshotVersion))
	gt.Equal(t, 0, store.Len())
}

func TestStoreRecent(t *testing.T) {
	store := steward.NewSessionStore()
	for _, content := range []string{"one", "two", "three"} {
		store.Append(steward.NewUserMessage(content, nil, ""))
	}

	recent := store.Recent(2)
	gt.Equal(t, 2, len(recent))
	gt.Equal(t, "two", recent[0].Content)
	gt.Equal(t, "three", recent[1].Content)
}

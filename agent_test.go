package steward_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

func TestParseAgentKind(t *testing.T) {
	kind := gt.R1(steward.ParseAgentKind("coder")).NoError(t)
	gt.Equal(t, steward.KindCoder, kind)

	_, err := steward.ParseAgentKind("translator")
	gt.True(t, errors.Is(err, steward.ErrUnknownAgentKind))

	// The terminal sentinel is not a kind.
	_, err = steward.ParseAgentKind("FINALIZE")
	gt.True(t, errors.Is(err, steward.ErrUnknownAgentKind))
}

func TestAgentKindClassification(t *testing.T) {
	gt.True(t, steward.KindRouter.IsMeta())
	gt.True(t, steward.KindSupervisor.IsMeta())
	gt.True(t, steward.KindEmbedder.IsInternal())
	gt.False(t, steward.KindChat.IsMeta())
	gt.False(t, steward.KindChat.IsInternal())
	gt.False(t, steward.Finalize.IsValid())
}

func TestDefaultRegistry(t *testing.T) {
	registry := gt.R1(steward.DefaultRegistry()).NoError(t)

	for _, kind := range []steward.AgentKind{
		steward.KindChat, steward.KindResearch, steward.KindCoder,
		steward.KindVision, steward.KindCreative, steward.KindAnalyst,
		steward.KindMaintenance,
		steward.KindRouter, steward.KindPlanner, steward.KindSupervisor,
		steward.KindCritic, steward.KindRefine,
	} {
		gt.True(t, registry.Has(kind))
	}

	userFacing := registry.UserFacing()
	for _, kind := range userFacing {
		gt.False(t, kind.IsMeta())
		gt.False(t, kind.IsInternal())
	}
	gt.Equal(t, userFacing, registry.Plannable())
}

func TestRegistryModelOverride(t *testing.T) {
	registry := gt.R1(steward.DefaultRegistry(
		steward.WithModelOverride(steward.KindCoder, "gemini-2.5-pro"),
	)).NoError(t)

	def := gt.R1(registry.Get(steward.KindCoder)).NoError(t)
	gt.Equal(t, "gemini-2.5-pro", def.Model)

	chat := gt.R1(registry.Get(steward.KindChat)).NoError(t)
	gt.NotEqual(t, "", chat.Model)
}

func TestNewRegistryRejections(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		_, err := steward.NewRegistry([]steward.AgentDefinition{
			{Kind: steward.AgentKind("wizard"), Model: "m"},
		})
		gt.True(t, errors.Is(err, steward.ErrInvalidRegistry))
	})

	t.Run("finalize sentinel", func(t *testing.T) {
		_, err := steward.NewRegistry([]steward.AgentDefinition{
			{Kind: steward.Finalize, Model: "m"},
		})
		gt.True(t, errors.Is(err, steward.ErrInvalidRegistry))
	})

	t.Run("duplicate kind", func(t *testing.T) {
		_, err := steward.NewRegistry([]steward.AgentDefinition{
			{Kind: steward.KindChat, Model: "m"},
			{Kind: steward.KindChat, Model: "m"},
		})
		gt.True(t, errors.Is(err, steward.ErrInvalidRegistry))
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := steward.NewRegistry([]steward.AgentDefinition{
			{Kind: steward.KindChat},
		})
		gt.True(t, errors.Is(err, steward.ErrInvalidRegistry))
	})

	t.Run("bad template", func(t *testing.T) {
		_, err := steward.NewRegistry([]steward.AgentDefinition{
			{Kind: steward.KindChat, Model: "m", Instruction: "{{.Broken"},
		})
		gt.True(t, errors.Is(err, steward.ErrInvalidRegistry))
	})
}

func TestRegistryInstruction(t *testing.T) {
	registry := gt.R1(steward.NewRegistry([]steward.AgentDefinition{
		{Kind: steward.KindChat, Model: "m", Instruction: "Goal: {{.Goal}}"},
	})).NoError(t)

	rendered := gt.R1(registry.Instruction(steward.KindChat, map[string]string{"Goal": "summarize"})).NoError(t)
	gt.True(t, strings.Contains(rendered, "Goal: summarize"))

	_, err := registry.Instruction(steward.KindCoder, nil)
	gt.True(t, errors.Is(err, steward.ErrUnknownAgentKind))
}

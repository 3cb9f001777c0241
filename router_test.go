package steward_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

func newTestRouter(t *testing.T, respond mockResponder) (*steward.Router, *mockClient) {
	t.Helper()
	client := newMockClient(respond)
	registry := testRegistry(t)
	gateway := steward.NewGateway(client, registry)
	return steward.NewRouter(gateway, registry), client
}

func TestRouteSelectsAgent(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		gt.Equal(t, "model:router", cfg.Model())
		prompt := joinInputs(inputs)
		gt.True(t, strings.Contains(prompt, "profile the repository"))
		gt.True(t, strings.Contains(prompt, "- coder:"))
		return textResp(`{"agent": "coder", "complexity": 7, "reason": "code heavy"}`), nil
	})

	decision := gt.R1(router.Route(context.Background(), "profile the repository", nil)).NoError(t)
	gt.Equal(t, steward.KindCoder, decision.Agent)
	gt.Equal(t, 7, decision.Complexity)
}

func TestRouteNormalizesAgentCase(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		return textResp(`{"agent": " Research ", "complexity": 4}`), nil
	})

	decision := gt.R1(router.Route(context.Background(), "look this up", nil)).NoError(t)
	gt.Equal(t, steward.KindResearch, decision.Agent)
}

func TestRouteFallsBackOnModelFailure(t *testing.T) {
	router, client := newTestRouter(t, func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		return nil, goerr.New("invalid argument")
	})

	decision := gt.R1(router.Route(context.Background(), "hello", nil)).NoError(t)
	gt.Equal(t, steward.KindChat, decision.Agent)
	gt.Equal(t, 1, decision.Complexity)
	gt.Equal(t, 1, client.callCount())
}

func TestRouteFallsBackOnGarbageOutput(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		return textResp("I would pick the coder agent, probably."), nil
	})

	decision := gt.R1(router.Route(context.Background(), "hello", nil)).NoError(t)
	gt.Equal(t, steward.KindChat, decision.Agent)
}

func TestRouteRejectsNonUserFacingKind(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		return textResp(`{"agent": "supervisor", "complexity": 9}`), nil
	})

	decision := gt.R1(router.Route(context.Background(), "hello", nil)).NoError(t)
	gt.Equal(t, steward.KindChat, decision.Agent)
	gt.True(t, strings.Contains(decision.Reason, "supervisor"))
}

func TestRoutePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	router, _ := newTestRouter(t, func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := router.Route(ctx, "hello", nil)
	gt.Error(t, err)
}

func TestRouteIncludesRecentMessages(t *testing.T) {
	var prompt string
	router, _ := newTestRouter(t, func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		prompt = joinInputs(inputs)
		return textResp(`{"agent": "chat", "complexity": 2}`), nil
	})

	recent := []steward.Message{
		{Role: steward.RoleUser, Content: "earlier question"},
		{Role: steward.RoleAssistant, Content: "earlier answer"},
	}
	gt.R1(router.Route(context.Background(), "follow up", recent)).NoError(t)
	gt.True(t, strings.Contains(prompt, "earlier question"))
	gt.True(t, strings.Contains(prompt, "earlier answer"))
}

package steward

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/steward/trace"
)

// routeHistoryWindow bounds how many recent messages feed the routing call.
const routeHistoryWindow = 5

const routerDecisionSchema = `{
	"type": "object",
	"properties": {
		"agent": {"type": "string"},
		"complexity": {"type": "integer", "minimum": 1, "maximum": 10},
		"reason": {"type": "string"}
	},
	"required": ["agent", "complexity"]
}`

var compiledRouterSchema = mustCompileSchema("router_decision.json", routerDecisionSchema)

// RouteDecision is the classification result for one user request.
type RouteDecision struct {
	Agent      AgentKind `json:"agent"`
	Complexity int       `json:"complexity"`
	Reason     string    `json:"reason"`
}

// Router classifies a user request into a user-facing agent kind. It never
// returns an unregistered kind: any classification failure degrades to
// KindChat so routing cannot fail the request.
type Router struct {
	gateway  *Gateway
	registry *Registry
}

// NewRouter creates a Router over the gateway and agent registry.
func NewRouter(gateway *Gateway, registry *Registry) *Router {
	return &Router{
		gateway:  gateway,
		registry: registry,
	}
}

// Route classifies the goal with the recent conversation as context. The
// returned error is non-nil only for caller cancellation; model failures of
// any kind fall back to KindChat.
func (r *Router) Route(ctx context.Context, goal string, recent []Message) (*RouteDecision, error) {
	logger := LoggerFromContext(ctx)

	if handler := trace.HandlerFrom(ctx); handler != nil {
		ctx = handler.StartStage(ctx, trace.SpanKindRoute, "route")
		defer func() { handler.EndStage(ctx, nil) }()
	}

	prompt := fmt.Sprintf(routerPromptTemplate,
		renderAgentMenu(r.registry),
		renderRecentMessages(recent, routeHistoryWindow),
		goal,
	)

	resp, err := r.gateway.Generate(ctx, KindRouter, nil, Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Warn("routing call failed, falling back to chat", "error", err)
		return fallbackDecision("classification call failed"), nil
	}

	var decision RouteDecision
	if err := decodeModelJSON(responseText(resp), compiledRouterSchema, &decision); err != nil {
		logger.Warn("routing decision not parsable, falling back to chat", "error", err)
		return fallbackDecision("classification output not parsable"), nil
	}
	decision.Agent = AgentKind(strings.ToLower(strings.TrimSpace(string(decision.Agent))))

	if !r.isSelectable(decision.Agent) {
		logger.Warn("routing decision is not a user-facing kind, falling back to chat",
			"agent", decision.Agent,
		)
		return fallbackDecision(fmt.Sprintf("%q is not a selectable kind", decision.Agent)), nil
	}

	logger.Info("request routed",
		"agent", decision.Agent,
		"complexity", decision.Complexity,
		"reason", decision.Reason,
	)
	return &decision, nil
}

// isSelectable restricts routing targets to registered user-facing kinds.
// Internal and meta kinds are never valid routing targets.
func (r *Router) isSelectable(kind AgentKind) bool {
	for _, k := range r.registry.UserFacing() {
		if k == kind {
			return true
		}
	}
	return false
}

func fallbackDecision(reason string) *RouteDecision {
	return &RouteDecision{
		Agent:      KindChat,
		Complexity: 1,
		Reason:     reason,
	}
}

func renderAgentMenu(registry *Registry) string {
	var b strings.Builder
	for _, kind := range registry.UserFacing() {
		def, err := registry.Get(kind)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", kind, def.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRecentMessages(messages []Message, window int) string {
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}
	if len(messages) == 0 {
		return "(none)"
	}

	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, digest(msg.Content, 200))
	}
	return strings.TrimRight(b.String(), "\n")
}

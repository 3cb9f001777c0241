package steward

import (
	"context"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// RefusalMessage is the fixed reply surfaced when the guard blocks content.
// It replaces the run's output entirely; no agent work happens after a
// block.
const RefusalMessage = "I can't help with that request."

// GuardCheckFunc is an optional policy check, typically model-backed. It
// returns a non-empty reason when the text violates policy. An error means
// the check itself failed and is reported as a run failure, not a refusal.
type GuardCheckFunc func(ctx context.Context, text string) (reason string, err error)

// Guard screens user prompts before any agent work begins and final outputs
// before they are surfaced. It combines a compiled pattern denylist with an
// optional model-backed check. A zero-value guard allows everything.
type Guard struct {
	patterns []*regexp.Regexp
	check    GuardCheckFunc
}

// GuardOption configures a Guard.
type GuardOption func(*Guard) error

// WithGuardPatterns adds denylist patterns. Invalid patterns fail guard
// construction.
func WithGuardPatterns(patterns ...string) GuardOption {
	return func(g *Guard) error {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return goerr.Wrap(err, "invalid guard pattern", goerr.V("pattern", p))
			}
			g.patterns = append(g.patterns, re)
		}
		return nil
	}
}

// WithGuardCheck sets the model-backed policy check.
func WithGuardCheck(fn GuardCheckFunc) GuardOption {
	return func(g *Guard) error {
		g.check = fn
		return nil
	}
}

// NewGuard creates a Guard from the given options.
func NewGuard(options ...GuardOption) (*Guard, error) {
	g := &Guard{}
	for _, opt := range options {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ScreenInput checks a user prompt before any agent work starts.
func (g *Guard) ScreenInput(ctx context.Context, text string) error {
	return g.screen(ctx, "input", text)
}

// ScreenOutput checks a final output before it is surfaced.
func (g *Guard) ScreenOutput(ctx context.Context, text string) error {
	return g.screen(ctx, "output", text)
}

func (g *Guard) screen(ctx context.Context, stage, text string) error {
	if g == nil {
		return nil
	}

	for _, p := range g.patterns {
		if p.MatchString(text) {
			LoggerFromContext(ctx).Warn("content blocked by guard pattern", "stage", stage)
			return goerr.Wrap(ErrPromptBlocked, "content blocked by policy",
				goerr.V("stage", stage),
				goerr.V("pattern", p.String()),
			)
		}
	}

	if g.check != nil {
		reason, err := g.check(ctx, text)
		if err != nil {
			return goerr.Wrap(err, "policy check failed", goerr.V("stage", stage))
		}
		if reason != "" {
			LoggerFromContext(ctx).Warn("content blocked by policy check", "stage", stage, "reason", reason)
			return goerr.Wrap(ErrPromptBlocked, "content blocked by policy",
				goerr.V("stage", stage),
				goerr.V("reason", reason),
			)
		}
	}

	return nil
}

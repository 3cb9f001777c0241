package steward_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

func TestGuardPatterns(t *testing.T) {
	guard := gt.R1(steward.NewGuard(
		steward.WithGuardPatterns(`(?i)launch codes`),
	)).NoError(t)

	ctx := context.Background()
	gt.NoError(t, guard.ScreenInput(ctx, "what is the capital of France"))

	err := guard.ScreenInput(ctx, "give me the LAUNCH CODES")
	gt.True(t, errors.Is(err, steward.ErrPromptBlocked))

	err = guard.ScreenOutput(ctx, "the launch codes are 0000")
	gt.True(t, errors.Is(err, steward.ErrPromptBlocked))
}

func TestGuardInvalidPattern(t *testing.T) {
	_, err := steward.NewGuard(steward.WithGuardPatterns(`([`))
	gt.Error(t, err)
}

func TestGuardCheckFunc(t *testing.T) {
	ctx := context.Background()

	t.Run("blocking reason", func(t *testing.T) {
		guard := gt.R1(steward.NewGuard(
			steward.WithGuardCheck(func(ctx context.Context, text string) (string, error) {
				if text == "bad" {
					return "policy violation", nil
				}
				return "", nil
			}),
		)).NoError(t)

		gt.NoError(t, guard.ScreenInput(ctx, "fine"))
		gt.True(t, errors.Is(guard.ScreenInput(ctx, "bad"), steward.ErrPromptBlocked))
	})

	t.Run("check failure is not a refusal", func(t *testing.T) {
		guard := gt.R1(steward.NewGuard(
			steward.WithGuardCheck(func(ctx context.Context, text string) (string, error) {
				return "", goerr.New("policy service down")
			}),
		)).NoError(t)

		err := guard.ScreenInput(ctx, "anything")
		gt.Error(t, err)
		gt.False(t, errors.Is(err, steward.ErrPromptBlocked))
	})
}

func TestGuardZeroValue(t *testing.T) {
	var guard *steward.Guard
	gt.NoError(t, guard.ScreenInput(context.Background(), "anything at all"))
	gt.NoError(t, guard.ScreenOutput(context.Background(), "anything at all"))
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	"github.com/m-mizutani/steward/llm/gemini"
	"github.com/m-mizutani/steward/storage"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send one request to the orchestrator",
		ArgsUsage: "[prompt]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "project",
				Sources:  cli.EnvVars("STEWARD_PROJECT"),
				Usage:    "Google Cloud project ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "location",
				Value:   "us-central1",
				Sources: cli.EnvVars("STEWARD_LOCATION"),
				Usage:   "Google Cloud location",
			},
			&cli.StringFlag{
				Name:    "session-dir",
				Value:   "./sessions",
				Sources: cli.EnvVars("STEWARD_SESSION_DIR"),
				Usage:   "Directory for session snapshots",
			},
			&cli.StringFlag{
				Name:    "session-id",
				Sources: cli.EnvVars("STEWARD_SESSION_ID"),
				Usage:   "Session ID to resume (new session when empty)",
			},
			&cli.StringFlag{
				Name:    "config",
				Sources: cli.EnvVars("STEWARD_CONFIG"),
				Usage:   "Path to YAML config with model overrides",
			},
			&cli.StringFlag{
				Name:  "agent",
				Usage: "Force a user-facing agent kind, bypassing routing",
			},
			&cli.StringFlag{
				Name:  "attach",
				Usage: "Path to a file attached to the request",
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "External repository reference added as context",
			},
		},
		Action: runChat,
	}
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	prompt, err := readPrompt(cmd)
	if err != nil {
		return err
	}

	var cfg *chatConfig
	if path := cmd.String("config"); path != "" {
		cfg, err = loadChatConfig(path)
		if err != nil {
			return err
		}
	}

	client, err := gemini.New(ctx, cmd.String("project"), cmd.String("location"))
	if err != nil {
		return goerr.Wrap(err, "failed to create gemini client")
	}

	var regOpts []steward.RegistryOption
	if cfg != nil {
		regOpts, err = cfg.registryOptions()
		if err != nil {
			return err
		}
	}
	registry, err := steward.DefaultRegistry(regOpts...)
	if err != nil {
		return goerr.Wrap(err, "failed to build agent registry")
	}

	opts := []steward.Option{
		steward.WithRegistry(registry),
		steward.WithRepository(storage.NewLocalRepository(cmd.String("session-dir"))),
		steward.WithHooks(progressHooks()),
	}
	if id := cmd.String("session-id"); id != "" {
		opts = append(opts, steward.WithSessionID(id))
	}
	if cfg != nil {
		opts = append(opts, cfg.orchestratorOptions()...)
	}

	orch, err := steward.New(client, opts...)
	if err != nil {
		return goerr.Wrap(err, "failed to create orchestrator")
	}

	if err := orch.Restore(ctx); err != nil {
		return goerr.Wrap(err, "failed to restore session")
	}

	subscribeOutput(orch.Store(), os.Stdout)

	input := steward.SendMessageInput{
		Prompt:  prompt,
		RepoRef: cmd.String("repo"),
	}
	if path := cmd.String("attach"); path != "" {
		attachment, err := readAttachment(path)
		if err != nil {
			return err
		}
		input.File = attachment
	}
	if name := cmd.String("agent"); name != "" {
		kind, err := steward.ParseAgentKind(name)
		if err != nil {
			return err
		}
		input.ForceKind = &kind
	}

	if err := orch.SendMessage(ctx, input); err != nil {
		return goerr.Wrap(err, "request failed")
	}

	fmt.Println()
	fmt.Fprintf(os.Stderr, "session: %s\n", orch.Store().SessionID())
	return nil
}

func readPrompt(cmd *cli.Command) (string, error) {
	if args := cmd.Args().Slice(); len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", goerr.Wrap(err, "failed to read prompt from stdin")
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", goerr.New("prompt is required (argument or stdin)")
	}
	return prompt, nil
}

func readAttachment(path string) (*steward.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read attachment", goerr.Value("path", path))
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return &steward.Attachment{
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// subscribeOutput prints assistant content to w as it streams. Snapshots
// carry the full content so far, so only the unseen suffix is written.
func subscribeOutput(store *steward.SessionStore, w io.Writer) {
	var mu sync.Mutex
	printed := map[string]int{}

	store.Subscribe(func(msg steward.Message) {
		if msg.Role != steward.RoleAssistant {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if n := printed[msg.ID]; len(msg.Content) > n {
			fmt.Fprint(w, msg.Content[n:])
			printed[msg.ID] = len(msg.Content)
		}
	})
}

func progressHooks() *steward.Hooks {
	return &steward.Hooks{
		RoutingDecided: func(ctx context.Context, decision *steward.RouteDecision) {
			fmt.Fprintf(os.Stderr, "-> agent=%s complexity=%d\n", decision.Agent, decision.Complexity)
		},
		PlanCreated: func(ctx context.Context, plan *steward.Plan) {
			fmt.Fprintf(os.Stderr, "-> plan: %s (%d steps)\n", plan.Goal(), len(plan.Steps()))
		},
		StepStart: func(ctx context.Context, planID, stepID string) {
			fmt.Fprintf(os.Stderr, "-> step %s started\n", stepID)
		},
		StepDone: func(ctx context.Context, planID, stepID string, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "-> step %s failed: %v\n", stepID, err)
				return
			}
			fmt.Fprintf(os.Stderr, "-> step %s done\n", stepID)
		},
		CritiqueDone: func(ctx context.Context, critique *steward.CritiqueResult) {
			fmt.Fprintf(os.Stderr, "-> quality=%.2f\n", critique.Average())
		},
	}
}

package openai

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	"github.com/pkoukk/tiktoken-go"
)

// CountToken estimates the total token count of the session history, system
// prompt, tools, and the given new inputs, without an API call.
func (s *Session) CountToken(ctx context.Context, input ...steward.Input) (int, error) {
	encoding, err := tiktoken.EncodingForModel(s.model)
	if err != nil {
		// cl100k_base covers the gpt-4/gpt-4o/gpt-5 families.
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, goerr.Wrap(err, "failed to get encoding")
		}
	}

	messages, _, err := s.buildMessages(input)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to convert inputs for token counting")
	}

	totalTokens := 0

	if prompt := s.cfg.SystemPrompt(); prompt != "" {
		totalTokens += len(encoding.Encode(prompt, nil, nil))
		totalTokens += 3
	}

	// Per-message formatting overhead for current chat models.
	const tokensPerMessage = 3

	for _, message := range messages {
		totalTokens += tokensPerMessage
		if message.Content != "" {
			totalTokens += len(encoding.Encode(message.Content, nil, nil))
		}
		totalTokens += len(encoding.Encode(message.Role, nil, nil))
		for _, toolCall := range message.ToolCalls {
			totalTokens += len(encoding.Encode(toolCall.Function.Name, nil, nil))
			totalTokens += len(encoding.Encode(toolCall.Function.Arguments, nil, nil))
		}
		for _, part := range message.MultiContent {
			if part.Text != "" {
				totalTokens += len(encoding.Encode(part.Text, nil, nil))
			}
		}
	}

	for _, tool := range s.tools {
		toolJSON, err := json.Marshal(tool)
		if err != nil {
			return 0, goerr.Wrap(err, "failed to marshal tool for token counting")
		}
		totalTokens += len(encoding.Encode(string(toolJSON), nil, nil))
	}

	// Reply priming tokens.
	totalTokens += 3

	return totalTokens, nil
}

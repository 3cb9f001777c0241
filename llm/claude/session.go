package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
)

// Session is one conversation against a Claude model. It keeps a
// provider-neutral history and rebuilds the native message list on every
// call.
type Session struct {
	apiClient    apiClient
	model        string
	tools        []anthropic.ToolUnionParam
	params       generationParameters
	cfg          *steward.SessionConfig
	systemPrompt string
	history      *steward.History
}

func (s *Session) History() (*steward.History, error) {
	return s.history, nil
}

// Generate sends inputs and waits for the complete response.
func (s *Session) Generate(ctx context.Context, input ...steward.Input) (*steward.Response, error) {
	messages, newCount, err := s.buildMessages(input)
	if err != nil {
		return nil, err
	}

	params := s.createRequest(messages)
	s.logPrompt(ctx, messages)

	resp, err := s.apiClient.MessagesNew(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create message")
	}

	response, err := s.processResponse(resp)
	if err != nil {
		return nil, err
	}

	s.logResponse(ctx, response)
	s.recordTurns(input, newCount, response)
	return response, nil
}

// GenerateStream sends inputs and returns a channel of partial responses.
func (s *Session) GenerateStream(ctx context.Context, input ...steward.Input) (<-chan *steward.Response, error) {
	messages, newCount, err := s.buildMessages(input)
	if err != nil {
		return nil, err
	}

	params := s.createRequest(messages)
	s.logPrompt(ctx, messages)

	stream := s.apiClient.MessagesNewStreaming(ctx, params)
	if stream == nil {
		return nil, goerr.New("failed to create message stream")
	}

	out := make(chan *steward.Response)
	go func() {
		defer close(out)

		var textContent strings.Builder
		accumulated := &steward.Response{}
		acc := newToolCallAccumulator()

		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "content_block_start":
				startEvent := event.AsContentBlockStartEvent()
				if startEvent.ContentBlock.Type == "tool_use" {
					block := startEvent.ContentBlock.AsResponseToolUseBlock()
					acc.ID = block.ID
					acc.Name = block.Name
				}

			case "content_block_delta":
				deltaEvent := event.AsContentBlockDeltaEvent()
				switch deltaEvent.Delta.Type {
				case "text_delta":
					delta := deltaEvent.Delta.AsTextContentBlockDelta()
					if delta.Text != "" {
						textContent.WriteString(delta.Text)
						out <- &steward.Response{Texts: []string{delta.Text}}
					}
				case "input_json_delta":
					delta := deltaEvent.Delta.AsInputJSONContentBlockDelta()
					acc.Arguments += delta.PartialJSON
				}

			case "content_block_stop":
				if acc.ID == "" {
					continue
				}
				call, err := acc.finish()
				if err != nil {
					out <- &steward.Response{Error: err}
					return
				}
				accumulated.FunctionCalls = append(accumulated.FunctionCalls, call)
				out <- &steward.Response{FunctionCalls: []*steward.FunctionCall{call}}
				acc = newToolCallAccumulator()
			}
		}

		if err := stream.Err(); err != nil {
			out <- &steward.Response{Error: goerr.Wrap(err, "streaming failed")}
			return
		}

		if textContent.Len() > 0 {
			accumulated.Texts = []string{textContent.String()}
		}
		s.logResponse(ctx, accumulated)
		s.recordTurns(input, newCount, accumulated)
	}()

	return out, nil
}

// buildMessages joins the recorded history with the new inputs into the
// message list one API call needs. The second return value is the number of
// messages the new inputs produced, for history recording after success.
func (s *Session) buildMessages(input []steward.Input) ([]anthropic.MessageParam, int, error) {
	messages := historyToMessages(s.history)

	newMessages, err := convertInputs(input)
	if err != nil {
		return nil, 0, err
	}

	return append(messages, newMessages...), len(newMessages), nil
}

// createRequest assembles a message request from the session state.
func (s *Session) createRequest(messages []anthropic.MessageParam) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       s.model,
		MaxTokens:   s.params.MaxTokens,
		Temperature: anthropic.Float(s.params.Temperature),
		TopP:        anthropic.Float(s.params.TopP),
		Tools:       s.tools,
		Messages:    messages,
	}

	if temp := s.cfg.Temperature(); temp != nil {
		params.Temperature = anthropic.Float(*temp)
	}
	if s.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: s.systemPrompt},
		}
	}

	return params
}

// processResponse converts a Claude message into the neutral form. JSON
// sessions strip the code fences Claude wraps around structured answers.
func (s *Session) processResponse(resp *anthropic.Message) (*steward.Response, error) {
	response := &steward.Response{}
	if resp == nil {
		return response, nil
	}

	response.InputToken = int(resp.Usage.InputTokens)
	response.OutputToken = int(resp.Usage.OutputTokens)

	for _, content := range resp.Content {
		textBlock := content.AsResponseTextBlock()
		if textBlock.Type == "text" && textBlock.Text != "" {
			text := textBlock.Text
			if s.cfg.ContentType() == steward.ContentTypeJSON || s.cfg.ResponseSchema() != nil {
				text = extractJSONFromResponse(text)
			}
			response.Texts = append(response.Texts, text)
		}

		toolUseBlock := content.AsResponseToolUseBlock()
		if toolUseBlock.Type == "tool_use" {
			var args map[string]any
			if err := json.Unmarshal([]byte(toolUseBlock.Input), &args); err != nil {
				return nil, goerr.Wrap(err, "failed to unmarshal tool arguments", goerr.V("tool", toolUseBlock.Name))
			}
			response.FunctionCalls = append(response.FunctionCalls, &steward.FunctionCall{
				ID:        toolUseBlock.ID,
				Name:      toolUseBlock.Name,
				Arguments: args,
			})
		}
	}

	return response, nil
}

// recordTurns appends the exchanged turns to the session history.
func (s *Session) recordTurns(input []steward.Input, newCount int, response *steward.Response) {
	if newCount > 0 {
		s.history.Add(inputTurn(input))
	}

	if response == nil || (len(response.Texts) == 0 && len(response.FunctionCalls) == 0) {
		return
	}

	turn := steward.Turn{
		Role:    steward.RoleAssistant,
		Content: strings.Join(response.Texts, ""),
	}
	for _, fc := range response.FunctionCalls {
		turn.ToolCalls = append(turn.ToolCalls, steward.ToolCallRecord{
			ID:        fc.ID,
			Name:      fc.Name,
			Arguments: fc.Arguments,
		})
	}
	s.history.Add(turn)
}

// inputTurn folds the call's inputs into one history turn. Binary inputs are
// recorded as placeholders; re-sending raw bytes on resume is not supported.
func inputTurn(input []steward.Input) steward.Turn {
	turn := steward.Turn{Role: steward.RoleUser}

	var texts []string
	for _, in := range input {
		switch v := in.(type) {
		case steward.Text:
			texts = append(texts, string(v))
		case steward.Image, steward.PDF:
			texts = append(texts, fmt.Sprintf("[%s]", in.String()))
		case steward.FunctionResponse:
			turn.Role = steward.RoleTool
			turn.ToolResult = &steward.ToolResultRecord{
				CallID:  v.ID,
				Name:    v.Name,
				Data:    v.Data,
				IsError: v.Error != nil,
			}
		}
	}
	turn.Content = strings.Join(texts, "\n")
	return turn
}

// toolCallAccumulator collects a streamed tool call that arrives as a
// content_block_start followed by input_json_delta fragments.
type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{}
}

func (a *toolCallAccumulator) finish() (*steward.FunctionCall, error) {
	if a.ID == "" || a.Name == "" {
		return nil, goerr.Wrap(steward.ErrInvalidParameter, "incomplete streamed tool call", goerr.V("accumulator", a))
	}

	var args map[string]any
	if a.Arguments != "" {
		if err := json.Unmarshal([]byte(a.Arguments), &args); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal streamed tool arguments", goerr.V("accumulator", a))
		}
	}

	return &steward.FunctionCall{
		ID:        a.ID,
		Name:      a.Name,
		Arguments: args,
	}, nil
}

// convertInputs converts steward inputs to Claude messages. Tool responses
// fold into a single user message of tool_result blocks, as the API expects.
func convertInputs(input []steward.Input) ([]anthropic.MessageParam, error) {
	var messages []anthropic.MessageParam
	var userBlocks []anthropic.ContentBlockParamUnion
	var toolResults []anthropic.ContentBlockParamUnion

	for _, in := range input {
		switch v := in.(type) {
		case steward.Text:
			userBlocks = append(userBlocks, anthropic.NewTextBlock(string(v)))

		case steward.Image:
			userBlocks = append(userBlocks, anthropic.NewImageBlockBase64(v.MimeType(), v.Base64()))

		case steward.PDF:
			return nil, goerr.New("PDF input is not supported by the Claude backend", goerr.V("input", in.String()))

		case steward.FunctionResponse:
			content := ""
			if v.Error != nil {
				content = fmt.Sprintf("Error message: %+v", v.Error)
			} else {
				data, err := json.Marshal(v.Data)
				if err != nil {
					return nil, goerr.Wrap(err, "failed to marshal function response", goerr.V("tool", v.Name))
				}
				content = string(data)
			}
			toolResults = append(toolResults, anthropic.NewToolResultBlock(v.ID, content, v.Error != nil))

		default:
			return nil, goerr.Wrap(steward.ErrInvalidParameter, "invalid input", goerr.V("input", in))
		}
	}

	if len(userBlocks) > 0 {
		messages = append(messages, anthropic.NewUserMessage(userBlocks...))
	}
	if len(toolResults) > 0 {
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	return messages, nil
}

// historyToMessages rebuilds the Claude message list from recorded turns.
func historyToMessages(history *steward.History) []anthropic.MessageParam {
	if history == nil {
		return nil
	}

	var messages []anthropic.MessageParam
	for _, turn := range history.Turns {
		switch turn.Role {
		case steward.RoleUser:
			if turn.Content == "" {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(turn.Content),
			))

		case steward.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfRequestToolUseBlock: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: call.Arguments,
						Type:  "tool_use",
					},
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		case steward.RoleTool:
			if turn.ToolResult == nil {
				continue
			}
			content := ""
			if turn.ToolResult.IsError {
				content = "tool execution failed"
			}
			if turn.ToolResult.Data != nil {
				if data, err := json.Marshal(turn.ToolResult.Data); err == nil {
					content = string(data)
				}
			}
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(turn.ToolResult.CallID, content, turn.ToolResult.IsError),
			))
		}
	}
	return messages
}

func (s *Session) logPrompt(ctx context.Context, messages []anthropic.MessageParam) {
	logger := ctxlog.From(ctx, claudePromptScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var logMessages []map[string]any
	for _, msg := range messages {
		var texts []string
		for _, block := range msg.Content {
			if block.OfRequestTextBlock != nil {
				texts = append(texts, block.OfRequestTextBlock.Text)
			}
		}
		logMessages = append(logMessages, map[string]any{
			"role":    msg.Role,
			"content": strings.Join(texts, "\n"),
		})
	}
	logger.Info("Claude prompt",
		"model", s.model,
		"system_prompt", s.systemPrompt,
		"messages", logMessages,
	)
}

func (s *Session) logResponse(ctx context.Context, response *steward.Response) {
	logger := ctxlog.From(ctx, claudeResponseScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var content []map[string]any
	for _, text := range response.Texts {
		content = append(content, map[string]any{
			"type": "text",
			"text": text,
		})
	}
	for _, fc := range response.FunctionCalls {
		content = append(content, map[string]any{
			"type":      "tool_use",
			"id":        fc.ID,
			"name":      fc.Name,
			"arguments": fc.Arguments,
		})
	}
	logger.Info("Claude response",
		"usage", map[string]any{
			"input_tokens":  response.InputToken,
			"output_tokens": response.OutputToken,
		},
		"content", content,
	)
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	"github.com/sashabaranov/go-openai"
)

// Session is one conversation against an OpenAI model. It keeps a
// provider-neutral history and rebuilds the native message list on every
// call.
type Session struct {
	apiClient    apiClient
	model        string
	tools        []openai.Tool
	params       generationParameters
	cfg          *steward.SessionConfig
	strictSchema bool
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

	req, err := s.createRequest(messages, false)
	if err != nil {
		return nil, err
	}
	s.logPrompt(ctx, messages)

	resp, err := s.apiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		opts := tokenLimitErrorOptions(err)
		return nil, goerr.Wrap(err, "failed to create chat completion", opts...)
	}

	if len(resp.Choices) == 0 {
		return &steward.Response{}, nil
	}

	response := &steward.Response{
		InputToken:  resp.Usage.PromptTokens,
		OutputToken: resp.Usage.CompletionTokens,
	}

	message := resp.Choices[0].Message
	if message.Content != "" {
		response.Texts = append(response.Texts, message.Content)
	}
	for _, toolCall := range message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal tool arguments", goerr.V("tool", toolCall.Function.Name))
		}
		response.FunctionCalls = append(response.FunctionCalls, &steward.FunctionCall{
			ID:        toolCall.ID,
			Name:      toolCall.Function.Name,
			Arguments: args,
		})
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

	req, err := s.createRequest(messages, true)
	if err != nil {
		return nil, err
	}
	s.logPrompt(ctx, messages)

	// The final chunk carries usage data only when stream options request it.
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := s.apiClient.CreateChatCompletionStream(ctx, req)
	if err != nil {
		opts := tokenLimitErrorOptions(err)
		return nil, goerr.Wrap(err, "failed to create chat completion stream", opts...)
	}

	out := make(chan *steward.Response)
	go func() {
		defer close(out)
		defer stream.Close()

		var textContent string
		var toolCalls []openai.ToolCall
		var inputTokens, outputTokens int

		for {
			select {
			case <-ctx.Done():
				out <- &steward.Response{Error: goerr.Wrap(ctx.Err(), "context cancelled during streaming")}
				return
			default:
			}

			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					break
				}
				opts := tokenLimitErrorOptions(err)
				out <- &steward.Response{Error: goerr.Wrap(err, "failed to receive chat completion stream", opts...)}
				return
			}

			if resp.Usage != nil {
				inputTokens = resp.Usage.PromptTokens
				outputTokens = resp.Usage.CompletionTokens
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				textContent += choice.Delta.Content
				out <- &steward.Response{Texts: []string{choice.Delta.Content}}
			}

			// Tool call deltas arrive fragmented; accumulate by index.
			for _, toolCall := range choice.Delta.ToolCalls {
				index := 0
				if toolCall.Index != nil {
					index = *toolCall.Index
				}
				for len(toolCalls) <= index {
					toolCalls = append(toolCalls, openai.ToolCall{Function: openai.FunctionCall{}})
				}
				tc := &toolCalls[index]
				if toolCall.ID != "" {
					tc.ID = toolCall.ID
				}
				if toolCall.Type != "" {
					tc.Type = toolCall.Type
				}
				if toolCall.Function.Name != "" {
					tc.Function.Name = toolCall.Function.Name
				}
				if toolCall.Function.Arguments != "" {
					tc.Function.Arguments += toolCall.Function.Arguments
				}
			}

			if choice.FinishReason == openai.FinishReasonToolCalls || choice.FinishReason == openai.FinishReasonStop {
				break
			}
		}

		accumulated := &steward.Response{
			InputToken:  inputTokens,
			OutputToken: outputTokens,
		}
		if textContent != "" {
			accumulated.Texts = []string{textContent}
		}

		for _, toolCall := range toolCalls {
			if toolCall.ID == "" || toolCall.Function.Name == "" || toolCall.Function.Arguments == "" {
				continue
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
				out <- &steward.Response{Error: goerr.Wrap(err, "failed to unmarshal tool arguments", goerr.V("tool", toolCall.Function.Name))}
				return
			}
			accumulated.FunctionCalls = append(accumulated.FunctionCalls, &steward.FunctionCall{
				ID:        toolCall.ID,
				Name:      toolCall.Function.Name,
				Arguments: args,
			})
		}

		if len(accumulated.FunctionCalls) > 0 {
			out <- &steward.Response{
				FunctionCalls: accumulated.FunctionCalls,
				InputToken:    inputTokens,
				OutputToken:   outputTokens,
			}
		} else if inputTokens > 0 || outputTokens > 0 {
			out <- &steward.Response{
				InputToken:  inputTokens,
				OutputToken: outputTokens,
			}
		}

		s.logResponse(ctx, accumulated)
		s.recordTurns(input, newCount, accumulated)
	}()

	return out, nil
}

// buildMessages joins the recorded history with the new inputs into the
// message list one API call needs. The second return value is the number of
// messages the new inputs produced, for history recording after success.
func (s *Session) buildMessages(input []steward.Input) ([]openai.ChatCompletionMessage, int, error) {
	messages := historyToMessages(s.history)

	newMessages, err := convertInputs(input)
	if err != nil {
		return nil, 0, err
	}

	return append(messages, newMessages...), len(newMessages), nil
}

// createRequest assembles a chat completion request from the session state.
func (s *Session) createRequest(messages []openai.ChatCompletionMessage, stream bool) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{
		Model:            s.model,
		Messages:         messages,
		Tools:            s.tools,
		Temperature:      s.params.Temperature,
		TopP:             s.params.TopP,
		MaxTokens:        s.params.MaxTokens,
		PresencePenalty:  s.params.PresencePenalty,
		FrequencyPenalty: s.params.FrequencyPenalty,
		Stream:           stream,
	}

	if temp := s.cfg.Temperature(); temp != nil {
		req.Temperature = float32(*temp)
	}
	if s.params.ReasoningEffort != "" {
		req.ReasoningEffort = s.params.ReasoningEffort
	}
	if s.params.Verbosity != "" {
		req.Verbosity = s.params.Verbosity
	}

	if prompt := s.cfg.SystemPrompt(); prompt != "" {
		system := []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt,
		}}
		req.Messages = append(system, req.Messages...)
	}

	if s.cfg.ContentType() == steward.ContentTypeJSON || s.cfg.ResponseSchema() != nil {
		if schema := s.cfg.ResponseSchema(); schema != nil {
			format, err := convertResponseSchema(schema, s.strictSchema)
			if err != nil {
				return openai.ChatCompletionRequest{}, goerr.Wrap(err, "failed to convert response schema")
			}
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type:       openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: format,
			}
		} else {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}

	return req, nil
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

// convertInputs converts steward inputs to OpenAI messages. Consecutive user
// content folds into one multi-part message; tool responses become tool
// messages keyed by the originating call ID.
func convertInputs(input []steward.Input) ([]openai.ChatCompletionMessage, error) {
	var messages []openai.ChatCompletionMessage
	var userParts []openai.ChatMessagePart

	flushUser := func() {
		if len(userParts) > 0 {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: userParts,
			})
			userParts = nil
		}
	}

	for _, in := range input {
		switch v := in.(type) {
		case steward.Text:
			userParts = append(userParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: string(v),
			})

		case steward.Image:
			userParts = append(userParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", v.MimeType(), v.Base64()),
				},
			})

		case steward.PDF:
			return nil, goerr.New("PDF input is not supported by the OpenAI chat backend", goerr.V("input", in.String()))

		case steward.FunctionResponse:
			flushUser()
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
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: v.ID,
			})

		default:
			return nil, goerr.Wrap(steward.ErrInvalidParameter, "invalid input", goerr.V("input", in))
		}
	}
	flushUser()

	return messages, nil
}

// historyToMessages rebuilds the OpenAI message list from recorded turns.
func historyToMessages(history *steward.History) []openai.ChatCompletionMessage {
	if history == nil {
		return nil
	}

	var messages []openai.ChatCompletionMessage
	for _, turn := range history.Turns {
		switch turn.Role {
		case steward.RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: turn.Content,
			})

		case steward.RoleUser:
			if turn.Content == "" {
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Content,
			})

		case steward.RoleAssistant:
			message := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			}
			for _, call := range turn.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				message.ToolCalls = append(message.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			if message.Content != "" || len(message.ToolCalls) > 0 {
				messages = append(messages, message)
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
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: turn.ToolResult.CallID,
			})
		}
	}
	return messages
}

func (s *Session) logPrompt(ctx context.Context, messages []openai.ChatCompletionMessage) {
	logger := ctxlog.From(ctx, openaiPromptScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var logMessages []map[string]any
	for _, msg := range messages {
		entry := map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if msg.ToolCallID != "" {
			entry["tool_call_id"] = msg.ToolCallID
		}
		logMessages = append(logMessages, entry)
	}
	logger.Info("OpenAI prompt",
		"model", s.model,
		"system_prompt", s.cfg.SystemPrompt(),
		"messages", logMessages,
	)
}

func (s *Session) logResponse(ctx context.Context, response *steward.Response) {
	logger := ctxlog.From(ctx, openaiResponseScope)
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
	logger.Info("OpenAI response",
		"usage", map[string]any{
			"prompt_tokens":     response.InputToken,
			"completion_tokens": response.OutputToken,
		},
		"content", content,
	)
}

// tokenLimitErrorOptions tags context-window errors so callers can detect
// them without parsing provider error bodies. Returns nil for other errors.
func tokenLimitErrorOptions(err error) []goerr.Option {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	if apiErr.Type != "invalid_request_error" {
		return nil
	}
	code, ok := apiErr.Code.(string)
	if !ok || code != "context_length_exceeded" {
		return nil
	}
	return []goerr.Option{goerr.Tag(steward.ErrTagTokenExceeded)}
}

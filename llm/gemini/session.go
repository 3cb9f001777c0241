package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	genai "google.golang.org/genai"
)

// Session is one conversation against a Gemini model. It keeps a
// provider-neutral history and rebuilds the full content list on every call.
type Session struct {
	apiClient apiClient
	model     string
	config    *genai.GenerateContentConfig
	history   *steward.History
}

func (s *Session) History() (*steward.History, error) {
	return s.history, nil
}

// Generate sends inputs and waits for the complete response.
func (s *Session) Generate(ctx context.Context, input ...steward.Input) (*steward.Response, error) {
	contents, parts, err := s.buildContents(input)
	if err != nil {
		return nil, err
	}

	s.logPrompt(ctx, contents)

	result, err := s.apiClient.GenerateContent(ctx, s.model, contents, s.config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}

	response, err := processResponse(result)
	if err != nil {
		return nil, err
	}
	s.logResponse(ctx, response)

	s.recordTurns(input, parts, response)
	return response, nil
}

// GenerateStream sends inputs and returns a channel of partial responses.
func (s *Session) GenerateStream(ctx context.Context, input ...steward.Input) (<-chan *steward.Response, error) {
	contents, parts, err := s.buildContents(input)
	if err != nil {
		return nil, err
	}

	s.logPrompt(ctx, contents)

	out := make(chan *steward.Response)
	go func() {
		defer close(out)

		accumulated := &steward.Response{}
		for chunk := range s.apiClient.GenerateContentStream(ctx, s.model, contents, s.config) {
			if chunk.err != nil {
				out <- &steward.Response{Error: goerr.Wrap(chunk.err, "streaming failed")}
				return
			}

			response, err := processResponse(chunk.resp)
			if err != nil {
				out <- &steward.Response{Error: err}
				return
			}

			accumulated.Texts = append(accumulated.Texts, response.Texts...)
			accumulated.FunctionCalls = append(accumulated.FunctionCalls, response.FunctionCalls...)
			accumulated.GroundingSources = append(accumulated.GroundingSources, response.GroundingSources...)
			if response.InputToken > 0 {
				accumulated.InputToken = response.InputToken
			}
			if response.OutputToken > 0 {
				accumulated.OutputToken = response.OutputToken
			}

			out <- response
		}

		s.recordTurns(input, parts, accumulated)
	}()

	return out, nil
}

// buildContents joins the recorded history with the new inputs into the full
// content list one API call needs. The second return value holds the new
// input parts for history recording after the call succeeds.
func (s *Session) buildContents(input []steward.Input) ([]*genai.Content, []*genai.Part, error) {
	contents := historyToContents(s.history)

	parts, err := convertInputs(input)
	if err != nil {
		return nil, nil, err
	}
	if len(parts) > 0 {
		contents = append(contents, &genai.Content{
			Role:  "user",
			Parts: parts,
		})
	}

	return contents, parts, nil
}

// recordTurns appends the exchanged turns to the session history.
func (s *Session) recordTurns(input []steward.Input, parts []*genai.Part, response *steward.Response) {
	if len(parts) > 0 {
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

func (s *Session) logPrompt(ctx context.Context, contents []*genai.Content) {
	logger := ctxlog.From(ctx, geminiPromptScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var messages []map[string]any
	for _, content := range contents {
		for _, part := range content.Parts {
			if part.Text != "" {
				messages = append(messages, map[string]any{
					"role":    content.Role,
					"type":    "text",
					"content": part.Text,
				})
			}
			if part.FunctionResponse != nil {
				messages = append(messages, map[string]any{
					"role":     content.Role,
					"type":     "function_response",
					"name":     part.FunctionResponse.Name,
					"response": part.FunctionResponse.Response,
				})
			}
		}
	}

	systemPrompt := ""
	if s.config != nil && s.config.SystemInstruction != nil && len(s.config.SystemInstruction.Parts) > 0 {
		if part := s.config.SystemInstruction.Parts[0]; part != nil {
			systemPrompt = part.Text
		}
	}
	logger.Info("Gemini prompt",
		"model", s.model,
		"system_prompt", systemPrompt,
		"messages", messages,
	)
}

func (s *Session) logResponse(ctx context.Context, response *steward.Response) {
	logger := ctxlog.From(ctx, geminiResponseScope)
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
			"type":      "function_call",
			"id":        fc.ID,
			"name":      fc.Name,
			"arguments": fc.Arguments,
		})
	}
	logger.Info("Gemini response",
		"usage", map[string]any{
			"prompt_tokens":     response.InputToken,
			"candidates_tokens": response.OutputToken,
		},
		"content", content,
	)
}

// convertInputs converts steward inputs to Gemini parts.
func convertInputs(input []steward.Input) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(input))

	for _, in := range input {
		switch v := in.(type) {
		case steward.Text:
			parts = append(parts, &genai.Part{Text: string(v)})
		case steward.Image:
			// Gemini has no GIF support.
			if v.MimeType() == string(steward.ImageMimeTypeGIF) {
				return nil, goerr.New("GIF format is not supported by Gemini", goerr.V("mime_type", v.MimeType()))
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: v.MimeType(),
					Data:     v.Data(),
				},
			})
		case steward.PDF:
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: "application/pdf",
					Data:     v.Data(),
				},
			})
		case steward.FunctionResponse:
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     v.Name,
					Response: functionResponseData(v),
				},
			})
		default:
			return nil, goerr.Wrap(steward.ErrInvalidParameter, "invalid input", goerr.V("input", in))
		}
	}
	return parts, nil
}

func functionResponseData(v steward.FunctionResponse) map[string]any {
	if v.Error != nil {
		return map[string]any{
			"error_message": fmt.Sprintf("%+v", v.Error),
		}
	}
	return v.Data
}

// processResponse converts a Gemini response into the neutral form,
// including web citations from grounding metadata.
func processResponse(resp *genai.GenerateContentResponse) (*steward.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return &steward.Response{}, nil
	}

	response := &steward.Response{}

	if resp.UsageMetadata != nil {
		response.InputToken = int(resp.UsageMetadata.PromptTokenCount)
		response.OutputToken = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	for _, candidate := range resp.Candidates {
		if candidate.FinishReason != "" {
			if strings.Contains(string(candidate.FinishReason), "MALFORMED_FUNCTION_CALL") {
				return nil, goerr.New("malformed function call", goerr.V("finish_reason", candidate.FinishReason))
			}
			if strings.Contains(string(candidate.FinishReason), "PROHIBITED_CONTENT") {
				return nil, goerr.New("prohibited content", goerr.V("finish_reason", candidate.FinishReason))
			}
		}

		response.GroundingSources = append(response.GroundingSources, extractSources(candidate.GroundingMetadata)...)

		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				response.Texts = append(response.Texts, part.Text)
			}

			if part.FunctionCall != nil {
				response.FunctionCalls = append(response.FunctionCalls, &steward.FunctionCall{
					ID:        fmt.Sprintf("%s_%d", part.FunctionCall.Name, time.Now().UnixNano()),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}

	return response, nil
}

// extractSources converts grounding metadata chunks into citations.
func extractSources(metadata *genai.GroundingMetadata) []steward.GroundingSource {
	if metadata == nil {
		return nil
	}

	var sources []steward.GroundingSource
	for _, chunk := range metadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		sources = append(sources, steward.GroundingSource{
			Title: chunk.Web.Title,
			URL:   chunk.Web.URI,
		})
	}
	return sources
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

// historyToContents rebuilds the Gemini content list from recorded turns.
func historyToContents(history *steward.History) []*genai.Content {
	if history == nil {
		return nil
	}

	var contents []*genai.Content
	for _, turn := range history.Turns {
		switch turn.Role {
		case steward.RoleUser:
			if turn.Content == "" {
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: turn.Content}},
			})

		case steward.RoleAssistant:
			var parts []*genai.Part
			if turn.Content != "" {
				parts = append(parts, &genai.Part{Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: call.Name,
						Args: call.Arguments,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{
					Role:  "model",
					Parts: parts,
				})
			}

		case steward.RoleTool:
			if turn.ToolResult == nil {
				continue
			}
			data := turn.ToolResult.Data
			if turn.ToolResult.IsError && data == nil {
				data = map[string]any{"error_message": "tool execution failed"}
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     turn.ToolResult.Name,
						Response: data,
					},
				}},
			})
		}
	}
	return contents
}

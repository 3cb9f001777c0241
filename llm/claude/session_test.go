package claude

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

// fakeAPIClient scripts MessagesNew responses and records the request params
// each call received.
type fakeAPIClient struct {
	responses []*anthropic.Message
	calls     []anthropic.MessageNewParams
	err       error
}

func (f *fakeAPIClient) MessagesNew(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeAPIClient) MessagesNewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	return nil
}

func textMessage(text string) *anthropic.Message {
	// The SDK's As* accessors re-parse from the union's internal raw JSON,
	// so the message must be built via UnmarshalJSON rather than by hand.
	raw, err := json.Marshal(map[string]any{
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"usage": map[string]any{
			"input_tokens":  10,
			"output_tokens": 5,
		},
	})
	if err != nil {
		panic(err)
	}
	var msg anthropic.Message
	if err := msg.UnmarshalJSON(raw); err != nil {
		panic(err)
	}
	return &msg
}

func newFakeSession(fake *fakeAPIClient, options ...steward.SessionOption) *Session {
	cfg := steward.NewSessionConfig(options...)
	return &Session{
		apiClient: fake,
		model:     DefaultModel,
		params: generationParameters{
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   4096,
		},
		cfg:          cfg,
		systemPrompt: cfg.SystemPrompt(),
		history:      steward.NewHistory(),
	}
}

func requestTexts(t *testing.T, params anthropic.MessageNewParams) []string {
	t.Helper()
	var texts []string
	for _, msg := range params.Messages {
		for _, block := range msg.Content {
			if block.OfRequestTextBlock != nil {
				texts = append(texts, block.OfRequestTextBlock.Text)
			}
		}
	}
	return texts
}

func TestSessionGenerate(t *testing.T) {
	fake := &fakeAPIClient{responses: []*anthropic.Message{textMessage("hello back")}}
	ssn := newFakeSession(fake)

	resp := gt.R1(ssn.Generate(context.Background(), steward.Text("hello"))).NoError(t)
	gt.Equal(t, []string{"hello back"}, resp.Texts)
	gt.Equal(t, 10, resp.InputToken)
	gt.Equal(t, 5, resp.OutputToken)

	history := gt.R1(ssn.History()).NoError(t)
	gt.Equal(t, 2, len(history.Turns))
	gt.Equal(t, steward.RoleUser, history.Turns[0].Role)
	gt.Equal(t, "hello", history.Turns[0].Content)
	gt.Equal(t, steward.RoleAssistant, history.Turns[1].Role)
	gt.Equal(t, "hello back", history.Turns[1].Content)
}

func TestSessionCarriesHistoryForward(t *testing.T) {
	fake := &fakeAPIClient{responses: []*anthropic.Message{
		textMessage("first"),
		textMessage("second"),
	}}
	ssn := newFakeSession(fake)

	gt.R1(ssn.Generate(context.Background(), steward.Text("one"))).NoError(t)
	gt.R1(ssn.Generate(context.Background(), steward.Text("two"))).NoError(t)

	gt.Equal(t, 2, len(fake.calls))
	gt.Equal(t, []string{"one", "first", "two"}, requestTexts(t, fake.calls[1]))
}

func TestSessionRequestCarriesSystemPromptAndTemperature(t *testing.T) {
	fake := &fakeAPIClient{responses: []*anthropic.Message{textMessage("ok")}}
	ssn := newFakeSession(fake,
		steward.WithSessionSystemPrompt("You are terse."),
		steward.WithSessionTemperature(0.2),
	)

	gt.R1(ssn.Generate(context.Background(), steward.Text("hi"))).NoError(t)

	req := fake.calls[0]
	gt.Equal(t, 1, len(req.System))
	gt.Equal(t, "You are terse.", req.System[0].Text)
	gt.Equal(t, 0.2, req.Temperature.Value)
}

func TestSessionJSONModeStripsFences(t *testing.T) {
	fake := &fakeAPIClient{responses: []*anthropic.Message{
		textMessage("```json\n{\"next\": \"chat\"}\n```"),
	}}
	ssn := newFakeSession(fake, steward.WithSessionContentType(steward.ContentTypeJSON))

	resp := gt.R1(ssn.Generate(context.Background(), steward.Text("decide"))).NoError(t)
	gt.Equal(t, []string{`{"next": "chat"}`}, resp.Texts)
}

func TestConvertInputsFoldsToolResults(t *testing.T) {
	inputs := []steward.Input{
		steward.Text("observe"),
		steward.FunctionResponse{
			ID:   "call_1",
			Name: "lookup",
			Data: map[string]any{"answer": "42"},
		},
	}

	messages := gt.R1(convertInputs(inputs)).NoError(t)

	// Text blocks and tool results go out as separate user messages.
	gt.Equal(t, 2, len(messages))
	gt.Equal(t, anthropic.MessageParamRoleUser, messages[0].Role)
	gt.Equal(t, anthropic.MessageParamRoleUser, messages[1].Role)
}

func TestConvertInputsRejectsPDF(t *testing.T) {
	pdf := gt.R1(steward.NewPDF([]byte("%PDF-1.7\nstub"))).NoError(t)
	_, err := convertInputs([]steward.Input{pdf})
	gt.Error(t, err)
}

func TestToolCallAccumulator(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.ID = "call_9"
	acc.Name = "archive_search"
	acc.Arguments = `{"query": "retry budget"}`

	call := gt.R1(acc.finish()).NoError(t)
	gt.Equal(t, "call_9", call.ID)
	gt.Equal(t, "archive_search", call.Name)
	gt.Equal(t, "retry budget", call.Arguments["query"])
}

func TestToolCallAccumulatorIncomplete(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Arguments = `{"query": "orphaned"}`
	_, err := acc.finish()
	gt.Error(t, err)
}

func TestToolCallAccumulatorBadJSON(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.ID = "call_3"
	acc.Name = "run_code"
	acc.Arguments = `{"code": `
	_, err := acc.finish()
	gt.Error(t, err)
}

func TestSchemaInstruction(t *testing.T) {
	schema := &steward.Parameter{
		Type: steward.TypeObject,
		Properties: map[string]*steward.Parameter{
			"verdict": {Type: steward.TypeString},
		},
		Required: []string{"verdict"},
	}

	instruction := gt.R1(schemaInstruction(schema)).NoError(t)
	gt.True(t, strings.Contains(instruction, "JSON Schema"))
	gt.True(t, strings.Contains(instruction, "verdict"))
}

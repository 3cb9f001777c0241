package gemini

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
	genai "google.golang.org/genai"
)

// fakeAPIClient scripts GenerateContent responses and records the contents
// each call received.
type fakeAPIClient struct {
	responses []*genai.GenerateContentResponse
	calls     [][]*genai.Content
	err       error
}

func (f *fakeAPIClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls = append(f.calls, contents)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeAPIClient) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) <-chan streamResponse {
	ch := make(chan streamResponse, len(f.responses)+1)
	f.calls = append(f.calls, contents)
	if f.err != nil {
		ch <- streamResponse{err: f.err}
	} else {
		for _, resp := range f.responses {
			ch <- streamResponse{resp: resp}
		}
	}
	close(ch)
	return ch
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: text}},
			},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
		},
	}
}

func newFakeSession(fake *fakeAPIClient) *Session {
	return &Session{
		apiClient: fake,
		model:     DefaultModel,
		history:   steward.NewHistory(),
	}
}

func TestSessionGenerate(t *testing.T) {
	fake := &fakeAPIClient{responses: []*genai.GenerateContentResponse{textResponse("hello back")}}
	ssn := newFakeSession(fake)

	resp := gt.R1(ssn.Generate(context.Background(), steward.Text("hello"))).NoError(t)
	gt.Equal(t, []string{"hello back"}, resp.Texts)
	gt.Equal(t, 10, resp.InputToken)
	gt.Equal(t, 5, resp.OutputToken)

	// Both turns landed in the history.
	history := gt.R1(ssn.History()).NoError(t)
	gt.Equal(t, 2, len(history.Turns))
	gt.Equal(t, steward.RoleUser, history.Turns[0].Role)
	gt.Equal(t, "hello", history.Turns[0].Content)
	gt.Equal(t, steward.RoleAssistant, history.Turns[1].Role)
	gt.Equal(t, "hello back", history.Turns[1].Content)
}

func TestSessionCarriesHistoryForward(t *testing.T) {
	fake := &fakeAPIClient{responses: []*genai.GenerateContentResponse{
		textResponse("first"),
		textResponse("second"),
	}}
	ssn := newFakeSession(fake)

	gt.R1(ssn.Generate(context.Background(), steward.Text("one"))).NoError(t)
	gt.R1(ssn.Generate(context.Background(), steward.Text("two"))).NoError(t)

	// The second call replays the recorded turns before the new input.
	second := fake.calls[1]
	gt.Equal(t, 3, len(second))
	gt.Equal(t, "user", second[0].Role)
	gt.Equal(t, "one", second[0].Parts[0].Text)
	gt.Equal(t, "model", second[1].Role)
	gt.Equal(t, "first", second[1].Parts[0].Text)
	gt.Equal(t, "two", second[2].Parts[0].Text)
}

func TestSessionFunctionCallRoundTrip(t *testing.T) {
	fake := &fakeAPIClient{responses: []*genai.GenerateContentResponse{
		{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role: "model",
					Parts: []*genai.Part{{
						FunctionCall: &genai.FunctionCall{
							Name: "lookup",
							Args: map[string]any{"query": "x"},
						},
					}},
				},
			}},
		},
		textResponse("done"),
	}}
	ssn := newFakeSession(fake)

	resp := gt.R1(ssn.Generate(context.Background(), steward.Text("go"))).NoError(t)
	gt.Equal(t, 1, len(resp.FunctionCalls))
	call := resp.FunctionCalls[0]
	gt.Equal(t, "lookup", call.Name)
	gt.True(t, call.ID != "")

	gt.R1(ssn.Generate(context.Background(), steward.FunctionResponse{
		ID: call.ID, Name: call.Name, Data: map[string]any{"answer": "y"},
	})).NoError(t)

	// The tool result goes back as a user-role function response part.
	second := fake.calls[1]
	last := second[len(second)-1]
	gt.Equal(t, "user", last.Role)
	gt.True(t, last.Parts[0].FunctionResponse != nil)
	gt.Equal(t, "lookup", last.Parts[0].FunctionResponse.Name)
	gt.Equal(t, map[string]any{"answer": "y"}, last.Parts[0].FunctionResponse.Response)
}

func TestSessionToolErrorBecomesErrorMessage(t *testing.T) {
	parts := gt.R1(convertInputs([]steward.Input{
		steward.FunctionResponse{ID: "c1", Name: "lookup", Error: context.DeadlineExceeded},
	})).NoError(t)
	gt.Equal(t, 1, len(parts))
	resp := parts[0].FunctionResponse.Response
	gt.True(t, resp["error_message"] != nil)
}

func TestSessionRejectsGIF(t *testing.T) {
	gif := append([]byte("GIF89a"), make([]byte, 16)...)
	img := gt.R1(steward.NewImage(gif)).NoError(t)

	fake := &fakeAPIClient{responses: []*genai.GenerateContentResponse{textResponse("unused")}}
	ssn := newFakeSession(fake)

	_, err := ssn.Generate(context.Background(), img)
	gt.Error(t, err)
}

func TestSessionGenerateStream(t *testing.T) {
	fake := &fakeAPIClient{responses: []*genai.GenerateContentResponse{
		textResponse("chunk one "),
		textResponse("chunk two"),
	}}
	ssn := newFakeSession(fake)

	stream := gt.R1(ssn.GenerateStream(context.Background(), steward.Text("go"))).NoError(t)

	var texts []string
	for chunk := range stream {
		gt.NoError(t, chunk.Error)
		texts = append(texts, chunk.Texts...)
	}
	gt.Equal(t, []string{"chunk one ", "chunk two"}, texts)
}

func TestProcessResponseRejectsMalformedCall(t *testing.T) {
	_, err := processResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: "MALFORMED_FUNCTION_CALL"}},
	})
	gt.Error(t, err)
}

func TestProcessResponseExtractsSources(t *testing.T) {
	resp := gt.R1(processResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: "grounded"}}},
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{Title: "Example", URI: "https://example.com"}},
					{Web: &genai.GroundingChunkWeb{URI: ""}},
					nil,
				},
			},
		}},
	})).NoError(t)

	gt.Equal(t, 1, len(resp.GroundingSources))
	gt.Equal(t, "https://example.com", resp.GroundingSources[0].URL)
}

func TestConvertTool(t *testing.T) {
	tool := &stubTool{spec: &steward.ToolSpec{
		Name:        "search_archive",
		Description: "search the local archive",
		Parameters: map[string]*steward.Parameter{
			"query": {Type: steward.TypeString, Description: "search text"},
			"limit": {Type: steward.TypeInteger},
		},
		Required: []string{"query"},
	}}

	decl := convertTool(tool)
	gt.Equal(t, "search_archive", decl.Name)
	gt.Equal(t, genai.TypeObject, decl.Parameters.Type)
	gt.Equal(t, genai.TypeString, decl.Parameters.Properties["query"].Type)
	gt.Equal(t, genai.TypeInteger, decl.Parameters.Properties["limit"].Type)
	gt.Equal(t, []string{"query"}, decl.Parameters.Required)
}

type stubTool struct {
	spec *steward.ToolSpec
}

func (s *stubTool) Spec() *steward.ToolSpec { return s.spec }
func (s *stubTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return nil, nil
}

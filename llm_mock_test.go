package steward_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

// mockResponder produces the scripted response for one generation call.
// cfg identifies the calling agent (tests assign one model per kind), inputs
// are the call's prompt parts, and turn counts the calls made on the session.
type mockResponder func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error)

type mockClient struct {
	mu      sync.Mutex
	respond mockResponder
	calls   int
	embeds  int
}

func newMockClient(respond mockResponder) *mockClient {
	return &mockClient{respond: respond}
}

func (c *mockClient) NewSession(ctx context.Context, options ...steward.SessionOption) (steward.Session, error) {
	return &mockSession{
		client:  c,
		cfg:     steward.NewSessionConfig(options...),
		history: steward.NewHistory(),
	}, nil
}

func (c *mockClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	c.mu.Lock()
	c.embeds++
	c.mu.Unlock()

	out := make([][]float64, len(input))
	for i := range input {
		v := make([]float64, dimension)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (c *mockClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type mockSession struct {
	client  *mockClient
	cfg     *steward.SessionConfig
	history *steward.History
	turns   int
}

func (s *mockSession) Generate(ctx context.Context, input ...steward.Input) (*steward.Response, error) {
	s.client.mu.Lock()
	s.client.calls++
	turn := s.turns
	s.turns++
	s.client.mu.Unlock()
	return s.client.respond(s.cfg, input, turn)
}

func (s *mockSession) GenerateStream(ctx context.Context, input ...steward.Input) (<-chan *steward.Response, error) {
	resp, err := s.Generate(ctx, input...)
	if err != nil {
		return nil, err
	}
	ch := make(chan *steward.Response, 1)
	ch <- resp
	close(ch)
	return ch, nil
}

func (s *mockSession) History() (*steward.History, error) {
	return s.history, nil
}

func textResp(text string) *steward.Response {
	return &steward.Response{Texts: []string{text}}
}

// testRegistry tags every agent definition with a kind-derived model so the
// scripted responder can tell which agent is calling.
func testRegistry(t *testing.T) *steward.Registry {
	t.Helper()

	base := gt.R1(steward.DefaultRegistry()).NoError(t)
	var opts []steward.RegistryOption
	for _, kind := range base.Kinds() {
		opts = append(opts, steward.WithModelOverride(kind, "model:"+string(kind)))
	}
	return gt.R1(steward.DefaultRegistry(opts...)).NoError(t)
}

// kindOf recovers the agent kind a test registry encoded into the model name.
func kindOf(cfg *steward.SessionConfig) string {
	return strings.TrimPrefix(cfg.Model(), "model:")
}

func joinInputs(inputs []steward.Input) string {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString(in.String())
		b.WriteString("\n")
	}
	return b.String()
}

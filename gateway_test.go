package steward_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

func TestGatewayRetriesTransientFailures(t *testing.T) {
	var calls int
	client := newMockClient(func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		calls++
		if calls < 3 {
			return nil, goerr.New("429 too many requests")
		}
		return textResp("recovered"), nil
	})
	gateway := steward.NewGateway(client, testRegistry(t),
		steward.WithBackoffBase(time.Millisecond),
	)

	resp := gt.R1(gateway.Generate(context.Background(), steward.KindChat, nil, steward.Text("hi"))).NoError(t)
	gt.Equal(t, []string{"recovered"}, resp.Texts)
	gt.Equal(t, 3, calls)
}

func TestGatewayDoesNotRetryPermanentFailures(t *testing.T) {
	var calls int
	client := newMockClient(func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		calls++
		return nil, goerr.New("invalid argument")
	})
	gateway := steward.NewGateway(client, testRegistry(t))

	_, err := gateway.Generate(context.Background(), steward.KindChat, nil, steward.Text("hi"))
	gt.Error(t, err)
	gt.Equal(t, 1, calls)
}

func TestGatewayExhaustsAttempts(t *testing.T) {
	var calls int
	client := newMockClient(func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		calls++
		return nil, goerr.New("service unavailable")
	})
	gateway := steward.NewGateway(client, testRegistry(t),
		steward.WithMaxAttempts(2),
		steward.WithBackoffBase(time.Millisecond),
	)

	_, err := gateway.Generate(context.Background(), steward.KindChat, nil, steward.Text("hi"))
	gt.Error(t, err)
	gt.Equal(t, 2, calls)
}

func TestGatewayAgentSessionConfig(t *testing.T) {
	var seen *steward.SessionConfig
	client := newMockClient(func(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
		seen = cfg
		return textResp("ok"), nil
	})
	gateway := steward.NewGateway(client, testRegistry(t))

	_, err := gateway.Generate(context.Background(), steward.KindResearch, nil, steward.Text("hi"))
	gt.NoError(t, err)
	gt.Equal(t, "model:research", seen.Model())
	gt.True(t, strings.Contains(seen.SystemPrompt(), "research specialist"))
	gt.True(t, seen.Temperature() != nil)
}

// streamSession emits a fixed chunk sequence regardless of input.
type streamSession struct {
	chunks []*steward.Response
}

func (s *streamSession) Generate(ctx context.Context, input ...steward.Input) (*steward.Response, error) {
	return nil, goerr.New("not used")
}

func (s *streamSession) GenerateStream(ctx context.Context, input ...steward.Input) (<-chan *steward.Response, error) {
	ch := make(chan *steward.Response, len(s.chunks))
	for _, chunk := range s.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (s *streamSession) History() (*steward.History, error) {
	return steward.NewHistory(), nil
}

func TestGatewayStreamToAggregate(t *testing.T) {
	client := newMockClient(nil)
	gateway := steward.NewGateway(client, testRegistry(t))

	ssn := &streamSession{chunks: []*steward.Response{
		{Texts: []string{"Hello"}},
		{Texts: []string{" world"}, GroundingSources: []steward.GroundingSource{{Title: "a", URL: "https://a"}}},
		{GroundingSources: []steward.GroundingSource{{Title: "dup", URL: "https://a"}}},
		{InputToken: 10, OutputToken: 4},
	}}

	var deltas []string
	resp := gt.R1(gateway.StreamToAggregate(context.Background(), steward.KindChat, ssn, func(text string) {
		deltas = append(deltas, text)
	}, steward.Text("hi"))).NoError(t)

	gt.Equal(t, []string{"Hello world"}, resp.Texts)
	gt.Equal(t, 1, len(resp.GroundingSources))
	gt.Equal(t, 10, resp.InputToken)
	gt.Equal(t, 4, resp.OutputToken)

	// Each delta snapshot extends the previous one.
	gt.Equal(t, []string{"Hello", "Hello world"}, deltas)
}

func TestGatewayStreamError(t *testing.T) {
	client := newMockClient(nil)
	gateway := steward.NewGateway(client, testRegistry(t))

	ssn := &streamSession{chunks: []*steward.Response{
		{Texts: []string{"partial"}},
		{Error: goerr.New("stream broke")},
	}}

	_, err := gateway.StreamToAggregate(context.Background(), steward.KindChat, ssn, nil, steward.Text("hi"))
	gt.Error(t, err)
}

func TestGatewayEmbed(t *testing.T) {
	client := newMockClient(nil)
	gateway := steward.NewGateway(client, testRegistry(t),
		steward.WithEmbeddingDimension(8),
	)

	vectors := gt.R1(gateway.Embed(context.Background(), []string{"a", "b"})).NoError(t)
	gt.Equal(t, 2, len(vectors))
	gt.Equal(t, 8, len(vectors[0]))

	empty := gt.R1(gateway.Embed(context.Background(), nil)).NoError(t)
	gt.True(t, empty == nil)
}

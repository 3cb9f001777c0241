package main

import (
	"context"
	"net/http"

	"github.com/m-mizutani/steward/storage"
)

// ListSessionsResponse is exported for testing.
type ListSessionsResponse = listSessionsResponse

// SessionSummary is exported for testing.
type SessionSummary = sessionSummary

// Exported constructors for testing
var NewServer = newServer

// Exported server options for testing
var WithAddr = withAddr
var WithNoBrowser = withNoBrowser

// Handler returns the server's HTTP handler for testing.
func (s *server) Handler() http.Handler {
	return s.mux
}

// NewLocalSource creates a session source over a local snapshot directory.
func NewLocalSource(dir string) *sessionSource {
	return newSessionSource(storage.NewLocalRepository(dir))
}

// WithTestSource creates a server option from a session source.
func WithTestSource(src *sessionSource) serverOption {
	return withSource(src)
}

// ListResult holds the exported result of a List call.
type ListResult struct {
	Sessions      []SessionSummary
	NextPageToken string
}

// List calls the source's List with exported types.
func (s *sessionSource) ListPage(ctx context.Context, pageSize int, pageToken string) (*ListResult, error) {
	resp, err := s.List(ctx, listRequest{pageSize: pageSize, pageToken: pageToken})
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Sessions:      resp.sessions,
		NextPageToken: resp.nextPageToken,
	}, nil
}

// LoadChatConfig is exported for testing.
var LoadChatConfig = loadChatConfig

// RegistryOptionCount returns how many registry options the config yields.
func (c *chatConfig) RegistryOptionCount() (int, error) {
	opts, err := c.registryOptions()
	if err != nil {
		return 0, err
	}
	return len(opts), nil
}

// OrchestratorOptionCount returns how many orchestrator options the config yields.
func (c *chatConfig) OrchestratorOptionCount() int {
	return len(c.orchestratorOptions())
}

// Package sandbox is the boundary to the sandboxed code-execution runtime.
// The runtime itself lives outside this module; the package only ships the
// contract and a JSON-over-HTTP client for it.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ExecResult is the captured output of one execution. Capture starts fresh
// per invocation; nothing carries over from earlier calls.
type ExecResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr,omitempty"`
}

// Runner executes source code in the sandboxed runtime.
type Runner interface {
	Execute(ctx context.Context, code string) (*ExecResult, error)
}

// DefaultExecTimeout bounds one execution round-trip.
const DefaultExecTimeout = 60 * time.Second

// HTTPRunner talks to a sandbox runtime over HTTP: POST {code} to the
// execute endpoint, receive {stdout, stderr}.
type HTTPRunner struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

var _ Runner = (*HTTPRunner)(nil)

// HTTPRunnerOption configures an HTTPRunner.
type HTTPRunnerOption func(*HTTPRunner)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) HTTPRunnerOption {
	return func(r *HTTPRunner) {
		if client != nil {
			r.client = client
		}
	}
}

// WithExecTimeout sets the per-call timeout.
func WithExecTimeout(d time.Duration) HTTPRunnerOption {
	return func(r *HTTPRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewHTTPRunner creates a runner against the runtime at baseURL.
func NewHTTPRunner(baseURL string, options ...HTTPRunnerOption) *HTTPRunner {
	r := &HTTPRunner{
		baseURL: baseURL,
		client:  http.DefaultClient,
		timeout: DefaultExecTimeout,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

type execRequest struct {
	Code string `json:"code"`
}

// Execute sends the code to the runtime and returns the captured output. A
// non-2xx status is an execution-service failure, distinct from the code
// itself failing (which comes back as stderr with a 2xx status).
func (r *HTTPRunner) Execute(ctx context.Context, code string) (*ExecResult, error) {
	body, err := json.Marshal(execRequest{Code: code})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode execution request")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build execution request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "execution request failed", goerr.V("url", r.baseURL))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read execution response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("execution service rejected the request",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(data)),
		)
	}

	var result ExecResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, goerr.Wrap(err, "failed to decode execution response")
	}
	return &result, nil
}

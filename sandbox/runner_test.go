package sandbox_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward/sandbox"
)

func TestHTTPRunnerExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, http.MethodPost, r.Method)
		gt.Equal(t, "/execute", r.URL.Path)
		gt.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Code string `json:"code"`
		}
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gt.Equal(t, `print("hi")`, req.Code)

		gt.NoError(t, json.NewEncoder(w).Encode(sandbox.ExecResult{Stdout: "hi\n"}))
	}))
	defer srv.Close()

	runner := sandbox.NewHTTPRunner(srv.URL)
	result := gt.R1(runner.Execute(context.Background(), `print("hi")`)).NoError(t)
	gt.Equal(t, "hi\n", result.Stdout)
	gt.Equal(t, "", result.Stderr)
}

func TestHTTPRunnerCodeFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.NoError(t, json.NewEncoder(w).Encode(sandbox.ExecResult{
			Stderr: "NameError: name 'x' is not defined",
		}))
	}))
	defer srv.Close()

	runner := sandbox.NewHTTPRunner(srv.URL)
	result := gt.R1(runner.Execute(context.Background(), "print(x)")).NoError(t)
	gt.Equal(t, "", result.Stdout)
	gt.True(t, result.Stderr != "")
}

func TestHTTPRunnerServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	runner := sandbox.NewHTTPRunner(srv.URL)
	_, err := runner.Execute(context.Background(), "print(1)")
	gt.Error(t, err)
}

func TestHTTPRunnerUnreachable(t *testing.T) {
	runner := sandbox.NewHTTPRunner("http://127.0.0.1:1")
	_, err := runner.Execute(context.Background(), "print(1)")
	gt.Error(t, err)
}

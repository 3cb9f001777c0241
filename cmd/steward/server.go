package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type serverOption func(*server)

func withAddr(addr string) serverOption {
	return func(s *server) {
		s.addr = addr
	}
}

func withSource(src *sessionSource) serverOption {
	return func(s *server) {
		s.source = src
	}
}

func withNoBrowser() serverOption {
	return func(s *server) {
		s.noBrowser = true
	}
}

type server struct {
	addr      string
	source    *sessionSource
	noBrowser bool
	mux       *http.ServeMux
}

func newServer(opts ...serverOption) *server {
	s := &server{
		addr: ":18900",
		mux:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "steward session viewer")
	fmt.Fprintln(w, "  GET /api/sessions")
	fmt.Fprintln(w, "  GET /api/sessions/{id}")
}

func (s *server) handler() http.Handler {
	return s.mux
}

func (s *server) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.Value("addr", s.addr))
	}

	addr := listener.Addr().String()
	url := "http://" + addr
	slog.Info("starting session viewer server", slog.String("addr", addr), slog.String("url", url))

	if !s.noBrowser {
		openBrowser(url)
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return goerr.Wrap(err, "server error")
	}

	return nil
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("failed to open browser", slog.Any("error", err))
	}
}

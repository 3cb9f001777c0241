package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listSessionsResponse struct {
	Sessions      []sessionSummary `json:"sessions"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	pageSizeStr := r.URL.Query().Get("page_size")
	pageToken := r.URL.Query().Get("page_token")

	pageSize := 20
	if pageSizeStr != "" {
		n, err := strconv.Atoi(pageSizeStr)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid page_size parameter")
			return
		}
		pageSize = n
	}

	resp, err := s.source.List(r.Context(), listRequest{
		pageSize:  pageSize,
		pageToken: pageToken,
	})
	if err != nil {
		slog.Error("failed to list sessions", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	sessions := resp.sessions
	if sessions == nil {
		sessions = []sessionSummary{}
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions:      sessions,
		NextPageToken: resp.nextPageToken,
	})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	data, err := s.source.Get(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to get session", slog.Any("error", err), slog.String("sessionID", sessionID))
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if !json.Valid(data) {
		slog.Error("stored snapshot is not valid JSON", slog.String("sessionID", sessionID))
		writeError(w, http.StatusInternalServerError, "invalid session snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write session snapshot", slog.Any("error", err))
	}
}

package main

import (
	"context"
	"encoding/base64"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/storage"
)

// sessionSummary is a lightweight representation of a saved session,
// derived from snapshot metadata without reading the file contents.
type sessionSummary struct {
	SessionID string    `json:"session_id"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

type listRequest struct {
	pageSize  int
	pageToken string
}

type listResponse struct {
	sessions      []sessionSummary
	nextPageToken string
}

// sessionSource serves saved session snapshots to the viewer. It paginates
// over a snapshot repository with an opaque token encoding the last
// returned ID.
type sessionSource struct {
	repo storage.Repository
}

func newSessionSource(repo storage.Repository) *sessionSource {
	return &sessionSource{repo: repo}
}

func (s *sessionSource) List(ctx context.Context, req listRequest) (*listResponse, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list session snapshots")
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})

	startIdx := 0
	if req.pageToken != "" {
		lastID, err := decodePageToken(req.pageToken)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid page token")
		}
		for i, e := range entries {
			if e.ID > lastID {
				startIdx = i
				break
			}
		}
		if startIdx == 0 && len(entries) > 0 && entries[len(entries)-1].ID <= lastID {
			return &listResponse{}, nil
		}
	}

	pageSize := req.pageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	endIdx := startIdx + pageSize
	if endIdx > len(entries) {
		endIdx = len(entries)
	}

	resp := &listResponse{}
	for _, e := range entries[startIdx:endIdx] {
		resp.sessions = append(resp.sessions, sessionSummary{
			SessionID: e.ID,
			Size:      e.Size,
			UpdatedAt: e.UpdatedAt,
		})
	}

	if endIdx < len(entries) {
		resp.nextPageToken = encodePageToken(entries[endIdx-1].ID)
	}

	return resp, nil
}

func (s *sessionSource) Get(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load session snapshot", goerr.Value("sessionID", sessionID))
	}
	return data, nil
}

func encodePageToken(id string) string {
	return base64.URLEncoding.EncodeToString([]byte(id))
}

func decodePageToken(token string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", goerr.Wrap(err, "failed to decode page token")
	}
	return string(b), nil
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Repo struct {
	ID          string     `json:"id"`
	NamespaceID string     `json:"namespace_id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Public      bool       `json:"public"`
	FolderID    *string    `json:"folder_id,omitempty"`
	SizeBytes   int64      `json:"size_bytes"`
	LastPushAt  *time.Time `json:"last_push_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ListRepos lists repositories in the client's namespace scope.
func (c *Client) ListRepos(ctx context.Context, cursor string, limit int) ([]Repo, bool, error) {
	path := buildPaginatedPath("/api/v1/repos", cursor, limit)

	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, c.decodeError(resp)
	}

	var listResp listResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	var repos []Repo
	if err := json.Unmarshal(listResp.Data, &repos); err != nil {
		return nil, false, fmt.Errorf("decode repos: %w", err)
	}

	return repos, listResp.HasMore, nil
}

// CreateRepo creates a repository in the client's namespace scope.
func (c *Client) CreateRepo(ctx context.Context, name string, description *string, public bool) (*Repo, error) {
	body := map[string]any{
		"name":   name,
		"public": public,
	}
	if description != nil {
		body["description"] = *description
	}

	resp, err := c.doRequestWithBody(ctx, http.MethodPost, "/api/v1/repos", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.decodeError(resp)
	}

	var dataResp response
	if err := json.NewDecoder(resp.Body).Decode(&dataResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var repo Repo
	if err := json.Unmarshal(dataResp.Data, &repo); err != nil {
		return nil, fmt.Errorf("decode repo: %w", err)
	}

	return &repo, nil
}

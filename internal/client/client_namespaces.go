package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Namespace struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	CreatedAt         time.Time `json:"created_at"`
	RepoLimit         *int      `json:"repo_limit,omitempty"`
	StorageLimitBytes *int64    `json:"storage_limit_bytes,omitempty"`
}

// NamespaceWithAccess is a namespace the token can reach, with a marker for
// the principal's primary namespace.
type NamespaceWithAccess struct {
	Namespace
	IsPrimary bool `json:"is_primary"`
}

// ListNamespaces lists every namespace the token has access to.
func (c *Client) ListNamespaces(ctx context.Context) ([]NamespaceWithAccess, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/namespaces")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var dataResp response
	if err := json.NewDecoder(resp.Body).Decode(&dataResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var namespaces []NamespaceWithAccess
	if err := json.Unmarshal(dataResp.Data, &namespaces); err != nil {
		return nil, fmt.Errorf("decode namespaces: %w", err)
	}

	return namespaces, nil
}

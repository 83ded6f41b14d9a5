package lfs

import (
	"context"
	"io"
)

// Storage is a content-addressed blob store keyed on (repoID, oid), where the
// oid is the lowercase hex SHA-256 of the content. Objects are immutable once
// published.
type Storage interface {
	Exists(ctx context.Context, repoID, oid string) (bool, error)
	Get(ctx context.Context, repoID, oid string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, repoID, oid string, content io.Reader, size int64) error
	// Delete reports false when the object was already absent.
	Delete(ctx context.Context, repoID, oid string) (bool, error)
	Size(ctx context.Context, repoID, oid string) (int64, error)
	// RemoveRepo discards every object stored for a repository.
	RemoveRepo(ctx context.Context, repoID string) error
}

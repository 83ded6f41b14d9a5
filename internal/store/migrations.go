package store

import (
	"fmt"
)

// Initialize creates the database schema.
func (s *SQLiteStore) Initialize() error {
	if err := s.createSchema(); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	-- Namespaces provide isolation
	CREATE TABLE IF NOT EXISTS namespaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

		-- Soft limits (enforced by platform, tracked by core)
		repo_limit INTEGER,           -- NULL = unlimited
		storage_limit_bytes INTEGER,  -- NULL = unlimited

		-- For platform correlation (opaque to core)
		external_id TEXT
	);

	-- Principals own permissions; tokens are just auth credentials for principals
	CREATE TABLE IF NOT EXISTS principals (
		id TEXT PRIMARY KEY,
		primary_namespace_id TEXT NOT NULL UNIQUE REFERENCES namespaces(id) ON DELETE CASCADE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Folders organize repos into a per-namespace tree
	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		namespace_id TEXT NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		parent_id TEXT REFERENCES folders(id) ON DELETE CASCADE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Repositories
	CREATE TABLE IF NOT EXISTS repos (
		id TEXT PRIMARY KEY,
		namespace_id TEXT NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT,

		-- Visibility
		public BOOLEAN NOT NULL DEFAULT FALSE,  -- If true, anonymous read access allowed

		-- Folder assignment (a repo belongs to at most one folder)
		folder_id TEXT REFERENCES folders(id) ON DELETE SET NULL,

		-- Stats
		size_bytes INTEGER NOT NULL DEFAULT 0,
		last_push_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

		UNIQUE(namespace_id, name)
	);

	-- Tokens are auth credentials; non-admin tokens must belong to a principal
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL,      -- argon2id PHC string with embedded salt
		token_lookup TEXT NOT NULL,    -- printable prefix for indexed lookup
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		principal_id TEXT REFERENCES principals(id) ON DELETE CASCADE,

		-- Lifecycle
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP,          -- NULL = never
		last_used_at TIMESTAMP
	);

	-- Namespace grants: permissions a principal has for a namespace
	CREATE TABLE IF NOT EXISTS principal_namespace_grants (
		principal_id TEXT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		namespace_id TEXT NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
		allow_bits INTEGER NOT NULL DEFAULT 0,
		deny_bits INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (principal_id, namespace_id)
	);

	-- Repo grants: permissions a principal has for a specific repo
	CREATE TABLE IF NOT EXISTS principal_repo_grants (
		principal_id TEXT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
		allow_bits INTEGER NOT NULL DEFAULT 0,
		deny_bits INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (principal_id, repo_id)
	);

	-- Tags for labeling repos
	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		namespace_id TEXT NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		color TEXT,  -- hex color for client display
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

		UNIQUE(namespace_id, name)
	);

	-- Many-to-many relationship between repos and tags
	CREATE TABLE IF NOT EXISTS repo_tags (
		repo_id TEXT REFERENCES repos(id) ON DELETE CASCADE,
		tag_id TEXT REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (repo_id, tag_id)
	);

	-- LFS object index; mirrors the content-addressed file tree
	CREATE TABLE IF NOT EXISTS lfs_objects (
		repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
		oid TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (repo_id, oid)
	);

	-- Create indexes
	CREATE INDEX IF NOT EXISTS idx_repos_namespace ON repos(namespace_id);
	CREATE INDEX IF NOT EXISTS idx_repos_folder ON repos(folder_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_lookup ON tokens(token_lookup);
	CREATE INDEX IF NOT EXISTS idx_tokens_principal ON tokens(principal_id);
	CREATE INDEX IF NOT EXISTS idx_tags_namespace ON tags(namespace_id);
	CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_folders_ns_parent_name ON folders(namespace_id, IFNULL(parent_id, ''), name);
	CREATE INDEX IF NOT EXISTS idx_lfs_objects_repo ON lfs_objects(repo_id);
	CREATE INDEX IF NOT EXISTS idx_namespace_grants_principal ON principal_namespace_grants(principal_id);
	CREATE INDEX IF NOT EXISTS idx_repo_grants_principal ON principal_repo_grants(principal_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

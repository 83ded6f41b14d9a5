package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bantamhq/cutman/internal/core"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// CreateNamespace creates a new namespace.
func (s *SQLiteStore) CreateNamespace(ns *Namespace) error {
	query := `
		INSERT INTO namespaces (id, name, created_at, repo_limit, storage_limit_bytes, external_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		ns.ID,
		ns.Name,
		ns.CreatedAt,
		ToNullInt(ns.RepoLimit),
		ToNullInt64(ns.StorageLimitBytes),
		ToNullString(ns.ExternalID),
	)
	if err != nil {
		return fmt.Errorf("insert namespace: %w", err)
	}
	return nil
}

// GetNamespace retrieves a namespace by ID.
func (s *SQLiteStore) GetNamespace(id string) (*Namespace, error) {
	query := `
		SELECT id, name, created_at, repo_limit, storage_limit_bytes, external_id
		FROM namespaces
		WHERE id = ?
	`
	return s.scanNamespace(s.db.QueryRow(query, id))
}

// GetNamespaceByName retrieves a namespace by name.
func (s *SQLiteStore) GetNamespaceByName(name string) (*Namespace, error) {
	query := `
		SELECT id, name, created_at, repo_limit, storage_limit_bytes, external_id
		FROM namespaces
		WHERE name = ?
	`
	return s.scanNamespace(s.db.QueryRow(query, name))
}

func (s *SQLiteStore) scanNamespace(row *sql.Row) (*Namespace, error) {
	var ns Namespace
	var repoLimit, storageLimit sql.NullInt64
	var externalID sql.NullString

	err := row.Scan(
		&ns.ID,
		&ns.Name,
		&ns.CreatedAt,
		&repoLimit,
		&storageLimit,
		&externalID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan namespace: %w", err)
	}

	ns.RepoLimit = FromNullInt(repoLimit)
	ns.StorageLimitBytes = FromNullInt64(storageLimit)
	ns.ExternalID = FromNullString(externalID)

	return &ns, nil
}

// ListNamespaces lists all namespaces with cursor-based pagination.
func (s *SQLiteStore) ListNamespaces(cursor string, limit int) ([]Namespace, error) {
	query := `
		SELECT id, name, created_at, repo_limit, storage_limit_bytes, external_id
		FROM namespaces
		WHERE id > ?
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.Query(query, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []Namespace
	for rows.Next() {
		var ns Namespace
		var repoLimit, storageLimit sql.NullInt64
		var externalID sql.NullString

		if err := rows.Scan(
			&ns.ID,
			&ns.Name,
			&ns.CreatedAt,
			&repoLimit,
			&storageLimit,
			&externalID,
		); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}

		ns.RepoLimit = FromNullInt(repoLimit)
		ns.StorageLimitBytes = FromNullInt64(storageLimit)
		ns.ExternalID = FromNullString(externalID)
		namespaces = append(namespaces, ns)
	}

	return namespaces, rows.Err()
}

// UpdateNamespace updates a namespace's mutable fields.
func (s *SQLiteStore) UpdateNamespace(ns *Namespace) error {
	result, err := s.db.Exec(`
		UPDATE namespaces
		SET name = ?, repo_limit = ?, storage_limit_bytes = ?, external_id = ?
		WHERE id = ?
	`, ns.Name, ToNullInt(ns.RepoLimit), ToNullInt64(ns.StorageLimitBytes), ToNullString(ns.ExternalID), ns.ID)
	if err != nil {
		return fmt.Errorf("update namespace: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// DeleteNamespace deletes a namespace. Repos, tags, folders, and grants that
// reference it are deleted via ON DELETE CASCADE constraints.
func (s *SQLiteStore) DeleteNamespace(id string) error {
	result, err := s.db.Exec("DELETE FROM namespaces WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// CountNamespaceRepos counts the repositories in a namespace.
func (s *SQLiteStore) CountNamespaceRepos(namespaceID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM repos WHERE namespace_id = ?", namespaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count namespace repos: %w", err)
	}
	return count, nil
}

// CreatePrincipal creates a new principal.
func (s *SQLiteStore) CreatePrincipal(p *Principal) error {
	query := `
		INSERT INTO principals (id, primary_namespace_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		p.ID,
		p.PrimaryNamespaceID,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanPrincipal(row *sql.Row) (*Principal, error) {
	var p Principal

	err := row.Scan(
		&p.ID,
		&p.PrimaryNamespaceID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan principal: %w", err)
	}

	return &p, nil
}

// GetPrincipal retrieves a principal by ID.
func (s *SQLiteStore) GetPrincipal(id string) (*Principal, error) {
	query := `
		SELECT id, primary_namespace_id, created_at, updated_at
		FROM principals
		WHERE id = ?
	`
	return s.scanPrincipal(s.db.QueryRow(query, id))
}

// GetPrincipalByPrimaryNamespace retrieves the principal owning a namespace.
func (s *SQLiteStore) GetPrincipalByPrimaryNamespace(namespaceID string) (*Principal, error) {
	query := `
		SELECT id, primary_namespace_id, created_at, updated_at
		FROM principals
		WHERE primary_namespace_id = ?
	`
	return s.scanPrincipal(s.db.QueryRow(query, namespaceID))
}

// ListPrincipals lists all principals with cursor-based pagination.
func (s *SQLiteStore) ListPrincipals(cursor string, limit int) ([]Principal, error) {
	query := `
		SELECT id, primary_namespace_id, created_at, updated_at
		FROM principals
		WHERE id > ?
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.Query(query, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query principals: %w", err)
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		var p Principal

		if err := rows.Scan(
			&p.ID,
			&p.PrimaryNamespaceID,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}

		principals = append(principals, p)
	}

	return principals, rows.Err()
}

// DeletePrincipal deletes a principal by ID. Its tokens and grants are
// deleted via ON DELETE CASCADE constraints.
func (s *SQLiteStore) DeletePrincipal(id string) error {
	result, err := s.db.Exec("DELETE FROM principals WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// CreateToken creates a new token.
func (s *SQLiteStore) CreateToken(token *Token) error {
	query := `
		INSERT INTO tokens (id, token_hash, token_lookup, is_admin, principal_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		token.ID,
		token.TokenHash,
		token.TokenLookup,
		token.IsAdmin,
		ToNullString(token.PrincipalID),
		token.CreatedAt,
		ToNullTime(token.ExpiresAt),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenLookupCollision
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GenerateToken mints a token, retrying on lookup collisions.
func (s *SQLiteStore) GenerateToken(isAdmin bool, principalID *string, expiresAt *time.Time) (string, *Token, error) {
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		rawToken, token, err := s.generateTokenAttempt(isAdmin, principalID, expiresAt)
		if err != nil {
			if errors.Is(err, ErrTokenLookupCollision) {
				continue
			}
			return "", nil, err
		}
		return rawToken, token, nil
	}

	return "", nil, fmt.Errorf("generate token: %w", ErrTokenLookupCollision)
}

func (s *SQLiteStore) generateTokenAttempt(isAdmin bool, principalID *string, expiresAt *time.Time) (string, *Token, error) {
	now := time.Now()
	tokenID := uuid.New().String()
	tokenLookup := tokenID[:core.LookupLength]

	secret, err := core.GenerateTokenSecret(core.SecretLength)
	if err != nil {
		return "", nil, fmt.Errorf("generate token secret: %w", err)
	}

	rawToken := core.BuildToken(tokenLookup, secret)

	tokenHash, err := core.HashToken(rawToken)
	if err != nil {
		return "", nil, fmt.Errorf("hash token: %w", err)
	}

	token := &Token{
		ID:          tokenID,
		TokenHash:   tokenHash,
		TokenLookup: tokenLookup,
		IsAdmin:     isAdmin,
		PrincipalID: principalID,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}

	if err := s.CreateToken(token); err != nil {
		return "", nil, err
	}

	return rawToken, token, nil
}

// GetTokenByID retrieves a token by ID.
func (s *SQLiteStore) GetTokenByID(id string) (*Token, error) {
	query := `
		SELECT id, token_hash, token_lookup, is_admin, principal_id,
			   created_at, expires_at, last_used_at
		FROM tokens
		WHERE id = ?
	`
	return s.scanToken(s.db.QueryRow(query, id))
}

// GetTokenByLookup retrieves a token by lookup key.
func (s *SQLiteStore) GetTokenByLookup(lookup string) (*Token, error) {
	query := `
		SELECT id, token_hash, token_lookup, is_admin, principal_id,
			   created_at, expires_at, last_used_at
		FROM tokens
		WHERE token_lookup = ?
	`
	return s.scanToken(s.db.QueryRow(query, lookup))
}

func (s *SQLiteStore) scanToken(row *sql.Row) (*Token, error) {
	var token Token
	var principalID sql.NullString
	var expiresAt, lastUsedAt sql.NullTime

	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.TokenLookup,
		&token.IsAdmin,
		&principalID,
		&token.CreatedAt,
		&expiresAt,
		&lastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token: %w", err)
	}

	token.PrincipalID = FromNullString(principalID)
	token.ExpiresAt = FromNullTime(expiresAt)
	token.LastUsedAt = FromNullTime(lastUsedAt)

	return &token, nil
}

// ListTokens lists all tokens with cursor-based pagination.
func (s *SQLiteStore) ListTokens(cursor string, limit int) ([]Token, error) {
	query := `
		SELECT id, token_hash, token_lookup, is_admin, principal_id,
			   created_at, expires_at, last_used_at
		FROM tokens
		WHERE id > ?
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.Query(query, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	return scanTokenRows(rows)
}

// ListPrincipalTokens lists all tokens belonging to a principal.
func (s *SQLiteStore) ListPrincipalTokens(principalID string) ([]Token, error) {
	query := `
		SELECT id, token_hash, token_lookup, is_admin, principal_id,
			   created_at, expires_at, last_used_at
		FROM tokens
		WHERE principal_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.Query(query, principalID)
	if err != nil {
		return nil, fmt.Errorf("query principal tokens: %w", err)
	}
	defer rows.Close()

	return scanTokenRows(rows)
}

func scanTokenRows(rows *sql.Rows) ([]Token, error) {
	var tokens []Token
	for rows.Next() {
		var token Token
		var principalID sql.NullString
		var expiresAt, lastUsedAt sql.NullTime

		if err := rows.Scan(
			&token.ID,
			&token.TokenHash,
			&token.TokenLookup,
			&token.IsAdmin,
			&principalID,
			&token.CreatedAt,
			&expiresAt,
			&lastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}

		token.PrincipalID = FromNullString(principalID)
		token.ExpiresAt = FromNullTime(expiresAt)
		token.LastUsedAt = FromNullTime(lastUsedAt)
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// DeleteToken deletes a token by ID.
func (s *SQLiteStore) DeleteToken(id string) error {
	result, err := s.db.Exec("DELETE FROM tokens WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// UpdateTokenLastUsed stamps a token's last_used_at with the current time.
func (s *SQLiteStore) UpdateTokenLastUsed(id string) error {
	_, err := s.db.Exec("UPDATE tokens SET last_used_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		return fmt.Errorf("update token last_used_at: %w", err)
	}
	return nil
}

// HasAdminToken reports whether any admin token exists.
func (s *SQLiteStore) HasAdminToken() (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tokens WHERE is_admin = TRUE").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count admin tokens: %w", err)
	}
	return count > 0, nil
}

// CreateRepo creates a new repository.
func (s *SQLiteStore) CreateRepo(repo *Repo) error {
	query := `
		INSERT INTO repos (
			id, namespace_id, name, description, public, folder_id,
			size_bytes, last_push_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		repo.ID,
		repo.NamespaceID,
		repo.Name,
		ToNullString(repo.Description),
		repo.Public,
		ToNullString(repo.FolderID),
		repo.SizeBytes,
		ToNullTime(repo.LastPushAt),
		repo.CreatedAt,
		repo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert repo: %w", err)
	}
	return nil
}

// GetRepo retrieves a repository by namespace and name.
func (s *SQLiteStore) GetRepo(namespaceID, name string) (*Repo, error) {
	query := `
		SELECT id, namespace_id, name, description, public, folder_id,
			   size_bytes, last_push_at, created_at, updated_at
		FROM repos
		WHERE namespace_id = ? AND name = ?
	`
	return s.scanRepo(s.db.QueryRow(query, namespaceID, name))
}

// GetRepoByID retrieves a repository by ID.
func (s *SQLiteStore) GetRepoByID(id string) (*Repo, error) {
	query := `
		SELECT id, namespace_id, name, description, public, folder_id,
			   size_bytes, last_push_at, created_at, updated_at
		FROM repos
		WHERE id = ?
	`
	return s.scanRepo(s.db.QueryRow(query, id))
}

func (s *SQLiteStore) scanRepo(row *sql.Row) (*Repo, error) {
	var repo Repo
	var description, folderID sql.NullString
	var lastPushAt sql.NullTime

	err := row.Scan(
		&repo.ID,
		&repo.NamespaceID,
		&repo.Name,
		&description,
		&repo.Public,
		&folderID,
		&repo.SizeBytes,
		&lastPushAt,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan repo: %w", err)
	}

	repo.Description = FromNullString(description)
	repo.FolderID = FromNullString(folderID)
	repo.LastPushAt = FromNullTime(lastPushAt)

	return &repo, nil
}

// ListRepos lists repos in a namespace with cursor-based pagination. A limit
// of zero or less returns all repos after the cursor.
func (s *SQLiteStore) ListRepos(namespaceID, cursor string, limit int) ([]Repo, error) {
	var rows *sql.Rows
	var err error

	if limit > 0 {
		query := `
			SELECT id, namespace_id, name, description, public, folder_id,
				   size_bytes, last_push_at, created_at, updated_at
			FROM repos
			WHERE namespace_id = ? AND name > ?
			ORDER BY name
			LIMIT ?
		`
		rows, err = s.db.Query(query, namespaceID, cursor, limit)
	} else {
		query := `
			SELECT id, namespace_id, name, description, public, folder_id,
				   size_bytes, last_push_at, created_at, updated_at
			FROM repos
			WHERE namespace_id = ? AND name > ?
			ORDER BY name
		`
		rows, err = s.db.Query(query, namespaceID, cursor)
	}
	if err != nil {
		return nil, fmt.Errorf("query repos: %w", err)
	}
	defer rows.Close()

	return scanRepoRows(rows)
}

func scanRepoRows(rows *sql.Rows) ([]Repo, error) {
	var repos []Repo
	for rows.Next() {
		var repo Repo
		var description, folderID sql.NullString
		var lastPushAt sql.NullTime

		if err := rows.Scan(
			&repo.ID,
			&repo.NamespaceID,
			&repo.Name,
			&description,
			&repo.Public,
			&folderID,
			&repo.SizeBytes,
			&lastPushAt,
			&repo.CreatedAt,
			&repo.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}

		repo.Description = FromNullString(description)
		repo.FolderID = FromNullString(folderID)
		repo.LastPushAt = FromNullTime(lastPushAt)
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

// UpdateRepo updates a repository's mutable fields.
func (s *SQLiteStore) UpdateRepo(repo *Repo) error {
	query := `
		UPDATE repos
		SET name = ?, description = ?, public = ?, folder_id = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		repo.Name,
		ToNullString(repo.Description),
		repo.Public,
		ToNullString(repo.FolderID),
		repo.UpdatedAt,
		repo.ID,
	)
	if err != nil {
		return fmt.Errorf("update repo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// DeleteRepo deletes a repository by ID. Its grants, tag associations, and
// LFS index rows are deleted via ON DELETE CASCADE constraints.
func (s *SQLiteStore) DeleteRepo(id string) error {
	result, err := s.db.Exec("DELETE FROM repos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete repo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// UpdateRepoLastPush updates the last push time for a repository.
func (s *SQLiteStore) UpdateRepoLastPush(id string, pushTime time.Time) error {
	query := `
		UPDATE repos
		SET last_push_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.Exec(query, pushTime, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update repo last_push_at: %w", err)
	}
	return nil
}

// UpdateRepoSize updates the stored size of a repository.
func (s *SQLiteStore) UpdateRepoSize(id string, sizeBytes int64) error {
	query := `
		UPDATE repos
		SET size_bytes = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, sizeBytes, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update repo size_bytes: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// CreateTag creates a new tag.
func (s *SQLiteStore) CreateTag(tag *Tag) error {
	query := `
		INSERT INTO tags (id, namespace_id, name, color, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		tag.ID,
		tag.NamespaceID,
		tag.Name,
		ToNullString(tag.Color),
		tag.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

// GetTag retrieves a tag by ID.
func (s *SQLiteStore) GetTag(id string) (*Tag, error) {
	query := `
		SELECT id, namespace_id, name, color, created_at
		FROM tags
		WHERE id = ?
	`
	return s.scanTag(s.db.QueryRow(query, id))
}

// GetTagByName retrieves a tag by namespace and name.
func (s *SQLiteStore) GetTagByName(namespaceID, name string) (*Tag, error) {
	query := `
		SELECT id, namespace_id, name, color, created_at
		FROM tags
		WHERE namespace_id = ? AND name = ?
	`
	return s.scanTag(s.db.QueryRow(query, namespaceID, name))
}

func (s *SQLiteStore) scanTag(row *sql.Row) (*Tag, error) {
	var tag Tag
	var color sql.NullString

	err := row.Scan(
		&tag.ID,
		&tag.NamespaceID,
		&tag.Name,
		&color,
		&tag.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tag: %w", err)
	}

	tag.Color = FromNullString(color)

	return &tag, nil
}

// ListTags lists tags in a namespace with cursor-based pagination. A limit
// of zero or less returns all tags after the cursor.
func (s *SQLiteStore) ListTags(namespaceID, cursor string, limit int) ([]Tag, error) {
	var rows *sql.Rows
	var err error

	if limit > 0 {
		query := `
			SELECT id, namespace_id, name, color, created_at
			FROM tags
			WHERE namespace_id = ? AND name > ?
			ORDER BY name
			LIMIT ?
		`
		rows, err = s.db.Query(query, namespaceID, cursor, limit)
	} else {
		query := `
			SELECT id, namespace_id, name, color, created_at
			FROM tags
			WHERE namespace_id = ? AND name > ?
			ORDER BY name
		`
		rows, err = s.db.Query(query, namespaceID, cursor)
	}
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	return scanTagRows(rows)
}

func scanTagRows(rows *sql.Rows) ([]Tag, error) {
	var tags []Tag
	for rows.Next() {
		var tag Tag
		var color sql.NullString

		if err := rows.Scan(
			&tag.ID,
			&tag.NamespaceID,
			&tag.Name,
			&color,
			&tag.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}

		tag.Color = FromNullString(color)
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

// UpdateTag updates a tag's mutable fields.
func (s *SQLiteStore) UpdateTag(tag *Tag) error {
	result, err := s.db.Exec(
		"UPDATE tags SET name = ?, color = ? WHERE id = ?",
		tag.Name, ToNullString(tag.Color), tag.ID,
	)
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// DeleteTag deletes a tag by ID. Repo associations are deleted via
// ON DELETE CASCADE constraints.
func (s *SQLiteStore) DeleteTag(id string) error {
	result, err := s.db.Exec("DELETE FROM tags WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// CountTagRepos counts the repositories associated with a tag.
func (s *SQLiteStore) CountTagRepos(tagID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM repo_tags WHERE tag_id = ?", tagID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tag repos: %w", err)
	}
	return count, nil
}

// AddRepoTag associates a tag with a repo. Adding an existing association
// is a no-op.
func (s *SQLiteStore) AddRepoTag(repoID, tagID string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO repo_tags (repo_id, tag_id) VALUES (?, ?)",
		repoID, tagID,
	)
	if err != nil {
		return fmt.Errorf("add repo tag: %w", err)
	}
	return nil
}

// RemoveRepoTag removes a tag association from a repo.
func (s *SQLiteStore) RemoveRepoTag(repoID, tagID string) error {
	result, err := s.db.Exec(
		"DELETE FROM repo_tags WHERE repo_id = ? AND tag_id = ?",
		repoID, tagID,
	)
	if err != nil {
		return fmt.Errorf("remove repo tag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// ListRepoTags lists all tags associated with a repo.
func (s *SQLiteStore) ListRepoTags(repoID string) ([]Tag, error) {
	query := `
		SELECT t.id, t.namespace_id, t.name, t.color, t.created_at
		FROM tags t
		JOIN repo_tags rt ON rt.tag_id = t.id
		WHERE rt.repo_id = ?
		ORDER BY t.name
	`

	rows, err := s.db.Query(query, repoID)
	if err != nil {
		return nil, fmt.Errorf("query repo tags: %w", err)
	}
	defer rows.Close()

	return scanTagRows(rows)
}

// SetRepoTags replaces a repo's tag associations atomically.
func (s *SQLiteStore) SetRepoTags(repoID string, tagIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM repo_tags WHERE repo_id = ?", repoID); err != nil {
		return fmt.Errorf("clear repo tags: %w", err)
	}

	for _, tagID := range tagIDs {
		if _, err := tx.Exec("INSERT INTO repo_tags (repo_id, tag_id) VALUES (?, ?)", repoID, tagID); err != nil {
			return fmt.Errorf("set repo tag: %w", err)
		}
	}

	return tx.Commit()
}

// CreateFolder creates a new folder.
func (s *SQLiteStore) CreateFolder(folder *Folder) error {
	query := `
		INSERT INTO folders (id, namespace_id, name, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		folder.ID,
		folder.NamespaceID,
		folder.Name,
		ToNullString(folder.ParentID),
		folder.CreatedAt,
		folder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

// GetFolder retrieves a folder by ID.
func (s *SQLiteStore) GetFolder(id string) (*Folder, error) {
	query := `
		SELECT id, namespace_id, name, parent_id, created_at, updated_at
		FROM folders
		WHERE id = ?
	`
	return s.scanFolder(s.db.QueryRow(query, id))
}

// GetFolderByName retrieves a folder by its name under a parent. A nil
// parentID addresses root folders.
func (s *SQLiteStore) GetFolderByName(namespaceID string, parentID *string, name string) (*Folder, error) {
	query := `
		SELECT id, namespace_id, name, parent_id, created_at, updated_at
		FROM folders
		WHERE namespace_id = ? AND IFNULL(parent_id, '') = IFNULL(?, '') AND name = ?
	`
	return s.scanFolder(s.db.QueryRow(query, namespaceID, ToNullString(parentID), name))
}

func (s *SQLiteStore) scanFolder(row *sql.Row) (*Folder, error) {
	var folder Folder
	var parentID sql.NullString

	err := row.Scan(
		&folder.ID,
		&folder.NamespaceID,
		&folder.Name,
		&parentID,
		&folder.CreatedAt,
		&folder.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan folder: %w", err)
	}

	folder.ParentID = FromNullString(parentID)

	return &folder, nil
}

// ListFolders lists folders in a namespace with cursor-based pagination. A
// limit of zero or less returns all folders after the cursor.
func (s *SQLiteStore) ListFolders(namespaceID, cursor string, limit int) ([]Folder, error) {
	var rows *sql.Rows
	var err error

	if limit > 0 {
		query := `
			SELECT id, namespace_id, name, parent_id, created_at, updated_at
			FROM folders
			WHERE namespace_id = ? AND name > ?
			ORDER BY name
			LIMIT ?
		`
		rows, err = s.db.Query(query, namespaceID, cursor, limit)
	} else {
		query := `
			SELECT id, namespace_id, name, parent_id, created_at, updated_at
			FROM folders
			WHERE namespace_id = ? AND name > ?
			ORDER BY name
		`
		rows, err = s.db.Query(query, namespaceID, cursor)
	}
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	return scanFolderRows(rows)
}

// ListChildFolders lists the direct children of a folder.
func (s *SQLiteStore) ListChildFolders(parentID string) ([]Folder, error) {
	query := `
		SELECT id, namespace_id, name, parent_id, created_at, updated_at
		FROM folders
		WHERE parent_id = ?
		ORDER BY name
	`

	rows, err := s.db.Query(query, parentID)
	if err != nil {
		return nil, fmt.Errorf("query child folders: %w", err)
	}
	defer rows.Close()

	return scanFolderRows(rows)
}

func scanFolderRows(rows *sql.Rows) ([]Folder, error) {
	var folders []Folder
	for rows.Next() {
		var folder Folder
		var parentID sql.NullString

		if err := rows.Scan(
			&folder.ID,
			&folder.NamespaceID,
			&folder.Name,
			&parentID,
			&folder.CreatedAt,
			&folder.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}

		folder.ParentID = FromNullString(parentID)
		folders = append(folders, folder)
	}

	return folders, rows.Err()
}

// UpdateFolder updates a folder's mutable fields.
func (s *SQLiteStore) UpdateFolder(folder *Folder) error {
	query := `
		UPDATE folders
		SET name = ?, parent_id = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		folder.Name,
		ToNullString(folder.ParentID),
		folder.UpdatedAt,
		folder.ID,
	)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// DeleteFolder deletes a folder by ID. Child folders are deleted via
// ON DELETE CASCADE; repo assignments are cleared via ON DELETE SET NULL.
func (s *SQLiteStore) DeleteFolder(id string) error {
	result, err := s.db.Exec("DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// IsFolderDescendant reports whether folderID sits strictly below ancestorID
// in the folder tree.
func (s *SQLiteStore) IsFolderDescendant(folderID, ancestorID string) (bool, error) {
	query := `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM folders WHERE parent_id = ?
			UNION ALL
			SELECT f.id FROM folders f JOIN subtree st ON f.parent_id = st.id
		)
		SELECT COUNT(*) FROM subtree WHERE id = ?
	`

	var count int
	err := s.db.QueryRow(query, ancestorID, folderID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check folder descendant: %w", err)
	}
	return count > 0, nil
}

// SetRepoFolder assigns a repo to a folder, or to no folder when folderID
// is nil.
func (s *SQLiteStore) SetRepoFolder(repoID string, folderID *string) error {
	result, err := s.db.Exec(
		"UPDATE repos SET folder_id = ?, updated_at = ? WHERE id = ?",
		ToNullString(folderID), time.Now(), repoID,
	)
	if err != nil {
		return fmt.Errorf("set repo folder: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// ListFolderRepos lists the repos assigned to a folder.
func (s *SQLiteStore) ListFolderRepos(folderID string) ([]Repo, error) {
	query := `
		SELECT id, namespace_id, name, description, public, folder_id,
			   size_bytes, last_push_at, created_at, updated_at
		FROM repos
		WHERE folder_id = ?
		ORDER BY name
	`

	rows, err := s.db.Query(query, folderID)
	if err != nil {
		return nil, fmt.Errorf("query folder repos: %w", err)
	}
	defer rows.Close()

	return scanRepoRows(rows)
}

// CountFolderRepos counts the repos assigned to a folder.
func (s *SQLiteStore) CountFolderRepos(folderID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM repos WHERE folder_id = ?", folderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count folder repos: %w", err)
	}
	return count, nil
}

// UpsertNamespaceGrant creates or updates a principal's namespace grant.
// Granting on a namespace owned by a different principal is rejected with
// ErrPrimaryNamespaceGrant; the owner already has full implicit access.
func (s *SQLiteStore) UpsertNamespaceGrant(grant *NamespaceGrant) error {
	owner, err := s.GetPrincipalByPrimaryNamespace(grant.NamespaceID)
	if err != nil {
		return err
	}
	if owner != nil && owner.ID != grant.PrincipalID {
		return ErrPrimaryNamespaceGrant
	}

	query := `
		INSERT INTO principal_namespace_grants (principal_id, namespace_id, allow_bits, deny_bits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (principal_id, namespace_id) DO UPDATE SET
			allow_bits = excluded.allow_bits,
			deny_bits = excluded.deny_bits,
			updated_at = excluded.updated_at
	`

	_, err = s.db.Exec(query,
		grant.PrincipalID,
		grant.NamespaceID,
		grant.AllowBits,
		grant.DenyBits,
		grant.CreatedAt,
		grant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert namespace grant: %w", err)
	}

	return nil
}

// GetNamespaceGrant retrieves a principal's namespace grant.
func (s *SQLiteStore) GetNamespaceGrant(principalID, namespaceID string) (*NamespaceGrant, error) {
	query := `
		SELECT principal_id, namespace_id, allow_bits, deny_bits, created_at, updated_at
		FROM principal_namespace_grants
		WHERE principal_id = ? AND namespace_id = ?
	`

	var grant NamespaceGrant
	err := s.db.QueryRow(query, principalID, namespaceID).Scan(
		&grant.PrincipalID,
		&grant.NamespaceID,
		&grant.AllowBits,
		&grant.DenyBits,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan namespace grant: %w", err)
	}

	return &grant, nil
}

// DeleteNamespaceGrant removes a principal's namespace grant. It returns
// false when no grant existed.
func (s *SQLiteStore) DeleteNamespaceGrant(principalID, namespaceID string) (bool, error) {
	result, err := s.db.Exec(
		"DELETE FROM principal_namespace_grants WHERE principal_id = ? AND namespace_id = ?",
		principalID, namespaceID,
	)
	if err != nil {
		return false, fmt.Errorf("delete namespace grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListPrincipalNamespaceGrants lists all namespace grants for a principal.
func (s *SQLiteStore) ListPrincipalNamespaceGrants(principalID string) ([]NamespaceGrant, error) {
	query := `
		SELECT principal_id, namespace_id, allow_bits, deny_bits, created_at, updated_at
		FROM principal_namespace_grants
		WHERE principal_id = ?
		ORDER BY namespace_id
	`

	rows, err := s.db.Query(query, principalID)
	if err != nil {
		return nil, fmt.Errorf("query namespace grants: %w", err)
	}
	defer rows.Close()

	return scanNamespaceGrantRows(rows)
}

// ListNamespaceGrants lists all grants on a namespace.
func (s *SQLiteStore) ListNamespaceGrants(namespaceID string) ([]NamespaceGrant, error) {
	query := `
		SELECT principal_id, namespace_id, allow_bits, deny_bits, created_at, updated_at
		FROM principal_namespace_grants
		WHERE namespace_id = ?
		ORDER BY principal_id
	`

	rows, err := s.db.Query(query, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("query namespace grants: %w", err)
	}
	defer rows.Close()

	return scanNamespaceGrantRows(rows)
}

func scanNamespaceGrantRows(rows *sql.Rows) ([]NamespaceGrant, error) {
	var grants []NamespaceGrant
	for rows.Next() {
		var grant NamespaceGrant
		if err := rows.Scan(
			&grant.PrincipalID,
			&grant.NamespaceID,
			&grant.AllowBits,
			&grant.DenyBits,
			&grant.CreatedAt,
			&grant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan namespace grant: %w", err)
		}
		grants = append(grants, grant)
	}

	return grants, rows.Err()
}

// UpsertRepoGrant creates or updates a principal's repo grant.
func (s *SQLiteStore) UpsertRepoGrant(grant *RepoGrant) error {
	query := `
		INSERT INTO principal_repo_grants (principal_id, repo_id, allow_bits, deny_bits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (principal_id, repo_id) DO UPDATE SET
			allow_bits = excluded.allow_bits,
			deny_bits = excluded.deny_bits,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		grant.PrincipalID,
		grant.RepoID,
		grant.AllowBits,
		grant.DenyBits,
		grant.CreatedAt,
		grant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert repo grant: %w", err)
	}

	return nil
}

// GetRepoGrant retrieves a principal's repo grant.
func (s *SQLiteStore) GetRepoGrant(principalID, repoID string) (*RepoGrant, error) {
	query := `
		SELECT principal_id, repo_id, allow_bits, deny_bits, created_at, updated_at
		FROM principal_repo_grants
		WHERE principal_id = ? AND repo_id = ?
	`

	var grant RepoGrant
	err := s.db.QueryRow(query, principalID, repoID).Scan(
		&grant.PrincipalID,
		&grant.RepoID,
		&grant.AllowBits,
		&grant.DenyBits,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan repo grant: %w", err)
	}

	return &grant, nil
}

// DeleteRepoGrant removes a principal's repo grant. It returns false when
// no grant existed.
func (s *SQLiteStore) DeleteRepoGrant(principalID, repoID string) (bool, error) {
	result, err := s.db.Exec(
		"DELETE FROM principal_repo_grants WHERE principal_id = ? AND repo_id = ?",
		principalID, repoID,
	)
	if err != nil {
		return false, fmt.Errorf("delete repo grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListPrincipalRepoGrants lists all repo grants for a principal.
func (s *SQLiteStore) ListPrincipalRepoGrants(principalID string) ([]RepoGrant, error) {
	query := `
		SELECT principal_id, repo_id, allow_bits, deny_bits, created_at, updated_at
		FROM principal_repo_grants
		WHERE principal_id = ?
		ORDER BY repo_id
	`

	rows, err := s.db.Query(query, principalID)
	if err != nil {
		return nil, fmt.Errorf("query repo grants: %w", err)
	}
	defer rows.Close()

	var grants []RepoGrant
	for rows.Next() {
		var grant RepoGrant
		if err := rows.Scan(
			&grant.PrincipalID,
			&grant.RepoID,
			&grant.AllowBits,
			&grant.DenyBits,
			&grant.CreatedAt,
			&grant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan repo grant: %w", err)
		}
		grants = append(grants, grant)
	}

	return grants, rows.Err()
}

// HasRepoGrantsInNamespace reports whether the principal has any repo grants
// in the namespace.
func (s *SQLiteStore) HasRepoGrantsInNamespace(principalID, namespaceID string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM principal_repo_grants g
		JOIN repos r ON r.id = g.repo_id
		WHERE g.principal_id = ? AND r.namespace_id = ?
	`

	var count int
	err := s.db.QueryRow(query, principalID, namespaceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check repo grants in namespace: %w", err)
	}
	return count > 0, nil
}

// CreateLFSObject creates a new LFS object record.
func (s *SQLiteStore) CreateLFSObject(obj *LFSObject) error {
	query := `
		INSERT INTO lfs_objects (repo_id, oid, size, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repo_id, oid) DO UPDATE SET
			size = excluded.size
	`

	_, err := s.db.Exec(query, obj.RepoID, obj.OID, obj.Size, obj.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert lfs object: %w", err)
	}
	return nil
}

// GetLFSObject retrieves an LFS object by repo and OID.
func (s *SQLiteStore) GetLFSObject(repoID, oid string) (*LFSObject, error) {
	query := `
		SELECT repo_id, oid, size, created_at
		FROM lfs_objects
		WHERE repo_id = ? AND oid = ?
	`

	var obj LFSObject
	err := s.db.QueryRow(query, repoID, oid).Scan(
		&obj.RepoID,
		&obj.OID,
		&obj.Size,
		&obj.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lfs object: %w", err)
	}
	return &obj, nil
}

// ListLFSObjects lists all LFS objects for a repository.
func (s *SQLiteStore) ListLFSObjects(repoID string) ([]LFSObject, error) {
	query := `
		SELECT repo_id, oid, size, created_at
		FROM lfs_objects
		WHERE repo_id = ?
		ORDER BY oid
	`

	rows, err := s.db.Query(query, repoID)
	if err != nil {
		return nil, fmt.Errorf("query lfs objects: %w", err)
	}
	defer rows.Close()

	var objects []LFSObject
	for rows.Next() {
		var obj LFSObject
		if err := rows.Scan(&obj.RepoID, &obj.OID, &obj.Size, &obj.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lfs object: %w", err)
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// DeleteLFSObject deletes an LFS object record. It returns false when no
// record existed.
func (s *SQLiteStore) DeleteLFSObject(repoID, oid string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM lfs_objects WHERE repo_id = ? AND oid = ?", repoID, oid)
	if err != nil {
		return false, fmt.Errorf("delete lfs object: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rows > 0, nil
}

// GetRepoLFSSize returns the total size of LFS objects for a repository.
func (s *SQLiteStore) GetRepoLFSSize(repoID string) (int64, error) {
	var size sql.NullInt64
	err := s.db.QueryRow("SELECT SUM(size) FROM lfs_objects WHERE repo_id = ?", repoID).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("sum lfs size: %w", err)
	}
	if !size.Valid {
		return 0, nil
	}
	return size.Int64, nil
}

package store

import (
	"database/sql"
	"time"
)

// Store defines the database interface.
type Store interface {
	Initialize() error

	// Namespace operations
	CreateNamespace(ns *Namespace) error
	GetNamespace(id string) (*Namespace, error)
	GetNamespaceByName(name string) (*Namespace, error)
	ListNamespaces(cursor string, limit int) ([]Namespace, error)
	UpdateNamespace(ns *Namespace) error
	DeleteNamespace(id string) error
	CountNamespaceRepos(namespaceID string) (int, error)

	// Principal operations
	CreatePrincipal(p *Principal) error
	GetPrincipal(id string) (*Principal, error)
	GetPrincipalByPrimaryNamespace(namespaceID string) (*Principal, error)
	ListPrincipals(cursor string, limit int) ([]Principal, error)
	DeletePrincipal(id string) error

	// Token operations
	CreateToken(token *Token) error
	GenerateToken(isAdmin bool, principalID *string, expiresAt *time.Time) (string, *Token, error)
	GetTokenByID(id string) (*Token, error)
	GetTokenByLookup(lookup string) (*Token, error)
	ListTokens(cursor string, limit int) ([]Token, error)
	ListPrincipalTokens(principalID string) ([]Token, error)
	DeleteToken(id string) error
	UpdateTokenLastUsed(id string) error
	HasAdminToken() (bool, error)

	// Repo operations
	CreateRepo(repo *Repo) error
	GetRepo(namespaceID, name string) (*Repo, error)
	GetRepoByID(id string) (*Repo, error)
	ListRepos(namespaceID, cursor string, limit int) ([]Repo, error)
	UpdateRepo(repo *Repo) error
	DeleteRepo(id string) error
	UpdateRepoLastPush(id string, pushTime time.Time) error
	UpdateRepoSize(id string, sizeBytes int64) error

	// Tag operations
	CreateTag(tag *Tag) error
	GetTag(id string) (*Tag, error)
	GetTagByName(namespaceID, name string) (*Tag, error)
	ListTags(namespaceID, cursor string, limit int) ([]Tag, error)
	UpdateTag(tag *Tag) error
	DeleteTag(id string) error
	CountTagRepos(tagID string) (int, error)

	// Repo-tag M2M operations
	AddRepoTag(repoID, tagID string) error
	RemoveRepoTag(repoID, tagID string) error
	ListRepoTags(repoID string) ([]Tag, error)
	SetRepoTags(repoID string, tagIDs []string) error

	// Folder operations
	CreateFolder(folder *Folder) error
	GetFolder(id string) (*Folder, error)
	GetFolderByName(namespaceID string, parentID *string, name string) (*Folder, error)
	ListFolders(namespaceID, cursor string, limit int) ([]Folder, error)
	ListChildFolders(parentID string) ([]Folder, error)
	UpdateFolder(folder *Folder) error
	DeleteFolder(id string) error
	IsFolderDescendant(folderID, ancestorID string) (bool, error)
	SetRepoFolder(repoID string, folderID *string) error
	ListFolderRepos(folderID string) ([]Repo, error)
	CountFolderRepos(folderID string) (int, error)

	// Namespace grant operations
	UpsertNamespaceGrant(grant *NamespaceGrant) error
	GetNamespaceGrant(principalID, namespaceID string) (*NamespaceGrant, error)
	DeleteNamespaceGrant(principalID, namespaceID string) (bool, error)
	ListPrincipalNamespaceGrants(principalID string) ([]NamespaceGrant, error)
	ListNamespaceGrants(namespaceID string) ([]NamespaceGrant, error)

	// Repo grant operations
	UpsertRepoGrant(grant *RepoGrant) error
	GetRepoGrant(principalID, repoID string) (*RepoGrant, error)
	DeleteRepoGrant(principalID, repoID string) (bool, error)
	ListPrincipalRepoGrants(principalID string) ([]RepoGrant, error)
	HasRepoGrantsInNamespace(principalID, namespaceID string) (bool, error)

	// LFS object operations
	CreateLFSObject(obj *LFSObject) error
	GetLFSObject(repoID, oid string) (*LFSObject, error)
	ListLFSObjects(repoID string) ([]LFSObject, error)
	DeleteLFSObject(repoID, oid string) (bool, error)
	GetRepoLFSSize(repoID string) (int64, error)

	Close() error
}

type Namespace struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	CreatedAt         time.Time `json:"created_at"`
	RepoLimit         *int      `json:"repo_limit,omitempty"`
	StorageLimitBytes *int64    `json:"storage_limit_bytes,omitempty"`
	ExternalID        *string   `json:"external_id,omitempty"`
}

// Principal is the permission-bearing identity. Every principal owns exactly
// one primary namespace, on which it has implicit full access.
type Principal struct {
	ID                 string    `json:"id"`
	PrimaryNamespaceID string    `json:"primary_namespace_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Token is an authentication credential. Admin tokens have no principal;
// non-admin tokens must be bound to one.
type Token struct {
	ID          string     `json:"id"`
	TokenHash   string     `json:"-"`
	TokenLookup string     `json:"-"`
	IsAdmin     bool       `json:"is_admin"`
	PrincipalID *string    `json:"principal_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

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

type Tag struct {
	ID          string    `json:"id"`
	NamespaceID string    `json:"namespace_id"`
	Name        string    `json:"name"`
	Color       *string   `json:"color,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Folder is a node in a per-namespace folder tree. ParentID nil means a root
// folder. The tree is kept acyclic by rejecting moves under a descendant.
type Folder struct {
	ID          string    `json:"id"`
	NamespaceID string    `json:"namespace_id"`
	Name        string    `json:"name"`
	ParentID    *string   `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NamespaceGrant holds a principal's allow/deny bits on a namespace other
// than its primary.
type NamespaceGrant struct {
	PrincipalID string     `json:"principal_id"`
	NamespaceID string     `json:"namespace_id"`
	AllowBits   Permission `json:"allow_bits"`
	DenyBits    Permission `json:"deny_bits"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type RepoGrant struct {
	PrincipalID string     `json:"principal_id"`
	RepoID      string     `json:"repo_id"`
	AllowBits   Permission `json:"allow_bits"`
	DenyBits    Permission `json:"deny_bits"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LFSObject is the index row for a content-addressed large object.
type LFSObject struct {
	RepoID    string    `json:"repo_id"`
	OID       string    `json:"oid"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type NamespaceWithAccess struct {
	Namespace
	IsPrimary bool `json:"is_primary"`
}

func ToNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func FromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func ToNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func FromNullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

func ToNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func FromNullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}

func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func FromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

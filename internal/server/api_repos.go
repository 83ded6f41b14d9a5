package server

import (
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

// handleListRepos lists repos in a single namespace when X-Namespace is set,
// or aggregates every repo the principal can read otherwise: its primary
// namespace, namespaces where it holds namespace:read, and individually
// granted repos.
func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := parseLimit(r.URL.Query().Get("limit"), defaultPageSize)

	var repos []store.Repo

	if nsName := r.Header.Get("X-Namespace"); nsName != "" {
		ns, err := s.store.GetNamespaceByName(nsName)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to get namespace")
			return
		}
		if ns == nil {
			JSONError(w, http.StatusNotFound, "Namespace not found")
			return
		}

		canRead, err := s.permissions.CheckNamespacePermission(principal, ns.ID, store.PermNamespaceRead)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to check permissions")
			return
		}

		if canRead {
			repos, err = s.store.ListRepos(ns.ID, cursor, limit+1)
			if err != nil {
				JSONError(w, http.StatusInternalServerError, "Failed to list repos")
				return
			}
		} else {
			// No namespace-wide read: fall back to the repos the principal
			// was granted individually within that namespace.
			repos, err = s.grantedReposInNamespace(principal.ID, ns.ID)
			if err != nil {
				JSONError(w, http.StatusInternalServerError, "Failed to list repos")
				return
			}
		}
	} else {
		var err error
		repos, err = s.aggregateVisibleRepos(principal, cursor, limit)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to list repos")
			return
		}
	}

	repos, nextCursor, hasMore := paginateSlice(repos, limit, func(repo store.Repo) string { return repo.Name })
	JSONList(w, repos, nextCursor, hasMore)
}

func (s *Server) grantedReposInNamespace(principalID, namespaceID string) ([]store.Repo, error) {
	grants, err := s.store.ListPrincipalRepoGrants(principalID)
	if err != nil {
		return nil, err
	}

	var repos []store.Repo
	for _, grant := range grants {
		repo, err := s.store.GetRepoByID(grant.RepoID)
		if err != nil {
			return nil, err
		}
		if repo != nil && repo.NamespaceID == namespaceID {
			repos = append(repos, *repo)
		}
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

func (s *Server) aggregateVisibleRepos(principal *store.Principal, cursor string, limit int) ([]store.Repo, error) {
	repos, err := s.store.ListRepos(principal.PrimaryNamespaceID, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(repos))
	for _, repo := range repos {
		seen[repo.ID] = true
	}

	nsGrants, err := s.store.ListPrincipalNamespaceGrants(principal.ID)
	if err != nil {
		return nil, err
	}
	for _, grant := range nsGrants {
		if grant.NamespaceID == principal.PrimaryNamespaceID {
			continue
		}
		effective := store.ExpandImplied(grant.AllowBits).Difference(grant.DenyBits)
		if !effective.Has(store.PermNamespaceRead) {
			continue
		}
		nsRepos, err := s.store.ListRepos(grant.NamespaceID, cursor, limit+1)
		if err != nil {
			return nil, err
		}
		for _, repo := range nsRepos {
			if !seen[repo.ID] {
				repos = append(repos, repo)
				seen[repo.ID] = true
			}
		}
	}

	repoGrants, err := s.store.ListPrincipalRepoGrants(principal.ID)
	if err != nil {
		return nil, err
	}
	for _, grant := range repoGrants {
		repo, err := s.store.GetRepoByID(grant.RepoID)
		if err != nil {
			return nil, err
		}
		if repo != nil && !seen[repo.ID] {
			repos = append(repos, *repo)
			seen[repo.ID] = true
		}
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

type createRepoRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Public      bool    `json:"public"`
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	var req createRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := core.ValidateRepoName(req.Name); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	nsID := s.resolveNamespaceID(w, r, principal)
	if nsID == "" {
		return
	}

	if !s.requireNamespacePermission(w, principal, nsID, store.PermNamespaceWrite) {
		return
	}

	existing, err := s.store.GetRepo(nsID, req.Name)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check repo")
		return
	}
	if existing != nil {
		JSONError(w, http.StatusConflict, "Repository already exists")
		return
	}

	now := time.Now()
	repo := &store.Repo{
		ID:          uuid.New().String(),
		NamespaceID: nsID,
		Name:        req.Name,
		Description: req.Description,
		Public:      req.Public,
		SizeBytes:   0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateRepo(repo); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to create repo")
		return
	}

	// Initialize the bare repository immediately so the repo is cloneable
	// before its first push.
	repoPath, err := SafeRepoPath(s.dataDir, nsID, repo.Name)
	if err == nil {
		err = ensureBareRepo(r.Context(), repoPath)
	}
	if err != nil {
		if delErr := s.store.DeleteRepo(repo.ID); delErr != nil {
			s.logger.Warn("failed to roll back repo row",
				zap.String("repo_id", repo.ID),
				zap.Error(delErr))
		}
		s.logger.Error("failed to initialize repository",
			zap.String("repo_id", repo.ID),
			zap.Error(err))
		JSONError(w, http.StatusInternalServerError, "Failed to initialize repository")
		return
	}

	JSON(w, http.StatusCreated, repo)
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	repo := s.requireRepoAccessWithPermission(w, r, principal, store.PermRepoRead)
	if repo == nil {
		return
	}

	JSON(w, http.StatusOK, repo)
}

type updateRepoRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Public      *bool           `json:"public,omitempty"`
	FolderID    json.RawMessage `json:"folder_id,omitempty"`
}

// handleUpdateRepo patches repo metadata. A rename also moves the bare
// repository on disk. folder_id distinguishes absent (no change) from null
// (remove from folder).
func (s *Server) handleUpdateRepo(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	repo := s.requireRepoAccessWithPermission(w, r, principal, store.PermRepoWrite)
	if repo == nil {
		return
	}

	var req updateRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rename := req.Name != nil && *req.Name != repo.Name
	if rename {
		if err := core.ValidateRepoName(*req.Name); err != nil {
			JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		existing, err := s.store.GetRepo(repo.NamespaceID, *req.Name)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to check repo name")
			return
		}
		if existing != nil {
			JSONError(w, http.StatusConflict, "Repository name already exists")
			return
		}
	}

	if len(req.FolderID) > 0 {
		if string(req.FolderID) == "null" {
			repo.FolderID = nil
		} else {
			var folderID string
			if err := json.Unmarshal(req.FolderID, &folderID); err != nil {
				JSONError(w, http.StatusBadRequest, "Invalid folder_id")
				return
			}
			folder, err := s.store.GetFolder(folderID)
			if err != nil {
				JSONError(w, http.StatusInternalServerError, "Failed to get folder")
				return
			}
			if folder == nil {
				JSONError(w, http.StatusNotFound, "Folder not found")
				return
			}
			if folder.NamespaceID != repo.NamespaceID {
				JSONError(w, http.StatusBadRequest, "Folder must belong to the same namespace as the repository")
				return
			}
			repo.FolderID = &folderID
		}
	}

	if rename {
		oldPath, err := SafeRepoPath(s.dataDir, repo.NamespaceID, repo.Name)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to resolve repository path")
			return
		}
		newPath, err := SafeRepoPath(s.dataDir, repo.NamespaceID, *req.Name)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to resolve repository path")
			return
		}
		if _, err := os.Stat(oldPath); err == nil {
			if err := os.Rename(oldPath, newPath); err != nil {
				s.logger.Error("failed to move repository",
					zap.String("from", oldPath),
					zap.String("to", newPath),
					zap.Error(err))
				JSONError(w, http.StatusInternalServerError, "Failed to move repository")
				return
			}
		}
		repo.Name = *req.Name
	}

	if req.Description != nil {
		repo.Description = req.Description
	}
	if req.Public != nil {
		repo.Public = *req.Public
	}

	repo.UpdatedAt = time.Now()
	if err := s.store.UpdateRepo(repo); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update repo")
		return
	}

	JSON(w, http.StatusOK, repo)
}

// handleDeleteRepo removes the repo row, the bare repository on disk, and any
// LFS objects it stored.
func (s *Server) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	repo := s.requireRepoAccessWithPermission(w, r, principal, store.PermRepoAdmin)
	if repo == nil {
		return
	}

	repoPath, pathErr := SafeRepoPath(s.dataDir, repo.NamespaceID, repo.Name)

	if err := s.store.DeleteRepo(repo.ID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete repo")
		return
	}

	if pathErr == nil {
		if err := os.RemoveAll(repoPath); err != nil {
			s.logger.Warn("failed to remove repository directory",
				zap.String("path", repoPath),
				zap.Error(err))
		}
	}
	if err := s.lfsStorage.RemoveRepo(r.Context(), repo.ID); err != nil {
		s.logger.Warn("failed to remove repository LFS objects",
			zap.String("repo_id", repo.ID),
			zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

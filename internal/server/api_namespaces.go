package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bantamhq/cutman/internal/store"
)

// handleListNamespaces returns every namespace the principal can see: its
// primary, namespaces it holds grants on, and namespaces it reaches through
// repo grants.
func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	seen := make(map[string]bool)
	var namespaces []store.Namespace

	primary, err := s.store.GetNamespace(principal.PrimaryNamespaceID)
	if err != nil || primary == nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get primary namespace")
		return
	}
	namespaces = append(namespaces, *primary)
	seen[primary.ID] = true

	nsGrants, err := s.store.ListPrincipalNamespaceGrants(principal.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list namespace grants")
		return
	}
	for _, grant := range nsGrants {
		if seen[grant.NamespaceID] {
			continue
		}
		ns, err := s.store.GetNamespace(grant.NamespaceID)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to get namespace")
			return
		}
		if ns != nil {
			namespaces = append(namespaces, *ns)
			seen[ns.ID] = true
		}
	}

	repoGrants, err := s.store.ListPrincipalRepoGrants(principal.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list repo grants")
		return
	}
	for _, grant := range repoGrants {
		repo, err := s.store.GetRepoByID(grant.RepoID)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to get repo")
			return
		}
		if repo == nil || seen[repo.NamespaceID] {
			continue
		}
		ns, err := s.store.GetNamespace(repo.NamespaceID)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to get namespace")
			return
		}
		if ns != nil {
			namespaces = append(namespaces, *ns)
			seen[ns.ID] = true
		}
	}

	resp := make([]store.NamespaceWithAccess, len(namespaces))
	for i, ns := range namespaces {
		resp[i] = store.NamespaceWithAccess{
			Namespace: ns,
			IsPrimary: ns.ID == principal.PrimaryNamespaceID,
		}
	}

	JSON(w, http.StatusOK, resp)
}

type updateNamespaceRequest struct {
	RepoLimit         *int   `json:"repo_limit,omitempty"`
	StorageLimitBytes *int64 `json:"storage_limit_bytes,omitempty"`
}

func (s *Server) handleUpdateNamespace(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	name := chi.URLParam(r, "name")
	ns, err := s.store.GetNamespaceByName(name)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get namespace")
		return
	}
	if ns == nil {
		JSONError(w, http.StatusNotFound, "Namespace not found")
		return
	}

	if !s.requireNamespacePermission(w, principal, ns.ID, store.PermNamespaceAdmin) {
		return
	}

	var req updateNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.RepoLimit != nil {
		ns.RepoLimit = req.RepoLimit
	}
	if req.StorageLimitBytes != nil {
		ns.StorageLimitBytes = req.StorageLimitBytes
	}

	if err := s.store.UpdateNamespace(ns); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update namespace")
		return
	}

	JSON(w, http.StatusOK, ns)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	name := chi.URLParam(r, "name")
	ns, err := s.store.GetNamespaceByName(name)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get namespace")
		return
	}
	if ns == nil {
		JSONError(w, http.StatusNotFound, "Namespace not found")
		return
	}

	if ns.ID == principal.PrimaryNamespaceID {
		JSONError(w, http.StatusForbidden, "Cannot delete your primary namespace")
		return
	}

	if !s.requireNamespacePermission(w, principal, ns.ID, store.PermNamespaceAdmin) {
		return
	}

	repoCount, err := s.store.CountNamespaceRepos(ns.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check repos")
		return
	}
	if repoCount > 0 {
		JSONError(w, http.StatusConflict, "Cannot delete namespace with existing repos")
		return
	}

	nsPath, err := SafeNamespacePath(s.dataDir, ns.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to resolve namespace path")
		return
	}

	if err := s.store.DeleteNamespace(ns.ID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete namespace")
		return
	}

	if err := os.RemoveAll(nsPath); err != nil {
		s.logger.Warn("failed to remove namespace directory",
			zap.String("path", nsPath),
			zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

type principalGrantResponse struct {
	PrincipalID string   `json:"principal_id"`
	Allow       []string `json:"allow"`
	Deny        []string `json:"deny,omitempty"`
}

// handleListNamespaceGrantsForNamespace shows who else has access to a
// namespace the caller administers.
func (s *Server) handleListNamespaceGrantsForNamespace(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	name := chi.URLParam(r, "name")
	ns, err := s.store.GetNamespaceByName(name)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get namespace")
		return
	}
	if ns == nil {
		JSONError(w, http.StatusNotFound, "Namespace not found")
		return
	}

	if !s.requireNamespacePermission(w, principal, ns.ID, store.PermNamespaceAdmin) {
		return
	}

	grants, err := s.store.ListNamespaceGrants(ns.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list grants")
		return
	}

	resp := make([]principalGrantResponse, len(grants))
	for i, g := range grants {
		resp[i] = principalGrantResponse{
			PrincipalID: g.PrincipalID,
			Allow:       g.AllowBits.ToStrings(),
			Deny:        g.DenyBits.ToStrings(),
		}
	}

	JSON(w, http.StatusOK, resp)
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bantamhq/cutman/internal/store"
)

// requireAuth returns the authenticated token or writes an error response.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) *store.Token {
	token := GetTokenFromContext(r.Context())
	if token == nil {
		JSONError(w, http.StatusUnauthorized, "Authentication required")
		return nil
	}
	return token
}

// requirePrincipal returns the principal bound to a non-admin token, or
// writes an error response.
func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) *store.Principal {
	token := s.requireAuth(w, r)
	if token == nil {
		return nil
	}
	if token.IsAdmin {
		JSONError(w, http.StatusForbidden, "Admin token cannot be used for this operation")
		return nil
	}
	principal := GetPrincipalFromContext(r.Context())
	if principal == nil {
		JSONError(w, http.StatusUnauthorized, "Invalid token")
		return nil
	}
	return principal
}

// requireAdminToken returns an admin token or writes an error response.
func (s *Server) requireAdminToken(w http.ResponseWriter, r *http.Request) *store.Token {
	token := s.requireAuth(w, r)
	if token == nil {
		return nil
	}
	if !token.IsAdmin {
		JSONError(w, http.StatusForbidden, "Admin access required")
		return nil
	}
	return token
}

// requireNamespacePermission checks that the principal holds the required
// permission on a namespace.
func (s *Server) requireNamespacePermission(w http.ResponseWriter, principal *store.Principal, namespaceID string, required store.Permission) bool {
	hasPermission, err := s.permissions.CheckNamespacePermission(principal, namespaceID, required)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check permissions")
		return false
	}
	if !hasPermission {
		JSONError(w, http.StatusForbidden, "Insufficient permissions")
		return false
	}
	return true
}

// requireRepoPermission checks that the principal holds the required
// permission on a repo.
func (s *Server) requireRepoPermission(w http.ResponseWriter, principal *store.Principal, repo *store.Repo, required store.Permission) bool {
	hasPermission, err := s.permissions.CheckRepoPermission(principal, repo, required)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check permissions")
		return false
	}
	if !hasPermission {
		JSONError(w, http.StatusForbidden, "Insufficient permissions")
		return false
	}
	return true
}

// resolveNamespaceID resolves the target namespace from the X-Namespace
// header, falling back to the principal's primary namespace. This only
// resolves the namespace without enforcing permissions.
func (s *Server) resolveNamespaceID(w http.ResponseWriter, r *http.Request, principal *store.Principal) string {
	nsName := r.Header.Get("X-Namespace")
	if nsName == "" {
		return principal.PrimaryNamespaceID
	}

	ns, err := s.store.GetNamespaceByName(nsName)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to resolve namespace")
		return ""
	}
	if ns == nil {
		JSONError(w, http.StatusNotFound, "Namespace not found")
		return ""
	}
	return ns.ID
}

// getActiveNamespaceID resolves the target namespace and validates the
// principal can access it at all, via namespace or repo grants.
func (s *Server) getActiveNamespaceID(w http.ResponseWriter, r *http.Request, principal *store.Principal) string {
	nsID := s.resolveNamespaceID(w, r, principal)
	if nsID == "" {
		return ""
	}

	canAccess, err := s.permissions.CanAccessNamespace(principal, nsID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check namespace access")
		return ""
	}
	if !canAccess {
		JSONError(w, http.StatusForbidden, "Access denied to namespace")
		return ""
	}

	return nsID
}

// getNamespaceIDWithPermission resolves the target namespace and requires a
// specific namespace permission on it.
func (s *Server) getNamespaceIDWithPermission(w http.ResponseWriter, r *http.Request, principal *store.Principal, required store.Permission) string {
	nsID := s.resolveNamespaceID(w, r, principal)
	if nsID == "" {
		return ""
	}

	if !s.requireNamespacePermission(w, principal, nsID, required) {
		return ""
	}

	return nsID
}

// requireRepoAccess returns the repo if the principal has read access, or
// writes an error.
func (s *Server) requireRepoAccess(w http.ResponseWriter, r *http.Request, principal *store.Principal) *store.Repo {
	return s.requireRepoAccessWithPermission(w, r, principal, store.PermRepoRead)
}

// requireRepoAccessWithPermission returns the repo if the principal has the
// required permission on it.
func (s *Server) requireRepoAccessWithPermission(w http.ResponseWriter, r *http.Request, principal *store.Principal, required store.Permission) *store.Repo {
	id := chi.URLParam(r, "id")
	repo, err := s.store.GetRepoByID(id)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get repo")
		return nil
	}
	if repo == nil {
		JSONError(w, http.StatusNotFound, "Repository not found")
		return nil
	}

	if !s.requireRepoPermission(w, principal, repo, required) {
		return nil
	}

	return repo
}

// requireFolderAccess returns the folder if the principal has namespace read
// access, or writes an error.
func (s *Server) requireFolderAccess(w http.ResponseWriter, r *http.Request, principal *store.Principal) *store.Folder {
	return s.requireFolderAccessWithPermission(w, r, principal, store.PermNamespaceRead)
}

// requireFolderAccessWithPermission returns the folder if the principal has
// the required namespace permission on its namespace.
func (s *Server) requireFolderAccessWithPermission(w http.ResponseWriter, r *http.Request, principal *store.Principal, required store.Permission) *store.Folder {
	id := chi.URLParam(r, "id")
	folder, err := s.store.GetFolder(id)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get folder")
		return nil
	}
	if folder == nil {
		JSONError(w, http.StatusNotFound, "Folder not found")
		return nil
	}

	if !s.requireNamespacePermission(w, principal, folder.NamespaceID, required) {
		return nil
	}

	return folder
}

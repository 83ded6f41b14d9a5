package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

// Admin surface: namespaces, tokens, principals, and grants. Every handler
// here requires an admin token.

func (s *Server) handleAdminListNamespaces(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := parseLimit(r.URL.Query().Get("limit"), defaultPageSize)

	namespaces, err := s.store.ListNamespaces(cursor, limit+1)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list namespaces")
		return
	}

	namespaces, nextCursor, hasMore := paginateSlice(namespaces, limit, func(ns store.Namespace) string { return ns.ID })
	JSONList(w, namespaces, nextCursor, hasMore)
}

type adminCreateNamespaceRequest struct {
	Name              string  `json:"name"`
	RepoLimit         *int    `json:"repo_limit,omitempty"`
	StorageLimitBytes *int64  `json:"storage_limit_bytes,omitempty"`
	ExternalID        *string `json:"external_id,omitempty"`
}

func (s *Server) handleAdminCreateNamespace(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	var req adminCreateNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := core.ValidateNamespaceName(req.Name); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := s.store.GetNamespaceByName(req.Name)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check existing namespace")
		return
	}
	if existing != nil {
		JSONError(w, http.StatusConflict, "Namespace already exists")
		return
	}

	ns := &store.Namespace{
		ID:                uuid.New().String(),
		Name:              req.Name,
		CreatedAt:         time.Now(),
		RepoLimit:         req.RepoLimit,
		StorageLimitBytes: req.StorageLimitBytes,
		ExternalID:        req.ExternalID,
	}

	if err := s.store.CreateNamespace(ns); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to create namespace")
		return
	}

	JSON(w, http.StatusCreated, ns)
}

func (s *Server) handleAdminGetNamespace(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
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

	JSON(w, http.StatusOK, ns)
}

func (s *Server) handleAdminDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
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

	repoCount, err := s.store.CountNamespaceRepos(ns.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check repos")
		return
	}
	if repoCount > 0 {
		JSONError(w, http.StatusConflict, "Cannot delete namespace with existing repos")
		return
	}

	// Deleting a namespace cascades to its owning principal, so refuse while
	// any principal holds access through ownership or a grant.
	owner, err := s.store.GetPrincipalByPrimaryNamespace(ns.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check principals")
		return
	}
	grants, err := s.store.ListNamespaceGrants(ns.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check grants")
		return
	}
	if owner != nil || len(grants) > 0 {
		JSONError(w, http.StatusConflict, "Cannot delete namespace with principal access")
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

type adminTokenResponse struct {
	ID              string                      `json:"id"`
	IsAdmin         bool                        `json:"is_admin"`
	PrincipalID     *string                     `json:"principal_id,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	ExpiresAt       *time.Time                  `json:"expires_at,omitempty"`
	LastUsedAt      *time.Time                  `json:"last_used_at,omitempty"`
	NamespaceGrants []namespaceGrantAPIResponse `json:"namespace_grants,omitempty"`
	RepoGrants      []repoGrantAPIResponse      `json:"repo_grants,omitempty"`
}

type namespaceGrantAPIResponse struct {
	NamespaceID string   `json:"namespace_id"`
	Allow       []string `json:"allow"`
	Deny        []string `json:"deny,omitempty"`
}

type repoGrantAPIResponse struct {
	RepoID string   `json:"repo_id"`
	Allow  []string `json:"allow"`
	Deny   []string `json:"deny,omitempty"`
}

func namespaceGrantToResponse(g store.NamespaceGrant) namespaceGrantAPIResponse {
	return namespaceGrantAPIResponse{
		NamespaceID: g.NamespaceID,
		Allow:       g.AllowBits.ToStrings(),
		Deny:        g.DenyBits.ToStrings(),
	}
}

func repoGrantToResponse(g store.RepoGrant) repoGrantAPIResponse {
	return repoGrantAPIResponse{
		RepoID: g.RepoID,
		Allow:  g.AllowBits.ToStrings(),
		Deny:   g.DenyBits.ToStrings(),
	}
}

// adminTokenToResponse flattens a token with the grants of its bound
// principal, so an admin can see a token's effective reach in one read.
func (s *Server) adminTokenToResponse(t store.Token) adminTokenResponse {
	resp := adminTokenResponse{
		ID:          t.ID,
		IsAdmin:     t.IsAdmin,
		PrincipalID: t.PrincipalID,
		CreatedAt:   t.CreatedAt,
		ExpiresAt:   t.ExpiresAt,
		LastUsedAt:  t.LastUsedAt,
	}

	if t.IsAdmin || t.PrincipalID == nil {
		return resp
	}

	nsGrants, err := s.store.ListPrincipalNamespaceGrants(*t.PrincipalID)
	if err == nil {
		for _, g := range nsGrants {
			resp.NamespaceGrants = append(resp.NamespaceGrants, namespaceGrantToResponse(g))
		}
	}

	repoGrants, err := s.store.ListPrincipalRepoGrants(*t.PrincipalID)
	if err == nil {
		for _, g := range repoGrants {
			resp.RepoGrants = append(resp.RepoGrants, repoGrantToResponse(g))
		}
	}

	return resp
}

func (s *Server) handleAdminListTokens(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := parseLimit(r.URL.Query().Get("limit"), defaultPageSize)

	tokens, err := s.store.ListTokens(cursor, limit+1)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list tokens")
		return
	}

	tokens, nextCursor, hasMore := paginateSlice(tokens, limit, func(t store.Token) string { return t.ID })

	resp := make([]adminTokenResponse, len(tokens))
	for i, t := range tokens {
		resp[i] = s.adminTokenToResponse(t)
	}

	JSONList(w, resp, nextCursor, hasMore)
}

// getTokenByID fetches the token named by the id URL param, or writes 404.
func (s *Server) getTokenByID(w http.ResponseWriter, r *http.Request) *store.Token {
	id := chi.URLParam(r, "id")
	token, err := s.store.GetTokenByID(id)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get token")
		return nil
	}
	if token == nil {
		JSONError(w, http.StatusNotFound, "Token not found")
		return nil
	}
	return token
}

func (s *Server) handleAdminGetToken(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	token := s.getTokenByID(w, r)
	if token == nil {
		return
	}

	JSON(w, http.StatusOK, s.adminTokenToResponse(*token))
}

func (s *Server) handleAdminDeleteToken(w http.ResponseWriter, r *http.Request) {
	adminToken := s.requireAdminToken(w, r)
	if adminToken == nil {
		return
	}

	token := s.getTokenByID(w, r)
	if token == nil {
		return
	}

	if token.ID == adminToken.ID {
		JSONError(w, http.StatusBadRequest, "Cannot delete current token")
		return
	}

	if err := s.store.DeleteToken(token.ID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete token")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListPrincipals(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := parseLimit(r.URL.Query().Get("limit"), defaultPageSize)

	principals, err := s.store.ListPrincipals(cursor, limit+1)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list principals")
		return
	}

	principals, nextCursor, hasMore := paginateSlice(principals, limit, func(p store.Principal) string { return p.ID })
	JSONList(w, principals, nextCursor, hasMore)
}

type adminCreatePrincipalRequest struct {
	NamespaceName string `json:"namespace_name"`
}

// handleAdminCreatePrincipal creates a principal and its primary namespace.
// The namespace is created on the fly when it does not exist yet; a namespace
// that already has an owner cannot gain a second one.
func (s *Server) handleAdminCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	var req adminCreatePrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := core.ValidateNamespaceName(req.NamespaceName); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ns, err := s.store.GetNamespaceByName(req.NamespaceName)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check namespace")
		return
	}
	if ns == nil {
		ns = &store.Namespace{
			ID:        uuid.New().String(),
			Name:      req.NamespaceName,
			CreatedAt: time.Now(),
		}
		if err := s.store.CreateNamespace(ns); err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to create namespace")
			return
		}
	}

	owner, err := s.store.GetPrincipalByPrimaryNamespace(ns.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check existing principal")
		return
	}
	if owner != nil {
		JSONError(w, http.StatusConflict, "Principal already exists for this namespace")
		return
	}

	now := time.Now()
	principal := &store.Principal{
		ID:                 uuid.New().String(),
		PrimaryNamespaceID: ns.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.store.CreatePrincipal(principal); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to create principal")
		return
	}

	// The owner's default grant on their own namespace. Access does not
	// depend on it, but grant listings show the baseline.
	grant := &store.NamespaceGrant{
		PrincipalID: principal.ID,
		NamespaceID: ns.ID,
		AllowBits:   store.DefaultNamespaceGrant(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.UpsertNamespaceGrant(grant); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to create grant")
		return
	}

	JSON(w, http.StatusCreated, principal)
}

// getPrincipalByID fetches the principal named by the id URL param, or writes 404.
func (s *Server) getPrincipalByID(w http.ResponseWriter, r *http.Request) *store.Principal {
	id := chi.URLParam(r, "id")
	principal, err := s.store.GetPrincipal(id)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get principal")
		return nil
	}
	if principal == nil {
		JSONError(w, http.StatusNotFound, "Principal not found")
		return nil
	}
	return principal
}

func (s *Server) handleAdminGetPrincipal(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	JSON(w, http.StatusOK, principal)
}

func (s *Server) handleAdminDeletePrincipal(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	if err := s.store.DeletePrincipal(principal.ID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete principal")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListPrincipalTokens(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	tokens, err := s.store.ListPrincipalTokens(principal.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list principal tokens")
		return
	}

	resp := make([]adminTokenResponse, len(tokens))
	for i, t := range tokens {
		resp[i] = s.adminTokenToResponse(t)
	}

	JSON(w, http.StatusOK, resp)
}

type adminCreateTokenRequest struct {
	ExpiresIn *int64 `json:"expires_in_seconds,omitempty"`
}

type adminCreateTokenResponse struct {
	Token    string             `json:"token"`
	Metadata adminTokenResponse `json:"metadata"`
}

// handleAdminCreatePrincipalToken mints a token bound to a principal. The
// raw token appears in this response and nowhere else.
func (s *Server) handleAdminCreatePrincipalToken(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	var req adminCreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ExpiresIn != nil && *req.ExpiresIn < 0 {
		JSONError(w, http.StatusBadRequest, "expires_in_seconds cannot be negative")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != nil {
		exp := time.Now().Add(time.Duration(*req.ExpiresIn) * time.Second)
		expiresAt = &exp
	}

	rawToken, token, err := s.store.GenerateToken(false, &principal.ID, expiresAt)
	if err != nil {
		if errors.Is(err, store.ErrTokenLookupCollision) {
			JSONError(w, http.StatusInternalServerError, "Failed to create token after retries")
			return
		}
		JSONError(w, http.StatusInternalServerError, "Failed to create token")
		return
	}

	resp := adminCreateTokenResponse{
		Token:    rawToken,
		Metadata: s.adminTokenToResponse(*token),
	}

	JSON(w, http.StatusCreated, resp)
}

type namespaceGrantRequest struct {
	NamespaceID string   `json:"namespace_id"`
	Allow       []string `json:"allow"`
	Deny        []string `json:"deny,omitempty"`
}

func (s *Server) handleAdminCreateNamespaceGrant(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	var req namespaceGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ns, err := s.store.GetNamespace(req.NamespaceID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get namespace")
		return
	}
	if ns == nil {
		JSONError(w, http.StatusNotFound, "Namespace not found")
		return
	}

	allowBits, denyBits, ok := parseGrantBits(w, req.Allow, req.Deny)
	if !ok {
		return
	}

	now := time.Now()
	grant := &store.NamespaceGrant{
		PrincipalID: principal.ID,
		NamespaceID: req.NamespaceID,
		AllowBits:   allowBits,
		DenyBits:    denyBits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.UpsertNamespaceGrant(grant); err != nil {
		if errors.Is(err, store.ErrPrimaryNamespaceGrant) {
			JSONError(w, http.StatusBadRequest, "Cannot grant permissions to primary namespace owner")
			return
		}
		JSONError(w, http.StatusInternalServerError, "Failed to create grant")
		return
	}

	grants, err := s.store.ListPrincipalNamespaceGrants(principal.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list grants")
		return
	}

	resp := make([]namespaceGrantAPIResponse, len(grants))
	for i, g := range grants {
		resp[i] = namespaceGrantToResponse(g)
	}

	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminListNamespaceGrants(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	grants, err := s.store.ListPrincipalNamespaceGrants(principal.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list grants")
		return
	}

	resp := make([]namespaceGrantAPIResponse, len(grants))
	for i, g := range grants {
		resp[i] = namespaceGrantToResponse(g)
	}

	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminGetNamespaceGrant(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}
	nsID := chi.URLParam(r, "nsID")

	grant, err := s.store.GetNamespaceGrant(principal.ID, nsID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get grant")
		return
	}
	if grant == nil {
		JSONError(w, http.StatusNotFound, "Grant not found")
		return
	}

	JSON(w, http.StatusOK, namespaceGrantToResponse(*grant))
}

func (s *Server) handleAdminDeleteNamespaceGrant(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}
	nsID := chi.URLParam(r, "nsID")

	deleted, err := s.store.DeleteNamespaceGrant(principal.ID, nsID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete grant")
		return
	}
	if !deleted {
		JSONError(w, http.StatusNotFound, "Grant not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type repoGrantRequest struct {
	RepoID string   `json:"repo_id"`
	Allow  []string `json:"allow"`
	Deny   []string `json:"deny,omitempty"`
}

func (s *Server) handleAdminCreateRepoGrant(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	var req repoGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	repo, err := s.store.GetRepoByID(req.RepoID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get repo")
		return
	}
	if repo == nil {
		JSONError(w, http.StatusNotFound, "Repository not found")
		return
	}

	allowBits, denyBits, ok := parseGrantBits(w, req.Allow, req.Deny)
	if !ok {
		return
	}

	now := time.Now()
	grant := &store.RepoGrant{
		PrincipalID: principal.ID,
		RepoID:      req.RepoID,
		AllowBits:   allowBits,
		DenyBits:    denyBits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.UpsertRepoGrant(grant); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to create grant")
		return
	}

	grants, err := s.store.ListPrincipalRepoGrants(principal.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list grants")
		return
	}

	resp := make([]repoGrantAPIResponse, len(grants))
	for i, g := range grants {
		resp[i] = repoGrantToResponse(g)
	}

	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminListRepoGrants(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}

	grants, err := s.store.ListPrincipalRepoGrants(principal.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list grants")
		return
	}

	resp := make([]repoGrantAPIResponse, len(grants))
	for i, g := range grants {
		resp[i] = repoGrantToResponse(g)
	}

	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminGetRepoGrant(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}
	repoID := chi.URLParam(r, "repoID")

	grant, err := s.store.GetRepoGrant(principal.ID, repoID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get grant")
		return
	}
	if grant == nil {
		JSONError(w, http.StatusNotFound, "Grant not found")
		return
	}

	JSON(w, http.StatusOK, repoGrantToResponse(*grant))
}

func (s *Server) handleAdminDeleteRepoGrant(w http.ResponseWriter, r *http.Request) {
	if s.requireAdminToken(w, r) == nil {
		return
	}

	principal := s.getPrincipalByID(w, r)
	if principal == nil {
		return
	}
	repoID := chi.URLParam(r, "repoID")

	deleted, err := s.store.DeleteRepoGrant(principal.ID, repoID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete grant")
		return
	}
	if !deleted {
		JSONError(w, http.StatusNotFound, "Grant not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseGrantBits parses allow/deny permission strings, writing a 400 on any
// unknown permission.
func parseGrantBits(w http.ResponseWriter, allow, deny []string) (store.Permission, store.Permission, bool) {
	allowBits, err := store.ParsePermissions(allow)
	if err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid permission: "+err.Error())
		return 0, 0, false
	}

	var denyBits store.Permission
	if len(deny) > 0 {
		denyBits, err = store.ParsePermissions(deny)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "Invalid permission: "+err.Error())
			return 0, 0, false
		}
	}

	return allowBits, denyBits, true
}

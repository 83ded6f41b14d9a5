package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bantamhq/cutman/internal/lfs"
	"github.com/bantamhq/cutman/internal/store"
)

const lfsMediaType = "application/vnd.git-lfs+json"

// lfsActionTTL is the expires_in advertised on batch actions.
const lfsActionTTL = 3600

// LFSHandler serves the Git LFS batch API plus the basic-transfer
// download/upload/verify endpoints.
type LFSHandler struct {
	store         store.Store
	storage       lfs.Storage
	permissions   *store.PermissionChecker
	publicBaseURL string
	logger        *zap.Logger
}

// NewLFSHandler creates a new LFS handler. publicBaseURL may be empty, in
// which case action hrefs are derived from each request's Host header.
func NewLFSHandler(st store.Store, storage lfs.Storage, publicBaseURL string, logger *zap.Logger) *LFSHandler {
	return &LFSHandler{
		store:         st,
		storage:       storage,
		permissions:   store.NewPermissionChecker(st),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
}

// Routes returns the LFS route tree, mounted under
// /git/{namespace}/{repo}/info/lfs.
func (h *LFSHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/objects/batch", h.handleBatch)
	r.Get("/objects/{oid}", h.handleDownload)
	r.Put("/objects/{oid}", h.handleUpload)
	r.Post("/verify", h.handleVerify)
	return r
}

func (h *LFSHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	ns, repo := h.resolveRepo(w, r)
	if repo == nil {
		return
	}

	var req lfs.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.lfsError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Operation != "download" && req.Operation != "upload" {
		h.lfsError(w, http.StatusBadRequest, "Invalid operation")
		return
	}

	isWrite := req.Operation == "upload"
	if !h.checkPermission(w, r, repo, isWrite) {
		return
	}

	baseURL := h.requestBaseURL(r)

	resp := lfs.BatchResponse{
		Transfer: "basic",
		Objects:  make([]lfs.ObjectResponse, 0, len(req.Objects)),
	}
	for _, obj := range req.Objects {
		resp.Objects = append(resp.Objects, h.processObject(r.Context(), ns, repo, obj, req.Operation, baseURL))
	}

	h.lfsJSON(w, http.StatusOK, resp)
}

// processObject builds the per-object batch response: an error for invalid
// or missing objects, otherwise the action set for the requested operation.
func (h *LFSHandler) processObject(ctx context.Context, ns *store.Namespace, repo *store.Repo, obj lfs.ObjectSpec, operation, baseURL string) lfs.ObjectResponse {
	if err := lfs.ValidateOID(obj.OID); err != nil {
		return objectError(obj, 422, "Invalid OID format")
	}

	exists, err := h.objectExists(ctx, repo.ID, obj.OID)
	if err != nil {
		return objectError(obj, 500, "Failed to check object existence")
	}

	objectURL := fmt.Sprintf("%s/git/%s/%s.git/info/lfs/objects/%s", baseURL, ns.Name, repo.Name, obj.OID)

	if operation == "download" {
		if !exists {
			return objectError(obj, 404, "Object not found")
		}
		return lfs.ObjectResponse{
			OID:  obj.OID,
			Size: obj.Size,
			Actions: map[string]lfs.Action{
				"download": {Href: objectURL, ExpiresIn: lfsActionTTL},
			},
		}
	}

	if exists {
		// Already stored; the client skips the transfer entirely.
		return lfs.ObjectResponse{OID: obj.OID, Size: obj.Size, Authenticated: true}
	}

	verifyURL := fmt.Sprintf("%s/git/%s/%s.git/info/lfs/verify", baseURL, ns.Name, repo.Name)
	return lfs.ObjectResponse{
		OID:  obj.OID,
		Size: obj.Size,
		Actions: map[string]lfs.Action{
			"upload": {Href: objectURL, ExpiresIn: lfsActionTTL},
			"verify": {Href: verifyURL, ExpiresIn: lfsActionTTL},
		},
	}
}

func objectError(obj lfs.ObjectSpec, code int, message string) lfs.ObjectResponse {
	return lfs.ObjectResponse{
		OID:   obj.OID,
		Size:  obj.Size,
		Error: &lfs.ObjectError{Code: code, Message: message},
	}
}

// objectExists requires the filesystem object and its index row to agree.
// An orphan on either side is treated as absent so the client re-uploads.
func (h *LFSHandler) objectExists(ctx context.Context, repoID, oid string) (bool, error) {
	onDisk, err := h.storage.Exists(ctx, repoID, oid)
	if err != nil || !onDisk {
		return false, err
	}

	row, err := h.store.GetLFSObject(repoID, oid)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

func (h *LFSHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	_, repo := h.resolveRepo(w, r)
	if repo == nil {
		return
	}

	if !h.checkPermission(w, r, repo, false) {
		return
	}

	oid := chi.URLParam(r, "oid")
	if err := lfs.ValidateOID(oid); err != nil {
		h.lfsError(w, http.StatusUnprocessableEntity, "Invalid OID format")
		return
	}

	reader, size, err := h.storage.Get(r.Context(), repo.ID, oid)
	if errors.Is(err, lfs.ErrObjectNotFound) {
		h.lfsError(w, http.StatusNotFound, "Object not found")
		return
	}
	if err != nil {
		h.lfsError(w, http.StatusInternalServerError, "Failed to retrieve object")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)
}

func (h *LFSHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	_, repo := h.resolveRepo(w, r)
	if repo == nil {
		return
	}

	if !h.checkPermission(w, r, repo, true) {
		return
	}

	oid := chi.URLParam(r, "oid")
	if err := lfs.ValidateOID(oid); err != nil {
		h.lfsError(w, http.StatusUnprocessableEntity, "Invalid OID format")
		return
	}

	size := r.ContentLength
	if size < 0 {
		h.lfsError(w, http.StatusBadRequest, "Content-Length required")
		return
	}

	err := h.storage.Put(r.Context(), repo.ID, oid, r.Body, size)
	if errors.Is(err, lfs.ErrHashMismatch) {
		h.lfsError(w, http.StatusBadRequest, "Content hash does not match OID")
		return
	}
	if err != nil {
		h.lfsError(w, http.StatusInternalServerError, "Failed to store object")
		return
	}

	lfsObj := &store.LFSObject{
		RepoID:    repo.ID,
		OID:       oid,
		Size:      size,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateLFSObject(lfsObj); err != nil {
		// The bytes are already on disk and put is idempotent; a retried
		// upload reinserts the row.
		h.logger.Warn("failed to record LFS object in index",
			zap.String("repo_id", repo.ID),
			zap.String("oid", oid),
			zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}

func (h *LFSHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	_, repo := h.resolveRepo(w, r)
	if repo == nil {
		return
	}

	if !h.checkPermission(w, r, repo, true) {
		return
	}

	var req lfs.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.lfsError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := lfs.ValidateOID(req.OID); err != nil {
		h.lfsError(w, http.StatusUnprocessableEntity, "Invalid OID format")
		return
	}

	size, err := h.storage.Size(r.Context(), repo.ID, req.OID)
	if errors.Is(err, lfs.ErrObjectNotFound) {
		h.lfsError(w, http.StatusNotFound, "Object not found")
		return
	}
	if err != nil {
		h.lfsError(w, http.StatusInternalServerError, "Failed to verify object")
		return
	}

	if size != req.Size {
		h.lfsError(w, http.StatusBadRequest, fmt.Sprintf("Size mismatch: expected %d, got %d", req.Size, size))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// resolveRepo resolves the namespace and repo from the URL, stripping any
// .git suffix from the repo segment.
func (h *LFSHandler) resolveRepo(w http.ResponseWriter, r *http.Request) (*store.Namespace, *store.Repo) {
	namespaceName := chi.URLParam(r, "namespace")
	repoName := strings.ToLower(strings.TrimSuffix(chi.URLParam(r, "repo"), ".git"))

	ns, err := h.store.GetNamespaceByName(namespaceName)
	if err != nil {
		h.lfsError(w, http.StatusInternalServerError, "Internal server error")
		return nil, nil
	}
	if ns == nil {
		h.lfsError(w, http.StatusNotFound, "Namespace not found")
		return nil, nil
	}

	repo, err := h.store.GetRepo(ns.ID, repoName)
	if err != nil {
		h.lfsError(w, http.StatusInternalServerError, "Internal server error")
		return nil, nil
	}
	if repo == nil {
		h.lfsError(w, http.StatusNotFound, "Repository not found")
		return nil, nil
	}

	return ns, repo
}

// checkPermission applies the same access rules as the git transport:
// public repos allow anonymous reads, writes require repo:write.
func (h *LFSHandler) checkPermission(w http.ResponseWriter, r *http.Request, repo *store.Repo, isWrite bool) bool {
	token := GetTokenFromContext(r.Context())
	principal := GetPrincipalFromContext(r.Context())

	if token != nil && token.IsAdmin {
		h.lfsError(w, http.StatusForbidden, "Admin token cannot be used for LFS operations")
		return false
	}

	if !isWrite && repo.Public {
		return true
	}

	if principal == nil {
		h.lfsErrorWithAuth(w, http.StatusUnauthorized, "Authentication required")
		return false
	}

	required := store.PermRepoRead
	if isWrite {
		required = store.PermRepoWrite
	}

	hasPermission, err := h.permissions.CheckRepoPermission(principal, repo, required)
	if err != nil {
		h.lfsError(w, http.StatusInternalServerError, "Failed to check permissions")
		return false
	}
	if !hasPermission {
		if isWrite {
			h.lfsError(w, http.StatusForbidden, "Write access denied")
		} else {
			h.lfsError(w, http.StatusForbidden, "Access denied")
		}
		return false
	}

	return true
}

// requestBaseURL derives the externally visible base URL for action hrefs.
// A configured public base URL wins; otherwise the URL is reconstructed from
// X-Forwarded-Proto and Host.
func (h *LFSHandler) requestBaseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}

	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s", proto, host)
}

func (h *LFSHandler) lfsJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", lfsMediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *LFSHandler) lfsError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", lfsMediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(lfs.LFSError{Message: message})
}

func (h *LFSHandler) lfsErrorWithAuth(w http.ResponseWriter, status int, message string) {
	w.Header().Set("WWW-Authenticate", lfsChallenge)
	h.lfsError(w, status, message)
}

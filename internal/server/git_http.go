package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

// gitCommandTimeout bounds every git subprocess spawned by the server,
// including pack negotiation on large repos.
const gitCommandTimeout = 300 * time.Second

const (
	serviceUploadPack  = "git-upload-pack"
	serviceReceivePack = "git-receive-pack"
)

// GitHTTPHandler serves the Git smart HTTP protocol: ref advertisement plus
// the upload-pack and receive-pack services.
type GitHTTPHandler struct {
	store       store.Store
	permissions *store.PermissionChecker
	dataDir     string
	logger      *zap.Logger
}

// NewGitHTTPHandler creates a new Git HTTP handler.
func NewGitHTTPHandler(st store.Store, dataDir string, logger *zap.Logger) *GitHTTPHandler {
	return &GitHTTPHandler{
		store:       st,
		permissions: store.NewPermissionChecker(st),
		dataDir:     dataDir,
		logger:      logger,
	}
}

// handleInfoRefs advertises refs for the requested service.
// GET /git/{namespace}/{repo}/info/refs?service=git-upload-pack|git-receive-pack
func (h *GitHTTPHandler) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service != serviceUploadPack && service != serviceReceivePack {
		http.Error(w, "Invalid service", http.StatusBadRequest)
		return
	}
	isWrite := service == serviceReceivePack

	ns, repo, repoName, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	repo, ok = h.authorize(w, r, ns, repo, repoName, isWrite)
	if !ok {
		return
	}

	repoPath, err := SafeRepoPath(h.dataDir, ns.ID, repo.Name)
	if err != nil {
		http.Error(w, "Invalid repository name", http.StatusBadRequest)
		return
	}

	if isWrite {
		if err := ensureBareRepo(r.Context(), repoPath); err != nil {
			h.logger.Error("failed to initialize bare repository",
				zap.String("path", repoPath),
				zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	output, err := h.runGitService(r.Context(), service, repoPath, nil, true)
	if err != nil {
		h.writeGitError(w, err)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", service))
	w.Header().Set("Cache-Control", "no-cache")

	serviceLine := fmt.Sprintf("# service=%s\n", service)
	fmt.Fprintf(w, "%04x%s", len(serviceLine)+4, serviceLine)
	w.Write([]byte("0000"))
	w.Write(output)
}

// handleUploadPack runs pack negotiation for fetch/clone.
// POST /git/{namespace}/{repo}/git-upload-pack
func (h *GitHTTPHandler) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	ns, repo, repoName, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	repo, ok = h.authorize(w, r, ns, repo, repoName, false)
	if !ok {
		return
	}

	repoPath, err := SafeRepoPath(h.dataDir, ns.ID, repo.Name)
	if err != nil {
		http.Error(w, "Invalid repository name", http.StatusBadRequest)
		return
	}

	body, err := requestBody(r)
	if err != nil {
		http.Error(w, "Invalid gzip body", http.StatusBadRequest)
		return
	}
	defer body.Close()

	output, err := h.runGitService(r.Context(), serviceUploadPack, repoPath, body, false)
	if err != nil {
		h.writeGitError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(output)
}

// handleReceivePack accepts a packfile push.
// POST /git/{namespace}/{repo}/git-receive-pack
func (h *GitHTTPHandler) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	ns, repo, repoName, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	repo, ok = h.authorize(w, r, ns, repo, repoName, true)
	if !ok {
		return
	}

	repoPath, err := SafeRepoPath(h.dataDir, ns.ID, repo.Name)
	if err != nil {
		http.Error(w, "Invalid repository name", http.StatusBadRequest)
		return
	}

	if err := ensureBareRepo(r.Context(), repoPath); err != nil {
		h.logger.Error("failed to initialize bare repository",
			zap.String("path", repoPath),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	body, err := requestBody(r)
	if err != nil {
		http.Error(w, "Invalid gzip body", http.StatusBadRequest)
		return
	}
	defer body.Close()

	output, err := h.runGitService(r.Context(), serviceReceivePack, repoPath, body, false)
	if err != nil {
		h.writeGitError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(output)

	h.recordPush(repo, repoPath)
}

// recordPush updates push bookkeeping after a successful receive-pack.
// Failures are logged, never surfaced; the push itself already succeeded.
func (h *GitHTTPHandler) recordPush(repo *store.Repo, repoPath string) {
	if err := h.store.UpdateRepoLastPush(repo.ID, time.Now()); err != nil {
		h.logger.Warn("failed to update last push time",
			zap.String("repo_id", repo.ID),
			zap.Error(err))
	}

	size, err := directorySize(repoPath)
	if err != nil {
		h.logger.Warn("failed to compute repository size",
			zap.String("repo_id", repo.ID),
			zap.Error(err))
		return
	}
	if err := h.store.UpdateRepoSize(repo.ID, size); err != nil {
		h.logger.Warn("failed to update repository size",
			zap.String("repo_id", repo.ID),
			zap.Error(err))
	}
}

// resolveRepo resolves the namespace and repo from the URL. The repo segment
// is lowercased and any .git suffix stripped before lookup. The returned repo
// may be nil when it does not exist yet.
func (h *GitHTTPHandler) resolveRepo(w http.ResponseWriter, r *http.Request) (*store.Namespace, *store.Repo, string, bool) {
	nsName := chi.URLParam(r, "namespace")
	repoName := strings.ToLower(strings.TrimSuffix(chi.URLParam(r, "repo"), ".git"))

	if err := core.ValidateRepoName(repoName); err != nil {
		http.Error(w, "Invalid repository name", http.StatusBadRequest)
		return nil, nil, "", false
	}

	ns, err := h.store.GetNamespaceByName(nsName)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, "", false
	}
	if ns == nil {
		http.Error(w, "Namespace not found", http.StatusNotFound)
		return nil, nil, "", false
	}

	repo, err := h.store.GetRepo(ns.ID, repoName)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, "", false
	}

	return ns, repo, repoName, true
}

// authorize enforces git access rules and implicitly creates the repo on
// first write. Public repos allow anonymous reads; everything else requires
// a principal token holding the matching permission.
func (h *GitHTTPHandler) authorize(w http.ResponseWriter, r *http.Request, ns *store.Namespace, repo *store.Repo, repoName string, isWrite bool) (*store.Repo, bool) {
	token := GetTokenFromContext(r.Context())
	principal := GetPrincipalFromContext(r.Context())

	if token != nil && token.IsAdmin {
		http.Error(w, "Admin token cannot be used for git operations", http.StatusForbidden)
		return nil, false
	}

	if !isWrite {
		if repo == nil {
			http.Error(w, "Repository not found", http.StatusNotFound)
			return nil, false
		}
		if repo.Public {
			return repo, true
		}
		if principal == nil {
			w.Header().Set("WWW-Authenticate", gitChallenge)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return nil, false
		}
		allowed, err := h.permissions.CheckRepoPermission(principal, repo, store.PermRepoRead)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return nil, false
		}
		if !allowed {
			http.Error(w, "Permission denied", http.StatusForbidden)
			return nil, false
		}
		return repo, true
	}

	if principal == nil {
		w.Header().Set("WWW-Authenticate", gitChallenge)
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return nil, false
	}

	if repo != nil {
		allowed, err := h.permissions.CheckRepoPermission(principal, repo, store.PermRepoWrite)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return nil, false
		}
		if !allowed {
			http.Error(w, "Permission denied", http.StatusForbidden)
			return nil, false
		}
		return repo, true
	}

	// First push to a repo that does not exist yet: creating it requires
	// write on the namespace.
	allowed, err := h.permissions.CheckNamespacePermission(principal, ns.ID, store.PermNamespaceWrite)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !allowed {
		http.Error(w, "Permission denied", http.StatusForbidden)
		return nil, false
	}

	created, err := h.createRepo(ns.ID, repoName)
	if err != nil {
		h.logger.Error("failed to create repository on push",
			zap.String("namespace", ns.Name),
			zap.String("repo", repoName),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}

	h.logger.Info("created repository on first push",
		zap.String("namespace", ns.Name),
		zap.String("repo", repoName))

	return created, true
}

func (h *GitHTTPHandler) createRepo(namespaceID, repoName string) (*store.Repo, error) {
	now := time.Now()
	repo := &store.Repo{
		ID:          uuid.New().String(),
		NamespaceID: namespaceID,
		Name:        repoName,
		Public:      false,
		SizeBytes:   0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.CreateRepo(repo); err != nil {
		return nil, fmt.Errorf("save repo: %w", err)
	}

	return repo, nil
}

// ensureBareRepo initializes a bare repository at repoPath if one does not
// exist. HEAD is pinned to refs/heads/main regardless of the host git's
// init.defaultBranch so that first pushes land on main.
func ensureBareRepo(ctx context.Context, repoPath string) error {
	if _, err := os.Stat(repoPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(repoPath, 0755); err != nil {
		return fmt.Errorf("create repo directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "init", "--bare", repoPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git init --bare: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	headPath := filepath.Join(repoPath, "HEAD")
	if err := os.WriteFile(headPath, []byte("ref: refs/heads/main\n"), 0644); err != nil {
		return fmt.Errorf("write HEAD: %w", err)
	}

	return nil
}

// runGitService spawns a pack service against a bare repo and returns its
// stdout. stdin may be nil for ref advertisement.
func (h *GitHTTPHandler) runGitService(ctx context.Context, service, repoPath string, stdin io.Reader, advertise bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, gitCommandTimeout)
	defer cancel()

	args := []string{"--stateless-rpc"}
	if advertise {
		args = append(args, "--advertise-refs")
	}
	args = append(args, repoPath)

	cmd := exec.CommandContext(ctx, service, args...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, context.DeadlineExceeded
	}
	if err != nil {
		h.logger.Error("git service failed",
			zap.String("service", service),
			zap.String("path", repoPath),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err))
		return nil, fmt.Errorf("%s: %w", service, err)
	}

	return stdout.Bytes(), nil
}

func (h *GitHTTPHandler) writeGitError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		http.Error(w, "Git command timed out", http.StatusBadRequest)
		return
	}
	http.Error(w, "Git command failed", http.StatusInternalServerError)
}

// requestBody returns the request body, transparently decoding gzip when the
// client declares Content-Encoding: gzip.
func requestBody(r *http.Request) (io.ReadCloser, error) {
	if r.Header.Get("Content-Encoding") != "gzip" {
		return r.Body, nil
	}
	return gzip.NewReader(r.Body)
}

// directorySize sums the sizes of regular files under root. Symlinks are
// skipped rather than followed.
func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

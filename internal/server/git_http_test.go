package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantamhq/cutman/internal/store"
)

// runGit runs a git command in dir with a fixed identity and no credential
// prompting, failing the test on a non-zero exit.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test Author",
		"GIT_AUTHOR_EMAIL=author@example.com",
		"GIT_COMMITTER_NAME=Test Author",
		"GIT_COMMITTER_EMAIL=author@example.com",
		"GIT_TERMINAL_PROMPT=0",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func TestGitInfoRefsAuth(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)
	_, owner := ts.mintPrincipal(t, "git-owner")
	ts.seedRepo(t, owner.PrimaryNamespaceID, "private", false)

	uploadPath := "/git/git-owner/private.git/info/refs?service=git-upload-pack"
	receivePath := "/git/git-owner/private.git/info/refs?service=git-receive-pack"

	t.Run("invalid service", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/git/git-owner/private.git/info/refs?service=git-evil", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown namespace", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/git/ghost/private.git/info/refs?service=git-upload-pack", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown repo on read", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/git/git-owner/ghost.git/info/refs?service=git-upload-pack", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid repo name", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/git/git-owner/bad%20name.git/info/refs?service=git-upload-pack", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("anonymous read on private repo challenged", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, uploadPath, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Basic realm="cutman"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("ungranted principal rejected", func(t *testing.T) {
		strangerToken, _ := ts.mintPrincipal(t, "git-stranger")
		rec := ts.do(t, http.MethodGet, uploadPath, strangerToken, nil, &requestOpts{basicAuth: true})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin token rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, uploadPath, adminToken, nil, &requestOpts{basicAuth: true})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("anonymous push challenged", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, receivePath, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Basic realm="cutman"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("read grant does not allow push", func(t *testing.T) {
		readerToken, reader := ts.mintPrincipal(t, "git-reader")
		repo, err := ts.st.GetRepo(owner.PrimaryNamespaceID, "private")
		require.NoError(t, err)
		ts.grantRepo(t, reader.ID, repo.ID, store.PermRepoRead, 0)

		rec := ts.do(t, http.MethodGet, receivePath, readerToken, nil, &requestOpts{basicAuth: true})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("push to missing repo needs namespace write", func(t *testing.T) {
		guestToken, _ := ts.mintPrincipal(t, "git-guest")
		rec := ts.do(t, http.MethodGet, "/git/git-owner/newrepo.git/info/refs?service=git-receive-pack", guestToken, nil, &requestOpts{basicAuth: true})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		repo, err := ts.st.GetRepo(owner.PrimaryNamespaceID, "newrepo")
		require.NoError(t, err)
		assert.Nil(t, repo, "denied push must not create the repo")
	})
}

func TestGitInfoRefsAdvertisement(t *testing.T) {
	requireGit(t)

	ts := newTestServer(t)
	_, owner := ts.mintPrincipal(t, "adv-owner")
	ts.seedGitRepo(t, owner.PrimaryNamespaceID, "pub", true)

	t.Run("anonymous read on public repo", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/git/adv-owner/pub.git/info/refs?service=git-upload-pack", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/x-git-upload-pack-advertisement", rec.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(rec.Body.String(), "001e# service=git-upload-pack\n0000"),
			"advertisement must start with the service pkt-line and a flush")
	})

	t.Run("dot git suffix is optional", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/git/adv-owner/pub/info/refs?service=git-upload-pack", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("repo name lookup is case insensitive", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/git/adv-owner/PUB.git/info/refs?service=git-upload-pack", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGitImplicitCreateOnPush(t *testing.T) {
	requireGit(t)

	ts := newTestServer(t)
	ownerToken, owner := ts.mintPrincipal(t, "implicit-owner")

	rec := ts.do(t, http.MethodGet, "/git/implicit-owner/fresh.git/info/refs?service=git-receive-pack", ownerToken, nil, &requestOpts{basicAuth: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/x-git-receive-pack-advertisement", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "001f# service=git-receive-pack\n0000"))

	repo, err := ts.st.GetRepo(owner.PrimaryNamespaceID, "fresh")
	require.NoError(t, err)
	require.NotNil(t, repo, "repo row should exist after first push advertisement")
	assert.False(t, repo.Public, "implicitly created repos are private")

	repoPath, err := SafeRepoPath(ts.dataDir, owner.PrimaryNamespaceID, "fresh")
	require.NoError(t, err)
	head, err := os.ReadFile(filepath.Join(repoPath, "HEAD"))
	require.NoError(t, err)
	assert.Equal(t, "ref: refs/heads/main\n", string(head))
}

func TestGitTransportRoundTrip(t *testing.T) {
	requireGit(t)

	ts := newTestServer(t)
	raw, owner := ts.mintPrincipal(t, "rt-owner")

	httpSrv := httptest.NewServer(ts)
	t.Cleanup(httpSrv.Close)

	srvURL, err := url.Parse(httpSrv.URL)
	require.NoError(t, err)
	remoteURL := fmt.Sprintf("http://x-token:%s@%s/git/rt-owner/widget.git", raw, srvURL.Host)

	workDir := t.TempDir()
	runGit(t, workDir, "init", ".")
	runGit(t, workDir, "symbolic-ref", "HEAD", "refs/heads/main")
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "hello.txt"), []byte("hello over http\n"), 0o644))
	runGit(t, workDir, "add", "hello.txt")
	runGit(t, workDir, "commit", "-m", "first commit")

	runGit(t, workDir, "push", remoteURL, "main")

	repo, err := ts.st.GetRepo(owner.PrimaryNamespaceID, "widget")
	require.NoError(t, err)
	require.NotNil(t, repo, "push should create the repo")
	assert.NotNil(t, repo.LastPushAt, "push should stamp last_push_at")
	assert.Greater(t, repo.SizeBytes, int64(0), "push should record the on-disk size")

	cloneDir := filepath.Join(t.TempDir(), "clone")
	runGit(t, t.TempDir(), "clone", remoteURL, cloneDir)

	data, err := os.ReadFile(filepath.Join(cloneDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello over http\n", string(data))

	branch := strings.TrimSpace(runGit(t, cloneDir, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.Equal(t, "main", branch, "clone should land on main")

	// A second push with new history flows through the existing-repo write path.
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "hello.txt"), []byte("updated\n"), 0o644))
	runGit(t, workDir, "add", "hello.txt")
	runGit(t, workDir, "commit", "-m", "second commit")
	runGit(t, workDir, "push", remoteURL, "main")

	runGit(t, cloneDir, "pull", remoteURL, "main")
	data, err = os.ReadFile(filepath.Join(cloneDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "updated\n", string(data))
}

package server

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantamhq/cutman/internal/store"
)

type gitFixture struct {
	repo *store.Repo
	// commit SHAs, oldest first
	commits []string
}

// seedGitRepo builds a bare repository on disk for a seeded repo row. It works
// entirely in-process: a throwaway worktree gets two commits and is then
// cloned bare into the server's data directory.
func (ts *testServer) seedGitRepo(t *testing.T, namespaceID, name string, public bool) gitFixture {
	t.Helper()

	repo := ts.seedRepo(t, namespaceID, name, public)

	workDir := t.TempDir()
	src, err := git.PlainInit(workDir, false)
	require.NoError(t, err)

	wt, err := src.Worktree()
	require.NoError(t, err)

	write := func(rel, content string) {
		full := filepath.Join(workDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		_, err := wt.Add(rel)
		require.NoError(t, err)
	}

	sig := func(offset time.Duration) *object.Signature {
		return &object.Signature{
			Name:  "Test Author",
			Email: "author@example.com",
			When:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(offset),
		}
	}

	write("README.md", "# demo\n\nA fixture repository.\n")
	write("main.go", "package main\n\nfunc main() {}\n")
	write("docs/guide.md", "# guide\n")
	first, err := wt.Commit("initial import", &git.CommitOptions{Author: sig(0), Committer: sig(0)})
	require.NoError(t, err)

	write("main.go", "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hi\") }\n")
	second, err := wt.Commit("print a greeting", &git.CommitOptions{Author: sig(time.Minute), Committer: sig(time.Minute)})
	require.NoError(t, err)

	barePath, err := SafeRepoPath(ts.dataDir, namespaceID, name)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(barePath), 0o755))

	bare, err := git.PlainClone(barePath, true, &git.CloneOptions{URL: workDir})
	require.NoError(t, err)

	_, err = bare.CreateTag("v1", second, &git.CreateTagOptions{
		Tagger:  sig(2 * time.Minute),
		Message: "first release",
	})
	require.NoError(t, err)

	return gitFixture{repo: repo, commits: []string{first.String(), second.String()}}
}

func TestContentRefs(t *testing.T) {
	ts := newTestServer(t)
	_, tina := ts.mintPrincipal(t, "tina")
	fx := ts.seedGitRepo(t, tina.PrimaryNamespaceID, "demo", true)

	rec := ts.request(t, http.MethodGet, "/api/v1/repos/"+fx.repo.ID+"/refs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var refs []RefResponse
	decodeData(t, rec, &refs)
	require.Len(t, refs, 2)

	assert.Equal(t, "master", refs[0].Name)
	assert.Equal(t, "branch", refs[0].Type)
	assert.True(t, refs[0].IsDefault)
	assert.Equal(t, fx.commits[1], refs[0].CommitSHA)

	assert.Equal(t, "v1", refs[1].Name)
	assert.Equal(t, "tag", refs[1].Type)
	assert.False(t, refs[1].IsDefault)
	assert.Equal(t, fx.commits[1], refs[1].CommitSHA, "annotated tag should peel to its commit")
}

func TestContentCommits(t *testing.T) {
	ts := newTestServer(t)
	_, uma := ts.mintPrincipal(t, "uma")
	fx := ts.seedGitRepo(t, uma.PrimaryNamespaceID, "demo", true)
	base := "/api/v1/repos/" + fx.repo.ID

	t.Run("list newest first", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/commits", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var commits []CommitResponse
		_, hasMore := decodeList(t, rec, &commits)
		assert.False(t, hasMore)
		require.Len(t, commits, 2)
		assert.Equal(t, fx.commits[1], commits[0].SHA)
		assert.Equal(t, fx.commits[0], commits[1].SHA)
		assert.Equal(t, "print a greeting", commits[0].Message)
		assert.Equal(t, "Test Author", commits[0].Author.Name)
		assert.Nil(t, commits[0].Stats, "listings skip stats")
	})

	t.Run("cursor walk covers every commit", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/commits?limit=1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page []CommitResponse
		nextCursor, hasMore := decodeList(t, rec, &page)
		require.True(t, hasMore)
		require.NotNil(t, nextCursor)
		require.Len(t, page, 1)
		assert.Equal(t, fx.commits[1], page[0].SHA)
		assert.Equal(t, fx.commits[1], *nextCursor, "cursor names the last returned commit")

		rec = ts.request(t, http.MethodGet, base+"/commits?limit=1&cursor="+*nextCursor, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		nextCursor, hasMore = decodeList(t, rec, &page)
		assert.False(t, hasMore)
		assert.Nil(t, nextCursor)
		require.Len(t, page, 1)
		assert.Equal(t, fx.commits[0], page[0].SHA)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/commits?cursor=0000000000000000000000000000000000000000", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("detail includes stats", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/commits/"+fx.commits[0], "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var commit CommitResponse
		decodeData(t, rec, &commit)
		assert.Equal(t, fx.commits[0], commit.SHA)
		assert.Empty(t, commit.ParentSHAs)
		require.NotNil(t, commit.Stats)
		assert.Equal(t, 3, commit.Stats.FilesChanged)
		assert.Equal(t, 7, commit.Stats.Additions)
		assert.Equal(t, 0, commit.Stats.Deletions)
	})

	t.Run("diff against parent", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/commits/"+fx.commits[1]+"/diff", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var diff DiffResponse
		decodeData(t, rec, &diff)
		assert.Equal(t, fx.commits[0], diff.BaseSHA)
		assert.Equal(t, fx.commits[1], diff.HeadSHA)
		assert.Equal(t, 1, diff.Stats.FilesChanged)
		assert.Contains(t, diff.Patch, "main.go")
		assert.Contains(t, diff.Patch, "fmt.Println")
	})

	t.Run("unknown ref", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/commits?ref=nope", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestContentTreeAndBlob(t *testing.T) {
	ts := newTestServer(t)
	_, vera := ts.mintPrincipal(t, "vera")
	fx := ts.seedGitRepo(t, vera.PrimaryNamespaceID, "demo", true)
	base := "/api/v1/repos/" + fx.repo.ID

	t.Run("root tree dirs first", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/tree/master", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var entries []TreeEntryResponse
		decodeData(t, rec, &entries)
		require.Len(t, entries, 3)
		assert.Equal(t, "docs", entries[0].Name)
		assert.Equal(t, "dir", entries[0].Type)
		assert.Equal(t, "README.md", entries[1].Name)
		assert.Equal(t, "file", entries[1].Type)
		require.NotNil(t, entries[1].Size)
		assert.Equal(t, "main.go", entries[2].Name)
	})

	t.Run("subdirectory", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/tree/master/docs", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []TreeEntryResponse
		decodeData(t, rec, &entries)
		require.Len(t, entries, 1)
		assert.Equal(t, "guide.md", entries[0].Name)
		assert.Equal(t, "docs/guide.md", entries[0].Path)
	})

	t.Run("tree by commit sha", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/tree/"+fx.commits[0], "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []TreeEntryResponse
		decodeData(t, rec, &entries)
		assert.Len(t, entries, 3)
	})

	t.Run("tree on file path", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/tree/master/main.go", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tree missing path", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/tree/master/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("blob", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/blob/master/main.go", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var blob BlobResponse
		decodeData(t, rec, &blob)
		assert.Equal(t, "utf-8", blob.Encoding)
		assert.False(t, blob.IsBinary)
		assert.False(t, blob.Truncated)
		require.NotNil(t, blob.Content)
		assert.Contains(t, *blob.Content, "fmt.Println")
	})

	t.Run("blob raw", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/blob/master/main.go?raw=true", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "package main")
	})

	t.Run("blob on directory", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/blob/master/docs", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("blob missing", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/blob/master/nope.txt", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("readme", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/readme", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var readme ReadmeResponse
		decodeData(t, rec, &readme)
		assert.Equal(t, "README.md", readme.Filename)
		assert.Contains(t, readme.Content, "# demo")
		assert.False(t, readme.IsBinary)
	})

	t.Run("blame", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/blame/master/main.go", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var blame BlameResponse
		decodeData(t, rec, &blame)
		assert.Equal(t, "main.go", blame.Path)
		require.Len(t, blame.Lines, 5)
		assert.Equal(t, 1, blame.Lines[0].Line)
		assert.Equal(t, "package main", blame.Lines[0].Text)
		assert.NotEmpty(t, blame.Lines[0].SHA)
	})
}

func TestContentCompareAndArchive(t *testing.T) {
	requireGit(t)

	ts := newTestServer(t)
	_, wren := ts.mintPrincipal(t, "wren")
	fx := ts.seedGitRepo(t, wren.PrimaryNamespaceID, "demo", true)
	base := "/api/v1/repos/" + fx.repo.ID

	t.Run("compare", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/compare/"+fx.commits[0]+"..."+fx.commits[1], "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var cmp CompareResponse
		decodeData(t, rec, &cmp)
		assert.Equal(t, fx.commits[0], cmp.BaseSHA)
		assert.Equal(t, fx.commits[1], cmp.HeadSHA)
		assert.Equal(t, fx.commits[0], cmp.MergeBaseSHA)
		assert.Equal(t, 1, cmp.AheadBy)
		assert.Equal(t, 0, cmp.BehindBy)
		require.Len(t, cmp.Commits, 1)
		assert.Equal(t, fx.commits[1], cmp.Commits[0].SHA)
		assert.Contains(t, cmp.Diff.Patch, "main.go")
	})

	t.Run("archive zip", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/archive/master", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "demo-master.zip")
		assert.NotZero(t, rec.Body.Len())
	})

	t.Run("archive invalid format", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/archive/master?format=rar", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestContentAccess(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)
	_, xena := ts.mintPrincipal(t, "xena")
	fx := ts.seedGitRepo(t, xena.PrimaryNamespaceID, "secret", false)
	base := "/api/v1/repos/" + fx.repo.ID

	t.Run("anonymous rejected on private repo", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/refs", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("granted reader allowed", func(t *testing.T) {
		readerToken, reader := ts.mintPrincipal(t, "xena-reader")
		ts.grantRepo(t, reader.ID, fx.repo.ID, store.PermRepoRead, 0)

		rec := ts.request(t, http.MethodGet, base+"/refs", readerToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ungranted principal rejected", func(t *testing.T) {
		strangerToken, _ := ts.mintPrincipal(t, "xena-stranger")
		rec := ts.request(t, http.MethodGet, base+"/refs", strangerToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin token rejected", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, base+"/refs", adminToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("empty repository", func(t *testing.T) {
		empty := ts.seedRepo(t, xena.PrimaryNamespaceID, "empty", true)
		barePath, err := SafeRepoPath(ts.dataDir, xena.PrimaryNamespaceID, "empty")
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(barePath), 0o755))
		_, err = git.PlainInit(barePath, true)
		require.NoError(t, err)

		rec := ts.request(t, http.MethodGet, "/api/v1/repos/"+empty.ID+"/refs", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Repository is empty", errorMessage(t, rec))
	})

	t.Run("uninitialized repository", func(t *testing.T) {
		ghost := ts.seedRepo(t, xena.PrimaryNamespaceID, "ghost", true)
		rec := ts.request(t, http.MethodGet, "/api/v1/repos/"+ghost.ID+"/refs", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Repository not initialized", errorMessage(t, rec))
	})
}

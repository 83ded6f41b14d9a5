package server

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantamhq/cutman/internal/store"
)

func repoNames(repos []store.Repo) []string {
	names := make([]string, len(repos))
	for i, r := range repos {
		names[i] = r.Name
	}
	return names
}

func TestListRepos(t *testing.T) {
	ts := newTestServer(t)
	erinToken, erin := ts.mintPrincipal(t, "erin")

	ts.seedRepo(t, erin.PrimaryNamespaceID, "beta", false)
	ts.seedRepo(t, erin.PrimaryNamespaceID, "alpha", true)

	t.Run("primary namespace sorted by name", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/repos", erinToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var repos []store.Repo
		_, hasMore := decodeList(t, rec, &repos)
		assert.False(t, hasMore)
		assert.Equal(t, []string{"alpha", "beta"}, repoNames(repos))
	})

	t.Run("pagination walk", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/repos?limit=1", erinToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page []store.Repo
		nextCursor, hasMore := decodeList(t, rec, &page)
		assert.True(t, hasMore)
		require.NotNil(t, nextCursor)
		assert.Equal(t, []string{"alpha"}, repoNames(page))

		rec = ts.request(t, http.MethodGet, "/api/v1/repos?limit=1&cursor="+*nextCursor, erinToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		nextCursor, hasMore = decodeList(t, rec, &page)
		assert.False(t, hasMore)
		assert.Nil(t, nextCursor)
		assert.Equal(t, []string{"beta"}, repoNames(page))
	})

	t.Run("unknown namespace header", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/repos", erinToken, nil, &requestOpts{namespace: "ghost"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("granted namespace via header", func(t *testing.T) {
		frankToken, frank := ts.mintPrincipal(t, "frank")
		ts.grantNamespace(t, frank.ID, erin.PrimaryNamespaceID, store.PermNamespaceRead, 0)

		rec := ts.do(t, http.MethodGet, "/api/v1/repos", frankToken, nil, &requestOpts{namespace: "erin"})
		require.Equal(t, http.StatusOK, rec.Code)

		var repos []store.Repo
		decodeList(t, rec, &repos)
		assert.Equal(t, []string{"alpha", "beta"}, repoNames(repos))
	})

	t.Run("repo grant only lists granted repos", func(t *testing.T) {
		graceToken, grace := ts.mintPrincipal(t, "grace")
		target, err := ts.st.GetRepo(erin.PrimaryNamespaceID, "beta")
		require.NoError(t, err)
		require.NotNil(t, target)
		ts.grantRepo(t, grace.ID, target.ID, store.PermRepoRead, 0)

		rec := ts.do(t, http.MethodGet, "/api/v1/repos", graceToken, nil, &requestOpts{namespace: "erin"})
		require.Equal(t, http.StatusOK, rec.Code)

		var repos []store.Repo
		decodeList(t, rec, &repos)
		assert.Equal(t, []string{"beta"}, repoNames(repos))
	})

	t.Run("aggregates grants without header", func(t *testing.T) {
		heidiToken, heidi := ts.mintPrincipal(t, "heidi")
		ts.seedRepo(t, heidi.PrimaryNamespaceID, "own", false)
		ts.grantNamespace(t, heidi.ID, erin.PrimaryNamespaceID, store.PermNamespaceRead, 0)

		rec := ts.request(t, http.MethodGet, "/api/v1/repos", heidiToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var repos []store.Repo
		decodeList(t, rec, &repos)
		assert.Equal(t, []string{"alpha", "beta", "own"}, repoNames(repos))
	})

	t.Run("namespace read denied hides listing", func(t *testing.T) {
		ivanToken, ivan := ts.mintPrincipal(t, "ivan")
		ts.grantNamespace(t, ivan.ID, erin.PrimaryNamespaceID, store.PermNamespaceWrite, store.PermNamespaceRead)

		rec := ts.do(t, http.MethodGet, "/api/v1/repos", ivanToken, nil, &requestOpts{namespace: "erin"})
		require.Equal(t, http.StatusOK, rec.Code)

		var repos []store.Repo
		decodeList(t, rec, &repos)
		assert.Empty(t, repos, "deny on namespace:read beats the implied allow")
	})
}

func TestCreateRepo(t *testing.T) {
	requireGit(t)

	ts := newTestServer(t)
	judyToken, judy := ts.mintPrincipal(t, "judy")

	t.Run("create initializes bare repo", func(t *testing.T) {
		body := map[string]any{"name": "widget", "public": true}
		rec := ts.request(t, http.MethodPost, "/api/v1/repos", judyToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var repo store.Repo
		decodeData(t, rec, &repo)
		assert.Equal(t, "widget", repo.Name)
		assert.True(t, repo.Public)
		assert.Equal(t, judy.PrimaryNamespaceID, repo.NamespaceID)
		assert.Equal(t, int64(0), repo.SizeBytes)

		head := filepath.Join(ts.dataDir, "repos", judy.PrimaryNamespaceID, "widget.git", "HEAD")
		data, err := os.ReadFile(head)
		require.NoError(t, err, "bare repo should exist on disk")
		assert.Equal(t, "ref: refs/heads/main\n", string(data))
	})

	t.Run("conflict", func(t *testing.T) {
		body := map[string]any{"name": "widget"}
		rec := ts.request(t, http.MethodPost, "/api/v1/repos", judyToken, body)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Repository already exists", errorMessage(t, rec))
	})

	t.Run("invalid name", func(t *testing.T) {
		body := map[string]any{"name": "Has Spaces"}
		rec := ts.request(t, http.MethodPost, "/api/v1/repos", judyToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no write permission in target namespace", func(t *testing.T) {
		ts.mintPrincipal(t, "kevin")

		body := map[string]any{"name": "intruder"}
		rec := ts.do(t, http.MethodPost, "/api/v1/repos", judyToken, body, &requestOpts{namespace: "kevin"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("granted namespace write allows create", func(t *testing.T) {
		larryToken, larry := ts.mintPrincipal(t, "larry")
		ts.grantNamespace(t, larry.ID, judy.PrimaryNamespaceID, store.PermNamespaceWrite, 0)

		body := map[string]any{"name": "shared-widget"}
		rec := ts.do(t, http.MethodPost, "/api/v1/repos", larryToken, body, &requestOpts{namespace: "judy"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})
}

func TestGetRepo(t *testing.T) {
	ts := newTestServer(t)
	erinToken, erin := ts.mintPrincipal(t, "getrepo-owner")
	repo := ts.seedRepo(t, erin.PrimaryNamespaceID, "mine", true)

	t.Run("owner", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/repos/"+repo.ID, erinToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got store.Repo
		decodeData(t, rec, &got)
		assert.Equal(t, repo.ID, got.ID)
	})

	t.Run("missing", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/repos/nope", erinToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("public repo still needs a grant on the API", func(t *testing.T) {
		strangerToken, _ := ts.mintPrincipal(t, "getrepo-stranger")
		rec := ts.request(t, http.MethodGet, "/api/v1/repos/"+repo.ID, strangerToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("write grant implies read", func(t *testing.T) {
		readerToken, reader := ts.mintPrincipal(t, "getrepo-reader")
		ts.grantRepo(t, reader.ID, repo.ID, store.PermRepoWrite, 0)

		rec := ts.request(t, http.MethodGet, "/api/v1/repos/"+repo.ID, readerToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("deny beats implied allow", func(t *testing.T) {
		deniedToken, denied := ts.mintPrincipal(t, "getrepo-denied")
		ts.grantRepo(t, denied.ID, repo.ID, store.PermRepoWrite, store.PermRepoRead)

		rec := ts.request(t, http.MethodGet, "/api/v1/repos/"+repo.ID, deniedToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestUpdateRepo(t *testing.T) {
	ts := newTestServer(t)
	monaToken, mona := ts.mintPrincipal(t, "mona")
	repo := ts.seedRepo(t, mona.PrimaryNamespaceID, "project", false)
	ts.seedRepo(t, mona.PrimaryNamespaceID, "taken", false)

	t.Run("patch metadata", func(t *testing.T) {
		body := map[string]any{"description": "a project", "public": true}
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, monaToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got store.Repo
		decodeData(t, rec, &got)
		require.NotNil(t, got.Description)
		assert.Equal(t, "a project", *got.Description)
		assert.True(t, got.Public)
		assert.Equal(t, "project", got.Name, "name untouched by metadata patch")
	})

	t.Run("rename conflict", func(t *testing.T) {
		body := map[string]any{"name": "taken"}
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, monaToken, body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rename invalid", func(t *testing.T) {
		body := map[string]any{"name": "UPPER"}
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, monaToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rename", func(t *testing.T) {
		body := map[string]any{"name": "renamed"}
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, monaToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got store.Repo
		decodeData(t, rec, &got)
		assert.Equal(t, "renamed", got.Name)

		stored, err := ts.st.GetRepo(mona.PrimaryNamespaceID, "renamed")
		require.NoError(t, err)
		assert.NotNil(t, stored)
	})

	t.Run("assign folder", func(t *testing.T) {
		now := time.Now()
		folder := &store.Folder{
			ID:          uuid.New().String(),
			NamespaceID: mona.PrimaryNamespaceID,
			Name:        "tools",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		require.NoError(t, ts.st.CreateFolder(folder))

		body := map[string]any{"folder_id": folder.ID}
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, monaToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got store.Repo
		decodeData(t, rec, &got)
		require.NotNil(t, got.FolderID)
		assert.Equal(t, folder.ID, *got.FolderID)

		// Explicit null clears the assignment.
		rec = ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, monaToken, map[string]any{"folder_id": nil})
		require.Equal(t, http.StatusOK, rec.Code)
		decodeData(t, rec, &got)
		assert.Nil(t, got.FolderID)
	})

	t.Run("folder in another namespace rejected", func(t *testing.T) {
		other := ts.seedNamespace(t, "mona-other")
		now := time.Now()
		folder := &store.Folder{
			ID:          uuid.New().String(),
			NamespaceID: other.ID,
			Name:        "elsewhere",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		require.NoError(t, ts.st.CreateFolder(folder))

		body := map[string]any{"folder_id": folder.ID}
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, monaToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("needs write permission", func(t *testing.T) {
		readerToken, reader := ts.mintPrincipal(t, "mona-reader")
		ts.grantRepo(t, reader.ID, repo.ID, store.PermRepoRead, 0)

		body := map[string]any{"description": "nope"}
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repo.ID, readerToken, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestDeleteRepo(t *testing.T) {
	ts := newTestServer(t)
	ninaToken, nina := ts.mintPrincipal(t, "nina")
	repo := ts.seedRepo(t, nina.PrimaryNamespaceID, "doomed", false)

	t.Run("write grant is not enough", func(t *testing.T) {
		writerToken, writer := ts.mintPrincipal(t, "nina-writer")
		ts.grantRepo(t, writer.ID, repo.ID, store.PermRepoWrite, 0)

		rec := ts.request(t, http.MethodDelete, "/api/v1/repos/"+repo.ID, writerToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner deletes", func(t *testing.T) {
		rec := ts.request(t, http.MethodDelete, "/api/v1/repos/"+repo.ID, ninaToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(t, http.MethodGet, "/api/v1/repos/"+repo.ID, ninaToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

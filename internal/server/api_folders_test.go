package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantamhq/cutman/internal/store"
)

func TestFolders(t *testing.T) {
	ts := newTestServer(t)
	rosaToken, _ := ts.mintPrincipal(t, "rosa")

	createFolder := func(name string, parentID *string) store.Folder {
		body := map[string]any{"name": name}
		if parentID != nil {
			body["parent_id"] = *parentID
		}
		rec := ts.request(t, http.MethodPost, "/api/v1/folders", rosaToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var folder store.Folder
		decodeData(t, rec, &folder)
		return folder
	}

	work := createFolder("work", nil)
	clients := createFolder("clients", &work.ID)

	t.Run("create nested", func(t *testing.T) {
		require.NotNil(t, clients.ParentID)
		assert.Equal(t, work.ID, *clients.ParentID)
	})

	t.Run("sibling name conflict", func(t *testing.T) {
		body := map[string]any{"name": "clients", "parent_id": work.ID}
		rec := ts.request(t, http.MethodPost, "/api/v1/folders", rosaToken, body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("same name under different parent", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/folders", rosaToken, map[string]any{"name": "clients"})
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("invalid name", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/folders", rosaToken, map[string]any{"name": "a/b"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown parent", func(t *testing.T) {
		body := map[string]any{"name": "lost", "parent_id": "missing"}
		rec := ts.request(t, http.MethodPost, "/api/v1/folders", rosaToken, body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/folders", rosaToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var folders []store.Folder
		_, hasMore := decodeList(t, rec, &folders)
		assert.False(t, hasMore)
		assert.Len(t, folders, 3)
	})

	t.Run("rename", func(t *testing.T) {
		rec := ts.request(t, http.MethodPatch, "/api/v1/folders/"+clients.ID, rosaToken, map[string]any{"name": "customers"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var folder store.Folder
		decodeData(t, rec, &folder)
		assert.Equal(t, "customers", folder.Name)
	})

	t.Run("move under own subtree rejected", func(t *testing.T) {
		rec := ts.request(t, http.MethodPatch, "/api/v1/folders/"+work.ID, rosaToken, map[string]any{"parent_id": clients.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Cannot move a folder under its own subtree", errorMessage(t, rec))
	})

	t.Run("move under itself rejected", func(t *testing.T) {
		rec := ts.request(t, http.MethodPatch, "/api/v1/folders/"+work.ID, rosaToken, map[string]any{"parent_id": work.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("move to root", func(t *testing.T) {
		rec := ts.request(t, http.MethodPatch, "/api/v1/folders/"+clients.ID, rosaToken, map[string]any{"parent_id": nil})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var folder store.Folder
		decodeData(t, rec, &folder)
		assert.Nil(t, folder.ParentID)
	})

	t.Run("delete", func(t *testing.T) {
		doomed := createFolder("doomed", nil)
		rec := ts.request(t, http.MethodDelete, "/api/v1/folders/"+doomed.ID, rosaToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(t, http.MethodGet, "/api/v1/folders/"+doomed.ID, rosaToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestFolderRepos(t *testing.T) {
	ts := newTestServer(t)
	saraToken, sara := ts.mintPrincipal(t, "sara")

	createFolder := func(name string, parentID *string) store.Folder {
		body := map[string]any{"name": name}
		if parentID != nil {
			body["parent_id"] = *parentID
		}
		rec := ts.request(t, http.MethodPost, "/api/v1/folders", saraToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var folder store.Folder
		decodeData(t, rec, &folder)
		return folder
	}

	assign := func(repoID, folderID string) {
		rec := ts.request(t, http.MethodPatch, "/api/v1/repos/"+repoID, saraToken, map[string]any{"folder_id": folderID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	root := createFolder("projects", nil)
	sub := createFolder("experiments", &root.ID)

	topRepo := ts.seedRepo(t, sara.PrimaryNamespaceID, "stable", false)
	subRepo := ts.seedRepo(t, sara.PrimaryNamespaceID, "wild", false)
	ts.seedRepo(t, sara.PrimaryNamespaceID, "loose", false)

	assign(topRepo.ID, root.ID)
	assign(subRepo.ID, sub.ID)

	t.Run("direct listing", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/folders/"+root.ID+"/repos", saraToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var repos []store.Repo
		decodeData(t, rec, &repos)
		assert.Equal(t, []string{"stable"}, repoNames(repos))
	})

	t.Run("recursive listing", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/folders/"+root.ID+"/repos?recursive=true", saraToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var repos []store.Repo
		decodeData(t, rec, &repos)
		assert.Equal(t, []string{"stable", "wild"}, repoNames(repos))
	})

	t.Run("delete folder releases repos", func(t *testing.T) {
		rec := ts.request(t, http.MethodDelete, "/api/v1/folders/"+sub.ID, saraToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		repo, err := ts.st.GetRepoByID(subRepo.ID)
		require.NoError(t, err)
		require.NotNil(t, repo)
		assert.Nil(t, repo.FolderID, "repo should drop its folder when the folder goes")
	})
}

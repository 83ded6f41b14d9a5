package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

func TestAdminNamespaces(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)

	t.Run("create", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/namespaces", adminToken, map[string]any{"name": "acme"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var ns store.Namespace
		decodeData(t, rec, &ns)
		assert.Equal(t, "acme", ns.Name)
		assert.NotEmpty(t, ns.ID)
	})

	t.Run("create with limits", func(t *testing.T) {
		body := map[string]any{"name": "limited", "repo_limit": 5, "storage_limit_bytes": 1024}
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/namespaces", adminToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var ns store.Namespace
		decodeData(t, rec, &ns)
		require.NotNil(t, ns.RepoLimit)
		assert.Equal(t, 5, *ns.RepoLimit)
		require.NotNil(t, ns.StorageLimitBytes)
		assert.Equal(t, int64(1024), *ns.StorageLimitBytes)
	})

	t.Run("create invalid name", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/namespaces", adminToken, map[string]any{"name": "-leading"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("create conflict", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/namespaces", adminToken, map[string]any{"name": "acme"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Namespace already exists", errorMessage(t, rec))
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/namespaces/acme", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var ns store.Namespace
		decodeData(t, rec, &ns)
		assert.Equal(t, "acme", ns.Name)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/namespaces/ghost", adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/namespaces", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var namespaces []store.Namespace
		_, hasMore := decodeList(t, rec, &namespaces)
		assert.False(t, hasMore)
		assert.GreaterOrEqual(t, len(namespaces), 2)
	})

	t.Run("delete empty", func(t *testing.T) {
		rec := ts.request(t, http.MethodDelete, "/api/v1/admin/namespaces/limited", adminToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(t, http.MethodGet, "/api/v1/admin/namespaces/limited", adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete with repos", func(t *testing.T) {
		ns := ts.seedNamespace(t, "hasrepos")
		ts.seedRepo(t, ns.ID, "kept", false)

		rec := ts.request(t, http.MethodDelete, "/api/v1/admin/namespaces/hasrepos", adminToken, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Cannot delete namespace with existing repos", errorMessage(t, rec))
	})

	t.Run("delete with owner", func(t *testing.T) {
		ts.mintPrincipal(t, "owned")

		rec := ts.request(t, http.MethodDelete, "/api/v1/admin/namespaces/owned", adminToken, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Cannot delete namespace with principal access", errorMessage(t, rec))
	})
}

func TestAdminPrincipals(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)

	var created store.Principal

	t.Run("create with new namespace", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/principals", adminToken, map[string]any{"namespace_name": "carol"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		decodeData(t, rec, &created)
		assert.NotEmpty(t, created.ID)

		ns, err := ts.st.GetNamespaceByName("carol")
		require.NoError(t, err)
		require.NotNil(t, ns)
		assert.Equal(t, ns.ID, created.PrimaryNamespaceID)
	})

	t.Run("default grant recorded", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/principals/"+created.ID+"/namespace-grants", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var grants []namespaceGrantAPIResponse
		decodeData(t, rec, &grants)
		require.Len(t, grants, 1)
		assert.Equal(t, created.PrimaryNamespaceID, grants[0].NamespaceID)
		assert.ElementsMatch(t, []string{"repo:admin", "namespace:write"}, grants[0].Allow)
	})

	t.Run("create on adopted namespace", func(t *testing.T) {
		ts.seedNamespace(t, "orphan")

		rec := ts.request(t, http.MethodPost, "/api/v1/admin/principals", adminToken, map[string]any{"namespace_name": "orphan"})
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("create on owned namespace", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/principals", adminToken, map[string]any{"namespace_name": "carol"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Principal already exists for this namespace", errorMessage(t, rec))
	})

	t.Run("create invalid namespace name", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/principals", adminToken, map[string]any{"namespace_name": "bad name"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/principals/"+created.ID, adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var p store.Principal
		decodeData(t, rec, &p)
		assert.Equal(t, created.ID, p.ID)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/principals/nope", adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/principals", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var principals []store.Principal
		_, hasMore := decodeList(t, rec, &principals)
		assert.False(t, hasMore)
		assert.Len(t, principals, 2)
	})

	t.Run("delete keeps namespace", func(t *testing.T) {
		rec := ts.request(t, http.MethodDelete, "/api/v1/admin/principals/"+created.ID, adminToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		p, err := ts.st.GetPrincipal(created.ID)
		require.NoError(t, err)
		assert.Nil(t, p)

		ns, err := ts.st.GetNamespaceByName("carol")
		require.NoError(t, err)
		assert.NotNil(t, ns, "primary namespace should survive principal deletion")
	})
}

func TestAdminTokens(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)
	_, principal := ts.mintPrincipal(t, "dana")

	var createdTokenID string

	t.Run("create for principal", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/principals/"+principal.ID+"/tokens", adminToken, map[string]any{})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp struct {
			Token    string             `json:"token"`
			Metadata adminTokenResponse `json:"metadata"`
		}
		decodeData(t, rec, &resp)

		lookup, secret, err := core.ParseToken(resp.Token)
		require.NoError(t, err)
		assert.Len(t, lookup, core.LookupLength)
		assert.Len(t, secret, core.SecretLength)

		assert.False(t, resp.Metadata.IsAdmin)
		require.NotNil(t, resp.Metadata.PrincipalID)
		assert.Equal(t, principal.ID, *resp.Metadata.PrincipalID)
		assert.Nil(t, resp.Metadata.ExpiresAt)
		require.Len(t, resp.Metadata.NamespaceGrants, 1)

		createdTokenID = resp.Metadata.ID
	})

	t.Run("create with expiry", func(t *testing.T) {
		body := map[string]any{"expires_in_seconds": 3600}
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/principals/"+principal.ID+"/tokens", adminToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp struct {
			Metadata adminTokenResponse `json:"metadata"`
		}
		decodeData(t, rec, &resp)
		assert.NotNil(t, resp.Metadata.ExpiresAt)
	})

	t.Run("create with negative expiry", func(t *testing.T) {
		body := map[string]any{"expires_in_seconds": -1}
		rec := ts.request(t, http.MethodPost, "/api/v1/admin/principals/"+principal.ID+"/tokens", adminToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "expires_in_seconds cannot be negative", errorMessage(t, rec))
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/tokens/"+createdTokenID, adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp adminTokenResponse
		decodeData(t, rec, &resp)
		assert.Equal(t, createdTokenID, resp.ID)
	})

	t.Run("list", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/tokens", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var tokens []adminTokenResponse
		_, hasMore := decodeList(t, rec, &tokens)
		assert.False(t, hasMore)
		// One admin token, one principal token from mintPrincipal, two minted above.
		assert.Len(t, tokens, 4)
	})

	t.Run("list principal tokens", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/admin/principals/"+principal.ID+"/tokens", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var tokens []adminTokenResponse
		decodeData(t, rec, &tokens)
		assert.Len(t, tokens, 3)
	})

	t.Run("delete", func(t *testing.T) {
		rec := ts.request(t, http.MethodDelete, "/api/v1/admin/tokens/"+createdTokenID, adminToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(t, http.MethodGet, "/api/v1/admin/tokens/"+createdTokenID, adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete current token", func(t *testing.T) {
		lookup, _, err := core.ParseToken(adminToken)
		require.NoError(t, err)
		self, err := ts.st.GetTokenByLookup(lookup)
		require.NoError(t, err)
		require.NotNil(t, self)

		rec := ts.request(t, http.MethodDelete, "/api/v1/admin/tokens/"+self.ID, adminToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Cannot delete current token", errorMessage(t, rec))
	})
}

func TestAdminNamespaceGrants(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)
	_, alice := ts.mintPrincipal(t, "grants-alice")
	other := ts.seedNamespace(t, "grants-shared")

	grantsPath := "/api/v1/admin/principals/" + alice.ID + "/namespace-grants"

	t.Run("create", func(t *testing.T) {
		body := map[string]any{
			"namespace_id": other.ID,
			"allow":        []string{"repo:write"},
			"deny":         []string{"repo:admin"},
		}
		rec := ts.request(t, http.MethodPost, grantsPath, adminToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var grants []namespaceGrantAPIResponse
		decodeData(t, rec, &grants)
		// Response includes the default primary-namespace grant too.
		require.Len(t, grants, 2)
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, grantsPath+"/"+other.ID, adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var grant namespaceGrantAPIResponse
		decodeData(t, rec, &grant)
		assert.Equal(t, other.ID, grant.NamespaceID)
		assert.Equal(t, []string{"repo:write"}, grant.Allow)
		assert.Equal(t, []string{"repo:admin"}, grant.Deny)
	})

	t.Run("upsert replaces bits", func(t *testing.T) {
		body := map[string]any{
			"namespace_id": other.ID,
			"allow":        []string{"repo:read", "namespace:read"},
		}
		rec := ts.request(t, http.MethodPost, grantsPath, adminToken, body)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.request(t, http.MethodGet, grantsPath+"/"+other.ID, adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var grant namespaceGrantAPIResponse
		decodeData(t, rec, &grant)
		assert.ElementsMatch(t, []string{"repo:read", "namespace:read"}, grant.Allow)
		assert.Empty(t, grant.Deny)
	})

	t.Run("another principal's primary rejected", func(t *testing.T) {
		_, victim := ts.mintPrincipal(t, "grants-victim")
		body := map[string]any{
			"namespace_id": victim.PrimaryNamespaceID,
			"allow":        []string{"repo:read"},
		}
		rec := ts.request(t, http.MethodPost, grantsPath, adminToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Cannot grant permissions to primary namespace owner", errorMessage(t, rec))
	})

	t.Run("unknown permission", func(t *testing.T) {
		body := map[string]any{
			"namespace_id": other.ID,
			"allow":        []string{"repo:fly"},
		}
		rec := ts.request(t, http.MethodPost, grantsPath, adminToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown namespace", func(t *testing.T) {
		body := map[string]any{
			"namespace_id": "missing",
			"allow":        []string{"repo:read"},
		}
		rec := ts.request(t, http.MethodPost, grantsPath, adminToken, body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := ts.request(t, http.MethodDelete, grantsPath+"/"+other.ID, adminToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(t, http.MethodDelete, grantsPath+"/"+other.ID, adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminRepoGrants(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)
	_, bob := ts.mintPrincipal(t, "grants-bob")
	other := ts.seedNamespace(t, "grants-elsewhere")
	repo := ts.seedRepo(t, other.ID, "target", false)

	grantsPath := "/api/v1/admin/principals/" + bob.ID + "/repo-grants"

	t.Run("create", func(t *testing.T) {
		body := map[string]any{
			"repo_id": repo.ID,
			"allow":   []string{"repo:read"},
		}
		rec := ts.request(t, http.MethodPost, grantsPath, adminToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var grants []repoGrantAPIResponse
		decodeData(t, rec, &grants)
		require.Len(t, grants, 1)
		assert.Equal(t, repo.ID, grants[0].RepoID)
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, grantsPath+"/"+repo.ID, adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var grant repoGrantAPIResponse
		decodeData(t, rec, &grant)
		assert.Equal(t, []string{"repo:read"}, grant.Allow)
	})

	t.Run("unknown repo", func(t *testing.T) {
		body := map[string]any{
			"repo_id": "missing",
			"allow":   []string{"repo:read"},
		}
		rec := ts.request(t, http.MethodPost, grantsPath, adminToken, body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := ts.request(t, http.MethodDelete, grantsPath+"/"+repo.ID, adminToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(t, http.MethodDelete, grantsPath+"/"+repo.ID, adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantamhq/cutman/internal/lfs"
	"github.com/bantamhq/cutman/internal/store"
)

func lfsOID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// lfsBatch posts a batch request the way git-lfs does, with the LFS media
// type on both ends.
func (ts *testServer) lfsBatch(t *testing.T, path, token, operation string, objects []lfs.ObjectSpec) (*httptest.ResponseRecorder, *lfs.BatchResponse) {
	t.Helper()

	payload, err := json.Marshal(lfs.BatchRequest{Operation: operation, Objects: objects})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path+"/objects/batch", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	req.Header.Set("Accept", "application/vnd.git-lfs+json")
	if token != "" {
		req.SetBasicAuth("x-token", token)
	}

	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		return rec, nil
	}

	var resp lfs.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "decode batch response: %s", rec.Body.String())
	return rec, &resp
}

func (ts *testServer) lfsUpload(t *testing.T, path, token, oid string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPut, path+"/objects/"+oid, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	if token != "" {
		req.SetBasicAuth("x-token", token)
	}

	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func TestLFSBatch(t *testing.T) {
	ts := newTestServer(t)
	ownerToken, owner := ts.mintPrincipal(t, "lfs-owner")
	repo := ts.seedRepo(t, owner.PrimaryNamespaceID, "assets", false)

	base := "/git/lfs-owner/assets.git/info/lfs"
	data := []byte("big binary blob")
	oid := lfsOID(data)

	t.Run("unknown repo", func(t *testing.T) {
		rec, _ := ts.lfsBatch(t, "/git/lfs-owner/ghost.git/info/lfs", ownerToken, "download", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, lfsMediaType, rec.Header().Get("Content-Type"))
	})

	t.Run("invalid operation", func(t *testing.T) {
		rec, _ := ts.lfsBatch(t, base, ownerToken, "destroy", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("upload actions for missing object", func(t *testing.T) {
		rec, resp := ts.lfsBatch(t, base, ownerToken, "upload", []lfs.ObjectSpec{{OID: oid, Size: int64(len(data))}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, lfsMediaType, rec.Header().Get("Content-Type"))
		assert.Equal(t, "basic", resp.Transfer)
		require.Len(t, resp.Objects, 1)

		obj := resp.Objects[0]
		require.Nil(t, obj.Error)
		require.Contains(t, obj.Actions, "upload")
		require.Contains(t, obj.Actions, "verify")
		assert.Equal(t, lfsActionTTL, obj.Actions["upload"].ExpiresIn)
		assert.True(t, strings.HasSuffix(obj.Actions["upload"].Href, base+"/objects/"+oid),
			"upload href should point back at this repo: %s", obj.Actions["upload"].Href)
		assert.True(t, strings.HasSuffix(obj.Actions["verify"].Href, base+"/verify"))
	})

	t.Run("download error for missing object", func(t *testing.T) {
		rec, resp := ts.lfsBatch(t, base, ownerToken, "download", []lfs.ObjectSpec{{OID: oid, Size: int64(len(data))}})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, resp.Objects, 1)
		require.NotNil(t, resp.Objects[0].Error)
		assert.Equal(t, 404, resp.Objects[0].Error.Code)
	})

	t.Run("invalid oid reported per object", func(t *testing.T) {
		rec, resp := ts.lfsBatch(t, base, ownerToken, "upload", []lfs.ObjectSpec{
			{OID: "not-an-oid", Size: 1},
			{OID: oid, Size: int64(len(data))},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, resp.Objects, 2)
		require.NotNil(t, resp.Objects[0].Error)
		assert.Equal(t, 422, resp.Objects[0].Error.Code)
		assert.Nil(t, resp.Objects[1].Error, "a bad sibling must not fail the whole batch")
	})

	t.Run("stored object needs no transfer", func(t *testing.T) {
		rec := ts.lfsUpload(t, base, ownerToken, oid, data)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		_, resp := ts.lfsBatch(t, base, ownerToken, "upload", []lfs.ObjectSpec{{OID: oid, Size: int64(len(data))}})
		require.Len(t, resp.Objects, 1)
		assert.True(t, resp.Objects[0].Authenticated)
		assert.Empty(t, resp.Objects[0].Actions)
	})

	t.Run("download action for stored object", func(t *testing.T) {
		_, resp := ts.lfsBatch(t, base, ownerToken, "download", []lfs.ObjectSpec{{OID: oid, Size: int64(len(data))}})
		require.Len(t, resp.Objects, 1)
		require.Nil(t, resp.Objects[0].Error)
		require.Contains(t, resp.Objects[0].Actions, "download")
	})

	t.Run("orphan on disk without index row gets re-upload actions", func(t *testing.T) {
		orphanData := []byte("orphaned bytes")
		orphanOID := lfsOID(orphanData)
		require.NoError(t, ts.lfsStorage.Put(context.Background(), repo.ID, orphanOID, bytes.NewReader(orphanData), int64(len(orphanData))))

		_, resp := ts.lfsBatch(t, base, ownerToken, "upload", []lfs.ObjectSpec{{OID: orphanOID, Size: int64(len(orphanData))}})
		require.Len(t, resp.Objects, 1)
		assert.False(t, resp.Objects[0].Authenticated)
		assert.Contains(t, resp.Objects[0].Actions, "upload", "disk orphan without index row counts as absent")
	})
}

func TestLFSTransfer(t *testing.T) {
	ts := newTestServer(t)
	ownerToken, owner := ts.mintPrincipal(t, "xfer-owner")
	repo := ts.seedRepo(t, owner.PrimaryNamespaceID, "media", false)

	base := "/git/xfer-owner/media.git/info/lfs"
	data := []byte("the object payload")
	oid := lfsOID(data)

	t.Run("upload stores and indexes", func(t *testing.T) {
		rec := ts.lfsUpload(t, base, ownerToken, oid, data)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		row, err := ts.st.GetLFSObject(repo.ID, oid)
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(len(data)), row.Size)
	})

	t.Run("upload with wrong hash rejected", func(t *testing.T) {
		wrongOID := strings.Repeat("0", 64)
		rec := ts.lfsUpload(t, base, ownerToken, wrongOID, data)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		row, err := ts.st.GetLFSObject(repo.ID, wrongOID)
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("upload with invalid oid rejected", func(t *testing.T) {
		rec := ts.lfsUpload(t, base, ownerToken, "junk", data)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("download returns the bytes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, base+"/objects/"+oid, nil)
		req.SetBasicAuth("x-token", ownerToken)
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, data, rec.Body.Bytes())
	})

	t.Run("download missing object", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, base+"/objects/"+lfsOID([]byte("absent")), nil)
		req.SetBasicAuth("x-token", ownerToken)
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	verify := func(oid string, size int64) *httptest.ResponseRecorder {
		payload, err := json.Marshal(lfs.VerifyRequest{OID: oid, Size: size})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, base+"/verify", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
		req.SetBasicAuth("x-token", ownerToken)
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		return rec
	}

	t.Run("verify matching size", func(t *testing.T) {
		rec := verify(oid, int64(len(data)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("verify size mismatch", func(t *testing.T) {
		rec := verify(oid, int64(len(data))+1)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("verify missing object", func(t *testing.T) {
		rec := verify(lfsOID([]byte("never uploaded")), 14)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLFSAccess(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.mintAdminToken(t)
	ownerToken, owner := ts.mintPrincipal(t, "acc-owner")

	ts.seedRepo(t, owner.PrimaryNamespaceID, "open", true)
	privateRepo := ts.seedRepo(t, owner.PrimaryNamespaceID, "closed", false)

	publicBase := "/git/acc-owner/open.git/info/lfs"
	privateBase := "/git/acc-owner/closed.git/info/lfs"

	data := []byte("shared payload")
	oid := lfsOID(data)
	require.Equal(t, http.StatusOK, ts.lfsUpload(t, publicBase, ownerToken, oid, data).Code)

	t.Run("anonymous download on public repo", func(t *testing.T) {
		rec, resp := ts.lfsBatch(t, publicBase, "", "download", []lfs.ObjectSpec{{OID: oid, Size: int64(len(data))}})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, resp.Objects, 1)
		assert.Nil(t, resp.Objects[0].Error)
	})

	t.Run("anonymous upload challenged", func(t *testing.T) {
		rec, _ := ts.lfsBatch(t, publicBase, "", "upload", []lfs.ObjectSpec{{OID: oid, Size: int64(len(data))}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Basic realm="Git LFS"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("anonymous download on private repo challenged", func(t *testing.T) {
		rec, _ := ts.lfsBatch(t, privateBase, "", "download", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Basic realm="Git LFS"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("read grant cannot upload", func(t *testing.T) {
		readerToken, reader := ts.mintPrincipal(t, "acc-reader")
		ts.grantRepo(t, reader.ID, privateRepo.ID, store.PermRepoRead, 0)

		rec, resp := ts.lfsBatch(t, privateBase, readerToken, "download", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotNil(t, resp)

		rec, _ = ts.lfsBatch(t, privateBase, readerToken, "upload", []lfs.ObjectSpec{{OID: oid, Size: int64(len(data))}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin token rejected", func(t *testing.T) {
		rec, _ := ts.lfsBatch(t, publicBase, adminToken, "download", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	nsID := s.getNamespaceIDWithPermission(w, r, principal, store.PermNamespaceRead)
	if nsID == "" {
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := parseLimit(r.URL.Query().Get("limit"), defaultPageSize)

	tags, err := s.store.ListTags(nsID, cursor, limit+1)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list tags")
		return
	}

	tags, nextCursor, hasMore := paginateSlice(tags, limit, func(t store.Tag) string { return t.Name })
	JSONList(w, tags, nextCursor, hasMore)
}

type createTagRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	nsID := s.getNamespaceIDWithPermission(w, r, principal, store.PermNamespaceWrite)
	if nsID == "" {
		return
	}

	var req createTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := core.ValidateTagName(req.Name); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Color != nil {
		if err := core.ValidateHexColor(*req.Color); err != nil {
			JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	existing, err := s.store.GetTagByName(nsID, req.Name)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check tag")
		return
	}
	if existing != nil {
		JSONError(w, http.StatusConflict, "Tag already exists")
		return
	}

	tag := &store.Tag{
		ID:          uuid.New().String(),
		NamespaceID: nsID,
		Name:        req.Name,
		Color:       req.Color,
		CreatedAt:   time.Now(),
	}

	if err := s.store.CreateTag(tag); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to create tag")
		return
	}

	JSON(w, http.StatusCreated, tag)
}

// getTagForPermission fetches the tag named by the id URL param and checks
// the given namespace permission on its namespace.
func (s *Server) getTagForPermission(w http.ResponseWriter, r *http.Request, principal *store.Principal, required store.Permission) *store.Tag {
	id := chi.URLParam(r, "id")
	tag, err := s.store.GetTag(id)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get tag")
		return nil
	}
	if tag == nil {
		JSONError(w, http.StatusNotFound, "Tag not found")
		return nil
	}

	if !s.requireNamespacePermission(w, principal, tag.NamespaceID, required) {
		return nil
	}

	return tag
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	tag := s.getTagForPermission(w, r, principal, store.PermNamespaceRead)
	if tag == nil {
		return
	}

	JSON(w, http.StatusOK, tag)
}

type updateTagRequest struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	tag := s.getTagForPermission(w, r, principal, store.PermNamespaceWrite)
	if tag == nil {
		return
	}

	var req updateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != nil {
		if err := core.ValidateTagName(*req.Name); err != nil {
			JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if *req.Name != tag.Name {
			existing, err := s.store.GetTagByName(tag.NamespaceID, *req.Name)
			if err != nil {
				JSONError(w, http.StatusInternalServerError, "Failed to check tag name")
				return
			}
			if existing != nil {
				JSONError(w, http.StatusConflict, "Tag name already exists")
				return
			}
		}
		tag.Name = *req.Name
	}
	if req.Color != nil {
		if err := core.ValidateHexColor(*req.Color); err != nil {
			JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		tag.Color = req.Color
	}

	if err := s.store.UpdateTag(tag); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update tag")
		return
	}

	JSON(w, http.StatusOK, tag)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	tag := s.getTagForPermission(w, r, principal, store.PermNamespaceAdmin)
	if tag == nil {
		return
	}

	repoCount, err := s.store.CountTagRepos(tag.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to count tag repos")
		return
	}
	if repoCount > 0 && r.URL.Query().Get("force") != "true" {
		JSONError(w, http.StatusConflict, "Tag has repos associated. Use ?force=true to delete anyway")
		return
	}

	if err := s.store.DeleteTag(tag.ID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete tag")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// validateTagsForRepo ensures every tag exists and lives in the repo's
// namespace before any assignment is written.
func (s *Server) validateTagsForRepo(w http.ResponseWriter, repo *store.Repo, tagIDs []string) bool {
	for _, tagID := range tagIDs {
		tag, err := s.store.GetTag(tagID)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to get tag")
			return false
		}
		if tag == nil {
			JSONError(w, http.StatusNotFound, fmt.Sprintf("Tag not found: %s", tagID))
			return false
		}
		if tag.NamespaceID != repo.NamespaceID {
			JSONError(w, http.StatusBadRequest, "Tag must belong to the same namespace as the repository")
			return false
		}
	}
	return true
}

func (s *Server) handleListRepoTags(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	repo := s.requireRepoAccess(w, r, principal)
	if repo == nil {
		return
	}

	tags, err := s.store.ListRepoTags(repo.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list repo tags")
		return
	}

	JSON(w, http.StatusOK, tags)
}

type repoTagsRequest struct {
	TagIDs []string `json:"tag_ids"`
}

func (s *Server) handleAddRepoTags(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	repo := s.requireRepoAccessWithPermission(w, r, principal, store.PermRepoWrite)
	if repo == nil {
		return
	}

	var req repoTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !s.validateTagsForRepo(w, repo, req.TagIDs) {
		return
	}

	for _, tagID := range req.TagIDs {
		if err := s.store.AddRepoTag(repo.ID, tagID); err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to add repo tag")
			return
		}
	}

	tags, err := s.store.ListRepoTags(repo.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list repo tags")
		return
	}

	JSON(w, http.StatusOK, tags)
}

// handleSetRepoTags replaces the repo's tag set wholesale.
func (s *Server) handleSetRepoTags(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	repo := s.requireRepoAccessWithPermission(w, r, principal, store.PermRepoWrite)
	if repo == nil {
		return
	}

	var req repoTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !s.validateTagsForRepo(w, repo, req.TagIDs) {
		return
	}

	if err := s.store.SetRepoTags(repo.ID, req.TagIDs); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to set repo tags")
		return
	}

	tags, err := s.store.ListRepoTags(repo.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list repo tags")
		return
	}

	JSON(w, http.StatusOK, tags)
}

func (s *Server) handleRemoveRepoTag(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	repo := s.requireRepoAccessWithPermission(w, r, principal, store.PermRepoWrite)
	if repo == nil {
		return
	}

	tagID := chi.URLParam(r, "tagID")
	tag, err := s.store.GetTag(tagID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to get tag")
		return
	}
	if tag == nil {
		JSONError(w, http.StatusNotFound, "Tag not found")
		return
	}

	if err := s.store.RemoveRepoTag(repo.ID, tagID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to remove repo tag")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

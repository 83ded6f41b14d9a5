package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
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

	folders, err := s.store.ListFolders(nsID, cursor, limit+1)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list folders")
		return
	}

	folders, nextCursor, hasMore := paginateSlice(folders, limit, func(f store.Folder) string { return f.Name })
	JSONList(w, folders, nextCursor, hasMore)
}

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	nsID := s.getNamespaceIDWithPermission(w, r, principal, store.PermNamespaceWrite)
	if nsID == "" {
		return
	}

	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := core.ValidateFolderName(req.Name); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ParentID != nil {
		parent, err := s.store.GetFolder(*req.ParentID)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to get parent folder")
			return
		}
		if parent == nil {
			JSONError(w, http.StatusNotFound, "Parent folder not found")
			return
		}
		if parent.NamespaceID != nsID {
			JSONError(w, http.StatusBadRequest, "Parent folder must belong to the same namespace")
			return
		}
	}

	existing, err := s.store.GetFolderByName(nsID, req.ParentID, req.Name)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to check folder")
		return
	}
	if existing != nil {
		JSONError(w, http.StatusConflict, "Folder already exists")
		return
	}

	now := time.Now()
	folder := &store.Folder{
		ID:          uuid.New().String(),
		NamespaceID: nsID,
		Name:        req.Name,
		ParentID:    req.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateFolder(folder); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to create folder")
		return
	}

	JSON(w, http.StatusCreated, folder)
}

func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	folder := s.requireFolderAccess(w, r, principal)
	if folder == nil {
		return
	}

	JSON(w, http.StatusOK, folder)
}

type updateFolderRequest struct {
	Name     *string         `json:"name,omitempty"`
	ParentID json.RawMessage `json:"parent_id,omitempty"`
}

// handleUpdateFolder renames or moves a folder. parent_id distinguishes
// absent (no change) from null (move to the root). A move that would place
// the folder inside its own subtree is rejected.
func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	folder := s.requireFolderAccessWithPermission(w, r, principal, store.PermNamespaceWrite)
	if folder == nil {
		return
	}

	var req updateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	newName := folder.Name
	if req.Name != nil {
		if err := core.ValidateFolderName(*req.Name); err != nil {
			JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		newName = *req.Name
	}

	newParent := folder.ParentID
	if len(req.ParentID) > 0 {
		if string(req.ParentID) == "null" {
			newParent = nil
		} else {
			var parentID string
			if err := json.Unmarshal(req.ParentID, &parentID); err != nil {
				JSONError(w, http.StatusBadRequest, "Invalid parent_id")
				return
			}
			parent, err := s.store.GetFolder(parentID)
			if err != nil {
				JSONError(w, http.StatusInternalServerError, "Failed to get parent folder")
				return
			}
			if parent == nil {
				JSONError(w, http.StatusNotFound, "Parent folder not found")
				return
			}
			if parent.NamespaceID != folder.NamespaceID {
				JSONError(w, http.StatusBadRequest, "Parent folder must belong to the same namespace")
				return
			}
			if parentID == folder.ID {
				JSONError(w, http.StatusBadRequest, "Cannot move a folder under its own subtree")
				return
			}
			descendant, err := s.store.IsFolderDescendant(parentID, folder.ID)
			if err != nil {
				JSONError(w, http.StatusInternalServerError, "Failed to check folder tree")
				return
			}
			if descendant {
				JSONError(w, http.StatusBadRequest, "Cannot move a folder under its own subtree")
				return
			}
			newParent = &parentID
		}
	}

	if newName != folder.Name || !sameParent(newParent, folder.ParentID) {
		existing, err := s.store.GetFolderByName(folder.NamespaceID, newParent, newName)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "Failed to check folder")
			return
		}
		if existing != nil && existing.ID != folder.ID {
			JSONError(w, http.StatusConflict, "Folder already exists")
			return
		}
	}

	folder.Name = newName
	folder.ParentID = newParent
	folder.UpdatedAt = time.Now()

	if err := s.store.UpdateFolder(folder); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update folder")
		return
	}

	JSON(w, http.StatusOK, folder)
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	folder := s.requireFolderAccessWithPermission(w, r, principal, store.PermNamespaceAdmin)
	if folder == nil {
		return
	}

	if err := s.store.DeleteFolder(folder.ID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to delete folder")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListFolderRepos lists the repos assigned to a folder. With
// ?recursive=true the whole subtree is walked.
func (s *Server) handleListFolderRepos(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(w, r)
	if principal == nil {
		return
	}

	folder := s.requireFolderAccess(w, r, principal)
	if folder == nil {
		return
	}

	repos, err := s.store.ListFolderRepos(folder.ID)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to list folder repos")
		return
	}

	if r.URL.Query().Get("recursive") == "true" {
		queue := []string{folder.ID}
		for len(queue) > 0 {
			children, err := s.store.ListChildFolders(queue[0])
			queue = queue[1:]
			if err != nil {
				JSONError(w, http.StatusInternalServerError, "Failed to walk folder tree")
				return
			}
			for _, child := range children {
				childRepos, err := s.store.ListFolderRepos(child.ID)
				if err != nil {
					JSONError(w, http.StatusInternalServerError, "Failed to list folder repos")
					return
				}
				repos = append(repos, childRepos...)
				queue = append(queue, child.ID)
			}
		}
		sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	}

	JSON(w, http.StatusOK, repos)
}

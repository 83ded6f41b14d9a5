package server

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bantamhq/cutman/internal/core"
)

// SafeRepoPath constructs the on-disk bare-repo path for a repo and validates
// that it stays under dataDir.
func SafeRepoPath(dataDir, namespaceID, repoName string) (string, error) {
	if err := core.ValidateRepoName(repoName); err != nil {
		return "", fmt.Errorf("invalid repo name: %w", err)
	}

	repoPath := filepath.Join(dataDir, "repos", namespaceID, repoName+".git")

	cleanPath := filepath.Clean(repoPath)
	expectedPrefix := filepath.Clean(filepath.Join(dataDir, "repos"))
	if !strings.HasPrefix(cleanPath, expectedPrefix+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: escapes data directory")
	}

	return cleanPath, nil
}

// SafeNamespacePath constructs the on-disk directory holding a namespace's repos.
func SafeNamespacePath(dataDir, namespaceID string) (string, error) {
	nsPath := filepath.Join(dataDir, "repos", namespaceID)

	cleanPath := filepath.Clean(nsPath)
	expectedPrefix := filepath.Clean(filepath.Join(dataDir, "repos"))
	if !strings.HasPrefix(cleanPath, expectedPrefix+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: escapes data directory")
	}

	return cleanPath, nil
}

// parseLimit parses a limit query value, clamped to 1-100.
// Returns defaultVal if empty, unparsable, or out of range.
func parseLimit(limitStr string, defaultVal int) int {
	if limitStr == "" {
		return defaultVal
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > maxPageSize {
		return defaultVal
	}
	return limit
}

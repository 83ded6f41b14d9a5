package core

import (
	"fmt"
	"strings"
)

const (
	MaxNamespaceNameLen = 64
	MaxRepoNameLen      = 100
	MaxTagNameLen       = 64
	MaxFolderNameLen    = 255
)

func isValidNameChar(r rune, allowPeriod bool) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	case r == '.':
		return allowPeriod
	default:
		return false
	}
}

func validateName(name, entity string, maxLen int, allowPeriod, forbidLeadingSpecial bool) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", entity)
	}
	if len(name) > maxLen {
		return fmt.Errorf("%s name cannot exceed %d characters", entity, maxLen)
	}
	for _, r := range name {
		if !isValidNameChar(r, allowPeriod) {
			allowed := "alphanumeric characters, hyphens, and underscores"
			if allowPeriod {
				allowed += ", and periods"
			}
			return fmt.Errorf("%s name can only contain %s", entity, allowed)
		}
	}
	if forbidLeadingSpecial && (strings.HasPrefix(name, "-") || strings.HasPrefix(name, "_")) {
		return fmt.Errorf("%s name cannot start with a hyphen or underscore", entity)
	}
	return nil
}

// ValidateNamespaceName checks a namespace name: at most 64 chars,
// alphanumeric plus hyphen and underscore, no leading special character.
func ValidateNamespaceName(name string) error {
	return validateName(name, "Namespace", MaxNamespaceNameLen, false, true)
}

// ValidateRepoName checks a repository name: at most 100 chars, lowercase
// alphanumeric plus hyphen, underscore, and period. Callers lowercase the
// name before validation.
func ValidateRepoName(name string) error {
	if name != strings.ToLower(name) {
		return fmt.Errorf("Repository name must be lowercase")
	}
	return validateName(name, "Repository", MaxRepoNameLen, true, false)
}

// ValidateTagName checks a tag name: at most 64 chars, alphanumeric plus
// hyphen and underscore.
func ValidateTagName(name string) error {
	return validateName(name, "Tag", MaxTagNameLen, false, false)
}

// ValidateFolderName checks a folder name. Folder names are display strings,
// so anything printable goes, but a name is a single tree segment: no
// slashes, no control characters, at most 255 bytes.
func ValidateFolderName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("Folder name cannot be empty")
	}
	if len(name) > MaxFolderNameLen {
		return fmt.Errorf("Folder name cannot exceed %d characters", MaxFolderNameLen)
	}
	if strings.ContainsAny(name, "/\x00\n\r") {
		return fmt.Errorf("Folder name contains invalid characters")
	}
	return nil
}

// ValidateHexColor checks a #rrggbb or #rgb hex color string.
func ValidateHexColor(color string) error {
	if !strings.HasPrefix(color, "#") {
		return fmt.Errorf("color must start with #")
	}
	hex := color[1:]
	if len(hex) != 3 && len(hex) != 6 {
		return fmt.Errorf("color must be #rgb or #rrggbb")
	}
	for _, r := range hex {
		ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !ok {
			return fmt.Errorf("color must be hexadecimal")
		}
	}
	return nil
}

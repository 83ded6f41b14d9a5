package store

import (
	"fmt"
	"strings"
)

// Permission represents a bitmask of granted permissions.
type Permission uint32

const (
	PermRepoRead       Permission = 1 << 0 // 1
	PermRepoWrite      Permission = 1 << 1 // 2
	PermRepoAdmin      Permission = 1 << 2 // 4
	PermNamespaceRead  Permission = 1 << 3 // 8
	PermNamespaceWrite Permission = 1 << 4 // 16
	PermNamespaceAdmin Permission = 1 << 5 // 32
)

// Permission string constants for API serialization.
const (
	PermStringRepoRead       = "repo:read"
	PermStringRepoWrite      = "repo:write"
	PermStringRepoAdmin      = "repo:admin"
	PermStringNamespaceRead  = "namespace:read"
	PermStringNamespaceWrite = "namespace:write"
	PermStringNamespaceAdmin = "namespace:admin"
)

// orderedPermissions fixes the serialization order of permission strings.
var orderedPermissions = []Permission{
	PermRepoRead,
	PermRepoWrite,
	PermRepoAdmin,
	PermNamespaceRead,
	PermNamespaceWrite,
	PermNamespaceAdmin,
}

var permissionStrings = map[Permission]string{
	PermRepoRead:       PermStringRepoRead,
	PermRepoWrite:      PermStringRepoWrite,
	PermRepoAdmin:      PermStringRepoAdmin,
	PermNamespaceRead:  PermStringNamespaceRead,
	PermNamespaceWrite: PermStringNamespaceWrite,
	PermNamespaceAdmin: PermStringNamespaceAdmin,
}

var stringToPermission = map[string]Permission{
	PermStringRepoRead:       PermRepoRead,
	PermStringRepoWrite:      PermRepoWrite,
	PermStringRepoAdmin:      PermRepoAdmin,
	PermStringNamespaceRead:  PermNamespaceRead,
	PermStringNamespaceWrite: PermNamespaceWrite,
	PermStringNamespaceAdmin: PermNamespaceAdmin,
}

// Has returns true if the permission bitmask contains the required permission.
func (p Permission) Has(required Permission) bool {
	return p&required == required
}

// Union combines two permission bitmasks.
func (p Permission) Union(other Permission) Permission {
	return p | other
}

// Difference removes permissions from this bitmask.
func (p Permission) Difference(other Permission) Permission {
	return p &^ other
}

// String returns a comma-separated list of permission strings.
func (p Permission) String() string {
	return strings.Join(p.ToStrings(), ", ")
}

// ToStrings returns a slice of permission strings in canonical order.
func (p Permission) ToStrings() []string {
	if p == 0 {
		return nil
	}

	var perms []string
	for _, bit := range orderedPermissions {
		if p.Has(bit) {
			perms = append(perms, permissionStrings[bit])
		}
	}
	return perms
}

// ParsePermission converts a permission string to its bitmask value.
func ParsePermission(s string) (Permission, error) {
	p, ok := stringToPermission[s]
	if !ok {
		return 0, fmt.Errorf("unknown permission: %s", s)
	}
	return p, nil
}

// ParsePermissions converts a slice of permission strings to a combined bitmask.
func ParsePermissions(strs []string) (Permission, error) {
	var result Permission
	for _, s := range strs {
		p, err := ParsePermission(s)
		if err != nil {
			return 0, err
		}
		result |= p
	}
	return result, nil
}

// ExpandImplied expands a permission bitmask to include implied permissions.
// admin implies write implies read, for both repo and namespace permissions.
// This should only be used for ALLOW permissions, never for DENY.
func ExpandImplied(p Permission) Permission {
	result := p

	if result.Has(PermRepoAdmin) {
		result |= PermRepoWrite
	}
	if result.Has(PermRepoWrite) {
		result |= PermRepoRead
	}

	if result.Has(PermNamespaceAdmin) {
		result |= PermNamespaceWrite
	}
	if result.Has(PermNamespaceWrite) {
		result |= PermNamespaceRead
	}

	return result
}

// DefaultNamespaceGrant returns the default permissions for simple token creation:
// namespace:write + repo:admin (which implies namespace:read, repo:read, repo:write).
func DefaultNamespaceGrant() Permission {
	return PermNamespaceWrite | PermRepoAdmin
}

// PermissionChecker resolves a principal's effective permissions against grants.
type PermissionChecker struct {
	store Store
}

// NewPermissionChecker creates a new permission checker.
func NewPermissionChecker(store Store) *PermissionChecker {
	return &PermissionChecker{store: store}
}

// CheckNamespacePermission checks if a principal has the required permission
// for a namespace. A principal has full access to its primary namespace
// without any grant row. Allow bits are expanded, deny bits are not.
func (pc *PermissionChecker) CheckNamespacePermission(principal *Principal, namespaceID string, required Permission) (bool, error) {
	if principal == nil {
		return false, nil
	}
	if principal.PrimaryNamespaceID == namespaceID {
		return true, nil
	}

	grant, err := pc.store.GetNamespaceGrant(principal.ID, namespaceID)
	if err != nil {
		return false, err
	}
	if grant == nil {
		return false, nil
	}

	effective := ExpandImplied(grant.AllowBits) &^ grant.DenyBits
	return effective.Has(required), nil
}

// CheckRepoPermission checks if a principal has the required permission for a
// repo. Namespace and repo grants both contribute; deny wins over implied
// allow.
func (pc *PermissionChecker) CheckRepoPermission(principal *Principal, repo *Repo, required Permission) (bool, error) {
	if principal == nil {
		return false, nil
	}
	if principal.PrimaryNamespaceID == repo.NamespaceID {
		return true, nil
	}

	var allow, deny Permission

	nsGrant, err := pc.store.GetNamespaceGrant(principal.ID, repo.NamespaceID)
	if err != nil {
		return false, err
	}
	if nsGrant != nil {
		allow |= ExpandImplied(nsGrant.AllowBits)
		deny |= nsGrant.DenyBits
	}

	repoGrant, err := pc.store.GetRepoGrant(principal.ID, repo.ID)
	if err != nil {
		return false, err
	}
	if repoGrant != nil {
		allow |= ExpandImplied(repoGrant.AllowBits)
		deny |= repoGrant.DenyBits
	}

	effective := allow &^ deny
	return effective.Has(required), nil
}

// CanAccessNamespace checks if a principal can see a namespace at all: it is
// the primary, there is a namespace grant, or there is at least one repo
// grant inside it.
func (pc *PermissionChecker) CanAccessNamespace(principal *Principal, namespaceID string) (bool, error) {
	if principal == nil {
		return false, nil
	}
	if principal.PrimaryNamespaceID == namespaceID {
		return true, nil
	}

	grant, err := pc.store.GetNamespaceGrant(principal.ID, namespaceID)
	if err != nil {
		return false, err
	}
	if grant != nil {
		return true, nil
	}

	return pc.store.HasRepoGrantsInNamespace(principal.ID, namespaceID)
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bantamhq/cutman/internal/store"
)

func newAdminPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Manage namespace and repository grants",
	}

	cmd.AddCommand(
		newAdminPermissionGrantCmd(),
		newAdminPermissionRevokeCmd(),
		newAdminPermissionRepoGrantCmd(),
		newAdminPermissionRepoRevokeCmd(),
		newAdminPermissionListCmd(),
	)

	return cmd
}

func newAdminPermissionGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant namespace permissions to a principal",
		Long:  `Grant namespace permissions to a principal. Granting again replaces the existing grant.`,
		RunE:  runAdminPermissionGrant,
	}

	cmd.Flags().String("principal", "", "principal ID (required)")
	cmd.Flags().String("namespace", "", "namespace ID (required)")
	cmd.Flags().String("allow", "", "comma-separated permissions, e.g. namespace:read,repo:write")
	cmd.Flags().String("deny", "", "comma-separated permissions to deny")

	return cmd
}

func newAdminPermissionRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a principal's namespace grant",
		RunE:  runAdminPermissionRevoke,
	}

	cmd.Flags().String("principal", "", "principal ID (required)")
	cmd.Flags().String("namespace", "", "namespace ID (required)")

	return cmd
}

func newAdminPermissionRepoGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo-grant",
		Short: "Grant repository permissions to a principal",
		RunE:  runAdminPermissionRepoGrant,
	}

	cmd.Flags().String("principal", "", "principal ID (required)")
	cmd.Flags().String("repo", "", "repository ID (required)")
	cmd.Flags().String("allow", "", "comma-separated permissions, e.g. repo:read,repo:write")
	cmd.Flags().String("deny", "", "comma-separated permissions to deny")

	return cmd
}

func newAdminPermissionRepoRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo-revoke",
		Short: "Revoke a principal's repository grant",
		RunE:  runAdminPermissionRepoRevoke,
	}

	cmd.Flags().String("principal", "", "principal ID (required)")
	cmd.Flags().String("repo", "", "repository ID (required)")

	return cmd
}

func newAdminPermissionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a principal's grants",
		RunE:  runAdminPermissionList,
	}

	cmd.Flags().String("principal", "", "principal ID (required)")

	return cmd
}

func parsePermissionFlags(cmd *cobra.Command) (store.Permission, store.Permission, error) {
	allowStr, _ := cmd.Flags().GetString("allow")
	denyStr, _ := cmd.Flags().GetString("deny")

	if allowStr == "" {
		return 0, 0, fmt.Errorf("--allow is required")
	}

	allow, err := store.ParsePermissions(splitPermissions(allowStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --allow: %w", err)
	}

	var deny store.Permission
	if denyStr != "" {
		deny, err = store.ParsePermissions(splitPermissions(denyStr))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --deny: %w", err)
		}
	}

	return allow, deny, nil
}

func splitPermissions(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// requirePrincipalArg resolves the --principal flag to a principal row.
func requirePrincipalArg(cmd *cobra.Command, ctx *adminContext) (*store.Principal, error) {
	principalID, _ := cmd.Flags().GetString("principal")
	if principalID == "" {
		return nil, fmt.Errorf("--principal is required")
	}

	principal, err := ctx.store.GetPrincipal(principalID)
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	if principal == nil {
		return nil, fmt.Errorf("principal %q not found", principalID)
	}
	return principal, nil
}

func runAdminPermissionGrant(cmd *cobra.Command, args []string) error {
	namespaceID, _ := cmd.Flags().GetString("namespace")
	if namespaceID == "" {
		return fmt.Errorf("--namespace is required")
	}

	allow, deny, err := parsePermissionFlags(cmd)
	if err != nil {
		return err
	}

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.requireInitialized(); err != nil {
		return err
	}

	principal, err := requirePrincipalArg(cmd, ctx)
	if err != nil {
		return err
	}

	ns, err := ctx.store.GetNamespace(namespaceID)
	if err != nil {
		return fmt.Errorf("get namespace: %w", err)
	}
	if ns == nil {
		return fmt.Errorf("namespace %q not found", namespaceID)
	}

	now := time.Now()
	grant := &store.NamespaceGrant{
		PrincipalID: principal.ID,
		NamespaceID: ns.ID,
		AllowBits:   allow,
		DenyBits:    deny,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := ctx.store.UpsertNamespaceGrant(grant); err != nil {
		if errors.Is(err, store.ErrPrimaryNamespaceGrant) {
			return fmt.Errorf("namespace %q is another principal's primary namespace; grant repo permissions instead", ns.Name)
		}
		return fmt.Errorf("upsert grant: %w", err)
	}

	fmt.Printf("Granted %s on namespace %q to principal %s\n",
		strings.Join(allow.ToStrings(), ", "), ns.Name, principal.ID)
	if deny != 0 {
		fmt.Printf("Denied: %s\n", strings.Join(deny.ToStrings(), ", "))
	}

	return nil
}

func runAdminPermissionRevoke(cmd *cobra.Command, args []string) error {
	namespaceID, _ := cmd.Flags().GetString("namespace")
	if namespaceID == "" {
		return fmt.Errorf("--namespace is required")
	}

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	principal, err := requirePrincipalArg(cmd, ctx)
	if err != nil {
		return err
	}

	deleted, err := ctx.store.DeleteNamespaceGrant(principal.ID, namespaceID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if !deleted {
		return fmt.Errorf("no grant found for principal %q on namespace %q", principal.ID, namespaceID)
	}

	fmt.Printf("Revoked namespace grant for principal %s\n", principal.ID)

	return nil
}

func runAdminPermissionRepoGrant(cmd *cobra.Command, args []string) error {
	repoID, _ := cmd.Flags().GetString("repo")
	if repoID == "" {
		return fmt.Errorf("--repo is required")
	}

	allow, deny, err := parsePermissionFlags(cmd)
	if err != nil {
		return err
	}

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.requireInitialized(); err != nil {
		return err
	}

	principal, err := requirePrincipalArg(cmd, ctx)
	if err != nil {
		return err
	}

	repo, err := ctx.store.GetRepoByID(repoID)
	if err != nil {
		return fmt.Errorf("get repo: %w", err)
	}
	if repo == nil {
		return fmt.Errorf("repository %q not found", repoID)
	}

	now := time.Now()
	grant := &store.RepoGrant{
		PrincipalID: principal.ID,
		RepoID:      repo.ID,
		AllowBits:   allow,
		DenyBits:    deny,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := ctx.store.UpsertRepoGrant(grant); err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}

	fmt.Printf("Granted %s on repository %q to principal %s\n",
		strings.Join(allow.ToStrings(), ", "), repo.Name, principal.ID)
	if deny != 0 {
		fmt.Printf("Denied: %s\n", strings.Join(deny.ToStrings(), ", "))
	}

	return nil
}

func runAdminPermissionRepoRevoke(cmd *cobra.Command, args []string) error {
	repoID, _ := cmd.Flags().GetString("repo")
	if repoID == "" {
		return fmt.Errorf("--repo is required")
	}

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	principal, err := requirePrincipalArg(cmd, ctx)
	if err != nil {
		return err
	}

	deleted, err := ctx.store.DeleteRepoGrant(principal.ID, repoID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if !deleted {
		return fmt.Errorf("no grant found for principal %q on repository %q", principal.ID, repoID)
	}

	fmt.Printf("Revoked repository grant for principal %s\n", principal.ID)

	return nil
}

func runAdminPermissionList(cmd *cobra.Command, args []string) error {
	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	principal, err := requirePrincipalArg(cmd, ctx)
	if err != nil {
		return err
	}

	nsGrants, err := ctx.store.ListPrincipalNamespaceGrants(principal.ID)
	if err != nil {
		return fmt.Errorf("list namespace grants: %w", err)
	}
	repoGrants, err := ctx.store.ListPrincipalRepoGrants(principal.ID)
	if err != nil {
		return fmt.Errorf("list repo grants: %w", err)
	}

	if len(nsGrants) == 0 && len(repoGrants) == 0 {
		fmt.Println("No grants found")
		return nil
	}

	for _, g := range nsGrants {
		name := g.NamespaceID
		if ns, err := ctx.store.GetNamespace(g.NamespaceID); err == nil && ns != nil {
			name = ns.Name
		}
		fmt.Println(formatGrantLine("namespace", name, g.AllowBits, g.DenyBits))
	}
	for _, g := range repoGrants {
		name := g.RepoID
		if repo, err := ctx.store.GetRepoByID(g.RepoID); err == nil && repo != nil {
			name = repo.Name
		}
		fmt.Println(formatGrantLine("repo", name, g.AllowBits, g.DenyBits))
	}

	return nil
}

func formatGrantLine(kind, name string, allow, deny store.Permission) string {
	line := fmt.Sprintf("%s %q  allow: %s", kind, name, strings.Join(allow.ToStrings(), ", "))
	if deny != 0 {
		line += "  deny: " + strings.Join(deny.ToStrings(), ", ")
	}
	return line
}

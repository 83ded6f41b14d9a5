package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/server"
	"github.com/bantamhq/cutman/internal/store"
)

func newAdminNamespaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "namespace",
		Short: "Manage namespaces",
	}

	cmd.AddCommand(
		newAdminNamespaceAddCmd(),
		newAdminNamespaceListCmd(),
		newAdminNamespaceRemoveCmd(),
	)

	return cmd
}

func newAdminNamespaceAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a namespace without an owner",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminNamespaceAdd,
	}
}

func newAdminNamespaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all namespaces",
		RunE:  runAdminNamespaceList,
	}
}

func newAdminNamespaceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an empty namespace",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminNamespaceRemove,
	}
}

func runAdminNamespaceAdd(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := core.ValidateNamespaceName(name); err != nil {
		return fmt.Errorf("invalid namespace name: %w", err)
	}

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.requireInitialized(); err != nil {
		return err
	}

	existing, err := ctx.store.GetNamespaceByName(name)
	if err != nil {
		return fmt.Errorf("check namespace: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("namespace %q already exists", name)
	}

	ns := &store.Namespace{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := ctx.store.CreateNamespace(ns); err != nil {
		return fmt.Errorf("create namespace: %w", err)
	}

	fmt.Printf("Created namespace %q\n", name)

	return nil
}

func runAdminNamespaceList(cmd *cobra.Command, args []string) error {
	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	namespaces, err := ctx.store.ListNamespaces("", 1000)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}

	if len(namespaces) == 0 {
		fmt.Println("No namespaces found")
		return nil
	}

	for _, ns := range namespaces {
		fmt.Printf("%s  %s\n", ns.ID, ns.Name)
	}

	return nil
}

func runAdminNamespaceRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	ns, err := ctx.store.GetNamespaceByName(name)
	if err != nil {
		return fmt.Errorf("get namespace: %w", err)
	}
	if ns == nil {
		return fmt.Errorf("namespace %q not found", name)
	}

	repoCount, err := ctx.store.CountNamespaceRepos(ns.ID)
	if err != nil {
		return fmt.Errorf("count repos: %w", err)
	}
	if repoCount > 0 {
		return fmt.Errorf("cannot delete namespace %q: it has %d repos", name, repoCount)
	}

	owner, err := ctx.store.GetPrincipalByPrimaryNamespace(ns.ID)
	if err != nil {
		return fmt.Errorf("check namespace owner: %w", err)
	}
	if owner != nil {
		return fmt.Errorf("cannot delete namespace %q: it is a principal's primary namespace (remove the principal first)", name)
	}

	grants, err := ctx.store.ListNamespaceGrants(ns.ID)
	if err != nil {
		return fmt.Errorf("list grants: %w", err)
	}
	if len(grants) > 0 {
		return fmt.Errorf("cannot delete namespace %q: principals still have grants on it", name)
	}

	if err := ctx.store.DeleteNamespace(ns.ID); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}

	if nsPath, err := server.SafeNamespacePath(ctx.cfg.Storage.DataDir, ns.ID); err == nil {
		if err := os.RemoveAll(nsPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove namespace directory: %v\n", err)
		}
	}

	fmt.Printf("Deleted namespace %q\n", name)

	return nil
}

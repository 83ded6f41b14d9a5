package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAdminPrincipalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage principals",
	}

	cmd.AddCommand(
		newAdminPrincipalAddCmd(),
		newAdminPrincipalListCmd(),
		newAdminPrincipalRemoveCmd(),
	)

	return cmd
}

func newAdminPrincipalAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a principal with its primary namespace and a token",
		RunE:  runAdminPrincipalAdd,
	}

	cmd.Flags().String("namespace", "", "name for the principal's primary namespace")

	return cmd
}

func newAdminPrincipalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all principals",
		RunE:  runAdminPrincipalList,
	}
}

func newAdminPrincipalRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <principal-id>",
		Short: "Delete a principal (its namespace remains)",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminPrincipalRemove,
	}
}

func runAdminPrincipalAdd(cmd *cobra.Command, args []string) error {
	namespaceName, _ := cmd.Flags().GetString("namespace")

	if namespaceName == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("--namespace is required")
		}

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Namespace name").
					Description("The principal's primary namespace").
					Value(&namespaceName),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("form input: %w", err)
		}
		if namespaceName == "" {
			return fmt.Errorf("namespace name cannot be empty")
		}
	}

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.requireInitialized(); err != nil {
		return err
	}

	rawToken, err := createPrincipalWithToken(ctx.store, namespaceName)
	if err != nil {
		return err
	}

	fmt.Printf("Created principal for namespace %q\n", namespaceName)
	fmt.Printf("Token: %s\n", rawToken)

	return nil
}

func runAdminPrincipalList(cmd *cobra.Command, args []string) error {
	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	principals, err := ctx.store.ListPrincipals("", 1000)
	if err != nil {
		return fmt.Errorf("list principals: %w", err)
	}

	if len(principals) == 0 {
		fmt.Println("No principals found")
		return nil
	}

	for _, p := range principals {
		name := "(namespace missing)"
		ns, err := ctx.store.GetNamespace(p.PrimaryNamespaceID)
		if err != nil {
			return fmt.Errorf("get namespace: %w", err)
		}
		if ns != nil {
			name = ns.Name
		}
		fmt.Printf("%s  %s\n", p.ID, name)
	}

	return nil
}

func runAdminPrincipalRemove(cmd *cobra.Command, args []string) error {
	principalID := args[0]

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	principal, err := ctx.store.GetPrincipal(principalID)
	if err != nil {
		return fmt.Errorf("get principal: %w", err)
	}
	if principal == nil {
		return fmt.Errorf("principal %q not found", principalID)
	}

	if err := ctx.store.DeletePrincipal(principal.ID); err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}

	fmt.Printf("Deleted principal %q\n", principalID)
	fmt.Println("Its primary namespace was kept. Use 'cutman admin namespace remove' to delete it.")

	return nil
}

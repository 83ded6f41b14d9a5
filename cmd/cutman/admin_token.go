package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAdminTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage tokens",
	}

	cmd.AddCommand(
		newAdminTokenCreateCmd(),
		newAdminTokenListCmd(),
		newAdminTokenRevokeCmd(),
	)

	return cmd
}

func newAdminTokenCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token",
		Long:  `Create an admin token or a principal token. Exactly one of --admin or --principal is required.`,
		RunE:  runAdminTokenCreate,
	}

	cmd.Flags().Bool("admin", false, "create an admin token")
	cmd.Flags().String("principal", "", "principal ID to bind the token to")
	cmd.Flags().Int("expires-days", 0, "days until the token expires (0 = never)")

	return cmd
}

func newAdminTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tokens",
		RunE:  runAdminTokenList,
	}
}

func newAdminTokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminTokenRevoke,
	}
}

func runAdminTokenCreate(cmd *cobra.Command, args []string) error {
	isAdmin, _ := cmd.Flags().GetBool("admin")
	principalID, _ := cmd.Flags().GetString("principal")
	expiresDays, _ := cmd.Flags().GetInt("expires-days")

	if isAdmin == (principalID != "") {
		return fmt.Errorf("exactly one of --admin or --principal is required")
	}
	if expiresDays < 0 {
		return fmt.Errorf("--expires-days cannot be negative")
	}

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.requireInitialized(); err != nil {
		return err
	}

	var boundPrincipal *string
	if principalID != "" {
		principal, err := ctx.store.GetPrincipal(principalID)
		if err != nil {
			return fmt.Errorf("get principal: %w", err)
		}
		if principal == nil {
			return fmt.Errorf("principal %q not found", principalID)
		}
		boundPrincipal = &principal.ID
	}

	var expiresAt *time.Time
	if expiresDays > 0 {
		t := time.Now().Add(time.Duration(expiresDays) * 24 * time.Hour)
		expiresAt = &t
	}

	rawToken, token, err := ctx.store.GenerateToken(isAdmin, boundPrincipal, expiresAt)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	fmt.Printf("Token ID: %s\n", token.ID)
	fmt.Printf("Token: %s\n", rawToken)
	if expiresAt != nil {
		fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC3339))
	}

	return nil
}

func runAdminTokenList(cmd *cobra.Command, args []string) error {
	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	tokens, err := ctx.store.ListTokens("", 1000)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	if len(tokens) == 0 {
		fmt.Println("No tokens found")
		return nil
	}

	for _, t := range tokens {
		kind := "principal"
		if t.IsAdmin {
			kind = "admin"
		}
		line := fmt.Sprintf("%s  %s", t.ID, kind)
		if t.PrincipalID != nil {
			line += "  " + *t.PrincipalID
		}
		if t.ExpiresAt != nil {
			line += "  expires " + t.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Println(line)
	}

	return nil
}

func runAdminTokenRevoke(cmd *cobra.Command, args []string) error {
	tokenID := args[0]

	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	token, err := ctx.store.GetTokenByID(tokenID)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	if token == nil {
		return fmt.Errorf("token %q not found", tokenID)
	}

	if err := ctx.store.DeleteToken(token.ID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	fmt.Printf("Revoked token %q\n", tokenID)

	return nil
}

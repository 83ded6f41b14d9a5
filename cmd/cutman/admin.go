package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bantamhq/cutman/internal/config"
	"github.com/bantamhq/cutman/internal/store"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Server administration commands",
		Long:  `Administrative commands operating directly on the server's data directory.`,
	}

	cmd.PersistentFlags().String("config", "", "path to server.toml")
	cmd.PersistentFlags().String("data-dir", "", "data directory (overrides config)")

	cmd.AddCommand(
		newAdminInitCmd(),
		newAdminTokenCmd(),
		newAdminPrincipalCmd(),
		newAdminNamespaceCmd(),
		newAdminPermissionCmd(),
		newAdminInfoCmd(),
	)

	return cmd
}

type adminContext struct {
	store store.Store
	cfg   *config.ServerConfig
}

func (c *adminContext) Close() error {
	return c.store.Close()
}

func openAdminContext(cmd *cobra.Command) (*adminContext, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := st.Initialize(); err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &adminContext{store: st, cfg: cfg}, nil
}

// requireInitialized refuses to run before the first admin token exists.
func (c *adminContext) requireInitialized() error {
	hasAdmin, err := c.store.HasAdminToken()
	if err != nil {
		return fmt.Errorf("check admin token: %w", err)
	}
	if !hasAdmin {
		return fmt.Errorf("server not initialized - run 'cutman admin init' first")
	}
	return nil
}

func newAdminInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the server (first-time setup)",
		RunE:  runAdminInit,
	}

	cmd.Flags().Bool("non-interactive", false, "mint the admin token without the setup wizard")

	return cmd
}

func runAdminInit(cmd *cobra.Command, args []string) error {
	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	hasAdmin, err := ctx.store.HasAdminToken()
	if err != nil {
		return fmt.Errorf("check admin token: %w", err)
	}

	if hasAdmin {
		fmt.Println("Server is already initialized.")
		fmt.Println("Run 'cutman serve' to start the server.")
		return nil
	}

	nonInteractive, _ := cmd.Flags().GetBool("non-interactive")
	if nonInteractive || !term.IsTerminal(int(os.Stdout.Fd())) {
		return bootstrapAdminToken(ctx.store, ctx.cfg)
	}

	wizard := NewSetupWizard(ctx.store, ctx.cfg)
	if _, err := wizard.Run(); err != nil {
		return fmt.Errorf("setup wizard: %w", err)
	}

	return nil
}

func newAdminInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show a summary of the server's data",
		RunE:  runAdminInfo,
	}
}

func runAdminInfo(cmd *cobra.Command, args []string) error {
	ctx, err := openAdminContext(cmd)
	if err != nil {
		return err
	}
	defer ctx.Close()

	principals, err := ctx.store.ListPrincipals("", 10000)
	if err != nil {
		return fmt.Errorf("list principals: %w", err)
	}
	namespaces, err := ctx.store.ListNamespaces("", 10000)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}
	tokens, err := ctx.store.ListTokens("", 10000)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	primaryCount := 0
	repoCount := 0
	for _, ns := range namespaces {
		owner, err := ctx.store.GetPrincipalByPrimaryNamespace(ns.ID)
		if err != nil {
			return fmt.Errorf("get namespace owner: %w", err)
		}
		if owner != nil {
			primaryCount++
		}
		count, err := ctx.store.CountNamespaceRepos(ns.ID)
		if err != nil {
			return fmt.Errorf("count repos: %w", err)
		}
		repoCount += count
	}

	fmt.Printf("Data directory: %s\n", ctx.cfg.Storage.DataDir)
	fmt.Printf("Principals:     %d\n", len(principals))
	fmt.Printf("Namespaces:     %d (%d primary, %d shared)\n",
		len(namespaces), primaryCount, len(namespaces)-primaryCount)
	fmt.Printf("Tokens:         %d\n", len(tokens))
	fmt.Printf("Repositories:   %d\n", repoCount)

	return nil
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/bantamhq/cutman/internal/config"
	"github.com/bantamhq/cutman/internal/lfs"
	"github.com/bantamhq/cutman/internal/server"
	"github.com/bantamhq/cutman/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cutman server",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "path to server.toml")
	cmd.Flags().String("host", "", "listen host (overrides config)")
	cmd.Flags().Int("port", 0, "listen port (overrides config)")
	cmd.Flags().String("data-dir", "", "data directory (overrides config)")
	cmd.Flags().Bool("log-dev", false, "use development logging")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	lfsStorage := lfs.NewLocalStorage(cfg.LFSPath())
	if err := lfsStorage.SweepTmp(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to sweep LFS tmp dirs: %v\n", err)
	}

	hasAdmin, err := st.HasAdminToken()
	if err != nil {
		return fmt.Errorf("check admin token: %w", err)
	}

	if !hasAdmin {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			wizard := NewSetupWizard(st, cfg)
			if _, err := wizard.Run(); err != nil {
				return fmt.Errorf("setup wizard: %w", err)
			}
		} else if err := bootstrapAdminToken(st, cfg); err != nil {
			return fmt.Errorf("bootstrap admin token: %w", err)
		}
	}

	logger, err := buildLogger(cmd)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	srv := server.NewServer(st, lfsStorage, cfg.Storage.DataDir, cfg.Server.PublicBaseURL, logger)

	fmt.Printf("Starting cutman server on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Data directory: %s\n", cfg.Storage.DataDir)
	fmt.Println("\nExample: git clone http://x-token:<token>@localhost:8080/git/<namespace>/myrepo.git")

	return srv.Start(cfg.Server.Host, cfg.Server.Port)
}

func buildLogger(cmd *cobra.Command) (*zap.Logger, error) {
	if dev, _ := cmd.Flags().GetBool("log-dev"); dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bootstrapAdminToken mints the first admin token non-interactively, writes
// it to the token file, and prints it once.
func bootstrapAdminToken(st store.Store, cfg *config.ServerConfig) error {
	rawToken, _, err := st.GenerateToken(true, nil, nil)
	if err != nil {
		return fmt.Errorf("generate admin token: %w", err)
	}

	tokenPath := cfg.AdminTokenPath()
	if err := os.WriteFile(tokenPath, []byte(rawToken), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save admin token to file: %v\n", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("ADMIN TOKEN GENERATED (save this, it won't be shown again):")
	fmt.Println("Saved to: " + tokenPath)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println(rawToken)
	fmt.Println(strings.Repeat("=", 60) + "\n")

	return nil
}

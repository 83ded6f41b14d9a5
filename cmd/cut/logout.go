package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bantamhq/cutman/internal/config"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved credentials",
		RunE:  runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errNotLoggedIn
	}

	serverURL := cfg.Server

	if err := config.Delete(); err != nil {
		return fmt.Errorf("remove config: %w", err)
	}

	if serverURL != "" {
		if err := unconfigureGitHelper(serverURL); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove git credential helper: %v\n", err)
		}
	}

	fmt.Printf("Logged out of %s\n", serverURL)

	return nil
}

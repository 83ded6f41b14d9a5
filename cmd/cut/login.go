package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bantamhq/cutman/internal/client"
	"github.com/bantamhq/cutman/internal/config"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [server]",
		Short: "Authenticate with a cutman server",
		Long: `Authenticate with a cutman server and save the credentials.

If no server is specified, defaults to http://localhost:8080.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, _ := config.Load()
	if cfg != nil && cfg.IsConfigured() {
		return fmt.Errorf("already logged in to %s. Run 'cut logout' first to switch servers", cfg.Server)
	}

	serverURL := "http://localhost:8080"
	if len(args) > 0 {
		serverURL = args[0]
	}

	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "http://" + serverURL
	}

	token, err := readToken()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	c := client.New(serverURL, token)

	var namespaces []client.NamespaceWithAccess
	err = runSpinner("Validating token...", "Token validated", func() error {
		var validateErr error
		namespaces, validateErr = c.ListNamespaces(context.Background())
		return validateErr
	})
	if err != nil {
		return formatLoginError(err)
	}

	if len(namespaces) == 0 {
		return fmt.Errorf("token has no namespace access")
	}

	primaryNs := namespaces[0].Name
	for _, ns := range namespaces {
		if ns.IsPrimary {
			primaryNs = ns.Name
			break
		}
	}

	newCfg := &config.ClientConfig{
		Server:           serverURL,
		Token:            token,
		DefaultNamespace: primaryNs,
	}

	if err := newCfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if err := configureGitHelper(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to configure git credential helper: %v\n", err)
	}

	fmt.Printf("Logged in to %s\n", serverURL)
	fmt.Printf("Default namespace: %s\n", primaryNs)
	if len(namespaces) > 1 {
		fmt.Printf("You have access to %d namespaces. Use 'cut namespace' to list them.\n", len(namespaces))
	}

	return nil
}

func formatLoginError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
		return errors.New("invalid or expired token")
	}

	if strings.Contains(err.Error(), "invalid header field value") {
		return errors.New("invalid token format")
	}

	return formatAPIError("authentication failed", err)
}

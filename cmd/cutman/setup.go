package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/bantamhq/cutman/internal/config"
	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(1, 2)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	tokenStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

type SetupWizard struct {
	store store.Store
	cfg   *config.ServerConfig
}

type SetupResult struct {
	AdminToken     string
	NamespaceName  string
	PrincipalToken string
}

func NewSetupWizard(st store.Store, cfg *config.ServerConfig) *SetupWizard {
	return &SetupWizard{
		store: st,
		cfg:   cfg,
	}
}

func (w *SetupWizard) Run() (*SetupResult, error) {
	w.showWelcome()

	result := &SetupResult{}

	adminToken, _, err := w.store.GenerateToken(true, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("generate admin token: %w", err)
	}
	result.AdminToken = adminToken

	tokenPath := w.cfg.AdminTokenPath()
	if err := os.WriteFile(tokenPath, []byte(adminToken), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save admin token to file: %v\n", err)
	}

	createPrincipal, err := w.promptCreatePrincipal()
	if err != nil {
		return nil, err
	}

	if createPrincipal {
		namespaceName, err := w.promptNamespace()
		if err != nil {
			return nil, err
		}

		principalToken, err := createPrincipalWithToken(w.store, namespaceName)
		if err != nil {
			return nil, err
		}

		result.NamespaceName = namespaceName
		result.PrincipalToken = principalToken
	}

	w.showResults(result)

	return result, nil
}

func (w *SetupWizard) showWelcome() {
	welcome := []string{
		titleStyle.Render("Welcome to Cutman"),
		"",
		"Let's set up your git server.",
		"",
		"This wizard will create:",
		subtleStyle.Render("  * An admin token (for server management)"),
		subtleStyle.Render("  * Optionally, a first principal with its namespace"),
	}

	fmt.Println()
	fmt.Println(boxStyle.Render(strings.Join(welcome, "\n")))
	fmt.Println()
}

func (w *SetupWizard) promptCreatePrincipal() (bool, error) {
	create := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Create a first principal?").
				Description("A principal owns a namespace and holds tokens for daily use").
				Value(&create),
		),
	)

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("form input: %w", err)
	}

	return create, nil
}

func (w *SetupWizard) promptNamespace() (string, error) {
	var namespaceName string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Namespace name").
				Description("The principal's primary namespace").
				Placeholder("default").
				Value(&namespaceName).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return core.ValidateNamespaceName(s)
				}),
		),
	)

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("form input: %w", err)
	}

	if namespaceName == "" {
		namespaceName = "default"
	}

	return namespaceName, nil
}

// createPrincipalWithToken creates a namespace, a principal owning it, the
// owner's grant, and one principal token, returning the raw token.
func createPrincipalWithToken(st store.Store, namespaceName string) (string, error) {
	if err := core.ValidateNamespaceName(namespaceName); err != nil {
		return "", fmt.Errorf("invalid namespace name: %w", err)
	}

	ns, err := st.GetNamespaceByName(namespaceName)
	if err != nil {
		return "", fmt.Errorf("check namespace: %w", err)
	}

	now := time.Now()

	if ns == nil {
		ns = &store.Namespace{
			ID:        uuid.New().String(),
			Name:      namespaceName,
			CreatedAt: now,
		}
		if err := st.CreateNamespace(ns); err != nil {
			return "", fmt.Errorf("create namespace: %w", err)
		}
	} else {
		owner, err := st.GetPrincipalByPrimaryNamespace(ns.ID)
		if err != nil {
			return "", fmt.Errorf("check namespace owner: %w", err)
		}
		if owner != nil {
			return "", fmt.Errorf("namespace %q already has a principal", namespaceName)
		}
	}

	principal := &store.Principal{
		ID:                 uuid.New().String(),
		PrimaryNamespaceID: ns.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := st.CreatePrincipal(principal); err != nil {
		return "", fmt.Errorf("create principal: %w", err)
	}

	grant := &store.NamespaceGrant{
		PrincipalID: principal.ID,
		NamespaceID: ns.ID,
		AllowBits:   store.DefaultNamespaceGrant(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.UpsertNamespaceGrant(grant); err != nil {
		return "", fmt.Errorf("create grant: %w", err)
	}

	rawToken, _, err := st.GenerateToken(false, &principal.ID, nil)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return rawToken, nil
}

func (w *SetupWizard) showResults(result *SetupResult) {
	width := 60

	fmt.Println()
	fmt.Println(strings.Repeat("=", width))
	fmt.Println(sectionStyle.Render("SETUP COMPLETE"))
	fmt.Println(strings.Repeat("=", width))
	fmt.Println()

	fmt.Printf("Admin token (saved to %s):\n", w.cfg.AdminTokenPath())
	fmt.Printf("  %s\n", tokenStyle.Render(result.AdminToken))
	fmt.Println()

	if result.PrincipalToken != "" {
		fmt.Printf("Principal token for namespace %q (for daily use):\n", result.NamespaceName)
		fmt.Printf("  %s\n", tokenStyle.Render(result.PrincipalToken))
		fmt.Println()
	}

	fmt.Println(strings.Repeat("-", width))
	fmt.Println(sectionStyle.Render("NEXT STEPS") + " - Run on your " + titleStyle.Render("LOCAL") + " machine:")
	fmt.Println(strings.Repeat("-", width))
	fmt.Println()
	fmt.Println("  cut login https://your-server.example.com")
	fmt.Println()
	if result.PrincipalToken != "" {
		fmt.Println("When prompted, paste the principal token above.")
	} else {
		fmt.Println("When prompted, paste a principal token.")
	}
	fmt.Println(strings.Repeat("=", width))
	fmt.Println()
}

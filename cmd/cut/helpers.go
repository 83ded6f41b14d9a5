package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"golang.org/x/term"

	"github.com/bantamhq/cutman/internal/client"
)

var errNotLoggedIn = errors.New("not logged in - run 'cut login <server>' first")

// formatAPIError keeps server-supplied messages readable instead of wrapping
// them in transport noise.
func formatAPIError(operation string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", operation, apiErr.Error())
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// runSpinner runs fn behind a spinner on a TTY, plainly otherwise.
func runSpinner(title, done string, fn func() error) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fn()
	}

	var actionErr error
	if err := spinner.New().Title(title).Action(func() { actionErr = fn() }).Run(); err != nil {
		return err
	}
	if actionErr != nil {
		return actionErr
	}

	if done != "" {
		fmt.Println(done)
	}
	return nil
}

// parseCredentialInput parses git credential protocol input (key=value pairs
// terminated by an empty line).
func parseCredentialInput(r io.Reader) map[string]string {
	result := make(map[string]string)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}

	return result
}

func hostMatches(serverURL, gitHost string) bool {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return false
	}

	serverHost := stripDefaultPort(parsed.Host, parsed.Scheme)
	gitHost = stripDefaultPort(gitHost, "")

	return strings.EqualFold(serverHost, gitHost)
}

func stripDefaultPort(host, scheme string) string {
	if strings.HasSuffix(host, ":80") && (scheme == "" || scheme == "http") {
		return strings.TrimSuffix(host, ":80")
	}
	if strings.HasSuffix(host, ":443") && (scheme == "" || scheme == "https") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// readToken prompts for a token with hidden input on a TTY, and reads a
// plain line otherwise so tokens can be piped in.
func readToken() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		var token string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Token").
					EchoMode(huh.EchoModePassword).
					Value(&token),
			),
		)
		if err := form.Run(); err != nil {
			return "", err
		}
		return strings.TrimSpace(token), nil
	}

	reader := bufio.NewReader(os.Stdin)
	token, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// gitHelperValue makes git shell out to `cut credential <action>`.
const gitHelperValue = "!cut credential"

func configureGitHelper(serverURL string) error {
	cmd := exec.Command("git", "config", "--global",
		"credential."+serverURL+".helper", gitHelperValue)
	return cmd.Run()
}

func unconfigureGitHelper(serverURL string) error {
	cmd := exec.Command("git", "config", "--global", "--unset",
		"credential."+serverURL+".helper")
	return cmd.Run()
}

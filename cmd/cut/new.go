package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/spf13/cobra"

	"github.com/bantamhq/cutman/internal/client"
	"github.com/bantamhq/cutman/internal/config"
)

func newNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new [[namespace/]repo-name]",
		Short: "Create a new repository",
		Long: `Create a new repository on the server and initialize it locally.

If no repo-name is specified, uses the current directory name.
If repo-name is specified, creates a new subdirectory with that name.

For existing git repositories, only adds/updates the remote.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runNew,
	}

	cmd.Flags().Bool("private", true, "create the repo as private")
	cmd.Flags().String("remote", "origin", "name of the git remote to configure")
	cmd.Flags().Bool("no-push", false, "skip pushing after adding the remote")

	return cmd
}

func runNew(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errNotLoggedIn
	}

	if !cfg.IsConfigured() {
		return errNotLoggedIn
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	namespace := cfg.DefaultNamespace

	var repoName string
	var workDir string

	if len(args) > 0 {
		var name string
		namespace, name = parseRepoArg(args[0], namespace)
		repoName = name
		workDir = filepath.Join(cwd, repoName)

		if err := os.MkdirAll(workDir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	} else {
		repoName = filepath.Base(cwd)
		workDir = cwd
	}

	private, _ := cmd.Flags().GetBool("private")
	remoteName, _ := cmd.Flags().GetString("remote")

	c := client.New(cfg.Server, cfg.Token)
	if namespace != "" {
		c = c.WithNamespace(namespace)
	}

	repo, err := c.CreateRepo(context.Background(), repoName, nil, !private)
	if err != nil {
		return formatAPIError("create repo", err)
	}

	remoteURL := fmt.Sprintf("%s/git/%s/%s.git", cfg.Server, namespace, repo.Name)

	gitDir := filepath.Join(workDir, ".git")
	if dirExists(gitDir) {
		noPush, _ := cmd.Flags().GetBool("no-push")
		return setupRemoteOnly(workDir, remoteURL, remoteName, repo.Name, cfg.Token, noPush)
	}

	return initAndPush(workDir, remoteURL, remoteName, repoName, cfg.Token)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func setupRemoteOnly(workDir, remoteURL, remoteName, repoName, token string, noPush bool) error {
	repo, err := git.PlainOpen(workDir)
	if err != nil {
		return fmt.Errorf("open git repo: %w", err)
	}

	remoteAction, err := setRemote(repo, remoteName, remoteURL)
	if err != nil {
		return err
	}

	fmt.Printf("Created repository '%s'\n", repoName)
	fmt.Printf("%s remote %q: %s\n", remoteAction, remoteName, remoteURL)

	if noPush {
		return nil
	}

	if err := pushToRemote(repo, remoteName, token); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			fmt.Println("Already up to date")
			return nil
		}
		return err
	}

	fmt.Printf("Pushed current branch to %s\n", remoteName)
	return nil
}

func setRemote(repo *git.Repository, remoteName, remoteURL string) (string, error) {
	_, err := repo.Remote(remoteName)
	if errors.Is(err, git.ErrRemoteNotFound) {
		_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: remoteName,
			URLs: []string{remoteURL},
		})
		if err != nil {
			return "", fmt.Errorf("create remote: %w", err)
		}
		return "Added", nil
	}

	if err != nil {
		return "", fmt.Errorf("check remote: %w", err)
	}

	if err := repo.DeleteRemote(remoteName); err != nil {
		return "", fmt.Errorf("delete old remote: %w", err)
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
	})
	if err != nil {
		return "", fmt.Errorf("create remote: %w", err)
	}

	return "Updated", nil
}

func pushToRemote(repo *git.Repository, remoteName, token string) error {
	err := repo.Push(&git.PushOptions{
		RemoteName: remoteName,
		Auth: &http.BasicAuth{
			Username: "x-token",
			Password: token,
		},
	})
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

func initAndPush(workDir, remoteURL, remoteName, repoName, token string) error {
	repo, err := git.PlainInit(workDir, false)
	if err != nil {
		return fmt.Errorf("git init: %w", err)
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
	})
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}

	readmePath := filepath.Join(workDir, "README.md")
	readmeContent := fmt.Sprintf("# %s\n", repoName)
	if err := os.WriteFile(readmePath, []byte(readmeContent), 0644); err != nil {
		return fmt.Errorf("write README.md: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	if _, err := worktree.Add("README.md"); err != nil {
		return fmt.Errorf("stage README.md: %w", err)
	}

	_, err = worktree.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "cut",
			Email: "cut@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := pushToRemote(repo, remoteName, token); err != nil {
		return err
	}

	fmt.Printf("Created repository '%s'\n", repoName)
	fmt.Printf("Remote: %s\n", remoteURL)
	fmt.Printf("Initialized with README.md and pushed to %s\n", remoteName)

	return nil
}

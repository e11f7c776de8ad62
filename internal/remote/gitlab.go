package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/xanzy/go-gitlab"
)

// GitLab stores sync files through the GitLab repository files API
type GitLab struct {
	client *gitlab.Client
	branch string

	mu    sync.Mutex
	login string
}

// NewGitLab creates a client for gitlab.com or a self-hosted instance
func NewGitLab(token, baseURL, branch string, timeout time.Duration) (*GitLab, error) {
	opts := []gitlab.ClientOptionFunc{gitlab.WithHTTPClient(&http.Client{Timeout: timeout})}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}
	return &GitLab{client: client, branch: branch}, nil
}

func (g *GitLab) Name() string { return "gitlab" }

func (g *GitLab) User(ctx context.Context) (User, error) {
	u, _, err := g.client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return User{}, fmt.Errorf("gitlab user: %w", err)
	}
	g.mu.Lock()
	g.login = u.Username
	g.mu.Unlock()
	return User{Login: u.Username, Name: u.Name, AvatarURL: u.AvatarURL}, nil
}

// project returns the "namespace/repo" id of a repository owned by the user
func (g *GitLab) project(ctx context.Context, repo string) (string, error) {
	g.mu.Lock()
	login := g.login
	g.mu.Unlock()
	if login == "" {
		u, err := g.User(ctx)
		if err != nil {
			return "", err
		}
		login = u.Login
	}
	return login + "/" + repo, nil
}

func (g *GitLab) RepoExists(ctx context.Context, repo string) (bool, error) {
	pid, err := g.project(ctx, repo)
	if err != nil {
		return false, err
	}
	_, resp, err := g.client.Projects.GetProject(pid, nil, gitlab.WithContext(ctx))
	if gitlabNotFound(resp) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gitlab project %s: %w", pid, err)
	}
	return true, nil
}

func (g *GitLab) EnsureRepo(ctx context.Context, repo string, private bool) error {
	exists, err := g.RepoExists(ctx, repo)
	if err != nil || exists {
		return err
	}
	visibility := gitlab.PublicVisibility
	if private {
		visibility = gitlab.PrivateVisibility
	}
	_, _, err = g.client.Projects.CreateProject(&gitlab.CreateProjectOptions{
		Name:                 gitlab.Ptr(repo),
		Visibility:           gitlab.Ptr(visibility),
		InitializeWithReadme: gitlab.Ptr(true),
		DefaultBranch:        gitlab.Ptr(g.branch),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create gitlab project %s: %w", repo, err)
	}
	return nil
}

func (g *GitLab) GetFile(ctx context.Context, repo, path string) (*File, error) {
	pid, err := g.project(ctx, repo)
	if err != nil {
		return nil, err
	}
	f, resp, err := g.client.RepositoryFiles.GetFile(pid, path, &gitlab.GetFileOptions{
		Ref: gitlab.Ptr(g.branch),
	}, gitlab.WithContext(ctx))
	if gitlabNotFound(resp) {
		return nil, fmt.Errorf("%s/%s: %w", repo, path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gitlab get %s/%s: %w", repo, path, err)
	}

	data := []byte(f.Content)
	if f.Encoding == "base64" {
		data, err = base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", repo, path, err)
		}
	}
	return &File{Path: path, SHA: f.BlobID, Content: data}, nil
}

func (g *GitLab) PutFile(ctx context.Context, repo, path string, data []byte, message string) (*File, error) {
	pid, err := g.project(ctx, repo)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	_, err = g.GetFile(ctx, repo, path)
	switch {
	case err == nil:
		_, _, err = g.client.RepositoryFiles.UpdateFile(pid, path, &gitlab.UpdateFileOptions{
			Branch:        gitlab.Ptr(g.branch),
			Encoding:      gitlab.Ptr("base64"),
			Content:       gitlab.Ptr(encoded),
			CommitMessage: gitlab.Ptr(message),
		}, gitlab.WithContext(ctx))
	case errors.Is(err, ErrNotFound):
		_, _, err = g.client.RepositoryFiles.CreateFile(pid, path, &gitlab.CreateFileOptions{
			Branch:        gitlab.Ptr(g.branch),
			Encoding:      gitlab.Ptr("base64"),
			Content:       gitlab.Ptr(encoded),
			CommitMessage: gitlab.Ptr(message),
		}, gitlab.WithContext(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("gitlab put %s/%s: %w", repo, path, err)
	}
	return &File{Path: path, Content: data}, nil
}

func (g *GitLab) DeleteFile(ctx context.Context, repo, path, message string) error {
	pid, err := g.project(ctx, repo)
	if err != nil {
		return err
	}
	resp, err := g.client.RepositoryFiles.DeleteFile(pid, path, &gitlab.DeleteFileOptions{
		Branch:        gitlab.Ptr(g.branch),
		CommitMessage: gitlab.Ptr(message),
	}, gitlab.WithContext(ctx))
	if gitlabNotFound(resp) {
		return fmt.Errorf("%s/%s: %w", repo, path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("gitlab delete %s/%s: %w", repo, path, err)
	}
	return nil
}

func gitlabNotFound(resp *gitlab.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

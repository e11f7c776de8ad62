package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
)

// GitHub stores sync files through the GitHub contents API
type GitHub struct {
	client *github.Client
	branch string

	mu    sync.Mutex
	login string
}

// NewGitHub creates a token-authenticated client. baseURL overrides the
// API root for GitHub Enterprise or tests.
func NewGitHub(token, baseURL, branch string, timeout time.Duration) (*GitHub, error) {
	client := github.NewClient(&http.Client{Timeout: timeout}).WithAuthToken(token)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{client: client, branch: branch}, nil
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) User(ctx context.Context) (User, error) {
	u, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return User{}, fmt.Errorf("github user: %w", err)
	}
	g.mu.Lock()
	g.login = u.GetLogin()
	g.mu.Unlock()
	return User{Login: u.GetLogin(), Name: u.GetName(), AvatarURL: u.GetAvatarURL()}, nil
}

// owner returns the cached login, resolving it on first use
func (g *GitHub) owner(ctx context.Context) (string, error) {
	g.mu.Lock()
	login := g.login
	g.mu.Unlock()
	if login != "" {
		return login, nil
	}
	u, err := g.User(ctx)
	if err != nil {
		return "", err
	}
	return u.Login, nil
}

func (g *GitHub) RepoExists(ctx context.Context, repo string) (bool, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return false, err
	}
	_, resp, err := g.client.Repositories.Get(ctx, owner, repo)
	if isNotFound(resp) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("github repo %s: %w", repo, err)
	}
	return true, nil
}

func (g *GitHub) EnsureRepo(ctx context.Context, repo string, private bool) error {
	exists, err := g.RepoExists(ctx, repo)
	if err != nil || exists {
		return err
	}
	_, _, err = g.client.Repositories.Create(ctx, "", &github.Repository{
		Name:     github.String(repo),
		Private:  github.Bool(private),
		AutoInit: github.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("create github repo %s: %w", repo, err)
	}
	return nil
}

func (g *GitHub) GetFile(ctx context.Context, repo, path string) (*File, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return nil, err
	}
	opts := &github.RepositoryContentGetOptions{Ref: g.branch}
	fc, _, resp, err := g.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if isNotFound(resp) {
		return nil, fmt.Errorf("%s/%s: %w", repo, path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("github get %s/%s: %w", repo, path, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("github get %s/%s: path is a directory", repo, path)
	}

	// Files over 1MB come back without inline content
	if fc.GetEncoding() == "none" {
		rc, _, err := g.client.Repositories.DownloadContents(ctx, owner, repo, path, opts)
		if err != nil {
			return nil, fmt.Errorf("github download %s/%s: %w", repo, path, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("github download %s/%s: %w", repo, path, err)
		}
		return &File{Path: path, SHA: fc.GetSHA(), Content: data}, nil
	}

	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", repo, path, err)
	}
	return &File{Path: path, SHA: fc.GetSHA(), Content: []byte(content)}, nil
}

func (g *GitHub) PutFile(ctx context.Context, repo, path string, data []byte, message string) (*File, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return nil, err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
		Branch:  github.String(g.branch),
	}

	existing, err := g.GetFile(ctx, repo, path)
	var res *github.RepositoryContentResponse
	switch {
	case err == nil:
		opts.SHA = github.String(existing.SHA)
		res, _, err = g.client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	case errors.Is(err, ErrNotFound):
		res, _, err = g.client.Repositories.CreateFile(ctx, owner, repo, path, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("github put %s/%s: %w", repo, path, err)
	}

	out := &File{Path: path, Content: data}
	if res != nil && res.Content != nil {
		out.SHA = res.Content.GetSHA()
	}
	return out, nil
}

func (g *GitHub) DeleteFile(ctx context.Context, repo, path, message string) error {
	owner, err := g.owner(ctx)
	if err != nil {
		return err
	}
	existing, err := g.GetFile(ctx, repo, path)
	if err != nil {
		return err
	}
	_, _, err = g.client.Repositories.DeleteFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(existing.SHA),
		Branch:  github.String(g.branch),
	})
	if err != nil {
		return fmt.Errorf("github delete %s/%s: %w", repo, path, err)
	}
	return nil
}

func isNotFound(resp *github.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

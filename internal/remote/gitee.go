package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const giteeAPI = "https://gitee.com/api/v5"

// Gitee talks to the Gitee v5 REST API
type Gitee struct {
	token   string
	baseURL string
	branch  string
	client  *http.Client

	mu    sync.Mutex
	login string
}

func NewGitee(token, baseURL, branch string, timeout time.Duration) *Gitee {
	if baseURL == "" {
		baseURL = giteeAPI
	}
	return &Gitee{
		token:   token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		branch:  branch,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *Gitee) Name() string { return "gitee" }

type giteeUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type giteeContent struct {
	Type     string `json:"type"`
	SHA      string `json:"sha"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type giteeCommitResult struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// do sends a request and decodes a JSON response into out. Mutating
// requests carry the token in the JSON body, the rest in the query.
func (g *Gitee) do(ctx context.Context, method, path string, query url.Values, body map[string]any, out any) (int, error) {
	if query == nil {
		query = url.Values{}
	}
	var reader io.Reader
	if body != nil {
		body["access_token"] = g.token
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		query.Set("access_token", g.token)
	}

	u := g.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("gitee API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (g *Gitee) User(ctx context.Context) (User, error) {
	var u giteeUser
	if _, err := g.do(ctx, http.MethodGet, "/user", nil, nil, &u); err != nil {
		return User{}, fmt.Errorf("gitee user: %w", err)
	}
	g.mu.Lock()
	g.login = u.Login
	g.mu.Unlock()
	return User{Login: u.Login, Name: u.Name, AvatarURL: u.AvatarURL}, nil
}

func (g *Gitee) owner(ctx context.Context) (string, error) {
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

func (g *Gitee) contentsPath(owner, repo, path string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/contents/" + escapeFilePath(path)
}

func (g *Gitee) RepoExists(ctx context.Context, repo string) (bool, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return false, err
	}
	_, err = g.do(ctx, http.MethodGet, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(repo), nil, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gitee repo %s: %w", repo, err)
	}
	return true, nil
}

func (g *Gitee) EnsureRepo(ctx context.Context, repo string, private bool) error {
	exists, err := g.RepoExists(ctx, repo)
	if err != nil || exists {
		return err
	}
	_, err = g.do(ctx, http.MethodPost, "/user/repos", nil, map[string]any{
		"name":      repo,
		"private":   private,
		"auto_init": true,
	}, nil)
	if err != nil {
		return fmt.Errorf("create gitee repo %s: %w", repo, err)
	}
	return nil
}

func (g *Gitee) GetFile(ctx context.Context, repo, path string) (*File, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return nil, err
	}
	// A missing file comes back as an empty JSON array rather than a 404
	var raw json.RawMessage
	_, err = g.do(ctx, http.MethodGet, g.contentsPath(owner, repo, path), url.Values{"ref": {g.branch}}, nil, &raw)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", repo, path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gitee get %s/%s: %w", repo, path, err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '[' {
		return nil, fmt.Errorf("%s/%s: %w", repo, path, ErrNotFound)
	}

	var c giteeContent
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", repo, path, err)
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", repo, path, err)
	}
	return &File{Path: path, SHA: c.SHA, Content: data}, nil
}

func (g *Gitee) PutFile(ctx context.Context, repo, path string, data []byte, message string) (*File, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"content": base64.StdEncoding.EncodeToString(data),
		"message": message,
		"branch":  g.branch,
	}
	method := http.MethodPost

	existing, err := g.GetFile(ctx, repo, path)
	switch {
	case err == nil:
		body["sha"] = existing.SHA
		method = http.MethodPut
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	var res giteeCommitResult
	if _, err := g.do(ctx, method, g.contentsPath(owner, repo, path), nil, body, &res); err != nil {
		return nil, fmt.Errorf("gitee put %s/%s: %w", repo, path, err)
	}
	return &File{Path: path, SHA: res.Content.SHA, Content: data}, nil
}

func (g *Gitee) DeleteFile(ctx context.Context, repo, path, message string) error {
	owner, err := g.owner(ctx)
	if err != nil {
		return err
	}
	existing, err := g.GetFile(ctx, repo, path)
	if err != nil {
		return err
	}
	query := url.Values{
		"sha":     {existing.SHA},
		"message": {message},
		"branch":  {g.branch},
	}
	if _, err := g.do(ctx, http.MethodDelete, g.contentsPath(owner, repo, path), query, nil, nil); err != nil {
		return fmt.Errorf("gitee delete %s/%s: %w", repo, path, err)
	}
	return nil
}

// escapeFilePath escapes each segment but keeps the separators
func escapeFilePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// Package remote syncs the local database with a git hosting account and
// hosts images behind the jsDelivr CDN.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pbaille/marks/internal/config"
)

// ErrNotFound is returned when a remote file or repository does not exist
var ErrNotFound = errors.New("not found")

// ErrNoToken is returned when a backend is selected without credentials
var ErrNoToken = errors.New("no access token configured")

// User is the authenticated account on a backend
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// File is a file stored in a remote repository. SHA is the revision the
// backend needs to update or delete it.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// Backend is a git hosting API the sync repository lives on. Repositories
// are named relative to the authenticated user.
type Backend interface {
	Name() string
	User(ctx context.Context) (User, error)
	RepoExists(ctx context.Context, repo string) (bool, error)
	EnsureRepo(ctx context.Context, repo string, private bool) error
	GetFile(ctx context.Context, repo, path string) (*File, error)
	// PutFile creates the file or overwrites the current revision
	PutFile(ctx context.Context, repo, path string, data []byte, message string) (*File, error)
	DeleteFile(ctx context.Context, repo, path, message string) error
}

// New builds the named backend from its config section
func New(name string, cfg config.BackendConfig, branch string, timeout time.Duration) (Backend, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrNoToken)
	}
	switch name {
	case config.BackendGitHub:
		return NewGitHub(cfg.Token, cfg.BaseURL, branch, timeout)
	case config.BackendGitee:
		return NewGitee(cfg.Token, cfg.BaseURL, branch, timeout), nil
	case config.BackendGitLab:
		return NewGitLab(cfg.Token, cfg.BaseURL, branch, timeout)
	}
	return nil, fmt.Errorf("unknown sync backend %q", name)
}

// Status is the link state shown for a backend
type Status string

const (
	StatusChecking Status = "checking"
	StatusSuccess  Status = "success"
	StatusFail     Status = "fail"
)

// Check is the outcome of probing a backend once
type Check struct {
	Backend    string    `json:"backend"`
	Status     Status    `json:"status"`
	User       *User     `json:"user,omitempty"`
	Repo       string    `json:"repo"`
	RepoExists bool      `json:"repoExists"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// CheckStatus resolves the account and looks up the sync repository once.
// There are no retries.
func CheckStatus(ctx context.Context, b Backend, repo string) Check {
	c := Check{Backend: b.Name(), Repo: repo, Status: StatusFail}

	user, err := b.User(ctx)
	if err != nil {
		c.Error = err.Error()
		c.CheckedAt = time.Now()
		return c
	}
	c.User = &user

	exists, err := b.RepoExists(ctx, repo)
	if err != nil {
		c.Error = err.Error()
		c.CheckedAt = time.Now()
		return c
	}
	c.RepoExists = exists
	c.Status = StatusSuccess
	c.CheckedAt = time.Now()
	return c
}

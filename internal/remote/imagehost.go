package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	jsDelivrCDN   = "https://cdn.jsdelivr.net/gh"
	jsDelivrPurge = "https://purge.jsdelivr.net/gh"
)

// ImageHost uploads images to a public GitHub repository and serves them
// through jsDelivr
type ImageHost struct {
	backend Backend
	repo    string
	branch  string
	client  *http.Client
	log     *zap.Logger

	// CDNBase and PurgeBase default to jsDelivr's gh endpoints
	CDNBase   string
	PurgeBase string
}

// NewImageHost wraps a GitHub backend. jsDelivr only mirrors GitHub, so
// other backends are rejected.
func NewImageHost(b Backend, repo, branch string, log *zap.Logger) (*ImageHost, error) {
	if b.Name() != "github" {
		return nil, fmt.Errorf("image hosting requires the github backend, got %s", b.Name())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageHost{
		backend:   b,
		repo:      repo,
		branch:    branch,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log,
		CDNBase:   jsDelivrCDN,
		PurgeBase: jsDelivrPurge,
	}, nil
}

// Prepare creates the public image repository when it is missing
func (h *ImageHost) Prepare(ctx context.Context) error {
	return h.backend.EnsureRepo(ctx, h.repo, false)
}

// Upload stores the image, purges any stale CDN copy and returns the CDN URL
func (h *ImageHost) Upload(ctx context.Context, name string, data []byte) (string, error) {
	user, err := h.backend.User(ctx)
	if err != nil {
		return "", err
	}
	if _, err := h.backend.PutFile(ctx, h.repo, name, data, "upload "+name); err != nil {
		return "", err
	}

	suffix := fmt.Sprintf("/%s/%s@%s/%s", user.Login, h.repo, h.branch, strings.TrimPrefix(name, "/"))
	if err := h.purge(ctx, h.PurgeBase+suffix); err != nil {
		h.log.Warn("cdn purge failed", zap.String("name", name), zap.Error(err))
	}
	return h.CDNBase + suffix, nil
}

func (h *ImageHost) purge(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("purge returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Package app is the application context: it owns the stores, the capture
// pipeline and the state caches every presentation surface works through.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pbaille/marks/internal/assets"
	"github.com/pbaille/marks/internal/capture"
	"github.com/pbaille/marks/internal/config"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/enrich"
	"github.com/pbaille/marks/internal/pipeline"
	"github.com/pbaille/marks/internal/queue"
	"github.com/pbaille/marks/internal/remote"
	"github.com/pbaille/marks/internal/store"
)

// ErrNoBackend is returned by sync calls when no backend is configured
var ErrNoBackend = errors.New("no sync backend configured")

type App struct {
	Config   *config.Config
	Store    *store.Store
	Assets   *assets.Store
	Queue    *queue.Queue
	Pipeline *pipeline.Pipeline
	Log      *zap.Logger

	Tags  *TagState
	Marks *MarkState
	Sync  *SyncState
}

// Option adjusts how an App is assembled
type Option func(*options)

type options struct {
	enricher *enrich.Enricher
	fetcher  pipeline.LinkFetcher
}

// WithEnricher replaces the enricher built from config
func WithEnricher(e *enrich.Enricher) Option {
	return func(o *options) { o.enricher = e }
}

// WithFetcher replaces the HTTP link fetcher
func WithFetcher(f pipeline.LinkFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New opens the database and asset directory under cfg.DataDir, makes
// sure the default tag exists and loads the state caches
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a, err := assets.New(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	if o.enricher == nil {
		o.enricher, err = NewEnricher(cfg.Enrich, log)
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	if o.fetcher == nil {
		o.fetcher = capture.NewFetcher(cfg.Capture.FetchTimeout, cfg.Capture.MaxFetchBytes, cfg.Capture.MaxTextChars)
	}

	q := queue.New()
	p, err := pipeline.New(pipeline.Deps{
		Store:          st,
		Assets:         a,
		Queue:          q,
		Enricher:       o.enricher,
		Fetcher:        o.fetcher,
		Logger:         log.Named("pipeline"),
		SummarizeLinks: cfg.Enrich.SummarizeLinks,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	tags := newTagState(st)
	app := &App{
		Config:   cfg,
		Store:    st,
		Assets:   a,
		Queue:    q,
		Pipeline: p,
		Log:      log,
		Tags:     tags,
		Marks:    newMarkState(st, p, q, tags),
		Sync:     newSyncState(),
	}

	if _, err := st.QuickAddTag(ctx, cfg.DefaultTag); err != nil {
		st.Close()
		return nil, fmt.Errorf("create default tag: %w", err)
	}
	if err := app.Reload(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if def, err := st.GetTagByName(ctx, cfg.DefaultTag); err == nil {
		app.Tags.SetActive(def.ID)
		if err := app.Marks.Load(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}
	return app, nil
}

// NewEnricher builds the image-to-text strategy from config. A missing
// OCR binary or model key degrades to placeholder content rather than
// failing startup.
func NewEnricher(cfg config.EnrichConfig, log *zap.Logger) (*enrich.Enricher, error) {
	var opts []enrich.Option

	if cfg.Mode == config.ModeOCR {
		ocr, err := enrich.NewTesseract(cfg.OCRBinary, cfg.OCRLanguages)
		if err != nil {
			log.Warn("ocr engine unavailable", zap.Error(err))
		} else {
			opts = append(opts, enrich.WithOCR(ocr))
		}
	}

	if cfg.TextModel != "" || cfg.VisionModel != "" {
		client, err := enrich.NewOpenAI(enrich.OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			TextModel:   cfg.TextModel,
			VisionModel: cfg.VisionModel,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			log.Warn("model client unavailable", zap.Error(err))
		} else {
			if client.HasTextModel() {
				opts = append(opts, enrich.WithTextModel(client))
			}
			if client.HasVisionModel() {
				opts = append(opts, enrich.WithVisionModel(client))
			}
		}
	}

	return enrich.New(enrich.Mode(cfg.Mode), log.Named("enrich"), opts...)
}

// Close releases the database
func (a *App) Close() error {
	return a.Store.Close()
}

// Reload refreshes tags and the current mark view from the store
func (a *App) Reload(ctx context.Context) error {
	if err := a.Tags.Load(ctx); err != nil {
		return err
	}
	return a.Marks.Load(ctx)
}

// tagOrActive resolves 0 to the active tag
func (a *App) tagOrActive(tagID int64) (int64, error) {
	if tagID != 0 {
		return tagID, nil
	}
	if active := a.Tags.Active(); active != 0 {
		return active, nil
	}
	return 0, store.ErrTagNotFound
}

func (a *App) applied(ctx context.Context, m domain.Mark, err error) (domain.Mark, error) {
	if err != nil {
		return domain.Mark{}, err
	}
	return m, a.Marks.Applied(ctx, m)
}

// CaptureText stores text under tagID, or the active tag when 0
func (a *App) CaptureText(ctx context.Context, tagID int64, text string) (domain.Mark, error) {
	tagID, err := a.tagOrActive(tagID)
	if err != nil {
		return domain.Mark{}, err
	}
	m, err := a.Pipeline.CaptureText(ctx, tagID, text)
	return a.applied(ctx, m, err)
}

func (a *App) CaptureLink(ctx context.Context, tagID int64, rawURL string) (domain.Mark, error) {
	tagID, err := a.tagOrActive(tagID)
	if err != nil {
		return domain.Mark{}, err
	}
	m, err := a.Pipeline.CaptureLink(ctx, tagID, rawURL)
	return a.applied(ctx, m, err)
}

func (a *App) CaptureFile(ctx context.Context, tagID int64, path string) (domain.Mark, error) {
	tagID, err := a.tagOrActive(tagID)
	if err != nil {
		return domain.Mark{}, err
	}
	m, err := a.Pipeline.CaptureFile(ctx, tagID, path)
	return a.applied(ctx, m, err)
}

// CaptureImages captures each file independently; saved marks are
// returned alongside the joined errors of the rest
func (a *App) CaptureImages(ctx context.Context, tagID int64, paths []string) ([]domain.Mark, error) {
	tagID, err := a.tagOrActive(tagID)
	if err != nil {
		return nil, err
	}
	marks, capErr := a.Pipeline.CaptureImages(ctx, tagID, paths)
	for _, m := range marks {
		if err := a.Marks.Applied(ctx, m); err != nil {
			return marks, err
		}
	}
	return marks, capErr
}

// CaptureClipboard stores a confirmed clipboard snapshot
func (a *App) CaptureClipboard(ctx context.Context, tagID int64, item *capture.ClipboardItem) (domain.Mark, error) {
	tagID, err := a.tagOrActive(tagID)
	if err != nil {
		return domain.Mark{}, err
	}
	m, err := a.Pipeline.CaptureClipboard(ctx, tagID, item)
	return a.applied(ctx, m, err)
}

// CaptureScreenshot crops frame files into a scan mark
func (a *App) CaptureScreenshot(ctx context.Context, tagID int64, frames []string, frame int, rect image.Rectangle) (domain.Mark, error) {
	tagID, err := a.tagOrActive(tagID)
	if err != nil {
		return domain.Mark{}, err
	}
	shot, err := capture.TakeScreenshot(capture.FileFrames(frames))
	if err != nil {
		return domain.Mark{}, err
	}
	if err := shot.Select(frame); err != nil {
		return domain.Mark{}, err
	}
	m, err := a.Pipeline.CaptureScreenshot(ctx, tagID, shot, rect)
	return a.applied(ctx, m, err)
}

// Clipboard returns a clipboard adapter writing temp images under the data dir
func (a *App) Clipboard() (*capture.Clipboard, error) {
	reader, err := capture.SystemClipboard()
	if err != nil {
		return nil, err
	}
	tmp := filepath.Join(a.Config.DataDir, "tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return capture.NewClipboard(reader, a.Config.Capture.MaxClipboardLen, tmp), nil
}

// Backend builds the named backend, or the configured default when name is empty
func (a *App) Backend(name string) (remote.Backend, error) {
	if name == "" {
		name = a.Config.Sync.Backend
	}
	if name == "" {
		return nil, ErrNoBackend
	}
	cfg, ok := a.Config.Backend(name)
	if !ok {
		return nil, fmt.Errorf("unknown sync backend %q", name)
	}
	return remote.New(name, cfg, a.Config.Sync.Branch, a.Config.Sync.Timeout)
}

// EnableImageHost routes image captures through the GitHub image repository
func (a *App) EnableImageHost(ctx context.Context) error {
	b, err := a.Backend(config.BackendGitHub)
	if err != nil {
		return err
	}
	host, err := remote.NewImageHost(b, a.Config.Sync.ImageRepo, a.Config.Sync.Branch, a.Log.Named("imagehost"))
	if err != nil {
		return err
	}
	if err := host.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare image repo: %w", err)
	}
	a.Pipeline.SetImageHost(host)
	return nil
}

// CheckSync probes a backend and records its status
func (a *App) CheckSync(ctx context.Context, name string) (remote.Check, error) {
	b, err := a.Backend(name)
	if err != nil {
		return remote.Check{}, err
	}
	return a.Sync.Check(ctx, b, a.Config.Sync.Repo), nil
}

// Upload pushes tags, marks and chats to a backend
func (a *App) Upload(ctx context.Context, name string) (remote.Report, error) {
	b, err := a.Backend(name)
	if err != nil {
		return remote.Report{}, err
	}
	return a.upload(ctx, b), nil
}

func (a *App) upload(ctx context.Context, b remote.Backend) remote.Report {
	r := remote.NewSyncer(a.Store, b, a.Config.Sync.Repo, a.Log.Named("sync")).Upload(ctx)
	a.Sync.record(r)
	return r
}

// Download replaces local data with the backend copy and reloads the caches
func (a *App) Download(ctx context.Context, name string) (remote.Report, error) {
	b, err := a.Backend(name)
	if err != nil {
		return remote.Report{}, err
	}
	return a.download(ctx, b)
}

func (a *App) download(ctx context.Context, b remote.Backend) (remote.Report, error) {
	r := remote.NewSyncer(a.Store, b, a.Config.Sync.Repo, a.Log.Named("sync")).Download(ctx)
	a.Sync.record(r)
	if !r.OK() {
		return r, nil
	}
	return r, a.Reload(ctx)
}

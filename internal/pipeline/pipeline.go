// Package pipeline turns captured input into persisted marks, reporting
// progress through the in-memory queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/marks/internal/assets"
	"github.com/pbaille/marks/internal/capture"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/enrich"
	"github.com/pbaille/marks/internal/queue"
	"github.com/pbaille/marks/internal/store"
)

// LinkFetcher retrieves a page for a link mark
type LinkFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*capture.Page, error)
}

// ImageHost uploads an image and returns its public URL
type ImageHost interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Deps are the components a Pipeline drives. Host may be nil.
type Deps struct {
	Store    *store.Store
	Assets   *assets.Store
	Queue    *queue.Queue
	Enricher *enrich.Enricher
	Fetcher  LinkFetcher
	Host     ImageHost
	Logger   *zap.Logger

	// SummarizeLinks replaces link and file descriptions with a model summary
	SummarizeLinks bool
	// Parallel caps concurrent captures in CaptureImages
	Parallel int
}

type Pipeline struct {
	store    *store.Store
	assets   *assets.Store
	queue    *queue.Queue
	enricher *enrich.Enricher
	fetcher  LinkFetcher
	log      *zap.Logger

	summarize bool
	parallel  int

	mu   sync.RWMutex
	host ImageHost
}

func New(d Deps) (*Pipeline, error) {
	if d.Store == nil || d.Assets == nil || d.Queue == nil || d.Enricher == nil {
		return nil, errors.New("pipeline requires store, assets, queue and enricher")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Fetcher == nil {
		d.Fetcher = capture.NewFetcher(0, 0, capture.MaxTextChars)
	}
	if d.Parallel <= 0 {
		d.Parallel = 4
	}
	return &Pipeline{
		store:     d.Store,
		assets:    d.Assets,
		queue:     d.Queue,
		enricher:  d.Enricher,
		fetcher:   d.Fetcher,
		host:      d.Host,
		log:       d.Logger,
		summarize: d.SummarizeLinks,
		parallel:  d.Parallel,
	}, nil
}

// SetImageHost enables or, with nil, disables remote image upload
func (p *Pipeline) SetImageHost(h ImageHost) {
	p.mu.Lock()
	p.host = h
	p.mu.Unlock()
}

func (p *Pipeline) imageHost() ImageHost {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.host
}

// track registers a queue entry and returns its progress callback and
// the function that removes it
func (p *Pipeline) track(t domain.MarkType) (func(string), func()) {
	item := p.queue.Add(t)
	progress := func(s string) { p.queue.Update(item.QueueID, s) }
	done := func() { p.queue.Remove(item.QueueID) }
	return progress, done
}

// CaptureText stores a plain text mark
func (p *Pipeline) CaptureText(ctx context.Context, tagID int64, text string) (domain.Mark, error) {
	if text == "" {
		return domain.Mark{}, errors.New("empty text")
	}
	progress, done := p.track(domain.MarkText)
	defer done()

	progress(domain.ProgressSave)
	m, err := p.store.InsertMark(ctx, store.NewMark{
		TagID:   tagID,
		Type:    domain.MarkText,
		Content: text,
		Desc:    text,
	})
	if err != nil {
		p.log.Error("save text mark failed", zap.Int64("tag", tagID), zap.Error(err))
		return domain.Mark{}, err
	}
	p.log.Info("captured text", zap.Int64("mark", m.ID))
	return m, nil
}

// CaptureLink fetches a page and stores it as a link mark
func (p *Pipeline) CaptureLink(ctx context.Context, tagID int64, rawURL string) (domain.Mark, error) {
	progress, done := p.track(domain.MarkLink)
	defer done()

	progress(domain.ProgressFetch)
	page, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		p.log.Error("fetch link failed", zap.String("url", rawURL), zap.Error(err))
		return domain.Mark{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	desc := page.Desc()
	if p.summarize {
		progress(domain.ProgressAIAnalysis)
		desc = p.enricher.DescribeText(ctx, page.Content(), desc)
	}

	progress(domain.ProgressSave)
	m, err := p.store.InsertMark(ctx, store.NewMark{
		TagID:   tagID,
		Type:    domain.MarkLink,
		Content: page.Content(),
		Desc:    desc,
		URL:     page.URL,
	})
	if err != nil {
		p.log.Error("save link mark failed", zap.String("url", page.URL), zap.Error(err))
		return domain.Mark{}, err
	}
	p.log.Info("captured link", zap.Int64("mark", m.ID), zap.String("url", page.URL))
	return m, nil
}

// CaptureFile reads an allow-listed text file into a file mark. Image
// files are routed to the image flow.
func (p *Pipeline) CaptureFile(ctx context.Context, tagID int64, filePath string) (domain.Mark, error) {
	if capture.IsImageFile(filePath) {
		return p.CaptureImageFile(ctx, tagID, domain.MarkImage, filePath)
	}

	progress, done := p.track(domain.MarkFile)
	defer done()

	progress(domain.ProgressReadFile)
	f, err := capture.ReadTextFile(filePath)
	if err != nil {
		p.log.Warn("skipping file", zap.String("path", filePath), zap.Error(err))
		return domain.Mark{}, err
	}

	desc := f.Name
	if p.summarize {
		progress(domain.ProgressAIAnalysis)
		desc = p.enricher.DescribeText(ctx, f.Content, desc)
	}

	progress(domain.ProgressSave)
	m, err := p.store.InsertMark(ctx, store.NewMark{
		TagID:   tagID,
		Type:    domain.MarkFile,
		Content: f.Content,
		Desc:    desc,
		URL:     f.Path,
	})
	if err != nil {
		p.log.Error("save file mark failed", zap.String("path", filePath), zap.Error(err))
		return domain.Mark{}, err
	}
	p.log.Info("captured file", zap.Int64("mark", m.ID), zap.String("path", filePath))
	return m, nil
}

// CaptureImage runs the image flow: cache the bytes as an asset, extract
// text, optionally upload, then save the row. t is image or scan.
func (p *Pipeline) CaptureImage(ctx context.Context, tagID int64, t domain.MarkType, ext string, data []byte) (domain.Mark, error) {
	kind, ok := assets.KindFor(t)
	if !ok {
		return domain.Mark{}, fmt.Errorf("mark type %q has no image asset", t)
	}
	if len(data) == 0 {
		return domain.Mark{}, errors.New("empty image")
	}

	progress, done := p.track(t)
	defer done()

	progress(domain.ProgressCacheImage)
	name, err := p.assets.Save(kind, ext, data)
	if err != nil {
		p.log.Error("cache image failed", zap.Error(err))
		return domain.Mark{}, err
	}
	local := p.assets.Path(kind, name)

	out := p.enricher.EnrichImage(ctx, local, progress)
	if out.Err != nil {
		p.log.Warn("image enrichment degraded", zap.String("path", local), zap.Error(out.Err))
	}

	url := name
	if host := p.imageHost(); host != nil {
		progress(domain.ProgressUploadImage)
		remote, err := host.Upload(ctx, name, data)
		if err != nil {
			p.log.Warn("image upload failed, keeping local file", zap.String("name", name), zap.Error(err))
		} else {
			url = remote
		}
	}

	progress(domain.ProgressSave)
	m, err := p.store.InsertMark(ctx, store.NewMark{
		TagID:   tagID,
		Type:    t,
		Content: out.Content,
		Desc:    out.Desc,
		URL:     url,
	})
	if err != nil {
		p.log.Error("save image mark failed", zap.String("path", local), zap.Error(err))
		if rmErr := p.assets.Remove(kind, name); rmErr != nil {
			p.log.Error("remove orphan asset failed", zap.String("path", local), zap.Error(rmErr))
		}
		return domain.Mark{}, err
	}
	p.log.Info("captured image", zap.Int64("mark", m.ID), zap.String("type", string(t)), zap.String("url", url))
	return m, nil
}

// CaptureImageFile reads an image from disk and runs the image flow
func (p *Pipeline) CaptureImageFile(ctx context.Context, tagID int64, t domain.MarkType, filePath string) (domain.Mark, error) {
	img, err := capture.ReadImage(filePath)
	if err != nil {
		p.log.Warn("skipping image", zap.String("path", filePath), zap.Error(err))
		return domain.Mark{}, err
	}
	return p.CaptureImage(ctx, tagID, t, img.Ext, img.Data)
}

// CaptureImages queues every path as an independent image capture. Marks
// that were saved are returned in input order even when others fail.
func (p *Pipeline) CaptureImages(ctx context.Context, tagID int64, paths []string) ([]domain.Mark, error) {
	results := make([]*domain.Mark, len(paths))
	errs := make([]error, len(paths))

	var g errgroup.Group
	g.SetLimit(p.parallel)
	for i, fp := range paths {
		g.Go(func() error {
			m, err := p.CaptureImageFile(ctx, tagID, domain.MarkImage, fp)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", filepath.Base(fp), err)
				return nil
			}
			results[i] = &m
			return nil
		})
	}
	g.Wait()

	var marks []domain.Mark
	for _, m := range results {
		if m != nil {
			marks = append(marks, *m)
		}
	}
	return marks, errors.Join(errs...)
}

// CaptureClipboard stores a confirmed clipboard snapshot and removes its
// temp image file
func (p *Pipeline) CaptureClipboard(ctx context.Context, tagID int64, item *capture.ClipboardItem) (domain.Mark, error) {
	if item == nil {
		return domain.Mark{}, capture.ErrNothingPending
	}
	if !item.IsImage() {
		return p.CaptureText(ctx, tagID, item.Text)
	}
	defer os.Remove(item.ImagePath)

	data, err := os.ReadFile(item.ImagePath)
	if err != nil {
		return domain.Mark{}, fmt.Errorf("read clipboard image: %w", err)
	}
	return p.CaptureImage(ctx, tagID, domain.MarkImage, ".png", data)
}

// CaptureScreenshot crops the selected frame and stores it as a scan mark
func (p *Pipeline) CaptureScreenshot(ctx context.Context, tagID int64, shot *capture.Screenshot, rect image.Rectangle) (domain.Mark, error) {
	data, err := shot.Crop(rect)
	if err != nil {
		p.log.Error("crop screenshot failed", zap.Error(err))
		return domain.Mark{}, err
	}
	return p.CaptureImage(ctx, tagID, domain.MarkScan, ".png", data)
}

// Asset is where an image mark's file can be read from
type Asset struct {
	Path   string
	Remote bool
}

// ResolveAsset locates the file behind an image or scan mark
func (p *Pipeline) ResolveAsset(m domain.Mark) (Asset, error) {
	kind, ok := assets.KindFor(m.Type)
	if !ok {
		return Asset{}, fmt.Errorf("mark %d of type %q has no asset", m.ID, m.Type)
	}
	if m.URL == "" {
		return Asset{}, fmt.Errorf("mark %d has no asset url", m.ID)
	}
	if assets.IsRemote(m.URL) {
		return Asset{Path: m.URL, Remote: true}, nil
	}
	if !p.assets.Exists(kind, m.URL) {
		return Asset{}, fmt.Errorf("asset %s: %w", p.assets.Path(kind, m.URL), os.ErrNotExist)
	}
	return Asset{Path: p.assets.Path(kind, m.URL)}, nil
}

// DeleteForever removes a mark row, then its local asset. A failed file
// removal is logged; the row is gone either way.
func (p *Pipeline) DeleteForever(ctx context.Context, id int64) (domain.Mark, error) {
	m, err := p.store.DelMarkForever(ctx, id)
	if err != nil {
		return domain.Mark{}, err
	}
	p.removeAsset(m)
	return m, nil
}

// ClearTrash permanently removes every trashed mark and their assets
func (p *Pipeline) ClearTrash(ctx context.Context) ([]domain.Mark, error) {
	removed, err := p.store.ClearTrash(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range removed {
		p.removeAsset(m)
	}
	return removed, nil
}

// removeAsset deletes the local copy of an image mark. Uploaded images
// keep a local cache under the same base name.
func (p *Pipeline) removeAsset(m domain.Mark) {
	kind, ok := assets.KindFor(m.Type)
	if !ok || m.URL == "" {
		return
	}
	name := m.URL
	if assets.IsRemote(name) {
		name = path.Base(name)
	}
	if err := p.assets.Remove(kind, name); err != nil {
		p.log.Error("remove asset failed",
			zap.Int64("mark", m.ID),
			zap.String("path", p.assets.Path(kind, name)),
			zap.Error(err))
	}
}

package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/pbaille/marks/internal/assets"
	"github.com/pbaille/marks/internal/capture"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/enrich"
	"github.com/pbaille/marks/internal/queue"
	"github.com/pbaille/marks/internal/store"
)

type fakeOCR struct {
	text string
	err  error
}

func (f fakeOCR) Recognize(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return f.text, f.err
}

type fakeHost struct {
	uploaded []string
	err      error
}

func (h *fakeHost) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	h.uploaded = append(h.uploaded, name)
	return "https://cdn.jsdelivr.net/gh/octo/marks-image-sync@main/" + name, nil
}

// staticFetcher serves one HTML document for any URL
type staticFetcher struct {
	html string
}

func (f staticFetcher) Fetch(ctx context.Context, rawURL string) (*capture.Page, error) {
	u, err := capture.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	page, err := capture.ParsePage(strings.NewReader(f.html), capture.MaxTextChars)
	if err != nil {
		return nil, err
	}
	page.URL = u
	return page, nil
}

type testEnv struct {
	p      *Pipeline
	store  *store.Store
	assets *assets.Store
	queue  *queue.Queue
	tag    domain.Tag
}

func setupPipeline(t *testing.T, opts ...enrich.Option) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	a, err := assets.New(t.TempDir())
	if err != nil {
		t.Fatalf("assets.New failed: %v", err)
	}

	if len(opts) == 0 {
		opts = []enrich.Option{enrich.WithOCR(fakeOCR{text: "recognized text"})}
	}
	e, err := enrich.New(enrich.ModeOCR, nil, opts...)
	if err != nil {
		t.Fatalf("enrich.New failed: %v", err)
	}

	q := queue.New()
	p, err := New(Deps{
		Store:    s,
		Assets:   a,
		Queue:    q,
		Enricher: e,
		Fetcher: staticFetcher{html: `<html><head><title>Example</title>
			<meta name="description" content="An example page"></head>
			<body><main>Main body text</main></body></html>`},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tag, err := s.InsertTag(context.Background(), "inbox")
	if err != nil {
		t.Fatalf("InsertTag failed: %v", err)
	}
	return &testEnv{p: p, store: s, assets: a, queue: q, tag: tag}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.png")
	if err := imaging.Save(imaging.New(8, 8, color.White), path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// Pasting an image in OCR mode without a text model yields desc == content
// and a local file at the generated path
func TestPastedImageOCRWithoutTextModel(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	clipPath := filepath.Join(t.TempDir(), "clipboard-1.png")
	os.WriteFile(clipPath, pngBytes(t), 0o644)

	m, err := env.p.CaptureClipboard(ctx, env.tag.ID, &capture.ClipboardItem{ImagePath: clipPath})
	if err != nil {
		t.Fatalf("CaptureClipboard failed: %v", err)
	}
	if m.Type != domain.MarkImage {
		t.Errorf("expected image mark, got %s", m.Type)
	}
	if m.Content != "recognized text" || m.Desc != m.Content {
		t.Errorf("expected desc == content == ocr text, got content %q desc %q", m.Content, m.Desc)
	}
	if !env.assets.Exists(assets.KindImage, m.URL) {
		t.Errorf("asset %s missing", m.URL)
	}
	if _, err := os.Stat(clipPath); !os.IsNotExist(err) {
		t.Error("clipboard temp file should be removed after capture")
	}
	if env.queue.Len() != 0 {
		t.Errorf("queue should be empty after capture, has %d", env.queue.Len())
	}
}

func TestCapturedImagesResolve(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()
	data := pngBytes(t)

	local, err := env.p.CaptureImage(ctx, env.tag.ID, domain.MarkScan, ".png", data)
	if err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}
	asset, err := env.p.ResolveAsset(local)
	if err != nil {
		t.Fatalf("ResolveAsset failed: %v", err)
	}
	if asset.Remote {
		t.Error("expected local asset")
	}
	if _, err := os.Stat(asset.Path); err != nil {
		t.Errorf("resolved path does not exist: %v", err)
	}
	if filepath.Base(filepath.Dir(asset.Path)) != string(assets.KindScreenshot) {
		t.Errorf("scan stored outside screenshot dir: %s", asset.Path)
	}

	host := &fakeHost{}
	env.p.SetImageHost(host)
	remote, err := env.p.CaptureImage(ctx, env.tag.ID, domain.MarkImage, ".png", data)
	if err != nil {
		t.Fatalf("CaptureImage with host failed: %v", err)
	}
	asset, err = env.p.ResolveAsset(remote)
	if err != nil {
		t.Fatalf("ResolveAsset failed: %v", err)
	}
	if !asset.Remote || !strings.HasPrefix(asset.Path, "https://cdn.jsdelivr.net/") {
		t.Errorf("expected CDN url, got %+v", asset)
	}
	if len(host.uploaded) != 1 {
		t.Errorf("expected one upload, got %d", len(host.uploaded))
	}
}

func TestUploadFailureKeepsLocalFile(t *testing.T) {
	env := setupPipeline(t)
	env.p.SetImageHost(&fakeHost{err: errors.New("rate limited")})

	m, err := env.p.CaptureImage(context.Background(), env.tag.ID, domain.MarkImage, ".png", pngBytes(t))
	if err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}
	if assets.IsRemote(m.URL) {
		t.Errorf("expected local filename after failed upload, got %s", m.URL)
	}
	if !env.assets.Exists(assets.KindImage, m.URL) {
		t.Error("local asset missing after failed upload")
	}
}

func TestOCRFailureStillSaves(t *testing.T) {
	env := setupPipeline(t, enrich.WithOCR(fakeOCR{err: errors.New("engine crashed")}))

	m, err := env.p.CaptureImage(context.Background(), env.tag.ID, domain.MarkImage, ".png", pngBytes(t))
	if err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}
	if m.Content != enrich.OCRError {
		t.Errorf("expected placeholder content, got %q", m.Content)
	}
}

func TestDeleteForeverRemovesAsset(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	m, err := env.p.CaptureImage(ctx, env.tag.ID, domain.MarkImage, ".png", pngBytes(t))
	if err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}
	path := env.assets.Path(assets.KindImage, m.URL)

	if _, err := env.p.DeleteForever(ctx, m.ID); err != nil {
		t.Fatalf("DeleteForever failed: %v", err)
	}
	if _, err := env.store.GetMark(ctx, m.ID); !errors.Is(err, store.ErrMarkNotFound) {
		t.Errorf("row survived hard delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("asset survived hard delete: %v", err)
	}
}

func TestClearTrashRemovesAssets(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	img, _ := env.p.CaptureImage(ctx, env.tag.ID, domain.MarkImage, ".png", pngBytes(t))
	keep, _ := env.p.CaptureImage(ctx, env.tag.ID, domain.MarkImage, ".png", pngBytes(t))
	env.store.DelMark(ctx, img.ID)

	removed, err := env.p.ClearTrash(ctx)
	if err != nil {
		t.Fatalf("ClearTrash failed: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != img.ID {
		t.Fatalf("unexpected removed rows: %+v", removed)
	}
	if env.assets.Exists(assets.KindImage, img.URL) {
		t.Error("trashed asset not removed")
	}
	if !env.assets.Exists(assets.KindImage, keep.URL) {
		t.Error("active asset removed")
	}
}

// A scheme-less URL is normalised and desc is title plus meta description
func TestCaptureLinkNormalizesURL(t *testing.T) {
	env := setupPipeline(t)

	m, err := env.p.CaptureLink(context.Background(), env.tag.ID, "example.com")
	if err != nil {
		t.Fatalf("CaptureLink failed: %v", err)
	}
	if m.URL != "https://example.com" {
		t.Errorf("expected normalized url, got %q", m.URL)
	}
	if m.Desc != "Example\nAn example page" {
		t.Errorf("unexpected desc %q", m.Desc)
	}
	if m.Content != "Main body text" {
		t.Errorf("unexpected content %q", m.Content)
	}
}

func TestCaptureFile(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()
	dir := t.TempDir()

	notes := filepath.Join(dir, "notes.md")
	os.WriteFile(notes, []byte("# Notes"), 0o644)
	m, err := env.p.CaptureFile(ctx, env.tag.ID, notes)
	if err != nil {
		t.Fatalf("CaptureFile failed: %v", err)
	}
	if m.Type != domain.MarkFile || m.Content != "# Notes" || m.Desc != "notes.md" {
		t.Errorf("unexpected file mark: %+v", m)
	}

	bin := filepath.Join(dir, "tool.exe")
	os.WriteFile(bin, []byte{0}, 0o644)
	if _, err := env.p.CaptureFile(ctx, env.tag.ID, bin); !errors.Is(err, capture.ErrUnsupportedFile) {
		t.Errorf("expected ErrUnsupportedFile, got %v", err)
	}
}

func TestCaptureImagesIndependent(t *testing.T) {
	env := setupPipeline(t)
	dir := t.TempDir()

	var paths []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		p := filepath.Join(dir, name)
		os.WriteFile(p, pngBytes(t), 0o644)
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(dir, "missing.png"))

	marks, err := env.p.CaptureImages(context.Background(), env.tag.ID, paths)
	if len(marks) != 3 {
		t.Errorf("expected 3 marks, got %d", len(marks))
	}
	if err == nil || !strings.Contains(err.Error(), "missing.png") {
		t.Errorf("expected error naming the missing file, got %v", err)
	}

	tag, _ := env.store.GetTag(context.Background(), env.tag.ID)
	if tag.Total != 3 {
		t.Errorf("expected tag total 3, got %d", tag.Total)
	}
}

func TestCaptureScreenshot(t *testing.T) {
	env := setupPipeline(t)
	frame := filepath.Join(t.TempDir(), "display.png")
	imaging.Save(imaging.New(50, 50, color.Black), frame)

	shot, err := capture.TakeScreenshot(capture.FileFrames{frame})
	if err != nil {
		t.Fatalf("TakeScreenshot failed: %v", err)
	}
	m, err := env.p.CaptureScreenshot(context.Background(), env.tag.ID, shot, image.Rect(0, 0, 10, 10))
	if err != nil {
		t.Fatalf("CaptureScreenshot failed: %v", err)
	}
	if m.Type != domain.MarkScan || !env.assets.Exists(assets.KindScreenshot, m.URL) {
		t.Errorf("unexpected scan mark: %+v", m)
	}
}

func TestQueueProgress(t *testing.T) {
	env := setupPipeline(t)
	events, unsubscribe := env.queue.Subscribe()
	defer unsubscribe()

	if _, err := env.p.CaptureImage(context.Background(), env.tag.ID, domain.MarkImage, ".png", pngBytes(t)); err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}

	var steps []string
	for ev := range events {
		if ev.Kind == queue.Updated {
			steps = append(steps, ev.Item.Progress)
		}
		if ev.Kind == queue.Removed {
			break
		}
	}
	want := []string{domain.ProgressCacheImage, domain.ProgressOCR, domain.ProgressSave}
	if strings.Join(steps, ",") != strings.Join(want, ",") {
		t.Errorf("progress %v, want %v", steps, want)
	}
}

func TestFailedSaveRemovesCachedAsset(t *testing.T) {
	env := setupPipeline(t)
	_, err := env.p.CaptureImage(context.Background(), 999, domain.MarkImage, ".png", pngBytes(t))
	if !errors.Is(err, store.ErrTagNotFound) {
		t.Fatalf("expected ErrTagNotFound, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(env.assets.Root(), string(assets.KindImage)))
	if len(entries) != 0 {
		t.Errorf("expected no cached assets, found %d", len(entries))
	}
}

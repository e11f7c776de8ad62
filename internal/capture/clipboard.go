package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.design/x/clipboard"
)

// ErrNothingPending is returned when confirming without a snapshot
var ErrNothingPending = errors.New("no pending clipboard item")

// ErrClipboardEmpty is returned when the clipboard holds neither text nor an image
var ErrClipboardEmpty = errors.New("clipboard is empty")

// ClipboardReader reads the OS clipboard
type ClipboardReader interface {
	ReadText() []byte
	ReadImage() []byte
}

type systemClipboard struct{}

// SystemClipboard initialises and returns the OS clipboard
func SystemClipboard() (ClipboardReader, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
	}
	return systemClipboard{}, nil
}

func (systemClipboard) ReadText() []byte  { return clipboard.Read(clipboard.FmtText) }
func (systemClipboard) ReadImage() []byte { return clipboard.Read(clipboard.FmtImage) }

// ClipboardItem is a clipboard snapshot awaiting confirmation
type ClipboardItem struct {
	Text string
	// ImagePath is a temp PNG file holding image content
	ImagePath string
	Hash      string
}

// IsImage reports whether the snapshot holds an image
func (c *ClipboardItem) IsImage() bool {
	return c.ImagePath != ""
}

// Clipboard turns clipboard contents into a pending item that must be
// confirmed or cancelled before anything is persisted
type Clipboard struct {
	reader  ClipboardReader
	maxSize int
	tmpDir  string

	mu       sync.Mutex
	pending  *ClipboardItem
	lastHash string
}

// NewClipboard wraps a reader; maxSize caps accepted payloads
func NewClipboard(reader ClipboardReader, maxSize int, tmpDir string) *Clipboard {
	return &Clipboard{reader: reader, maxSize: maxSize, tmpDir: tmpDir}
}

// Snapshot checks the clipboard, typically on window focus. It returns the
// new pending item, or nil when the clipboard is unchanged since the last
// snapshot. Images are preferred over text since copying an image often
// also places a text label on the clipboard.
func (c *Clipboard) Snapshot() (*ClipboardItem, error) {
	var text, img []byte
	if img = c.reader.ReadImage(); len(img) == 0 {
		text = c.reader.ReadText()
	}
	if len(img) == 0 && len(text) == 0 {
		return nil, ErrClipboardEmpty
	}

	size := len(img) + len(text)
	if c.maxSize > 0 && size > c.maxSize {
		return nil, fmt.Errorf("clipboard item too large: %d bytes (max: %d)", size, c.maxSize)
	}

	sum := sha256.Sum256(append(append([]byte{}, text...), img...))
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	if hash == c.lastHash {
		return nil, nil
	}

	item := &ClipboardItem{Text: string(text), Hash: hash}
	if len(img) > 0 {
		f, err := os.CreateTemp(c.tmpDir, "clipboard-*.png")
		if err != nil {
			return nil, fmt.Errorf("cache clipboard image: %w", err)
		}
		if _, err := f.Write(img); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, fmt.Errorf("cache clipboard image: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return nil, fmt.Errorf("cache clipboard image: %w", err)
		}
		item.ImagePath = f.Name()
	}

	c.clearLocked()
	c.pending = item
	c.lastHash = hash
	return item, nil
}

// Pending returns the item awaiting confirmation, if any
func (c *Clipboard) Pending() *ClipboardItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Confirm hands the pending item over for enrichment. The caller owns the
// temp image file from then on.
func (c *Clipboard) Confirm() (*ClipboardItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil, ErrNothingPending
	}
	item := c.pending
	c.pending = nil
	return item, nil
}

// Cancel drops the pending item without persisting anything
func (c *Clipboard) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Clipboard) clearLocked() {
	if c.pending != nil && c.pending.ImagePath != "" {
		os.Remove(c.pending.ImagePath)
	}
	c.pending = nil
}

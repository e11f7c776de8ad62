package capture

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFile is returned for extensions outside the allow-lists
var ErrUnsupportedFile = errors.New("unsupported file type")

// textExtensions are the code, text and document files read as text marks
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".org": true,
	".csv": true, ".tsv": true, ".log": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".ini": true, ".xml": true, ".html": true,
	".htm": true, ".css": true, ".scss": true, ".sql": true, ".sh": true,
	".bash": true, ".zsh": true, ".ps1": true, ".bat": true,
	".go": true, ".py": true, ".rb": true, ".rs": true, ".c": true, ".h": true,
	".cc": true, ".cpp": true, ".hpp": true, ".java": true, ".kt": true,
	".swift": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".vue": true, ".svelte": true, ".php": true, ".lua": true, ".dart": true,
	".r": true, ".scala": true, ".cs": true, ".tex": true,
}

// imageExtensions are the files accepted by the image picker
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// IsTextFile reports whether path has an allow-listed text extension
func IsTextFile(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsImageFile reports whether path has an accepted image extension
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// TextFile is a text file read for a file mark
type TextFile struct {
	Path    string
	Name    string
	Content string
}

// ReadTextFile reads an allow-listed file as UTF-8 text
func ReadTextFile(path string) (*TextFile, error) {
	if !IsTextFile(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrUnsupportedFile, filepath.Base(path))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &TextFile{Path: abs, Name: filepath.Base(path), Content: string(data)}, nil
}

// ImageFile is an image picked for an image mark
type ImageFile struct {
	Name string
	Ext  string
	MIME string
	Data []byte
}

// ReadImage reads an image file and sniffs its content type
func ReadImage(path string) (*ImageFile, error) {
	if !IsImageFile(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &ImageFile{
		Name: filepath.Base(path),
		Ext:  strings.ToLower(filepath.Ext(path)),
		MIME: http.DetectContentType(data),
		Data: data,
	}, nil
}

// ReadImages reads every path, skipping unsupported ones. Read errors
// for individual files are returned alongside the images that succeeded.
func ReadImages(paths []string) ([]*ImageFile, []error) {
	var images []*ImageFile
	var errs []error
	for _, p := range paths {
		img, err := ReadImage(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		images = append(images, img)
	}
	return images, errs
}

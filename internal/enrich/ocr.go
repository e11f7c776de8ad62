package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// OCR converts an image file to text
type OCR interface {
	Recognize(ctx context.Context, path string) (string, error)
}

// TesseractOCR shells out to the tesseract binary
type TesseractOCR struct {
	Binary    string
	Languages []string
}

// NewTesseract resolves the tesseract binary on PATH
func NewTesseract(binary string, languages []string) (*TesseractOCR, error) {
	if binary == "" {
		binary = "tesseract"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("finding OCR binary %q: %w", binary, err)
	}
	return &TesseractOCR{Binary: resolved, Languages: languages}, nil
}

// Recognize runs tesseract on path and returns the trimmed text
func (t *TesseractOCR) Recognize(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout"}
	if len(t.Languages) > 0 {
		args = append(args, "-l", strings.Join(t.Languages, "+"))
	}

	cmd := exec.CommandContext(ctx, t.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("running tesseract: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("running tesseract: %w", err)
	}

	text := strings.TrimSpace(string(out))
	if text == "" {
		return "", errors.New("no text recognized")
	}
	return text, nil
}

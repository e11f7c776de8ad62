// Package enrich turns captured images into text and condenses text into descriptions.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/pbaille/marks/internal/domain"
)

// Placeholder content stored when an enrichment step fails
const (
	OCRError = "OCR Error"
	VLMError = "VLM Error"
)

// Mode selects the image-to-text strategy
type Mode string

const (
	ModeOCR Mode = "ocr"
	ModeVLM Mode = "vlm"
)

// Outcome is the result of enriching one image. Content and Desc are always
// usable; Err records the failure that produced placeholder or fallback text.
type Outcome struct {
	Content string
	Desc    string
	Err     error
}

// Enricher runs the configured image-to-text strategy
type Enricher struct {
	mode   Mode
	ocr    OCR
	text   TextModel
	vision VisionModel
	log    *zap.Logger
}

// Option configures an Enricher
type Option func(*Enricher)

// WithOCR sets the OCR engine
func WithOCR(o OCR) Option { return func(e *Enricher) { e.ocr = o } }

// WithTextModel enables summaries of OCR and link text
func WithTextModel(m TextModel) Option { return func(e *Enricher) { e.text = m } }

// WithVisionModel sets the model used in vlm mode
func WithVisionModel(m VisionModel) Option { return func(e *Enricher) { e.vision = m } }

// New creates an Enricher for mode
func New(mode Mode, log *zap.Logger, opts ...Option) (*Enricher, error) {
	if mode != ModeOCR && mode != ModeVLM {
		return nil, fmt.Errorf("unknown enrich mode %q", mode)
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Enricher{mode: mode, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Mode returns the configured strategy
func (e *Enricher) Mode() Mode {
	return e.mode
}

// EnrichImage extracts text from an image already cached at path. It never
// fails: errors become placeholder content and are reported in Outcome.Err.
func (e *Enricher) EnrichImage(ctx context.Context, path string, progress func(string)) Outcome {
	if progress == nil {
		progress = func(string) {}
	}

	if e.mode == ModeVLM {
		progress(domain.ProgressAIAnalysis)
		text, err := e.describe(ctx, path)
		if err != nil {
			e.log.Warn("vision model failed", zap.String("path", path), zap.Error(err))
			return Outcome{Content: VLMError, Desc: VLMError, Err: err}
		}
		return Outcome{Content: text, Desc: text}
	}

	progress(domain.ProgressOCR)
	text, err := e.recognize(ctx, path)
	if err != nil {
		e.log.Warn("ocr failed", zap.String("path", path), zap.Error(err))
		return Outcome{Content: OCRError, Desc: OCRError, Err: err}
	}

	if e.text == nil {
		return Outcome{Content: text, Desc: text}
	}

	progress(domain.ProgressAIAnalysis)
	desc, err := e.text.Summarize(ctx, text)
	if err != nil {
		e.log.Warn("summary failed, using ocr text", zap.String("path", path), zap.Error(err))
		return Outcome{Content: text, Desc: text, Err: err}
	}
	return Outcome{Content: text, Desc: desc}
}

// DescribeText condenses text with the text model, falling back to fallback
// when no model is configured or the call fails
func (e *Enricher) DescribeText(ctx context.Context, text, fallback string) string {
	if e.text == nil || text == "" {
		return fallback
	}
	desc, err := e.text.Summarize(ctx, text)
	if err != nil {
		e.log.Warn("summary failed", zap.Error(err))
		return fallback
	}
	return desc
}

func (e *Enricher) recognize(ctx context.Context, path string) (string, error) {
	if e.ocr == nil {
		return "", errors.New("no OCR engine configured")
	}
	return e.ocr.Recognize(ctx, path)
}

func (e *Enricher) describe(ctx context.Context, path string) (string, error) {
	if e.vision == nil {
		return "", errors.New("no vision model configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return e.vision.DescribeImage(ctx, data, http.DetectContentType(data))
}

package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// FrameSource captures the screen. The OS-level capture lives outside this
// package; implementations return one image per display.
type FrameSource interface {
	Capture() ([]image.Image, error)
}

// FileFrames is a FrameSource over screenshots already written to disk
type FileFrames []string

func (f FileFrames) Capture() ([]image.Image, error) {
	frames := make([]image.Image, 0, len(f))
	for _, path := range f {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open frame %s: %w", path, err)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// Screenshot holds captured frames while the user picks one and crops it
type Screenshot struct {
	frames   []image.Image
	selected int
}

// TakeScreenshot captures frames from src
func TakeScreenshot(src FrameSource) (*Screenshot, error) {
	frames, err := src.Capture()
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("capture screen: no frames")
	}
	return &Screenshot{frames: frames}, nil
}

// Frames returns the number of captured frames
func (s *Screenshot) Frames() int {
	return len(s.frames)
}

// Select picks the frame to crop from
func (s *Screenshot) Select(i int) error {
	if i < 0 || i >= len(s.frames) {
		return fmt.Errorf("frame %d out of range [0,%d)", i, len(s.frames))
	}
	s.selected = i
	return nil
}

// Crop rasterises the given region of the selected frame to PNG. An empty
// rectangle selects the whole frame.
func (s *Screenshot) Crop(r image.Rectangle) ([]byte, error) {
	frame := s.frames[s.selected]
	bounds := frame.Bounds()
	if r.Empty() {
		r = bounds
	}
	if !r.In(bounds) {
		return nil, fmt.Errorf("crop %v outside frame %v", r, bounds)
	}

	cropped := imaging.Crop(frame, r)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

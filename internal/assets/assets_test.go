package assets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pbaille/marks/internal/domain"
)

func TestSaveAndRemove(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	name, err := s.Save(KindScreenshot, "PNG", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasSuffix(name, ".png") {
		t.Errorf("expected lower-cased .png extension, got %q", name)
	}
	if filepath.Dir(s.Path(KindScreenshot, name)) != filepath.Join(root, "screenshot") {
		t.Errorf("asset stored outside screenshot dir: %s", s.Path(KindScreenshot, name))
	}
	data, err := os.ReadFile(s.Path(KindScreenshot, name))
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("stored content mismatch: %q, %v", data, err)
	}

	if err := s.Remove(KindScreenshot, name); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Exists(KindScreenshot, name) {
		t.Error("file still exists after Remove")
	}
	if err := s.Remove(KindScreenshot, name); err != nil {
		t.Errorf("removing a missing file should not fail: %v", err)
	}
}

func TestSaveGeneratesUniqueNames(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a, _ := s.Save(KindImage, ".jpg", []byte("a"))
	b, _ := s.Save(KindImage, ".jpg", []byte("b"))
	if a == b {
		t.Errorf("expected unique names, both were %q", a)
	}
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		typ  domain.MarkType
		want Kind
		ok   bool
	}{
		{domain.MarkImage, KindImage, true},
		{domain.MarkScan, KindScreenshot, true},
		{domain.MarkText, "", false},
		{domain.MarkLink, "", false},
	}
	for _, tt := range tests {
		got, ok := KindFor(tt.typ)
		if got != tt.want || ok != tt.ok {
			t.Errorf("KindFor(%s) = %q, %v; want %q, %v", tt.typ, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("https://cdn.jsdelivr.net/gh/u/r@main/a.png") {
		t.Error("expected CDN url to be remote")
	}
	if IsRemote("0b7c.png") {
		t.Error("expected bare filename to be local")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MARKS_DATA_DIR", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Enrich.Mode != ModeOCR {
		t.Errorf("expected default mode %s, got %s", ModeOCR, cfg.Enrich.Mode)
	}
	if cfg.Capture.MaxTextChars != 10000 {
		t.Errorf("expected 10000 char cap, got %d", cfg.Capture.MaxTextChars)
	}
	if cfg.Sync.Branch != "main" {
		t.Errorf("expected main branch, got %s", cfg.Sync.Branch)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /tmp/marks-test
enrich:
  mode: VLM
  vision_model: gpt-4o-mini
  timeout: 5s
sync:
  backend: gitee
  repo: notes
capture:
  max_text_chars: 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKS_GITEE_TOKEN", "secret")
	t.Setenv("MARKS_DATA_DIR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/tmp/marks-test" {
		t.Errorf("unexpected data dir %s", cfg.DataDir)
	}
	if cfg.Enrich.Mode != ModeVLM {
		t.Errorf("expected mode normalised to vlm, got %s", cfg.Enrich.Mode)
	}
	if cfg.Enrich.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", cfg.Enrich.Timeout)
	}
	if cfg.Capture.MaxTextChars != 10000 {
		t.Errorf("zero cap should fall back to default, got %d", cfg.Capture.MaxTextChars)
	}
	if cfg.Sync.Repo != "notes" || cfg.Sync.ImageRepo != "marks-image-sync" {
		t.Errorf("unexpected repos %s / %s", cfg.Sync.Repo, cfg.Sync.ImageRepo)
	}
	bc, ok := cfg.Backend(BackendGitee)
	if !ok || bc.Token != "secret" {
		t.Errorf("expected gitee token from env, got %+v", bc)
	}
	if !strings.HasSuffix(cfg.DBPath(), "marks.db") {
		t.Errorf("unexpected db path %s", cfg.DBPath())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"mode":    "enrich:\n  mode: magic\n",
		"backend": "sync:\n  backend: bitbucket\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			os.WriteFile(path, []byte(content), 0o644)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.Sync.Backend = BackendGitHub
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	t.Setenv("MARKS_DATA_DIR", "")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DataDir != "/data" || loaded.Sync.Backend != BackendGitHub {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Enrichment modes
const (
	ModeOCR = "ocr"
	ModeVLM = "vlm"
)

// Sync backends
const (
	BackendGitHub = "github"
	BackendGitee  = "gitee"
	BackendGitLab = "gitlab"
)

type Config struct {
	DataDir    string `yaml:"data_dir"`
	DefaultTag string `yaml:"default_tag"`

	Enrich  EnrichConfig  `yaml:"enrich"`
	Capture CaptureConfig `yaml:"capture"`
	Sync    SyncConfig    `yaml:"sync"`
	Log     LogConfig     `yaml:"log"`
}

type EnrichConfig struct {
	Mode string `yaml:"mode"` // ocr or vlm

	OCRBinary    string   `yaml:"ocr_binary"`
	OCRLanguages []string `yaml:"ocr_languages"`

	// OpenAI-compatible endpoint; an empty TextModel disables summaries
	BaseURL     string        `yaml:"base_url,omitempty"`
	APIKey      string        `yaml:"api_key,omitempty"`
	TextModel   string        `yaml:"text_model,omitempty"`
	VisionModel string        `yaml:"vision_model,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`

	SummarizeLinks bool `yaml:"summarize_links"`
}

type CaptureConfig struct {
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	MaxFetchBytes   int64         `yaml:"max_fetch_bytes"`
	MaxTextChars    int           `yaml:"max_text_chars"`
	MaxClipboardLen int           `yaml:"max_clipboard_bytes"`
}

type SyncConfig struct {
	Backend   string        `yaml:"backend,omitempty"`
	Repo      string        `yaml:"repo"`
	ImageRepo string        `yaml:"image_repo"`
	ImageHost bool          `yaml:"image_host"`
	Branch    string        `yaml:"branch"`
	Timeout   time.Duration `yaml:"timeout"`

	GitHub BackendConfig `yaml:"github"`
	Gitee  BackendConfig `yaml:"gitee"`
	GitLab BackendConfig `yaml:"gitlab"`
}

type BackendConfig struct {
	Token   string `yaml:"token,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultDataDir returns ~/.marks, falling back to the working directory
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".marks"
	}
	return filepath.Join(home, ".marks")
}

func Default() *Config {
	return &Config{
		DataDir:    DefaultDataDir(),
		DefaultTag: "inbox",
		Enrich: EnrichConfig{
			Mode:         ModeOCR,
			OCRBinary:    "tesseract",
			OCRLanguages: []string{"eng"},
			Timeout:      60 * time.Second,
		},
		Capture: CaptureConfig{
			FetchTimeout:    30 * time.Second,
			MaxFetchBytes:   5 * 1024 * 1024,
			MaxTextChars:    10000,
			MaxClipboardLen: 10 * 1024 * 1024,
		},
		Sync: SyncConfig{
			Repo:      "marks-sync",
			ImageRepo: "marks-image-sync",
			Branch:    "main",
			Timeout:   30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults. A missing file yields
// the defaults; environment variables override secrets either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the directory if needed
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DBPath is the SQLite file inside the data directory
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "marks.db")
}

// Backend returns the settings for a named sync backend
func (c *Config) Backend(name string) (BackendConfig, bool) {
	switch name {
	case BackendGitHub:
		return c.Sync.GitHub, true
	case BackendGitee:
		return c.Sync.Gitee, true
	case BackendGitLab:
		return c.Sync.GitLab, true
	}
	return BackendConfig{}, false
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MARKS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Enrich.APIKey == "" {
		c.Enrich.APIKey = v
	}
	if v := os.Getenv("MARKS_GITHUB_TOKEN"); v != "" {
		c.Sync.GitHub.Token = v
	}
	if v := os.Getenv("MARKS_GITEE_TOKEN"); v != "" {
		c.Sync.Gitee.Token = v
	}
	if v := os.Getenv("MARKS_GITLAB_TOKEN"); v != "" {
		c.Sync.GitLab.Token = v
	}
}

func (c *Config) validate() error {
	d := Default()

	if strings.HasPrefix(c.DataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, c.DataDir[2:])
		}
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.DefaultTag == "" {
		c.DefaultTag = d.DefaultTag
	}

	c.Enrich.Mode = strings.ToLower(c.Enrich.Mode)
	switch c.Enrich.Mode {
	case "":
		c.Enrich.Mode = ModeOCR
	case ModeOCR, ModeVLM:
	default:
		return fmt.Errorf("invalid enrich mode %q (want %s or %s)", c.Enrich.Mode, ModeOCR, ModeVLM)
	}
	if c.Enrich.OCRBinary == "" {
		c.Enrich.OCRBinary = d.Enrich.OCRBinary
	}
	if len(c.Enrich.OCRLanguages) == 0 {
		c.Enrich.OCRLanguages = d.Enrich.OCRLanguages
	}
	if c.Enrich.Timeout <= 0 {
		c.Enrich.Timeout = d.Enrich.Timeout
	}

	if c.Capture.FetchTimeout <= 0 {
		c.Capture.FetchTimeout = d.Capture.FetchTimeout
	}
	if c.Capture.MaxFetchBytes <= 0 {
		c.Capture.MaxFetchBytes = d.Capture.MaxFetchBytes
	}
	if c.Capture.MaxTextChars <= 0 {
		c.Capture.MaxTextChars = d.Capture.MaxTextChars
	}
	if c.Capture.MaxClipboardLen <= 0 {
		c.Capture.MaxClipboardLen = d.Capture.MaxClipboardLen
	}

	switch c.Sync.Backend {
	case "", BackendGitHub, BackendGitee, BackendGitLab:
	default:
		return fmt.Errorf("invalid sync backend %q", c.Sync.Backend)
	}
	if c.Sync.Repo == "" {
		c.Sync.Repo = d.Sync.Repo
	}
	if c.Sync.ImageRepo == "" {
		c.Sync.ImageRepo = d.Sync.ImageRepo
	}
	if c.Sync.Branch == "" {
		c.Sync.Branch = d.Sync.Branch
	}
	if c.Sync.Timeout <= 0 {
		c.Sync.Timeout = d.Sync.Timeout
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	return nil
}

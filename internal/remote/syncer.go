package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/store"
)

// Category is one of the tables mirrored to the sync repository
type Category string

const (
	CategoryTags  Category = "tags"
	CategoryMarks Category = "marks"
	CategoryChats Category = "chats"
)

// Categories in the order they are reported
var Categories = []Category{CategoryTags, CategoryMarks, CategoryChats}

// Path is the file a category is stored in
func (c Category) Path() string {
	return ".data/" + string(c) + ".json"
}

// Result is the outcome for one category
type Result struct {
	Category Category `json:"category"`
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
}

// Report collects per-category results. It only counts as a success when
// every category succeeded and no shared step failed.
type Report struct {
	Backend string   `json:"backend"`
	Results []Result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

func (r Report) OK() bool {
	if r.Error != "" || len(r.Results) != len(Categories) {
		return false
	}
	for _, res := range r.Results {
		if !res.OK {
			return false
		}
	}
	return true
}

// Message is the aggregate line shown to the user
func (r Report) Message() string {
	if r.OK() {
		return "success"
	}
	var failed []string
	for _, res := range r.Results {
		if !res.OK {
			failed = append(failed, string(res.Category))
		}
	}
	if r.Error != "" {
		return "failed: " + r.Error
	}
	return "failed: " + strings.Join(failed, ", ")
}

// Syncer mirrors tags, marks and chats to a repository on a backend
type Syncer struct {
	store   *store.Store
	backend Backend
	repo    string
	log     *zap.Logger
}

func NewSyncer(s *store.Store, b Backend, repo string, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{store: s, backend: b, repo: repo, log: log}
}

// Backend returns the backend this syncer writes to
func (s *Syncer) Backend() Backend {
	return s.backend
}

func newReport(b Backend) Report {
	r := Report{Backend: b.Name()}
	for _, c := range Categories {
		r.Results = append(r.Results, Result{Category: c})
	}
	return r
}

func (r *Report) fail(i int, err error) {
	r.Results[i].OK = false
	r.Results[i].Error = err.Error()
}

// Upload writes the local snapshot, one file per category
func (s *Syncer) Upload(ctx context.Context) Report {
	report := newReport(s.backend)

	if err := s.backend.EnsureRepo(ctx, s.repo, true); err != nil {
		report.Error = err.Error()
		s.log.Error("sync repo unavailable", zap.String("repo", s.repo), zap.Error(err))
		return report
	}

	snap, err := s.store.Export(ctx)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	payloads := map[Category]any{
		CategoryTags:  nonNil(snap.Tags),
		CategoryMarks: nonNil(snap.Marks),
		CategoryChats: nonNil(snap.Chats),
	}

	var g errgroup.Group
	for i, c := range Categories {
		g.Go(func() error {
			data, err := json.MarshalIndent(payloads[c], "", "  ")
			if err == nil {
				_, err = s.backend.PutFile(ctx, s.repo, c.Path(), data, "sync "+string(c))
			}
			if err != nil {
				report.fail(i, err)
				s.log.Error("upload failed", zap.String("category", string(c)), zap.Error(err))
				return nil
			}
			report.Results[i].OK = true
			return nil
		})
	}
	g.Wait()

	s.log.Info("upload finished", zap.String("backend", report.Backend), zap.Bool("ok", report.OK()))
	return report
}

// Download fetches every category and replaces the local tables in one
// transaction. Nothing is replaced unless all three files were read.
func (s *Syncer) Download(ctx context.Context) Report {
	report := newReport(s.backend)

	var snap store.Snapshot
	targets := map[Category]any{
		CategoryTags:  &snap.Tags,
		CategoryMarks: &snap.Marks,
		CategoryChats: &snap.Chats,
	}

	var g errgroup.Group
	for i, c := range Categories {
		g.Go(func() error {
			f, err := s.backend.GetFile(ctx, s.repo, c.Path())
			if err == nil {
				err = json.Unmarshal(f.Content, targets[c])
				if err != nil {
					err = fmt.Errorf("decode %s: %w", c.Path(), err)
				}
			}
			if err != nil {
				report.fail(i, err)
				s.log.Error("download failed", zap.String("category", string(c)), zap.Error(err))
				return nil
			}
			report.Results[i].OK = true
			return nil
		})
	}
	g.Wait()

	if !report.OK() {
		return report
	}
	if err := s.store.ReplaceAll(ctx, snap); err != nil {
		report.Error = err.Error()
		s.log.Error("apply download failed", zap.Error(err))
		return report
	}
	s.log.Info("download finished",
		zap.String("backend", report.Backend),
		zap.Int("tags", len(snap.Tags)),
		zap.Int("marks", len(snap.Marks)))
	return report
}

// nonNil keeps empty tables encoded as [] rather than null
func nonNil[T domain.Tag | domain.Mark | domain.Chat](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

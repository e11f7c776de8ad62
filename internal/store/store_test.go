package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pbaille/marks/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New failed for in-memory DB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestTag(t *testing.T, s *Store, name string) domain.Tag {
	t.Helper()
	tag, err := s.InsertTag(context.Background(), name)
	if err != nil {
		t.Fatalf("InsertTag(%q) failed: %v", name, err)
	}
	return tag
}

func createTestMark(t *testing.T, s *Store, tagID int64, typ domain.MarkType, content string) domain.Mark {
	t.Helper()
	m, err := s.InsertMark(context.Background(), NewMark{TagID: tagID, Type: typ, Content: content, Desc: content})
	if err != nil {
		t.Fatalf("InsertMark failed: %v", err)
	}
	return m
}

// assertTotal recomputes a tag's count from a full scan and compares it to the cached total
func assertTotal(t *testing.T, s *Store, tagID int64) {
	t.Helper()
	ctx := context.Background()
	marks, err := s.ListMarks(ctx, tagID)
	if err != nil {
		t.Fatalf("ListMarks failed: %v", err)
	}
	tag, err := s.GetTag(ctx, tagID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if tag.Total != len(marks) {
		t.Errorf("tag %d cached total %d, full scan %d", tagID, tag.Total, len(marks))
	}
}

func contains(marks []domain.Mark, id int64) bool {
	for _, m := range marks {
		if m.ID == id {
			return true
		}
	}
	return false
}

func TestSchemaVersion(t *testing.T) {
	s := setupTestStore(t)
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, v)
	}
	// Running the migration again must be a no-op
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestInsertMark(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, s, "inbox")

	m, err := s.InsertMark(ctx, NewMark{TagID: tag.ID, Type: domain.MarkLink, Content: "body", Desc: "title", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("InsertMark failed: %v", err)
	}
	if m.ID == 0 {
		t.Error("expected id to be assigned")
	}
	if m.Type != domain.MarkLink || m.Content != "body" || m.Desc != "title" || m.URL != "https://example.com" {
		t.Errorf("stored mark does not match input: %+v", m)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	stored, err := s.GetMark(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMark failed: %v", err)
	}
	if stored.ID != m.ID || stored.Content != m.Content || !stored.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("returned mark %+v differs from stored %+v", m, stored)
	}

	t.Run("UnknownTag", func(t *testing.T) {
		_, err := s.InsertMark(ctx, NewMark{TagID: 999, Type: domain.MarkText, Content: "x"})
		if !errors.Is(err, ErrTagNotFound) {
			t.Errorf("expected ErrTagNotFound, got %v", err)
		}
	})

	t.Run("InvalidType", func(t *testing.T) {
		_, err := s.InsertMark(ctx, NewMark{TagID: tag.ID, Type: "video"})
		if err == nil {
			t.Error("expected error for invalid type")
		}
	})
}

func TestTrashRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, s, "inbox")
	m := createTestMark(t, s, tag.ID, domain.MarkText, "hello")

	trashed, err := s.DelMark(ctx, m.ID)
	if err != nil {
		t.Fatalf("DelMark failed: %v", err)
	}
	if !trashed.Deleted {
		t.Error("expected mark to be flagged deleted")
	}

	active, _ := s.ListMarks(ctx, tag.ID)
	trash, _ := s.ListTrash(ctx)
	if contains(active, m.ID) {
		t.Error("trashed mark still in default listing")
	}
	if !contains(trash, m.ID) {
		t.Error("trashed mark missing from trash listing")
	}

	restored, err := s.RestoreMark(ctx, m.ID)
	if err != nil {
		t.Fatalf("RestoreMark failed: %v", err)
	}
	if restored.Deleted {
		t.Error("expected restored mark to be active")
	}
	if restored.Content != m.Content || restored.Desc != m.Desc || restored.URL != m.URL {
		t.Errorf("restore altered payload: before %+v after %+v", m, restored)
	}

	active, _ = s.ListMarks(ctx, tag.ID)
	trash, _ = s.ListTrash(ctx)
	if !contains(active, m.ID) {
		t.Error("restored mark missing from default listing")
	}
	if contains(trash, m.ID) {
		t.Error("restored mark still in trash listing")
	}
}

func TestDelMarkForever(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, s, "inbox")
	m := createTestMark(t, s, tag.ID, domain.MarkImage, "ocr")

	removed, err := s.DelMarkForever(ctx, m.ID)
	if err != nil {
		t.Fatalf("DelMarkForever failed: %v", err)
	}
	if removed.ID != m.ID {
		t.Errorf("expected removed mark %d, got %d", m.ID, removed.ID)
	}
	if _, err := s.GetMark(ctx, m.ID); !errors.Is(err, ErrMarkNotFound) {
		t.Errorf("expected ErrMarkNotFound after hard delete, got %v", err)
	}
	if _, err := s.DelMarkForever(ctx, m.ID); !errors.Is(err, ErrMarkNotFound) {
		t.Errorf("expected ErrMarkNotFound on second delete, got %v", err)
	}
}

func TestClearTrash(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, s, "inbox")
	keep := createTestMark(t, s, tag.ID, domain.MarkText, "keep")
	a := createTestMark(t, s, tag.ID, domain.MarkText, "a")
	b := createTestMark(t, s, tag.ID, domain.MarkImage, "b")
	s.DelMark(ctx, a.ID)
	s.DelMark(ctx, b.ID)

	removed, err := s.ClearTrash(ctx)
	if err != nil {
		t.Fatalf("ClearTrash failed: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed marks, got %d", len(removed))
	}
	trash, _ := s.ListTrash(ctx)
	if len(trash) != 0 {
		t.Errorf("expected empty trash, got %d", len(trash))
	}
	if _, err := s.GetMark(ctx, keep.ID); err != nil {
		t.Errorf("active mark removed by ClearTrash: %v", err)
	}
	assertTotal(t, s, tag.ID)
}

func TestTagTotalsStayConsistent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tagA := createTestTag(t, s, "a")
	tagB := createTestTag(t, s, "b")

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, createTestMark(t, s, tagA.ID, domain.MarkText, "m").ID)
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"delete", func() error { _, err := s.DelMark(ctx, ids[0]); return err }},
		{"delete again", func() error { _, err := s.DelMark(ctx, ids[1]); return err }},
		{"restore", func() error { _, err := s.RestoreMark(ctx, ids[0]); return err }},
		{"hard delete", func() error { _, err := s.DelMarkForever(ctx, ids[2]); return err }},
		{"move", func() error { _, err := s.MoveMarks(ctx, []int64{ids[3]}, tagB.ID); return err }},
		{"insert", func() error { createTestMark(t, s, tagB.ID, domain.MarkText, "n"); return nil }},
		{"clear trash", func() error { _, err := s.ClearTrash(ctx); return err }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s failed: %v", step.name, err)
		}
		assertTotal(t, s, tagA.ID)
		assertTotal(t, s, tagB.ID)
	}
}

func TestUpdateMark(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, s, "inbox")
	m := createTestMark(t, s, tag.ID, domain.MarkText, "original")

	desc := "renamed"
	updated, err := s.UpdateMark(ctx, m.ID, MarkUpdate{Desc: &desc})
	if err != nil {
		t.Fatalf("UpdateMark failed: %v", err)
	}
	if updated.Desc != desc {
		t.Errorf("expected desc %q, got %q", desc, updated.Desc)
	}
	if updated.Content != "original" {
		t.Errorf("content changed unexpectedly: %q", updated.Content)
	}
	if updated.UpdatedAt.Before(m.UpdatedAt) {
		t.Error("expected UpdatedAt to move forward")
	}

	if _, err := s.UpdateMark(ctx, 12345, MarkUpdate{Desc: &desc}); !errors.Is(err, ErrMarkNotFound) {
		t.Errorf("expected ErrMarkNotFound, got %v", err)
	}
}

func TestTagLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, s, "work")

	if _, err := s.InsertTag(ctx, "work"); !errors.Is(err, ErrTagExists) {
		t.Errorf("expected ErrTagExists for duplicate, got %v", err)
	}

	quick, err := s.QuickAddTag(ctx, "work")
	if err != nil || quick.ID != tag.ID {
		t.Errorf("QuickAddTag should return the existing tag, got %+v, %v", quick, err)
	}
	fresh, err := s.QuickAddTag(ctx, "ideas")
	if err != nil || fresh.ID == tag.ID {
		t.Errorf("QuickAddTag should create a new tag, got %+v, %v", fresh, err)
	}

	pinned, err := s.SetTagPin(ctx, fresh.ID, true)
	if err != nil || !pinned.IsPin {
		t.Fatalf("SetTagPin failed: %+v, %v", pinned, err)
	}
	tags, _ := s.ListTags(ctx)
	if len(tags) != 2 || tags[0].ID != fresh.ID {
		t.Errorf("expected pinned tag first, got %+v", tags)
	}

	renamed, err := s.RenameTag(ctx, tag.ID, "job")
	if err != nil || renamed.Name != "job" {
		t.Fatalf("RenameTag failed: %+v, %v", renamed, err)
	}

	if _, err := s.SetTagLock(ctx, tag.ID, true); err != nil {
		t.Fatalf("SetTagLock failed: %v", err)
	}
	if _, err := s.RenameTag(ctx, tag.ID, "other"); !errors.Is(err, ErrTagLocked) {
		t.Errorf("expected ErrTagLocked on rename, got %v", err)
	}
	if err := s.DeleteTag(ctx, tag.ID, 0); !errors.Is(err, ErrTagLocked) {
		t.Errorf("expected ErrTagLocked on delete, got %v", err)
	}
}

func TestDeleteTagLeavesNoOrphans(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	doomed := createTestTag(t, s, "doomed")
	target := createTestTag(t, s, "target")

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, createTestMark(t, s, doomed.ID, domain.MarkText, "m").ID)
	}
	s.DelMark(ctx, ids[2])

	if err := s.DeleteTag(ctx, doomed.ID, 0); !errors.Is(err, ErrTagNotEmpty) {
		t.Fatalf("expected ErrTagNotEmpty, got %v", err)
	}

	if err := s.DeleteTag(ctx, doomed.ID, target.ID); err != nil {
		t.Fatalf("DeleteTag with reassignment failed: %v", err)
	}
	if _, err := s.GetTag(ctx, doomed.ID); !errors.Is(err, ErrTagNotFound) {
		t.Errorf("expected tag to be gone, got %v", err)
	}

	all, err := s.ListAllMarks(ctx)
	if err != nil {
		t.Fatalf("ListAllMarks failed: %v", err)
	}
	tags, _ := s.ListTags(ctx)
	known := map[int64]bool{}
	for _, tg := range tags {
		known[tg.ID] = true
	}
	for _, m := range all {
		if !known[m.TagID] {
			t.Errorf("mark %d references missing tag %d", m.ID, m.TagID)
		}
	}
	assertTotal(t, s, target.ID)
	moved, _ := s.GetTag(ctx, target.ID)
	if moved.Total != 2 {
		t.Errorf("expected target total 2, got %d", moved.Total)
	}

	empty := createTestTag(t, s, "empty")
	if err := s.DeleteTag(ctx, empty.ID, 0); err != nil {
		t.Errorf("deleting an empty tag should succeed: %v", err)
	}
}

func TestSearchMarks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, s, "inbox")
	hit := createTestMark(t, s, tag.ID, domain.MarkText, "golang channels")
	createTestMark(t, s, tag.ID, domain.MarkText, "rust lifetimes")
	gone := createTestMark(t, s, tag.ID, domain.MarkText, "golang generics")
	s.DelMark(ctx, gone.ID)

	res, err := s.SearchMarks(ctx, "golang")
	if err != nil {
		t.Fatalf("SearchMarks failed: %v", err)
	}
	if len(res) != 1 || res[0].ID != hit.ID {
		t.Errorf("expected only mark %d, got %+v", hit.ID, res)
	}
}

func TestExportReplaceAll(t *testing.T) {
	src := setupTestStore(t)
	ctx := context.Background()
	tag := createTestTag(t, src, "inbox")
	createTestMark(t, src, tag.ID, domain.MarkText, "one")
	trashed := createTestMark(t, src, tag.ID, domain.MarkText, "two")
	src.DelMark(ctx, trashed.ID)
	if _, err := src.InsertChat(ctx, tag.ID, "user", "", "hi"); err != nil {
		t.Fatalf("InsertChat failed: %v", err)
	}

	snap, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := setupTestStore(t)
	createTestTag(t, dst, "stale")
	if err := dst.ReplaceAll(ctx, snap); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	tags, _ := dst.ListTags(ctx)
	if len(tags) != 1 || tags[0].Name != "inbox" || tags[0].Total != 1 {
		t.Errorf("unexpected tags after replace: %+v", tags)
	}
	trash, _ := dst.ListTrash(ctx)
	if len(trash) != 1 || trash[0].ID != trashed.ID {
		t.Errorf("trash state not carried over: %+v", trash)
	}
	chats, _ := dst.ListChats(ctx, tag.ID)
	if len(chats) != 1 || chats[0].Content != "hi" || chats[0].Type != "chat" {
		t.Errorf("unexpected chats after replace: %+v", chats)
	}
}

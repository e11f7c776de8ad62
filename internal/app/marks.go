package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/pipeline"
	"github.com/pbaille/marks/internal/queue"
	"github.com/pbaille/marks/internal/store"
)

// ErrNothingSelected is returned by bulk operations with an empty selection
var ErrNothingSelected = errors.New("no marks selected")

// MarkState caches the marks of the active tag, or the trash, together
// with the multi-select state used by bulk operations
type MarkState struct {
	store *store.Store
	pipe  *pipeline.Pipeline
	queue *queue.Queue
	tags  *TagState

	mu         sync.RWMutex
	marks      []domain.Mark
	trashView  bool
	selectMode bool
	selected   map[int64]bool
}

func newMarkState(s *store.Store, p *pipeline.Pipeline, q *queue.Queue, tags *TagState) *MarkState {
	return &MarkState{store: s, pipe: p, queue: q, tags: tags, selected: map[int64]bool{}}
}

// Load fills the cache for the current view
func (m *MarkState) Load(ctx context.Context) error {
	m.mu.RLock()
	trash := m.trashView
	m.mu.RUnlock()

	var marks []domain.Mark
	var err error
	if trash {
		marks, err = m.store.ListTrash(ctx)
	} else if active := m.tags.Active(); active != 0 {
		marks, err = m.store.ListMarks(ctx, active)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.marks = marks
	m.mu.Unlock()
	return nil
}

// ShowTrash switches between the active tag and the trash, clearing any selection
func (m *MarkState) ShowTrash(ctx context.Context, trash bool) error {
	m.mu.Lock()
	m.trashView = trash
	m.selected = map[int64]bool{}
	m.selectMode = false
	m.mu.Unlock()
	return m.Load(ctx)
}

// TrashView reports whether the trash is shown
func (m *MarkState) TrashView() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trashView
}

// List returns a copy of the cached marks
func (m *MarkState) List() []domain.Mark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Mark(nil), m.marks...)
}

// Queue returns the in-flight captures
func (m *MarkState) Queue() []domain.MarkQueue {
	return m.queue.List()
}

// Applied records a mark returned by a capture or store call
func (m *MarkState) Applied(ctx context.Context, mark domain.Mark) error {
	m.mu.Lock()
	m.applyLocked(mark)
	m.mu.Unlock()
	return m.tags.Refresh(ctx, mark.TagID)
}

// applyLocked inserts, replaces or drops mark depending on whether it
// belongs to the current view
func (m *MarkState) applyLocked(mark domain.Mark) {
	visible := mark.Deleted == m.trashView
	if !m.trashView {
		visible = visible && mark.TagID == m.tags.Active()
	}

	i := slices.IndexFunc(m.marks, func(x domain.Mark) bool { return x.ID == mark.ID })
	switch {
	case i >= 0 && visible:
		m.marks[i] = mark
	case i >= 0:
		m.marks = slices.Delete(m.marks, i, i+1)
		delete(m.selected, mark.ID)
	case visible:
		m.marks = append([]domain.Mark{mark}, m.marks...)
	}
}

func (m *MarkState) dropLocked(id int64) {
	m.marks = slices.DeleteFunc(m.marks, func(x domain.Mark) bool { return x.ID == id })
	delete(m.selected, id)
}

func (m *MarkState) Update(ctx context.Context, id int64, u store.MarkUpdate) (domain.Mark, error) {
	mark, err := m.store.UpdateMark(ctx, id, u)
	if err != nil {
		return domain.Mark{}, err
	}
	return mark, m.Applied(ctx, mark)
}

// Trash soft-deletes a mark
func (m *MarkState) Trash(ctx context.Context, id int64) (domain.Mark, error) {
	mark, err := m.store.DelMark(ctx, id)
	if err != nil {
		return domain.Mark{}, err
	}
	return mark, m.Applied(ctx, mark)
}

func (m *MarkState) Restore(ctx context.Context, id int64) (domain.Mark, error) {
	mark, err := m.store.RestoreMark(ctx, id)
	if err != nil {
		return domain.Mark{}, err
	}
	return mark, m.Applied(ctx, mark)
}

// DeleteForever removes the row and its asset
func (m *MarkState) DeleteForever(ctx context.Context, id int64) (domain.Mark, error) {
	mark, err := m.pipe.DeleteForever(ctx, id)
	if err != nil {
		return domain.Mark{}, err
	}
	m.mu.Lock()
	m.dropLocked(id)
	m.mu.Unlock()
	return mark, m.tags.Refresh(ctx, mark.TagID)
}

// ClearTrash empties the trash and returns what was removed
func (m *MarkState) ClearTrash(ctx context.Context) ([]domain.Mark, error) {
	removed, err := m.pipe.ClearTrash(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	for _, mark := range removed {
		m.dropLocked(mark.ID)
	}
	m.mu.Unlock()
	return removed, nil
}

// SetSelectMode turns multi-select on or off; turning it off clears the selection
func (m *MarkState) SetSelectMode(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectMode = on
	if !on {
		m.selected = map[int64]bool{}
	}
}

func (m *MarkState) SelectMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectMode
}

// Toggle flips the selection of a cached mark, entering select mode
func (m *MarkState) Toggle(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.ContainsFunc(m.marks, func(x domain.Mark) bool { return x.ID == id }) {
		return fmt.Errorf("mark %d: %w", id, store.ErrMarkNotFound)
	}
	m.selectMode = true
	if m.selected[id] {
		delete(m.selected, id)
	} else {
		m.selected[id] = true
	}
	return nil
}

// SelectAll selects every cached mark
func (m *MarkState) SelectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectMode = true
	for _, mark := range m.marks {
		m.selected[mark.ID] = true
	}
}

// Selected returns the selected ids in ascending order
func (m *MarkState) Selected() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// BulkMove moves the selection to tagID and leaves select mode
func (m *MarkState) BulkMove(ctx context.Context, tagID int64) ([]domain.Mark, error) {
	ids := m.Selected()
	if len(ids) == 0 {
		return nil, ErrNothingSelected
	}

	before := map[int64]bool{tagID: true}
	m.mu.RLock()
	for _, mark := range m.marks {
		if m.selected[mark.ID] {
			before[mark.TagID] = true
		}
	}
	m.mu.RUnlock()

	moved, err := m.store.MoveMarks(ctx, ids, tagID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, mark := range moved {
		m.applyLocked(mark)
	}
	m.selected = map[int64]bool{}
	m.selectMode = false
	m.mu.Unlock()

	for id := range before {
		if err := m.tags.Refresh(ctx, id); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

// BulkDelete trashes the selection, or removes it for good in the trash view
func (m *MarkState) BulkDelete(ctx context.Context) ([]domain.Mark, error) {
	ids := m.Selected()
	if len(ids) == 0 {
		return nil, ErrNothingSelected
	}
	permanent := m.TrashView()

	var out []domain.Mark
	var errs []error
	for _, id := range ids {
		var mark domain.Mark
		var err error
		if permanent {
			mark, err = m.DeleteForever(ctx, id)
		} else {
			mark, err = m.Trash(ctx, id)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("mark %d: %w", id, err))
			continue
		}
		out = append(out, mark)
	}

	m.SetSelectMode(false)
	return out, errors.Join(errs...)
}

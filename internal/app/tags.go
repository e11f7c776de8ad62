package app

import (
	"context"
	"sort"
	"sync"

	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/store"
)

// TagState caches the tag list and the active tag. Every command applies
// the tag returned by the store instead of reloading.
type TagState struct {
	store *store.Store

	mu     sync.RWMutex
	tags   []domain.Tag
	active int64
}

func newTagState(s *store.Store) *TagState {
	return &TagState{store: s}
}

// Load replaces the cache from the store
func (t *TagState) Load(ctx context.Context) error {
	tags, err := t.store.ListTags(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags = tags
	if t.indexLocked(t.active) < 0 {
		t.active = 0
		if len(tags) > 0 {
			t.active = tags[0].ID
		}
	}
	return nil
}

// List returns a copy of the cached tags, pinned first
func (t *TagState) List() []domain.Tag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Tag(nil), t.tags...)
}

// Get returns a cached tag
func (t *TagState) Get(id int64) (domain.Tag, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.indexLocked(id); i >= 0 {
		return t.tags[i], true
	}
	return domain.Tag{}, false
}

// Active returns the id of the selected tag, 0 when there are no tags
func (t *TagState) Active() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// SetActive selects a cached tag
func (t *TagState) SetActive(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexLocked(id) < 0 {
		return store.ErrTagNotFound
	}
	t.active = id
	return nil
}

// Counts maps tag ids to their non-trashed mark totals
func (t *TagState) Counts() map[int64]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[int64]int, len(t.tags))
	for _, tag := range t.tags {
		counts[tag.ID] = tag.Total
	}
	return counts
}

func (t *TagState) Add(ctx context.Context, name string) (domain.Tag, error) {
	tag, err := t.store.InsertTag(ctx, name)
	if err != nil {
		return domain.Tag{}, err
	}
	t.apply(tag)
	return tag, nil
}

func (t *TagState) Rename(ctx context.Context, id int64, name string) (domain.Tag, error) {
	tag, err := t.store.RenameTag(ctx, id, name)
	if err != nil {
		return domain.Tag{}, err
	}
	t.apply(tag)
	return tag, nil
}

func (t *TagState) SetPin(ctx context.Context, id int64, pinned bool) (domain.Tag, error) {
	tag, err := t.store.SetTagPin(ctx, id, pinned)
	if err != nil {
		return domain.Tag{}, err
	}
	t.apply(tag)
	return tag, nil
}

func (t *TagState) SetLock(ctx context.Context, id int64, locked bool) (domain.Tag, error) {
	tag, err := t.store.SetTagLock(ctx, id, locked)
	if err != nil {
		return domain.Tag{}, err
	}
	t.apply(tag)
	return tag, nil
}

// Delete removes a tag, moving its marks to moveTo when non-zero. The
// active tag falls back to moveTo or the first remaining tag.
func (t *TagState) Delete(ctx context.Context, id, moveTo int64) error {
	if err := t.store.DeleteTag(ctx, id, moveTo); err != nil {
		return err
	}

	var target *domain.Tag
	if moveTo != 0 {
		tag, err := t.store.GetTag(ctx, moveTo)
		if err != nil {
			return err
		}
		target = &tag
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexLocked(id); i >= 0 {
		t.tags = append(t.tags[:i], t.tags[i+1:]...)
	}
	if target != nil {
		t.applyLocked(*target)
	}
	if t.active == id {
		t.active = moveTo
		if t.active == 0 && len(t.tags) > 0 {
			t.active = t.tags[0].ID
		}
	}
	return nil
}

// Refresh re-reads one tag after its total changed
func (t *TagState) Refresh(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		tag, err := t.store.GetTag(ctx, id)
		if err != nil {
			return err
		}
		t.apply(tag)
	}
	return nil
}

func (t *TagState) apply(tag domain.Tag) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyLocked(tag)
}

func (t *TagState) applyLocked(tag domain.Tag) {
	if i := t.indexLocked(tag.ID); i >= 0 {
		t.tags[i] = tag
	} else {
		t.tags = append(t.tags, tag)
	}
	sort.SliceStable(t.tags, func(i, j int) bool {
		if t.tags[i].IsPin != t.tags[j].IsPin {
			return t.tags[i].IsPin
		}
		return t.tags[i].Name < t.tags[j].Name
	})
	if t.active == 0 {
		t.active = tag.ID
	}
}

func (t *TagState) indexLocked(id int64) int {
	for i, tag := range t.tags {
		if tag.ID == id {
			return i
		}
	}
	return -1
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pbaille/marks/internal/domain"
)

const tagColumns = "id, name, is_pin, is_locked, total, created_at, updated_at"

func scanTag(row interface{ Scan(...any) error }) (domain.Tag, error) {
	var t domain.Tag
	err := row.Scan(&t.ID, &t.Name, &t.IsPin, &t.IsLocked, &t.Total, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// InsertTag creates a tag and returns it
func (s *Store) InsertTag(ctx context.Context, name string) (domain.Tag, error) {
	return insertTag(ctx, s.db, name)
}

func insertTag(ctx context.Context, q queryer, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, errors.New("tag name is required")
	}

	if _, err := getTagByName(ctx, q, name); err == nil {
		return domain.Tag{}, fmt.Errorf("%w: %s", ErrTagExists, name)
	} else if !errors.Is(err, ErrTagNotFound) {
		return domain.Tag{}, err
	}

	ts := now()
	res, err := q.ExecContext(ctx,
		"INSERT INTO tags (name, created_at, updated_at) VALUES (?, ?, ?)",
		name, ts, ts,
	)
	if err != nil {
		return domain.Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Tag{}, fmt.Errorf("insert tag id: %w", err)
	}
	return getTag(ctx, q, id)
}

// QuickAddTag finds a tag by name or creates it
func (s *Store) QuickAddTag(ctx context.Context, name string) (domain.Tag, error) {
	t, err := getTagByName(ctx, s.db, strings.TrimSpace(name))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrTagNotFound) {
		return domain.Tag{}, err
	}
	return insertTag(ctx, s.db, name)
}

// GetTag retrieves a tag by id
func (s *Store) GetTag(ctx context.Context, id int64) (domain.Tag, error) {
	return getTag(ctx, s.db, id)
}

func getTag(ctx context.Context, q queryer, id int64) (domain.Tag, error) {
	t, err := scanTag(q.QueryRowContext(ctx, "SELECT "+tagColumns+" FROM tags WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tag{}, ErrTagNotFound
	}
	if err != nil {
		return domain.Tag{}, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

// GetTagByName retrieves a tag by its exact name
func (s *Store) GetTagByName(ctx context.Context, name string) (domain.Tag, error) {
	return getTagByName(ctx, s.db, name)
}

func getTagByName(ctx context.Context, q queryer, name string) (domain.Tag, error) {
	t, err := scanTag(q.QueryRowContext(ctx, "SELECT "+tagColumns+" FROM tags WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tag{}, ErrTagNotFound
	}
	if err != nil {
		return domain.Tag{}, fmt.Errorf("get tag by name: %w", err)
	}
	return t, nil
}

// ListTags returns all tags, pinned first
func (s *Store) ListTags(ctx context.Context) ([]domain.Tag, error) {
	return listTags(ctx, s.db)
}

func listTags(ctx context.Context, q queryer) ([]domain.Tag, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+tagColumns+" FROM tags ORDER BY is_pin DESC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// RenameTag changes a tag name; locked tags are refused
func (s *Store) RenameTag(ctx context.Context, id int64, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, errors.New("tag name is required")
	}

	var out domain.Tag
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTag(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.IsLocked {
			return ErrTagLocked
		}
		if other, err := getTagByName(ctx, tx, name); err == nil && other.ID != id {
			return fmt.Errorf("%w: %s", ErrTagExists, name)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tags SET name = ?, updated_at = ? WHERE id = ?", name, now(), id,
		); err != nil {
			return fmt.Errorf("rename tag: %w", err)
		}
		out, err = getTag(ctx, tx, id)
		return err
	})
	return out, err
}

// SetTagPin pins or unpins a tag
func (s *Store) SetTagPin(ctx context.Context, id int64, pinned bool) (domain.Tag, error) {
	return s.setTagFlag(ctx, id, "is_pin", pinned)
}

// SetTagLock locks or unlocks a tag
func (s *Store) SetTagLock(ctx context.Context, id int64, locked bool) (domain.Tag, error) {
	return s.setTagFlag(ctx, id, "is_locked", locked)
}

func (s *Store) setTagFlag(ctx context.Context, id int64, column string, value bool) (domain.Tag, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tags SET "+column+" = ?, updated_at = ? WHERE id = ?", value, now(), id,
	)
	if err != nil {
		return domain.Tag{}, fmt.Errorf("update tag %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Tag{}, ErrTagNotFound
	}
	return getTag(ctx, s.db, id)
}

// DeleteTag removes a tag. When the tag still owns marks (trashed or not)
// they are moved to moveTo first; moveTo of 0 refuses the deletion with
// ErrTagNotEmpty instead.
func (s *Store) DeleteTag(ctx context.Context, id, moveTo int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTag(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.IsLocked {
			return ErrTagLocked
		}

		var owned int
		if err := tx.QueryRowContext(ctx,
			"SELECT (SELECT COUNT(*) FROM marks WHERE tag_id = ?) + (SELECT COUNT(*) FROM chats WHERE tag_id = ?)", id, id,
		).Scan(&owned); err != nil {
			return fmt.Errorf("count tag marks: %w", err)
		}

		if owned > 0 {
			if moveTo == 0 {
				return fmt.Errorf("%w: %s has %d items", ErrTagNotEmpty, t.Name, owned)
			}
			if moveTo == id {
				return errors.New("cannot move marks to the tag being deleted")
			}
			if _, err := getTag(ctx, tx, moveTo); err != nil {
				return fmt.Errorf("target tag: %w", err)
			}
			ts := now()
			if _, err := tx.ExecContext(ctx,
				"UPDATE marks SET tag_id = ?, updated_at = ? WHERE tag_id = ?", moveTo, ts, id,
			); err != nil {
				return fmt.Errorf("move marks: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE chats SET tag_id = ? WHERE tag_id = ?", moveTo, id,
			); err != nil {
				return fmt.Errorf("move chats: %w", err)
			}
			if err := recountTag(ctx, tx, moveTo); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete tag: %w", err)
		}
		return nil
	})
}

// RecountTag recomputes a tag's cached total from its non-trashed marks
func (s *Store) RecountTag(ctx context.Context, id int64) (domain.Tag, error) {
	if err := recountTag(ctx, s.db, id); err != nil {
		return domain.Tag{}, err
	}
	return getTag(ctx, s.db, id)
}

func recountTag(ctx context.Context, q queryer, id int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE tags
		SET total = (SELECT COUNT(*) FROM marks WHERE tag_id = ? AND deleted = FALSE)
		WHERE id = ?
	`, id, id)
	if err != nil {
		return fmt.Errorf("recount tag %d: %w", id, err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pbaille/marks/internal/domain"
)

const markColumns = "id, tag_id, type, content, description, url, deleted, created_at, updated_at"

func scanMark(row interface{ Scan(...any) error }) (domain.Mark, error) {
	var m domain.Mark
	var typ string
	err := row.Scan(&m.ID, &m.TagID, &typ, &m.Content, &m.Desc, &m.URL, &m.Deleted, &m.CreatedAt, &m.UpdatedAt)
	m.Type = domain.MarkType(typ)
	return m, err
}

// NewMark holds the fields a capture supplies for a new mark
type NewMark struct {
	TagID   int64
	Type    domain.MarkType
	Content string
	Desc    string
	URL     string
}

// InsertMark creates a mark under an existing tag and returns it
func (s *Store) InsertMark(ctx context.Context, nm NewMark) (domain.Mark, error) {
	if !nm.Type.Valid() {
		return domain.Mark{}, fmt.Errorf("invalid mark type %q", nm.Type)
	}

	var out domain.Mark
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTag(ctx, tx, nm.TagID); err != nil {
			return err
		}

		ts := now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO marks (tag_id, type, content, description, url, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, FALSE, ?, ?)
		`, nm.TagID, string(nm.Type), nm.Content, nm.Desc, nm.URL, ts, ts)
		if err != nil {
			return fmt.Errorf("insert mark: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert mark id: %w", err)
		}
		if err := recountTag(ctx, tx, nm.TagID); err != nil {
			return err
		}
		out, err = getMark(ctx, tx, id)
		return err
	})
	return out, err
}

// GetMark retrieves a mark by id, trashed or not
func (s *Store) GetMark(ctx context.Context, id int64) (domain.Mark, error) {
	return getMark(ctx, s.db, id)
}

func getMark(ctx context.Context, q queryer, id int64) (domain.Mark, error) {
	m, err := scanMark(q.QueryRowContext(ctx, "SELECT "+markColumns+" FROM marks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Mark{}, ErrMarkNotFound
	}
	if err != nil {
		return domain.Mark{}, fmt.Errorf("get mark: %w", err)
	}
	return m, nil
}

// ListMarks returns the non-trashed marks of a tag, newest first.
// A tagID of 0 lists every non-trashed mark.
func (s *Store) ListMarks(ctx context.Context, tagID int64) ([]domain.Mark, error) {
	if tagID == 0 {
		return s.queryMarks(ctx, "WHERE deleted = FALSE ORDER BY created_at DESC, id DESC")
	}
	return s.queryMarks(ctx, "WHERE tag_id = ? AND deleted = FALSE ORDER BY created_at DESC, id DESC", tagID)
}

// ListTrash returns every soft-deleted mark
func (s *Store) ListTrash(ctx context.Context) ([]domain.Mark, error) {
	return s.queryMarks(ctx, "WHERE deleted = TRUE ORDER BY updated_at DESC, id DESC")
}

// ListAllMarks returns every mark including trashed ones
func (s *Store) ListAllMarks(ctx context.Context) ([]domain.Mark, error) {
	return s.queryMarks(ctx, "ORDER BY id ASC")
}

// SearchMarks performs a simple text search over non-trashed marks
func (s *Store) SearchMarks(ctx context.Context, query string) ([]domain.Mark, error) {
	like := "%" + query + "%"
	return s.queryMarks(ctx,
		"WHERE deleted = FALSE AND (content LIKE ? OR description LIKE ? OR url LIKE ?) ORDER BY created_at DESC, id DESC",
		like, like, like,
	)
}

func (s *Store) queryMarks(ctx context.Context, clause string, args ...any) ([]domain.Mark, error) {
	return queryMarks(ctx, s.db, clause, args...)
}

func queryMarks(ctx context.Context, q queryer, clause string, args ...any) ([]domain.Mark, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+markColumns+" FROM marks "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list marks: %w", err)
	}
	defer rows.Close()

	var marks []domain.Mark
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		marks = append(marks, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marks: %w", err)
	}
	return marks, nil
}

// MarkUpdate carries optional field changes; nil fields are left alone
type MarkUpdate struct {
	Content *string
	Desc    *string
	URL     *string
}

// UpdateMark applies the non-nil fields of u and returns the updated mark
func (s *Store) UpdateMark(ctx context.Context, id int64, u MarkUpdate) (domain.Mark, error) {
	var out domain.Mark
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMark(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Content != nil {
			m.Content = *u.Content
		}
		if u.Desc != nil {
			m.Desc = *u.Desc
		}
		if u.URL != nil {
			m.URL = *u.URL
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE marks SET content = ?, description = ?, url = ?, updated_at = ? WHERE id = ?",
			m.Content, m.Desc, m.URL, now(), id,
		); err != nil {
			return fmt.Errorf("update mark: %w", err)
		}
		out, err = getMark(ctx, tx, id)
		return err
	})
	return out, err
}

// MoveMarks reassigns marks to another tag and returns them
func (s *Store) MoveMarks(ctx context.Context, ids []int64, tagID int64) ([]domain.Mark, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var out []domain.Mark
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTag(ctx, tx, tagID); err != nil {
			return err
		}

		touched := map[int64]bool{tagID: true}
		ts := now()
		for _, id := range ids {
			m, err := getMark(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("mark %d: %w", id, err)
			}
			touched[m.TagID] = true
			if _, err := tx.ExecContext(ctx,
				"UPDATE marks SET tag_id = ?, updated_at = ? WHERE id = ?", tagID, ts, id,
			); err != nil {
				return fmt.Errorf("move mark %d: %w", id, err)
			}
		}
		for t := range touched {
			if err := recountTag(ctx, tx, t); err != nil {
				return err
			}
		}

		out = make([]domain.Mark, 0, len(ids))
		for _, id := range ids {
			m, err := getMark(ctx, tx, id)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// DelMark moves a mark to the trash
func (s *Store) DelMark(ctx context.Context, id int64) (domain.Mark, error) {
	return s.setDeleted(ctx, id, true)
}

// RestoreMark brings a mark back from the trash
func (s *Store) RestoreMark(ctx context.Context, id int64) (domain.Mark, error) {
	return s.setDeleted(ctx, id, false)
}

func (s *Store) setDeleted(ctx context.Context, id int64, deleted bool) (domain.Mark, error) {
	var out domain.Mark
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMark(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE marks SET deleted = ?, updated_at = ? WHERE id = ?", deleted, now(), id,
		); err != nil {
			return fmt.Errorf("set mark deleted: %w", err)
		}
		if err := recountTag(ctx, tx, m.TagID); err != nil {
			return err
		}
		out, err = getMark(ctx, tx, id)
		return err
	})
	return out, err
}

// DelMarkForever removes the row and returns what was removed so the
// caller can clean up the backing asset
func (s *Store) DelMarkForever(ctx context.Context, id int64) (domain.Mark, error) {
	var out domain.Mark
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMark(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM marks WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete mark: %w", err)
		}
		if err := recountTag(ctx, tx, m.TagID); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// ClearTrash permanently removes every trashed mark and returns the removed rows
func (s *Store) ClearTrash(ctx context.Context) ([]domain.Mark, error) {
	var out []domain.Mark
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = queryMarks(ctx, tx, "WHERE deleted = TRUE ORDER BY id ASC")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM marks WHERE deleted = TRUE"); err != nil {
			return fmt.Errorf("clear trash: %w", err)
		}
		// Trashed marks never count toward totals; recount anyway to heal drift.
		tags := map[int64]bool{}
		for _, m := range out {
			tags[m.TagID] = true
		}
		for t := range tags {
			if err := recountTag(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

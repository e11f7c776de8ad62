package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pbaille/marks/internal/domain"
)

const chatColumns = "id, tag_id, role, type, content, created_at"

// InsertChat records a chat message under an existing tag
func (s *Store) InsertChat(ctx context.Context, tagID int64, role, typ, content string) (domain.Chat, error) {
	if typ == "" {
		typ = "chat"
	}

	var out domain.Chat
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTag(ctx, tx, tagID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO chats (tag_id, role, type, content, created_at) VALUES (?, ?, ?, ?, ?)",
			tagID, role, typ, content, now(),
		)
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert chat id: %w", err)
		}
		return tx.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = ?", id).
			Scan(&out.ID, &out.TagID, &out.Role, &out.Type, &out.Content, &out.CreatedAt)
	})
	return out, err
}

// ListChats returns the chats of a tag in creation order; tagID 0 lists all
func (s *Store) ListChats(ctx context.Context, tagID int64) ([]domain.Chat, error) {
	query := "SELECT " + chatColumns + " FROM chats"
	var args []any
	if tagID != 0 {
		query += " WHERE tag_id = ?"
		args = append(args, tagID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.TagID, &c.Role, &c.Type, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

// Snapshot is the full local state mirrored by sync
type Snapshot struct {
	Tags  []domain.Tag
	Marks []domain.Mark
	Chats []domain.Chat
}

// ReplaceAll overwrites tags, marks and chats with the given rows in one
// transaction, keeping their ids. Tag totals are recomputed afterwards.
func (s *Store) ReplaceAll(ctx context.Context, snap Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{"DELETE FROM chats", "DELETE FROM marks", "DELETE FROM tags"} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear tables: %w", err)
			}
		}

		for _, t := range snap.Tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tags (id, name, is_pin, is_locked, total, created_at, updated_at)
				VALUES (?, ?, ?, ?, 0, ?, ?)
			`, t.ID, t.Name, t.IsPin, t.IsLocked, t.CreatedAt, t.UpdatedAt); err != nil {
				return fmt.Errorf("restore tag %d: %w", t.ID, err)
			}
		}
		for _, m := range snap.Marks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO marks (id, tag_id, type, content, description, url, deleted, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, m.ID, m.TagID, string(m.Type), m.Content, m.Desc, m.URL, m.Deleted, m.CreatedAt, m.UpdatedAt); err != nil {
				return fmt.Errorf("restore mark %d: %w", m.ID, err)
			}
		}
		for _, c := range snap.Chats {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO chats (id, tag_id, role, type, content, created_at) VALUES (?, ?, ?, ?, ?, ?)",
				c.ID, c.TagID, c.Role, c.Type, c.Content, c.CreatedAt,
			); err != nil {
				return fmt.Errorf("restore chat %d: %w", c.ID, err)
			}
		}

		for _, t := range snap.Tags {
			if err := recountTag(ctx, tx, t.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Export reads the full local state
func (s *Store) Export(ctx context.Context) (Snapshot, error) {
	tags, err := s.ListTags(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	marks, err := s.ListAllMarks(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	chats, err := s.ListChats(ctx, 0)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Tags: tags, Marks: marks, Chats: chats}, nil
}

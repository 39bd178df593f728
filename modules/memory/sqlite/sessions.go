package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/flemzord/chatmem/internal/memory"
)

// CreateSession registers a new session with a random UUID.
func (b *Backend) CreateSession(ctx context.Context, title string) (memory.ChatSession, error) {
	if strings.TrimSpace(title) == "" {
		title = memory.DefaultSessionTitle
	}
	now := b.now().UTC()
	s := memory.ChatSession{
		ID:          uuid.NewString(),
		Title:       title,
		CreatedAt:   now,
		LastUpdated: now,
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, title, created_at, last_updated)
		VALUES (?, ?, ?, ?)`,
		s.ID, s.Title, formatTime(now), formatTime(now),
	)
	if err != nil {
		return memory.ChatSession{}, unavailable("create session", err)
	}
	return s, nil
}

// ListSessions returns sessions by last update, newest first.
func (b *Backend) ListSessions(ctx context.Context) ([]memory.ChatSession, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, title, created_at, last_updated
		FROM chat_sessions
		ORDER BY last_updated DESC, id ASC`)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var list []memory.ChatSession
	for rows.Next() {
		var (
			s                memory.ChatSession
			created, updated string
		)
		if err := rows.Scan(&s.ID, &s.Title, &created, &updated); err != nil {
			return nil, unavailable("list sessions: scan", err)
		}
		if s.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if s.LastUpdated, err = parseTime(updated); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list sessions rows", err)
	}
	return list, nil
}

// RenameSession sets a new title and bumps last_updated.
func (b *Backend) RenameSession(ctx context.Context, id, title string) error {
	if strings.TrimSpace(title) == "" {
		title = memory.DefaultSessionTitle
	}
	return b.updateSession(ctx, "rename session", id,
		`UPDATE chat_sessions SET title = ?, last_updated = MAX(last_updated, ?) WHERE id = ?`,
		title, formatTime(b.now()), id,
	)
}

// TouchSession bumps last_updated.
func (b *Backend) TouchSession(ctx context.Context, id string) error {
	return b.updateSession(ctx, "touch session", id,
		`UPDATE chat_sessions SET last_updated = MAX(last_updated, ?) WHERE id = ?`,
		formatTime(b.now()), id,
	)
}

// DeleteSession removes a session row.
func (b *Backend) DeleteSession(ctx context.Context, id string) error {
	return b.updateSession(ctx, "delete session", id,
		`DELETE FROM chat_sessions WHERE id = ?`, id,
	)
}

func (b *Backend) updateSession(ctx context.Context, op, id, query string, args ...any) error {
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op+": rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s: %w: session %q", op, memory.ErrNotFound, id)
	}
	return nil
}

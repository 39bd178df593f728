package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flemzord/chatmem/internal/memory"
)

// AppendMessage stores a message. The timestamp is clamped so it never goes
// below the previous message's, keeping timestamp order equal to id order.
func (b *Backend) AppendMessage(ctx context.Context, role memory.Role, content string) (memory.Message, error) {
	if !role.Valid() {
		return memory.Message{}, fmt.Errorf("%w: %q", memory.ErrInvalidRole, role)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.Message{}, unavailable("append message: begin", err)
	}
	defer rollback(tx)

	ts := b.now().UTC()
	var last string
	err = tx.QueryRowContext(ctx, `SELECT timestamp FROM messages ORDER BY id DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return memory.Message{}, unavailable("append message: last timestamp", err)
	default:
		prev, err := parseTime(last)
		if err != nil {
			return memory.Message{}, err
		}
		if ts.Before(prev) {
			ts = prev
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (role, content, timestamp) VALUES (?, ?, ?)`,
		string(role), content, formatTime(ts),
	)
	if err != nil {
		return memory.Message{}, unavailable("append message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return memory.Message{}, unavailable("append message: last insert id", err)
	}

	if err := tx.Commit(); err != nil {
		return memory.Message{}, unavailable("append message: commit", err)
	}

	return memory.Message{ID: id, Role: role, Content: content, Timestamp: ts}, nil
}

// CountMessages returns the number of stored messages.
func (b *Backend) CountMessages(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, unavailable("count messages", err)
	}
	return n, nil
}

// RangeMessages returns messages with from <= id <= to in ascending order.
func (b *Backend) RangeMessages(ctx context.Context, from, to int64) ([]memory.Message, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, role, content, timestamp
		FROM messages
		WHERE id BETWEEN ? AND ?
		ORDER BY id ASC`,
		from, to,
	)
	if err != nil {
		return nil, unavailable("range messages", err)
	}
	return collectMessages(rows, "range messages")
}

// RecentMessages returns the n newest messages in ascending order.
func (b *Backend) RecentMessages(ctx context.Context, n int) ([]memory.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	return recentMessages(ctx, b.db, n)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func recentMessages(ctx context.Context, q querier, n int) ([]memory.Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, role, content, timestamp FROM (
			SELECT id, role, content, timestamp
			FROM messages
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`,
		n,
	)
	if err != nil {
		return nil, unavailable("recent messages", err)
	}
	return collectMessages(rows, "recent messages")
}

// DeleteMessages removes messages with from <= id <= to.
func (b *Backend) DeleteMessages(ctx context.Context, from, to int64) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM messages WHERE id BETWEEN ? AND ?`, from, to)
	if err != nil {
		return 0, unavailable("delete messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("delete messages: rows affected", err)
	}
	return int(n), nil
}

func collectMessages(rows *sql.Rows, op string) ([]memory.Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []memory.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op+" rows", err)
	}
	return msgs, nil
}

func scanMessage(s scanner) (memory.Message, error) {
	var (
		msg  memory.Message
		role string
		ts   string
	)
	if err := s.Scan(&msg.ID, &role, &msg.Content, &ts); err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: scan message: %w", err)
	}
	msg.Role = memory.Role(role)

	t, err := parseTime(ts)
	if err != nil {
		return memory.Message{}, err
	}
	msg.Timestamp = t
	return msg, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flemzord/chatmem/internal/memory"
)

// AppendSummary stores a summary of [start, end]. The end message must exist
// when the transaction commits.
func (b *Backend) AppendSummary(ctx context.Context, content string, start, end int64) (memory.Summary, error) {
	if start > end {
		return memory.Summary{}, fmt.Errorf("%w: start %d > end %d", memory.ErrInvalidRange, start, end)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.Summary{}, unavailable("append summary: begin", err)
	}
	defer rollback(tx)

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)`, end).Scan(&exists); err != nil {
		return memory.Summary{}, unavailable("append summary: check end", err)
	}
	if !exists {
		return memory.Summary{}, fmt.Errorf("%w: end %d is not a stored message", memory.ErrInvalidRange, end)
	}

	ts := b.now().UTC()
	var last string
	err = tx.QueryRowContext(ctx, `SELECT timestamp FROM summaries ORDER BY id DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return memory.Summary{}, unavailable("append summary: last timestamp", err)
	default:
		prev, err := parseTime(last)
		if err != nil {
			return memory.Summary{}, err
		}
		if ts.Before(prev) {
			ts = prev
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO summaries (content, start_message_id, end_message_id, timestamp)
		VALUES (?, ?, ?, ?)`,
		content, start, end, formatTime(ts),
	)
	if err != nil {
		return memory.Summary{}, unavailable("append summary", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return memory.Summary{}, unavailable("append summary: last insert id", err)
	}

	if err := tx.Commit(); err != nil {
		return memory.Summary{}, unavailable("append summary: commit", err)
	}

	return memory.Summary{
		ID:             id,
		Content:        content,
		StartMessageID: start,
		EndMessageID:   end,
		Timestamp:      ts,
	}, nil
}

// LatestSummary returns the summary with the greatest end id.
func (b *Backend) LatestSummary(ctx context.Context) (memory.Summary, bool, error) {
	return latestSummary(ctx, b.db)
}

func latestSummary(ctx context.Context, q querier) (memory.Summary, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, content, start_message_id, end_message_id, timestamp
		FROM summaries
		ORDER BY end_message_id DESC, id DESC
		LIMIT 1`)

	s, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Summary{}, false, nil
	}
	if err != nil {
		return memory.Summary{}, false, unavailable("latest summary", err)
	}
	return s, true, nil
}

// ListSummaries returns every summary in ascending id order.
func (b *Backend) ListSummaries(ctx context.Context) ([]memory.Summary, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, content, start_message_id, end_message_id, timestamp
		FROM summaries
		ORDER BY id ASC`)
	if err != nil {
		return nil, unavailable("list summaries", err)
	}
	defer func() { _ = rows.Close() }()

	var list []memory.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list summaries rows", err)
	}
	return list, nil
}

// Snapshot reads the newest n messages and the latest summary inside one
// read transaction.
func (b *Backend) Snapshot(ctx context.Context, n int) (memory.Snapshot, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.Snapshot{}, unavailable("snapshot: begin", err)
	}
	defer rollback(tx)

	var snap memory.Snapshot
	if n > 0 {
		snap.Messages, err = recentMessages(ctx, tx, n)
		if err != nil {
			return memory.Snapshot{}, err
		}
	}
	snap.Latest, snap.HasSummary, err = latestSummary(ctx, tx)
	if err != nil {
		return memory.Snapshot{}, err
	}

	if err := tx.Commit(); err != nil {
		return memory.Snapshot{}, unavailable("snapshot: commit", err)
	}
	return snap, nil
}

func scanSummary(s scanner) (memory.Summary, error) {
	var (
		sum memory.Summary
		ts  string
	)
	if err := s.Scan(&sum.ID, &sum.Content, &sum.StartMessageID, &sum.EndMessageID, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return memory.Summary{}, err
		}
		return memory.Summary{}, fmt.Errorf("sqlite: scan summary: %w", err)
	}

	t, err := parseTime(ts)
	if err != nil {
		return memory.Summary{}, err
	}
	sum.Timestamp = t
	return sum, nil
}

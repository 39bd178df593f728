package sqlite

import (
	"context"
	"strings"

	"github.com/flemzord/chatmem/internal/memory"
)

// likeEscaper makes %, _ and the escape character match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps query for a substring LIKE match with '\' as escape.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

// Search returns messages and summaries whose content contains query.
// SQLite's LIKE is case-insensitive for ASCII letters. Results are ordered
// newest first; ties put summaries before messages, then higher ids first.
func (b *Backend) Search(ctx context.Context, query string) ([]memory.SearchHit, error) {
	pattern := likePattern(query)

	rows, err := b.db.QueryContext(ctx, `
		SELECT 'message' AS origin, 1 AS rank, id, content, timestamp, 0 AS start_id, 0 AS end_id
		FROM messages
		WHERE content LIKE ? ESCAPE '\'
		UNION ALL
		SELECT 'summary' AS origin, 0 AS rank, id, content, timestamp, start_message_id, end_message_id
		FROM summaries
		WHERE content LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC, rank ASC, id DESC`,
		pattern, pattern,
	)
	if err != nil {
		return nil, unavailable("search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []memory.SearchHit
	for rows.Next() {
		var (
			hit    memory.SearchHit
			origin string
			rank   int
			ts     string
		)
		if err := rows.Scan(&origin, &rank, &hit.ID, &hit.Content, &ts, &hit.StartMessageID, &hit.EndMessageID); err != nil {
			return nil, unavailable("search: scan", err)
		}
		hit.Origin = memory.Origin(origin)
		if hit.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search rows", err)
	}
	return hits, nil
}

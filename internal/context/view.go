package ctxengine

import (
	"context"
	"fmt"

	"github.com/flemzord/chatmem/internal/memory"
)

// SummaryPrefix introduces the synthetic summary entry of a context view.
const SummaryPrefix = "Previous conversation summary: "

// ViewBuilder assembles the bounded context: the latest applicable summary
// followed by the newest raw messages.
type ViewBuilder struct {
	reader    memory.SnapshotReader
	maxActive int
}

// NewViewBuilder creates a view builder. maxActive is the window used when
// callers pass a non-positive limit.
func NewViewBuilder(reader memory.SnapshotReader, maxActive int) *ViewBuilder {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	return &ViewBuilder{reader: reader, maxActive: maxActive}
}

// Build returns at most limit raw messages in ascending id order, preceded
// by the latest summary when that summary ends before the oldest returned
// message. A summary overlapping the window is omitted so no turn appears
// twice. Build never writes.
func (v *ViewBuilder) Build(ctx context.Context, limit int) ([]memory.ContextEntry, error) {
	if limit <= 0 {
		limit = v.maxActive
	}

	snap, err := v.reader.Snapshot(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ctxengine: snapshot: %w", err)
	}
	return Assemble(snap), nil
}

// Assemble turns a snapshot into context entries.
func Assemble(snap memory.Snapshot) []memory.ContextEntry {
	if len(snap.Messages) == 0 {
		return []memory.ContextEntry{}
	}

	entries := make([]memory.ContextEntry, 0, len(snap.Messages)+1)
	if snap.HasSummary && snap.Messages[0].ID > snap.Latest.EndMessageID {
		entries = append(entries, memory.ContextEntry{
			Role:      memory.RoleSystem,
			Content:   SummaryPrefix + snap.Latest.Content,
			Timestamp: snap.Latest.Timestamp,
			IsSummary: true,
		})
	}
	for _, m := range snap.Messages {
		entries = append(entries, memory.ContextEntry{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return entries
}

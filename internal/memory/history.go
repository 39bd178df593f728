// Package memory defines the conversation history domain: messages,
// summaries, sessions, the backend ports that persist them, and an
// in-memory backend.
package memory

import "context"

// MessageLog is the append-only record of chat turns.
// Implementations must be safe for concurrent use.
type MessageLog interface {
	// AppendMessage stores a message and returns it with its assigned id
	// and timestamp.
	AppendMessage(ctx context.Context, role Role, content string) (Message, error)

	// CountMessages returns the number of stored messages.
	CountMessages(ctx context.Context) (int, error)

	// RangeMessages returns messages with from <= id <= to in ascending order.
	RangeMessages(ctx context.Context, from, to int64) ([]Message, error)

	// RecentMessages returns the n newest messages in ascending order.
	RecentMessages(ctx context.Context, n int) ([]Message, error)

	// DeleteMessages removes messages with from <= id <= to and reports how
	// many were removed. Only the opt-in prune policy calls it.
	DeleteMessages(ctx context.Context, from, to int64) (int, error)
}

// SummaryLog stores the derived summaries.
type SummaryLog interface {
	// AppendSummary stores a summary of [start, end]. It fails with
	// ErrInvalidRange when start > end or when end is not a stored message.
	AppendSummary(ctx context.Context, content string, start, end int64) (Summary, error)

	// LatestSummary returns the summary with the greatest end id, ties
	// broken by the greatest summary id.
	LatestSummary(ctx context.Context) (Summary, bool, error)

	// ListSummaries returns every summary in ascending id order.
	ListSummaries(ctx context.Context) ([]Summary, error)
}

// SnapshotReader provides the consistent read used for context assembly.
type SnapshotReader interface {
	// Snapshot returns the n newest messages and the latest summary as
	// seen by a single read.
	Snapshot(ctx context.Context, n int) (Snapshot, error)
}

// Searcher runs the union substring query over messages and summaries.
type Searcher interface {
	// Search returns every message and summary whose content contains
	// query, case-insensitively, newest first. An empty query matches all.
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// SessionRegistry catalogs named conversation threads.
type SessionRegistry interface {
	CreateSession(ctx context.Context, title string) (ChatSession, error)

	// ListSessions returns stored sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]ChatSession, error)

	RenameSession(ctx context.Context, id, title string) error

	// TouchSession bumps LastUpdated to the current time.
	TouchSession(ctx context.Context, id string) error

	DeleteSession(ctx context.Context, id string) error
}

// Backend is everything the conversation store needs from persistence.
type Backend interface {
	MessageLog
	SummaryLog
	SnapshotReader
	Searcher
	SessionRegistry
}

// ServiceName is the key under which a memory module registers its Backend
// in the application service registry.
const ServiceName = "memory.backend"

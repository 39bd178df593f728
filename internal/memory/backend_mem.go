package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBackend is a thread-safe, volatile implementation of Backend.
// It mirrors the ordering and range rules of the SQLite backend and is used
// by tests and by the "memory" fallback.
type InMemoryBackend struct {
	mu        sync.RWMutex
	now       func() time.Time
	messages  []Message
	summaries []Summary
	sessions  map[string]ChatSession
	nextMsg   int64
	nextSum   int64
	closed    bool
}

// InMemoryOption customizes an InMemoryBackend.
type InMemoryOption func(*InMemoryBackend)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) InMemoryOption {
	return func(b *InMemoryBackend) { b.now = now }
}

// NewInMemoryBackend creates an empty backend.
func NewInMemoryBackend(opts ...InMemoryOption) *InMemoryBackend {
	b := &InMemoryBackend{
		now:      time.Now,
		sessions: make(map[string]ChatSession),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Compile-time interface check.
var _ Backend = (*InMemoryBackend)(nil)

// Close marks the backend unavailable. Subsequent calls fail with
// ErrStoreUnavailable.
func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *InMemoryBackend) check() error {
	if b.closed {
		return fmt.Errorf("%w: backend closed", ErrStoreUnavailable)
	}
	return nil
}

// stamp returns the current UTC time, never earlier than floor.
func (b *InMemoryBackend) stamp(floor time.Time) time.Time {
	t := b.now().UTC()
	if t.Before(floor) {
		return floor
	}
	return t
}

// AppendMessage stores a message.
func (b *InMemoryBackend) AppendMessage(_ context.Context, role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return Message{}, err
	}

	var floor time.Time
	if n := len(b.messages); n > 0 {
		floor = b.messages[n-1].Timestamp
	}

	b.nextMsg++
	msg := Message{
		ID:        b.nextMsg,
		Role:      role,
		Content:   content,
		Timestamp: b.stamp(floor),
	}
	b.messages = append(b.messages, msg)
	return msg, nil
}

// CountMessages returns the number of stored messages.
func (b *InMemoryBackend) CountMessages(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return 0, err
	}
	return len(b.messages), nil
}

// RangeMessages returns messages with from <= id <= to.
func (b *InMemoryBackend) RangeMessages(_ context.Context, from, to int64) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}

	var result []Message
	for _, m := range b.messages {
		if m.ID >= from && m.ID <= to {
			result = append(result, m)
		}
	}
	return result, nil
}

// RecentMessages returns the n newest messages in ascending order.
func (b *InMemoryBackend) RecentMessages(_ context.Context, n int) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.recent(n), nil
}

func (b *InMemoryBackend) recent(n int) []Message {
	if n <= 0 {
		return nil
	}
	msgs := b.messages
	if n > len(msgs) {
		n = len(msgs)
	}
	result := make([]Message, n)
	copy(result, msgs[len(msgs)-n:])
	return result
}

// DeleteMessages removes messages with from <= id <= to.
func (b *InMemoryBackend) DeleteMessages(_ context.Context, from, to int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return 0, err
	}

	kept := b.messages[:0]
	removed := 0
	for _, m := range b.messages {
		if m.ID >= from && m.ID <= to {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	b.messages = kept
	return removed, nil
}

// AppendSummary stores a summary of [start, end].
func (b *InMemoryBackend) AppendSummary(_ context.Context, content string, start, end int64) (Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return Summary{}, err
	}

	if start > end {
		return Summary{}, fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}
	if !b.hasMessage(end) {
		return Summary{}, fmt.Errorf("%w: end %d is not a stored message", ErrInvalidRange, end)
	}

	var floor time.Time
	if n := len(b.summaries); n > 0 {
		floor = b.summaries[n-1].Timestamp
	}

	b.nextSum++
	s := Summary{
		ID:             b.nextSum,
		Content:        content,
		StartMessageID: start,
		EndMessageID:   end,
		Timestamp:      b.stamp(floor),
	}
	b.summaries = append(b.summaries, s)
	return s, nil
}

func (b *InMemoryBackend) hasMessage(id int64) bool {
	i := sort.Search(len(b.messages), func(i int) bool { return b.messages[i].ID >= id })
	return i < len(b.messages) && b.messages[i].ID == id
}

// LatestSummary returns the summary with the greatest end id.
func (b *InMemoryBackend) LatestSummary(_ context.Context) (Summary, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return Summary{}, false, err
	}
	s, ok := b.latest()
	return s, ok, nil
}

func (b *InMemoryBackend) latest() (Summary, bool) {
	var (
		best  Summary
		found bool
	)
	for _, s := range b.summaries {
		if !found || s.EndMessageID > best.EndMessageID ||
			(s.EndMessageID == best.EndMessageID && s.ID > best.ID) {
			best = s
			found = true
		}
	}
	return best, found
}

// ListSummaries returns every summary in ascending id order.
func (b *InMemoryBackend) ListSummaries(_ context.Context) ([]Summary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}
	result := make([]Summary, len(b.summaries))
	copy(result, b.summaries)
	return result, nil
}

// Snapshot returns the n newest messages and the latest summary under one lock.
func (b *InMemoryBackend) Snapshot(_ context.Context, n int) (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Messages: b.recent(n)}
	snap.Latest, snap.HasSummary = b.latest()
	return snap, nil
}

// Search matches content across messages and summaries. Only ASCII letters
// fold case, the same as SQLite's LIKE, so both backends return the same hits.
func (b *InMemoryBackend) Search(_ context.Context, query string) ([]SearchHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}

	q := foldASCII(query)
	var hits []SearchHit
	for _, m := range b.messages {
		if strings.Contains(foldASCII(m.Content), q) {
			hits = append(hits, SearchHit{
				Origin:    OriginMessage,
				ID:        m.ID,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			})
		}
	}
	for _, s := range b.summaries {
		if strings.Contains(foldASCII(s.Content), q) {
			hits = append(hits, SearchHit{
				Origin:         OriginSummary,
				ID:             s.ID,
				Content:        s.Content,
				Timestamp:      s.Timestamp,
				StartMessageID: s.StartMessageID,
				EndMessageID:   s.EndMessageID,
			})
		}
	}
	SortHits(hits)
	return hits, nil
}

// foldASCII lowercases A-Z and leaves every other rune untouched.
func foldASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}, s)
}

// SortHits orders search hits newest first. Equal timestamps put summaries
// before messages, then higher ids first.
func SortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, c := hits[i], hits[j]
		if !a.Timestamp.Equal(c.Timestamp) {
			return a.Timestamp.After(c.Timestamp)
		}
		if a.Origin != c.Origin {
			return a.Origin == OriginSummary
		}
		return a.ID > c.ID
	})
}

// CreateSession registers a new session. An empty title becomes
// DefaultSessionTitle.
func (b *InMemoryBackend) CreateSession(_ context.Context, title string) (ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return ChatSession{}, err
	}

	if strings.TrimSpace(title) == "" {
		title = DefaultSessionTitle
	}
	now := b.now().UTC()
	s := ChatSession{
		ID:          uuid.NewString(),
		Title:       title,
		CreatedAt:   now,
		LastUpdated: now,
	}
	b.sessions[s.ID] = s
	return s, nil
}

// ListSessions returns sessions ordered by LastUpdated, newest first.
func (b *InMemoryBackend) ListSessions(_ context.Context) ([]ChatSession, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}

	result := make([]ChatSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		result = append(result, s)
	}
	SortSessions(result)
	return result, nil
}

// SortSessions orders sessions by LastUpdated descending, then by ID.
func SortSessions(sessions []ChatSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].LastUpdated.Equal(sessions[j].LastUpdated) {
			return sessions[i].LastUpdated.After(sessions[j].LastUpdated)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// RenameSession changes a session title and bumps LastUpdated.
func (b *InMemoryBackend) RenameSession(_ context.Context, id, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}

	s, ok := b.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultSessionTitle
	}
	s.Title = title
	s.LastUpdated = b.stamp(s.LastUpdated)
	b.sessions[id] = s
	return nil
}

// TouchSession bumps LastUpdated.
func (b *InMemoryBackend) TouchSession(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}

	s, ok := b.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	s.LastUpdated = b.stamp(s.LastUpdated)
	b.sessions[id] = s
	return nil
}

// DeleteSession removes a session.
func (b *InMemoryBackend) DeleteSession(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}

	if _, ok := b.sessions[id]; !ok {
		return fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	delete(b.sessions, id)
	return nil
}

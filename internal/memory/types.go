package memory

import (
	"fmt"
	"time"
)

// Role identifies who produced a message.
type Role string

// Role constants for stored messages.
const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem:
		return true
	default:
		return false
	}
}

// ParseRole converts s into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Message is one conversational turn. IDs are assigned by the backend and
// strictly increase in append order; Timestamp never decreases with ID.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary compresses the closed message range [StartMessageID, EndMessageID].
type Summary struct {
	ID             int64     `json:"id"`
	Content        string    `json:"content"`
	StartMessageID int64     `json:"start_message_id"`
	EndMessageID   int64     `json:"end_message_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// Covers reports whether the summary range includes the message id.
func (s Summary) Covers(id int64) bool {
	return id >= s.StartMessageID && id <= s.EndMessageID
}

// Default session values used when a caller omits a title or when the
// registry is empty.
const (
	DefaultSessionTitle  = "New Chat"
	PlaceholderSessionID = "default"
)

// ChatSession is a named conversation thread used for presentation only.
type ChatSession struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Origin tells which log a search hit came from.
type Origin string

// Origin constants for search hits.
const (
	OriginMessage Origin = "message"
	OriginSummary Origin = "summary"
)

// SearchHit is one row of a search result. StartMessageID and EndMessageID
// are only set for summary hits.
type SearchHit struct {
	Origin         Origin    `json:"origin"`
	ID             int64     `json:"id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	StartMessageID int64     `json:"start_message_id,omitempty"`
	EndMessageID   int64     `json:"end_message_id,omitempty"`
}

// ContextEntry is one element of an assembled conversation context.
type ContextEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsSummary bool      `json:"is_summary"`
}

// Snapshot is a consistent read of the newest messages and the latest
// summary, taken in a single read transaction.
type Snapshot struct {
	// Messages holds the newest messages in ascending id order.
	Messages []Message

	// Latest is the most recent summary; valid only when HasSummary is true.
	Latest     Summary
	HasSummary bool
}

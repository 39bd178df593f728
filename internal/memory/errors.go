package memory

import "errors"

// Sentinel errors shared by every backend and by the conversation store.
var (
	// ErrStoreUnavailable indicates the persistence layer cannot serve the
	// operation (not initialized, closed, or an I/O failure).
	ErrStoreUnavailable = errors.New("memory: store unavailable")

	// ErrInvalidRange indicates a summary append with malformed bounds.
	// It points at a retention bug, never at caller input.
	ErrInvalidRange = errors.New("memory: invalid summary range")

	// ErrSummarizationFailed indicates the summarization collaborator
	// returned an error, an empty text, or timed out.
	ErrSummarizationFailed = errors.New("memory: summarization failed")

	// ErrNotFound indicates the referenced session does not exist.
	ErrNotFound = errors.New("memory: not found")

	// ErrInvalidRole indicates a message role outside user/model/system.
	ErrInvalidRole = errors.New("memory: invalid role")
)

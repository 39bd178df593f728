package ctxengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/chatmem/internal/memory"
	"github.com/flemzord/chatmem/internal/provider"
)

// Summarizer produces a condensed summary of a batch of messages.
// An error or an empty result is a summarization failure.
type Summarizer interface {
	Summarize(ctx context.Context, messages []memory.Message) (string, error)
}

// SummarizerFunc adapts a plain function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, messages []memory.Message) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, messages []memory.Message) (string, error) {
	return f(ctx, messages)
}

// errEmptySummary is returned when the summarizer produced only whitespace.
var errEmptySummary = errors.New("empty summary")

// ProviderSummarizer summarizes through an LLM provider.
type ProviderSummarizer struct {
	provider  provider.Provider
	maxTokens int
}

// NewProviderSummarizer creates a summarizer backed by p. maxTokens caps the
// completion length; 0 leaves it to the provider.
func NewProviderSummarizer(p provider.Provider, maxTokens int) *ProviderSummarizer {
	return &ProviderSummarizer{provider: p, maxTokens: maxTokens}
}

// Compile-time interface check.
var _ Summarizer = (*ProviderSummarizer)(nil)

// Summarize sends the conversation prompt as a single user message.
func (s *ProviderSummarizer) Summarize(ctx context.Context, messages []memory.Message) (string, error) {
	resp, err := s.provider.Complete(ctx, provider.CompletionRequest{
		Messages: []provider.LLMMessage{{
			Role:    provider.MessageRoleUser,
			Content: BuildPrompt(messages),
		}},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.provider.ModelName(), err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errEmptySummary
	}
	return text, nil
}

// BuildPrompt renders the summarization prompt for a batch of messages.
func BuildPrompt(messages []memory.Message) string {
	var b strings.Builder
	b.WriteString("Please summarize the following conversation:\n\n")
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte('[')
		b.WriteString(string(m.Role))
		b.WriteString("]: ")
		b.WriteString(m.Content)
	}
	b.WriteString("\n\nSummary:")
	return b.String()
}

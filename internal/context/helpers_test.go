package ctxengine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/flemzord/chatmem/internal/memory"
)

// mockSummarizer implements ctxengine.Summarizer for tests.
type mockSummarizer struct {
	mu      sync.Mutex
	result  string
	err     error
	batches [][]memory.Message
}

func (m *mockSummarizer) Summarize(_ context.Context, msgs []memory.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]memory.Message, len(msgs))
	copy(batch, msgs)
	m.batches = append(m.batches, batch)
	return m.result, m.err
}

func (m *mockSummarizer) called() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockSummarizer) lastBatch() []memory.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return nil
	}
	return m.batches[len(m.batches)-1]
}

// appendN appends n messages alternating user/model roles.
func appendN(t *testing.T, b memory.MessageLog, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleModel
		}
		if _, err := b.AppendMessage(context.Background(), role, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
}

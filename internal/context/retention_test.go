package ctxengine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPolicy(b ctxengine.RetentionBackend, s ctxengine.Summarizer, cfg ctxengine.ContextConfig) *ctxengine.Policy {
	return ctxengine.NewPolicy(b, s, cfg, ctxengine.WithLogger(quietLogger()))
}

func TestPolicy_BelowThresholdSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		count int
	}{
		{"empty", 0},
		{"within window", 20},
		{"excess at threshold", 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := memory.NewInMemoryBackend()
			appendN(t, b, tt.count)
			s := &mockSummarizer{result: "x"}
			p := newPolicy(b, s, ctxengine.ContextConfig{})

			res, err := p.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Compressed || s.called() != 0 {
				t.Errorf("compressed = %v, summarizer calls = %d", res.Compressed, s.called())
			}
		})
	}
}

func TestPolicy_CompressesOldestExcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := memory.NewInMemoryBackend()
	appendN(t, b, 31)
	s := &mockSummarizer{result: "S1"}
	p := newPolicy(b, s, ctxengine.ContextConfig{})

	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Compressed {
		t.Fatal("expected compression")
	}
	if res.Summary.StartMessageID != 1 || res.Summary.EndMessageID != 11 {
		t.Errorf("range = [%d,%d], want [1,11]", res.Summary.StartMessageID, res.Summary.EndMessageID)
	}
	if len(s.lastBatch()) != 11 {
		t.Errorf("batch size = %d, want 11", len(s.lastBatch()))
	}

	// One more message leaves a single uncovered message outside the window.
	appendN(t, b, 1)
	res, err = p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Compressed {
		t.Errorf("unexpected second compression over %+v", res.Summary)
	}
}

func TestPolicy_NextBatchStartsAfterLatestSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := memory.NewInMemoryBackend()
	appendN(t, b, 31)
	s := &mockSummarizer{result: "S"}
	p := newPolicy(b, s, ctxengine.ContextConfig{})
	if _, err := p.Run(ctx); err != nil {
		t.Fatal(err)
	}

	appendN(t, b, 11)
	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Compressed || res.Summary.StartMessageID != 12 || res.Summary.EndMessageID != 22 {
		t.Errorf("second summary = %+v, want [12,22]", res.Summary)
	}
}

func TestPolicy_FailureLeavesLogsUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := memory.NewInMemoryBackend()
	appendN(t, b, 31)
	boom := errors.New("boom")
	s := &mockSummarizer{err: boom}
	p := newPolicy(b, s, ctxengine.ContextConfig{})

	_, err := p.Run(ctx)
	if !errors.Is(err, memory.ErrSummarizationFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrSummarizationFailed wrapping boom", err)
	}
	if p.State() != ctxengine.StateIdle {
		t.Errorf("state = %s, want idle", p.State())
	}
	if _, ok, _ := b.LatestSummary(ctx); ok {
		t.Error("summary written despite failure")
	}
	if n, _ := b.CountMessages(ctx); n != 31 {
		t.Errorf("count = %d, want 31", n)
	}

	// Retry after the next append covers the larger batch.
	appendN(t, b, 1)
	s.mu.Lock()
	s.err, s.result = nil, "S1"
	s.mu.Unlock()

	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.StartMessageID != 1 || res.Summary.EndMessageID != 12 {
		t.Errorf("range = [%d,%d], want [1,12]", res.Summary.StartMessageID, res.Summary.EndMessageID)
	}
}

func TestPolicy_EmptySummaryIsFailure(t *testing.T) {
	t.Parallel()

	b := memory.NewInMemoryBackend()
	appendN(t, b, 31)
	p := newPolicy(b, &mockSummarizer{result: "  "}, ctxengine.ContextConfig{})

	if _, err := p.Run(context.Background()); !errors.Is(err, memory.ErrSummarizationFailed) {
		t.Errorf("err = %v, want ErrSummarizationFailed", err)
	}
}

func TestPolicy_SummarizeTimeout(t *testing.T) {
	t.Parallel()

	b := memory.NewInMemoryBackend()
	appendN(t, b, 31)

	release := make(chan struct{})
	defer close(release)
	// Ignores cancellation on purpose.
	stuck := ctxengine.SummarizerFunc(func(_ context.Context, _ []memory.Message) (string, error) {
		<-release
		return "late", nil
	})
	p := newPolicy(b, stuck, ctxengine.ContextConfig{SummarizeTimeout: 20 * time.Millisecond})

	_, err := p.Run(context.Background())
	if !errors.Is(err, memory.ErrSummarizationFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want timeout failure", err)
	}
	if p.State() != ctxengine.StateIdle {
		t.Errorf("state = %s, want idle", p.State())
	}
}

func TestPolicy_NilSummarizerDisablesCompression(t *testing.T) {
	t.Parallel()

	b := memory.NewInMemoryBackend()
	appendN(t, b, 40)
	p := newPolicy(b, nil, ctxengine.ContextConfig{})

	res, err := p.Run(context.Background())
	if err != nil || res.Compressed {
		t.Errorf("Run = %+v, %v", res, err)
	}
}

func TestPolicy_DeleteSummarized(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := memory.NewInMemoryBackend()
	appendN(t, b, 31)
	p := newPolicy(b, &mockSummarizer{result: "S"}, ctxengine.ContextConfig{DeleteSummarized: true})

	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Pruned != 11 {
		t.Errorf("pruned = %d, want 11", res.Pruned)
	}
	if n, _ := b.CountMessages(ctx); n != 20 {
		t.Errorf("count = %d, want 20", n)
	}

	appendN(t, b, 11)
	res, err = p.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.StartMessageID != 12 || res.Summary.EndMessageID != 22 {
		t.Errorf("second range = [%d,%d], want [12,22]", res.Summary.StartMessageID, res.Summary.EndMessageID)
	}
}

// blockingSummarizer holds every call until released and records the
// highest concurrency observed.
type blockingSummarizer struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	calls    int
	entered  chan struct{}
	release  chan struct{}
}

func (s *blockingSummarizer) Summarize(_ context.Context, _ []memory.Message) (string, error) {
	s.mu.Lock()
	s.inFlight++
	s.calls++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	s.entered <- struct{}{}
	<-s.release

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return "summary", nil
}

func TestPolicy_TriggersCoalesceWhileCompressing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := memory.NewInMemoryBackend()
	appendN(t, b, 31)

	s := &blockingSummarizer{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	p := newPolicy(b, s, ctxengine.ContextConfig{SummarizeTimeout: 5 * time.Second})

	done := make(chan struct{})
	go func() {
		p.Trigger(ctx)
		close(done)
	}()
	<-s.entered
	if p.State() != ctxengine.StateCompressing {
		t.Errorf("state = %s, want compressing", p.State())
	}

	// Concurrent triggers return immediately and are coalesced.
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Trigger(ctx)
		}()
	}
	wg.Wait()

	close(s.release)
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", s.peak)
	}
	if s.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1 (coalesced pass finds nothing new)", s.calls)
	}

	summaries, _ := b.ListSummaries(ctx)
	if len(summaries) != 1 {
		t.Errorf("summaries = %d, want 1", len(summaries))
	}
}

// Package conversation exposes the bounded conversation-history store:
// appends trigger the retention policy, reads go through the view builder.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/memory"
	"github.com/flemzord/chatmem/internal/telemetry"
)

// ServiceName is the key under which the store is registered in the
// application service registry.
const ServiceName = "conversation.store"

// Config configures a Store.
type Config struct {
	Context ctxengine.ContextConfig

	// AsyncCompaction runs the retention trigger on a background goroutine
	// instead of inline with AddMessage.
	AsyncCompaction bool

	// OwnsBackend makes Close also close the backend when it implements
	// io.Closer.
	OwnsBackend bool

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Store is the exposed interface of the conversation history.
// It is safe for concurrent use.
type Store struct {
	backend memory.Backend
	policy  *ctxengine.Policy
	view    *ctxengine.ViewBuilder
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	async bool
	owns  bool

	// closeMu orders in-flight appends before Close so wg.Add never races
	// with wg.Wait.
	closeMu sync.RWMutex
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates a Store over backend. A nil summarizer disables compression.
func New(backend memory.Backend, summarizer ctxengine.Summarizer, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")

	ctxCfg := cfg.Context.WithDefaults()
	return &Store{
		backend: backend,
		policy: ctxengine.NewPolicy(backend, summarizer, ctxCfg,
			ctxengine.WithLogger(logger.With("component", "retention")),
			ctxengine.WithMetrics(cfg.Metrics),
		),
		view:    ctxengine.NewViewBuilder(backend, ctxCfg.MaxActive),
		logger:  logger,
		metrics: cfg.Metrics,
		tracer:  telemetry.Tracer(),
		async:   cfg.AsyncCompaction,
		owns:    cfg.OwnsBackend,
	}
}

func (s *Store) check() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store closed", memory.ErrStoreUnavailable)
	}
	return nil
}

// AddMessage appends a turn and then runs the retention policy. A failed
// compression is logged and never returned.
func (s *Store) AddMessage(ctx context.Context, role memory.Role, content string) (memory.Message, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if err := s.check(); err != nil {
		return memory.Message{}, err
	}
	if !role.Valid() {
		return memory.Message{}, fmt.Errorf("%w: %q", memory.ErrInvalidRole, role)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.add_message",
		trace.WithAttributes(attribute.String("message.role", string(role))))
	defer span.End()

	msg, err := s.backend.AppendMessage(ctx, role, content)
	if err != nil {
		span.RecordError(err)
		return memory.Message{}, fmt.Errorf("conversation: append message: %w", err)
	}
	span.SetAttributes(attribute.Int64("message.id", msg.ID))
	s.metrics.MessageAppended(string(role))

	// The caller's cancellation must not abort a compression it started.
	tctx := context.WithoutCancel(ctx)
	if s.async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.policy.Trigger(tctx)
		}()
	} else {
		s.policy.Trigger(tctx)
	}
	return msg, nil
}

// GetContext returns the latest applicable summary followed by at most
// limit recent messages. limit <= 0 means the configured active window.
func (s *Store) GetContext(ctx context.Context, limit int) ([]memory.ContextEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	entries, err := s.view.Build(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: get context: %w", err)
	}
	s.metrics.ContextServed()
	return entries, nil
}

// Search returns messages and summaries containing query, newest first.
func (s *Store) Search(ctx context.Context, query string) ([]memory.SearchHit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	hits, err := s.backend.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("conversation: search: %w", err)
	}
	if hits == nil {
		hits = []memory.SearchHit{}
	}
	s.metrics.SearchServed()
	return hits, nil
}

// Summaries returns every stored summary in ascending id order.
func (s *Store) Summaries(ctx context.Context) ([]memory.Summary, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	list, err := s.backend.ListSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: list summaries: %w", err)
	}
	if list == nil {
		list = []memory.Summary{}
	}
	return list, nil
}

// Compact runs one retention evaluation synchronously and reports what it
// did, including summarization failures.
func (s *Store) Compact(ctx context.Context) (ctxengine.Result, error) {
	if err := s.check(); err != nil {
		return ctxengine.Result{}, err
	}
	return s.policy.Run(ctx)
}

// State reports the retention policy phase.
func (s *Store) State() ctxengine.State {
	return s.policy.State()
}

// Config returns the effective context configuration.
func (s *Store) Config() ctxengine.ContextConfig {
	return s.policy.Config()
}

// CreateSession registers a new session. An empty title becomes "New Chat".
func (s *Store) CreateSession(ctx context.Context, title string) (memory.ChatSession, error) {
	if err := s.check(); err != nil {
		return memory.ChatSession{}, err
	}
	sess, err := s.backend.CreateSession(ctx, title)
	if err != nil {
		return memory.ChatSession{}, fmt.Errorf("conversation: create session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions most recently updated first. When none
// exist it returns a single placeholder that is not persisted.
func (s *Store) ListSessions(ctx context.Context) ([]memory.ChatSession, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	list, err := s.backend.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: list sessions: %w", err)
	}
	if len(list) == 0 {
		return []memory.ChatSession{{
			ID:    memory.PlaceholderSessionID,
			Title: memory.DefaultSessionTitle,
		}}, nil
	}
	return list, nil
}

// RenameSession changes a session title.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.backend.RenameSession(ctx, id, title); err != nil {
		return fmt.Errorf("conversation: rename session: %w", err)
	}
	return nil
}

// TouchSession marks a session as just used.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.backend.TouchSession(ctx, id); err != nil {
		return fmt.Errorf("conversation: touch session: %w", err)
	}
	return nil
}

// DeleteSession removes a session. Messages are not scoped to sessions and
// are left in place.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.backend.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("conversation: delete session: %w", err)
	}
	return nil
}

// Ping reports whether the store and its backend can serve requests.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("conversation: ping: %w", err)
		}
	}
	return nil
}

// Close waits for background compactions and, when the store owns the
// backend, closes it. Later calls fail with ErrStoreUnavailable.
func (s *Store) Close() error {
	s.closeMu.Lock()
	already := s.closed.Swap(true)
	s.closeMu.Unlock()
	if already {
		return nil
	}
	s.wg.Wait()

	if !s.owns {
		return nil
	}
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return errors.Join(memory.ErrStoreUnavailable, err)
		}
	}
	return nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/chatmem/internal/config"
	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/conversation"
	"github.com/flemzord/chatmem/internal/core"
	"github.com/flemzord/chatmem/internal/cron"
	"github.com/flemzord/chatmem/internal/memory"
	"github.com/flemzord/chatmem/internal/provider"
	"github.com/flemzord/chatmem/internal/telemetry"
)

// conversationModule puts the store in the App lifecycle so it is closed,
// draining background compactions, before the backend module stops.
type conversationModule struct {
	store *conversation.Store
}

func (m *conversationModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "conversation"}
}

func (m *conversationModule) Stop(context.Context) error {
	return m.store.Close()
}

// summaryMaxTokens caps summary completions.
const summaryMaxTokens = 1024

// wireConversation builds the conversation store over the registered memory
// backend and, when a provider module is loaded, a provider-backed
// summarizer. Must be called after the foundation modules are loaded.
func wireConversation(
	app *core.App,
	appCtx *core.AppContext,
	cfg config.ConversationConfig,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) (*conversation.Store, error) {
	svc, ok := appCtx.Service(memory.ServiceName)
	if !ok {
		return nil, fmt.Errorf("app: no memory backend registered (configure a memory.* module)")
	}
	backend, ok := svc.(memory.Backend)
	if !ok {
		return nil, fmt.Errorf("app: service %s is %T, not a memory.Backend", memory.ServiceName, svc)
	}

	var summarizer ctxengine.Summarizer
	if svc, ok := appCtx.Service(provider.ServiceName); ok {
		if p, ok := svc.(provider.Provider); ok {
			summarizer = ctxengine.NewProviderSummarizer(p, summaryMaxTokens)
			logger.Info("app: summarization enabled", "model", p.ModelName())
		}
	}
	if summarizer == nil {
		logger.Warn("app: no provider module configured, history will not be summarized")
	}

	store := conversation.New(backend, summarizer, conversation.Config{
		Context: ctxengine.ContextConfig{
			MaxActive:         cfg.MaxActive,
			CompressThreshold: cfg.CompressThreshold,
			SummarizeTimeout:  cfg.SummarizeTimeout,
			DeleteSummarized:  cfg.DeleteSummarized,
		},
		AsyncCompaction: cfg.AsyncCompaction,
		Logger:          logger,
		Metrics:         metrics,
	})

	appCtx.RegisterService(conversation.ServiceName, store)
	app.AppendModule("conversation", &conversationModule{store: store})
	return store, nil
}

// wireScheduler registers the periodic retention sweep and, for backends
// that support it, the WAL checkpoint, then appends the scheduler to the
// lifecycle. It is a no-op when every job is disabled.
func wireScheduler(
	app *core.App,
	appCtx *core.AppContext,
	cfg config.ConversationConfig,
	store *conversation.Store,
	logger *slog.Logger,
) error {
	scheduler := cron.NewScheduler(logger)

	if cfg.SweepSchedule != config.SweepDisabled {
		if err := scheduler.RegisterJob(&cron.RetentionSweepJob{
			Store:        store,
			Logger:       logger,
			ScheduleExpr: cfg.SweepSchedule,
		}); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	if svc, ok := appCtx.Service(memory.ServiceName); ok {
		if cp, ok := svc.(cron.Checkpointer); ok {
			if err := scheduler.RegisterJob(&cron.CheckpointJob{Backend: cp, Logger: logger}); err != nil {
				return fmt.Errorf("app: %w", err)
			}
		}
	}

	if len(scheduler.Jobs()) == 0 {
		return nil
	}
	app.AppendModule(cron.ModuleID, scheduler)
	return nil
}

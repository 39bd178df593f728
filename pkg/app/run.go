// Package app wires configuration, modules and the conversation store into a
// runnable chatmem instance. Both the long-running server and the one-shot
// CLI commands go through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/chatmem/internal/config"
	"github.com/flemzord/chatmem/internal/conversation"
	"github.com/flemzord/chatmem/internal/core"
	"github.com/flemzord/chatmem/internal/security"
	"github.com/flemzord/chatmem/internal/telemetry"
)

// RunParams configures the application.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Runtime is a provisioned application: modules are loaded and the
// conversation store is registered, but nothing is started yet.
type Runtime struct {
	App     *core.App
	AppCtx  *core.AppContext
	Config  *config.Config
	Store   *conversation.Store
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	shutdownTracing func(context.Context) error
}

// Open loads configuration and provisions the storage and provider modules
// plus the conversation store. Leaf modules such as the HTTP gateway are
// skipped. Callers must Close the runtime.
func Open(ctx context.Context, params RunParams) (*Runtime, error) {
	return bootstrap(ctx, params, false)
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received or ctx is cancelled.
func Run(ctx context.Context, params RunParams) error {
	rt, err := bootstrap(ctx, params, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Error("shutdown error", "error", err)
		}
	}()

	if err := rt.App.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		rt.Logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		rt.Logger.Info("shutdown requested")
	}
	return nil
}

// Close stops every loaded module in reverse order, started or not. The
// store closes before the storage module releases its database. Traces are
// flushed last.
func (rt *Runtime) Close() error {
	rt.App.Close()

	var errs []error
	if err := rt.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	rt.Logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func bootstrap(ctx context.Context, params RunParams, withLeaves bool) (*Runtime, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	logger := NewLogger(os.Stderr, params.LogLevel, redactor)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		Insecure:    cfg.Telemetry.Tracing.Insecure,
		ServiceName: cfg.Telemetry.Tracing.ServiceName,
		SampleRatio: cfg.Telemetry.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(security.RedactorServiceName, redactor)
	appCtx.RegisterService(telemetry.ServiceName, metrics)
	appCtx.RegisterService("config.path", cfgPath)

	application := core.NewApp(appCtx)
	foundation, leaves := splitModules(config.Resolve(cfg))

	fail := func(err error) (*Runtime, error) {
		application.Close()
		_ = shutdownTracing(context.Background())
		return nil, err
	}

	if err := application.LoadModules(foundation); err != nil {
		return fail(err)
	}

	store, err := wireConversation(application, appCtx, cfg.Conversation, metrics, logger)
	if err != nil {
		return fail(err)
	}

	rt := &Runtime{
		App:             application,
		AppCtx:          appCtx,
		Config:          cfg,
		Store:           store,
		Metrics:         metrics,
		Logger:          logger,
		shutdownTracing: shutdownTracing,
	}

	if !withLeaves {
		return rt, nil
	}

	if err := application.LoadModules(leaves); err != nil {
		_ = store.Close()
		return fail(err)
	}
	if err := wireScheduler(application, appCtx, cfg.Conversation, store, logger); err != nil {
		_ = store.Close()
		return fail(err)
	}
	return rt, nil
}

// splitModules separates storage and provider modules, which the
// conversation store is built on, from the leaf modules that consume it.
// Loading leaves after the store makes them stop before it on shutdown.
func splitModules(ids []string) (foundation, leaves []string) {
	for _, id := range ids {
		switch core.ModuleID(id).Namespace() {
		case "memory", "provider":
			foundation = append(foundation, id)
		default:
			leaves = append(leaves, id)
		}
	}
	return foundation, leaves
}

// NewLogger returns a text logger on w that redacts known secrets.
func NewLogger(w *os.File, level slog.Level, redactor *security.Redactor) *slog.Logger {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/chatmem/chatmem.yaml → ~/.config/chatmem/chatmem.yaml → ./chatmem.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "chatmem", "chatmem.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chatmem", "chatmem.yaml"))
	}

	candidates = append(candidates, "chatmem.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/chatmem if set, otherwise ~/.local/share/chatmem per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "chatmem")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "chatmem")
}

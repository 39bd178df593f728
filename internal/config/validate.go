package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/chatmem/internal/core"
	"github.com/robfig/cron/v3"
)

// SweepDisabled turns the periodic retention sweep off.
const SweepDisabled = "off"

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures a memory backend is configured,
// checks that all referenced module IDs exist in the registry, and
// validates the conversation and telemetry sections.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	hasMemory := false
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
		if core.ModuleID(id).Namespace() == "memory" {
			hasMemory = true
		}
	}
	if !hasMemory {
		errs = append(errs, errors.New("config: a memory backend module (memory.*) must be configured"))
	}

	errs = append(errs, validateConversation(cfg.Conversation)...)
	errs = append(errs, validateTracing(cfg.Telemetry.Tracing)...)

	return errors.Join(errs...)
}

func validateConversation(c ConversationConfig) []error {
	var errs []error

	if c.MaxActive < 0 {
		errs = append(errs, fmt.Errorf("config: conversation.max_active must be non-negative, got %d", c.MaxActive))
	}
	if c.CompressThreshold < 0 {
		errs = append(errs, fmt.Errorf("config: conversation.compress_threshold must be non-negative, got %d", c.CompressThreshold))
	}
	if c.SummarizeTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: conversation.summarize_timeout must be non-negative, got %s", c.SummarizeTimeout))
	}
	if c.SweepSchedule != "" && c.SweepSchedule != SweepDisabled {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("config: conversation.sweep_schedule: %w", err))
		}
	}

	return errs
}

func validateTracing(t TracingConfig) []error {
	var errs []error

	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.tracing.sample_ratio must be within [0, 1], got %g", t.SampleRatio))
	}
	if t.Endpoint != "" && strings.Contains(t.Endpoint, "://") {
		errs = append(errs, fmt.Errorf("config: telemetry.tracing.endpoint must be host:port without scheme, got %q", t.Endpoint))
	}

	return errs
}

// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for chatmem.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "memory.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Conversation tunes the retention policy and context assembly.
	Conversation ConversationConfig `yaml:"conversation"`

	// Telemetry configures tracing export. Metrics are always collected.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ConversationConfig holds the retention knobs of the conversation store.
// Zero values select the defaults of the context engine.
type ConversationConfig struct {
	// MaxActive is the number of most recent messages always kept raw.
	MaxActive int `yaml:"max_active"`

	// CompressThreshold is how many uncovered messages must pile up outside
	// the active window before a compression runs.
	CompressThreshold int `yaml:"compress_threshold"`

	// SummarizeTimeout bounds a single call to the summarizer.
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`

	// DeleteSummarized removes raw messages once a summary covers them.
	DeleteSummarized bool `yaml:"delete_summarized"`

	// AsyncCompaction runs the retention policy off the append path.
	AsyncCompaction bool `yaml:"async_compaction"`

	// SweepSchedule is a 5-field cron expression for the periodic retention
	// sweep. "off" disables it; empty selects the default.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// TelemetryConfig groups observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig configures the OTLP/HTTP span exporter. Tracing is disabled
// when Endpoint is empty.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

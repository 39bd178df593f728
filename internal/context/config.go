// Package ctxengine implements conversation context management: the
// retention policy that folds old turns into summaries, and the view
// builder that assembles the bounded context handed to a model.
package ctxengine

import "time"

// Defaults for ContextConfig.
const (
	DefaultMaxActive         = 20
	DefaultCompressThreshold = 10
	DefaultSummarizeTimeout  = 30 * time.Second
)

// ContextConfig holds the tuning knobs for the context engine.
type ContextConfig struct {
	// MaxActive is the number of most recent messages kept raw in the
	// active window.
	MaxActive int

	// CompressThreshold is the number of uncovered messages outside the
	// active window that must be exceeded before a batch is summarized.
	CompressThreshold int

	// SummarizeTimeout bounds each call to the summarizer.
	SummarizeTimeout time.Duration

	// DeleteSummarized removes raw messages once a summary covering them
	// is durably written.
	DeleteSummarized bool
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced by
// the package defaults.
func (cfg ContextConfig) WithDefaults() ContextConfig {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultMaxActive
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.SummarizeTimeout <= 0 {
		cfg.SummarizeTimeout = DefaultSummarizeTimeout
	}
	return cfg
}

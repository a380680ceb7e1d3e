package lifecycle

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxConcurrent = 1
	defaultMaxQueueDepth = 32
	defaultLoadAttempts  = 1
	defaultRetryDelay    = 500 * time.Millisecond
)

// Models resolves model ids to paths and size estimates.
type Models interface {
	Resolve(id string) string
	EstimateMB(id string) int
}

// Config holds the Manager tunables.
type Config struct {
	// BudgetMB caps the summed estimates of loaded models. 0 disables budgeting.
	BudgetMB int
	MarginMB int
	// MaxConcurrent is the number of requests one runner executes at once.
	MaxConcurrent int
	// MaxQueueDepth bounds requests waiting on one runner, in-flight included.
	MaxQueueDepth int
	// MaxWait bounds how long a request waits for admission. 0 waits until
	// the request's context is done.
	MaxWait time.Duration
	// LoadAttempts retries failed loads; 1 means no retry.
	LoadAttempts   int
	LoadRetryDelay time.Duration
	Models         Models
	Publisher      EventPublisher
	Log            zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxQueueDepth < c.MaxConcurrent {
		c.MaxQueueDepth = c.MaxConcurrent
	}
	if c.MaxWait < 0 {
		c.MaxWait = 0
	}
	if c.LoadAttempts <= 0 {
		c.LoadAttempts = defaultLoadAttempts
	}
	if c.LoadRetryDelay <= 0 {
		c.LoadRetryDelay = defaultRetryDelay
	}
	if c.Models == nil {
		c.Models = noModels{}
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}

type noModels struct{}

func (noModels) Resolve(string) string { return "" }
func (noModels) EstimateMB(string) int { return 1 }
